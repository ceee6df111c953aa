// Package profile holds the interest profile that drives link scoring:
// interest terms, boost terms, and the follow threshold.
package profile

import (
	"fmt"
	"os"
	"sync"

	"github.com/google/renameio"
	"gopkg.in/yaml.v3"

	"github.com/tessera-kg/tessera/internal/terrors"
)

// DefaultFollowThreshold gates which scored links enter the frontier.
const DefaultFollowThreshold = 0.3

// fileFormat is the on-disk YAML shape.
type fileFormat struct {
	Interests       []string `yaml:"interests"`
	BoostTerms      []string `yaml:"boost_terms"`
	FollowThreshold *float64 `yaml:"follow_threshold"`
}

// Profile is safe for concurrent use. Mutating it never rewrites edge
// scores already stored; edges keep the score they were scored with.
type Profile struct {
	mu        sync.RWMutex
	interests []string
	boosts    []string
	threshold float64
}

// New creates a profile with the given interests and the default threshold.
func New(interests ...string) *Profile {
	return &Profile{
		interests: append([]string(nil), interests...),
		threshold: DefaultFollowThreshold,
	}
}

// Load reads a profile from a YAML file. A missing file yields an empty
// default profile, not an error.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return New(), nil
	}
	if err != nil {
		return nil, terrors.Wrap(terrors.KindConfig, fmt.Sprintf("read profile %s", path), err)
	}

	var ff fileFormat
	if err := yaml.Unmarshal(data, &ff); err != nil {
		return nil, terrors.Wrap(terrors.KindConfig, fmt.Sprintf("parse profile %s", path), err)
	}

	p := New(ff.Interests...)
	p.boosts = append([]string(nil), ff.BoostTerms...)
	if ff.FollowThreshold != nil {
		t := *ff.FollowThreshold
		if t < 0 || t > 1 {
			return nil, terrors.Config(fmt.Sprintf("profile %s: follow_threshold %v outside [0,1]", path, t))
		}
		p.threshold = t
	}
	return p, nil
}

// Save writes the profile atomically.
func (p *Profile) Save(path string) error {
	p.mu.RLock()
	ff := fileFormat{
		Interests:       append([]string(nil), p.interests...),
		BoostTerms:      append([]string(nil), p.boosts...),
		FollowThreshold: &p.threshold,
	}
	p.mu.RUnlock()

	data, err := yaml.Marshal(ff)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return terrors.Storage(fmt.Sprintf("write profile %s", path), err)
	}
	return nil
}

// Interests returns a copy of the interest terms.
func (p *Profile) Interests() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]string(nil), p.interests...)
}

// Boosts returns a copy of the boost terms.
func (p *Profile) Boosts() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]string(nil), p.boosts...)
}

// Threshold returns the follow threshold.
func (p *Profile) Threshold() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.threshold
}

// SetThreshold replaces the follow threshold, clamping to [0,1].
func (p *Profile) SetThreshold(t float64) {
	if t < 0 {
		t = 0
	}
	if t > 1 {
		t = 1
	}
	p.mu.Lock()
	p.threshold = t
	p.mu.Unlock()
}

// SetBoosts replaces the boost terms.
func (p *Profile) SetBoosts(terms []string) {
	p.mu.Lock()
	p.boosts = append([]string(nil), terms...)
	p.mu.Unlock()
}

// AddInterests appends terms not already present, preserving order.
// It returns the number actually added.
func (p *Profile) AddInterests(terms ...string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	have := make(map[string]bool, len(p.interests))
	for _, t := range p.interests {
		have[t] = true
	}
	added := 0
	for _, t := range terms {
		if t == "" || have[t] {
			continue
		}
		have[t] = true
		p.interests = append(p.interests, t)
		added++
	}
	return added
}

// replaceFrom swaps in the contents of another profile.
func (p *Profile) replaceFrom(src *Profile) {
	src.mu.RLock()
	interests := append([]string(nil), src.interests...)
	boosts := append([]string(nil), src.boosts...)
	threshold := src.threshold
	src.mu.RUnlock()

	p.mu.Lock()
	p.interests = interests
	p.boosts = boosts
	p.threshold = threshold
	p.mu.Unlock()
}
