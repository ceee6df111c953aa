package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tessera-kg/tessera/internal/chatsvc"
)

// chatOptions holds CLI flags for chat.
type chatOptions struct {
	conversation string
	model        string
	knowledge    bool
	list         bool
	history      string
	remove       string
	models       bool
}

func newChatCmd() *cobra.Command {
	var opts chatOptions

	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Talk to the chat service about your knowledge base",
		Long: `Send one message to the configured chat service, or manage stored
conversations.

Examples:
  tessera chat "what connects Ada Lovelace and Charles Babbage?"
  tessera chat --knowledge "summarize what I know about compilers"
  tessera chat --list
  tessera chat --history conv-42
  tessera chat --delete conv-42`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.conversation, "conversation", "c", "", "Continue an existing conversation")
	cmd.Flags().StringVarP(&opts.model, "model", "m", "", "Model to use")
	cmd.Flags().BoolVar(&opts.knowledge, "knowledge", false, "Answer grounded in the knowledge base")
	cmd.Flags().BoolVar(&opts.list, "list", false, "List conversations")
	cmd.Flags().StringVar(&opts.history, "history", "", "Show a conversation's history")
	cmd.Flags().StringVar(&opts.remove, "delete", "", "Delete a conversation")
	cmd.Flags().BoolVar(&opts.models, "models", false, "List available models")

	return cmd
}

func runChat(ctx context.Context, cmd *cobra.Command, message string, opts chatOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client, err := chatsvc.New(chatsvc.Options{BaseURL: cfg.Services.ChatURL})
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()
	out := cmd.OutOrStdout()

	switch {
	case opts.list:
		convs, err := client.Conversations(ctx)
		if err != nil {
			return err
		}
		if len(convs) == 0 {
			fmt.Fprintln(out, "no conversations")
			return nil
		}
		for _, c := range convs {
			fmt.Fprintf(out, "%s  %s\n", c.ID, c.Title)
		}
		return nil

	case opts.history != "":
		messages, err := client.History(ctx, opts.history)
		if err != nil {
			return err
		}
		for _, m := range messages {
			fmt.Fprintf(out, "[%s] %s\n", m.Role, m.Content)
		}
		return nil

	case opts.remove != "":
		if err := client.DeleteConversation(ctx, opts.remove); err != nil {
			return err
		}
		fmt.Fprintf(out, "deleted %s\n", opts.remove)
		return nil

	case opts.models:
		models, err := client.Models(ctx)
		if err != nil {
			return err
		}
		for _, m := range models {
			fmt.Fprintln(out, m)
		}
		return nil
	}

	if message == "" {
		return fmt.Errorf("nothing to send; pass a message or one of --list, --history, --delete, --models")
	}

	var resp *chatsvc.ChatResponse
	if opts.knowledge {
		resp, err = client.KnowledgeQuery(ctx, message)
	} else {
		resp, err = client.Chat(ctx, chatsvc.ChatRequest{
			Message:        message,
			ConversationID: opts.conversation,
			Model:          opts.model,
		})
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(out, resp.Response)
	if resp.ConversationID != "" {
		fmt.Fprintf(out, "(conversation %s)\n", resp.ConversationID)
	}
	return nil
}
