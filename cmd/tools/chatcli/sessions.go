package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/eray/backend/internal/analysis/hiddencontext"
	"github.com/zhouzirui/eray/backend/internal/model/chat"
)

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage stored chat sessions",
	}

	// chatcli sessions list
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sessions, err := services.Store.ListSessions(cmd.Context(), scope())
			if err != nil {
				return err
			}
			printSessions(cmd.OutOrStdout(), sessions)
			return nil
		},
	}

	// chatcli sessions show <id>
	showCmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Print a session transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, messages, err := services.Store.GetSession(cmd.Context(), args[0], scope())
			if err != nil {
				return err
			}
			printTranscript(cmd.OutOrStdout(), session, messages)
			return nil
		},
	}

	// chatcli sessions delete <id>
	deleteCmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a session and its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := services.Store.DeleteSession(cmd.Context(), args[0], scope()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted: %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(listCmd, showCmd, deleteCmd)
	return cmd
}

func printSessions(w io.Writer, sessions []chat.Session) {
	if len(sessions) == 0 {
		fmt.Fprintln(w, "No sessions")
		return
	}
	for _, s := range sessions {
		fmt.Fprintf(w, "%s  %s  %s\n", s.ID, s.UpdatedAt.Local().Format(time.DateTime), s.Title)
	}
}

func printTranscript(w io.Writer, session chat.Session, messages []chat.Message) {
	fmt.Fprintf(w, "# %s\n", session.Title)
	if session.ModelKey != "" {
		fmt.Fprintf(w, "model: %s\n", session.ModelKey)
	}
	for _, msg := range messages {
		display := hiddencontext.Displayify(msg.Content)
		fmt.Fprintf(w, "\n[%s]\n%s\n", msg.Role, display.Text)
		if len(display.References) > 0 {
			fmt.Fprintf(w, "  (引用: %s)\n", strings.Join(display.References, ", "))
		}
	}
}
