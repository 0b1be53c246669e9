package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/embedchat/internal/model/chat"
	"github.com/zhouzirui/embedchat/internal/service/session"
)

func newHistoryCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "Print the stored conversation for this visitor's session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			sessionID, err := a.sessions.GetOrCreate(cmd.Context(), session.ScopeKey(a.settings))
			if err != nil {
				return err
			}

			messages, err := a.client.FetchHistory(cmd.Context(), a.settings, sessionID)
			if err != nil {
				return err
			}
			printHistory(cmd.OutOrStdout(), messages)
			return nil
		},
	}
}

func newResetCommand(opts *rootOptions) *cobra.Command {
	var newSession bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Ask the server to forget this visitor's conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			scope := session.ScopeKey(a.settings)
			sessionID, err := a.sessions.GetOrCreate(cmd.Context(), scope)
			if err != nil {
				return err
			}
			if err := a.client.ResetSession(cmd.Context(), a.settings, sessionID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "session %s reset\n", sessionID)

			if newSession {
				fresh, err := a.sessions.Regenerate(cmd.Context(), scope)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "new session %s\n", fresh)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&newSession, "new-session", false, "also replace the stored session id")
	return cmd
}

func newSessionCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "session",
		Short: "Print the session id used for this embed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			sessionID, err := a.sessions.GetOrCreate(cmd.Context(), session.ScopeKey(a.settings))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sessionID)
			return nil
		},
	}
}

func newSettingsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "settings",
		Short: "Print the resolved embed settings as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := opts.resolveSettings()
			if err != nil {
				return err
			}
			out, err := settings.Dump()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}

func printHistory(w io.Writer, messages []chat.Message) {
	if len(messages) == 0 {
		fmt.Fprintln(w, "(no messages)")
		return
	}
	for _, msg := range messages {
		printMessage(w, msg)
	}
}

func printMessage(w io.Writer, msg chat.Message) {
	stamp := ""
	if !msg.SentAt.IsZero() {
		stamp = msg.SentAt.Local().Format(time.DateTime) + " "
	}
	fmt.Fprintf(w, "%s[%s] %s\n", stamp, msg.Role, msg.Content)
}
