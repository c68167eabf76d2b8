package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/culturaltourmate/tourmate/internal/i18n"
	"github.com/culturaltourmate/tourmate/pkg/session"
)

func newHistoryCmd(o *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "history [session-id]",
		Short: "Show the journaled conversation of a session",
		Long: `Show the conversation recorded by the configured journal for a
session that is still alive. Without a session ID, list the journaled
sessions (file and sqlite journals).`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			journal, err := session.NewJournal(o.cfg.Session)
			if err != nil {
				return fmt.Errorf("open journal: %w", err)
			}
			defer journal.Close()

			out := cmd.OutOrStdout()
			if len(args) == 0 {
				lister, ok := journal.(session.Lister)
				if !ok {
					return fmt.Errorf("journal %q cannot list sessions; pass a session ID", o.cfg.Session.Journal)
				}
				ids, err := lister.Sessions(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(out, ids)
				}
				if len(ids) == 0 {
					fmt.Fprintln(out, "No journaled sessions.")
				}
				for _, id := range ids {
					fmt.Fprintln(out, id)
				}
				return nil
			}

			turns, err := journal.Load(cmd.Context(), args[0])
			if err != nil {
				if errors.Is(err, session.ErrSessionNotFound) {
					return fmt.Errorf("no journal for session %s (journal: %s)", args[0], o.cfg.Session.Journal)
				}
				return err
			}

			lang, err := i18n.Parse(o.cfg.Language)
			if err != nil {
				lang = i18n.Default
			}

			if asJSON {
				return writeJSON(out, turns)
			}
			exchanges := make([]session.Exchange, 0, len(turns))
			for _, t := range turns {
				exchanges = append(exchanges, t)
			}
			renderTranscript(out, session.NewTranscript(exchanges...), lang)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print turns as JSON")
	return cmd
}
