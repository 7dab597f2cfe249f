package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/user/agentrelay/internal/state"
)

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionShowCmd, sessionClearCmd, sessionEventsCmd)
	sessionEventsCmd.Flags().IntP("limit", "n", 20, "number of events to show")
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect the agent conversation",
}

var sessionShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		ctx := context.Background()

		sess, err := state.NewSessionStore(cfg.DataDir).Current(ctx)
		if err != nil {
			return fmt.Errorf("load session: %w", err)
		}
		if sess == nil {
			fmt.Println("No active session.")
			return nil
		}
		count, err := state.NewEventStore(cfg.DataDir).Count(ctx)
		if err != nil {
			count = 0
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "Session:\t%s\n", sess.SessionID)
		fmt.Fprintf(w, "Origin:\t%s\n", sess.Origin)
		fmt.Fprintf(w, "Last activity:\t%s\n", sess.LastActivity.Local().Format("2006-01-02 15:04:05"))
		if sess.LastRequestID != "" {
			fmt.Fprintf(w, "Last request:\t%s (%s)\n", sess.LastRequestID, sess.LastSource)
		}
		fmt.Fprintf(w, "Transcript:\t%d events\n", count)
		return w.Flush()
	},
}

var sessionClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Forget the session so the next request starts fresh",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		had, err := state.NewSessionStore(cfg.DataDir).Clear(context.Background())
		if err != nil {
			return fmt.Errorf("clear session: %w", err)
		}
		if !had {
			fmt.Println("No active session.")
			return nil
		}
		fmt.Println("Session cleared. Restart the daemon if it is running.")
		return nil
	},
}

var sessionEventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show the tail of the event transcript",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		cfg := loadConfig()
		events, err := state.NewEventStore(cfg.DataDir).Tail(context.Background(), limit)
		if err != nil {
			return fmt.Errorf("read transcript: %w", err)
		}
		if len(events) == 0 {
			fmt.Println("No events recorded.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SEQ\tTIME\tKIND\tCONTENT")
		for _, e := range events {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n",
				e.Seq,
				e.At.Local().Format("01-02 15:04:05"),
				e.Kind,
				truncate(e.Content, 80),
			)
		}
		return w.Flush()
	},
}
