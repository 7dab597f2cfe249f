package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/user/agentrelay/internal/process"
	"github.com/user/agentrelay/internal/store"
	"github.com/user/agentrelay/internal/types"
	"github.com/user/agentrelay/internal/webhook"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
)

const requestTimeout = 10 * time.Second

func init() {
	rootCmd.AddCommand(psCmd, killCmd, killAllCmd, errorsCmd, historyCmd)
	for _, c := range []*cobra.Command{psCmd, killCmd, killAllCmd} {
		c.Flags().String("addr", "", "daemon API address (default: http.listen from config)")
	}
	errorsCmd.Flags().IntP("limit", "n", 20, "number of errors to show")
	historyCmd.Flags().IntP("limit", "n", 20, "number of invocations to show")
}

func apiClient(cmd *cobra.Command) *webhook.Client {
	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		cfg := loadConfig()
		addr = cfg.HTTP.Listen
	}
	return webhook.NewClient(addr)
}

func colorStatus(status string) string {
	switch status {
	case string(process.StatusRunning):
		return green(status)
	case string(process.StatusKilled):
		return yellow(status)
	case string(process.StatusFailed):
		return red(status)
	}
	return status
}

var psCmd = &cobra.Command{
	Use:   "ps",
	Short: "List agent processes known to the daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		records, err := apiClient(cmd).Processes(ctx)
		if err != nil {
			return fmt.Errorf("list processes: %w", err)
		}
		if len(records) == 0 {
			fmt.Println("No agent processes.")
			return nil
		}

		now := time.Now()
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tPID\tAGE\tCOMMAND\tSTATUS")
		for _, r := range records {
			end := now
			if !r.EndedAt.IsZero() {
				end = r.EndedAt
			}
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n",
				types.Short(r.ID),
				r.PID,
				end.Sub(r.StartedAt).Truncate(time.Second),
				truncate(r.Command, 40),
				colorStatus(string(r.Status)),
			)
		}
		return w.Flush()
	},
}

var killCmd = &cobra.Command{
	Use:   "kill <id-prefix>",
	Short: "Interrupt a running agent process",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		rec, err := apiClient(cmd).Interrupt(ctx, args[0])
		if err != nil {
			var apiErr *webhook.APIError
			if errors.As(err, &apiErr) {
				return errors.New(apiErr.Message)
			}
			return fmt.Errorf("interrupt: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Stopping %s (pid %d).\n", types.Short(rec.ID), rec.PID)
		return nil
	},
}

var killAllCmd = &cobra.Command{
	Use:   "killall",
	Short: "Interrupt every running agent process",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		n, err := apiClient(cmd).InterruptAll(ctx)
		if err != nil {
			return fmt.Errorf("interrupt all: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Stopped %d agent process(es).\n", n)
		return nil
	},
}

func openJournal() (*store.Journal, error) {
	cfg := loadConfig()
	return store.Open(cfg.JournalPath())
}

var errorsCmd = &cobra.Command{
	Use:   "errors",
	Short: "Show recent failures from the journal",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		journal, err := openJournal()
		if err != nil {
			return err
		}
		defer journal.Close()

		entries, err := journal.Errors(context.Background(), limit)
		if err != nil {
			return fmt.Errorf("read errors: %w", err)
		}
		if len(entries) == 0 {
			fmt.Println("No errors recorded.")
			return nil
		}
		for _, e := range entries {
			fmt.Printf("%s %s %s\n", gray(e.At.Local().Format("2006-01-02 15:04:05")), red("["+e.Kind+"]"), e.Message)
			if e.Detail != "" {
				fmt.Printf("    %s\n", gray(truncate(e.Detail, 200)))
			}
		}
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show journaled agent invocations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		journal, err := openJournal()
		if err != nil {
			return err
		}
		defer journal.Close()

		ctx := context.Background()
		entries, err := journal.Processes(ctx, limit)
		if err != nil {
			return fmt.Errorf("read history: %w", err)
		}
		if len(entries) == 0 {
			fmt.Println("No invocations recorded.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTARTED\tDURATION\tSOURCE\tCOST\tRESULT")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t$%.4f\t%s\n",
				types.Short(e.ProcessID),
				e.StartedAt.Local().Format("01-02 15:04:05"),
				e.EndedAt.Sub(e.StartedAt).Truncate(time.Second),
				e.Source,
				e.Cost,
				colorResult(e.TerminalStatus),
			)
		}
		if err := w.Flush(); err != nil {
			return err
		}

		totals, err := journal.ProcessTotals(ctx)
		if err != nil {
			return fmt.Errorf("read totals: %w", err)
		}
		fmt.Printf("\n%d invocations, %d failed, $%.4f total\n", totals.Count, totals.Failed, totals.Cost)
		return nil
	},
}

func colorResult(status string) string {
	switch types.TerminalStatus(status) {
	case types.StatusOK:
		return green(status)
	case types.StatusTimedOut, types.StatusInterrupted:
		return yellow(status)
	}
	return red(status)
}

// truncate shortens s to n runes on a single line.
func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
