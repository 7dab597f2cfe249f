package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/user/agentrelay/internal/agent"
	"github.com/user/agentrelay/internal/config"
	"github.com/user/agentrelay/internal/delivery"
	"github.com/user/agentrelay/internal/gateway"
	"github.com/user/agentrelay/internal/metrics"
	"github.com/user/agentrelay/internal/process"
	"github.com/user/agentrelay/internal/scheduler"
	"github.com/user/agentrelay/internal/state"
	"github.com/user/agentrelay/internal/store"
	"github.com/user/agentrelay/internal/stream"
	"github.com/user/agentrelay/internal/telegram"
	"github.com/user/agentrelay/internal/types"
	"github.com/user/agentrelay/internal/webhook"
)

const (
	pidFileName    = "agentrelay.pid"
	shutdownMargin = 5 * time.Second
	journalKeep    = 30 * 24 * time.Hour
)

// shutdownTimeout leaves room for the agent's SIGTERM grace to run out and
// SIGKILL to land before Shutdown gives up waiting.
func shutdownTimeout(cfg *config.Config) time.Duration {
	grace := cfg.AgentGrace()
	if grace <= 0 {
		grace = agent.DefaultGrace
	}
	return grace + shutdownMargin
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the agentrelay daemon",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func writePIDFile(dataDir string) (string, error) {
	pidPath := filepath.Join(dataDir, pidFileName)
	pid := os.Getpid()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

// httpSink answers requests that arrived over the webhook. The caller got a
// request id back already, so the answer only goes to the log and the
// transcript.
func httpSink() delivery.Sink {
	logger := slog.Default().With("component", "http")
	return delivery.Funcs{
		OnDeliver: func(_ context.Context, origin types.Origin, text string) error {
			logger.Info("webhook answer", "origin", origin, "chars", len(text))
			return nil
		},
		OnProgress: func(_ context.Context, origin types.Origin, ev stream.Event) error {
			logger.Debug("webhook progress", "origin", origin, "kind", ev.Kind)
			return nil
		},
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	level, logCloser := setupLogging(cfg)
	defer logCloser.Close()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	for _, dir := range []string{cfg.DataDir, cfg.Agent.WorkDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	pidPath, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Stores
	journal, err := store.Open(cfg.JournalPath())
	if err != nil {
		return err
	}
	defer journal.Close()
	if n, err := journal.PruneBefore(ctx, time.Now().Add(-journalKeep)); err != nil {
		slog.Warn("journal prune failed", "error", err)
	} else if n > 0 {
		slog.Info("journal pruned", "rows", n)
	}
	sessions := state.NewSessionStore(cfg.DataDir)
	events := state.NewEventStore(cfg.DataDir)
	taskStore := state.NewTaskStore(cfg.TasksPath())

	// Agent
	registry := process.NewRegistry(process.WithRetention(cfg.Retention()))
	manager := agent.NewManager(agent.Options{
		Binary:       cfg.Agent.Binary,
		WorkDir:      cfg.Agent.WorkDir,
		Model:        cfg.Agent.Model,
		MaxTurns:     cfg.Agent.MaxTurns,
		AllowedTools: cfg.Agent.AllowedTools,
		ExtraArgs:    cfg.Agent.ExtraArgs,
		Timeout:      cfg.AgentTimeout(),
		Grace:        cfg.AgentGrace(),
	}, registry)
	m := metrics.New()

	// Delivery registry
	deliveryReg := delivery.NewRegistry()
	deliveryReg.Register("http:", httpSink())

	sched := gateway.New(gateway.Config{
		IdleEnabled:   cfg.Idle.Enabled,
		IdleInterval:  cfg.IdleInterval(),
		IdlePrompt:    cfg.Idle.Prompt,
		RelayInterval: cfg.RelayInterval(),
		Retry: &gateway.RetryPolicy{
			MaxAttempts:  cfg.Delivery.MaxAttempts,
			InitialDelay: cfg.DeliveryDelay(),
			Multiplier:   2.0,
			MaxDelay:     30 * time.Second,
		},
	}, gateway.Deps{
		Agent:    manager,
		Registry: registry,
		Sessions: sessions,
		Events:   events,
		Journal:  journal,
		Sink:     deliveryReg,
		Metrics:  m,
	})

	// Telegram adapter
	if cfg.Telegram.Token != "" {
		adapter, err := telegram.New(cfg.Telegram.Token, telegram.Deps{
			Scheduler:    sched,
			Registry:     registry,
			Sessions:     sessions,
			Journal:      journal,
			LogLevel:     level,
			AllowedUsers: cfg.Telegram.AllowedUsers,
			MediaDir:     cfg.MediaDir(),
		})
		if err != nil {
			return fmt.Errorf("create telegram adapter: %w", err)
		}
		deliveryReg.Register(telegram.OriginPrefix, adapter)
		go adapter.Start(ctx)
		slog.Info("telegram adapter started", "allowed_users", len(cfg.Telegram.AllowedUsers))
	} else {
		slog.Warn("telegram adapter disabled (no token)")
	}

	// Cron tasks
	cron := scheduler.New(taskStore, sched, sched.Paused)
	if err := cron.Start(); err != nil {
		return fmt.Errorf("start cron: %w", err)
	}
	defer cron.Stop()

	// Webhook and operator API
	var httpServer *http.Server
	if cfg.HTTP.Enabled {
		httpServer = &http.Server{
			Addr: cfg.HTTP.Listen,
			Handler: webhook.NewServer(webhook.Deps{
				Scheduler: sched,
				Registry:  registry,
				Tasks:     taskStore,
				Sessions:  sessions,
				Events:    events,
				Journal:   journal,
				Metrics:   m.Handler(),
			}),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			slog.Info("http server started", "listen", cfg.HTTP.Listen)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("http server error", "error", err)
			}
		}()
	}

	runErr := make(chan error, 1)
	go func() { runErr <- sched.Run(ctx) }()

	wakeUp(ctx, cfg, sessions, sched)

	slog.Info("agentrelay started",
		"data_dir", cfg.DataDir,
		"work_dir", cfg.Agent.WorkDir,
		"agent", cfg.Agent.Binary,
		"model", cfg.Agent.Model,
		"idle", cfg.Idle.Enabled,
		"pid_file", pidPath,
	)

	stop := func() {
		cron.Stop()
		sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg))
		defer scancel()
		if err := sched.Shutdown(sctx); err != nil {
			slog.Warn("scheduler shutdown incomplete", "error", err)
		}
		if httpServer != nil {
			_ = httpServer.Shutdown(sctx)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		select {
		case err := <-runErr:
			stop()
			if err != nil {
				return fmt.Errorf("scheduler: %w", err)
			}
			return nil
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				slog.Info("received SIGHUP, restarting")
				execPath, err := os.Executable()
				if err != nil {
					slog.Error("failed to get executable path", "error", err)
					continue
				}
				stop()
				journal.Close()
				// Clean up PID file before re-exec
				os.Remove(pidPath)
				if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
					slog.Error("failed to re-exec", "error", err)
					return fmt.Errorf("re-exec: %w", err)
				}
			}
			// SIGINT or SIGTERM
			slog.Info("shutting down", "signal", sig)
			stop()
			return nil
		}
	}
}

// wakeUp tells the agent it was restarted, in the conversation it was last
// having.
func wakeUp(ctx context.Context, cfg *config.Config, sessions types.SessionStore, sched *gateway.Scheduler) {
	if cfg.WakeUpPrompt == "" {
		return
	}
	sess, err := sessions.Current(ctx)
	if err != nil {
		slog.Warn("wake-up skipped", "error", err)
		return
	}
	if sess == nil || sess.Origin == "" {
		return
	}
	if _, err := sched.Submit(cfg.WakeUpPrompt, sess.Origin, types.SourceScheduled); err != nil {
		slog.Warn("wake-up submit failed", "error", err)
		return
	}
	slog.Info("wake-up prompt queued", "origin", sess.Origin)
}
