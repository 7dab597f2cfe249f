// Package telegram is the chat transport: it turns Telegram messages into
// requests and renders the agent's progress and answers back into the chat.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/agentrelay/internal/gateway"
	"github.com/user/agentrelay/internal/process"
	"github.com/user/agentrelay/internal/store"
	"github.com/user/agentrelay/internal/types"
)

// OriginPrefix is the origin prefix this transport owns.
const OriginPrefix = "telegram:"

// botAPI is the subset of *tgbotapi.BotAPI the adapter uses.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Scheduler is what the chat commands drive. *gateway.Scheduler implements it.
type Scheduler interface {
	Submit(prompt string, origin types.Origin, source types.Source) (*types.Request, error)
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Paused() bool
	Stats() gateway.Stats
}

// ErrorLog lists journaled failures. *store.Journal implements it.
type ErrorLog interface {
	Errors(ctx context.Context, limit int) ([]store.ErrorEntry, error)
}

// Deps are the adapter's collaborators. Journal and LogLevel are optional.
type Deps struct {
	Scheduler Scheduler
	Registry  *process.Registry
	Sessions  types.SessionStore
	Journal   ErrorLog
	LogLevel  *slog.LevelVar

	// AllowedUsers is the allow-list of Telegram user ids. Empty allows
	// nobody.
	AllowedUsers []int64
	// MediaDir receives downloaded photos, voice notes and documents.
	MediaDir   string
	HTTPClient *http.Client
}

// Adapter bridges Telegram to the scheduler.
type Adapter struct {
	bot    botAPI
	deps   Deps
	logger *slog.Logger

	mu     sync.Mutex
	status map[int64]int // chat id -> "Processing…" message id
}

// New connects to the Bot API with token.
func New(token string, deps Deps) (*Adapter, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	a := newAdapter(bot, deps)
	a.logger.Info("telegram bot authorized", "username", bot.Self.UserName)
	return a, nil
}

func newAdapter(bot botAPI, deps Deps) *Adapter {
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{Timeout: 2 * time.Minute}
	}
	return &Adapter{
		bot:    bot,
		deps:   deps,
		logger: slog.Default().With("component", "telegram"),
		status: make(map[int64]int),
	}
}

// Start long-polls for updates until ctx is done.
func (a *Adapter) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := a.bot.GetUpdatesChan(u)
	for {
		select {
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil {
				continue
			}
			a.handleMessage(ctx, update.Message)
		case <-ctx.Done():
			a.bot.StopReceivingUpdates()
			return
		}
	}
}

func (a *Adapter) allowed(userID int64) bool {
	return slices.Contains(a.deps.AllowedUsers, userID)
}

func (a *Adapter) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}
	if !a.allowed(msg.From.ID) {
		a.logger.Warn("rejected message from unlisted user", "user_id", msg.From.ID, "chat_id", msg.Chat.ID)
		a.reply(msg.Chat.ID, "⛔ You are not allowed to use this bot.")
		return
	}

	if msg.IsCommand() {
		a.handleCommand(ctx, msg)
		return
	}

	origin := buildOrigin(msg.From.ID, msg.Chat.ID)
	if hasMedia(msg) {
		a.handleMedia(ctx, msg, origin)
		return
	}
	if strings.TrimSpace(msg.Text) == "" {
		return
	}
	a.submit(msg.Chat.ID, msg.Text, origin, types.SourceUserText)
}

func (a *Adapter) submit(chatID int64, prompt string, origin types.Origin, source types.Source) {
	req, err := a.deps.Scheduler.Submit(prompt, origin, source)
	if err != nil {
		a.logger.Error("could not enqueue request", "error", err)
		a.reply(chatID, "❌ The relay is shutting down. Please try again shortly.")
		return
	}
	if depth := a.deps.Scheduler.Stats().Depth; depth > 1 {
		a.reply(chatID, fmt.Sprintf("📥 Queued (%d ahead).", depth-1))
	}
	a.logger.Debug("request submitted", "request_id", req.ID, "source", string(source))
}

func buildOrigin(userID, chatID int64) types.Origin {
	return types.NewOrigin("telegram",
		strconv.FormatInt(userID, 10),
		strconv.FormatInt(chatID, 10),
	)
}

// chatOf extracts the chat id from an origin built by buildOrigin.
func chatOf(origin types.Origin) (int64, error) {
	parts := strings.Split(string(origin), ":")
	if len(parts) != 3 || parts[0] != "telegram" {
		return 0, fmt.Errorf("not a telegram origin: %q", origin)
	}
	id, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad chat id in origin %q: %w", origin, err)
	}
	return id, nil
}

// reply sends text as plain messages, split to fit Telegram's limit.
func (a *Adapter) reply(chatID int64, text string) {
	if err := a.send(chatID, text); err != nil {
		a.logger.Warn("send message failed", "chat_id", chatID, "error", err)
	}
}

func (a *Adapter) send(chatID int64, text string) error {
	for _, part := range splitMessage(text) {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.ParseMode = tgbotapi.ModeMarkdown
		if _, err := a.bot.Send(msg); err != nil {
			// Agent output is not always valid Markdown.
			msg.ParseMode = ""
			if _, err := a.bot.Send(msg); err != nil {
				return err
			}
		}
	}
	return nil
}
