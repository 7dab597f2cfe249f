package telegram

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/agentrelay/internal/stream"
	"github.com/user/agentrelay/internal/types"
)

// Progress shows ev in the chat's status message, creating it on the first
// event of a request and editing it afterwards.
func (a *Adapter) Progress(_ context.Context, origin types.Origin, ev stream.Event) error {
	chatID, err := chatOf(origin)
	if err != nil {
		return err
	}
	line := formatProgress(ev)
	if line == "" {
		return nil
	}
	text := statusHeader + "\n\n" + line

	a.mu.Lock()
	msgID, ok := a.status[chatID]
	a.mu.Unlock()

	if ok {
		_, err := a.bot.Request(tgbotapi.NewEditMessageText(chatID, msgID, text))
		if err != nil && !notModified(err) {
			return err
		}
		return nil
	}

	sent, err := a.bot.Send(tgbotapi.NewMessage(chatID, text))
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.status[chatID] = sent.MessageID
	a.mu.Unlock()
	return nil
}

// Deliver replaces the status message, if any, with text.
func (a *Adapter) Deliver(_ context.Context, origin types.Origin, text string) error {
	chatID, err := chatOf(origin)
	if err != nil {
		return err
	}

	a.mu.Lock()
	msgID, ok := a.status[chatID]
	a.mu.Unlock()

	if ok {
		if parts := splitMessage(text); len(parts) == 1 {
			if _, err := a.bot.Request(tgbotapi.NewEditMessageText(chatID, msgID, text)); err == nil || notModified(err) {
				a.clearStatus(chatID, msgID)
				return nil
			}
		}
		if _, err := a.bot.Request(tgbotapi.NewDeleteMessage(chatID, msgID)); err != nil {
			a.logger.Debug("could not delete status message", "chat_id", chatID, "error", err)
		}
		a.clearStatus(chatID, msgID)
	}
	return a.send(chatID, text)
}

func (a *Adapter) clearStatus(chatID int64, msgID int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.status[chatID] == msgID {
		delete(a.status, chatID)
	}
}

func notModified(err error) bool {
	return strings.Contains(err.Error(), "message is not modified")
}
