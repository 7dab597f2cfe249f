package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/agentrelay/internal/types"
)

// attachment is the downloadable part of a media message.
type attachment struct {
	fileID string
	kind   string // "photo", "voice message", "audio file", "document", "video"
	name   string
}

func hasMedia(msg *tgbotapi.Message) bool {
	_, ok := mediaOf(msg)
	return ok
}

func mediaOf(msg *tgbotapi.Message) (attachment, bool) {
	stamp := time.Now().Unix()
	switch {
	case len(msg.Photo) > 0:
		// Sizes are ascending; the last is the original.
		p := msg.Photo[len(msg.Photo)-1]
		return attachment{p.FileID, "photo", fmt.Sprintf("telegram_photo_%d.jpg", stamp)}, true
	case msg.Voice != nil:
		return attachment{msg.Voice.FileID, "voice message", fmt.Sprintf("telegram_voice_%d.ogg", stamp)}, true
	case msg.Audio != nil:
		return attachment{msg.Audio.FileID, "audio file", fmt.Sprintf("telegram_audio_%d%s", stamp, extOr(msg.Audio.FileName, ".mp3"))}, true
	case msg.Document != nil:
		return attachment{msg.Document.FileID, "document", fmt.Sprintf("telegram_doc_%d_%s", stamp, safeName(msg.Document.FileName))}, true
	case msg.Video != nil:
		return attachment{msg.Video.FileID, "video", fmt.Sprintf("telegram_video_%d%s", stamp, extOr(msg.Video.FileName, ".mp4"))}, true
	}
	return attachment{}, false
}

func (a *Adapter) handleMedia(ctx context.Context, msg *tgbotapi.Message, origin types.Origin) {
	att, _ := mediaOf(msg)
	path, err := a.download(ctx, att)
	if err != nil {
		a.logger.Error("media download failed", "kind", att.kind, "error", err)
		a.reply(msg.Chat.ID, "❌ Could not save your "+att.kind+".")
		return
	}
	a.logger.Info("saved media", "kind", att.kind, "path", path)
	a.submit(msg.Chat.ID, mediaNotice(att.kind, path, msg.Caption), origin, types.SourceMediaNotice)
}

// mediaNotice is the prompt that tells the agent where a file was saved.
func mediaNotice(kind, path, caption string) string {
	if strings.TrimSpace(caption) == "" {
		caption = "no caption"
	}
	return fmt.Sprintf("The user sent you a %s: %s Caption: %s", kind, path, caption)
}

func (a *Adapter) download(ctx context.Context, att attachment) (string, error) {
	if a.deps.MediaDir == "" {
		return "", fmt.Errorf("no media directory configured")
	}
	url, err := a.bot.GetFileDirectURL(att.fileID)
	if err != nil {
		return "", fmt.Errorf("resolve file: %w", err)
	}
	if err := os.MkdirAll(a.deps.MediaDir, 0o755); err != nil {
		return "", fmt.Errorf("create media dir: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := a.deps.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download: unexpected status %s", resp.Status)
	}

	path := filepath.Join(a.deps.MediaDir, att.name)
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, f.Close()
}

func extOr(name, fallback string) string {
	if ext := filepath.Ext(name); ext != "" {
		return ext
	}
	return fallback
}

func safeName(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "." || name == "/" || name == "" {
		return "file"
	}
	return strings.ReplaceAll(name, " ", "_")
}
