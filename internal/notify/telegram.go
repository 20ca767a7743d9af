package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"github.com/google/uuid"

	"github.com/engagehub/backend/internal/config"
)

type messageSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error)
}

// TelegramNotifier posts operator alerts to an admin chat. Provider and buyer
// facing events are ignored; only fraud and analysis failures are relayed.
type TelegramNotifier struct {
	sender  messageSender
	chatID  int64
	topicID int
}

func NewTelegramNotifier(b *bot.Bot, chatID int64, topicID int) *TelegramNotifier {
	return &TelegramNotifier{sender: b, chatID: chatID, topicID: topicID}
}

func (t *TelegramNotifier) Notify(ctx context.Context, ev Event) error {
	if t.chatID == 0 {
		return nil
	}
	text, ok := formatAlert(ev)
	if !ok {
		return nil
	}
	if len([]rune(text)) > config.MaxTelegramMessageLen {
		text = string([]rune(text)[:config.MaxTelegramMessageLen-20]) + "\n\n... (truncated)"
	}

	ctx, cancel := context.WithTimeout(ctx, config.NotificationTimeout)
	defer cancel()

	_, err := t.sender.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:          t.chatID,
		Text:            text,
		ParseMode:       tgmodels.ParseModeMarkdown,
		MessageThreadID: t.topicID,
	})
	if err != nil {
		return fmt.Errorf("send telegram alert: %w", err)
	}
	return nil
}

func formatAlert(ev Event) (string, bool) {
	var title string
	switch ev.Type {
	case EventAccountSuspended:
		title = "⛔ *Provider suspended*"
	case EventReuseFlagged:
		title = "⚠️ *Proof reuse flagged*"
	case EventAnalysisFailed:
		title = "❌ *Vision analysis failed*"
	default:
		return "", false
	}
	var b strings.Builder
	b.WriteString(title)
	b.WriteString("\n\n")
	if ev.ProviderID != uuid.Nil {
		fmt.Fprintf(&b, "*Provider:* `%s`\n", ev.ProviderID)
	}
	if ev.AssignmentID != uuid.Nil {
		fmt.Fprintf(&b, "*Assignment:* `%s`\n", ev.AssignmentID)
	}
	if ev.Message != "" {
		fmt.Fprintf(&b, "*Details:* %s\n", ev.Message)
	}
	fmt.Fprintf(&b, "*Time:* %s", ev.OccurredAt.UTC().Format(time.DateTime))
	return b.String(), true
}
