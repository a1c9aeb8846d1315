// Package telegram posts run notifications to a Telegram chat.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"github.com/user/phaseseg/internal/types"
)

const maxTelegramMessage = 4096

// sender is the part of the bot API the notifier uses.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier sends run outcomes to one chat.
type Notifier struct {
	bot     sender
	chatID  int64
	limiter *rate.Limiter
}

// New creates a notifier for chatID. It contacts Telegram to validate the
// token.
func New(token string, chatID int64) (*Notifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	return newNotifier(bot, chatID), nil
}

func newNotifier(bot sender, chatID int64) *Notifier {
	return &Notifier{
		bot:     bot,
		chatID:  chatID,
		limiter: rate.NewLimiter(rate.Every(time.Second), 1), // Telegram allows ~1 msg/s per chat
	}
}

// NotifyRun reports a finished run. Send failures are logged.
func (n *Notifier) NotifyRun(run *types.RunIndex) {
	n.send(context.Background(), FormatRun(run))
}

// FormatRun renders the notification text for a run.
func FormatRun(run *types.RunIndex) string {
	var b strings.Builder
	name := "Run"
	if run.Job != "" {
		name = fmt.Sprintf("Job %s", run.Job)
	}
	fmt.Fprintf(&b, "%s %s: %s\n", name, run.RunID, run.Status)
	fmt.Fprintf(&b, "Input: %s\n", run.Input)
	if run.Status == types.RunStatusFailed {
		fmt.Fprintf(&b, "Error: %s", run.Error)
		return b.String()
	}
	fmt.Fprintf(&b, "Incidents: %d, events: %d", run.Incidents, run.Events)
	if run.Skipped > 0 {
		fmt.Fprintf(&b, ", skipped: %d", run.Skipped)
	}
	if run.Malformed > 0 {
		fmt.Fprintf(&b, ", malformed: %d", run.Malformed)
	}
	if run.FinishedAt != nil {
		fmt.Fprintf(&b, "\nTook %s", run.FinishedAt.Sub(run.CreatedAt).Round(time.Millisecond))
	}
	return b.String()
}

func (n *Notifier) send(ctx context.Context, text string) {
	for _, part := range splitMessage(text) {
		if err := n.limiter.Wait(ctx); err != nil {
			return
		}
		msg := tgbotapi.NewMessage(n.chatID, part)
		if _, err := n.bot.Send(msg); err != nil {
			slog.Error("telegram send failed", "chat_id", n.chatID, "error", err)
		}
	}
}

func splitMessage(text string) []string {
	if len(text) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for len(text) > 0 {
		end := maxTelegramMessage
		if end > len(text) {
			end = len(text)
		}
		parts = append(parts, text[:end])
		text = text[end:]
	}
	return parts
}
