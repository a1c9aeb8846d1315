package telegram

import (
	"errors"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"github.com/user/phaseseg/internal/types"
)

type fakeBot struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg)
	}
	return tgbotapi.Message{}, f.err
}

func TestSplitMessage(t *testing.T) {
	short := "Hello world"
	parts := splitMessage(short)
	if len(parts) != 1 {
		t.Fatalf("expected 1 part, got %d", len(parts))
	}
	if parts[0] != short {
		t.Errorf("expected %q, got %q", short, parts[0])
	}
}

func TestSplitMessageLong(t *testing.T) {
	long := strings.Repeat("a", 5000)
	parts := splitMessage(long)
	if len(parts) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(parts))
	}
	if len(parts[0]) != maxTelegramMessage {
		t.Errorf("expected first part length %d, got %d", maxTelegramMessage, len(parts[0]))
	}
}

func TestFormatRun(t *testing.T) {
	created := time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC)
	finished := created.Add(1500 * time.Millisecond)
	run := &types.RunIndex{
		RunID:      "abc",
		Job:        "nightly",
		Input:      "sqlite:/data/events.db",
		Status:     types.RunStatusComplete,
		Incidents:  12,
		Events:     340,
		Malformed:  2,
		CreatedAt:  created,
		FinishedAt: &finished,
	}
	got := FormatRun(run)
	for _, want := range []string{"Job nightly abc: complete", "Incidents: 12, events: 340", "malformed: 2", "Took 1.5s"} {
		if !strings.Contains(got, want) {
			t.Errorf("expected %q in:\n%s", want, got)
		}
	}
	if strings.Contains(got, "skipped") {
		t.Errorf("zero skipped should be omitted:\n%s", got)
	}

	failed := &types.RunIndex{RunID: "def", Input: "events.csv", Status: types.RunStatusFailed, Error: "open input: no such file"}
	got = FormatRun(failed)
	if !strings.HasPrefix(got, "Run def: failed") || !strings.Contains(got, "Error: open input") {
		t.Errorf("unexpected failure text:\n%s", got)
	}
}

func TestNotifyRun(t *testing.T) {
	bot := &fakeBot{}
	n := newNotifier(bot, 42)
	n.limiter = rate.NewLimiter(rate.Inf, 1)

	n.NotifyRun(&types.RunIndex{RunID: "abc", Input: "events.csv", Status: types.RunStatusComplete})
	if len(bot.sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(bot.sent))
	}
	if bot.sent[0].ChatID != 42 {
		t.Errorf("expected chat 42, got %d", bot.sent[0].ChatID)
	}

	bot.err = errors.New("network down")
	n.NotifyRun(&types.RunIndex{RunID: "def", Input: "events.csv", Status: types.RunStatusComplete})
	if len(bot.sent) != 2 {
		t.Errorf("send should still be attempted, got %d", len(bot.sent))
	}
}
