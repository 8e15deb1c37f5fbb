package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"farm-subscription-backend/internal/domain/ports/adapter"
)

var _ adapter.NotificationSink = (*TelegramNotifier)(nil)

// TelegramNotifier posts operator events to a fixed Telegram channel.
// Events sharing a DedupKey are collapsed within the dedup window, so webhook
// retries do not flood the channel.
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	log    *zerolog.Logger

	mu       sync.Mutex
	seen     map[string]time.Time
	dedupTTL time.Duration
}

func NewTelegramNotifier(token string, chatID int64, logger *zerolog.Logger) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram notifier: %w", err)
	}
	l := logger.With().Str("component", "TelegramNotifier").Logger()
	return &TelegramNotifier{
		bot:      bot,
		chatID:   chatID,
		log:      &l,
		seen:     make(map[string]time.Time),
		dedupTTL: 10 * time.Minute,
	}, nil
}

func (n *TelegramNotifier) Notify(ctx context.Context, ev adapter.Event) error {
	if ev.DedupKey != "" && n.duplicate(ev.DedupKey) {
		n.log.Debug().Str("dedup_key", ev.DedupKey).Msg("suppressed duplicate notification")
		return nil
	}

	text := fmt.Sprintf("[%s] %s\n%s", ev.Severity, ev.Title, ev.Message)
	msg := tgbotapi.NewMessage(n.chatID, text)
	if _, err := n.bot.Send(msg); err != nil {
		n.log.Warn().Err(err).Str("title", ev.Title).Msg("notification send failed")
		return err
	}
	return nil
}

func (n *TelegramNotifier) duplicate(key string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	now := time.Now()
	// Drop stale entries while we hold the lock; the map stays small.
	for k, t := range n.seen {
		if now.Sub(t) > n.dedupTTL {
			delete(n.seen, k)
		}
	}
	if _, ok := n.seen[key]; ok {
		return true
	}
	n.seen[key] = now
	return false
}
