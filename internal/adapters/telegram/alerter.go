package telegram

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"cine-agenda/internal/domain"
	"cine-agenda/internal/infra/metrics"
)

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Alerter отправляет оператору сообщения о проблемах источников.
// Одинаковые уведомления по источнику подавляются на время ttl.
type Alerter struct {
	bot    sender
	chatID int64
	cache  domain.Cache
	ttl    time.Duration
	logger zerolog.Logger
}

// NewAlerter создаёт уведомитель для чата chatID.
func NewAlerter(bot sender, chatID int64, cache domain.Cache, ttl time.Duration, logger zerolog.Logger) *Alerter {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Alerter{bot: bot, chatID: chatID, cache: cache, ttl: ttl, logger: logger}
}

// Alert отправляет уведомление, если такое же не отправлялось недавно.
func (a *Alerter) Alert(ctx context.Context, alert domain.Alert) error {
	key := fmt.Sprintf("alert:%s:%s", alert.SourceID, alert.Kind)
	return a.cache.Once(key, a.ttl, func() error {
		return a.send(ctx, FormatAlert(alert))
	})
}

func (a *Alerter) send(ctx context.Context, text string) error {
	for _, part := range SplitMessage(text) {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := tgbotapi.NewMessage(a.chatID, part)
		msg.ParseMode = tgbotapi.ModeHTML
		msg.DisableWebPagePreview = true
		start := time.Now()
		_, err := a.bot.Send(msg)
		metrics.ObserveNetworkRequest("telegram_bot", "send_message", "alerts", start, err)
		if err != nil {
			a.logger.Error().Err(err).Msg("telegram: alert send failed")
			return fmt.Errorf("telegram: send: %w", err)
		}
	}
	return nil
}

// FormatAlert готовит HTML-текст уведомления.
func FormatAlert(alert domain.Alert) string {
	var b strings.Builder
	switch alert.Kind {
	case domain.RefreshSuspiciousEmpty:
		b.WriteString("⚠️ <b>Пустое расписание</b>")
	case domain.RefreshFailed:
		b.WriteString("❌ <b>Источник недоступен</b>")
	default:
		b.WriteString("ℹ️ <b>Обновление расписания</b>")
	}
	fmt.Fprintf(&b, "\nКинотеатр: <code>%s</code>", html.EscapeString(alert.CinemaID))
	if alert.SourceID != alert.CinemaID {
		fmt.Fprintf(&b, "\nИсточник: <code>%s</code>", html.EscapeString(alert.SourceID))
	}
	if alert.Text != "" {
		b.WriteString("\n")
		b.WriteString(html.EscapeString(alert.Text))
	}
	return b.String()
}
