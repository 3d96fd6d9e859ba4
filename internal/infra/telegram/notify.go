package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"vpn-subscription-shop/internal/domain/model"
	"vpn-subscription-shop/internal/domain/ports/adapter"
)

// botAPI is the slice of tgbotapi.BotAPI the sink needs; narrowed for
// tests.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// ChannelSink pushes sale reports into an operator Telegram channel. It
// implements adapter.EventSink with a single send attempt per event;
// Telegram's client already retries transient transport failures.
type ChannelSink struct {
	bot       botAPI
	channelID int64
	log       zerolog.Logger
}

func NewChannelSink(token string, channelID int64, log zerolog.Logger) (*ChannelSink, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: init bot: %w", err)
	}
	return &ChannelSink{
		bot:       bot,
		channelID: channelID,
		log:       log.With().Str("component", "telegram").Logger(),
	}, nil
}

func (s *ChannelSink) Deliver(ctx context.Context, ev model.WebhookEvent) adapter.DeliveryResult {
	start := time.Now()
	msg := tgbotapi.NewMessage(s.channelID, formatEvent(ev))
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true

	_, err := s.bot.Send(msg)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		s.log.Warn().Str("event", string(ev.Type)).Err(err).Msg("telegram send failed")
		return adapter.DeliveryResult{
			Delivered: false,
			Attempts:  []adapter.AttemptLog{{N: 1, Err: err.Error(), Elapsed: elapsed}},
			LastErr:   err.Error(),
		}
	}
	return adapter.DeliveryResult{
		Delivered: true,
		Attempts:  []adapter.AttemptLog{{N: 1, Elapsed: elapsed}},
	}
}

func (s *ChannelSink) Probe(ctx context.Context) adapter.DeliveryResult {
	return s.Deliver(ctx, model.TestEvent())
}

func formatEvent(ev model.WebhookEvent) string {
	var b strings.Builder
	switch ev.Type {
	case model.EventNewSubscription:
		b.WriteString("🟢 <b>New subscription</b>\n")
		fmt.Fprintf(&b, "Order: <code>%s</code>\n", ev.OrderRef)
		fmt.Fprintf(&b, "Plan: %s\n", ev.PlanName)
		fmt.Fprintf(&b, "Amount: %d IRR (%s)\n", ev.AmountIRR, ev.Method)
		fmt.Fprintf(&b, "Mobile: %s\n", ev.Mobile)
		fmt.Fprintf(&b, "Panel user: <code>%s</code>\n", ev.PanelUsername)
	case model.EventNewTestUser:
		b.WriteString("🧪 <b>New test user</b>\n")
		fmt.Fprintf(&b, "Panel user: <code>%s</code>\n", ev.PanelUsername)
	default:
		b.WriteString("🔔 <b>Connectivity test</b>\n")
	}
	if ev.ExpireAt > 0 {
		fmt.Fprintf(&b, "Expires: %s\n", time.Unix(ev.ExpireAt, 0).UTC().Format("2006-01-02 15:04 MST"))
	}
	fmt.Fprintf(&b, "At: %s", ev.CreatedAt)
	return b.String()
}
