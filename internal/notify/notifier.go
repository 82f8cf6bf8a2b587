// Package notify sends operator alerts for engine notices to Telegram and
// Discord. Only notice kinds listed in the configured event set are sent.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/SSC023/polymarket-btc-hft-bot/internal/config"
	"github.com/SSC023/polymarket-btc-hft-bot/internal/domain"
)

// Sender delivers one alert.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier fans alerts out to every sender.
type Notifier struct {
	senders []Sender
	events  map[domain.NoticeKind]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. An empty events list allows every kind.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.NoticeKind]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[domain.NoticeKind(e)] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// FromConfig builds the senders that have credentials in cfg. It returns nil
// when none do.
func FromConfig(cfg config.NotifyConfig, logger *slog.Logger) *Notifier {
	var senders []Sender
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		senders = append(senders, NewTelegramSender(cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.DiscordWebhookURL != "" {
		senders = append(senders, NewDiscordSender(cfg.DiscordWebhookURL))
	}
	if len(senders) == 0 {
		return nil
	}
	return NewNotifier(senders, cfg.Events, logger)
}

// Wants reports whether kind passes the event filter.
func (n *Notifier) Wants(kind domain.NoticeKind) bool {
	return len(n.events) == 0 || n.events[kind]
}

// Notify formats and sends n if its kind is allowed. Kinds with no alert text
// (ticks, intents) are skipped.
func (n *Notifier) Notify(ctx context.Context, notice domain.Notice) error {
	if !n.Wants(notice.Kind) {
		return nil
	}
	title, msg, ok := Format(notice)
	if !ok {
		return nil
	}
	return n.dispatch(ctx, title, msg)
}

// dispatch sends to every sender; one failure does not stop the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	return errors.Join(errs...)
}

// Format renders an alert for notice. ok is false for kinds that are never
// alerted on.
func Format(n domain.Notice) (title, message string, ok bool) {
	switch n.Kind {
	case domain.NoticeBreaker:
		title = "Daily loss breaker tripped"
		if n.Risk != nil {
			message = fmt.Sprintf("loss today %s, trading halted until %s UTC",
				n.Risk.CumulativeLossToday.StringFixed(2),
				n.Risk.TradingDay.AddDate(0, 0, 1).Format("2006-01-02"))
		}
	case domain.NoticeRollover:
		title = "Market rollover"
		var from, to string
		if n.Archive != nil {
			from = n.Archive.Window.MarketID
		}
		if n.Next != nil {
			to = n.Next.MarketID
		} else {
			to = "none"
		}
		message = fmt.Sprintf("%s -> %s", from, to)
		if n.Reason != "" {
			message += " (" + n.Reason + ")"
		}
	case domain.NoticeRejected:
		title = "Order rejected"
		if n.Intent != nil {
			message = fmt.Sprintf("%s %s @ %s x %s: %s", n.Intent.MarketID, n.Intent.Side,
				n.Intent.Price.String(), n.Intent.Size.String(), n.Reason)
		} else {
			message = n.Reason
		}
	case domain.NoticeSettlement:
		title = "Market settled"
		if n.Resolution != nil {
			winner := domain.SideNo
			if n.Resolution.YesWon {
				winner = domain.SideYes
			}
			message = fmt.Sprintf("%s resolved %s, pnl %s", n.Resolution.MarketID,
				winner, n.PnL.StringFixed(2))
		}
	case domain.NoticeDayRolled:
		title = "Trading day closed"
		message = "realized pnl " + n.PnL.StringFixed(2)
	default:
		return "", "", false
	}
	return title, message, true
}
