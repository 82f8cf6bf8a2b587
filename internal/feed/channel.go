package feed

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/SSC023/polymarket-btc-hft-bot/internal/metrics"
)

// errResubscribe ends a connection so the subscription can be rebuilt. It is
// not a failure and does not advance the backoff.
var errResubscribe = errors.New("subscription changed")

// channel runs a subscribe-then-read websocket session that is rebuilt
// whenever the subscription changes. It is shared by the Polymarket market
// and user channel feeds.
type channel struct {
	name              string
	url               string
	reconn            *Reconnector
	maxProtocolErrors int
	changed           chan struct{}
	logger            *slog.Logger
	now               func() time.Time
}

func newChannel(name, url string, b Backoff, maxProtocolErrors int, logger *slog.Logger) *channel {
	if maxProtocolErrors <= 0 {
		maxProtocolErrors = 10
	}
	return &channel{
		name:              name,
		url:               url,
		reconn:            NewReconnector(b, time.Now()),
		maxProtocolErrors: maxProtocolErrors,
		changed:           make(chan struct{}, 1),
		logger:            logger,
		now:               time.Now,
	}
}

// notify wakes the session so it resubscribes.
func (c *channel) notify() {
	select {
	case c.changed <- struct{}{}:
	default:
	}
}

// run loops until ctx is cancelled. subscription returns the frame to send
// and false when there is nothing to subscribe to yet.
func (c *channel) run(ctx context.Context, subscription func() (any, bool), handle func([]byte) error) error {
	for {
		select {
		case <-c.changed:
		default:
		}
		frame, ok := subscription()
		if !ok {
			select {
			case <-ctx.Done():
				c.reconn.Stopped(c.now())
				return ctx.Err()
			case <-c.changed:
				continue
			}
		}

		err := c.session(ctx, frame, handle)
		if ctx.Err() != nil {
			c.reconn.Stopped(c.now())
			metrics.FeedConnected.WithLabelValues(c.name).Set(0)
			return ctx.Err()
		}
		if errors.Is(err, errResubscribe) {
			c.logger.Debug("resubscribing", slog.String("feed", c.name))
			continue
		}

		delay := c.reconn.Failed(c.now(), err)
		metrics.FeedConnected.WithLabelValues(c.name).Set(0)
		metrics.FeedReconnects.WithLabelValues(c.name).Inc()
		c.logger.Warn("feed disconnected, reconnecting",
			slog.String("feed", c.name),
			slog.String("error", errString(err)),
			slog.Int("attempt", c.reconn.State().Attempt),
			slog.Duration("delay", delay),
		)
		if err := sleepCtx(ctx, delay); err != nil {
			c.reconn.Stopped(c.now())
			return err
		}
	}
}

func (c *channel) session(ctx context.Context, frame any, handle func([]byte) error) error {
	conn, err := dialWS(ctx, c.url)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.WriteJSON(frame); err != nil {
		return err
	}
	c.reconn.Connected(c.now())
	metrics.FeedConnected.WithLabelValues(c.name).Set(1)
	c.logger.Info("feed subscribed", slog.String("feed", c.name))

	resub := make(chan struct{})
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-c.changed:
			close(resub)
			conn.Close()
		case <-done:
		}
	}()

	consecutive := 0
	for {
		msg, err := conn.Read()
		if err != nil {
			select {
			case <-resub:
				return errResubscribe
			default:
			}
			return err
		}
		if isPong(msg) {
			continue
		}
		if err := handle(msg); err != nil {
			consecutive++
			metrics.FeedTicksDropped.WithLabelValues("malformed").Inc()
			c.logger.Debug("dropping malformed message",
				slog.String("feed", c.name),
				slog.String("error", err.Error()),
				slog.Int("consecutive", consecutive),
			)
			if consecutive > c.maxProtocolErrors {
				return protocolErrorf(c.name, consecutive, err)
			}
			continue
		}
		consecutive = 0
	}
}

// isPong matches the text keepalive replies Polymarket sends.
func isPong(msg []byte) bool {
	s := string(msg)
	return s == "PONG" || s == "pong"
}
