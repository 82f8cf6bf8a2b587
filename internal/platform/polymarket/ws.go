package polymarket

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/SSC023/polymarket-btc-hft-bot/internal/domain"
)

// Channel paths below the ws host.
const (
	MarketChannelPath = "/ws/market"
	UserChannelPath   = "/ws/user"
)

// ErrMalformed marks a frame that could not be decoded.
var ErrMalformed = errors.New("polymarket/ws: malformed message")

// TopOfBook is the best bid and ask of one outcome token after an update.
type TopOfBook struct {
	AssetID string
	Market  string
	BestBid decimal.Decimal
	BestAsk decimal.Decimal
	At      time.Time
}

// Mid is the midpoint, or whichever side is known.
func (t TopOfBook) Mid() decimal.Decimal {
	switch {
	case t.BestBid.IsPositive() && t.BestAsk.IsPositive():
		return t.BestBid.Add(t.BestAsk).Div(decimal.NewFromInt(2))
	case t.BestBid.IsPositive():
		return t.BestBid
	default:
		return t.BestAsk
	}
}

// NewMarketSubscription builds the market-channel subscribe frame.
func NewMarketSubscription(assetIDs ...string) MarketSubscription {
	return MarketSubscription{AssetIDs: assetIDs, Type: "market", CustomFeatureEnabled: true}
}

// NewUserSubscription builds the user-channel subscribe frame.
func NewUserSubscription(auth UserAuth, conditionIDs ...string) UserSubscription {
	return UserSubscription{Auth: auth, Markets: conditionIDs, Type: "user"}
}

// splitFrames returns the JSON objects of a frame, which may be a single
// object or an array of them.
func splitFrames(raw []byte) ([]json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, ErrMalformed
	}
	if raw[0] == '[' {
		var arr []json.RawMessage
		if err := json.Unmarshal(raw, &arr); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return arr, nil
	}
	if raw[0] != '{' {
		return nil, fmt.Errorf("%w: %.32q", ErrMalformed, raw)
	}
	return []json.RawMessage{raw}, nil
}

func eventType(raw json.RawMessage) (string, error) {
	var env struct {
		EventType string `json:"event_type"`
		MsgType   string `json:"msg_type"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.EventType != "" {
		return env.EventType, nil
	}
	return env.MsgType, nil
}

// ParseMarketMessage decodes a market-channel frame into top-of-book updates.
// Events that carry no price information return no updates and no error.
func ParseMarketMessage(raw []byte, now time.Time) ([]TopOfBook, error) {
	frames, err := splitFrames(raw)
	if err != nil {
		return nil, err
	}
	var out []TopOfBook
	for _, f := range frames {
		et, err := eventType(f)
		if err != nil {
			return nil, err
		}
		switch et {
		case "book":
			var m BookMessage
			if err := json.Unmarshal(f, &m); err != nil {
				return nil, fmt.Errorf("%w: book: %v", ErrMalformed, err)
			}
			out = append(out, TopOfBook{
				AssetID: m.AssetID,
				Market:  m.Market,
				BestBid: bestLevel(m.Bids, true),
				BestAsk: bestLevel(m.Asks, false),
				At:      parseMillis(m.Timestamp, now),
			})
		case "price_change":
			var m PriceChangeMessage
			if err := json.Unmarshal(f, &m); err != nil {
				return nil, fmt.Errorf("%w: price_change: %v", ErrMalformed, err)
			}
			at := parseMillis(m.Timestamp, now)
			for _, pc := range m.PriceChanges {
				if pc.BestBid == "" && pc.BestAsk == "" {
					continue
				}
				out = append(out, TopOfBook{
					AssetID: pc.AssetID,
					Market:  m.Market,
					BestBid: parseDec(pc.BestBid),
					BestAsk: parseDec(pc.BestAsk),
					At:      at,
				})
			}
		case "best_bid_ask":
			var m BestBidAskMessage
			if err := json.Unmarshal(f, &m); err != nil {
				return nil, fmt.Errorf("%w: best_bid_ask: %v", ErrMalformed, err)
			}
			out = append(out, TopOfBook{
				AssetID: m.AssetID,
				Market:  m.Market,
				BestBid: parseDec(m.BestBid),
				BestAsk: parseDec(m.BestAsk),
				At:      parseMillis(m.Timestamp, now),
			})
		case "":
			return nil, fmt.Errorf("%w: missing event_type", ErrMalformed)
		default:
			// last_trade_price, tick_size_change and friends carry nothing we quote on.
		}
	}
	return out, nil
}

// ParseUserMessage decodes a user-channel frame. Trades produce one fill per
// maker order of ours (ids in ours); order events produce status updates.
func ParseUserMessage(raw []byte, ours func(orderID string) bool, now time.Time) ([]domain.Fill, []domain.OrderUpdate, error) {
	frames, err := splitFrames(raw)
	if err != nil {
		return nil, nil, err
	}
	var fills []domain.Fill
	var updates []domain.OrderUpdate
	for _, f := range frames {
		et, err := eventType(f)
		if err != nil {
			return nil, nil, err
		}
		switch et {
		case "trade":
			var m TradeMessage
			if err := json.Unmarshal(f, &m); err != nil {
				return nil, nil, fmt.Errorf("%w: trade: %v", ErrMalformed, err)
			}
			if strings.EqualFold(m.Status, "FAILED") {
				continue
			}
			at := parseMillis(m.Timestamp, now)
			for _, mo := range m.MakerOrders {
				if ours != nil && !ours(mo.OrderID) {
					continue
				}
				fills = append(fills, domain.Fill{
					TradeID: m.ID + ":" + mo.OrderID,
					OrderID: mo.OrderID,
					Price:   parseDec(mo.Price),
					Size:    parseDec(mo.MatchedAmount),
					At:      at,
				})
			}
			if m.TakerOrderID != "" && (ours == nil || ours(m.TakerOrderID)) {
				fills = append(fills, domain.Fill{
					TradeID: m.ID + ":" + m.TakerOrderID,
					OrderID: m.TakerOrderID,
					Price:   parseDec(m.Price),
					Size:    parseDec(m.Size),
					At:      at,
				})
			}
		case "order":
			var m OrderMessage
			if err := json.Unmarshal(f, &m); err != nil {
				return nil, nil, fmt.Errorf("%w: order: %v", ErrMalformed, err)
			}
			u := domain.OrderUpdate{OrderID: m.ID, At: parseMillis(m.Timestamp, now)}
			switch strings.ToUpper(m.Type) {
			case "PLACEMENT":
				u.Status = domain.OrderStatusOpen
			case "CANCELLATION":
				u.Status = domain.OrderStatusCancelled
			default:
				continue // UPDATE is reported through trade events
			}
			updates = append(updates, u)
		}
	}
	return fills, updates, nil
}

// bestLevel returns the highest bid or lowest ask regardless of level order.
func bestLevel(levels []WSPriceLevel, bids bool) decimal.Decimal {
	best := decimal.Zero
	for _, l := range levels {
		p := parseDec(l.Price)
		if !p.IsPositive() || !parseDec(l.Size).IsPositive() {
			continue
		}
		if best.IsZero() || (bids && p.GreaterThan(best)) || (!bids && p.LessThan(best)) {
			best = p
		}
	}
	return best
}

func parseDec(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func parseMillis(s string, fallback time.Time) time.Time {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil && ms > 0 {
		if ms < 1e12 { // seconds
			return time.Unix(ms, 0).UTC()
		}
		return time.UnixMilli(ms).UTC()
	}
	return fallback
}
