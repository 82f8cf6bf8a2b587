package polymarket

import (
	"encoding/json"
	"strings"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether flags are sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// flexStringList decodes Gamma's JSON-encoded list fields, which arrive either
// as a real array or as a string holding an array ("[\"1\",\"2\"]").
type flexStringList []string

func (l *flexStringList) UnmarshalJSON(data []byte) error {
	var arr []any
	if err := json.Unmarshal(data, &arr); err == nil {
		*l = toStrings(arr)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		*l = nil
		return nil
	}
	if !strings.HasPrefix(s, "[") {
		*l = flexStringList{s}
		return nil
	}
	if err := json.Unmarshal([]byte(s), &arr); err != nil {
		return err
	}
	*l = toStrings(arr)
	return nil
}

func toStrings(arr []any) flexStringList {
	out := make(flexStringList, 0, len(arr))
	for _, v := range arr {
		switch t := v.(type) {
		case string:
			out = append(out, t)
		case float64:
			b, _ := json.Marshal(t)
			out = append(out, string(b))
		}
	}
	return out
}

// --------------------------------------------------------------------------
// CLOB API DTOs
// --------------------------------------------------------------------------

// APIOrderResult is the response from placing an order via the CLOB API.
type APIOrderResult struct {
	Success     bool   `json:"success"`
	ErrorMsg    string `json:"errorMsg,omitempty"`
	OrderID     string `json:"orderID,omitempty"`
	Status      string `json:"status,omitempty"`
	ShouldRetry bool   `json:"shouldRetry,omitempty"`
}

// APIOpenOrder is an order as listed by GET /data/orders.
type APIOpenOrder struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Market       string `json:"market"`
	AssetID      string `json:"asset_id"`
	Side         string `json:"side"`
	OriginalSize string `json:"original_size"`
	SizeMatched  string `json:"size_matched"`
	Price        string `json:"price"`
}

// APICancelResult is the response of the cancel endpoints.
type APICancelResult struct {
	Canceled    []string          `json:"canceled"`
	NotCanceled map[string]string `json:"not_canceled"`
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// APIEvent represents an event as returned by the Polymarket Gamma API.
// An event groups one or more related markets.
type APIEvent struct {
	ID      string      `json:"id"`
	Title   string      `json:"title"`
	Slug    string      `json:"slug"`
	Active  flexBool    `json:"active"`
	Closed  flexBool    `json:"closed"`
	Markets []APIMarket `json:"markets"`
}

// APIMarket represents a market as returned by the Polymarket Gamma API.
type APIMarket struct {
	ID              string         `json:"id"`
	Question        string         `json:"question"`
	ConditionID     string         `json:"conditionId"`
	Slug            string         `json:"slug"`
	Active          flexBool       `json:"active"`
	Closed          flexBool       `json:"closed"`
	AcceptingOrders *flexBool      `json:"acceptingOrders"`
	Outcomes        flexStringList `json:"outcomes"`
	OutcomePrices   flexStringList `json:"outcomePrices"`
	ClobTokenIDs    flexStringList `json:"clobTokenIds"`
	StartDate       string         `json:"startDate"`
	EndDate         string         `json:"endDate"`
	EndDateISO      string         `json:"endDateIso"`
	BestBid         float64        `json:"bestBid"`
	BestAsk         float64        `json:"bestAsk"`
}

// accepting treats a missing acceptingOrders flag as true.
func (m *APIMarket) accepting() bool {
	return m.AcceptingOrders == nil || bool(*m.AcceptingOrders)
}

// --------------------------------------------------------------------------
// WebSocket DTOs
// --------------------------------------------------------------------------

// MarketSubscription is the market-channel subscribe payload.
type MarketSubscription struct {
	AssetIDs             []string `json:"assets_ids"`
	Type                 string   `json:"type"`
	CustomFeatureEnabled bool     `json:"custom_feature_enabled,omitempty"`
}

// UserAuth carries L2 credentials on the user channel.
type UserAuth struct {
	APIKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// UserSubscription is the user-channel subscribe payload. Markets are
// condition IDs.
type UserSubscription struct {
	Auth    UserAuth `json:"auth"`
	Markets []string `json:"markets,omitempty"`
	Type    string   `json:"type"`
}

// BookMessage represents a full orderbook snapshot delivered over WebSocket.
type BookMessage struct {
	EventType string         `json:"event_type"`
	AssetID   string         `json:"asset_id"`
	Market    string         `json:"market"`
	Bids      []WSPriceLevel `json:"bids"`
	Asks      []WSPriceLevel `json:"asks"`
	Timestamp string         `json:"timestamp"`
}

// WSPriceLevel is a single bid/ask level in the WebSocket orderbook data.
type WSPriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// PriceChangeMessage carries level changes with the resulting best prices.
type PriceChangeMessage struct {
	EventType    string        `json:"event_type"`
	Market       string        `json:"market"`
	PriceChanges []PriceChange `json:"price_changes"`
	Timestamp    string        `json:"timestamp"`
}

// PriceChange is one entry of a price_change event.
type PriceChange struct {
	AssetID string `json:"asset_id"`
	Price   string `json:"price"`
	Size    string `json:"size"`
	Side    string `json:"side"`
	BestBid string `json:"best_bid"`
	BestAsk string `json:"best_ask"`
}

// BestBidAskMessage is the custom-feature top-of-book event.
type BestBidAskMessage struct {
	EventType string `json:"event_type"`
	AssetID   string `json:"asset_id"`
	Market    string `json:"market"`
	BestBid   string `json:"best_bid"`
	BestAsk   string `json:"best_ask"`
	Timestamp string `json:"timestamp"`
}

// TradeMessage is a user-channel trade event.
type TradeMessage struct {
	EventType    string       `json:"event_type"`
	ID           string       `json:"id"`
	Market       string       `json:"market"`
	AssetID      string       `json:"asset_id"`
	Status       string       `json:"status"`
	TakerOrderID string       `json:"taker_order_id"`
	Side         string       `json:"side"`
	Size         string       `json:"size"`
	Price        string       `json:"price"`
	MakerOrders  []MakerOrder `json:"maker_orders"`
	Timestamp    string       `json:"timestamp"`
}

// MakerOrder is our resting side of a trade.
type MakerOrder struct {
	OrderID       string `json:"order_id"`
	AssetID       string `json:"asset_id"`
	MatchedAmount string `json:"matched_amount"`
	Price         string `json:"price"`
	FeeRateBps    string `json:"fee_rate_bps"`
}

// OrderMessage is a user-channel order lifecycle event.
type OrderMessage struct {
	EventType    string `json:"event_type"`
	ID           string `json:"id"`
	Market       string `json:"market"`
	AssetID      string `json:"asset_id"`
	Type         string `json:"type"` // PLACEMENT, UPDATE, CANCELLATION
	OriginalSize string `json:"original_size"`
	SizeMatched  string `json:"size_matched"`
	Price        string `json:"price"`
	Timestamp    string `json:"timestamp"`
}
