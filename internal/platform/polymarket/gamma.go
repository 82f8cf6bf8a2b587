package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/SSC023/polymarket-btc-hft-bot/internal/domain"
)

// GammaClient is the REST client for the Polymarket Gamma API, used to find
// the rolling BTC window and to read market resolutions.
type GammaClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewGammaClient creates a new Gamma API client.
//
// baseURL is the Gamma API root, e.g. "https://gamma-api.polymarket.com".
func NewGammaClient(baseURL string) *GammaClient {
	return &GammaClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// WindowQuery describes how to locate the recurring window event.
type WindowQuery struct {
	EventSlug    string
	TagSlug      string
	TitleMatch   []string
	WindowLength time.Duration
}

// FindActiveWindow returns the current window: the not-closed,
// order-accepting market with the earliest end date that has not ended yet.
// It returns (nil, nil) when no such market exists, e.g. between windows.
func (g *GammaClient) FindActiveWindow(ctx context.Context, q WindowQuery, now time.Time) (*domain.MarketWindow, error) {
	var candidates []APIEvent

	if q.EventSlug != "" {
		events, err := g.getEvents(ctx, url.Values{"slug": {q.EventSlug}})
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, events...)
	}
	if len(candidates) == 0 && q.TagSlug != "" {
		events, err := g.getEvents(ctx, url.Values{"tag_slug": {q.TagSlug}})
		if err != nil {
			return nil, err
		}
		for _, ev := range events {
			if titleMatches(ev, q.TitleMatch) {
				candidates = append(candidates, ev)
			}
		}
	}

	for _, ev := range candidates {
		if w := pickWindow(ev, q.WindowLength, now); w != nil {
			return w, nil
		}
	}
	return nil, nil
}

func titleMatches(ev APIEvent, needles []string) bool {
	title := strings.ToLower(ev.Title)
	slug := strings.ToLower(ev.Slug)
	for _, n := range needles {
		n = strings.ToLower(n)
		if strings.Contains(title, n) || strings.Contains(slug, n) {
			return true
		}
	}
	return false
}

// pickWindow converts the earliest live market of ev into a MarketWindow.
func pickWindow(ev APIEvent, length time.Duration, now time.Time) *domain.MarketWindow {
	type candidate struct {
		m   *APIMarket
		end time.Time
	}
	var live []candidate
	for i := range ev.Markets {
		m := &ev.Markets[i]
		if bool(m.Closed) || !m.accepting() || len(m.ClobTokenIDs) < 2 {
			continue
		}
		end, ok := parseGammaTime(m.EndDate, m.EndDateISO)
		if !ok || !end.After(now) {
			continue
		}
		live = append(live, candidate{m: m, end: end})
	}
	if len(live) == 0 {
		return nil
	}
	sort.Slice(live, func(i, j int) bool { return live[i].end.Before(live[j].end) })

	c := live[0]
	return &domain.MarketWindow{
		MarketID:    c.m.ID,
		ConditionID: c.m.ConditionID,
		Question:    c.m.Question,
		Slug:        c.m.Slug,
		YesTokenID:  c.m.ClobTokenIDs[0],
		NoTokenID:   c.m.ClobTokenIDs[1],
		OpenTime:    c.end.Add(-length),
		CloseTime:   c.end,
	}
}

func parseGammaTime(values ...string) (time.Time, bool) {
	for _, v := range values {
		if v == "" {
			continue
		}
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
			if t, err := time.Parse(layout, v); err == nil {
				return t.UTC(), true
			}
		}
	}
	return time.Time{}, false
}

// MarketResolution holds resolution state for a market.
type MarketResolution struct {
	Closed bool // market is closed/settled
	YesWon bool // the Yes outcome won (only meaningful when Closed)
}

// GetMarketResolution fetches a market by ID. A closed market resolved Yes
// when its first outcome price is above 0.5.
func (g *GammaClient) GetMarketResolution(ctx context.Context, marketID string) (MarketResolution, error) {
	path := fmt.Sprintf("/markets/%s", url.PathEscape(marketID))
	body, err := g.doGet(ctx, path)
	if err != nil {
		return MarketResolution{}, fmt.Errorf("polymarket/gamma: get market %s: %w", marketID, err)
	}
	var m APIMarket
	if err := json.Unmarshal(body, &m); err != nil {
		return MarketResolution{}, fmt.Errorf("polymarket/gamma: decode market: %w", err)
	}
	res := MarketResolution{Closed: bool(m.Closed)}
	if !res.Closed || len(m.OutcomePrices) < 2 {
		res.Closed = false
		return res, nil
	}
	yes, err := strconv.ParseFloat(m.OutcomePrices[0], 64)
	if err != nil {
		return MarketResolution{}, fmt.Errorf("polymarket/gamma: outcome price %q: %w", m.OutcomePrices[0], err)
	}
	res.YesWon = yes > 0.5
	return res, nil
}

func (g *GammaClient) getEvents(ctx context.Context, params url.Values) ([]APIEvent, error) {
	params.Set("active", "true")
	params.Set("closed", "false")
	params.Set("limit", "100")

	body, err := g.doGet(ctx, "/events?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("polymarket/gamma: get events: %w", err)
	}
	var events []APIEvent
	if err := json.Unmarshal(body, &events); err != nil {
		return nil, fmt.Errorf("polymarket/gamma: decode events: %w", err)
	}
	return events, nil
}

// doGet sends an unauthenticated GET request to the Gamma API.
func (g *GammaClient) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, &domain.TransportError{Op: "gamma GET " + path, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.TransportError{Op: "gamma read", Err: err}
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}
