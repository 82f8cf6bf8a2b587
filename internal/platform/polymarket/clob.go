package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/SSC023/polymarket-btc-hft-bot/internal/crypto"
	"github.com/SSC023/polymarket-btc-hft-bot/internal/domain"
)

// ClobClient is the REST client for the Polymarket CLOB API. It handles
// order placement, cancellation, and open-order queries.
type ClobClient struct {
	baseURL    string
	httpClient *http.Client
	signer     *crypto.Signer
	creds      crypto.APICreds
	funder     string
	sigType    int
}

// ClobOptions configures a ClobClient.
type ClobOptions struct {
	BaseURL string
	Signer  *crypto.Signer
	Creds   crypto.APICreds
	// Funder is the address holding funds (the Safe for signature type 2).
	// Empty means the signer address.
	Funder        string
	SignatureType int
}

// NewClobClient creates a new CLOB REST client.
func NewClobClient(opts ClobOptions) *ClobClient {
	funder := opts.Funder
	if funder == "" && opts.Signer != nil {
		funder = opts.Signer.Address().Hex()
	}
	return &ClobClient{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		signer:  opts.Signer,
		creds:   opts.Creds,
		funder:  funder,
		sigType: opts.SignatureType,
	}
}

// Creds returns the L2 credentials in use.
func (c *ClobClient) Creds() crypto.APICreds { return c.creds }

// PostOrder submits a signed order. orderType is "GTC" for resting orders;
// postOnly asks the venue to reject the order if it would take liquidity.
func (c *ClobClient) PostOrder(ctx context.Context, order crypto.OrderPayload, signature, orderType string, postOnly bool) (APIOrderResult, error) {
	side := "BUY"
	if order.Side == crypto.SideSell {
		side = "SELL"
	}
	salt, _ := strconv.ParseInt(order.Salt, 10, 64)

	body := map[string]any{
		"order": map[string]any{
			"salt":          salt,
			"maker":         order.Maker,
			"signer":        order.Signer,
			"taker":         order.Taker,
			"tokenId":       order.TokenID,
			"makerAmount":   order.MakerAmount,
			"takerAmount":   order.TakerAmount,
			"expiration":    order.Expiration,
			"nonce":         order.Nonce,
			"feeRateBps":    order.FeeRateBps,
			"side":          side,
			"signatureType": order.SignatureType,
			"signature":     signature,
		},
		"owner":     c.creds.Key,
		"orderType": orderType,
		"postOnly":  postOnly,
	}

	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodPost, "/order", body)
	if err != nil {
		return APIOrderResult{}, fmt.Errorf("polymarket/clob: post order: %w", err)
	}

	var res APIOrderResult
	if err := json.Unmarshal(respBody, &res); err != nil {
		return APIOrderResult{}, fmt.Errorf("polymarket/clob: decode order result: %w", err)
	}
	if !res.Success || res.OrderID == "" {
		return res, rejection(res.ErrorMsg)
	}
	return res, nil
}

// rejection classifies a CLOB error message.
func rejection(msg string) error {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "cross"), strings.Contains(lower, "post only"), strings.Contains(lower, "post-only"):
		return &domain.VenueRejection{Reason: msg, Err: domain.ErrWouldCross}
	case strings.Contains(lower, "balance"), strings.Contains(lower, "allowance"):
		return &domain.VenueRejection{Reason: msg, Err: domain.ErrInsufficientBalance}
	default:
		if msg == "" {
			msg = "order not accepted"
		}
		return &domain.VenueRejection{Reason: msg}
	}
}

// CancelOrder cancels a single order by its ID. An order the venue no longer
// knows about is reported as domain.ErrNotFound.
func (c *ClobClient) CancelOrder(ctx context.Context, orderID string) error {
	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodDelete, "/order", map[string]any{"orderID": orderID})
	if err != nil {
		return fmt.Errorf("polymarket/clob: cancel order %s: %w", orderID, err)
	}
	var res APICancelResult
	if err := json.Unmarshal(respBody, &res); err != nil {
		return fmt.Errorf("polymarket/clob: decode cancel response: %w", err)
	}
	if reason, ok := res.NotCanceled[orderID]; ok {
		return fmt.Errorf("polymarket/clob: cancel %s: %w: %s", orderID, domain.ErrNotFound, reason)
	}
	return nil
}

// CancelAll cancels every open order of the API key.
func (c *ClobClient) CancelAll(ctx context.Context) error {
	if _, err := c.doAuthenticatedRequest(ctx, http.MethodDelete, "/cancel-all", nil); err != nil {
		return fmt.Errorf("polymarket/clob: cancel all: %w", err)
	}
	return nil
}

// CancelMarket cancels every open order in one market (condition ID).
func (c *ClobClient) CancelMarket(ctx context.Context, conditionID string) error {
	body := map[string]any{"market": conditionID}
	if _, err := c.doAuthenticatedRequest(ctx, http.MethodDelete, "/cancel-market-orders", body); err != nil {
		return fmt.Errorf("polymarket/clob: cancel market %s: %w", conditionID, err)
	}
	return nil
}

// GetOpenOrders lists open orders, optionally for one market.
func (c *ClobClient) GetOpenOrders(ctx context.Context, conditionID string) ([]APIOpenOrder, error) {
	path := "/data/orders"
	if conditionID != "" {
		path += "?market=" + conditionID
	}
	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("polymarket/clob: get open orders: %w", err)
	}

	// The endpoint is paginated ({"data": [...]}) on newer deployments.
	var page struct {
		Data []APIOpenOrder `json:"data"`
	}
	if err := json.Unmarshal(respBody, &page); err == nil && page.Data != nil {
		return page.Data, nil
	}
	var orders []APIOpenOrder
	if err := json.Unmarshal(respBody, &orders); err != nil {
		return nil, fmt.Errorf("polymarket/clob: decode orders: %w", err)
	}
	return orders, nil
}

// DeriveAPIKey performs the L1 auth flow and stores the returned L2
// credentials on the client.
func (c *ClobClient) DeriveAPIKey(ctx context.Context) (crypto.APICreds, error) {
	if c.signer == nil {
		return crypto.APICreds{}, fmt.Errorf("polymarket/clob: derive api key: %w", domain.ErrSigningFailed)
	}
	ts := time.Now().Unix()
	sig, err := c.signer.SignAuth(ts, 0)
	if err != nil {
		return crypto.APICreds{}, fmt.Errorf("polymarket/clob: sign auth message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/derive-api-key", nil)
	if err != nil {
		return crypto.APICreds{}, fmt.Errorf("polymarket/clob: create auth request: %w", err)
	}
	req.Header.Set("POLY_ADDRESS", c.signer.Address().Hex())
	req.Header.Set("POLY_SIGNATURE", sig)
	req.Header.Set("POLY_TIMESTAMP", strconv.FormatInt(ts, 10))
	req.Header.Set("POLY_NONCE", "0")

	body, err := c.do(req)
	if err != nil {
		return crypto.APICreds{}, fmt.Errorf("polymarket/clob: derive api key: %w", err)
	}

	var resp struct {
		APIKey     string `json:"apiKey"`
		Secret     string `json:"secret"`
		Passphrase string `json:"passphrase"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return crypto.APICreds{}, fmt.Errorf("polymarket/clob: decode auth response: %w", err)
	}
	c.creds = crypto.APICreds{Key: resp.APIKey, Secret: resp.Secret, Passphrase: resp.Passphrase}
	return c.creds, nil
}

// doAuthenticatedRequest sends an L2-signed request and returns the body.
func (c *ClobClient) doAuthenticatedRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	var bodyReader io.Reader
	var bodyStr string
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(raw)
		bodyReader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.creds.Valid() && c.signer != nil {
		signPath := path
		if i := strings.IndexByte(signPath, '?'); i >= 0 {
			signPath = signPath[:i]
		}
		for k, v := range c.creds.L2Headers(c.signer.Address().Hex(), method, signPath, bodyStr) {
			req.Header.Set(k, v)
		}
	}
	return c.do(req)
}

func (c *ClobClient) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domain.TransportError{Op: req.Method + " " + req.URL.Path, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.TransportError{Op: "read " + req.URL.Path, Err: err}
	}
	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

// checkHTTPStatus maps non-2xx status codes to domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch {
	case statusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case statusCode == http.StatusUnauthorized, statusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case statusCode == http.StatusTooManyRequests:
		return &domain.TransportError{Op: "http", Err: fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)}
	case statusCode == http.StatusBadRequest:
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			bodyStr = e.Error
		}
		return rejection(bodyStr)
	case statusCode >= 500:
		return &domain.TransportError{Op: "http", Err: fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)}
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}

// isNotFound reports a cancel of an order the venue no longer holds.
func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
