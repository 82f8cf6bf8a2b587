package polymarket

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/SSC023/polymarket-btc-hft-bot/internal/crypto"
	"github.com/SSC023/polymarket-btc-hft-bot/internal/domain"
)

// usdcScale converts share and collateral amounts to 6-decimal base units.
var usdcScale = decimal.New(1, 6)

// Venue adapts the CLOB client to domain.OrderVenue. Orders are signed BUY
// limit orders, GTC, with the post-only flag when requested.
type Venue struct {
	clob   *ClobClient
	signer *crypto.Signer
	funder string
	sigTyp int
	logger *slog.Logger
}

// NewVenue creates a venue over an authenticated CLOB client.
func NewVenue(clob *ClobClient, signer *crypto.Signer, logger *slog.Logger) *Venue {
	return &Venue{
		clob:   clob,
		signer: signer,
		funder: clob.funder,
		sigTyp: clob.sigType,
		logger: logger.With(slog.String("component", "polymarket_venue")),
	}
}

// BuildOrder computes the signed struct for a BUY of req.Size shares at
// req.Price. Size is rounded to 2 decimals and collateral to 5.
func BuildOrder(req domain.OrderRequest, maker, signer string, sigType int) (crypto.OrderPayload, error) {
	if req.TokenID == "" {
		return crypto.OrderPayload{}, fmt.Errorf("%w: token id required", domain.ErrInvalidOrder)
	}
	if !req.Price.IsPositive() || req.Price.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return crypto.OrderPayload{}, fmt.Errorf("%w: price %s outside (0,1)", domain.ErrInvalidOrder, req.Price)
	}
	size := req.Size.Round(2)
	if !size.IsPositive() {
		return crypto.OrderPayload{}, fmt.Errorf("%w: size %s", domain.ErrInvalidOrder, req.Size)
	}
	collateral := req.Price.Mul(size).Round(5)

	return crypto.OrderPayload{
		Salt:          strconv.FormatUint(uint64(uuid.New().ID()), 10),
		Maker:         maker,
		Signer:        signer,
		Taker:         crypto.ZeroAddress(),
		TokenID:       req.TokenID,
		MakerAmount:   collateral.Mul(usdcScale).Truncate(0).String(),
		TakerAmount:   size.Mul(usdcScale).Truncate(0).String(),
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          crypto.SideBuy,
		SignatureType: sigType,
	}, nil
}

// PlaceOrder signs and submits req.
func (v *Venue) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderAck, error) {
	payload, err := BuildOrder(req, v.funder, v.signer.Address().Hex(), v.sigTyp)
	if err != nil {
		return domain.OrderAck{}, &domain.VenueRejection{Reason: "build order", Err: err}
	}
	sig, err := v.signer.SignOrder(payload)
	if err != nil {
		return domain.OrderAck{}, fmt.Errorf("polymarket/venue: %w: %v", domain.ErrSigningFailed, err)
	}

	res, err := v.clob.PostOrder(ctx, payload, sig, "GTC", req.PostOnly)
	if err != nil {
		return domain.OrderAck{}, err
	}

	status := domain.OrderStatusOpen
	switch res.Status {
	case "matched":
		status = domain.OrderStatusFilled
	case "delayed", "unmatched":
		status = domain.OrderStatusPending
	}
	v.logger.Debug("order accepted",
		slog.String("order_id", res.OrderID),
		slog.String("status", res.Status),
	)
	return domain.OrderAck{OrderID: res.OrderID, Status: status}, nil
}

// CancelOrder cancels one order. Orders the venue no longer has are treated
// as already cancelled.
func (v *Venue) CancelOrder(ctx context.Context, orderID string) error {
	if err := v.clob.CancelOrder(ctx, orderID); err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

// CancelAll cancels every open order of the account.
func (v *Venue) CancelAll(ctx context.Context) error {
	return v.clob.CancelAll(ctx)
}

var _ domain.OrderVenue = (*Venue)(nil)
