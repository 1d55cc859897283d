// Package engine implements the auction house: the registry of auctions, the
// per-type bid ledger, the sealed-bid vault and the settlement engine.
//
// Every operation on one auction runs under that auction's lock, so callers
// observe each PlaceBid, Reveal and EndAuction as a single atomic step.
// Operations on different auctions proceed in parallel. Settlement commits
// all internal state before it calls the Payer, EventSink or RewardIssuer.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cloudx-io/escrowhouse/core"
)

// UnrevealedPolicy decides what happens to a sealed deposit that was never revealed.
type UnrevealedPolicy string

const (
	UnrevealedRefund  UnrevealedPolicy = "refund"
	UnrevealedForfeit UnrevealedPolicy = "forfeit"
)

// Config holds the process-wide settings of a house.
type Config struct {
	CreationFee       decimal.Decimal
	CommissionPercent int

	// Owner may replace the reward issuer.
	Owner string
	// PlatformAccount receives creation fees, commission and forfeits.
	PlatformAccount string

	AntiSnipeWindow        time.Duration
	AntiSnipeMaxExtensions int // 0 means unbounded

	UnrevealedDeposits UnrevealedPolicy
}

func (c Config) validate() error {
	if !core.IsValidAmount(c.CreationFee) {
		return fmt.Errorf("creation fee must be a non-negative integer, got %s", c.CreationFee)
	}
	if c.CommissionPercent < 0 || c.CommissionPercent > 100 {
		return fmt.Errorf("commission percent must be within 0-100, got %d", c.CommissionPercent)
	}
	if c.PlatformAccount == "" {
		return fmt.Errorf("platform account is required")
	}
	if c.AntiSnipeWindow < 0 || c.AntiSnipeMaxExtensions < 0 {
		return fmt.Errorf("anti-snipe settings must not be negative")
	}
	switch c.UnrevealedDeposits {
	case UnrevealedRefund, UnrevealedForfeit:
	default:
		return fmt.Errorf("unknown unrevealed deposit policy %q", c.UnrevealedDeposits)
	}
	return nil
}

// Payer moves funds out of the house. Implementations credit the payee.
type Payer interface {
	Pay(ctx context.Context, p core.Payment) error
}

// RewardIssuer mints a receipt token for a winner of an RWA auction.
type RewardIssuer interface {
	Mint(ctx context.Context, auctionID uint64, to, metadataURI string) (tokenID uint64, err error)
}

// Clock returns the current time.
type Clock func() time.Time

// Option configures a House.
type Option func(*House)

func WithClock(clock Clock) Option {
	return func(h *House) { h.now = clock }
}

func WithLogger(logger *zap.Logger) Option {
	return func(h *House) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func WithEventSink(sink EventSink) Option {
	return func(h *House) {
		if sink != nil {
			h.events = sink
		}
	}
}

func WithRewardIssuer(issuer RewardIssuer) Option {
	return func(h *House) { h.issuer = issuer }
}

// House is an auction house. The zero value is not usable; call New.
type House struct {
	cfg    Config
	payer  Payer
	events EventSink
	logger *zap.Logger
	now    Clock

	mu       sync.RWMutex
	issuer   RewardIssuer
	auctions []*auctionRecord // auction id N lives at index N-1
}

// New creates a house that pays out through payer.
func New(cfg Config, payer Payer, opts ...Option) (*House, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid house config: %w", err)
	}
	if payer == nil {
		return nil, fmt.Errorf("payer is required")
	}

	h := &House{
		cfg:    cfg,
		payer:  payer,
		events: nopSink{},
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Config returns the house configuration.
func (h *House) Config() Config {
	return h.cfg
}

// SetRewardIssuer replaces the reward issuer. Only the owner may call it.
func (h *House) SetRewardIssuer(caller string, issuer RewardIssuer) error {
	if caller == "" || caller != h.cfg.Owner {
		return fmt.Errorf("%w: only the owner may set the reward issuer", core.ErrNotAuthorized)
	}
	h.mu.Lock()
	h.issuer = issuer
	h.mu.Unlock()
	h.logger.Info("Reward issuer updated", zap.String("caller", caller))
	return nil
}

func (h *House) rewardIssuer() RewardIssuer {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.issuer
}

func (h *House) record(auctionID uint64) (*auctionRecord, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if auctionID == 0 || auctionID > uint64(len(h.auctions)) {
		return nil, fmt.Errorf("%w: %d", core.ErrAuctionNotFound, auctionID)
	}
	return h.auctions[auctionID-1], nil
}

// AuctionCount returns the number of auctions ever created.
func (h *House) AuctionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.auctions)
}

// Auction returns a snapshot of an auction.
func (h *House) Auction(auctionID uint64) (core.Auction, error) {
	rec, err := h.record(auctionID)
	if err != nil {
		return core.Auction{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.auction, nil
}

// DutchCurrentPrice returns the price a Dutch auction accepts right now.
// Other auction types report their current price.
func (h *House) DutchCurrentPrice(auctionID uint64) (decimal.Decimal, error) {
	rec, err := h.record(auctionID)
	if err != nil {
		return decimal.Zero, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.auction.Type != core.Dutch {
		return rec.auction.CurrentPrice, nil
	}
	return core.CurrentDutchPrice(&rec.auction, h.now()), nil
}

// EscrowBalance returns the funds currently held for an auction.
func (h *House) EscrowBalance(auctionID uint64) (decimal.Decimal, error) {
	rec, err := h.record(auctionID)
	if err != nil {
		return decimal.Zero, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.escrow, nil
}

// Deposits returns the unrefunded amount each bidder has escrowed.
func (h *House) Deposits(auctionID uint64) (map[string]decimal.Decimal, error) {
	rec, err := h.record(auctionID)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	out := make(map[string]decimal.Decimal, len(rec.deposits))
	for bidder, amount := range rec.deposits {
		out[bidder] = amount
	}
	return out, nil
}

// Bids returns the accepted bids of an auction in acceptance order.
func (h *House) Bids(auctionID uint64) ([]core.Bid, error) {
	rec, err := h.record(auctionID)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	out := make([]core.Bid, len(rec.bids))
	copy(out, rec.bids)
	return out, nil
}

// Commitment returns the sealed-bid commitment currently held for bidder.
func (h *House) Commitment(auctionID uint64, bidder string) (core.Commitment, error) {
	rec, err := h.record(auctionID)
	if err != nil {
		return core.Commitment{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	c, ok := rec.commitments[bidder]
	if !ok {
		return core.Commitment{}, fmt.Errorf("%w: auction %d bidder %s", core.ErrNoCommitment, auctionID, bidder)
	}
	return *c, nil
}

// Winners returns the WinnerRecord of a settled auction, or nil while unsettled.
func (h *House) Winners(auctionID uint64) (*core.WinnerRecord, error) {
	rec, err := h.record(auctionID)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.result == nil {
		return nil, nil
	}
	out := cloneRecord(rec.result)
	return &out, nil
}

func (h *House) publish(ctx context.Context, ev Event) error {
	if err := h.events.Publish(ctx, ev); err != nil {
		h.logger.Error("Failed to publish event",
			zap.String("kind", string(ev.Kind)),
			zap.Uint64("auction_id", ev.AuctionID),
			zap.Error(err))
		return fmt.Errorf("publish %s: %w", ev.Kind, err)
	}
	return nil
}
