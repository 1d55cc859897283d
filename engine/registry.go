package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cloudx-io/escrowhouse/core"
)

// auctionRecord is the arena slot of one auction. mu serializes every
// operation on the auction.
type auctionRecord struct {
	mu      sync.Mutex
	auction core.Auction

	seq          uint64
	escrow       decimal.Decimal
	deposits     map[string]decimal.Decimal
	depositOrder []string

	bids        []core.Bid
	donations   map[string]core.CoreBid
	commitments map[string]*core.Commitment

	// result is set exactly once, when the auction stops being active.
	result *core.WinnerRecord
	// ended is set by the first successful EndAuction call.
	ended bool
}

func newAuctionRecord(a core.Auction) *auctionRecord {
	return &auctionRecord{
		auction:     a,
		escrow:      decimal.Zero,
		deposits:    make(map[string]decimal.Decimal),
		donations:   make(map[string]core.CoreBid),
		commitments: make(map[string]*core.Commitment),
	}
}

func (r *auctionRecord) nextSeq() uint64 {
	r.seq++
	return r.seq
}

// hold adds amount to the escrow of bidder.
func (r *auctionRecord) hold(bidder string, amount decimal.Decimal) {
	existing, ok := r.deposits[bidder]
	if !ok {
		r.depositOrder = append(r.depositOrder, bidder)
		existing = decimal.Zero
	}
	r.deposits[bidder] = existing.Add(amount)
	r.escrow = r.escrow.Add(amount)
}

// CreateAuction registers a new auction for seller. paidFee must equal the
// configured creation fee; it is paid to the platform account, not escrowed.
func (h *House) CreateAuction(ctx context.Context, seller string, params core.CreateParams, paidFee decimal.Decimal) (uint64, error) {
	if !paidFee.Equal(h.cfg.CreationFee) {
		h.logger.Warn("Rejected auction creation",
			zap.String("seller", seller),
			zap.Stringer("paid_fee", paidFee),
			zap.Stringer("creation_fee", h.cfg.CreationFee))
		return 0, fmt.Errorf("%w: paid %s, creation fee is %s", core.ErrFeeMismatch, paidFee, h.cfg.CreationFee)
	}
	if seller == "" {
		return 0, fmt.Errorf("%w: seller is required", core.ErrInvalidParameters)
	}

	now := h.now()
	if err := core.ValidateCreateParams(params, now); err != nil {
		h.logger.Warn("Rejected auction creation", zap.String("seller", seller), zap.Error(err))
		return 0, err
	}

	h.mu.Lock()
	if params.Reward.IsRWA && h.issuer == nil {
		h.mu.Unlock()
		return 0, fmt.Errorf("%w: rwa auction requires a reward issuer", core.ErrInvalidParameters)
	}
	id := uint64(len(h.auctions)) + 1
	auction := core.NewAuction(id, seller, params, now)
	rec := newAuctionRecord(auction)
	// Held until AuctionCreated is published so no bid event can precede it.
	rec.mu.Lock()
	h.auctions = append(h.auctions, rec)
	h.mu.Unlock()

	h.logger.Info("Auction created",
		zap.Uint64("auction_id", id),
		zap.String("seller", seller),
		zap.String("name", params.Name),
		zap.Stringer("auction_type", params.Type))

	ev := newEvent(EventAuctionCreated, id, now)
	ev.Seller = seller
	ev.Name = params.Name
	ev.AuctionType = &auction.Type
	ev.CreatedAt = now

	var errs []error
	if err := h.publish(ctx, ev); err != nil {
		errs = append(errs, err)
	}
	rec.mu.Unlock()

	if paidFee.IsPositive() {
		err := h.payer.Pay(ctx, core.Payment{
			AuctionID: id,
			To:        h.cfg.PlatformAccount,
			Amount:    paidFee,
			Reason:    core.ReasonCreationFee,
		})
		if err != nil {
			h.logger.Error("Failed to pay creation fee", zap.Uint64("auction_id", id), zap.Error(err))
			errs = append(errs, fmt.Errorf("pay creation fee: %w", err))
		}
	}
	if len(errs) > 0 {
		return id, interactionError(errs)
	}
	return id, nil
}
