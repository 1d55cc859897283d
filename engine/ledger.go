package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cloudx-io/escrowhouse/core"
)

// BidResult describes an accepted bid.
type BidResult struct {
	Bid core.Bid
	// EndTime is the auction end time after any anti-snipe extension.
	EndTime time.Time
	// Extended is true when this bid pushed EndTime out.
	Extended bool
	// Settlement is set when the bid closed a Dutch auction.
	Settlement *core.WinnerRecord
}

// PlaceBid escrows amount from bidder against an active auction. sealedHash
// is required for sealed-bid auctions and ignored otherwise.
//
// For Dutch auctions the first accepted bid settles the auction immediately;
// the returned error is then non-nil only for post-commit interaction failures
// and BidResult.Settlement carries the committed outcome.
func (h *House) PlaceBid(ctx context.Context, auctionID uint64, bidder string, amount decimal.Decimal, sealedHash string) (*BidResult, error) {
	if bidder == "" {
		return nil, fmt.Errorf("%w: bidder is required", core.ErrInvalidParameters)
	}
	if !core.IsValidAmount(amount) {
		return nil, fmt.Errorf("%w: bid amount must be a non-negative integer, got %s", core.ErrInvalidParameters, amount)
	}

	rec, err := h.record(auctionID)
	if err != nil {
		return nil, err
	}

	rec.mu.Lock()
	now := h.now()
	result, plan, events, err := h.acceptBid(rec, bidder, amount, sealedHash, now)
	if err != nil {
		rec.mu.Unlock()
		h.logger.Warn("Rejected bid",
			zap.Uint64("auction_id", auctionID),
			zap.String("bidder", bidder),
			zap.Stringer("amount", amount),
			zap.Error(err))
		return nil, err
	}

	h.logger.Info("Bid accepted",
		zap.Uint64("auction_id", auctionID),
		zap.String("bidder", bidder),
		zap.Stringer("amount", amount),
		zap.Stringer("auction_type", rec.auction.Type))

	var errs []error
	for _, ev := range events {
		if err := h.publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	rec.mu.Unlock()

	if plan != nil {
		errs = append(errs, h.disburse(ctx, plan)...)
		result.Settlement = plan.snapshot()
	}
	if len(errs) > 0 {
		return result, interactionError(errs)
	}
	return result, nil
}

// acceptBid validates and applies a bid. It must be called with rec.mu held
// and leaves rec untouched when it returns an error.
func (h *House) acceptBid(rec *auctionRecord, bidder string, amount decimal.Decimal, sealedHash string, now time.Time) (*BidResult, *settlementPlan, []Event, error) {
	a := &rec.auction
	if !a.Active {
		return nil, nil, nil, fmt.Errorf("%w: auction %d", core.ErrAuctionNotActive, a.ID)
	}

	switch a.Type {
	case core.SealedBid:
		if !now.Before(a.SealedBidRevealTime) {
			return nil, nil, nil, fmt.Errorf("%w: commitments closed at %s", core.ErrRevealPhaseOnly, a.SealedBidRevealTime.UTC().Format(time.RFC3339))
		}
	case core.English, core.Dutch, core.TimeBased, core.Charity:
		if !now.Before(a.EndTime) {
			return nil, nil, nil, fmt.Errorf("%w: auction %d ended at %s", core.ErrAuctionEndedByTime, a.ID, a.EndTime.UTC().Format(time.RFC3339))
		}
	default:
		return nil, nil, nil, fmt.Errorf("%w: unknown auction type %d", core.ErrInvalidParameters, int(a.Type))
	}

	switch a.Type {
	case core.English, core.TimeBased:
		if amount.IsZero() || !core.MeetsMinimum(amount, core.MinimumNextBid(a)) {
			return nil, nil, nil, fmt.Errorf("%w: minimum bid is %s", core.ErrBidTooLow, core.MinimumNextBid(a))
		}
		bid := rec.recordBid(bidder, amount, now)
		a.CurrentPrice = amount
		a.Leader = bidder
		events := []Event{bidPlacedEvent(bid, now)}

		result := &BidResult{Bid: bid, EndTime: a.EndTime}
		if a.Type == core.TimeBased && h.extendEndTime(a, now) {
			result.Extended = true
			result.EndTime = a.EndTime
			ev := newEvent(EventEndTimeExtended, a.ID, now)
			ev.EndTime = a.EndTime
			events = append(events, ev)
		}
		return result, nil, events, nil

	case core.Charity:
		if !amount.IsPositive() {
			return nil, nil, nil, fmt.Errorf("%w: donation must be positive", core.ErrBidTooLow)
		}
		bid := rec.recordBid(bidder, amount, now)
		total := amount
		if prev, ok := rec.donations[bidder]; ok {
			total = prev.Amount.Add(amount)
		}
		rec.donations[bidder] = core.CoreBid{Bidder: bidder, Amount: total, Seq: bid.Seq}
		// currentPrice shows the highest cumulative total, starting from the
		// first donation.
		if a.Leader == "" || total.GreaterThan(a.CurrentPrice) {
			a.CurrentPrice = total
			a.Leader = bidder
		}
		return &BidResult{Bid: bid, EndTime: a.EndTime}, nil, []Event{bidPlacedEvent(bid, now)}, nil

	case core.Dutch:
		price := core.CurrentDutchPrice(a, now)
		if amount.LessThan(price) {
			return nil, nil, nil, fmt.Errorf("%w: current dutch price is %s", core.ErrBidTooLow, price)
		}
		bid := rec.recordBid(bidder, amount, now)
		a.CurrentPrice = price
		a.Leader = bidder

		winners := []core.CoreBid{{Bidder: bidder, Amount: price, Seq: bid.Seq}}
		plan := h.commitSettlement(rec, winners, now)
		events := []Event{bidPlacedEvent(bid, now)}
		return &BidResult{Bid: bid, EndTime: a.EndTime}, plan, events, nil

	case core.SealedBid:
		return h.commit(rec, bidder, amount, sealedHash, now)
	}
	return nil, nil, nil, fmt.Errorf("%w: unknown auction type %d", core.ErrInvalidParameters, int(a.Type))
}

// recordBid appends an accepted bid and escrows its amount.
func (r *auctionRecord) recordBid(bidder string, amount decimal.Decimal, now time.Time) core.Bid {
	bid := core.Bid{
		AuctionID: r.auction.ID,
		Bidder:    bidder,
		Amount:    amount,
		Timestamp: now,
		Seq:       r.nextSeq(),
	}
	r.bids = append(r.bids, bid)
	r.hold(bidder, amount)
	return bid
}

// extendEndTime applies the anti-snipe rule to a Time-Based auction.
func (h *House) extendEndTime(a *core.Auction, now time.Time) bool {
	window := h.cfg.AntiSnipeWindow
	if window <= 0 {
		return false
	}
	if h.cfg.AntiSnipeMaxExtensions > 0 && a.Extensions >= h.cfg.AntiSnipeMaxExtensions {
		return false
	}
	if a.EndTime.Sub(now) > window {
		return false
	}
	a.EndTime = a.EndTime.Add(window)
	a.Extensions++
	return true
}

func bidPlacedEvent(bid core.Bid, now time.Time) Event {
	ev := newEvent(EventBidPlaced, bid.AuctionID, now)
	ev.Bidder = bid.Bidder
	amount := bid.Amount
	ev.Amount = &amount
	return ev
}
