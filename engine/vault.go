package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cloudx-io/escrowhouse/core"
)

// commit stores a sealed-bid commitment. A second commitment from the same
// bidder replaces the first; the replaced deposit stays escrowed and is
// refunded at settlement. Must be called with rec.mu held.
func (h *House) commit(rec *auctionRecord, bidder string, amount decimal.Decimal, sealedHash string, now time.Time) (*BidResult, *settlementPlan, []Event, error) {
	sealedHash = strings.ToLower(strings.TrimSpace(sealedHash))
	if sealedHash == "" {
		return nil, nil, nil, fmt.Errorf("%w: sealed bid requires a commitment hash", core.ErrInvalidParameters)
	}
	if !amount.IsPositive() {
		return nil, nil, nil, fmt.Errorf("%w: sealed bid deposit must be positive", core.ErrBidTooLow)
	}

	bid := rec.recordBid(bidder, amount, now)
	if prev, ok := rec.commitments[bidder]; ok {
		h.logger.Info("Replacing sealed commitment",
			zap.Uint64("auction_id", rec.auction.ID),
			zap.String("bidder", bidder),
			zap.Stringer("previous_deposit", prev.DepositedAmount))
	}
	rec.commitments[bidder] = &core.Commitment{
		Bidder:          bidder,
		SealedHash:      sealedHash,
		DepositedAmount: amount,
		Seq:             bid.Seq,
	}
	return &BidResult{Bid: bid, EndTime: rec.auction.EndTime}, nil, []Event{bidPlacedEvent(bid, now)}, nil
}

// Reveal discloses the amount and secret behind a sealed-bid commitment.
// It is accepted only between the reveal time and the end time, and only if
// the pair reproduces the stored hash and equals the deposited value.
// Revealing an already revealed commitment again is a no-op.
func (h *House) Reveal(ctx context.Context, auctionID uint64, bidder string, amount decimal.Decimal, secret string) (core.Commitment, error) {
	rec, err := h.record(auctionID)
	if err != nil {
		return core.Commitment{}, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	now := h.now()
	c, err := h.checkReveal(rec, bidder, amount, secret, now)
	if err != nil {
		h.logger.Warn("Rejected reveal",
			zap.Uint64("auction_id", auctionID),
			zap.String("bidder", bidder),
			zap.Error(err))
		return core.Commitment{}, err
	}
	if c.Revealed {
		return *c, nil
	}

	c.Revealed = true
	c.RevealedAt = now
	h.logger.Info("Sealed bid revealed",
		zap.Uint64("auction_id", auctionID),
		zap.String("bidder", bidder),
		zap.Stringer("amount", amount))

	ev := newEvent(EventBidRevealed, auctionID, now)
	ev.Bidder = bidder
	revealed := amount
	ev.Amount = &revealed
	if err := h.publish(ctx, ev); err != nil {
		return *c, interactionError([]error{err})
	}
	return *c, nil
}

func (h *House) checkReveal(rec *auctionRecord, bidder string, amount decimal.Decimal, secret string, now time.Time) (*core.Commitment, error) {
	a := &rec.auction
	if a.Type != core.SealedBid {
		return nil, fmt.Errorf("%w: auction %d is %s, not sealed-bid", core.ErrInvalidParameters, a.ID, a.Type)
	}
	if !a.Active {
		return nil, fmt.Errorf("%w: auction %d", core.ErrAuctionNotActive, a.ID)
	}
	if now.Before(a.SealedBidRevealTime) {
		return nil, fmt.Errorf("%w: reveal opens at %s", core.ErrTooEarly, a.SealedBidRevealTime.UTC().Format(time.RFC3339))
	}
	if !now.Before(a.EndTime) {
		return nil, fmt.Errorf("%w: reveal closed at %s", core.ErrAuctionEndedByTime, a.EndTime.UTC().Format(time.RFC3339))
	}

	c, ok := rec.commitments[bidder]
	if !ok {
		return nil, fmt.Errorf("%w: auction %d bidder %s", core.ErrNoCommitment, a.ID, bidder)
	}
	if !core.VerifyCommitment(c.SealedHash, amount, secret) {
		return nil, fmt.Errorf("%w: reveal does not reproduce the commitment", core.ErrHashMismatch)
	}
	if !amount.Equal(c.DepositedAmount) {
		return nil, fmt.Errorf("%w: revealed %s, deposited %s", core.ErrAmountMismatch, amount, c.DepositedAmount)
	}
	return c, nil
}
