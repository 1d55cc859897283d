package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cloudx-io/escrowhouse/core"
)

// settlementPlan is a committed settlement whose external transfers and
// reward issuance have not run yet.
type settlementPlan struct {
	rec     *auctionRecord
	auction core.Auction
	record  core.WinnerRecord
}

// EndAuction settles an auction. Only the seller may call it, once, after the
// end time unless the auction allows closing early. A Dutch auction that was
// sold at bid time is only confirmed.
//
// When the returned record is non-nil the settlement is committed; a non-nil
// error alongside it wraps core.ErrInteractionFailed and lists the transfers or
// mints that failed afterwards.
func (h *House) EndAuction(ctx context.Context, auctionID uint64, caller string) (*core.WinnerRecord, error) {
	rec, err := h.record(auctionID)
	if err != nil {
		return nil, err
	}

	rec.mu.Lock()
	now := h.now()
	plan, err := h.checkAndCommitEnd(rec, caller, now)
	if err != nil {
		rec.mu.Unlock()
		h.logger.Warn("Rejected end auction",
			zap.Uint64("auction_id", auctionID),
			zap.String("caller", caller),
			zap.Error(err))
		return nil, err
	}
	rec.ended = true

	ev := newEvent(EventAuctionEnded, auctionID, now)
	for _, w := range rec.result.Winners {
		ev.Winners = append(ev.Winners, w.Bidder)
		ev.Amounts = append(ev.Amounts, w.Amount)
	}

	var errs []error
	if err := h.publish(ctx, ev); err != nil {
		errs = append(errs, err)
	}
	rec.mu.Unlock()

	h.logger.Info("Auction ended",
		zap.Uint64("auction_id", auctionID),
		zap.Strings("winners", ev.Winners),
		zap.Bool("confirmed_only", plan == nil))

	var out *core.WinnerRecord
	if plan != nil {
		errs = append(errs, h.disburse(ctx, plan)...)
		out = plan.snapshot()
	} else {
		rec.mu.Lock()
		c := cloneRecord(rec.result)
		rec.mu.Unlock()
		out = &c
	}

	if len(errs) > 0 {
		return out, interactionError(errs)
	}
	return out, nil
}

// checkAndCommitEnd validates an EndAuction call and, for auctions that are
// still active, commits the settlement. It returns a nil plan for Dutch
// auctions already settled at bid time. Must be called with rec.mu held.
func (h *House) checkAndCommitEnd(rec *auctionRecord, caller string, now time.Time) (*settlementPlan, error) {
	a := &rec.auction
	if caller == "" || caller != a.Seller {
		return nil, fmt.Errorf("%w: only the seller may end auction %d", core.ErrNotAuthorized, a.ID)
	}
	if rec.ended {
		return nil, fmt.Errorf("%w: auction %d", core.ErrAlreadyEnded, a.ID)
	}
	if !a.Active && rec.result == nil {
		return nil, fmt.Errorf("%w: auction %d", core.ErrAlreadyEnded, a.ID)
	}
	// A sold Dutch auction is confirmed on the same schedule as any other.
	if now.Before(a.EndTime) && !a.CanCloseEarly {
		return nil, fmt.Errorf("%w: auction %d ends at %s", core.ErrTooEarly, a.ID, a.EndTime.UTC().Format(time.RFC3339))
	}
	if !a.Active {
		return nil, nil
	}
	return h.commitSettlement(rec, h.eligibleBids(rec), now), nil
}

// eligibleBids returns the ranking input of an auction according to its type.
func (h *House) eligibleBids(rec *auctionRecord) []core.CoreBid {
	switch rec.auction.Type {
	case core.English, core.TimeBased:
		bids := make([]core.CoreBid, 0, len(rec.bids))
		for _, b := range rec.bids {
			bids = append(bids, core.CoreBid{Bidder: b.Bidder, Amount: b.Amount, Seq: b.Seq})
		}
		return bids
	case core.SealedBid:
		bids := make([]core.CoreBid, 0, len(rec.commitments))
		for _, c := range rec.commitments {
			if c.Revealed {
				bids = append(bids, core.CoreBid{Bidder: c.Bidder, Amount: c.DepositedAmount, Seq: c.Seq})
			}
		}
		return bids
	case core.Charity:
		bids := make([]core.CoreBid, 0, len(rec.donations))
		for _, d := range rec.donations {
			bids = append(bids, d)
		}
		return bids
	case core.Dutch:
		// An unsold Dutch auction has no winner; a sold one never reaches here.
		return nil
	}
	return nil
}

// commitSettlement ranks bids, deactivates the auction and moves the whole
// escrow into a WinnerRecord. No funds leave the house here. Must be called
// with rec.mu held.
func (h *House) commitSettlement(rec *auctionRecord, bids []core.CoreBid, now time.Time) *settlementPlan {
	a := &rec.auction
	winners := core.SelectWinners(bids, a.NumWinners, h.cfg.CommissionPercent)

	won := make(map[string]decimal.Decimal, len(winners))
	for _, w := range winners {
		won[w.Bidder] = w.Amount
	}

	forfeited := make(map[string]decimal.Decimal)
	if a.Type == core.SealedBid && h.cfg.UnrevealedDeposits == UnrevealedForfeit {
		for bidder, c := range rec.commitments {
			if !c.Revealed {
				forfeited[bidder] = c.DepositedAmount
			}
		}
	}

	record := core.WinnerRecord{
		AuctionID:    a.ID,
		Seller:       a.Seller,
		Winners:      winners,
		Refunds:      []core.Transfer{},
		Forfeits:     []core.Transfer{},
		EscrowBefore: rec.escrow,
		SettledAt:    now,
	}
	for _, bidder := range rec.depositOrder {
		remaining := rec.deposits[bidder]
		if amount, ok := won[bidder]; ok {
			remaining = remaining.Sub(amount)
		}
		if amount, ok := forfeited[bidder]; ok {
			record.Forfeits = append(record.Forfeits, core.Transfer{Account: bidder, Amount: amount})
			remaining = remaining.Sub(amount)
		}
		if remaining.IsPositive() {
			record.Refunds = append(record.Refunds, core.Transfer{Account: bidder, Amount: remaining})
		}
	}

	a.Active = false
	rec.escrow = decimal.Zero
	rec.deposits = make(map[string]decimal.Decimal)
	rec.result = &record

	h.logger.Info("Settlement committed",
		zap.Uint64("auction_id", a.ID),
		zap.Int("winners", len(record.Winners)),
		zap.Int("refunds", len(record.Refunds)),
		zap.Int("forfeits", len(record.Forfeits)),
		zap.Stringer("escrow_before", record.EscrowBefore))

	return &settlementPlan{rec: rec, auction: *a, record: cloneRecord(&record)}
}

// disburse performs the external side of a committed settlement: seller
// proceeds, commission, refunds, forfeits and winner rewards.
func (h *House) disburse(ctx context.Context, plan *settlementPlan) []error {
	var errs []error
	pay := func(p core.Payment) {
		if !p.Amount.IsPositive() {
			return
		}
		p.AuctionID = plan.auction.ID
		if err := h.payer.Pay(ctx, p); err != nil {
			h.logger.Error("Payment failed",
				zap.Uint64("auction_id", p.AuctionID),
				zap.String("to", p.To),
				zap.String("reason", string(p.Reason)),
				zap.Stringer("amount", p.Amount),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("pay %s %s to %s: %w", p.Reason, p.Amount, p.To, err))
		}
	}

	for _, w := range plan.record.Winners {
		pay(core.Payment{To: plan.auction.Seller, Amount: w.SellerProceeds, Reason: core.ReasonSellerProceeds})
		pay(core.Payment{To: h.cfg.PlatformAccount, Amount: w.Commission, Reason: core.ReasonCommission})
	}
	for _, r := range plan.record.Refunds {
		pay(core.Payment{To: r.Account, Amount: r.Amount, Reason: core.ReasonRefund})
	}
	for _, f := range plan.record.Forfeits {
		pay(core.Payment{To: h.cfg.PlatformAccount, Amount: f.Amount, Reason: core.ReasonForfeit})
	}

	rewards, rewardErrs := h.issueRewards(ctx, plan)
	errs = append(errs, rewardErrs...)

	if len(rewards) > 0 {
		plan.rec.mu.Lock()
		plan.rec.result.Rewards = append(plan.rec.result.Rewards, rewards...)
		plan.rec.mu.Unlock()
	}
	return errs
}

func (h *House) issueRewards(ctx context.Context, plan *settlementPlan) ([]core.IssuedReward, []error) {
	reward := plan.auction.Reward
	if !reward.IsRWA && !reward.HasDirectTransfer() {
		return nil, nil
	}

	var (
		issued []core.IssuedReward
		errs   []error
	)
	for _, w := range plan.record.Winners {
		var ir core.IssuedReward
		if reward.IsRWA {
			issuer := h.rewardIssuer()
			if issuer == nil {
				errs = append(errs, fmt.Errorf("mint reward for %s: no reward issuer configured", w.Bidder))
				continue
			}
			tokenID, err := issuer.Mint(ctx, plan.auction.ID, w.Bidder, reward.TokenURI)
			if err != nil {
				h.logger.Error("Reward mint failed",
					zap.Uint64("auction_id", plan.auction.ID),
					zap.String("winner", w.Bidder),
					zap.Error(err))
				errs = append(errs, fmt.Errorf("mint reward for %s: %w", w.Bidder, err))
				continue
			}
			ir = core.IssuedReward{Winner: w.Bidder, TokenID: tokenID, Minted: true}
		} else {
			err := h.payer.Pay(ctx, core.Payment{
				AuctionID: plan.auction.ID,
				To:        w.Bidder,
				Asset:     reward.Token,
				TokenID:   reward.TokenID,
				Amount:    reward.Amount,
				Reason:    core.ReasonReward,
			})
			if err != nil {
				errs = append(errs, fmt.Errorf("transfer reward to %s: %w", w.Bidder, err))
				continue
			}
			ir = core.IssuedReward{Winner: w.Bidder, TokenID: reward.TokenID}
		}

		issued = append(issued, ir)
		h.logger.Info("Reward issued",
			zap.Uint64("auction_id", plan.auction.ID),
			zap.String("winner", ir.Winner),
			zap.Uint64("token_id", ir.TokenID),
			zap.Bool("minted", ir.Minted))

		ev := newEvent(EventRewardIssued, plan.auction.ID, h.now())
		ev.TokenID = ir.TokenID
		ev.Winner = ir.Winner
		if err := h.publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return issued, errs
}

func (p *settlementPlan) snapshot() *core.WinnerRecord {
	p.rec.mu.Lock()
	defer p.rec.mu.Unlock()
	c := cloneRecord(p.rec.result)
	return &c
}

func cloneRecord(r *core.WinnerRecord) core.WinnerRecord {
	c := *r
	c.Winners = append([]core.Winner(nil), r.Winners...)
	c.Refunds = append([]core.Transfer{}, r.Refunds...)
	c.Forfeits = append([]core.Transfer{}, r.Forfeits...)
	c.Rewards = append([]core.IssuedReward(nil), r.Rewards...)
	return c
}

func interactionError(errs []error) error {
	return fmt.Errorf("%w: %w", core.ErrInteractionFailed, errors.Join(errs...))
}
