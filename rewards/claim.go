package rewards

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/cloudx-io/escrowhouse/core"
)

// RewardSource resolves the reward bound to an auction.
type RewardSource interface {
	Auction(auctionID uint64) (core.Auction, error)
}

// Payer releases a reward to its holder.
type Payer interface {
	Pay(ctx context.Context, p core.Payment) error
}

// ClaimReward releases the reward bound to tokenID to caller, who must hold
// the token. A token can be claimed once. The claimed flag is set before the
// payer runs; a failed payment does not reopen the claim.
func (r *Registry) ClaimReward(ctx context.Context, caller string, tokenID uint64, source RewardSource, payer Payer) (core.Payment, error) {
	r.mu.Lock()
	t, err := r.token(tokenID)
	if err != nil {
		r.mu.Unlock()
		return core.Payment{}, err
	}
	if caller != t.Owner {
		r.mu.Unlock()
		return core.Payment{}, fmt.Errorf("%w: token %d", core.ErrNotTokenOwner, tokenID)
	}
	if t.Claimed {
		r.mu.Unlock()
		return core.Payment{}, fmt.Errorf("%w: token %d", core.ErrAlreadyClaimed, tokenID)
	}
	t.Claimed = true
	auctionID := t.AuctionID
	onClaim := r.onClaim
	r.mu.Unlock()

	r.logger.Info("Reward claimed",
		zap.Uint64("token_id", tokenID),
		zap.Uint64("auction_id", auctionID),
		zap.String("holder", caller))
	if onClaim != nil {
		onClaim(ctx, tokenID, caller)
	}

	if source == nil || payer == nil {
		return core.Payment{}, nil
	}
	a, err := source.Auction(auctionID)
	if err != nil {
		return core.Payment{}, fmt.Errorf("resolve reward of auction %d: %w", auctionID, err)
	}
	reward := a.Reward
	if reward.Token == "" || !reward.Amount.IsPositive() {
		return core.Payment{}, nil
	}

	p := core.Payment{
		AuctionID: auctionID,
		To:        caller,
		Asset:     reward.Token,
		TokenID:   reward.TokenID,
		Amount:    reward.Amount,
		Reason:    core.ReasonReward,
	}
	if err := payer.Pay(ctx, p); err != nil {
		r.logger.Error("Reward release failed",
			zap.Uint64("token_id", tokenID),
			zap.Error(err))
		return p, fmt.Errorf("%w: release reward of token %d: %w", core.ErrInteractionFailed, tokenID, err)
	}
	return p, nil
}
