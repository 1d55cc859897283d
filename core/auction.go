package core

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ValidateCreateParams checks the per-type creation rules of an auction.
// now is the creation timestamp.
func ValidateCreateParams(p CreateParams, now time.Time) error {
	if !p.Type.Valid() {
		return fmt.Errorf("%w: unknown auction type %d", ErrInvalidParameters, int(p.Type))
	}
	if p.NumWinners < 1 {
		return fmt.Errorf("%w: num_winners must be at least 1, got %d", ErrInvalidParameters, p.NumWinners)
	}
	if !p.EndTime.After(now) {
		return fmt.Errorf("%w: end_time %s is not in the future", ErrInvalidParameters, p.EndTime.UTC().Format(time.RFC3339))
	}

	for name, amount := range map[string]decimal.Decimal{
		"start_price":           p.StartPrice,
		"min_bid_increment":     p.MinBidIncrement,
		"max_price":             p.MaxPrice,
		"dutch_price_decrement": p.DutchPriceDecrement,
		"reward_amount":         p.Reward.Amount,
	} {
		if !IsValidAmount(amount) {
			return fmt.Errorf("%w: %s must be a non-negative integer, got %s", ErrInvalidParameters, name, amount)
		}
	}

	switch p.Type {
	case Dutch:
		if p.MaxPrice.IsZero() || p.DutchPriceDecrement.IsZero() {
			return fmt.Errorf("%w: dutch auction requires max_price and dutch_price_decrement", ErrInvalidParameters)
		}
	case SealedBid:
		if p.SealedBidRevealTime.IsZero() {
			return fmt.Errorf("%w: sealed-bid auction requires sealed_bid_reveal_time", ErrInvalidParameters)
		}
		if !p.SealedBidRevealTime.Before(p.EndTime) {
			return fmt.Errorf("%w: sealed_bid_reveal_time must precede end_time", ErrInvalidParameters)
		}
	case English, TimeBased, Charity:
	}

	if p.Reward.IsRWA && p.Reward.TokenURI == "" {
		return fmt.Errorf("%w: rwa auction requires token_uri", ErrInvalidParameters)
	}
	return nil
}

// NewAuction builds the stored record of a validated auction.
func NewAuction(id uint64, seller string, p CreateParams, now time.Time) Auction {
	a := Auction{
		ID:                  id,
		Seller:              seller,
		Name:                p.Name,
		Type:                p.Type,
		StartPrice:          p.StartPrice,
		CurrentPrice:        p.StartPrice,
		MinBidIncrement:     p.MinBidIncrement,
		MaxPrice:            p.MaxPrice,
		EndTime:             p.EndTime,
		CreatedAt:           now,
		Active:              true,
		NumWinners:          p.NumWinners,
		CanCloseEarly:       p.CanCloseEarly,
		Reward:              p.Reward,
		DutchPriceDecrement: p.DutchPriceDecrement,
	}
	if p.Type == SealedBid {
		a.SealedBidRevealTime = p.SealedBidRevealTime
	}
	return a
}

// MinimumNextBid returns the smallest amount an English or Time-Based auction
// accepts next: startPrice before the first bid, currentPrice + minBidIncrement after.
func MinimumNextBid(a *Auction) decimal.Decimal {
	if a.Leader == "" {
		return a.StartPrice
	}
	return a.CurrentPrice.Add(a.MinBidIncrement)
}

// SelectWinners ranks bids, takes the top numWinners and splits each winning
// amount into commission and seller proceeds.
func SelectWinners(bids []CoreBid, numWinners, commissionPercent int) []Winner {
	ranking := RankCoreBids(bids)
	top := ranking.Top(numWinners)

	winners := make([]Winner, 0, len(top))
	for _, bid := range top {
		commission, proceeds := SplitCommission(bid.Amount, commissionPercent)
		winners = append(winners, Winner{
			Bidder:         bid.Bidder,
			Amount:         bid.Amount,
			Commission:     commission,
			SellerProceeds: proceeds,
		})
	}
	return winners
}
