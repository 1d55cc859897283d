package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// DutchPrice computes the descending price of a Dutch auction at now:
//
//	startPrice - decrement * elapsed / (endTime - createdAt)
//
// with elapsed = now - createdAt, both measured in whole seconds and the
// division rounded down. The price never drops below one smallest unit.
func DutchPrice(startPrice, decrement decimal.Decimal, createdAt, endTime, now time.Time) decimal.Decimal {
	total := endTime.Unix() - createdAt.Unix()
	elapsed := now.Unix() - createdAt.Unix()
	if elapsed < 0 {
		elapsed = 0
	}
	if total <= 0 {
		return floorPrice(startPrice.Sub(decrement))
	}

	drop, _ := decrement.Mul(decimal.NewFromInt(elapsed)).QuoRem(decimal.NewFromInt(total), 0)
	return floorPrice(startPrice.Sub(drop))
}

// CurrentDutchPrice is DutchPrice evaluated for a stored auction.
func CurrentDutchPrice(a *Auction, now time.Time) decimal.Decimal {
	return DutchPrice(a.StartPrice, a.DutchPriceDecrement, a.CreatedAt, a.EndTime, now)
}

func floorPrice(p decimal.Decimal) decimal.Decimal {
	if p.LessThan(one) {
		return one
	}
	return p
}
