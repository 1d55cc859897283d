// Package treasury is an in-memory ledger of account balances that receives
// the payouts of an auction house.
package treasury

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cloudx-io/escrowhouse/core"
)

// ErrRejected is returned by a Treasury whose Reject hook refused a payment.
var ErrRejected = errors.New("payment rejected")

type balanceKey struct {
	account string
	asset   string
	tokenID uint64
}

// Treasury credits payees and keeps a log of every payment it accepted.
// It implements engine.Payer.
type Treasury struct {
	logger *zap.Logger

	mu       sync.Mutex
	balances map[balanceKey]decimal.Decimal
	payments []core.Payment
	reject   func(core.Payment) bool
}

func New(logger *zap.Logger) *Treasury {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Treasury{
		logger:   logger,
		balances: make(map[balanceKey]decimal.Decimal),
	}
}

// RejectWhen installs a predicate; matching payments fail with ErrRejected
// and are not credited. Pass nil to accept everything again.
func (t *Treasury) RejectWhen(fn func(core.Payment) bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reject = fn
}

// Pay credits p.Amount of p.Asset to p.To.
func (t *Treasury) Pay(ctx context.Context, p core.Payment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.To == "" {
		return fmt.Errorf("%w: payment without payee", core.ErrInvalidParameters)
	}
	if !core.IsValidAmount(p.Amount) {
		return fmt.Errorf("%w: payment amount %s", core.ErrInvalidParameters, p.Amount)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.reject != nil && t.reject(p) {
		return fmt.Errorf("%w: %s to %s", ErrRejected, p.Reason, p.To)
	}

	key := balanceKey{account: p.To, asset: p.Asset, tokenID: p.TokenID}
	t.balances[key] = t.balances[key].Add(p.Amount)
	t.payments = append(t.payments, p)

	t.logger.Debug("Payment credited",
		zap.Uint64("auction_id", p.AuctionID),
		zap.String("to", p.To),
		zap.String("asset", p.Asset),
		zap.String("reason", string(p.Reason)),
		zap.Stringer("amount", p.Amount))
	return nil
}

// Balance returns the native-currency balance of account.
func (t *Treasury) Balance(account string) decimal.Decimal {
	return t.AssetBalance(account, "", 0)
}

// AssetBalance returns the balance of account in one asset. Fungible assets
// use tokenID 0.
func (t *Treasury) AssetBalance(account, asset string, tokenID uint64) decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balances[balanceKey{account: account, asset: asset, tokenID: tokenID}]
}

// Payments returns the accepted payments in the order they were made.
func (t *Treasury) Payments() []core.Payment {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]core.Payment, len(t.payments))
	copy(out, t.payments)
	return out
}

// PaymentsFor returns the accepted native payments of one auction.
func (t *Treasury) PaymentsFor(auctionID uint64) []core.Payment {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []core.Payment
	for _, p := range t.payments {
		if p.AuctionID == auctionID {
			out = append(out, p)
		}
	}
	return out
}

// Total sums the native payments of one auction, optionally filtered by reason.
func (t *Treasury) Total(auctionID uint64, reasons ...core.PaymentReason) decimal.Decimal {
	want := make(map[core.PaymentReason]bool, len(reasons))
	for _, r := range reasons {
		want[r] = true
	}
	total := decimal.Zero
	for _, p := range t.PaymentsFor(auctionID) {
		if p.Asset != "" {
			continue
		}
		if len(want) > 0 && !want[p.Reason] {
			continue
		}
		total = total.Add(p.Amount)
	}
	return total
}
