package enclaveapi

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/shopspring/decimal"

	"github.com/cloudx-io/escrowhouse/core"
)

// ReceiptVersion is the current SettlementReceipt layout.
const ReceiptVersion = 1

// SettlementReceipt is the signed summary of one settlement. Amounts are
// base-10 integer strings of smallest units.
type SettlementReceipt struct {
	Version      int               `cbor:"version" json:"version"`
	AuctionID    uint64            `cbor:"auction_id" json:"auction_id"`
	Seller       string            `cbor:"seller" json:"seller"`
	EscrowBefore string            `cbor:"escrow_before" json:"escrow_before"`
	Winners      []ReceiptWinner   `cbor:"winners" json:"winners"`
	Refunds      []ReceiptTransfer `cbor:"refunds" json:"refunds"`
	Forfeits     []ReceiptTransfer `cbor:"forfeits" json:"forfeits"`
	SettledAt    int64             `cbor:"settled_at" json:"settled_at"`
	RecordHash   string            `cbor:"record_hash" json:"record_hash"`
	Nonce        string            `cbor:"nonce" json:"nonce"`
	KeyID        string            `cbor:"key_id" json:"key_id"`
}

type ReceiptWinner struct {
	Bidder         string `cbor:"bidder" json:"bidder"`
	Amount         string `cbor:"amount" json:"amount"`
	Commission     string `cbor:"commission" json:"commission"`
	SellerProceeds string `cbor:"seller_proceeds" json:"seller_proceeds"`
}

type ReceiptTransfer struct {
	Account string `cbor:"account" json:"account"`
	Amount  string `cbor:"amount" json:"amount"`
}

// KeyID identifies a receipt signing key: the first 8 bytes of the SHA-256
// of its PKIX encoding, hex encoded.
func KeyID(pkixDER []byte) string {
	sum := sha256.Sum256(pkixDER)
	return hex.EncodeToString(sum[:8])
}

// ReceiptFromRecord builds the receipt of r. nonce salts the record hash.
func ReceiptFromRecord(r *core.WinnerRecord, nonce, keyID string) SettlementReceipt {
	receipt := SettlementReceipt{
		Version:      ReceiptVersion,
		AuctionID:    r.AuctionID,
		Seller:       r.Seller,
		EscrowBefore: r.EscrowBefore.String(),
		Winners:      make([]ReceiptWinner, 0, len(r.Winners)),
		Refunds:      transfers(r.Refunds),
		Forfeits:     transfers(r.Forfeits),
		SettledAt:    r.SettledAt.Unix(),
		RecordHash:   core.ComputeRecordHash(r, nonce),
		Nonce:        nonce,
		KeyID:        keyID,
	}
	for _, w := range r.Winners {
		receipt.Winners = append(receipt.Winners, ReceiptWinner{
			Bidder:         w.Bidder,
			Amount:         w.Amount.String(),
			Commission:     w.Commission.String(),
			SellerProceeds: w.SellerProceeds.String(),
		})
	}
	return receipt
}

func transfers(in []core.Transfer) []ReceiptTransfer {
	out := make([]ReceiptTransfer, 0, len(in))
	for _, t := range in {
		out = append(out, ReceiptTransfer{Account: t.Account, Amount: t.Amount.String()})
	}
	return out
}

// Record parses the receipt back into a WinnerRecord.
func (r SettlementReceipt) Record() (*core.WinnerRecord, error) {
	escrow, err := core.ParseAmount(r.EscrowBefore)
	if err != nil {
		return nil, fmt.Errorf("escrow_before: %w", err)
	}
	rec := &core.WinnerRecord{
		AuctionID:    r.AuctionID,
		Seller:       r.Seller,
		EscrowBefore: escrow,
		SettledAt:    time.Unix(r.SettledAt, 0).UTC(),
	}
	for i, w := range r.Winners {
		winner := core.Winner{Bidder: w.Bidder}
		for _, f := range []struct {
			name string
			in   string
			out  *decimal.Decimal
		}{
			{"amount", w.Amount, &winner.Amount},
			{"commission", w.Commission, &winner.Commission},
			{"seller_proceeds", w.SellerProceeds, &winner.SellerProceeds},
		} {
			if *f.out, err = core.ParseAmount(f.in); err != nil {
				return nil, fmt.Errorf("winners[%d].%s: %w", i, f.name, err)
			}
		}
		rec.Winners = append(rec.Winners, winner)
	}
	if rec.Refunds, err = parseTransfers("refunds", r.Refunds); err != nil {
		return nil, err
	}
	if rec.Forfeits, err = parseTransfers("forfeits", r.Forfeits); err != nil {
		return nil, err
	}
	return rec, nil
}

func parseTransfers(field string, in []ReceiptTransfer) ([]core.Transfer, error) {
	out := make([]core.Transfer, 0, len(in))
	for i, t := range in {
		amount, err := core.ParseAmount(t.Amount)
		if err != nil {
			return nil, fmt.Errorf("%s[%d].amount: %w", field, i, err)
		}
		out = append(out, core.Transfer{Account: t.Account, Amount: amount})
	}
	return out, nil
}

var receiptEncMode = func() cbor.EncMode {
	mode, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return mode
}()

// MarshalCanonical encodes the receipt as canonical CBOR, the signed payload.
func (r SettlementReceipt) MarshalCanonical() ([]byte, error) {
	return receiptEncMode.Marshal(r)
}

// UnmarshalReceipt decodes a receipt payload.
func UnmarshalReceipt(payload []byte) (SettlementReceipt, error) {
	var r SettlementReceipt
	if err := cbor.Unmarshal(payload, &r); err != nil {
		return SettlementReceipt{}, fmt.Errorf("decode receipt: %w", err)
	}
	return r, nil
}
