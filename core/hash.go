package core

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ComputeCommitmentHash computes the binding hash of a sealed bid.
// Bidders compute it client-side before the reveal time and disclose amount
// and secret afterwards.
//
// Formula: SHA256(amount + "|" + secret)
//
// amount is rendered as a base-10 integer of smallest units so that equal
// amounts always hash identically regardless of their decimal exponent.
func ComputeCommitmentHash(amount decimal.Decimal, secret string) string {
	data := fmt.Sprintf("%s|%s", amount.Truncate(0).String(), secret)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

// VerifyCommitment reports whether amount and secret reproduce sealedHash.
// Hex case is ignored.
func VerifyCommitment(sealedHash string, amount decimal.Decimal, secret string) bool {
	computed := ComputeCommitmentHash(amount, secret)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(strings.ToLower(sealedHash))) == 1
}

// ComputeRecordHash computes a digest over the settlement outcome of an auction.
// It is embedded in signed settlement receipts so that a receipt can be matched
// to the WinnerRecord it was issued for.
//
// Formula: SHA256(auction_id + "|" + escrow_before + ("|" + bidder + ":" + amount)* + "|" + nonce)
// in winner rank order.
func ComputeRecordHash(r *WinnerRecord, nonce string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d|%s", r.AuctionID, r.EscrowBefore.String())
	for _, w := range r.Winners {
		fmt.Fprintf(&b, "|%s:%s", w.Bidder, w.Amount.String())
	}
	fmt.Fprintf(&b, "|%s", nonce)
	hash := sha256.Sum256([]byte(b.String()))
	return fmt.Sprintf("%x", hash)
}
