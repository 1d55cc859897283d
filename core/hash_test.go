package core

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestComputeCommitmentHash(t *testing.T) {
	amount := Ether("2")
	secret := "secret1"

	hash := ComputeCommitmentHash(amount, secret)

	// Verify hash is 64 characters (SHA256 hex encoding)
	if len(hash) != 64 {
		t.Errorf("ComputeCommitmentHash() hash length = %d, want 64", len(hash))
	}

	for _, c := range hash {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			t.Errorf("ComputeCommitmentHash() contains non-hex character: %c", c)
		}
	}

	// Verify exact hash calculation
	expectedData := fmt.Sprintf("%s|%s", "2000000000000000000", secret)
	expectedHash := fmt.Sprintf("%x", sha256.Sum256([]byte(expectedData)))
	if hash != expectedHash {
		t.Errorf("ComputeCommitmentHash() = %v, want %v", hash, expectedHash)
	}
}

func TestComputeCommitmentHash_ExponentIndependent(t *testing.T) {
	// 2 ether built two different ways must hash the same
	a := decimal.New(2, 18)
	b := decimal.RequireFromString("2000000000000000000")

	if ComputeCommitmentHash(a, "s") != ComputeCommitmentHash(b, "s") {
		t.Errorf("Equal amounts with different exponents should produce same hash")
	}
}

func TestComputeCommitmentHash_DifferentInputs(t *testing.T) {
	hash1 := ComputeCommitmentHash(Ether("2"), "secret")
	hash2 := ComputeCommitmentHash(Ether("3"), "secret")
	if hash1 == hash2 {
		t.Errorf("Different amounts should produce different hashes")
	}

	hash3 := ComputeCommitmentHash(Ether("2"), "secret-a")
	hash4 := ComputeCommitmentHash(Ether("2"), "secret-b")
	if hash3 == hash4 {
		t.Errorf("Different secrets should produce different hashes")
	}
}

func TestVerifyCommitment(t *testing.T) {
	hash := ComputeCommitmentHash(Ether("2"), "secret1")

	if !VerifyCommitment(hash, Ether("2"), "secret1") {
		t.Errorf("VerifyCommitment() rejected matching reveal")
	}
	if !VerifyCommitment(strings.ToUpper(hash), Ether("2"), "secret1") {
		t.Errorf("VerifyCommitment() should ignore hex case")
	}
	if VerifyCommitment(hash, Ether("2"), "wrong") {
		t.Errorf("VerifyCommitment() accepted wrong secret")
	}
	if VerifyCommitment(hash, Ether("2.5"), "secret1") {
		t.Errorf("VerifyCommitment() accepted wrong amount")
	}
	if VerifyCommitment("", Ether("2"), "secret1") {
		t.Errorf("VerifyCommitment() accepted empty hash")
	}
}

func TestComputeRecordHash(t *testing.T) {
	record := &WinnerRecord{
		AuctionID:    7,
		EscrowBefore: Ether("3.5"),
		Winners: []Winner{
			{Bidder: "bidder2", Amount: Ether("2")},
		},
	}

	hash := ComputeRecordHash(record, "nonce")
	if len(hash) != 64 {
		t.Errorf("ComputeRecordHash() hash length = %d, want 64", len(hash))
	}

	expectedData := fmt.Sprintf("%d|%s|%s:%s|%s", 7, Ether("3.5").String(), "bidder2", Ether("2").String(), "nonce")
	expectedHash := fmt.Sprintf("%x", sha256.Sum256([]byte(expectedData)))
	if hash != expectedHash {
		t.Errorf("ComputeRecordHash() = %v, want %v", hash, expectedHash)
	}

	if hash == ComputeRecordHash(record, "other-nonce") {
		t.Errorf("Different nonces should produce different hashes")
	}
}
