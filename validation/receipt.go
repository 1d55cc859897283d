package validation

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"github.com/veraison/go-cose"

	"github.com/cloudx-io/escrowhouse/core"
	"github.com/cloudx-io/escrowhouse/enclaveapi"
	"github.com/cloudx-io/escrowhouse/enclaveapi/parsing"
)

// ParseReceiptKey parses a PEM-encoded P-256 receipt key and returns it with
// its key ID.
func ParseReceiptKey(publicKeyPEM string) (*ecdsa.PublicKey, string, error) {
	block, _ := pem.Decode([]byte(publicKeyPEM))
	if block == nil {
		return nil, "", fmt.Errorf("public key is not PEM encoded")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, "", fmt.Errorf("parse public key: %w", err)
	}
	key, ok := parsed.(*ecdsa.PublicKey)
	if !ok {
		return nil, "", fmt.Errorf("public key is not ECDSA")
	}
	return key, enclaveapi.KeyID(block.Bytes), nil
}

// VerifyReceipt checks a signed settlement receipt.
//
// The signature must verify under publicKeyPEM and name its key ID. The
// record hash is recomputed from the receipt contents, the disbursements
// must add up to the escrow held, and every winner's commission split must
// match commissionPercent.
//
// The decoded receipt is returned whenever the payload parses, even if a
// check failed. An error means the receipt could not be examined at all.
func VerifyReceipt(receipt enclaveapi.COSEBase64, publicKeyPEM string, commissionPercent int) (*ReceiptValidationResult, *enclaveapi.SettlementReceipt, error) {
	key, keyID, err := ParseReceiptKey(publicKeyPEM)
	if err != nil {
		return nil, nil, err
	}

	coseBytes, err := receipt.Decode()
	if err != nil {
		return nil, nil, fmt.Errorf("decode COSE bytes: %w", err)
	}

	payload, err := parsing.ExtractCOSEPayload(coseBytes)
	if err != nil {
		return nil, nil, err
	}

	decoded, err := enclaveapi.UnmarshalReceipt(payload)
	if err != nil {
		return nil, nil, err
	}

	result := &ReceiptValidationResult{ValidationDetails: []string{}}

	if err := verifySign1(coseBytes, cose.AlgorithmES256, key); err != nil {
		result.detail("%v", err)
	} else {
		result.SignatureValid = true
		result.detail("Receipt signature verified")
	}

	if decoded.KeyID == keyID {
		result.KeyIDMatch = true
		result.detail("Key ID %s matches public key", keyID)
	} else {
		result.detail("Key ID mismatch: receipt names %s, public key is %s", decoded.KeyID, keyID)
	}

	record, err := decoded.Record()
	if err != nil {
		result.detail("Receipt amounts invalid: %v", err)
		return result, &decoded, nil
	}

	if core.ComputeRecordHash(record, decoded.Nonce) == decoded.RecordHash {
		result.RecordHashValid = true
		result.detail("Record hash verified")
	} else {
		result.detail("Record hash mismatch")
	}

	if record.Conserved() {
		result.Conserved = true
		result.detail("Escrow of %s wei fully disbursed", record.EscrowBefore)
	} else {
		result.detail("Disbursed %s wei of %s wei escrow", record.Disbursed(), record.EscrowBefore)
	}

	result.CommissionValid = true
	for i, w := range record.Winners {
		commission, proceeds := core.SplitCommission(w.Amount, commissionPercent)
		if !commission.Equal(w.Commission) || !proceeds.Equal(w.SellerProceeds) {
			result.CommissionValid = false
			result.detail("Winner #%d (%s): commission %s and proceeds %s, expected %s and %s",
				i, w.Bidder, w.Commission, w.SellerProceeds, commission, proceeds)
		}
	}
	if result.CommissionValid {
		result.detail("Commission split matches %d%%", commissionPercent)
	}

	return result, &decoded, nil
}
