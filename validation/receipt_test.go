package validation

import (
	"strings"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/escrowhouse/core"
	"github.com/cloudx-io/escrowhouse/enclaveapi"
)

func TestVerifyReceipt(t *testing.T) {
	key := newReceiptKey(t)
	record := settledRecord()
	signed := signReceipt(t, key, enclaveapi.ReceiptFromRecord(record, "ab12", key.id))

	result, receipt, err := VerifyReceipt(signed, key.pem, 5)
	assert.NoError(t, err)
	check.True(t, result.SignatureValid)
	check.True(t, result.KeyIDMatch)
	check.True(t, result.RecordHashValid)
	check.True(t, result.Conserved)
	check.True(t, result.CommissionValid)
	check.True(t, result.IsValid())

	check.NotNil(t, receipt)
	check.Equal(t, uint64(7), receipt.AuctionID)
	check.Equal(t, "ab12", receipt.Nonce)
}

func TestVerifyReceiptWrongKey(t *testing.T) {
	key := newReceiptKey(t)
	other := newReceiptKey(t)
	signed := signReceipt(t, key, enclaveapi.ReceiptFromRecord(settledRecord(), "ab12", key.id))

	result, _, err := VerifyReceipt(signed, other.pem, 5)
	assert.NoError(t, err)
	check.False(t, result.SignatureValid)
	check.False(t, result.KeyIDMatch)
	check.True(t, result.RecordHashValid)
	check.False(t, result.IsValid())
}

func TestVerifyReceiptTamperedContents(t *testing.T) {
	key := newReceiptKey(t)
	receipt := enclaveapi.ReceiptFromRecord(settledRecord(), "ab12", key.id)
	// Signed over the altered amount, so only the hash betrays it.
	receipt.Winners[0].Amount = core.Ether("2.5").String()
	signed := signReceipt(t, key, receipt)

	result, _, err := VerifyReceipt(signed, key.pem, 5)
	assert.NoError(t, err)
	check.True(t, result.SignatureValid)
	check.False(t, result.RecordHashValid)
	check.False(t, result.CommissionValid)
	check.False(t, result.IsValid())
}

func TestVerifyReceiptNotConserved(t *testing.T) {
	key := newReceiptKey(t)
	record := settledRecord()
	record.Refunds = nil
	signed := signReceipt(t, key, enclaveapi.ReceiptFromRecord(record, "ab12", key.id))

	result, _, err := VerifyReceipt(signed, key.pem, 5)
	assert.NoError(t, err)
	check.True(t, result.RecordHashValid)
	check.False(t, result.Conserved)
	check.False(t, result.IsValid())

	found := false
	for _, d := range result.ValidationDetails {
		if strings.HasPrefix(d, "Disbursed 2000000000000000000 wei of 3000000000000000000 wei") {
			found = true
		}
	}
	check.True(t, found)
}

func TestVerifyReceiptCommissionMismatch(t *testing.T) {
	key := newReceiptKey(t)
	signed := signReceipt(t, key, enclaveapi.ReceiptFromRecord(settledRecord(), "ab12", key.id))

	result, _, err := VerifyReceipt(signed, key.pem, 10)
	assert.NoError(t, err)
	check.True(t, result.Conserved)
	check.False(t, result.CommissionValid)
}

func TestVerifyReceiptBadAmount(t *testing.T) {
	key := newReceiptKey(t)
	receipt := enclaveapi.ReceiptFromRecord(settledRecord(), "ab12", key.id)
	receipt.Refunds[0].Amount = "-1"
	signed := signReceipt(t, key, receipt)

	result, decoded, err := VerifyReceipt(signed, key.pem, 5)
	assert.NoError(t, err)
	check.NotNil(t, decoded)
	check.True(t, result.SignatureValid)
	check.False(t, result.RecordHashValid)
	check.False(t, result.IsValid())
}

func TestVerifyReceiptMalformedInput(t *testing.T) {
	key := newReceiptKey(t)

	_, _, err := VerifyReceipt("!!not base64", key.pem, 5)
	check.Error(t, err)

	_, _, err = VerifyReceipt(enclaveapi.COSE([]byte{0x01}).EncodeBase64(), key.pem, 5)
	check.Error(t, err)

	_, _, err = VerifyReceipt("", "not a pem", 5)
	check.Error(t, err)
}

func TestParseReceiptKey(t *testing.T) {
	key := newReceiptKey(t)

	pub, id, err := ParseReceiptKey(key.pem)
	assert.NoError(t, err)
	check.True(t, pub.Equal(&key.priv.PublicKey))
	check.Equal(t, key.id, id)
	check.Equal(t, 16, len(id))
}
