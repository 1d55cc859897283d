package validation

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/veraison/go-cose"

	"github.com/cloudx-io/escrowhouse/core"
	"github.com/cloudx-io/escrowhouse/enclaveapi"
)

const (
	testPCR0 = "3b4cef27e672fdbcc808960a88ddfe7329dd2e367b6850c9a8d910315f0b47e4224d6db361b75e010c87691d86ca9c57"
	testPCR1 = "4b4d5b3661b3efc12920900c80e126e4ce783c522de6c02a2a5bf7af3a2b9327b86776f188e4be1c1c404a129dbda493"
	testPCR2 = "2bdd28c1d85bb3872da3617a29a6bfeb50c65750c995f92e7dac6b5f2c4c72e0f9976bdee62a0b25864d10dffb535e11"
)

func testPCRSets() []PCRSet {
	return []PCRSet{
		{PCR0: "00", PCR1: "00", PCR2: "00", CommitHash: "old"},
		{PCR0: testPCR0, PCR1: testPCR1, PCR2: testPCR2, CommitHash: "abc123"},
	}
}

func mustSign1(t *testing.T, alg cose.Algorithm, key *ecdsa.PrivateKey, kid []byte, payload []byte) []byte {
	t.Helper()
	signer, err := cose.NewSigner(alg, key)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	msg := cose.Sign1Message{
		Headers: cose.Headers{
			Protected:   cose.ProtectedHeader{cose.HeaderLabelAlgorithm: alg},
			Unprotected: cose.UnprotectedHeader{},
		},
		Payload: payload,
	}
	if kid != nil {
		msg.Headers.Unprotected[cose.HeaderLabelKeyID] = kid
	}
	if err := msg.Sign(rand.Reader, nil, signer); err != nil {
		t.Fatalf("sign: %v", err)
	}
	out, err := (*cose.UntaggedSign1Message)(&msg).MarshalCBOR()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return out
}

type receiptKey struct {
	priv *ecdsa.PrivateKey
	pem  string
	id   string
}

func newReceiptKey(t *testing.T) receiptKey {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	return receiptKey{
		priv: priv,
		pem:  string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})),
		id:   enclaveapi.KeyID(der),
	}
}

func settledRecord() *core.WinnerRecord {
	return &core.WinnerRecord{
		AuctionID:    7,
		Seller:       "seller",
		EscrowBefore: core.Ether("3"),
		Winners: []core.Winner{
			{Bidder: "alice", Amount: core.Ether("2"), Commission: core.Ether("0.1"), SellerProceeds: core.Ether("1.9")},
		},
		Refunds:   []core.Transfer{{Account: "bob", Amount: core.Ether("1")}},
		Forfeits:  []core.Transfer{},
		SettledAt: time.Unix(1_750_000_000, 0).UTC(),
	}
}

// signReceipt signs the receipt of record the way the enclave does.
func signReceipt(t *testing.T, key receiptKey, receipt enclaveapi.SettlementReceipt) enclaveapi.COSEBase64 {
	t.Helper()
	payload, err := receipt.MarshalCanonical()
	if err != nil {
		t.Fatalf("marshal receipt: %v", err)
	}
	return enclaveapi.COSE(mustSign1(t, cose.AlgorithmES256, key.priv, []byte(key.id), payload)).EncodeBase64()
}

// selfSignedP384 returns a P-384 key and a base64 DER certificate for it that
// does not chain to the Nitro root.
func selfSignedP384(t *testing.T) (*ecdsa.PrivateKey, string) {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "test-enclave"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	return priv, base64.StdEncoding.EncodeToString(der)
}

// keyAttestation builds an NSM-shaped attestation for publicKeyPEM signed by
// a self-signed P-384 certificate.
func keyAttestation(t *testing.T, publicKeyPEM string, withCABundle bool) enclaveapi.COSEBase64 {
	t.Helper()
	priv, certB64 := selfSignedP384(t)
	certDER, _ := base64.StdEncoding.DecodeString(certB64)

	var userData []byte
	if publicKeyPEM != "" {
		var err error
		userData, err = json.Marshal(enclaveapi.KeyAttestationUserData{
			KeyAlgorithm: "ECDSA-P256",
			KeyID:        "0011223344556677",
			PublicKey:    publicKeyPEM,
		})
		if err != nil {
			t.Fatalf("marshal user data: %v", err)
		}
	}

	doc := map[string]any{
		"module_id":   "test-enclave",
		"digest":      "SHA384",
		"timestamp":   uint64(time.Now().UnixMilli()),
		"pcrs":        map[uint64][]byte{0: mustHex(t, testPCR0), 1: mustHex(t, testPCR1), 2: mustHex(t, testPCR2)},
		"certificate": certDER,
		"public_key":  []byte{},
		"user_data":   userData,
		"nonce":       []byte("nonce"),
	}
	if withCABundle {
		doc["cabundle"] = [][]byte{certDER}
	}
	payload, err := cbor.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal document: %v", err)
	}
	return enclaveapi.COSE(mustSign1(t, cose.AlgorithmES384, priv, nil, payload)).EncodeBase64()
}

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("invalid hex string: %s", s)
	}
	return b
}
