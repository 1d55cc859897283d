package validation

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/veraison/go-cose"

	"github.com/cloudx-io/escrowhouse/enclaveapi"
)

// VerifyCOSESignature verifies an NSM attestation signature against the
// public key of its signing certificate. NSM signs with ES384.
func VerifyCOSESignature(coseB64 enclaveapi.COSEBase64, certB64 string) error {
	coseBytes, err := coseB64.Decode()
	if err != nil {
		return fmt.Errorf("decode COSE bytes: %w", err)
	}

	cert, err := parseCertificate(certB64)
	if err != nil {
		return err
	}

	ecdsaKey, ok := cert.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return fmt.Errorf("certificate public key is not ECDSA")
	}

	return verifySign1(coseBytes, cose.AlgorithmES384, ecdsaKey)
}

// verifySign1 checks an untagged COSE_Sign1 message with an empty external AAD.
func verifySign1(coseBytes []byte, alg cose.Algorithm, key *ecdsa.PublicKey) error {
	var msg cose.UntaggedSign1Message
	if err := msg.UnmarshalCBOR(coseBytes); err != nil {
		return fmt.Errorf("parse COSE_Sign1: %w", err)
	}

	verifier, err := cose.NewVerifier(alg, key)
	if err != nil {
		return fmt.Errorf("create verifier: %w", err)
	}

	if err := (*cose.Sign1Message)(&msg).Verify(nil, verifier); err != nil {
		return fmt.Errorf("COSE signature verification failed: %w", err)
	}
	return nil
}
