package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"

	enclave "github.com/edgebitio/nitro-enclaves-sdk-go"
	"github.com/veraison/go-cose"
	"go.uber.org/zap"

	"github.com/cloudx-io/escrowhouse/core"
	"github.com/cloudx-io/escrowhouse/enclaveapi"
)

// EnclaveAttester interface for dependency injection and testing
type EnclaveAttester interface {
	Attest(options enclave.AttestationOptions) ([]byte, error)
}

// generateSecureRandomBytes generates cryptographically secure random bytes.
// Inside an enclave crypto/rand draws from the NSM-seeded kernel pool.
func generateSecureRandomBytes(length int) ([]byte, error) {
	randomBytes := make([]byte, length)
	if _, err := rand.Read(randomBytes); err != nil {
		return nil, fmt.Errorf("entropy generation failed: %w", err)
	}
	return randomBytes, nil
}

func generateNonce() (string, error) {
	randomBytes, err := generateSecureRandomBytes(32) // 256 bits of entropy
	if err != nil {
		return "", fmt.Errorf("failed to generate secure nonce - %w", err)
	}
	return hex.EncodeToString(randomBytes), nil
}

// SignReceipt builds the receipt of record and signs it as an untagged
// COSE_Sign1 message (ES256) with the key ID in the unprotected header.
func SignReceipt(km *KeyManager, record *core.WinnerRecord) (enclaveapi.COSE, error) {
	if km == nil {
		return nil, fmt.Errorf("key manager is nil")
	}

	nonce, err := generateNonce()
	if err != nil {
		return nil, fmt.Errorf("failed to generate receipt nonce: %w", err)
	}

	receipt := enclaveapi.ReceiptFromRecord(record, nonce, km.KeyID())
	payload, err := receipt.MarshalCanonical()
	if err != nil {
		return nil, fmt.Errorf("failed to encode receipt: %w", err)
	}

	signer, err := km.signer()
	if err != nil {
		return nil, fmt.Errorf("failed to create signer: %w", err)
	}

	msg := cose.Sign1Message{
		Headers: cose.Headers{
			Protected: cose.ProtectedHeader{
				cose.HeaderLabelAlgorithm: cose.AlgorithmES256,
			},
			Unprotected: cose.UnprotectedHeader{
				cose.HeaderLabelKeyID: []byte(km.KeyID()),
			},
		},
		Payload: payload,
	}
	if err := msg.Sign(rand.Reader, nil, signer); err != nil {
		return nil, fmt.Errorf("failed to sign receipt: %w", err)
	}

	raw, err := (*cose.UntaggedSign1Message)(&msg).MarshalCBOR()
	if err != nil {
		return nil, fmt.Errorf("failed to encode COSE_Sign1: %w", err)
	}
	return enclaveapi.COSE(raw), nil
}

// GenerateKeyAttestation asks the NSM to attest the receipt signing key. The
// PEM public key and key ID travel in the attestation user data.
func GenerateKeyAttestation(attester EnclaveAttester, km *KeyManager) (enclaveapi.COSE, error) {
	if attester == nil {
		return nil, fmt.Errorf("enclave attester is nil")
	}

	publicKeyPEM, err := km.PublicKeyPEM()
	if err != nil {
		return nil, fmt.Errorf("failed to convert public key to PEM: %w", err)
	}

	userDataBytes, err := json.Marshal(&enclaveapi.KeyAttestationUserData{
		KeyAlgorithm: keyAlgorithm,
		KeyID:        km.KeyID(),
		PublicKey:    publicKeyPEM,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal key user data: %w", err)
	}

	randomNonce, err := generateNonce()
	if err != nil {
		return nil, fmt.Errorf("failed to generate attestation nonce: %w", err)
	}

	attestationCBOR, err := attester.Attest(enclave.AttestationOptions{
		UserData: userDataBytes,
		Nonce:    []byte(randomNonce),
	})
	if err != nil {
		return nil, fmt.Errorf("NSM key attestation failed: %w", err)
	}
	return enclaveapi.COSE(attestationCBOR), nil
}

// HandleKeyRequest returns the receipt signing key. A nil attester yields an
// unattested response, as when running outside an enclave.
func HandleKeyRequest(attester EnclaveAttester, km *KeyManager, logger *zap.Logger) (*enclaveapi.KeyResponse, error) {
	publicKeyPEM, err := km.PublicKeyPEM()
	if err != nil {
		return nil, fmt.Errorf("failed to export public key: %w", err)
	}

	resp := &enclaveapi.KeyResponse{
		Type:         enclaveapi.TypeKeyResponse,
		KeyAlgorithm: keyAlgorithm,
		KeyID:        km.KeyID(),
		PublicKey:    publicKeyPEM,
	}
	if attester == nil {
		return resp, nil
	}

	attestation, err := GenerateKeyAttestation(attester, km)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key attestation: %w", err)
	}
	logger.Info("Key attestation generated", zap.Int("bytes", len(attestation)))
	resp.Attestation = attestation.EncodeBase64()
	return resp, nil
}
