package validation

import (
	"strings"

	"github.com/cloudx-io/escrowhouse/enclaveapi"
)

// ValidateKeyAttestation validates an enclave receipt key attestation from COSE bytes
//
// Parameters:
//   - attestationCOSEBase64: Base64-encoded COSE_Sign1 bytes from KeyResponse.Attestation
//   - expectedPublicKey: PEM-encoded public key to validate (from KeyResponse.PublicKey)
//   - knownPCRs: enclave image measurements accepted as genuine
//
// Returns:
//   - KeyValidationResult with detailed results (call result.IsValid() to check overall status)
//   - error if validation cannot be performed (e.g., malformed input, no PCR sets)
func ValidateKeyAttestation(attestationCOSEBase64 enclaveapi.COSEBase64, expectedPublicKey string, knownPCRs []PCRSet) (*KeyValidationResult, error) {
	baseResult, keyAttestation, err := validateCommonAttestation(attestationCOSEBase64, knownPCRs)
	if err != nil {
		return nil, err
	}

	result := &KeyValidationResult{
		BaseValidationResult: *baseResult,
	}

	if keyAttestation.UserData == nil || keyAttestation.UserData.PublicKey == "" {
		result.ValidationDetails = append(result.ValidationDetails, "Public key missing from attestation")
		return result, nil
	}

	// PEM encoders differ on the trailing newline
	providedKeyTrimmed := strings.TrimSpace(expectedPublicKey)
	attestedKeyTrimmed := strings.TrimSpace(keyAttestation.UserData.PublicKey)

	if providedKeyTrimmed == attestedKeyTrimmed {
		result.PublicKeyMatch = true
		result.ValidationDetails = append(result.ValidationDetails, "Public key matches attestation")
	} else {
		result.ValidationDetails = append(result.ValidationDetails, "Public key mismatch: provided key does not match attested key")
	}

	return result, nil
}
