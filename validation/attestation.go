package validation

import (
	"fmt"

	"github.com/cloudx-io/escrowhouse/enclaveapi"
	"github.com/cloudx-io/escrowhouse/enclaveapi/parsing"
)

// validateCommonAttestation performs validation common to all attestation types
// Parses the COSE bytes internally and validates PCRs, certificate chain, and signature
func validateCommonAttestation(attestationCOSEBase64 enclaveapi.COSEBase64, knownPCRs []PCRSet) (*BaseValidationResult, *enclaveapi.KeyAttestationDoc, error) {
	coseBytes, err := attestationCOSEBase64.Decode()
	if err != nil {
		return nil, nil, fmt.Errorf("decode COSE bytes: %w", err)
	}

	attestationDoc, err := parsing.ParseKeyAttestation(coseBytes)
	if err != nil {
		return nil, nil, fmt.Errorf("parse attestation document: %w", err)
	}

	if len(knownPCRs) == 0 {
		return nil, nil, fmt.Errorf("no known PCR sets supplied")
	}

	result := &BaseValidationResult{
		ValidationDetails: []string{},
	}

	pcrMatch, matchedSet := ValidatePCRs(attestationDoc.PCRs, knownPCRs)
	result.PCRsValid = pcrMatch
	if !pcrMatch {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("PCR0: %s (no match)", attestationDoc.PCRs.ImageFileHash))
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("PCR1: %s (no match)", attestationDoc.PCRs.KernelHash))
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("PCR2: %s (no match)", attestationDoc.PCRs.ApplicationHash))
	} else {
		result.ValidationDetails = append(result.ValidationDetails, "PCR measurements valid")
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Matched PCR set: #%d (commit: %s)",
			matchedSet, knownPCRs[matchedSet].CommitHash))
	}

	// Validate certificate chain at the attestation timestamp
	switch {
	case attestationDoc.Certificate == "":
		result.ValidationDetails = append(result.ValidationDetails, "Missing certificate")
	case len(attestationDoc.CABundle) == 0:
		result.ValidationDetails = append(result.ValidationDetails, "Missing CA bundle")
	default:
		err = ValidateCertificateChain(attestationDoc.Certificate, attestationDoc.CABundle, attestationDoc.Timestamp)
		if err != nil {
			result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Certificate chain validation failed: %v", err))
		} else {
			result.CertificateValid = true
			result.ValidationDetails = append(result.ValidationDetails, "Certificate chain verified")
		}
	}

	err = VerifyCOSESignature(attestationCOSEBase64, attestationDoc.Certificate)
	if err != nil {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("COSE signature verification failed: %v", err))
	} else {
		result.SignatureValid = true
		result.ValidationDetails = append(result.ValidationDetails, "COSE signature verified")
	}

	return result, attestationDoc, nil
}
