package validation

import "fmt"

// BaseValidationResult contains common validation results for all attestation types
type BaseValidationResult struct {
	PCRsValid         bool
	CertificateValid  bool
	SignatureValid    bool
	ValidationDetails []string
}

// KeyValidationResult contains validation results specific to key attestations
type KeyValidationResult struct {
	BaseValidationResult
	PublicKeyMatch bool
}

// IsValid returns true if all key validation checks passed
func (r *KeyValidationResult) IsValid() bool {
	return r.PCRsValid && r.CertificateValid && r.SignatureValid && r.PublicKeyMatch
}

// ReceiptValidationResult contains the outcome of checking a signed
// settlement receipt against the house's receipt key.
type ReceiptValidationResult struct {
	SignatureValid    bool
	KeyIDMatch        bool
	RecordHashValid   bool
	Conserved         bool
	CommissionValid   bool
	ValidationDetails []string
}

// IsValid returns true if all receipt checks passed
func (r *ReceiptValidationResult) IsValid() bool {
	return r.SignatureValid && r.KeyIDMatch && r.RecordHashValid && r.Conserved && r.CommissionValid
}

func (r *ReceiptValidationResult) detail(format string, args ...any) {
	r.ValidationDetails = append(r.ValidationDetails, fmt.Sprintf(format, args...))
}

// PCRSet represents a known-good set of PCR measurements
type PCRSet struct {
	PCR0       string `json:"pcr0"`
	PCR1       string `json:"pcr1"`
	PCR2       string `json:"pcr2"`
	CommitHash string `json:"commit_hash"` // escrowhouse commit used to build the enclave image
}

// PCRConfig represents the PCR configuration file structure
type PCRConfig struct {
	PCRSets []PCRSet `json:"pcr_sets"`
}
