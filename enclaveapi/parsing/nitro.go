package parsing

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/cloudx-io/escrowhouse/enclaveapi"
)

// NitroAttestationDocument represents the raw CBOR structure from AWS Nitro Enclaves
type NitroAttestationDocument struct {
	ModuleID    string            `cbor:"module_id"`
	Digest      string            `cbor:"digest"`
	Timestamp   uint64            `cbor:"timestamp"`
	PCRs        map[uint64][]byte `cbor:"pcrs"`
	Certificate []byte            `cbor:"certificate"`
	CABundle    [][]byte          `cbor:"cabundle"`
	PublicKey   []byte            `cbor:"public_key"`
	UserData    []byte            `cbor:"user_data"`
	Nonce       []byte            `cbor:"nonce"`
}

// FormatPCR formats PCR bytes as hex string
func FormatPCR(pcrData []byte) string {
	if len(pcrData) == 0 {
		return ""
	}
	return fmt.Sprintf("%x", pcrData)
}

// EncodeCertificateBundle converts certificate bundle to base64 strings
func EncodeCertificateBundle(bundle [][]byte) []string {
	result := make([]string, len(bundle))
	for i, cert := range bundle {
		result[i] = base64.StdEncoding.EncodeToString(cert)
	}
	return result
}

// ExtractPCRs extracts and formats PCR values from the raw CBOR PCR map
func ExtractPCRs(rawPCRs map[uint64][]byte) enclaveapi.PCRs {
	return enclaveapi.PCRs{
		ImageFileHash:   FormatPCR(rawPCRs[0]),
		KernelHash:      FormatPCR(rawPCRs[1]),
		ApplicationHash: FormatPCR(rawPCRs[2]),
		IAMRoleHash:     FormatPCR(rawPCRs[3]),
		InstanceIDHash:  FormatPCR(rawPCRs[4]),
		SigningCertHash: FormatPCR(rawPCRs[8]),
	}
}

// ParseNitroDocument decodes the attestation document carried as the payload
// of an NSM COSE_Sign1 message. The signature is not checked.
func ParseNitroDocument(coseBytes []byte) (*NitroAttestationDocument, error) {
	payload, err := ExtractCOSEPayload(coseBytes)
	if err != nil {
		return nil, err
	}
	var doc NitroAttestationDocument
	if err := cbor.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("parse attestation document: %w", err)
	}
	return &doc, nil
}

// ParseKeyAttestation decodes a key attestation into its API form, including
// the JSON user data naming the attested key.
func ParseKeyAttestation(coseBytes []byte) (*enclaveapi.KeyAttestationDoc, error) {
	doc, err := ParseNitroDocument(coseBytes)
	if err != nil {
		return nil, err
	}

	out := &enclaveapi.KeyAttestationDoc{
		AttestationDoc: enclaveapi.AttestationDoc{
			ModuleID:        doc.ModuleID,
			Timestamp:       time.UnixMilli(int64(doc.Timestamp)).UTC(),
			DigestAlgorithm: doc.Digest,
			PCRs:            ExtractPCRs(doc.PCRs),
			Certificate:     base64.StdEncoding.EncodeToString(doc.Certificate),
			CABundle:        EncodeCertificateBundle(doc.CABundle),
			PublicKey:       base64.StdEncoding.EncodeToString(doc.PublicKey),
			Nonce:           base64.StdEncoding.EncodeToString(doc.Nonce),
		},
	}
	if len(doc.UserData) > 0 {
		var userData enclaveapi.KeyAttestationUserData
		if err := json.Unmarshal(doc.UserData, &userData); err != nil {
			return nil, fmt.Errorf("parse key attestation user data: %w", err)
		}
		out.UserData = &userData
	}
	return out, nil
}
