package parsing

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// sign1 is the untagged COSE_Sign1 layout shared by NSM attestation
// documents and settlement receipts.
type sign1 struct {
	_           struct{} `cbor:",toarray"`
	Protected   []byte
	Unprotected cbor.RawMessage
	Payload     any
	Signature   []byte
}

// ExtractCOSEPayload returns the payload of an untagged COSE_Sign1 message
// without checking its signature.
func ExtractCOSEPayload(coseBytes []byte) ([]byte, error) {
	var msg sign1
	if err := cbor.Unmarshal(coseBytes, &msg); err != nil {
		return nil, fmt.Errorf("decode COSE_Sign1 message: %w", err)
	}

	payload, ok := msg.Payload.([]byte)
	if !ok {
		return nil, fmt.Errorf("COSE_Sign1 payload is %T, want a byte string", msg.Payload)
	}
	return payload, nil
}
