package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"testing"

	enclave "github.com/edgebitio/nitro-enclaves-sdk-go"
	"github.com/fxamacker/cbor/v2"
	"go.uber.org/zap"

	"github.com/cloudx-io/escrowhouse/config"
)

// MockEnclaveHandle implements the Attest method for testing
type MockEnclaveHandle struct {
	AttestFunc func(options enclave.AttestationOptions) ([]byte, error)
}

func (m *MockEnclaveHandle) Attest(options enclave.AttestationOptions) ([]byte, error) {
	if m.AttestFunc != nil {
		return m.AttestFunc(options)
	}
	return nil, fmt.Errorf("mock not configured")
}

func mustDecodeHex(t *testing.T, hexStr string) []byte {
	t.Helper()
	bytes, err := hex.DecodeString(hexStr)
	if err != nil {
		t.Fatalf("invalid hex string: %s", hexStr)
	}
	return bytes
}

// CreateMockEnclave returns an attester producing NSM-shaped documents that
// echo the requested user data and nonce.
func CreateMockEnclave(t *testing.T) *MockEnclaveHandle {
	t.Helper()
	pcr0 := mustDecodeHex(t, "3b4cef27e672fdbcc808960a88ddfe7329dd2e367b6850c9a8d910315f0b47e4224d6db361b75e010c87691d86ca9c57")
	pcr1 := mustDecodeHex(t, "4b4d5b3661b3efc12920900c80e126e4ce783c522de6c02a2a5bf7af3a2b9327b86776f188e4be1c1c404a129dbda493")
	pcr2 := mustDecodeHex(t, "2bdd28c1d85bb3872da3617a29a6bfeb50c65750c995f92e7dac6b5f2c4c72e0f9976bdee62a0b25864d10dffb535e11")
	return &MockEnclaveHandle{
		AttestFunc: func(options enclave.AttestationOptions) ([]byte, error) {
			nestedDoc := map[string]any{
				"module_id":   "test-enclave-12345",
				"digest":      "SHA384",
				"timestamp":   uint64(1234567890000),
				"pcrs":        map[uint64][]byte{0: pcr0, 1: pcr1, 2: pcr2},
				"certificate": []byte("test-certificate-data"),
				"cabundle":    [][]byte{[]byte("test-ca-cert")},
				"public_key":  []byte("test-public-key-data"),
				"user_data":   options.UserData,
				"nonce":       options.Nonce,
			}
			nestedBytes, err := cbor.Marshal(nestedDoc)
			if err != nil {
				return nil, err
			}

			// [protected, unprotected, payload, signature]
			return cbor.Marshal([]any{
				[]byte{0x01, 0x02, 0x03},
				map[string]any{},
				nestedBytes,
				[]byte{0x04, 0x05, 0x06},
			})
		},
	}
}

// testContext stands in for testing.T.Context (Go 1.24+): a context that is
// canceled when the test finishes.
func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}

func testServerConfig() config.Config {
	cfg := config.Default()
	cfg.Listen = config.ListenTCP
	cfg.TCPAddress = "127.0.0.1:0"
	cfg.MaxWorkers = 2
	return cfg
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *EnclaveServer {
	t.Helper()
	cfg := testServerConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := NewEnclaveServer(testContext(t), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("NewEnclaveServer: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	s.attester = func() (EnclaveAttester, error) {
		return nil, fmt.Errorf("NSM not available")
	}
	return s
}
