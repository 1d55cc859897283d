package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/cloudx-io/escrowhouse/enclaveapi"
	"github.com/cloudx-io/escrowhouse/validation"
)

// plainTextHandler writes bare messages to stdout for CLI output
type plainTextHandler struct{}

func (*plainTextHandler) Enabled(_ context.Context, _ slog.Level) bool {
	return true
}

func (*plainTextHandler) Handle(_ context.Context, r slog.Record) error {
	_, err := fmt.Fprintln(os.Stdout, r.Message)
	return err
}

func (h *plainTextHandler) WithAttrs(_ []slog.Attr) slog.Handler {
	return h
}

func (h *plainTextHandler) WithGroup(_ string) slog.Handler {
	return h
}

var logger = slog.New(&plainTextHandler{})

// keyReport is what the validator learned about the receipt key.
type keyReport struct {
	KeyID         string
	AdvertisedKID string
	PublicKey     string
}

func main() {
	var (
		responsePath = flag.String("key-response", "", "Path to key_response JSON from the escrow house (required)")
		pcrsPath     = flag.String("pcrs", "", "Path to known PCR sets JSON file (required)")
		pinnedKey    = flag.String("public-key", "", "PEM file the attested key must equal (default: the key in the response)")
		writeKey     = flag.String("write-key", "", "Write the receipt key PEM here when validation passes")
		outputFormat = flag.String("format", "text", "Output format: text or json")
		help         = flag.Bool("help", false, "Show usage information")
	)

	flag.Parse()

	missing := *responsePath == "" || *pcrsPath == ""
	if *help || missing {
		showUsage()
		if missing {
			os.Exit(1)
		}
		os.Exit(0)
	}

	resp, err := readKeyResponse(*responsePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading key response: %v\n", err)
		os.Exit(2)
	}

	publicKey := resp.PublicKey
	if *pinnedKey != "" {
		data, err := os.ReadFile(*pinnedKey)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading public key: %v\n", err)
			os.Exit(2)
		}
		publicKey = string(data)
	}

	_, keyID, err := validation.ParseReceiptKey(publicKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing receipt key: %v\n", err)
		os.Exit(2)
	}
	report := keyReport{KeyID: keyID, AdvertisedKID: resp.KeyID, PublicKey: strings.TrimSpace(publicKey) + "\n"}

	knownPCRs, err := validation.LoadPCRsFromFile(*pcrsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading PCR sets: %v\n", err)
		os.Exit(2)
	}

	result, err := validation.ValidateKeyAttestation(resp.Attestation, publicKey, knownPCRs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Validation error: %v\n", err)
		os.Exit(2)
	}
	valid := result.IsValid() && report.KeyID == report.AdvertisedKID

	if *outputFormat == "json" {
		if err := outputJSON(result, report, valid); err != nil {
			fmt.Fprintf(os.Stderr, "Error marshaling JSON: %v\n", err)
			os.Exit(2)
		}
	} else {
		outputText(result, report, valid)
	}

	if !valid {
		os.Exit(1)
	}
	if *writeKey != "" {
		if err := os.WriteFile(*writeKey, []byte(report.PublicKey), 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing receipt key: %v\n", err)
			os.Exit(2)
		}
	}
	os.Exit(0)
}

func showUsage() {
	logger.Info("Receipt Key Attestation Validator")
	logger.Info("")
	logger.Info("Checks that the escrow house receipt key was generated inside a known")
	logger.Info("enclave image. Receipts signed by a key that passes can be verified with")
	logger.Info("receipt-validator.")
	logger.Info("")
	logger.Info("Usage:")
	logger.Info("  key-validator --key-response <path> --pcrs <path> [options]")
	logger.Info("")
	logger.Info("Required Flags:")
	logger.Info("  --key-response <path>             key_response JSON (public_key, key_id, attestation)")
	logger.Info("  --pcrs <path>                     Known PCR sets: {\"pcr_sets\": [{\"pcr0\": ...}]}")
	logger.Info("")
	logger.Info("Optional Flags:")
	logger.Info("  --public-key <path>               Pin the key instead of trusting the response")
	logger.Info("  --write-key <path>                Save the validated key PEM")
	logger.Info("  --format <text|json>              Output format (default: text)")
	logger.Info("  --help                            Show this help message")
	logger.Info("")
	logger.Info("Example:")
	logger.Info("  key-validator --key-response key.json --pcrs pcrs.json --write-key receipt_key.pem")
	logger.Info("  receipt-validator --receipt settled.json --public-key receipt_key.pem")
	logger.Info("")
	logger.Info("Exit Codes:")
	logger.Info("  0 - Key attested by a known enclave image")
	logger.Info("  1 - Validation failed")
	logger.Info("  2 - Invalid input or runtime error")
}

func readKeyResponse(path string) (*enclaveapi.KeyResponse, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var resp enclaveapi.KeyResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	if resp.Type != "" && resp.Type != enclaveapi.TypeKeyResponse {
		return nil, fmt.Errorf("expected a %s, got %s", enclaveapi.TypeKeyResponse, resp.Type)
	}
	if resp.Attestation == "" {
		return nil, fmt.Errorf("key response carries no attestation; the house is not running in an enclave")
	}
	return &resp, nil
}

func outputText(result *validation.KeyValidationResult, report keyReport, valid bool) {
	logger.Info("Receipt Key Attestation Validator")
	logger.Info("=================================")
	logger.Info("")
	logger.Info(fmt.Sprintf("Key ID:            %s", report.KeyID))
	if report.AdvertisedKID != report.KeyID {
		logger.Info(fmt.Sprintf("Advertised Key ID: %s (mismatch)", report.AdvertisedKID))
	}
	logger.Info("")

	logger.Info("Attestation:")
	for _, d := range result.ValidationDetails {
		logger.Info("  " + d)
	}

	logger.Info("")
	logger.Info(fmt.Sprintf("  Enclave image known:  %v", result.PCRsValid))
	logger.Info(fmt.Sprintf("  Nitro chain valid:    %v", result.CertificateValid))
	logger.Info(fmt.Sprintf("  Document signed:      %v", result.SignatureValid))
	logger.Info(fmt.Sprintf("  Receipt key attested: %v", result.PublicKeyMatch))

	logger.Info("")
	if valid {
		logger.Info("RECEIPT KEY: ✓ TRUSTED")
	} else {
		logger.Info("RECEIPT KEY: ✗ NOT TRUSTED")
	}
}

func outputJSON(result *validation.KeyValidationResult, report keyReport, valid bool) error {
	output := map[string]any{
		"valid":             valid,
		"key_id":            report.KeyID,
		"advertised_key_id": report.AdvertisedKID,
		"pcrs_valid":        result.PCRsValid,
		"certificate_valid": result.CertificateValid,
		"signature_valid":   result.SignatureValid,
		"public_key_match":  result.PublicKeyMatch,
		"details":           result.ValidationDetails,
	}

	data, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		return err
	}
	logger.Info(string(data))
	return nil
}
