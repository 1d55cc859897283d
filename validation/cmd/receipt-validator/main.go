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

func main() {
	var (
		receiptInput  = flag.String("receipt", "", "Settlement response JSON, raw receipt, or path to either (required)")
		publicKeyPath = flag.String("public-key", "", "Path to receipt public key PEM file (required)")
		commission    = flag.Int("commission", 5, "Platform commission percent the house runs with")
		outputFormat  = flag.String("format", "text", "Output format: text or json")
		help          = flag.Bool("help", false, "Show usage information")
	)

	flag.Parse()

	if *help || *receiptInput == "" || *publicKeyPath == "" {
		showUsage()
		if *receiptInput == "" || *publicKeyPath == "" {
			os.Exit(1)
		}
		os.Exit(0)
	}

	receipt, err := readReceipt(*receiptInput)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading receipt: %v\n", err)
		os.Exit(2)
	}

	publicKey, err := os.ReadFile(*publicKeyPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading public key: %v\n", err)
		os.Exit(2)
	}

	result, decoded, err := validation.VerifyReceipt(receipt, string(publicKey), *commission)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Validation error: %v\n", err)
		os.Exit(2)
	}

	if *outputFormat == "json" {
		if err := outputJSON(result, decoded); err != nil {
			fmt.Fprintf(os.Stderr, "Error marshaling JSON: %v\n", err)
			os.Exit(2)
		}
	} else {
		outputText(result, decoded)
	}

	if !result.IsValid() {
		os.Exit(1)
	}
	os.Exit(0)
}

func showUsage() {
	logger.Info("Settlement Receipt Validator")
	logger.Info("")
	logger.Info("Verifies a signed settlement receipt issued by the escrow house enclave.")
	logger.Info("")
	logger.Info("Usage:")
	logger.Info("  receipt-validator --receipt <input> --public-key <pem> [options]")
	logger.Info("")
	logger.Info("Required Flags:")
	logger.Info("  --receipt <input>                 auction_settled response, or the receipt alone")
	logger.Info("  --public-key <path>               Receipt key PEM (from a validated key_response)")
	logger.Info("")
	logger.Info("Optional Flags:")
	logger.Info("  --commission <percent>            Expected commission percent (default: 5)")
	logger.Info("  --format <text|json>              Output format (default: text)")
	logger.Info("  --help                            Show this help message")
	logger.Info("")
	logger.Info("Input Format:")
	logger.Info("  --receipt accepts a file path or inline text. The text is either a JSON")
	logger.Info("  response carrying receipt_cose_base64, or the receipt itself as standard")
	logger.Info("  base64, URL-safe base64, or gzip+URL-safe base64.")
	logger.Info("")
	logger.Info("Examples:")
	logger.Info("  receipt-validator --receipt settled.json --public-key receipt_key.pem")
	logger.Info("  receipt-validator --receipt H4sIAAAA... --public-key receipt_key.pem --format json")
	logger.Info("")
	logger.Info("Exit Codes:")
	logger.Info("  0 - Validation passed")
	logger.Info("  1 - Validation failed")
	logger.Info("  2 - Invalid input or runtime error")
}

// readReceipt resolves input to the receipt's standard base64 form.
func readReceipt(input string) (enclaveapi.COSEBase64, error) {
	text := input
	if data, err := os.ReadFile(input); err == nil {
		text = string(data)
	}
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "{") {
		var resp enclaveapi.SettlementResponse
		if err := json.Unmarshal([]byte(text), &resp); err != nil {
			return "", fmt.Errorf("failed to parse JSON: %w", err)
		}
		if resp.Receipt == "" {
			return "", fmt.Errorf("missing receipt_cose_base64 field in settlement response")
		}
		return resp.Receipt, nil
	}

	if raw, err := enclaveapi.COSEGzip(text).Decompress(); err == nil {
		return raw.EncodeBase64(), nil
	}
	if raw, err := enclaveapi.COSEBase64(text).Decode(); err == nil {
		return raw.EncodeBase64(), nil
	}
	raw, err := enclaveapi.COSEURLBase64(text).Decode()
	if err != nil {
		return "", fmt.Errorf("receipt is neither JSON nor a recognised base64 form")
	}
	return raw.EncodeBase64(), nil
}

func outputText(result *validation.ReceiptValidationResult, receipt *enclaveapi.SettlementReceipt) {
	logger.Info("Settlement Receipt Validator")
	logger.Info("============================")
	logger.Info("")

	if receipt != nil {
		logger.Info("Receipt:")
		logger.Info(fmt.Sprintf("  Auction:       #%d", receipt.AuctionID))
		logger.Info(fmt.Sprintf("  Seller:        %s", receipt.Seller))
		logger.Info(fmt.Sprintf("  Escrow:        %s wei", receipt.EscrowBefore))
		for i, w := range receipt.Winners {
			logger.Info(fmt.Sprintf("  Winner #%d:     %s paid %s wei", i+1, w.Bidder, w.Amount))
		}
		logger.Info(fmt.Sprintf("  Refunds:       %d", len(receipt.Refunds)))
		logger.Info(fmt.Sprintf("  Forfeits:      %d", len(receipt.Forfeits)))
		logger.Info("")
	}

	logger.Info("Validation Results:")
	logger.Info("-------------------")
	for _, d := range result.ValidationDetails {
		logger.Info("  " + d)
	}

	logger.Info("")
	logger.Info("Summary:")
	logger.Info(fmt.Sprintf("  Signature Valid:   %v", result.SignatureValid))
	logger.Info(fmt.Sprintf("  Key ID Match:      %v", result.KeyIDMatch))
	logger.Info(fmt.Sprintf("  Record Hash Valid: %v", result.RecordHashValid))
	logger.Info(fmt.Sprintf("  Escrow Conserved:  %v", result.Conserved))
	logger.Info(fmt.Sprintf("  Commission Valid:  %v", result.CommissionValid))

	logger.Info("")
	logger.Info("============================")
	if result.IsValid() {
		logger.Info("VALIDATION: ✓ PASSED")
		logger.Info("Exit Code: 0")
	} else {
		logger.Info("VALIDATION: ✗ FAILED")
		logger.Info("Exit Code: 1")
	}
}

func outputJSON(result *validation.ReceiptValidationResult, receipt *enclaveapi.SettlementReceipt) error {
	output := map[string]any{
		"valid":             result.IsValid(),
		"signature_valid":   result.SignatureValid,
		"key_id_match":      result.KeyIDMatch,
		"record_hash_valid": result.RecordHashValid,
		"conserved":         result.Conserved,
		"commission_valid":  result.CommissionValid,
		"details":           result.ValidationDetails,
		"receipt":           receipt,
	}

	data, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		return err
	}
	logger.Info(string(data))
	return nil
}
