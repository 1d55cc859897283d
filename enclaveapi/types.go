package enclaveapi

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/cloudx-io/escrowhouse/core"
)

// Request types accepted by the auction house daemon. Every request is a
// single JSON object whose "type" selects the operation.
const (
	TypePing          = "ping"
	TypeKeyRequest    = "key_request"
	TypeCreateAuction = "create_auction"
	TypePlaceBid      = "place_bid"
	TypeRevealBid     = "reveal_bid"
	TypeEndAuction    = "end_auction"
	TypeGetAuction    = "get_auction"
	TypeDutchPrice    = "dutch_price"
	TypeClaimReward   = "claim_reward"
)

// Response types.
const (
	TypePong               = "pong"
	TypeError              = "error"
	TypeKeyResponse        = "key_response"
	TypeAuctionCreated     = "auction_created"
	TypeBidAccepted        = "bid_accepted"
	TypeBidRevealed        = "bid_revealed"
	TypeAuctionSettled     = "auction_settled"
	TypeAuctionState       = "auction_state"
	TypeDutchPriceResponse = "dutch_price_response"
	TypeRewardClaimed      = "reward_claimed"
)

// PCRs represents the Platform Configuration Registers from AWS Nitro Enclaves
type PCRs struct {
	// PCR0: Hash of the Enclave Image File (EIF)
	ImageFileHash string `json:"0"`

	// PCR1: Hash of the Linux kernel and initial RAM data (initramfs)
	KernelHash string `json:"1"`

	// PCR2: Hash of user applications, excluding the boot ramfs
	ApplicationHash string `json:"2"`

	// PCR3: Hash of the IAM role assigned to the parent instance
	IAMRoleHash string `json:"3"`

	// PCR4: Hash of the parent instance's ID
	InstanceIDHash string `json:"4"`

	// PCR8: Hash of the enclave image file's signing certificate
	SigningCertHash string `json:"8,omitempty"`
}

// AttestationDoc is the decoded form of an NSM attestation document.
type AttestationDoc struct {
	ModuleID        string    `json:"module_id"`
	Timestamp       time.Time `json:"timestamp"`
	DigestAlgorithm string    `json:"digest"`
	PCRs            PCRs      `json:"pcrs"`
	Certificate     string    `json:"certificate"`
	CABundle        []string  `json:"cabundle"`
	PublicKey       string    `json:"public_key"`
	Nonce           string    `json:"nonce"`
}

// KeyAttestationUserData is embedded in the attestation of the receipt
// signing key.
type KeyAttestationUserData struct {
	KeyAlgorithm string `json:"key_algorithm"` // "ECDSA-P256"
	KeyID        string `json:"key_id"`
	PublicKey    string `json:"public_key"` // PEM
}

// KeyAttestationDoc is an attestation document carrying key user data.
type KeyAttestationDoc struct {
	AttestationDoc
	UserData *KeyAttestationUserData `json:"user_data"`
}

// KeyResponse answers key_request with the receipt signing key. Attestation
// is empty when the daemon runs outside an enclave.
type KeyResponse struct {
	Type         string     `json:"type"`
	KeyAlgorithm string     `json:"key_algorithm"`
	KeyID        string     `json:"key_id"`
	PublicKey    string     `json:"public_key"` // PEM format
	Attestation  COSEBase64 `json:"attestation_cose_base64,omitempty"`
}

// CreateAuctionRequest creates an auction on behalf of Seller. PaidFee must
// equal the configured creation fee.
type CreateAuctionRequest struct {
	Type    string            `json:"type"`
	Seller  string            `json:"seller"`
	PaidFee decimal.Decimal   `json:"paid_fee"`
	Auction core.CreateParams `json:"auction"`
}

// PlaceBidRequest places a bid, donation or sealed commitment.
type PlaceBidRequest struct {
	Type       string          `json:"type"`
	AuctionID  uint64          `json:"auction_id"`
	Bidder     string          `json:"bidder"`
	Amount     decimal.Decimal `json:"amount"`
	SealedHash string          `json:"sealed_hash,omitempty"`
}

type RevealBidRequest struct {
	Type      string          `json:"type"`
	AuctionID uint64          `json:"auction_id"`
	Bidder    string          `json:"bidder"`
	Amount    decimal.Decimal `json:"amount"`
	Secret    string          `json:"secret"`
}

type EndAuctionRequest struct {
	Type      string `json:"type"`
	AuctionID uint64 `json:"auction_id"`
	Caller    string `json:"caller"`
}

// AuctionQuery serves get_auction and dutch_price.
type AuctionQuery struct {
	Type      string `json:"type"`
	AuctionID uint64 `json:"auction_id"`
}

type ClaimRewardRequest struct {
	Type    string `json:"type"`
	TokenID uint64 `json:"token_id"`
	Caller  string `json:"caller"`
}

// ErrorResponse reports a rejected request. ErrorCode and ErrorClass are
// derived from the sentinel error the house returned.
type ErrorResponse struct {
	Type       string `json:"type"`
	Message    string `json:"message"`
	ErrorCode  string `json:"error_code,omitempty"`
	ErrorClass string `json:"error_class,omitempty"`
}

type PongResponse struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

type AuctionCreatedResponse struct {
	Type      string `json:"type"`
	AuctionID uint64 `json:"auction_id"`
	Warning   string `json:"warning,omitempty"`
}

// SettlementResponse carries a committed settlement. Warning is set when
// payouts or reward issuance failed after the settlement was committed.
type SettlementResponse struct {
	Type    string            `json:"type"`
	Record  core.WinnerRecord `json:"record"`
	Receipt COSEBase64        `json:"receipt_cose_base64,omitempty"`
	// The same receipt for share links: URL-safe, and gzip+URL-safe for query strings.
	ReceiptURL  COSEURLBase64 `json:"receipt_cose_url_base64,omitempty"`
	ReceiptGzip COSEGzip      `json:"receipt_cose_gzip,omitempty"`
	Warning     string        `json:"warning,omitempty"`
}

type BidResponse struct {
	Type       string              `json:"type"`
	Bid        core.Bid            `json:"bid"`
	EndTime    time.Time           `json:"end_time"`
	Extended   bool                `json:"extended"`
	Settlement *SettlementResponse `json:"settlement,omitempty"`
	Warning    string              `json:"warning,omitempty"`
}

type RevealResponse struct {
	Type       string          `json:"type"`
	AuctionID  uint64          `json:"auction_id"`
	Commitment core.Commitment `json:"commitment"`
}

// AuctionView is the public state of an auction.
type AuctionView struct {
	core.Auction
	Escrow  decimal.Decimal `json:"escrow"`
	Settled bool            `json:"settled"`
}

type AuctionStateResponse struct {
	Type    string             `json:"type"`
	Auction AuctionView        `json:"auction"`
	Record  *core.WinnerRecord `json:"record,omitempty"`
}

type DutchPriceResponse struct {
	Type      string          `json:"type"`
	AuctionID uint64          `json:"auction_id"`
	Price     decimal.Decimal `json:"price"`
}

type ClaimRewardResponse struct {
	Type    string        `json:"type"`
	TokenID uint64        `json:"token_id"`
	Payment *core.Payment `json:"payment,omitempty"`
	Warning string        `json:"warning,omitempty"`
}
