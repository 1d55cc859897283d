package core

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// AuctionType selects the bidding discipline of an auction. The numeric values
// match the on-chain enum order used by existing clients.
type AuctionType int

const (
	English AuctionType = iota
	Dutch
	SealedBid
	TimeBased
	Charity
)

var auctionTypeNames = map[AuctionType]string{
	English:   "english",
	Dutch:     "dutch",
	SealedBid: "sealed_bid",
	TimeBased: "time_based",
	Charity:   "charity",
}

func (t AuctionType) String() string {
	if name, ok := auctionTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("auction_type(%d)", int(t))
}

// Valid reports whether t is one of the five known disciplines.
func (t AuctionType) Valid() bool {
	_, ok := auctionTypeNames[t]
	return ok
}

// ParseAuctionType accepts the snake_case name of an auction type.
func ParseAuctionType(s string) (AuctionType, error) {
	for t, name := range auctionTypeNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown auction type %q", ErrInvalidParameters, s)
}

func (t AuctionType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("unknown auction type %d", int(t))
	}
	return []byte(t.String()), nil
}

func (t *AuctionType) UnmarshalText(text []byte) error {
	parsed, err := ParseAuctionType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// RewardKind describes the asset class of a directly transferred reward.
type RewardKind string

const (
	RewardFungible RewardKind = "fungible"
	RewardUnique   RewardKind = "unique"
	RewardMulti    RewardKind = "multi"
)

// RewardBinding is the optional reward paid to each winner at settlement.
// With IsRWA set, a receipt token is minted through the reward issuer;
// otherwise Token/TokenID/Amount are transferred directly when configured.
type RewardBinding struct {
	IsRWA    bool            `json:"is_rwa"`
	TokenURI string          `json:"token_uri,omitempty"`
	Token    string          `json:"token,omitempty"`
	TokenID  uint64          `json:"token_id,omitempty"`
	Amount   decimal.Decimal `json:"amount"`
	Kind     RewardKind      `json:"kind,omitempty"`
}

// HasDirectTransfer reports whether a reward token is paid out without minting.
func (r RewardBinding) HasDirectTransfer() bool {
	return !r.IsRWA && r.Token != "" && r.Amount.IsPositive()
}

// CreateParams are the seller-supplied parameters of a new auction.
type CreateParams struct {
	Name                string          `json:"name"`
	Type                AuctionType     `json:"auction_type"`
	StartPrice          decimal.Decimal `json:"start_price"`
	MinBidIncrement     decimal.Decimal `json:"min_bid_increment"`
	MaxPrice            decimal.Decimal `json:"max_price"`
	EndTime             time.Time       `json:"end_time"`
	NumWinners          int             `json:"num_winners"`
	CanCloseEarly       bool            `json:"can_close_early"`
	Reward              RewardBinding   `json:"reward"`
	DutchPriceDecrement decimal.Decimal `json:"dutch_price_decrement"`
	SealedBidRevealTime time.Time       `json:"sealed_bid_reveal_time"`
}

// Auction is the stored record of one sale event.
type Auction struct {
	ID                  uint64          `json:"id"`
	Seller              string          `json:"seller"`
	Name                string          `json:"name"`
	Type                AuctionType     `json:"auction_type"`
	StartPrice          decimal.Decimal `json:"start_price"`
	CurrentPrice        decimal.Decimal `json:"current_price"`
	MinBidIncrement     decimal.Decimal `json:"min_bid_increment"`
	MaxPrice            decimal.Decimal `json:"max_price"`
	EndTime             time.Time       `json:"end_time"`
	CreatedAt           time.Time       `json:"created_at"`
	Active              bool            `json:"active"`
	NumWinners          int             `json:"num_winners"`
	CanCloseEarly       bool            `json:"can_close_early"`
	Reward              RewardBinding   `json:"reward"`
	DutchPriceDecrement decimal.Decimal `json:"dutch_price_decrement"`
	SealedBidRevealTime time.Time       `json:"sealed_bid_reveal_time"`

	// Extensions counts anti-snipe extensions applied to EndTime.
	Extensions int `json:"extensions"`
	// Leader is the bidder currently holding CurrentPrice, if any.
	Leader string `json:"leader,omitempty"`
}

// Bid is a single accepted bid, donation or sealed deposit.
type Bid struct {
	AuctionID uint64          `json:"auction_id"`
	Bidder    string          `json:"bidder"`
	Amount    decimal.Decimal `json:"amount"`
	Timestamp time.Time       `json:"timestamp"`
	Seq       uint64          `json:"seq"`
}

// Commitment is the sealed half of a sealed-bid: the binding hash and the
// value deposited alongside it.
type Commitment struct {
	Bidder          string          `json:"bidder"`
	SealedHash      string          `json:"sealed_hash"`
	DepositedAmount decimal.Decimal `json:"deposited_amount"`
	Seq             uint64          `json:"seq"`
	Revealed        bool            `json:"revealed"`
	RevealedAt      time.Time       `json:"revealed_at,omitempty"`
}

// Winner is one entry of a WinnerRecord with its disbursement split.
type Winner struct {
	Bidder         string          `json:"bidder"`
	Amount         decimal.Decimal `json:"amount"`
	Commission     decimal.Decimal `json:"commission"`
	SellerProceeds decimal.Decimal `json:"seller_proceeds"`
}

// Transfer is a refund or forfeit to a single account.
type Transfer struct {
	Account string          `json:"account"`
	Amount  decimal.Decimal `json:"amount"`
}

// IssuedReward records the reward handed to a winner after settlement.
type IssuedReward struct {
	Winner  string `json:"winner"`
	TokenID uint64 `json:"token_id"`
	Minted  bool   `json:"minted"`
}

// WinnerRecord is the immutable outcome of settling one auction.
type WinnerRecord struct {
	AuctionID    uint64          `json:"auction_id"`
	Seller       string          `json:"seller"`
	Winners      []Winner        `json:"winners"`
	Refunds      []Transfer      `json:"refunds"`
	Forfeits     []Transfer      `json:"forfeits"`
	EscrowBefore decimal.Decimal `json:"escrow_before"`
	SettledAt    time.Time       `json:"settled_at"`
	Rewards      []IssuedReward  `json:"rewards,omitempty"`
}

// Disbursed sums every outgoing amount of the record.
func (r *WinnerRecord) Disbursed() decimal.Decimal {
	total := decimal.Zero
	for _, w := range r.Winners {
		total = total.Add(w.Commission).Add(w.SellerProceeds)
	}
	for _, t := range r.Refunds {
		total = total.Add(t.Amount)
	}
	for _, t := range r.Forfeits {
		total = total.Add(t.Amount)
	}
	return total
}

// Conserved reports whether the record disburses exactly the escrow it held.
func (r *WinnerRecord) Conserved() bool {
	return r.Disbursed().Equal(r.EscrowBefore)
}

// PaymentReason labels why funds leave the house.
type PaymentReason string

const (
	ReasonSellerProceeds PaymentReason = "seller_proceeds"
	ReasonCommission     PaymentReason = "commission"
	ReasonRefund         PaymentReason = "refund"
	ReasonForfeit        PaymentReason = "forfeit"
	ReasonCreationFee    PaymentReason = "creation_fee"
	ReasonReward         PaymentReason = "reward"
)

// Payment is a single outgoing transfer. Asset "" is the native currency.
type Payment struct {
	AuctionID uint64          `json:"auction_id"`
	To        string          `json:"to"`
	Asset     string          `json:"asset,omitempty"`
	TokenID   uint64          `json:"token_id,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    PaymentReason   `json:"reason"`
}
