// Package rewards issues receipt tokens to auction winners and releases the
// reward bound to each token once, to whoever holds it.
package rewards

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/cloudx-io/escrowhouse/core"
)

// Token is one receipt token. IDs are assigned sequentially from 0.
type Token struct {
	ID        uint64 `json:"token_id"`
	Owner     string `json:"owner"`
	AuctionID uint64 `json:"auction_id"`
	URI       string `json:"token_uri"`
	Claimed   bool   `json:"claimed"`
}

// Registry holds every minted token. Only the configured auction house
// identity may mint; only the owner may change that identity.
type Registry struct {
	owner  string
	logger *zap.Logger

	mu      sync.RWMutex
	house   string
	tokens  []*Token
	onClaim func(ctx context.Context, tokenID uint64, holder string)
}

func NewRegistry(owner string, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{owner: owner, logger: logger}
}

// SetAuctionHouse authorizes house to mint. Only the registry owner may call it.
func (r *Registry) SetAuctionHouse(caller, house string) error {
	if caller == "" || caller != r.owner {
		return fmt.Errorf("%w: only the owner may set the auction house", core.ErrNotAuthorized)
	}
	if house == "" {
		return fmt.Errorf("%w: auction house identity is required", core.ErrInvalidParameters)
	}
	r.mu.Lock()
	r.house = house
	r.mu.Unlock()
	r.logger.Info("Auction house authorized", zap.String("house", house))
	return nil
}

// OnClaim registers fn to observe every successful claim. fn runs after the
// claimed flag is set and outside the registry lock.
func (r *Registry) OnClaim(fn func(ctx context.Context, tokenID uint64, holder string)) {
	r.mu.Lock()
	r.onClaim = fn
	r.mu.Unlock()
}

// AuctionHouse returns the identity currently allowed to mint.
func (r *Registry) AuctionHouse() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.house
}

// Mint creates a token for to. caller must be the authorized auction house.
func (r *Registry) Mint(caller string, auctionID uint64, to, uri string) (uint64, error) {
	if to == "" {
		return 0, fmt.Errorf("%w: mint recipient is required", core.ErrInvalidParameters)
	}

	r.mu.Lock()
	if r.house == "" || caller != r.house {
		r.mu.Unlock()
		return 0, fmt.Errorf("%w: only the auction house may mint", core.ErrNotAuthorized)
	}
	id := uint64(len(r.tokens))
	r.tokens = append(r.tokens, &Token{ID: id, Owner: to, AuctionID: auctionID, URI: uri})
	r.mu.Unlock()

	r.logger.Info("Token minted",
		zap.Uint64("token_id", id),
		zap.Uint64("auction_id", auctionID),
		zap.String("owner", to))
	return id, nil
}

// MinterFor binds the registry to a caller identity so the auction house can
// mint through a context-aware interface.
func (r *Registry) MinterFor(identity string) *Minter {
	return &Minter{registry: r, identity: identity}
}

func (r *Registry) token(tokenID uint64) (*Token, error) {
	if tokenID >= uint64(len(r.tokens)) {
		return nil, fmt.Errorf("%w: %d", core.ErrTokenNotFound, tokenID)
	}
	return r.tokens[tokenID], nil
}

// Token returns a copy of a token.
func (r *Registry) Token(tokenID uint64) (Token, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, err := r.token(tokenID)
	if err != nil {
		return Token{}, err
	}
	return *t, nil
}

func (r *Registry) OwnerOf(tokenID uint64) (string, error) {
	t, err := r.Token(tokenID)
	return t.Owner, err
}

func (r *Registry) AuctionOf(tokenID uint64) (uint64, error) {
	t, err := r.Token(tokenID)
	return t.AuctionID, err
}

func (r *Registry) TokenURI(tokenID uint64) (string, error) {
	t, err := r.Token(tokenID)
	return t.URI, err
}

func (r *Registry) IsClaimed(tokenID uint64) (bool, error) {
	t, err := r.Token(tokenID)
	return t.Claimed, err
}

// TotalSupply returns the number of minted tokens.
func (r *Registry) TotalSupply() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tokens)
}

// Transfer moves a token from its holder to another account. The claimed
// flag travels with the token.
func (r *Registry) Transfer(caller string, tokenID uint64, to string) error {
	if to == "" {
		return fmt.Errorf("%w: transfer recipient is required", core.ErrInvalidParameters)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	t, err := r.token(tokenID)
	if err != nil {
		return err
	}
	if caller != t.Owner {
		return fmt.Errorf("%w: token %d", core.ErrNotTokenOwner, tokenID)
	}
	t.Owner = to
	r.logger.Info("Token transferred",
		zap.Uint64("token_id", tokenID),
		zap.String("from", caller),
		zap.String("to", to))
	return nil
}

// Minter mints on behalf of a fixed caller identity.
type Minter struct {
	registry *Registry
	identity string
}

func (m *Minter) Mint(ctx context.Context, auctionID uint64, to, metadataURI string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return m.registry.Mint(m.identity, auctionID, to, metadataURI)
}
