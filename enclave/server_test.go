package main

import (
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"
	"github.com/veraison/go-cose"

	"github.com/cloudx-io/escrowhouse/config"
	"github.com/cloudx-io/escrowhouse/core"
	"github.com/cloudx-io/escrowhouse/enclaveapi"
	"github.com/cloudx-io/escrowhouse/enclaveapi/parsing"
	"github.com/cloudx-io/escrowhouse/engine"
)

// call runs req through dispatch and decodes the JSON response into T.
func call[T any](t *testing.T, s *EnclaveServer, req any) T {
	t.Helper()
	raw, err := json.Marshal(req)
	assert.NoError(t, err)

	resp := s.dispatch(testContext(t), raw)
	data, err := json.Marshal(resp)
	assert.NoError(t, err)

	var out T
	assert.NoError(t, json.Unmarshal(data, &out))
	return out
}

func createAuction(t *testing.T, s *EnclaveServer, params core.CreateParams) uint64 {
	t.Helper()
	resp := call[enclaveapi.AuctionCreatedResponse](t, s, enclaveapi.CreateAuctionRequest{
		Type:    enclaveapi.TypeCreateAuction,
		Seller:  "seller",
		PaidFee: core.Ether("0.01"),
		Auction: params,
	})
	assert.Equal(t, enclaveapi.TypeAuctionCreated, resp.Type)
	return resp.AuctionID
}

func placeBid(t *testing.T, s *EnclaveServer, auctionID uint64, bidder string, amount decimal.Decimal) enclaveapi.BidResponse {
	t.Helper()
	return call[enclaveapi.BidResponse](t, s, enclaveapi.PlaceBidRequest{
		Type:      enclaveapi.TypePlaceBid,
		AuctionID: auctionID,
		Bidder:    bidder,
		Amount:    amount,
	})
}

func earlyCloseParams(typ core.AuctionType) core.CreateParams {
	return core.CreateParams{
		Name:            "lot",
		Type:            typ,
		StartPrice:      core.Ether("1"),
		MinBidIncrement: core.Ether("0.1"),
		EndTime:         time.Now().Add(time.Hour),
		NumWinners:      1,
		CanCloseEarly:   true,
	}
}

func verifyReceipt(t *testing.T, s *EnclaveServer, b64 enclaveapi.COSEBase64) enclaveapi.SettlementReceipt {
	t.Helper()
	raw, err := b64.Decode()
	assert.NoError(t, err)

	var msg cose.UntaggedSign1Message
	assert.NoError(t, msg.UnmarshalCBOR(raw))
	verifier, err := cose.NewVerifier(cose.AlgorithmES256, s.keyManager.PublicKey)
	assert.NoError(t, err)
	assert.NoError(t, (*cose.Sign1Message)(&msg).Verify(nil, verifier))

	receipt, err := enclaveapi.UnmarshalReceipt(msg.Payload)
	assert.NoError(t, err)
	return receipt
}

func TestDispatchPing(t *testing.T) {
	s := newTestServer(t, nil)
	resp := call[enclaveapi.PongResponse](t, s, map[string]string{"type": enclaveapi.TypePing})
	check.Equal(t, enclaveapi.TypePong, resp.Type)
	check.True(t, resp.Timestamp > 0)
}

func TestDispatchErrors(t *testing.T) {
	s := newTestServer(t, nil)

	tests := []struct {
		name  string
		req   any
		code  string
		class core.ErrorClass
	}{
		{
			name:  "unknown type",
			req:   map[string]string{"type": "mystery"},
			code:  "invalid_parameters",
			class: core.ClassValidation,
		},
		{
			name:  "malformed body",
			req:   map[string]any{"type": enclaveapi.TypePlaceBid, "auction_id": "one"},
			code:  "invalid_parameters",
			class: core.ClassValidation,
		},
		{
			name:  "unknown auction",
			req:   enclaveapi.AuctionQuery{Type: enclaveapi.TypeGetAuction, AuctionID: 42},
			code:  "auction_not_found",
			class: core.ClassNotFound,
		},
		{
			name: "fee mismatch",
			req: enclaveapi.CreateAuctionRequest{
				Type:    enclaveapi.TypeCreateAuction,
				Seller:  "seller",
				PaidFee: core.Ether("1"),
				Auction: earlyCloseParams(core.English),
			},
			code:  "fee_mismatch",
			class: core.ClassValidation,
		},
		{
			name:  "claim of missing token",
			req:   enclaveapi.ClaimRewardRequest{Type: enclaveapi.TypeClaimReward, TokenID: 9, Caller: "bob"},
			code:  "token_not_found",
			class: core.ClassNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := call[enclaveapi.ErrorResponse](t, s, tt.req)
			check.Equal(t, enclaveapi.TypeError, resp.Type)
			check.Equal(t, tt.code, resp.ErrorCode)
			check.Equal(t, string(tt.class), resp.ErrorClass)
			check.NotEqual(t, "", resp.Message)
		})
	}

	// Non-JSON input never reaches a handler.
	raw := s.dispatch(testContext(t), json.RawMessage(`"just a string"`))
	errResp, ok := raw.(enclaveapi.ErrorResponse)
	check.True(t, ok)
	check.Equal(t, "invalid_parameters", errResp.ErrorCode)
}

func TestEnglishAuctionSettlesWithSignedReceipt(t *testing.T) {
	s := newTestServer(t, nil)
	id := createAuction(t, s, earlyCloseParams(core.English))

	check.Equal(t, enclaveapi.TypeBidAccepted, placeBid(t, s, id, "alice", core.Ether("1")).Type)
	check.Equal(t, enclaveapi.TypeBidAccepted, placeBid(t, s, id, "bob", core.Ether("2")).Type)

	low := call[enclaveapi.ErrorResponse](t, s, enclaveapi.PlaceBidRequest{
		Type: enclaveapi.TypePlaceBid, AuctionID: id, Bidder: "carol", Amount: core.Ether("2"),
	})
	check.Equal(t, "bid_too_low", low.ErrorCode)

	notSeller := call[enclaveapi.ErrorResponse](t, s, enclaveapi.EndAuctionRequest{
		Type: enclaveapi.TypeEndAuction, AuctionID: id, Caller: "bob",
	})
	check.Equal(t, "not_authorized", notSeller.ErrorCode)

	settled := call[enclaveapi.SettlementResponse](t, s, enclaveapi.EndAuctionRequest{
		Type: enclaveapi.TypeEndAuction, AuctionID: id, Caller: "seller",
	})
	check.Equal(t, enclaveapi.TypeAuctionSettled, settled.Type)
	check.Equal(t, "", settled.Warning)
	assert.Equal(t, 1, len(settled.Record.Winners))
	check.Equal(t, "bob", settled.Record.Winners[0].Bidder)
	check.True(t, settled.Record.Conserved())

	receipt := verifyReceipt(t, s, settled.Receipt)
	check.Equal(t, id, receipt.AuctionID)
	check.Equal(t, s.keyManager.KeyID(), receipt.KeyID)
	check.Equal(t, core.ComputeRecordHash(&settled.Record, receipt.Nonce), receipt.RecordHash)

	// 5% commission to the platform, the rest to the seller, alice refunded.
	check.True(t, s.treasury.Balance("seller").Equal(core.Ether("1.9")))
	check.True(t, s.treasury.Balance("platform").Equal(core.Ether("0.11")))
	check.True(t, s.treasury.Balance("alice").Equal(core.Ether("1")))

	again := call[enclaveapi.ErrorResponse](t, s, enclaveapi.EndAuctionRequest{
		Type: enclaveapi.TypeEndAuction, AuctionID: id, Caller: "seller",
	})
	check.Equal(t, "already_ended", again.ErrorCode)
	check.Equal(t, string(core.ClassLifecycle), again.ErrorClass)

	state := call[enclaveapi.AuctionStateResponse](t, s, enclaveapi.AuctionQuery{
		Type: enclaveapi.TypeGetAuction, AuctionID: id,
	})
	check.False(t, state.Auction.Active)
	check.True(t, state.Auction.Settled)
	check.True(t, state.Auction.Escrow.IsZero())
	assert.NotNil(t, state.Record)
	check.Equal(t, "bob", state.Record.Winners[0].Bidder)
}

func TestDutchBidCarriesSettlement(t *testing.T) {
	s := newTestServer(t, nil)
	params := core.CreateParams{
		Name:                "dutch lot",
		Type:                core.Dutch,
		StartPrice:          core.Ether("10"),
		MaxPrice:            core.Ether("10"),
		DutchPriceDecrement: core.Ether("0.001"),
		EndTime:             time.Now().Add(time.Hour),
		NumWinners:          1,
		CanCloseEarly:       true,
	}
	id := createAuction(t, s, params)

	price := call[enclaveapi.DutchPriceResponse](t, s, enclaveapi.AuctionQuery{
		Type: enclaveapi.TypeDutchPrice, AuctionID: id,
	})
	check.Equal(t, enclaveapi.TypeDutchPriceResponse, price.Type)
	check.True(t, price.Price.LessThanOrEqual(core.Ether("10")))
	check.True(t, price.Price.IsPositive())

	bid := placeBid(t, s, id, "alice", core.Ether("10"))
	check.Equal(t, enclaveapi.TypeBidAccepted, bid.Type)
	assert.NotNil(t, bid.Settlement)
	check.Equal(t, "alice", bid.Settlement.Record.Winners[0].Bidder)
	check.True(t, bid.Settlement.Record.Conserved())
	verifyReceipt(t, s, bid.Settlement.Receipt)

	fromURL, err := bid.Settlement.ReceiptURL.Decode()
	assert.NoError(t, err)
	fromGzip, err := bid.Settlement.ReceiptGzip.Decompress()
	assert.NoError(t, err)
	check.Equal(t, bid.Settlement.Receipt, fromURL.EncodeBase64())
	check.Equal(t, bid.Settlement.Receipt, fromGzip.EncodeBase64())

	confirmed := call[enclaveapi.SettlementResponse](t, s, enclaveapi.EndAuctionRequest{
		Type: enclaveapi.TypeEndAuction, AuctionID: id, Caller: "seller",
	})
	check.Equal(t, enclaveapi.TypeAuctionSettled, confirmed.Type)
	check.Equal(t, "alice", confirmed.Record.Winners[0].Bidder)
}

func TestSealedBidRevealOverProtocol(t *testing.T) {
	s := newTestServer(t, nil)
	params := earlyCloseParams(core.SealedBid)
	params.SealedBidRevealTime = time.Now().Add(30 * time.Minute)
	id := createAuction(t, s, params)

	hash := core.ComputeCommitmentHash(core.Ether("3"), "s3cret")
	resp := call[enclaveapi.BidResponse](t, s, enclaveapi.PlaceBidRequest{
		Type: enclaveapi.TypePlaceBid, AuctionID: id, Bidder: "alice", Amount: core.Ether("3"), SealedHash: hash,
	})
	check.Equal(t, enclaveapi.TypeBidAccepted, resp.Type)

	early := call[enclaveapi.ErrorResponse](t, s, enclaveapi.RevealBidRequest{
		Type: enclaveapi.TypeRevealBid, AuctionID: id, Bidder: "alice", Amount: core.Ether("3"), Secret: "s3cret",
	})
	check.Equal(t, "too_early", early.ErrorCode)

	missing := call[enclaveapi.ErrorResponse](t, s, enclaveapi.PlaceBidRequest{
		Type: enclaveapi.TypePlaceBid, AuctionID: id, Bidder: "bob", Amount: core.Ether("1"),
	})
	check.Equal(t, "invalid_parameters", missing.ErrorCode)
}

func TestClaimRewardPublishesToJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	s := newTestServer(t, func(c *config.Config) { c.JournalPath = path })

	params := earlyCloseParams(core.English)
	params.Reward = core.RewardBinding{
		IsRWA:    true,
		TokenURI: "ipfs://lot",
		Token:    "USDC",
		Amount:   decimal.NewFromInt(500),
		Kind:     core.RewardFungible,
	}
	id := createAuction(t, s, params)
	placeBid(t, s, id, "bob", core.Ether("1"))

	settled := call[enclaveapi.SettlementResponse](t, s, enclaveapi.EndAuctionRequest{
		Type: enclaveapi.TypeEndAuction, AuctionID: id, Caller: "seller",
	})
	check.Equal(t, enclaveapi.TypeAuctionSettled, settled.Type)

	holder, err := s.rewards.OwnerOf(0)
	assert.NoError(t, err)
	check.Equal(t, "bob", holder)

	notHolder := call[enclaveapi.ErrorResponse](t, s, enclaveapi.ClaimRewardRequest{
		Type: enclaveapi.TypeClaimReward, TokenID: 0, Caller: "alice",
	})
	check.Equal(t, "not_token_owner", notHolder.ErrorCode)

	claimed := call[enclaveapi.ClaimRewardResponse](t, s, enclaveapi.ClaimRewardRequest{
		Type: enclaveapi.TypeClaimReward, TokenID: 0, Caller: "bob",
	})
	check.Equal(t, enclaveapi.TypeRewardClaimed, claimed.Type)
	assert.NotNil(t, claimed.Payment)
	check.Equal(t, "USDC", claimed.Payment.Asset)
	check.True(t, s.treasury.AssetBalance("bob", "USDC", 0).Equal(decimal.NewFromInt(500)))

	twice := call[enclaveapi.ErrorResponse](t, s, enclaveapi.ClaimRewardRequest{
		Type: enclaveapi.TypeClaimReward, TokenID: 0, Caller: "bob",
	})
	check.Equal(t, "already_claimed", twice.ErrorCode)

	events, err := s.journal.Events(testContext(t), id)
	assert.NoError(t, err)
	var kinds []engine.EventKind
	for _, ev := range events {
		kinds = append(kinds, ev.Kind)
	}
	check.Equal(t, []engine.EventKind{
		engine.EventAuctionCreated,
		engine.EventBidPlaced,
		engine.EventAuctionEnded,
		engine.EventRewardIssued,
		engine.EventRewardClaimed,
	}, kinds)

	saved, err := s.journal.Settlement(testContext(t), id)
	assert.NoError(t, err)
	check.Equal(t, "bob", saved.Winners[0].Bidder)
}

func TestDispatchKeyRequest(t *testing.T) {
	s := newTestServer(t, nil)

	unattested := call[enclaveapi.KeyResponse](t, s, map[string]string{"type": enclaveapi.TypeKeyRequest})
	check.Equal(t, enclaveapi.TypeKeyResponse, unattested.Type)
	check.Equal(t, s.keyManager.KeyID(), unattested.KeyID)
	check.Equal(t, enclaveapi.COSEBase64(""), unattested.Attestation)

	mock := CreateMockEnclave(t)
	s.attester = func() (EnclaveAttester, error) { return mock, nil }

	attested := call[enclaveapi.KeyResponse](t, s, map[string]string{"type": enclaveapi.TypeKeyRequest})
	raw, err := attested.Attestation.Decode()
	assert.NoError(t, err)
	doc, err := parsing.ParseKeyAttestation(raw)
	assert.NoError(t, err)
	assert.NotNil(t, doc.UserData)
	check.Equal(t, attested.PublicKey, doc.UserData.PublicKey)
}

func TestServeOverTCP(t *testing.T) {
	s := newTestServer(t, nil)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NoError(t, err)

	ctx, cancel := context.WithCancel(testContext(t))
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, listener) }()

	conn, err := net.Dial("tcp", listener.Addr().String())
	assert.NoError(t, err)
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	assert.NoError(t, json.NewEncoder(conn).Encode(map[string]string{"type": enclaveapi.TypePing}))
	var pong enclaveapi.PongResponse
	assert.NoError(t, json.NewDecoder(conn).Decode(&pong))
	check.Equal(t, enclaveapi.TypePong, pong.Type)
	check.True(t, strings.Contains(pong.Message, "healthy"))
	_ = conn.Close()

	cancel()
	select {
	case err := <-done:
		check.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not stop after cancel")
	}
}
