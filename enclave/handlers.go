package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cloudx-io/escrowhouse/core"
	"github.com/cloudx-io/escrowhouse/enclaveapi"
)

func errorResponse(err error) enclaveapi.ErrorResponse {
	resp := enclaveapi.ErrorResponse{
		Type:    enclaveapi.TypeError,
		Message: err.Error(),
	}
	if class := core.Classify(err); class != core.ClassUnknown {
		resp.ErrorCode = core.ErrorCode(err)
		resp.ErrorClass = string(class)
	}
	return resp
}

// warning returns the message of a post-commit interaction failure. Any
// other error must be reported as a failed request instead.
func warning(err error) (string, bool) {
	if err == nil {
		return "", true
	}
	if errors.Is(err, core.ErrInteractionFailed) {
		return err.Error(), true
	}
	return "", false
}

func decode[T any](raw json.RawMessage) (T, error) {
	var req T
	if err := json.Unmarshal(raw, &req); err != nil {
		return req, fmt.Errorf("%w: malformed request: %v", core.ErrInvalidParameters, err)
	}
	return req, nil
}

// dispatch decodes one request and runs it against the house.
func (s *EnclaveServer) dispatch(ctx context.Context, raw json.RawMessage) any {
	var baseReq struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &baseReq); err != nil {
		s.logger.Warn("Failed to decode base request", zap.Error(err))
		return errorResponse(fmt.Errorf("%w: malformed request: %v", core.ErrInvalidParameters, err))
	}

	s.logger.Debug("Received request", zap.String("type", baseReq.Type))

	var (
		response any
		err      error
	)
	switch baseReq.Type {
	case enclaveapi.TypePing:
		response = enclaveapi.PongResponse{
			Type:      enclaveapi.TypePong,
			Message:   "auction house is healthy",
			Timestamp: time.Now().Unix(),
		}
	case enclaveapi.TypeKeyRequest:
		response, err = s.handleKeyRequest()
	case enclaveapi.TypeCreateAuction:
		response, err = s.handleCreateAuction(ctx, raw)
	case enclaveapi.TypePlaceBid:
		response, err = s.handlePlaceBid(ctx, raw)
	case enclaveapi.TypeRevealBid:
		response, err = s.handleRevealBid(ctx, raw)
	case enclaveapi.TypeEndAuction:
		response, err = s.handleEndAuction(ctx, raw)
	case enclaveapi.TypeGetAuction:
		response, err = s.handleGetAuction(raw)
	case enclaveapi.TypeDutchPrice:
		response, err = s.handleDutchPrice(raw)
	case enclaveapi.TypeClaimReward:
		response, err = s.handleClaimReward(ctx, raw)
	default:
		err = fmt.Errorf("%w: unknown request type %q", core.ErrInvalidParameters, baseReq.Type)
	}

	if err != nil {
		s.logger.Warn("Request failed", zap.String("type", baseReq.Type), zap.Error(err))
		return errorResponse(err)
	}
	return response
}

func (s *EnclaveServer) handleKeyRequest() (*enclaveapi.KeyResponse, error) {
	attester, err := s.attester()
	if err != nil {
		s.logger.Warn("Serving unattested key", zap.Error(err))
		attester = nil
	}
	return HandleKeyRequest(attester, s.keyManager, s.logger)
}

func (s *EnclaveServer) handleCreateAuction(ctx context.Context, raw json.RawMessage) (*enclaveapi.AuctionCreatedResponse, error) {
	req, err := decode[enclaveapi.CreateAuctionRequest](raw)
	if err != nil {
		return nil, err
	}
	id, err := s.house.CreateAuction(ctx, req.Seller, req.Auction, req.PaidFee)
	msg, ok := warning(err)
	if !ok {
		return nil, err
	}
	return &enclaveapi.AuctionCreatedResponse{
		Type:      enclaveapi.TypeAuctionCreated,
		AuctionID: id,
		Warning:   msg,
	}, nil
}

func (s *EnclaveServer) handlePlaceBid(ctx context.Context, raw json.RawMessage) (*enclaveapi.BidResponse, error) {
	req, err := decode[enclaveapi.PlaceBidRequest](raw)
	if err != nil {
		return nil, err
	}
	result, err := s.house.PlaceBid(ctx, req.AuctionID, req.Bidder, req.Amount, req.SealedHash)
	msg, ok := warning(err)
	if !ok {
		return nil, err
	}

	resp := &enclaveapi.BidResponse{
		Type:     enclaveapi.TypeBidAccepted,
		Bid:      result.Bid,
		EndTime:  result.EndTime,
		Extended: result.Extended,
		Warning:  msg,
	}
	if result.Settlement != nil {
		resp.Settlement = s.settlementResponse(ctx, result.Settlement, msg)
	}
	return resp, nil
}

func (s *EnclaveServer) handleRevealBid(ctx context.Context, raw json.RawMessage) (*enclaveapi.RevealResponse, error) {
	req, err := decode[enclaveapi.RevealBidRequest](raw)
	if err != nil {
		return nil, err
	}
	c, err := s.house.Reveal(ctx, req.AuctionID, req.Bidder, req.Amount, req.Secret)
	if _, ok := warning(err); !ok {
		return nil, err
	}
	return &enclaveapi.RevealResponse{
		Type:       enclaveapi.TypeBidRevealed,
		AuctionID:  req.AuctionID,
		Commitment: c,
	}, nil
}

func (s *EnclaveServer) handleEndAuction(ctx context.Context, raw json.RawMessage) (*enclaveapi.SettlementResponse, error) {
	req, err := decode[enclaveapi.EndAuctionRequest](raw)
	if err != nil {
		return nil, err
	}
	record, err := s.house.EndAuction(ctx, req.AuctionID, req.Caller)
	if record == nil {
		return nil, err
	}
	msg, _ := warning(err)
	return s.settlementResponse(ctx, record, msg), nil
}

// settlementResponse journals and signs a committed settlement. Failures
// here are reported as warnings; the settlement itself stands.
func (s *EnclaveServer) settlementResponse(ctx context.Context, record *core.WinnerRecord, msg string) *enclaveapi.SettlementResponse {
	resp := &enclaveapi.SettlementResponse{
		Type:    enclaveapi.TypeAuctionSettled,
		Record:  *record,
		Warning: msg,
	}

	if s.journal != nil {
		if err := s.journal.SaveSettlement(ctx, record); err != nil {
			s.logger.Error("Failed to journal settlement", zap.Uint64("auction_id", record.AuctionID), zap.Error(err))
		}
	}

	receipt, err := SignReceipt(s.keyManager, record)
	if err != nil {
		s.logger.Error("Failed to sign receipt", zap.Uint64("auction_id", record.AuctionID), zap.Error(err))
		if resp.Warning == "" {
			resp.Warning = err.Error()
		}
		return resp
	}
	resp.Receipt = receipt.EncodeBase64()
	resp.ReceiptURL = receipt.EncodeURLSafe()
	if resp.ReceiptGzip, err = receipt.CompressGzip(); err != nil {
		s.logger.Warn("Failed to compress receipt", zap.Uint64("auction_id", record.AuctionID), zap.Error(err))
	}
	s.logger.Info("Settlement receipt signed",
		zap.Uint64("auction_id", record.AuctionID),
		zap.Int("winners", len(record.Winners)),
		zap.String("key_id", s.keyManager.KeyID()))
	return resp
}

func (s *EnclaveServer) handleGetAuction(raw json.RawMessage) (*enclaveapi.AuctionStateResponse, error) {
	req, err := decode[enclaveapi.AuctionQuery](raw)
	if err != nil {
		return nil, err
	}
	a, err := s.house.Auction(req.AuctionID)
	if err != nil {
		return nil, err
	}
	escrow, err := s.house.EscrowBalance(req.AuctionID)
	if err != nil {
		return nil, err
	}
	record, err := s.house.Winners(req.AuctionID)
	if err != nil {
		return nil, err
	}
	return &enclaveapi.AuctionStateResponse{
		Type: enclaveapi.TypeAuctionState,
		Auction: enclaveapi.AuctionView{
			Auction: a,
			Escrow:  escrow,
			Settled: record != nil,
		},
		Record: record,
	}, nil
}

func (s *EnclaveServer) handleDutchPrice(raw json.RawMessage) (*enclaveapi.DutchPriceResponse, error) {
	req, err := decode[enclaveapi.AuctionQuery](raw)
	if err != nil {
		return nil, err
	}
	price, err := s.house.DutchCurrentPrice(req.AuctionID)
	if err != nil {
		return nil, err
	}
	return &enclaveapi.DutchPriceResponse{
		Type:      enclaveapi.TypeDutchPriceResponse,
		AuctionID: req.AuctionID,
		Price:     price,
	}, nil
}

func (s *EnclaveServer) handleClaimReward(ctx context.Context, raw json.RawMessage) (*enclaveapi.ClaimRewardResponse, error) {
	req, err := decode[enclaveapi.ClaimRewardRequest](raw)
	if err != nil {
		return nil, err
	}
	payment, err := s.rewards.ClaimReward(ctx, req.Caller, req.TokenID, s.house, s.treasury)
	msg, ok := warning(err)
	if !ok {
		return nil, err
	}
	resp := &enclaveapi.ClaimRewardResponse{
		Type:    enclaveapi.TypeRewardClaimed,
		TokenID: req.TokenID,
		Warning: msg,
	}
	if payment.Amount.IsPositive() {
		resp.Payment = &payment
	}
	return resp, nil
}
