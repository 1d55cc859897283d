package core

import (
	"sort"

	"github.com/shopspring/decimal"
)

// CoreBid is the ranking view of a bid: who, how much, and the per-auction
// sequence number of the operation that established the amount.
type CoreBid struct {
	Bidder string
	Amount decimal.Decimal
	Seq    uint64
}

// CoreRankingResult contains the ranked bidders and their highest bids.
type CoreRankingResult struct {
	Ranks         map[string]int
	HighestBids   map[string]*CoreBid
	SortedBidders []string
}

// RankCoreBids keeps the highest bid of every bidder and orders bidders by
// amount descending. Equal amounts are ordered by Seq ascending, so the bidder
// who reached the amount first ranks higher.
func RankCoreBids(bids []CoreBid) *CoreRankingResult {
	if len(bids) == 0 {
		return &CoreRankingResult{
			Ranks:         make(map[string]int),
			HighestBids:   make(map[string]*CoreBid),
			SortedBidders: make([]string, 0),
		}
	}

	// Find highest bid per bidder, keeping the earliest on equal amounts
	bidderMap := make(map[string]*CoreBid)
	bidderOrder := make([]string, 0, len(bids))

	for i := range bids {
		bid := &bids[i]

		existing, exists := bidderMap[bid.Bidder]
		if !exists {
			bidderOrder = append(bidderOrder, bid.Bidder)
			bidderMap[bid.Bidder] = bid
			continue
		}
		if bid.Amount.GreaterThan(existing.Amount) ||
			(bid.Amount.Equal(existing.Amount) && bid.Seq < existing.Seq) {
			bidderMap[bid.Bidder] = bid
		}
	}

	entries := make([]*CoreBid, 0, len(bidderOrder))
	for _, bidder := range bidderOrder {
		entries = append(entries, bidderMap[bidder])
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].Amount.Equal(entries[j].Amount) {
			return entries[i].Amount.GreaterThan(entries[j].Amount)
		}
		return entries[i].Seq < entries[j].Seq
	})

	result := &CoreRankingResult{
		Ranks:         make(map[string]int, len(entries)),
		HighestBids:   make(map[string]*CoreBid, len(entries)),
		SortedBidders: make([]string, len(entries)),
	}

	for rank, entry := range entries {
		result.Ranks[entry.Bidder] = rank + 1
		result.HighestBids[entry.Bidder] = entry
		result.SortedBidders[rank] = entry.Bidder
	}

	return result
}

// Top returns the first n ranked bids, or all of them when fewer exist.
func (r *CoreRankingResult) Top(n int) []CoreBid {
	if n > len(r.SortedBidders) {
		n = len(r.SortedBidders)
	}
	if n < 0 {
		n = 0
	}
	top := make([]CoreBid, 0, n)
	for _, bidder := range r.SortedBidders[:n] {
		top = append(top, *r.HighestBids[bidder])
	}
	return top
}
