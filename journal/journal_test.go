package journal

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/escrowhouse/core"
	"github.com/cloudx-io/escrowhouse/engine"
	"github.com/cloudx-io/escrowhouse/treasury"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(context.Background(), filepath.Join(t.TempDir(), "journal.db"))
	assert.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestJournalRecordsHouseEvents(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0).UTC()

	h, err := engine.New(engine.Config{
		CreationFee:        core.Ether("0.01"),
		CommissionPercent:  5,
		Owner:              "owner",
		PlatformAccount:    "platform",
		UnrevealedDeposits: engine.UnrevealedRefund,
	}, treasury.New(nil), engine.WithEventSink(j), engine.WithClock(func() time.Time { return now }))
	assert.NoError(t, err)

	id, err := h.CreateAuction(ctx, "seller", core.CreateParams{
		Name:          "lamp",
		Type:          core.English,
		StartPrice:    core.Ether("1"),
		EndTime:       now.Add(time.Hour),
		NumWinners:    1,
		CanCloseEarly: true,
	}, core.Ether("0.01"))
	assert.NoError(t, err)
	_, err = h.PlaceBid(ctx, id, "alice", core.Ether("1"), "")
	assert.NoError(t, err)
	rec, err := h.EndAuction(ctx, id, "seller")
	assert.NoError(t, err)
	assert.NoError(t, j.SaveSettlement(ctx, rec))

	events, err := j.Events(ctx, id)
	assert.NoError(t, err)
	assert.Equal(t, 3, len(events))
	check.Equal(t, engine.EventAuctionCreated, events[0].Kind)
	check.Equal(t, "lamp", events[0].Name)
	check.Equal(t, engine.EventBidPlaced, events[1].Kind)
	check.Equal(t, "alice", events[1].Bidder)
	check.Equal(t, core.Ether("1").String(), events[1].Amount.String())
	check.Equal(t, engine.EventAuctionEnded, events[2].Kind)
	check.Equal(t, []string{"alice"}, events[2].Winners)

	stored, err := j.Settlement(ctx, id)
	assert.NoError(t, err)
	check.Equal(t, id, stored.AuctionID)
	check.Equal(t, "alice", stored.Winners[0].Bidder)
	check.True(t, stored.Conserved())
}

func TestJournalFiltersByAuction(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	at := time.Unix(1_700_000_000, 0).UTC()

	assert.NoError(t, j.Publish(ctx, engine.Event{Kind: engine.EventBidPlaced, AuctionID: 1, At: at}))
	assert.NoError(t, j.Publish(ctx, engine.Event{Kind: engine.EventBidPlaced, AuctionID: 2, At: at}))
	assert.NoError(t, j.Publish(ctx, engine.Event{Kind: engine.EventAuctionEnded, AuctionID: 1, At: at}))

	one, err := j.Events(ctx, 1)
	assert.NoError(t, err)
	check.Equal(t, 2, len(one))
	check.Equal(t, engine.EventAuctionEnded, one[1].Kind)

	all, err := j.Events(ctx, 0)
	assert.NoError(t, err)
	check.Equal(t, 3, len(all))
}

func TestSettlementNotFound(t *testing.T) {
	j := openTestJournal(t)
	_, err := j.Settlement(context.Background(), 4)
	check.True(t, errors.Is(err, ErrNotFound))
}

func TestSaveSettlementReplaces(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	r := &core.WinnerRecord{AuctionID: 3, EscrowBefore: core.Ether("1"), SettledAt: time.Unix(1_700_000_000, 0).UTC()}
	assert.NoError(t, j.SaveSettlement(ctx, r))

	r.Rewards = []core.IssuedReward{{Winner: "alice", TokenID: 0, Minted: true}}
	assert.NoError(t, j.SaveSettlement(ctx, r))

	stored, err := j.Settlement(ctx, 3)
	assert.NoError(t, err)
	check.Equal(t, 1, len(stored.Rewards))
	check.Equal(t, core.Ether("1").String(), stored.EscrowBefore.String())
}
