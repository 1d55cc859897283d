package core

import (
	"testing"
	"time"

	"github.com/peterldowns/testy/check"
)

func TestDutchPrice(t *testing.T) {
	createdAt := time.Unix(1_700_000_000, 0)
	endTime := createdAt.Add(time.Hour)
	start := Ether("10")
	decrement := Ether("1")

	testCases := []struct {
		name string
		now  time.Time
		want string
	}{
		{"at creation", createdAt, Ether("10").String()},
		{"before creation clamps", createdAt.Add(-time.Minute), Ether("10").String()},
		{"half way", createdAt.Add(30 * time.Minute), Ether("9.5").String()},
		{"at end", endTime, Ether("9").String()},
		{"one second in", createdAt.Add(time.Second), "9999722222222222223"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			check.Equal(t, tc.want, DutchPrice(start, decrement, createdAt, endTime, tc.now).String())
		})
	}
}

func TestDutchPrice_FloorsAtOneUnit(t *testing.T) {
	createdAt := time.Unix(1_700_000_000, 0)
	endTime := createdAt.Add(time.Hour)

	price := DutchPrice(Ether("1"), Ether("5"), createdAt, endTime, endTime)
	check.Equal(t, "1", price.String())
}

func TestDutchPrice_DegenerateSchedule(t *testing.T) {
	createdAt := time.Unix(1_700_000_000, 0)

	price := DutchPrice(Ether("10"), Ether("1"), createdAt, createdAt, createdAt)
	check.Equal(t, Ether("9").String(), price.String())
}

func TestCurrentDutchPrice(t *testing.T) {
	createdAt := time.Unix(1_700_000_000, 0)
	a := &Auction{
		Type:                Dutch,
		StartPrice:          Ether("10"),
		DutchPriceDecrement: Ether("1"),
		CreatedAt:           createdAt,
		EndTime:             createdAt.Add(3600 * time.Second),
	}

	check.Equal(t, Ether("10").String(), CurrentDutchPrice(a, createdAt).String())
	check.Equal(t, Ether("9.75").String(), CurrentDutchPrice(a, createdAt.Add(15*time.Minute)).String())
}
