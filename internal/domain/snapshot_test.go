package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsight-ai/finsight/internal/domain"
)

func price(v float64) *float64 { return &v }

func TestBuildSnapshot_ValuesAndAllocations(t *testing.T) {
	t.Parallel()
	pf := domain.Portfolio{
		Accounts: []domain.Account{{ID: "a1", UserID: "u1", CashBalance: 1000}},
		Positions: []domain.Position{
			{AccountID: "a1", Symbol: "VTI", Quantity: 10},
			{AccountID: "a1", Symbol: "BND", Quantity: 20},
		},
		Instruments: map[string]domain.Instrument{
			"VTI": {
				Symbol: "VTI", Name: "Total Market", Price: price(200),
				AssetClass: domain.AllocationMap{"equity": 100},
				Region:     domain.AllocationMap{"us": 100},
				Sector:     domain.AllocationMap{"broad": 100},
			},
			"BND": {
				Symbol: "BND", Name: "Total Bond", Price: price(50),
				AssetClass: domain.AllocationMap{"bond": 100},
				Region:     domain.AllocationMap{"us": 100},
				Sector:     domain.AllocationMap{"fixed_income": 100},
			},
		},
	}

	snap := domain.BuildSnapshot("u1", pf, time.Now())

	// 10*200 + 20*50 + 1000 cash
	assert.InDelta(t, 4000, snap.TotalValue, 0.001)
	assert.InDelta(t, 1000, snap.CashValue, 0.001)
	require.Len(t, snap.Positions, 2)

	// Asset class percentages are of total value, cash included.
	assert.InDelta(t, 50, snap.AssetClass["equity"], 0.001)
	assert.InDelta(t, 25, snap.AssetClass["bond"], 0.001)
	assert.InDelta(t, 25, snap.AssetClass["cash"], 0.001)

	// Region/sector percentages are of position value only.
	assert.InDelta(t, 100, snap.Region["us"], 0.001)
}

func TestBuildSnapshot_MissingPriceContributesZero(t *testing.T) {
	t.Parallel()
	pf := domain.Portfolio{
		Accounts:  []domain.Account{{ID: "a1", CashBalance: 500}},
		Positions: []domain.Position{{AccountID: "a1", Symbol: "MYST", Quantity: 42}},
		Instruments: map[string]domain.Instrument{
			"MYST": {Symbol: "MYST", AssetClass: domain.AllocationMap{"equity": 100}},
		},
	}
	snap := domain.BuildSnapshot("u1", pf, time.Now())

	assert.InDelta(t, 500, snap.TotalValue, 0.001)
	require.Len(t, snap.Positions, 1)
	assert.Zero(t, snap.Positions[0].Value)
	// The worthless position adds nothing to allocations; cash is all there is.
	assert.InDelta(t, 100, snap.AssetClass["cash"], 0.001)
}

func TestBuildSnapshot_UnclassifiedGoesToOther(t *testing.T) {
	t.Parallel()
	pf := domain.Portfolio{
		Positions: []domain.Position{{AccountID: "a1", Symbol: "XYZ", Quantity: 10}},
		Instruments: map[string]domain.Instrument{
			"XYZ": {Symbol: "XYZ", Price: price(10)},
		},
	}
	snap := domain.BuildSnapshot("u1", pf, time.Now())

	assert.InDelta(t, 100, snap.AssetClass[domain.AssetClassOther], 0.001)
	assert.InDelta(t, 100, snap.Region[domain.AssetClassOther], 0.001)
	assert.InDelta(t, 100, snap.Sector[domain.AssetClassOther], 0.001)
}

func TestBuildSnapshot_SplitAllocation(t *testing.T) {
	t.Parallel()
	pf := domain.Portfolio{
		Positions: []domain.Position{{AccountID: "a1", Symbol: "VT", Quantity: 1}},
		Instruments: map[string]domain.Instrument{
			"VT": {
				Symbol: "VT", Price: price(100),
				AssetClass: domain.AllocationMap{"equity": 100},
				Region:     domain.AllocationMap{"us": 60, "intl": 40},
				Sector:     domain.AllocationMap{"broad": 100},
			},
		},
	}
	snap := domain.BuildSnapshot("u1", pf, time.Now())

	assert.InDelta(t, 60, snap.Region["us"], 0.001)
	assert.InDelta(t, 40, snap.Region["intl"], 0.001)
}

func TestBuildSnapshot_EmptyPortfolio(t *testing.T) {
	t.Parallel()
	snap := domain.BuildSnapshot("u1", domain.Portfolio{}, time.Now())

	assert.Zero(t, snap.TotalValue)
	assert.Empty(t, snap.Positions)
	assert.Empty(t, snap.AssetClass)
	assert.Empty(t, snap.Region)
	assert.Empty(t, snap.Sector)
}

func TestPortfolio_Symbols(t *testing.T) {
	t.Parallel()
	pf := domain.Portfolio{
		Positions: []domain.Position{
			{AccountID: "a1", Symbol: "VTI"},
			{AccountID: "a2", Symbol: "BND"},
			{AccountID: "a2", Symbol: "VTI"},
		},
	}
	assert.Equal(t, []string{"VTI", "BND"}, pf.Symbols())
}

func TestInstrument_NeedsClassification(t *testing.T) {
	t.Parallel()
	full := domain.Instrument{
		AssetClass: domain.AllocationMap{"equity": 100},
		Region:     domain.AllocationMap{"us": 100},
		Sector:     domain.AllocationMap{"tech": 100},
	}
	assert.False(t, full.NeedsClassification())

	partial := full
	partial.Region = nil
	assert.True(t, partial.NeedsClassification())

	assert.True(t, domain.Instrument{}.NeedsClassification())
}
