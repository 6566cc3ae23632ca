package domain

import "time"

// AssetClassOther is the bucket unclassified positions fall into so that
// downstream workers always see a usable snapshot.
const AssetClassOther = "other"

// SnapshotPosition is one valued holding inside a snapshot.
type SnapshotPosition struct {
	Symbol   string  `json:"symbol"`
	Name     string  `json:"name"`
	Quantity float64 `json:"quantity"`
	Price    float64 `json:"price"`
	Value    float64 `json:"value"`
}

// PortfolioSnapshot is the in-memory, derived summary of one user's holdings
// at the moment of dispatch. It is built once per job run and passed to
// workers by value; it is never persisted.
type PortfolioSnapshot struct {
	UserID     string             `json:"user_id"`
	TotalValue float64            `json:"total_value"`
	CashValue  float64            `json:"cash_value"`
	Positions  []SnapshotPosition `json:"positions"`
	AssetClass map[string]float64 `json:"asset_class"`
	Region     map[string]float64 `json:"region"`
	Sector     map[string]float64 `json:"sector"`
	TakenAt    time.Time          `json:"taken_at"`
}

// BuildSnapshot derives a snapshot from a consistent portfolio read.
// Positions without a price contribute zero value; positions whose instrument
// is unclassified contribute their full value to the "other" bucket of every
// aggregate. Aggregates are percentages of total value and are empty when the
// portfolio is worth nothing.
func BuildSnapshot(userID string, p Portfolio, now time.Time) PortfolioSnapshot {
	snap := PortfolioSnapshot{
		UserID:     userID,
		AssetClass: map[string]float64{},
		Region:     map[string]float64{},
		Sector:     map[string]float64{},
		TakenAt:    now,
	}
	for _, a := range p.Accounts {
		snap.CashValue += a.CashBalance
	}

	assetValue := map[string]float64{}
	regionValue := map[string]float64{}
	sectorValue := map[string]float64{}

	for _, pos := range p.Positions {
		inst := p.Instruments[pos.Symbol]
		var price float64
		if inst.Price != nil {
			price = *inst.Price
		}
		value := pos.Quantity * price
		snap.Positions = append(snap.Positions, SnapshotPosition{
			Symbol:   pos.Symbol,
			Name:     inst.Name,
			Quantity: pos.Quantity,
			Price:    price,
			Value:    value,
		})
		if value == 0 {
			continue
		}
		spread(assetValue, inst.AssetClass, value)
		spread(regionValue, inst.Region, value)
		spread(sectorValue, inst.Sector, value)
	}

	var positionValue float64
	for _, sp := range snap.Positions {
		positionValue += sp.Value
	}
	snap.TotalValue = snap.CashValue + positionValue

	if snap.TotalValue <= 0 {
		return snap
	}
	if snap.CashValue > 0 {
		assetValue["cash"] += snap.CashValue
	}
	snap.AssetClass = toPercent(assetValue, snap.TotalValue)
	snap.Region = toPercent(regionValue, positionValue)
	snap.Sector = toPercent(sectorValue, positionValue)
	return snap
}

// spread distributes value across the buckets of m, weighted by each bucket's
// percentage; an unclassified map sends the whole value to "other".
func spread(into map[string]float64, m AllocationMap, value float64) {
	if !m.Classified() {
		into[AssetClassOther] += value
		return
	}
	for bucket, pct := range m {
		into[bucket] += value * pct / 100
	}
}

func toPercent(values map[string]float64, total float64) map[string]float64 {
	out := map[string]float64{}
	if total <= 0 {
		return out
	}
	for bucket, v := range values {
		out[bucket] = v / total * 100
	}
	return out
}
