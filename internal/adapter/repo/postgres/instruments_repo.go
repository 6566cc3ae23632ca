package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/finsight-ai/finsight/internal/domain"
)

// InstrumentRepo writes classifier output and refreshed prices back to the
// instruments table.
type InstrumentRepo struct{ Pool PgxPool }

// NewInstrumentRepo constructs an InstrumentRepo with the given pool.
func NewInstrumentRepo(p PgxPool) *InstrumentRepo { return &InstrumentRepo{Pool: p} }

// UpsertInstruments inserts or updates instruments by symbol. Allocation
// maps are fully replaced, never merged, so re-running a classification is
// idempotent.
func (r *InstrumentRepo) UpsertInstruments(ctx context.Context, list []domain.Instrument) error {
	tracer := otel.Tracer("repo.instruments")
	ctx, span := tracer.Start(ctx, "instruments.Upsert")
	defer span.End()

	q := `INSERT INTO instruments (symbol, name, kind, price, asset_class, region, sector, updated_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	ON CONFLICT (symbol)
	DO UPDATE SET name=EXCLUDED.name, kind=EXCLUDED.kind, price=EXCLUDED.price,
	asset_class=EXCLUDED.asset_class, region=EXCLUDED.region, sector=EXCLUDED.sector,
	updated_at=EXCLUDED.updated_at`
	now := time.Now().UTC()
	for _, ins := range list {
		assetClass, err := marshalMap(ins.AssetClass)
		if err != nil {
			return fmt.Errorf("op=instruments.upsert: %s: %w", ins.Symbol, err)
		}
		region, err := marshalMap(ins.Region)
		if err != nil {
			return fmt.Errorf("op=instruments.upsert: %s: %w", ins.Symbol, err)
		}
		sector, err := marshalMap(ins.Sector)
		if err != nil {
			return fmt.Errorf("op=instruments.upsert: %s: %w", ins.Symbol, err)
		}
		if _, err := r.Pool.Exec(ctx, q, ins.Symbol, ins.Name, ins.Kind, ins.Price, assetClass, region, sector, now); err != nil {
			return fmt.Errorf("op=instruments.upsert: %s: %w", ins.Symbol, err)
		}
	}
	return nil
}

func marshalMap(m domain.AllocationMap) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}
