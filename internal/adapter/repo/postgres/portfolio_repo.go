package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/finsight-ai/finsight/internal/domain"
)

// PortfolioRepo reads one user's holdings.
type PortfolioRepo struct{ Pool PgxPool }

// NewPortfolioRepo constructs a PortfolioRepo with the given pool.
func NewPortfolioRepo(p PgxPool) *PortfolioRepo { return &PortfolioRepo{Pool: p} }

// GetPortfolio reads accounts, positions, and referenced instruments inside
// one repeatable-read transaction so the orchestrator sees a consistent
// snapshot.
func (r *PortfolioRepo) GetPortfolio(ctx context.Context, userID string) (domain.Portfolio, error) {
	tracer := otel.Tracer("repo.portfolio")
	ctx, span := tracer.Start(ctx, "portfolio.Get")
	defer span.End()

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return domain.Portfolio{}, fmt.Errorf("op=portfolio.get: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	pf := domain.Portfolio{Instruments: map[string]domain.Instrument{}}

	rows, err := tx.Query(ctx, `SELECT id, user_id, cash_balance, cash_yield_rate FROM accounts WHERE user_id=$1`, userID)
	if err != nil {
		return domain.Portfolio{}, fmt.Errorf("op=portfolio.get: accounts: %w", err)
	}
	for rows.Next() {
		var a domain.Account
		if err := rows.Scan(&a.ID, &a.UserID, &a.CashBalance, &a.CashYieldRate); err != nil {
			rows.Close()
			return domain.Portfolio{}, fmt.Errorf("op=portfolio.get: accounts: %w", err)
		}
		pf.Accounts = append(pf.Accounts, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return domain.Portfolio{}, fmt.Errorf("op=portfolio.get: accounts: %w", err)
	}
	if len(pf.Accounts) == 0 {
		return domain.Portfolio{}, fmt.Errorf("op=portfolio.get: user %s: %w", userID, domain.ErrNotFound)
	}

	rows, err = tx.Query(ctx, `SELECT p.account_id, p.symbol, p.quantity, p.as_of
	FROM positions p JOIN accounts a ON a.id = p.account_id WHERE a.user_id=$1`, userID)
	if err != nil {
		return domain.Portfolio{}, fmt.Errorf("op=portfolio.get: positions: %w", err)
	}
	for rows.Next() {
		var p domain.Position
		if err := rows.Scan(&p.AccountID, &p.Symbol, &p.Quantity, &p.AsOf); err != nil {
			rows.Close()
			return domain.Portfolio{}, fmt.Errorf("op=portfolio.get: positions: %w", err)
		}
		pf.Positions = append(pf.Positions, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return domain.Portfolio{}, fmt.Errorf("op=portfolio.get: positions: %w", err)
	}

	rows, err = tx.Query(ctx, `SELECT i.symbol, i.name, i.kind, i.price, i.asset_class, i.region, i.sector
	FROM instruments i WHERE i.symbol IN (
		SELECT DISTINCT p.symbol FROM positions p JOIN accounts a ON a.id = p.account_id WHERE a.user_id=$1
	)`, userID)
	if err != nil {
		return domain.Portfolio{}, fmt.Errorf("op=portfolio.get: instruments: %w", err)
	}
	for rows.Next() {
		ins, err := scanInstrument(rows)
		if err != nil {
			rows.Close()
			return domain.Portfolio{}, fmt.Errorf("op=portfolio.get: instruments: %w", err)
		}
		pf.Instruments[ins.Symbol] = ins
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return domain.Portfolio{}, fmt.Errorf("op=portfolio.get: instruments: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Portfolio{}, fmt.Errorf("op=portfolio.get: %w", err)
	}
	return pf, nil
}

func scanInstrument(row pgx.Row) (domain.Instrument, error) {
	var (
		ins                        domain.Instrument
		assetClass, region, sector []byte
	)
	if err := row.Scan(&ins.Symbol, &ins.Name, &ins.Kind, &ins.Price, &assetClass, &region, &sector); err != nil {
		return domain.Instrument{}, err
	}
	for _, pair := range []struct {
		raw []byte
		dst *domain.AllocationMap
	}{{assetClass, &ins.AssetClass}, {region, &ins.Region}, {sector, &ins.Sector}} {
		if len(pair.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(pair.raw, pair.dst); err != nil {
			return domain.Instrument{}, err
		}
	}
	return ins, nil
}
