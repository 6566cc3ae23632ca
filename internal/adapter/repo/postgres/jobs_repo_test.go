package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsight-ai/finsight/internal/domain"
)

// fakePool records every Exec so statement and argument shapes can be
// asserted without a database.
type fakePool struct {
	execSQL  []string
	execArgs [][]any
	execErr  error
	tag      pgconn.CommandTag
}

func (f *fakePool) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execSQL = append(f.execSQL, sql)
	f.execArgs = append(f.execArgs, args)
	return f.tag, f.execErr
}

func (f *fakePool) QueryRow(context.Context, string, ...any) pgx.Row { panic("not used") }

func (f *fakePool) Query(context.Context, string, ...any) (pgx.Rows, error) { panic("not used") }

func (f *fakePool) BeginTx(context.Context, pgx.TxOptions) (pgx.Tx, error) { panic("not used") }

func TestCreate_GeneratesULIDAndInsertsPending(t *testing.T) {
	t.Parallel()
	pool := &fakePool{}
	repo := NewJobRepo(pool)

	id, err := repo.Create(context.Background(), domain.Job{
		UserID:  "u1",
		Kind:    domain.JobKindPortfolioAnalysis,
		Request: domain.AnalysisRequest{RetirementHorizonYears: 20},
	})
	require.NoError(t, err)
	assert.Len(t, id, 26, "ULID string length")

	require.Len(t, pool.execArgs, 1)
	args := pool.execArgs[0]
	assert.Equal(t, id, args[0])
	assert.Equal(t, "u1", args[1])
	assert.Equal(t, domain.JobPending, args[3])

	var req domain.AnalysisRequest
	require.NoError(t, json.Unmarshal(args[4].([]byte), &req))
	assert.Equal(t, 20, req.RetirementHorizonYears)
}

func TestCreate_KeepsCallerSuppliedID(t *testing.T) {
	t.Parallel()
	pool := &fakePool{}
	repo := NewJobRepo(pool)

	id, err := repo.Create(context.Background(), domain.Job{ID: "fixed-id", UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "fixed-id", id)
}

func TestSetStatus_TerminalGuardInStatement(t *testing.T) {
	t.Parallel()
	pool := &fakePool{}
	repo := NewJobRepo(pool)

	now := time.Now().UTC()
	detail := &domain.ErrorDetail{Kind: domain.KindTimeout, Message: "deadline"}
	err := repo.SetStatus(context.Background(), "j1", domain.JobFailed,
		domain.StatusUpdate{Completed: &now, Error: detail})
	require.NoError(t, err)

	require.Len(t, pool.execSQL, 1)
	assert.Contains(t, pool.execSQL[0], "status NOT IN ('completed','failed')")

	var stored domain.ErrorDetail
	require.NoError(t, json.Unmarshal(pool.execArgs[0][4].([]byte), &stored))
	assert.Equal(t, domain.KindTimeout, stored.Kind)
}

func TestWritePayload_WhitelistsColumns(t *testing.T) {
	t.Parallel()
	pool := &fakePool{}
	repo := NewJobRepo(pool)

	err := repo.WritePayload(context.Background(), "j1", domain.PayloadCharts, domain.ChartSet{})
	require.NoError(t, err)
	require.Len(t, pool.execSQL, 1)
	assert.True(t, strings.HasPrefix(pool.execSQL[0], "UPDATE jobs SET charts=$2"))

	err = repo.WritePayload(context.Background(), "j1", domain.PayloadField("status"), "completed")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	assert.Len(t, pool.execSQL, 1, "no statement for unknown field")
}

func TestFailStuck_ReturnsRowsAffected(t *testing.T) {
	t.Parallel()
	pool := &fakePool{tag: pgconn.NewCommandTag("UPDATE 3")}
	repo := NewJobRepo(pool)

	n, err := repo.FailStuck(context.Background(), 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	require.Len(t, pool.execSQL, 1)
	assert.Contains(t, pool.execSQL[0], "status='running'")

	// Cutoff argument is in the past by roughly maxAge.
	cutoff, ok := pool.execArgs[0][2].(time.Time)
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().UTC().Add(-10*time.Minute), cutoff, time.Minute)
}

func TestFailStuck_PropagatesExecError(t *testing.T) {
	t.Parallel()
	pool := &fakePool{execErr: errors.New("connection reset")}
	repo := NewJobRepo(pool)

	_, err := repo.FailStuck(context.Background(), time.Minute)
	require.Error(t, err)
}
