package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"

	"github.com/finsight-ai/finsight/internal/domain"
)

// JobRepo persists and loads analysis jobs. Payload fields live in separate
// jsonb columns so concurrent workers never clobber each other's writes.
type JobRepo struct{ Pool PgxPool }

// NewJobRepo constructs a JobRepo with the given pool.
func NewJobRepo(p PgxPool) *JobRepo { return &JobRepo{Pool: p} }

// payloadColumns whitelists the columns WritePayload may touch. Anything
// else is a programming error, not user input.
var payloadColumns = map[domain.PayloadField]string{
	domain.PayloadNarrative:   "narrative",
	domain.PayloadCharts:      "charts",
	domain.PayloadProjections: "projections",
	domain.PayloadSummary:     "summary",
}

// Create inserts a new pending job and returns its id (generates a ULID if
// empty).
func (r *JobRepo) Create(ctx context.Context, j domain.Job) (string, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Create")
	defer span.End()
	id := j.ID
	if id == "" {
		id = ulid.Make().String()
	}
	req, err := json.Marshal(j.Request)
	if err != nil {
		return "", fmt.Errorf("op=job.create: %w", err)
	}
	now := time.Now().UTC()
	q := `INSERT INTO jobs (id, user_id, kind, status, request, created_at, updated_at) VALUES ($1,$2,$3,$4,$5,$6,$7)`
	if _, err := r.Pool.Exec(ctx, q, id, j.UserID, j.Kind, domain.JobPending, req, now, now); err != nil {
		return "", fmt.Errorf("op=job.create: %w", err)
	}
	return id, nil
}

// Get loads a job by id.
func (r *JobRepo) Get(ctx context.Context, id string) (domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Get")
	defer span.End()
	q := `SELECT id, user_id, kind, status, request, narrative, charts, projections, summary, error,
	created_at, started_at, completed_at, updated_at FROM jobs WHERE id=$1`
	row := r.Pool.QueryRow(ctx, q, id)

	var (
		j                                       domain.Job
		req                                     []byte
		narrative, charts, projections, summary []byte
		errDetail                               []byte
	)
	err := row.Scan(&j.ID, &j.UserID, &j.Kind, &j.Status, &req,
		&narrative, &charts, &projections, &summary, &errDetail,
		&j.CreatedAt, &j.StartedAt, &j.CompletedAt, &j.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Job{}, fmt.Errorf("op=job.get: %w", domain.ErrNotFound)
		}
		return domain.Job{}, fmt.Errorf("op=job.get: %w", err)
	}
	if err := json.Unmarshal(req, &j.Request); err != nil {
		return domain.Job{}, fmt.Errorf("op=job.get: request: %w", err)
	}
	if err := unmarshalInto(narrative, &j.Narrative); err != nil {
		return domain.Job{}, fmt.Errorf("op=job.get: narrative: %w", err)
	}
	if err := unmarshalInto(charts, &j.Charts); err != nil {
		return domain.Job{}, fmt.Errorf("op=job.get: charts: %w", err)
	}
	if err := unmarshalInto(projections, &j.Projections); err != nil {
		return domain.Job{}, fmt.Errorf("op=job.get: projections: %w", err)
	}
	if err := unmarshalInto(summary, &j.Summary); err != nil {
		return domain.Job{}, fmt.Errorf("op=job.get: summary: %w", err)
	}
	if err := unmarshalInto(errDetail, &j.Error); err != nil {
		return domain.Job{}, fmt.Errorf("op=job.get: error: %w", err)
	}
	return j, nil
}

func unmarshalInto[T any](raw []byte, dst **T) error {
	if len(raw) == 0 {
		return nil
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	*dst = &v
	return nil
}

// SetStatus transitions a job. Terminal rows are never overwritten: the
// WHERE clause excludes completed and failed, so a late transition is a
// silent no-op.
func (r *JobRepo) SetStatus(ctx context.Context, id string, status domain.JobStatus, ts domain.StatusUpdate) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.SetStatus")
	defer span.End()

	var errDetail []byte
	if ts.Error != nil {
		b, err := json.Marshal(ts.Error)
		if err != nil {
			return fmt.Errorf("op=job.set_status: %w", err)
		}
		errDetail = b
	}
	q := `UPDATE jobs SET status=$2,
	started_at=COALESCE($3, started_at),
	completed_at=COALESCE($4, completed_at),
	error=COALESCE($5, error),
	updated_at=$6
	WHERE id=$1 AND status NOT IN ('completed','failed')`
	if _, err := r.Pool.Exec(ctx, q, id, status, ts.Started, ts.Completed, errDetail, time.Now().UTC()); err != nil {
		return fmt.Errorf("op=job.set_status: %w", err)
	}
	return nil
}

// WritePayload stores one payload field. Each field is its own column, so
// writes to distinct fields are independently serializable.
func (r *JobRepo) WritePayload(ctx context.Context, id string, field domain.PayloadField, value any) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.WritePayload")
	defer span.End()

	col, ok := payloadColumns[field]
	if !ok {
		return fmt.Errorf("op=job.write_payload: %w: unknown field %q", domain.ErrInvalidArgument, field)
	}
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("op=job.write_payload: %w", err)
	}
	q := fmt.Sprintf(`UPDATE jobs SET %s=$2, updated_at=$3 WHERE id=$1`, col)
	if _, err := r.Pool.Exec(ctx, q, id, b, time.Now().UTC()); err != nil {
		return fmt.Errorf("op=job.write_payload: %w", err)
	}
	return nil
}

// FailStuck fails running jobs whose last update is older than maxAge and
// returns how many rows it touched. The sweeper calls this periodically to
// reap jobs orphaned by worker crashes.
func (r *JobRepo) FailStuck(ctx context.Context, maxAge time.Duration) (int64, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.FailStuck")
	defer span.End()

	detail, err := json.Marshal(domain.ErrorDetail{
		Kind:    domain.KindTimeout,
		Message: "job exceeded the processing deadline with no progress",
	})
	if err != nil {
		return 0, fmt.Errorf("op=job.fail_stuck: %w", err)
	}
	now := time.Now().UTC()
	q := `UPDATE jobs SET status='failed', error=$1, completed_at=$2, updated_at=$2
	WHERE status='running' AND updated_at < $3`
	tag, err := r.Pool.Exec(ctx, q, detail, now, now.Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("op=job.fail_stuck: %w", err)
	}
	return tag.RowsAffected(), nil
}
