package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"gallerymind/internal/model"
)

// PostgresStore implements Store on a pgx connection pool. Terminal guards
// live in the SQL itself so concurrent writers can never move a record
// backward, whichever process gets there first.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore constructs a store around an existing pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const recordColumns = `id, owner_id, source_url, status, description, tags, colors, error, created_at, updated_at`

func scanRecord(row pgx.Row) (*model.AnalysisRecord, error) {
	var rec model.AnalysisRecord
	err := row.Scan(&rec.ID, &rec.OwnerID, &rec.SourceURL, &rec.Status,
		&rec.Description, &rec.Tags, &rec.Colors, &rec.Error, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func collectRecords(rows pgx.Rows) ([]*model.AnalysisRecord, error) {
	defer rows.Close()
	var out []*model.AnalysisRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan analysis: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate analyses: %w", err)
	}
	return out, nil
}

// CreateImage stores an uploaded original's metadata.
func (s *PostgresStore) CreateImage(ctx context.Context, img *model.ImageRecord) error {
	createdAt := img.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO images (id, owner_id, storage_key, thumbnail_key, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, img.ID, img.OwnerID, img.StorageKey, img.ThumbnailKey, createdAt)
	if err != nil {
		return fmt.Errorf("insert image: %w", err)
	}
	return nil
}

// CreatePending inserts a pending record; an existing row is left untouched.
func (s *PostgresStore) CreatePending(ctx context.Context, rec *model.AnalysisRecord) error {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO analysis_results (id, owner_id, source_url, status, description, tags, colors, error, created_at, updated_at)
		VALUES ($1,$2,$3,$4,'','{}','{}','',$5,$6)
		ON CONFLICT (id) DO NOTHING
	`, rec.ID, rec.OwnerID, rec.SourceURL, model.StatusPending, now, now)
	if err != nil {
		return fmt.Errorf("insert analysis: %w", err)
	}
	return nil
}

// Get returns a record by id.
func (s *PostgresStore) Get(ctx context.Context, id string) (*model.AnalysisRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM analysis_results WHERE id=$1`, id)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("analysis %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("select analysis: %w", err)
	}
	return rec, nil
}

// MarkProcessing advances a pending record and refreshes the timestamp of one
// already processing. Terminal rows are not touched.
func (s *PostgresStore) MarkProcessing(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE analysis_results
		SET status=$1, updated_at=$2
		WHERE id=$3 AND status IN ('pending','processing')
	`, model.StatusProcessing, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.checkNoop(ctx, id)
	}
	return nil
}

// Complete finalizes the record as completed with the given payload.
func (s *PostgresStore) Complete(ctx context.Context, id string, a model.Analysis) error {
	return s.finalize(ctx, id, model.StatusCompleted, a, "")
}

// Fail finalizes the record as failed with fallback content and the cause.
func (s *PostgresStore) Fail(ctx context.Context, id string, a model.Analysis, cause string) error {
	return s.finalize(ctx, id, model.StatusFailed, a, cause)
}

func (s *PostgresStore) finalize(ctx context.Context, id string, status model.Status, a model.Analysis, cause string) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("terminal write for %s rejected: %w", id, err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE analysis_results
		SET status=$1, description=$2, tags=$3, colors=$4, error=$5, updated_at=$6
		WHERE id=$7 AND status IN ('pending','processing')
	`, status, a.Description, a.Tags, a.Colors, cause, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("finalize analysis: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.checkNoop(ctx, id)
	}
	return nil
}

// checkNoop distinguishes a guarded update that matched nothing: a missing row
// is an error, an already terminal row is an idempotent no-op.
func (s *PostgresStore) checkNoop(ctx context.Context, id string) error {
	_, err := s.Get(ctx, id)
	return err
}

// ListByOwner returns the owner's records sorted newest first.
func (s *PostgresStore) ListByOwner(ctx context.Context, ownerID string) ([]*model.AnalysisRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+recordColumns+` FROM analysis_results
		WHERE owner_id=$1 ORDER BY created_at DESC, id
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}
	return collectRecords(rows)
}

// ListStuckProcessing returns processing records last touched before cutoff.
func (s *PostgresStore) ListStuckProcessing(ctx context.Context, cutoff time.Time) ([]*model.AnalysisRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+recordColumns+` FROM analysis_results
		WHERE status=$1 AND updated_at < $2 ORDER BY created_at DESC, id
	`, model.StatusProcessing, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stuck analyses: %w", err)
	}
	return collectRecords(rows)
}

// Search filters the owner's records by substring and color, newest first.
func (s *PostgresStore) Search(ctx context.Context, q SearchQuery) ([]*model.AnalysisRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM analysis_results WHERE owner_id=$1`
	args := []any{q.OwnerID}
	if text := strings.TrimSpace(q.Text); text != "" {
		args = append(args, "%"+text+"%")
		query += fmt.Sprintf(" AND (description ILIKE $%d OR array_to_string(tags, ' ') ILIKE $%d)", len(args), len(args))
	}
	if color := strings.ToLower(strings.TrimSpace(q.Color)); color != "" {
		args = append(args, color)
		query += fmt.Sprintf(" AND $%d = ANY(colors)", len(args))
	}
	query += " ORDER BY created_at DESC, id"
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if q.Offset > 0 {
		args = append(args, q.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search analyses: %w", err)
	}
	return collectRecords(rows)
}
