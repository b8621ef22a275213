package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"civicwatch/internal/cases/models"
	id "civicwatch/pkg/domain"
	"civicwatch/pkg/platform/sentinel"
	"civicwatch/pkg/platform/tx"
)

const uniqueViolation = "23505"

// maxPositionRetries bounds retries when two uploads race for the same
// evidence position.
const maxPositionRetries = 3

// PostgresStore persists cases in PostgreSQL. Every write runs in a
// transaction that also bumps the case_revision row, so the revision a reader
// sees never runs ahead of committed data.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const caseColumns = `
	id, title, description, complaint_type, location_text, latitude, longitude,
	filer_id, is_anonymous, status, severity_score, ai_summary, department,
	analysis_state, analyzed_at, anchor_hash, filed_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, c *models.Case) error {
	if c == nil {
		return fmt.Errorf("case is required")
	}
	var locText sql.NullString
	var lat, lng sql.NullFloat64
	if c.Location != nil {
		locText = sql.NullString{String: c.Location.Text, Valid: c.Location.Text != ""}
		if c.Location.HasCoordinates() {
			lat = sql.NullFloat64{Float64: *c.Location.Latitude, Valid: true}
			lng = sql.NullFloat64{Float64: *c.Location.Longitude, Valid: true}
		}
	}
	return tx.Run(ctx, s.db, func(t *sql.Tx) error {
		_, err := t.ExecContext(ctx, `
			INSERT INTO cases (id, title, description, complaint_type, location_text, latitude, longitude,
				filer_id, is_anonymous, status, analysis_state, filed_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			c.ID.String(), c.Title, c.Description, string(c.Type), locText, lat, lng,
			c.FilerID.String(), c.Anonymous, string(c.Status), string(c.AnalysisState), c.FiledAt, c.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("case %s: %w", c.ID, sentinel.ErrConflict)
			}
			return fmt.Errorf("insert case: %w", err)
		}
		return bumpRevision(ctx, t)
	})
}

func (s *PostgresStore) FindByID(ctx context.Context, caseID id.CaseID) (*models.Case, error) {
	c, err := scanCase(s.db.QueryRowContext(ctx, `SELECT `+caseColumns+` FROM cases WHERE id = $1`, caseID.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("case %s: %w", caseID, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find case: %w", err)
	}
	byCase := map[id.CaseID]*models.Case{c.ID: c}
	if err := s.loadEvidence(ctx, byCase); err != nil {
		return nil, err
	}
	if err := s.loadNotes(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// ListByFiler returns the filer's cases newest first, without notes.
func (s *PostgresStore) ListByFiler(ctx context.Context, filer id.UserID) ([]*models.Case, error) {
	return s.list(ctx, `SELECT `+caseColumns+` FROM cases WHERE filer_id = $1 ORDER BY filed_at DESC, id`, filer.String())
}

// ListAll returns every case newest first, without notes.
func (s *PostgresStore) ListAll(ctx context.Context) ([]*models.Case, error) {
	return s.list(ctx, `SELECT `+caseColumns+` FROM cases ORDER BY filed_at DESC, id`)
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]*models.Case, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}
	defer rows.Close()

	var out []*models.Case
	byCase := make(map[id.CaseID]*models.Case)
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan case: %w", err)
		}
		out = append(out, c)
		byCase[c.ID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cases: %w", err)
	}
	if err := s.loadEvidence(ctx, byCase); err != nil {
		return nil, err
	}
	return out, nil
}

// loadEvidence fills Evidence for all given cases in one query.
func (s *PostgresStore) loadEvidence(ctx context.Context, byCase map[id.CaseID]*models.Case) error {
	if len(byCase) == 0 {
		return nil
	}
	ids := make([]string, 0, len(byCase))
	for caseID := range byCase {
		ids = append(ids, caseID.String())
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT case_id, id, blob_ref, file_name, size_bytes, content_type, sha256, uploaded_at
		FROM case_evidence
		WHERE case_id = ANY($1::uuid[])
		ORDER BY case_id, position`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("load evidence: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			caseRaw, evRaw uuid.UUID
			ev             models.Evidence
		)
		if err := rows.Scan(&caseRaw, &evRaw, &ev.Ref, &ev.Name, &ev.Size, &ev.ContentType, &ev.SHA256, &ev.UploadedAt); err != nil {
			return fmt.Errorf("scan evidence: %w", err)
		}
		ev.ID = id.EvidenceID(evRaw)
		if c, ok := byCase[id.CaseID(caseRaw)]; ok {
			c.Evidence = append(c.Evidence, ev)
		}
	}
	return rows.Err()
}

func (s *PostgresStore) loadNotes(ctx context.Context, c *models.Case) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT author_id, content, is_system, created_at
		FROM case_notes
		WHERE case_id = $1
		ORDER BY created_at, id`, c.ID.String())
	if err != nil {
		return fmt.Errorf("load notes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			author uuid.UUID
			n      models.Note
		)
		if err := rows.Scan(&author, &n.Content, &n.System, &n.CreatedAt); err != nil {
			return fmt.Errorf("scan note: %w", err)
		}
		n.AuthorID = id.UserID(author)
		c.Notes = append(c.Notes, n)
	}
	return rows.Err()
}

// UpdateStatus is a compare-and-set on the current status.
func (s *PostgresStore) UpdateStatus(ctx context.Context, caseID id.CaseID, from, to models.Status, note models.Note) error {
	return tx.Run(ctx, s.db, func(t *sql.Tx) error {
		res, err := t.ExecContext(ctx, `
			UPDATE cases SET status = $3, updated_at = $4
			WHERE id = $1 AND status = $2`,
			caseID.String(), string(from), string(to), note.CreatedAt)
		if err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		if err := requireRow(ctx, t, res, caseID, sentinel.ErrConflict); err != nil {
			return err
		}
		if err := insertNote(ctx, t, caseID, note); err != nil {
			return err
		}
		return bumpRevision(ctx, t)
	})
}

func (s *PostgresStore) AppendNote(ctx context.Context, caseID id.CaseID, note models.Note) error {
	return tx.Run(ctx, s.db, func(t *sql.Tx) error {
		res, err := t.ExecContext(ctx, `UPDATE cases SET updated_at = $2 WHERE id = $1`, caseID.String(), note.CreatedAt)
		if err != nil {
			return fmt.Errorf("touch case: %w", err)
		}
		if err := requireRow(ctx, t, res, caseID, sentinel.ErrNotFound); err != nil {
			return err
		}
		if err := insertNote(ctx, t, caseID, note); err != nil {
			return err
		}
		return bumpRevision(ctx, t)
	})
}

// AppendEvidence inserts one evidence row at the next position. Concurrent
// uploads to the same case can collide on the position; those retry.
func (s *PostgresStore) AppendEvidence(ctx context.Context, caseID id.CaseID, ev models.Evidence) error {
	var err error
	for range maxPositionRetries {
		err = tx.Run(ctx, s.db, func(t *sql.Tx) error {
			res, err := t.ExecContext(ctx, `UPDATE cases SET updated_at = $2 WHERE id = $1`, caseID.String(), ev.UploadedAt)
			if err != nil {
				return fmt.Errorf("touch case: %w", err)
			}
			if err := requireRow(ctx, t, res, caseID, sentinel.ErrNotFound); err != nil {
				return err
			}
			_, err = t.ExecContext(ctx, `
				INSERT INTO case_evidence (id, case_id, position, blob_ref, file_name, size_bytes, content_type, sha256, uploaded_at)
				SELECT $1, $2, COALESCE(MAX(position), 0) + 1, $3, $4, $5, $6, $7, $8
				FROM case_evidence WHERE case_id = $2`,
				ev.ID.String(), caseID.String(), ev.Ref, ev.Name, ev.Size, ev.ContentType, ev.SHA256, ev.UploadedAt)
			if err != nil {
				return fmt.Errorf("insert evidence: %w", err)
			}
			return bumpRevision(ctx, t)
		})
		if err == nil || !isUniqueViolation(err) {
			return err
		}
	}
	return fmt.Errorf("append evidence to case %s: %w", caseID, sentinel.ErrConflict)
}

// SetAnalysisIfUnset is first-writer-wins on severity_score.
func (s *PostgresStore) SetAnalysisIfUnset(ctx context.Context, caseID id.CaseID, a models.Analysis) (bool, error) {
	applied := false
	err := tx.Run(ctx, s.db, func(t *sql.Tx) error {
		res, err := t.ExecContext(ctx, `
			UPDATE cases
			SET severity_score = $2, ai_summary = $3, department = NULLIF($4, ''),
				analysis_state = 'completed', analyzed_at = $5, updated_at = $5
			WHERE id = $1 AND severity_score IS NULL`,
			caseID.String(), a.SeverityScore, a.Summary, a.Department, a.CompletedAt)
		if err != nil {
			return fmt.Errorf("set analysis: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("set analysis rows affected: %w", err)
		}
		if n == 0 {
			return s.mustExist(ctx, t, caseID)
		}
		applied = true
		return bumpRevision(ctx, t)
	})
	return applied, err
}

func (s *PostgresStore) MarkAnalysisFailed(ctx context.Context, caseID id.CaseID, now time.Time) error {
	return tx.Run(ctx, s.db, func(t *sql.Tx) error {
		res, err := t.ExecContext(ctx, `
			UPDATE cases SET analysis_state = 'failed', updated_at = $2
			WHERE id = $1 AND severity_score IS NULL`, caseID.String(), now)
		if err != nil {
			return fmt.Errorf("mark analysis failed: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("mark analysis failed rows affected: %w", err)
		}
		if n == 0 {
			return s.mustExist(ctx, t, caseID)
		}
		return bumpRevision(ctx, t)
	})
}

func (s *PostgresStore) SetAnchorIfUnset(ctx context.Context, caseID id.CaseID, hash string) (bool, error) {
	applied := false
	err := tx.Run(ctx, s.db, func(t *sql.Tx) error {
		res, err := t.ExecContext(ctx, `
			UPDATE cases SET anchor_hash = $2
			WHERE id = $1 AND anchor_hash IS NULL`, caseID.String(), hash)
		if err != nil {
			return fmt.Errorf("set anchor: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("set anchor rows affected: %w", err)
		}
		if n == 0 {
			return s.mustExist(ctx, t, caseID)
		}
		applied = true
		return bumpRevision(ctx, t)
	})
	return applied, err
}

func (s *PostgresStore) Revision(ctx context.Context) (int64, error) {
	var rev int64
	if err := s.db.QueryRowContext(ctx, `SELECT value FROM case_revision`).Scan(&rev); err != nil {
		return 0, fmt.Errorf("read revision: %w", err)
	}
	return rev, nil
}

func (s *PostgresStore) mustExist(ctx context.Context, t *sql.Tx, caseID id.CaseID) error {
	var exists bool
	if err := t.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM cases WHERE id = $1)`, caseID.String()).Scan(&exists); err != nil {
		return fmt.Errorf("check case exists: %w", err)
	}
	if !exists {
		return fmt.Errorf("case %s: %w", caseID, sentinel.ErrNotFound)
	}
	return nil
}

// requireRow maps a zero-row update to ErrNotFound, or to onMiss when the case
// exists but the WHERE precondition failed.
func requireRow(ctx context.Context, t *sql.Tx, res sql.Result, caseID id.CaseID, onMiss error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	var exists bool
	if err := t.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM cases WHERE id = $1)`, caseID.String()).Scan(&exists); err != nil {
		return fmt.Errorf("check case exists: %w", err)
	}
	if !exists {
		return fmt.Errorf("case %s: %w", caseID, sentinel.ErrNotFound)
	}
	return fmt.Errorf("case %s: %w", caseID, onMiss)
}

func insertNote(ctx context.Context, t *sql.Tx, caseID id.CaseID, note models.Note) error {
	_, err := t.ExecContext(ctx, `
		INSERT INTO case_notes (case_id, author_id, content, is_system, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		caseID.String(), note.AuthorID.String(), note.Content, note.System, note.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert note: %w", err)
	}
	return nil
}

func bumpRevision(ctx context.Context, t *sql.Tx) error {
	if _, err := t.ExecContext(ctx, `UPDATE case_revision SET value = value + 1`); err != nil {
		return fmt.Errorf("bump revision: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCase(row rowScanner) (*models.Case, error) {
	var (
		c                   models.Case
		caseRaw, filerRaw   uuid.UUID
		typ, status, state  string
		locText             sql.NullString
		lat, lng, severity  sql.NullFloat64
		summary, department sql.NullString
		analyzedAt          sql.NullTime
		anchor              sql.NullString
	)
	err := row.Scan(&caseRaw, &c.Title, &c.Description, &typ, &locText, &lat, &lng,
		&filerRaw, &c.Anonymous, &status, &severity, &summary, &department,
		&state, &analyzedAt, &anchor, &c.FiledAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.ID = id.CaseID(caseRaw)
	c.FilerID = id.UserID(filerRaw)
	c.Type = models.ComplaintType(typ)
	c.Status = models.Status(status)
	c.AnalysisState = models.AnalysisState(state)
	c.AnchorHash = anchor.String
	c.Evidence = []models.Evidence{}
	if locText.Valid || (lat.Valid && lng.Valid) {
		c.Location = &models.Location{Text: locText.String}
		if lat.Valid && lng.Valid {
			la, ln := lat.Float64, lng.Float64
			c.Location.Latitude, c.Location.Longitude = &la, &ln
		}
	}
	if severity.Valid {
		c.Analysis = &models.Analysis{
			SeverityScore: severity.Float64,
			Summary:       summary.String,
			Department:    department.String,
			CompletedAt:   analyzedAt.Time,
		}
	}
	return &c, nil
}
