package submissions

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/vriksha-code/verisure/internal/doctype"
)

// PGStore implements Store using Postgres.
type PGStore struct {
	DB *sql.DB
}

const recordColumns = `id, seq, owner_id, file_name, file_type, file_size_bytes, document_payload, document_url, storage_key,
       document_type, verification_task, status, reason, confidence_score, failure_code, retryable, page_count,
       submitted_by, submitted_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// Create inserts a new record; seq comes from the table's sequence.
func (s *PGStore) Create(ctx context.Context, stub Stub) (Record, error) {
	const query = `
INSERT INTO submissions (
	id, owner_id, file_name, file_type, file_size_bytes, document_type, verification_task,
	status, submitted_by, submitted_at, updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING seq`
	rec := stub.record(uuid.NewString(), 0, now())
	err := s.DB.QueryRowContext(ctx, query,
		rec.ID,
		rec.OwnerID,
		rec.FileName,
		rec.FileType,
		rec.FileSizeBytes,
		string(rec.DocumentType),
		nullString(rec.VerificationTask),
		string(rec.Status),
		rec.SubmittedBy,
		rec.SubmittedAt,
		rec.UpdatedAt,
	).Scan(&rec.Seq)
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Update locks the row, applies the patch and writes the mutable columns back
// in one transaction.
func (s *PGStore) Update(ctx context.Context, id string, p Patch) (Record, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, err
	}
	defer tx.Rollback()

	rec, err := scanRecord(tx.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM submissions WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return Record{}, err
	}
	if err := applyPatch(&rec, p, now()); err != nil {
		return Record{}, err
	}

	const update = `
UPDATE submissions
SET status = $2, reason = $3, confidence_score = $4, document_payload = $5, document_url = $6,
    storage_key = $7, failure_code = $8, retryable = $9, page_count = $10, updated_at = $11
WHERE id = $1`
	if _, err := tx.ExecContext(ctx, update,
		rec.ID,
		string(rec.Status),
		nullString(rec.Reason),
		nullFloat(rec.ConfidenceScore),
		nullString(rec.DocumentPayload),
		nullString(rec.DocumentURL),
		nullString(rec.StorageKey),
		nullString(rec.FailureCode),
		rec.Retryable,
		rec.PageCount,
		rec.UpdatedAt,
	); err != nil {
		return Record{}, err
	}
	if err := tx.Commit(); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Remove deletes a record.
func (s *PGStore) Remove(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM submissions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Get returns a record by id.
func (s *PGStore) Get(ctx context.Context, id string) (Record, error) {
	return scanRecord(s.DB.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM submissions WHERE id = $1`, id))
}

// List returns an ordered snapshot.
func (s *PGStore) List(ctx context.Context, opts ListOptions) ([]Record, error) {
	var b strings.Builder
	b.WriteString(`SELECT ` + recordColumns + ` FROM submissions`)
	args := []any{}
	if opts.OwnerID != "" {
		args = append(args, opts.OwnerID)
		b.WriteString(` WHERE owner_id = $1`)
	}
	b.WriteString(` ORDER BY submitted_at DESC, seq DESC`)
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		b.WriteString(` LIMIT $` + strconv.Itoa(len(args)))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		b.WriteString(` OFFSET $` + strconv.Itoa(len(args)))
	}

	rows, err := s.DB.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanRecord(row rowScanner) (Record, error) {
	var rec Record
	var documentType, status string
	var payload, url, key, task, reason, failureCode sql.NullString
	var confidence sql.NullFloat64
	err := row.Scan(
		&rec.ID,
		&rec.Seq,
		&rec.OwnerID,
		&rec.FileName,
		&rec.FileType,
		&rec.FileSizeBytes,
		&payload,
		&url,
		&key,
		&documentType,
		&task,
		&status,
		&reason,
		&confidence,
		&failureCode,
		&rec.Retryable,
		&rec.PageCount,
		&rec.SubmittedBy,
		&rec.SubmittedAt,
		&rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	rec.DocumentPayload = payload.String
	rec.DocumentURL = url.String
	rec.StorageKey = key.String
	rec.VerificationTask = task.String
	rec.Reason = reason.String
	rec.FailureCode = failureCode.String
	rec.DocumentType = doctype.Type(documentType)
	rec.Status = Status(status)
	if confidence.Valid {
		c := confidence.Float64
		rec.ConfidenceScore = &c
	}
	rec.SubmittedAt = rec.SubmittedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return rec, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
