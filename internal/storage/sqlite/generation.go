package sqlite

import (
	"context"
	"strings"
	"time"

	respcache "github.com/eugener/respcache/internal"
)

const (
	defaultQueryLimit = 50
	maxQueryLimit     = 1000
)

// InsertGenerations batch-inserts ledger records in one statement.
func (s *Store) InsertGenerations(ctx context.Context, records []respcache.GenerationRecord) error {
	if len(records) == 0 {
		return nil
	}

	// cols must match the INSERT column list below.
	const cols = 10
	placeholders := make([]string, len(records))
	args := make([]any, 0, len(records)*cols)
	for i, r := range records {
		placeholders[i] = "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
		args = append(args,
			r.ID, r.Category.String(), r.CacheKey, r.Model,
			r.LatencyMs, r.Status, r.Error, r.Chars,
			r.RequestID, r.CreatedAt.UTC().Format(time.RFC3339),
		)
	}

	query := `INSERT INTO generations
		(id, category, cache_key, model, latency_ms, status, error, chars, request_id, created_at)
		VALUES ` + strings.Join(placeholders, ", ")
	_, err := s.write.ExecContext(ctx, query, args...)
	return err
}

// QueryGenerations returns matching records, newest first.
func (s *Store) QueryGenerations(ctx context.Context, f respcache.GenerationFilter) ([]respcache.GenerationRecord, error) {
	where, args := generationWhere(f)
	limit := f.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	limit = min(limit, maxQueryLimit)
	args = append(args, limit, max(f.Offset, 0))

	rows, err := s.read.QueryContext(ctx,
		`SELECT id, category, cache_key, model, latency_ms, status, error, chars, request_id, created_at
		 FROM generations`+where+` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []respcache.GenerationRecord
	for rows.Next() {
		var (
			r         respcache.GenerationRecord
			category  string
			createdAt string
		)
		if err := rows.Scan(&r.ID, &category, &r.CacheKey, &r.Model, &r.LatencyMs,
			&r.Status, &r.Error, &r.Chars, &r.RequestID, &createdAt); err != nil {
			return nil, err
		}
		if c, err := respcache.ParseCategory(category); err == nil {
			r.Category = c
		} else {
			r.Category = respcache.CategoryOther
		}
		if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
			r.CreatedAt = t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountGenerations counts records matching f, ignoring Limit and Offset.
func (s *Store) CountGenerations(ctx context.Context, f respcache.GenerationFilter) (int, error) {
	where, args := generationWhere(f)
	var n int
	err := s.read.QueryRowContext(ctx, `SELECT COUNT(*) FROM generations`+where, args...).Scan(&n)
	return n, err
}

// DeleteGenerationsBefore removes records created before t.
func (s *Store) DeleteGenerationsBefore(ctx context.Context, t time.Time) (int64, error) {
	res, err := s.write.ExecContext(ctx,
		`DELETE FROM generations WHERE created_at < ?`, t.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func generationWhere(f respcache.GenerationFilter) (string, []any) {
	var clauses []string
	var args []any
	if f.Category != "" {
		clauses = append(clauses, "category = ?")
		args = append(args, f.Category)
	}
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, f.Status)
	}
	if f.Since != "" {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, f.Since)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}
