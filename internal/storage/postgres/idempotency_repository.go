package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/quickart/internal/domain"
)

const idempotencyColumns = `key, request_hash, response_body, http_status, status, ttl_at, created_at, updated_at`

// IdempotencyRepository хранит ключи в таблице idempotency_keys и сам их не истекает:
// очистку выполняет воркер через DeleteExpired.
type IdempotencyRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewIdempotencyRepository создаёт PostgreSQL-реализацию IdempotencyRepository.
// Просроченные ключи считаются отсутствующими и перезаписываются новым запросом.
func NewIdempotencyRepository(store *Store) *IdempotencyRepository {
	return &IdempotencyRepository{
		db:  store.DB(),
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (r *IdempotencyRepository) CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	requestHash = strings.TrimSpace(requestHash)

	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}
	if requestHash == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}

	now := r.now()
	if ttlAt.IsZero() {
		ttlAt = now.Add(24 * time.Hour)
	}

	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	// Вставка либо захват просроченной записи; живую запись не трогаем.
	record, err := scanIdempotency(r.db.QueryRowContext(opCtx, `
		INSERT INTO idempotency_keys (`+idempotencyColumns+`)
		VALUES ($1,$2,NULL,NULL,$3,$4,$5,$5)
		ON CONFLICT (key) DO UPDATE SET
			request_hash = EXCLUDED.request_hash,
			response_body = NULL,
			http_status = NULL,
			status = EXCLUDED.status,
			ttl_at = EXCLUDED.ttl_at,
			created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at
		WHERE idempotency_keys.ttl_at <= $5
		RETURNING `+idempotencyColumns,
		key, requestHash, string(domain.IdempotencyStatusProcessing), ttlAt, now,
	))
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.IdempotencyRecord{}, fmt.Errorf("create idempotency record: %w", err)
	}

	existing, getErr := r.Get(ctx, key)
	if getErr != nil {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyAlreadyExists
	}
	if existing.RequestHash != requestHash {
		return existing, domain.ErrIdempotencyHashMismatch
	}
	return existing, domain.ErrIdempotencyKeyAlreadyExists
}

func (r *IdempotencyRepository) Get(ctx context.Context, key string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	record, err := scanIdempotency(r.db.QueryRowContext(ctx, `
		SELECT `+idempotencyColumns+`
		FROM idempotency_keys
		WHERE key = $1 AND ttl_at > $2
	`, key, r.now()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
		}
		return domain.IdempotencyRecord{}, fmt.Errorf("get idempotency record: %w", err)
	}
	return record, nil
}

func (r *IdempotencyRepository) MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.markStatus(ctx, key, domain.IdempotencyStatusDone, responseBody, httpStatus)
}

func (r *IdempotencyRepository) MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.markStatus(ctx, key, domain.IdempotencyStatusFailed, responseBody, httpStatus)
}

func (r *IdempotencyRepository) Release(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE key = $1`, key); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

// DeleteExpired удаляет до limit просроченных ключей и возвращает их,
// самые старые первыми. limit <= 0 снимает ограничение.
func (r *IdempotencyRepository) DeleteExpired(ctx context.Context, before time.Time, limit int) ([]string, error) {
	if before.IsZero() {
		before = r.now()
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = r.db.QueryContext(ctx, `
			WITH doomed AS (
				SELECT key, ttl_at
				FROM idempotency_keys
				WHERE ttl_at <= $1
				ORDER BY ttl_at ASC, key ASC
				LIMIT $2
			)
			DELETE FROM idempotency_keys k
			USING doomed
			WHERE k.key = doomed.key
			RETURNING k.key, k.ttl_at
		`, before, limit)
	} else {
		rows, err = r.db.QueryContext(ctx, `
			DELETE FROM idempotency_keys
			WHERE ttl_at <= $1
			RETURNING key, ttl_at
		`, before)
	}
	if err != nil {
		return nil, fmt.Errorf("delete expired idempotency records: %w", err)
	}
	defer rows.Close()

	type deleted struct {
		key   string
		ttlAt time.Time
	}
	var removed []deleted
	for rows.Next() {
		var d deleted
		if err := rows.Scan(&d.key, &d.ttlAt); err != nil {
			return nil, fmt.Errorf("scan expired idempotency key: %w", err)
		}
		removed = append(removed, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired idempotency keys: %w", err)
	}

	// RETURNING не гарантирует порядок
	sort.Slice(removed, func(i, j int) bool {
		if !removed[i].ttlAt.Equal(removed[j].ttlAt) {
			return removed[i].ttlAt.Before(removed[j].ttlAt)
		}
		return removed[i].key < removed[j].key
	})
	keys := make([]string, 0, len(removed))
	for _, d := range removed {
		keys = append(keys, d.key)
	}
	return keys, nil
}

func (r *IdempotencyRepository) markStatus(ctx context.Context, key string, status domain.IdempotencyStatus, responseBody []byte, httpStatus int) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	now := r.now()
	res, err := r.db.ExecContext(ctx, `
		UPDATE idempotency_keys
		SET response_body = $1,
		    http_status = $2,
		    status = $3,
		    updated_at = $4
		WHERE key = $5 AND ttl_at > $4
	`, responseBody, httpStatus, string(status), now, key)
	if err != nil {
		return fmt.Errorf("mark idempotency key status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("idempotency rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrIdempotencyKeyNotFound
	}
	return nil
}

func scanIdempotency(row rowScanner) (domain.IdempotencyRecord, error) {
	var (
		record     domain.IdempotencyRecord
		statusRaw  string
		body       []byte
		httpStatus sql.NullInt64
	)
	if err := row.Scan(
		&record.Key, &record.RequestHash, &body, &httpStatus, &statusRaw,
		&record.TTLAt, &record.CreatedAt, &record.UpdatedAt,
	); err != nil {
		return domain.IdempotencyRecord{}, err
	}

	record.Status = domain.IdempotencyStatus(statusRaw)
	if !record.Status.Valid() {
		return domain.IdempotencyRecord{}, fmt.Errorf("invalid idempotency status %q for key %s", statusRaw, record.Key)
	}
	record.ResponseBody = append([]byte(nil), body...)
	if httpStatus.Valid {
		record.HTTPStatus = int(httpStatus.Int64)
	}
	record.TTLAt = record.TTLAt.UTC()
	record.CreatedAt = record.CreatedAt.UTC()
	record.UpdatedAt = record.UpdatedAt.UTC()
	return record, nil
}

var (
	_ domain.IdempotencyRepository = (*IdempotencyRepository)(nil)
	_ domain.IdempotencySweeper    = (*IdempotencyRepository)(nil)
)
