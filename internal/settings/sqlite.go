package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/neboloop/nexus/internal/credential"
)

// SQLStore keeps settings in the sqlite settings table. Secret keys are
// encrypted at rest when a master key is configured.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a settings store backed by the given database.
func NewSQLStore(sqlDB *sql.DB) *SQLStore {
	return &SQLStore{db: sqlDB}
}

func (s *SQLStore) Get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	v, err = open(key, v)
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *SQLStore) GetMany(ctx context.Context, keys ...string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	return s.query(ctx, "SELECT key, value FROM settings WHERE key IN ("+placeholders+")", args...)
}

func (s *SQLStore) All(ctx context.Context) (map[string]string, error) {
	return s.query(ctx, "SELECT key, value FROM settings")
}

func (s *SQLStore) query(ctx context.Context, q string, args ...any) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		if v, err = open(k, v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

func (s *SQLStore) Set(ctx context.Context, key, value string) error {
	sealed, err := seal(key, value)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, unixepoch())
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, sealed,
	)
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM settings WHERE key = ?", k); err != nil {
			return fmt.Errorf("delete %s: %w", k, err)
		}
	}
	return nil
}

// Update runs fn inside a BEGIN IMMEDIATE transaction so concurrent
// read-modify-write cycles on the same key never interleave.
func (s *SQLStore) Update(ctx context.Context, key string, fn UpdateFunc) (string, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return "", fmt.Errorf("update %s: begin: %w", key, err)
	}
	committed := false
	defer func() {
		if !committed {
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	var cur string
	ok := true
	err = conn.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&cur)
	if errors.Is(err, sql.ErrNoRows) {
		ok, err = false, nil
	}
	if err != nil {
		return "", fmt.Errorf("update %s: read: %w", key, err)
	}
	if ok {
		if cur, err = open(key, cur); err != nil {
			return "", err
		}
	}

	next, err := fn(cur, ok)
	if err != nil {
		return "", err
	}
	sealed, err := seal(key, next)
	if err != nil {
		return "", err
	}
	if _, err := conn.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, unixepoch())
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, sealed,
	); err != nil {
		return "", fmt.Errorf("update %s: write: %w", key, err)
	}
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return "", fmt.Errorf("update %s: commit: %w", key, err)
	}
	committed = true
	return next, nil
}

func seal(key, value string) (string, error) {
	if !credential.IsSecret(key) || value == "" {
		return value, nil
	}
	enc, err := credential.Encrypt(value)
	if errors.Is(err, credential.ErrNoKey) {
		return value, nil
	}
	if err != nil {
		return "", fmt.Errorf("encrypt %s: %w", key, err)
	}
	return enc, nil
}

func open(key, value string) (string, error) {
	if !credential.IsEncrypted(value) {
		return value, nil
	}
	plain, err := credential.Decrypt(value)
	if err != nil {
		return "", fmt.Errorf("decrypt %s: %w", key, err)
	}
	return plain, nil
}
