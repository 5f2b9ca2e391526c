package credential

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
)

// SecretKeys are the settings rows whose values are stored encrypted.
var SecretKeys = []string{"api_key", "openai_api_key", "anthropic_api_key", "web_cookie"}

// IsSecret reports whether a settings key holds a secret.
func IsSecret(key string) bool {
	for _, k := range SecretKeys {
		if k == key {
			return true
		}
	}
	return false
}

// Migrate encrypts plaintext secrets in the settings table.
// Runs in a single transaction and rolls back entirely on failure.
// Idempotent: skips values that already have the "enc:" prefix.
func Migrate(ctx context.Context, rawDB *sql.DB) error {
	tx, err := rawDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("credential migration: begin tx: %w", err)
	}
	defer tx.Rollback()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(SecretKeys)), ",")
	args := make([]any, len(SecretKeys))
	for i, k := range SecretKeys {
		args[i] = k
	}
	rows, err := tx.QueryContext(ctx,
		"SELECT key, value FROM settings WHERE value != '' AND key IN ("+placeholders+")", args...)
	if err != nil {
		return fmt.Errorf("credential migration: query: %w", err)
	}

	type row struct {
		key, value string
	}
	var toUpdate []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.key, &r.value); err != nil {
			rows.Close()
			return err
		}
		if IsEncrypted(r.value) {
			continue
		}
		toUpdate = append(toUpdate, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, r := range toUpdate {
		enc, err := Encrypt(r.value)
		if err != nil {
			return fmt.Errorf("encrypt %s: %w", r.key, err)
		}
		if _, err := tx.ExecContext(ctx, "UPDATE settings SET value = ?, updated_at = unixepoch() WHERE key = ?", enc, r.key); err != nil {
			return fmt.Errorf("update %s: %w", r.key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("credential migration: commit: %w", err)
	}

	if len(toUpdate) > 0 {
		slog.Info("Credential migration complete", "encrypted", len(toUpdate))
	}
	return nil
}
