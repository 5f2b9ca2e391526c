package crashlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/neboloop/nexus/internal/logging"
)

// Logger persists errors and panics to the error_logs table.
// Safe for concurrent use from multiple goroutines.
type Logger struct {
	db *sql.DB
	mu sync.Mutex
}

// Entry is one stored error_logs row.
type Entry struct {
	ID         int64
	Level      string
	Module     string
	Message    string
	Stacktrace string
	Context    map[string]string
	CreatedAt  time.Time
}

var (
	global   *Logger
	globalMu sync.Mutex
)

// Init sets up the global crash logger. Call once at startup.
func Init(sqlDB *sql.DB) {
	globalMu.Lock()
	defer globalMu.Unlock()
	global = &Logger{db: sqlDB}
}

func current() *Logger {
	globalMu.Lock()
	defer globalMu.Unlock()
	return global
}

// LogPanic records a recovered panic with a full stack trace.
// Safe to call even if Init() was never called.
func LogPanic(module string, r any, ctx map[string]string) {
	msg := fmt.Sprintf("%v", r)
	stack := make([]byte, 4096)
	n := runtime.Stack(stack, false)
	stackStr := string(stack[:n])

	logging.Errorf("[PANIC] %s: %s\n%s", module, msg, stackStr)

	if l := current(); l != nil {
		l.insert("panic", module, msg, stackStr, ctx)
	}
}

// LogError records an error with optional context.
func LogError(module string, err error, ctx map[string]string) {
	if err == nil {
		return
	}
	logging.Errorf("[%s] %v", module, err)

	if l := current(); l != nil {
		l.insert("error", module, err.Error(), "", ctx)
	}
}

// Recent returns the newest entries first.
func Recent(ctx context.Context, limit int) ([]Entry, error) {
	l := current()
	if l == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, level, module, message, stacktrace, context, created_at
		 FROM error_logs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var stack, ctxJSON sql.NullString
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.Level, &e.Module, &e.Message, &stack, &ctxJSON, &createdAt); err != nil {
			return nil, err
		}
		e.Stacktrace = stack.String
		if ctxJSON.Valid {
			_ = json.Unmarshal([]byte(ctxJSON.String), &e.Context)
		}
		e.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (l *Logger) insert(level, module, message, stacktrace string, ctx map[string]string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var ctxJSON sql.NullString
	if len(ctx) > 0 {
		if b, err := json.Marshal(ctx); err == nil {
			ctxJSON = sql.NullString{String: string(b), Valid: true}
		}
	}

	var stackNull sql.NullString
	if stacktrace != "" {
		stackNull = sql.NullString{String: stacktrace, Valid: true}
	}

	if _, err := l.db.ExecContext(context.Background(),
		`INSERT INTO error_logs (level, module, message, stacktrace, context, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		level, module, message, stackNull, ctxJSON, time.Now().Unix(),
	); err != nil {
		logging.Warnf("[crashlog] insert failed: %v", err)
	}
}
