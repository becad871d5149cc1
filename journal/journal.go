// Package journal persists published logs to a SQL database so indexers can
// replay them after the process restarts.
package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/defistate/defistate-amm/engine"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"

	defaultBufferSize = 256
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Source is anything logs can be subscribed to, normally an *engine.Bus.
type Source interface {
	Subscribe(ch chan<- engine.Log) event.Subscription
}

type Config struct {
	// Driver is DriverSQLite or DriverPostgres. Empty means DriverSQLite.
	Driver string
	// DSN is a file path for sqlite3 or a connection string for postgres.
	DSN        string
	BufferSize int
	Logger     Logger
}

func (c *Config) validate() error {
	if c.Driver == "" {
		c.Driver = DriverSQLite
	}
	if c.Driver != DriverSQLite && c.Driver != DriverPostgres {
		return fmt.Errorf("config: unsupported driver %q", c.Driver)
	}
	if c.DSN == "" {
		return errors.New("config: DSN is required")
	}
	if c.BufferSize < 0 {
		return errors.New("config: BufferSize must not be negative")
	}
	if c.BufferSize == 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	return nil
}

// Record is one stored log. Payload holds the JSON encoding of the event body.
type Record struct {
	ID      uuid.UUID        `json:"id"`
	Seq     uint64           `json:"seq"`
	Emitter common.Address   `json:"emitter"`
	Name    engine.EventName `json:"name"`
	Payload json.RawMessage  `json:"payload"`
	Time    time.Time        `json:"time"`
}

type Journal struct {
	db         *sql.DB
	driver     string
	bufferSize int
	logger     Logger
}

// Open connects to the database and creates the events table if needed.
func Open(ctx context.Context, cfg Config) (*Journal, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.Driver == DriverSQLite {
		// one connection keeps ":memory:" databases shared and avoids SQLITE_BUSY
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		if err := applyPragmas(ctx, db); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply pragmas: %w", err)
		}
	}

	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	cfg.Logger.Info("journal opened", "driver", cfg.Driver)
	return &Journal{
		db:         db,
		driver:     cfg.Driver,
		bufferSize: cfg.BufferSize,
		logger:     cfg.Logger,
	}, nil
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// Driver reports which database driver the journal writes to.
func (j *Journal) Driver() string {
	return j.driver
}

func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Append stores logs in a single transaction.
func (j *Journal) Append(ctx context.Context, logs ...engine.Log) error {
	if len(logs) == 0 {
		return nil
	}
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO amm_events (id, seq, emitter, name, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("append: %w", err)
	}
	defer stmt.Close()

	for _, l := range logs {
		if l.Event == nil {
			return errors.New("append: log has no event")
		}
		payload, err := json.Marshal(l.Event)
		if err != nil {
			return fmt.Errorf("append: encode %s: %w", l.Event.Name(), err)
		}
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("append: %w", err)
		}
		_, err = stmt.ExecContext(ctx,
			id.String(),
			int64(l.Seq),
			strings.ToLower(l.Emitter.Hex()),
			string(l.Event.Name()),
			string(payload),
			l.Time.UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("append: insert seq %d: %w", l.Seq, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append: commit: %w", err)
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Record, error) {
	return j.query(ctx, `
		SELECT id, seq, emitter, name, payload, created_at
		FROM amm_events
		ORDER BY created_at DESC, seq DESC
		LIMIT $1
	`, limit)
}

// ByEvent returns up to limit records with the given event name, newest first.
func (j *Journal) ByEvent(ctx context.Context, name engine.EventName, limit int) ([]Record, error) {
	return j.query(ctx, `
		SELECT id, seq, emitter, name, payload, created_at
		FROM amm_events
		WHERE name = $1
		ORDER BY created_at DESC, seq DESC
		LIMIT $2
	`, string(name), limit)
}

// ByEmitter returns up to limit records emitted by addr, newest first.
func (j *Journal) ByEmitter(ctx context.Context, addr common.Address, limit int) ([]Record, error) {
	return j.query(ctx, `
		SELECT id, seq, emitter, name, payload, created_at
		FROM amm_events
		WHERE emitter = $1
		ORDER BY created_at DESC, seq DESC
		LIMIT $2
	`, strings.ToLower(addr.Hex()), limit)
}

// Count returns the number of stored records.
func (j *Journal) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := j.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM amm_events").Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

func (j *Journal) query(ctx context.Context, query string, args ...any) ([]Record, error) {
	limit := args[len(args)-1].(int)
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", engine.ErrInvalidArgument)
	}
	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec       Record
			id        string
			seq       int64
			emitter   string
			name      string
			payload   string
			createdAt int64
		)
		if err := rows.Scan(&id, &seq, &emitter, &name, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("query: scan: %w", err)
		}
		if rec.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("query: bad id %q: %w", id, err)
		}
		rec.Seq = uint64(seq)
		rec.Emitter = common.HexToAddress(emitter)
		rec.Name = engine.EventName(name)
		rec.Payload = json.RawMessage(payload)
		rec.Time = time.Unix(0, createdAt).UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	return records, nil
}

// Run subscribes to src and appends every log it delivers until ctx is done or
// the subscription fails. Write failures are logged and do not stop the loop.
func (j *Journal) Run(ctx context.Context, src Source) error {
	ch := make(chan engine.Log, j.bufferSize)
	sub := src.Subscribe(ch)
	return j.loop(ctx, ch, sub)
}

// Start subscribes to src before returning and journals in the background, so
// logs published after Start returns are never missed. The channel yields the
// loop's result once it stops and is closed afterwards.
func (j *Journal) Start(ctx context.Context, src Source) <-chan error {
	ch := make(chan engine.Log, j.bufferSize)
	sub := src.Subscribe(ch)
	done := make(chan error, 1)
	go func() {
		defer close(done)
		done <- j.loop(ctx, ch, sub)
	}()
	return done
}

func (j *Journal) loop(ctx context.Context, ch <-chan engine.Log, sub event.Subscription) error {
	defer sub.Unsubscribe()

	j.logger.Info("journal subscribed to logs")
	for {
		select {
		case l := <-ch:
			if err := j.Append(ctx, l); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				j.logger.Error("failed to journal log", "seq", l.Seq, "error", err)
			}
		case err := <-sub.Err():
			return err
		case <-ctx.Done():
			j.logger.Info("journal stopping")
			return ctx.Err()
		}
	}
}
