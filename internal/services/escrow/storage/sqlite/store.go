// Package sqlite provides a SQLite-backed event journal.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	sqlitemigrate "github.com/louisbranch/askmi/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/askmi/internal/services/escrow/storage"
	"github.com/louisbranch/askmi/internal/services/escrow/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store persists journal records in SQLite.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite journal and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(context.Background(), sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB, now: time.Now}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// AppendEvent inserts one record and returns its sequence number.
func (s *Store) AppendEvent(ctx context.Context, record storage.EventRecord) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	kind := strings.TrimSpace(record.Kind)
	if kind == "" {
		return 0, fmt.Errorf("event kind is required")
	}
	if record.Instance == (common.Address{}) {
		return 0, fmt.Errorf("event instance is required")
	}
	attributes := record.Attributes
	if attributes == nil {
		attributes = map[string]string{}
	}
	encoded, err := json.Marshal(attributes)
	if err != nil {
		return 0, fmt.Errorf("encode attributes: %w", err)
	}
	recordedAt := record.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = s.now()
	}

	result, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO ledger_events (
		   instance,
		   kind,
		   actor,
		   questioner,
		   question_index,
		   content_hash,
		   asset,
		   amount,
		   fee,
		   attributes,
		   recorded_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.Instance.Hex(),
		kind,
		record.Actor.Hex(),
		record.Questioner.Hex(),
		record.QuestionIndex,
		record.ContentHash.Hex(),
		record.Asset,
		defaultAmount(record.Amount),
		defaultAmount(record.Fee),
		string(encoded),
		toMillis(recordedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("append event: %w", err)
	}
	seq, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("append event: %w", err)
	}
	return seq, nil
}

// GetEvent returns one record by sequence number.
func (s *Store) GetEvent(ctx context.Context, seq int64) (storage.EventRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.EventRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.EventRecord{}, fmt.Errorf("storage is not configured")
	}

	row := s.sqlDB.QueryRowContext(ctx, selectEvents+` WHERE seq = ?`, seq)
	record, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.EventRecord{}, storage.ErrNotFound
		}
		return storage.EventRecord{}, fmt.Errorf("get event: %w", err)
	}
	return record, nil
}

// ListEvents returns one page of records in sequence order.
func (s *Store) ListEvents(ctx context.Context, filter storage.EventFilter, pageSize int, pageToken string) (storage.EventPage, error) {
	if err := ctx.Err(); err != nil {
		return storage.EventPage{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.EventPage{}, fmt.Errorf("storage is not configured")
	}
	if pageSize <= 0 {
		return storage.EventPage{}, fmt.Errorf("page size must be greater than zero")
	}
	var after int64
	if token := strings.TrimSpace(pageToken); token != "" {
		parsed, err := strconv.ParseInt(token, 10, 64)
		if err != nil || parsed < 0 {
			return storage.EventPage{}, fmt.Errorf("invalid page token %q", pageToken)
		}
		after = parsed
	}

	clauses := []string{"seq > ?"}
	args := []any{after}
	if filter.Instance != (common.Address{}) {
		clauses = append(clauses, "instance = ?")
		args = append(args, filter.Instance.Hex())
	}
	if clause := strings.TrimSpace(filter.FilterClause); clause != "" {
		clauses = append(clauses, clause)
		args = append(args, filter.FilterParams...)
	}
	args = append(args, pageSize+1)

	rows, err := s.sqlDB.QueryContext(
		ctx,
		selectEvents+` WHERE `+strings.Join(clauses, " AND ")+` ORDER BY seq ASC LIMIT ?`,
		args...,
	)
	if err != nil {
		return storage.EventPage{}, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	page := storage.EventPage{Events: make([]storage.EventRecord, 0, pageSize)}
	for rows.Next() {
		record, err := scanEvent(rows)
		if err != nil {
			return storage.EventPage{}, fmt.Errorf("list events: %w", err)
		}
		page.Events = append(page.Events, record)
	}
	if err := rows.Err(); err != nil {
		return storage.EventPage{}, fmt.Errorf("list events: %w", err)
	}
	if len(page.Events) > pageSize {
		page.NextPageToken = strconv.FormatInt(page.Events[pageSize-1].Seq, 10)
		page.Events = page.Events[:pageSize]
	}
	return page, nil
}

const selectEvents = `SELECT seq, instance, kind, actor, questioner, question_index,
        content_hash, asset, amount, fee, attributes, recorded_at
   FROM ledger_events`

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (storage.EventRecord, error) {
	var (
		record      storage.EventRecord
		instance    string
		actor       string
		questioner  string
		contentHash string
		attributes  string
		recordedAt  int64
	)
	if err := row.Scan(
		&record.Seq,
		&instance,
		&record.Kind,
		&actor,
		&questioner,
		&record.QuestionIndex,
		&contentHash,
		&record.Asset,
		&record.Amount,
		&record.Fee,
		&attributes,
		&recordedAt,
	); err != nil {
		return storage.EventRecord{}, err
	}
	record.Instance = common.HexToAddress(instance)
	record.Actor = common.HexToAddress(actor)
	record.Questioner = common.HexToAddress(questioner)
	record.ContentHash = common.HexToHash(contentHash)
	record.RecordedAt = fromMillis(recordedAt)
	if err := json.Unmarshal([]byte(attributes), &record.Attributes); err != nil {
		return storage.EventRecord{}, fmt.Errorf("decode attributes: %w", err)
	}
	return record, nil
}

func defaultAmount(value string) string {
	if strings.TrimSpace(value) == "" {
		return "0"
	}
	return value
}

var _ storage.EventStore = (*Store)(nil)
