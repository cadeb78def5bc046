package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/coderaid/partysync/internal/party"
)

const pagesSchema = `
	CREATE TABLE IF NOT EXISTS pages (
		id TEXT PRIMARY KEY,
		party_id TEXT NOT NULL,
		cache_key TEXT NOT NULL,
		data BLOB NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_pages_party ON pages(party_id);
`

// SQLiteCache keeps every entry in a single pages table keyed by the flat
// {party_id}_{key} storage key.
type SQLiteCache struct {
	db     *sql.DB
	codec  *codec
	logger *zap.Logger
}

// NewSQLiteCache opens (or creates) the database at path.
func NewSQLiteCache(path string, compress bool, logger *zap.Logger) (*SQLiteCache, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(pagesSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	c, err := newCodec(compress)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteCache{db: db, codec: c, logger: logger}, nil
}

func (s *SQLiteCache) Get(ctx context.Context, partyID, key string) (party.Page, bool, error) {
	if err := validatePartyID(partyID); err != nil {
		return nil, false, err
	}
	if err := validateKey(key); err != nil {
		return nil, false, err
	}

	id := StorageKey(partyID, key)
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM pages WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", id, err)
	}

	page, err := s.codec.decode(data)
	if err != nil {
		s.drop(ctx, id, err)
		return nil, false, nil
	}
	return page, true, nil
}

func (s *SQLiteCache) Put(ctx context.Context, partyID, key string, page party.Page) error {
	if err := validateKey(key); err != nil {
		return err
	}
	return s.write(ctx, partyID, key, page)
}

func (s *SQLiteCache) PutCurrent(ctx context.Context, partyID string, page party.Page) error {
	return s.write(ctx, partyID, party.CurrentKey, page)
}

func (s *SQLiteCache) write(ctx context.Context, partyID, key string, page party.Page) error {
	if err := validatePartyID(partyID); err != nil {
		return err
	}
	data, err := s.codec.encode(page)
	if err != nil {
		return err
	}

	id := StorageKey(partyID, key)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pages (id, party_id, cache_key, data, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`, id, partyID, key, data, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("put %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteCache) Clear(ctx context.Context, partyID string) error {
	if err := validatePartyID(partyID); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pages WHERE party_id = ?`, partyID); err != nil {
		return fmt.Errorf("clear party %s: %w", partyID, err)
	}
	return nil
}

func (s *SQLiteCache) LoadAll(ctx context.Context) (map[string][]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, party_id, cache_key, data FROM pages ORDER BY party_id`)
	if err != nil {
		return nil, fmt.Errorf("query pages: %w", err)
	}

	type corrupt struct {
		id  string
		err error
	}
	var dropped []corrupt
	result := make(map[string][]Entry)

	for rows.Next() {
		var (
			id, partyID, key string
			data             []byte
		)
		if err := rows.Scan(&id, &partyID, &key, &data); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan page: %w", err)
		}

		if err := validateKey(key); err != nil {
			dropped = append(dropped, corrupt{id: id, err: err})
			continue
		}
		page, err := s.codec.decode(data)
		if err != nil {
			dropped = append(dropped, corrupt{id: id, err: err})
			continue
		}
		result[partyID] = append(result[partyID], Entry{PartyID: partyID, Key: key, Page: page})
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("iterate pages: %w", err)
	}

	// Deletes wait until the cursor is closed; the pool holds a single connection.
	for _, c := range dropped {
		s.drop(ctx, c.id, c.err)
	}

	return result, nil
}

func (s *SQLiteCache) drop(ctx context.Context, id string, cause error) {
	s.logger.Warn("dropping corrupt cache entry", zap.String("key", id), zap.Error(cause))
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pages WHERE id = ?`, id); err != nil {
		s.logger.Warn("failed to remove corrupt cache entry", zap.String("key", id), zap.Error(err))
	}
}

func (s *SQLiteCache) Close() error {
	s.codec.close()
	return s.db.Close()
}

var _ PageCache = (*SQLiteCache)(nil)
