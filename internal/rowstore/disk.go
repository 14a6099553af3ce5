package rowstore

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/gob"
	"fmt"
)

const diskSchema = `
CREATE TABLE IF NOT EXISTS rows (
	id       INTEGER PRIMARY KEY,
	data     BLOB NOT NULL,
	null_map INTEGER NOT NULL DEFAULT 0
);`

// openDiskLocked opens the disk-backed cache for this store. Each store
// gets its own private, in-process SQLite database (no file on disk is
// required for a promoted intermediate table; a real deployment would
// pass a table-space-derived path here instead of ":memory:"), with a
// single connection so the in-flight transaction and the store's own
// reads always observe the same connection's writes, following
// internal/storage/ephemeral.Store's MaxOpenConns(1) pattern.
func (s *Store) openDiskLocked(ctx context.Context) error {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return fmt.Errorf("open disk cache for %s: %w", s.table, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.ExecContext(ctx, diskSchema); err != nil {
		db.Close()
		return fmt.Errorf("init disk cache schema for %s: %w", s.table, err)
	}
	s.disk = db
	return nil
}

func encodeValues(values []any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&values); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeValues(data []byte) ([]any, error) {
	var values []any
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&values); err != nil {
		return nil, err
	}
	return values, nil
}

// diskInsert writes the row to the data-file cache under the row id
// the caller in Add has already assigned from the store's rowIDSeq.
func (s *Store) diskInsert(ctx context.Context, row *Row) error {
	return s.diskInsertWithID(ctx, row)
}

func (s *Store) diskInsertWithID(ctx context.Context, row *Row) error {
	data, err := encodeValues(row.Values)
	if err != nil {
		return fmt.Errorf("encode row %d: %w", row.ID, err)
	}
	_, err = s.disk.ExecContext(ctx,
		`INSERT OR REPLACE INTO rows (id, data, null_map) VALUES (?, ?, ?)`,
		row.ID, data, int64(row.NullMap))
	return err
}

func (s *Store) diskGet(ctx context.Context, id int64) (*Row, error) {
	var data []byte
	var nullMap int64
	err := s.disk.QueryRowContext(ctx, `SELECT data, null_map FROM rows WHERE id = ?`, id).Scan(&data, &nullMap)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get row %d: %w", id, err)
	}
	values, err := decodeValues(data)
	if err != nil {
		return nil, fmt.Errorf("decode row %d: %w", id, err)
	}
	return &Row{ID: id, Values: values, NullMap: uint64(nullMap)}, nil
}

func (s *Store) diskDelete(ctx context.Context, id int64) error {
	_, err := s.disk.ExecContext(ctx, `DELETE FROM rows WHERE id = ?`, id)
	return err
}

func (s *Store) diskScan(ctx context.Context, fn func(*Row) bool) error {
	rows, err := s.disk.QueryContext(ctx, `SELECT id, data, null_map FROM rows ORDER BY id ASC`)
	if err != nil {
		return fmt.Errorf("scan %s: %w", s.table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var data []byte
		var nullMap int64
		if err := rows.Scan(&id, &data, &nullMap); err != nil {
			return err
		}
		values, err := decodeValues(data)
		if err != nil {
			return fmt.Errorf("decode row %d: %w", id, err)
		}
		if !fn(&Row{ID: id, Values: values, NullMap: uint64(nullMap)}) {
			break
		}
	}
	return rows.Err()
}

// Close releases the disk cache connection, if any.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disk != nil {
		err := s.disk.Close()
		s.disk = nil
		return err
	}
	return nil
}
