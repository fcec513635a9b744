// Copyright 2024 Google LLC. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package store persists the state of a simulated board in sqlite, so that
// separate tools can share one board across runs.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/c2a-monazite/dualboot/devices/sim"
	"github.com/golang/glog"
	_ "github.com/mattn/go-sqlite3" // Load drivers for sqlite3
)

// ErrNoDataFound is returned when the DB is valid but holds no board yet.
var ErrNoDataFound = errors.New("no data found")

// Store reads and writes board state.
type Store struct {
	db *sql.DB
}

// Open opens, creating if needed, the sqlite database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}
	return NewStoreDirect(db)
}

// NewStoreDirect creates a Store using the given database connection.
func NewStoreDirect(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	return s, s.init()
}

func (s *Store) init() error {
	for _, q := range []string{
		"CREATE TABLE IF NOT EXISTS banks (id INTEGER PRIMARY KEY, data BLOB)",
		"CREATE TABLE IF NOT EXISTS backup (id INTEGER PRIMARY KEY, value INTEGER)",
		"CREATE TABLE IF NOT EXISTS options (name TEXT PRIMARY KEY, value INTEGER)",
	} {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save replaces the stored board state with st.
func (s *Store) Save(ctx context.Context, st sim.State) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("BeginTx: %w", err)
	}
	if err := save(ctx, tx, st); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func save(ctx context.Context, tx *sql.Tx, st sim.State) error {
	for i, b := range st.Banks {
		if _, err := tx.ExecContext(ctx, "INSERT OR REPLACE INTO banks (id, data) VALUES (?, ?)", i+1, b); err != nil {
			return fmt.Errorf("write bank %d: %w", i+1, err)
		}
	}
	for i, v := range st.Backup {
		if _, err := tx.ExecContext(ctx, "INSERT OR REPLACE INTO backup (id, value) VALUES (?, ?)", i, int64(v)); err != nil {
			return fmt.Errorf("write backup register %d: %w", i, err)
		}
	}
	var swap int64
	if st.SwapBank {
		swap = 1
	}
	for name, v := range map[string]int64{"swap_bank": swap, "rsr": int64(st.ResetFlags)} {
		if _, err := tx.ExecContext(ctx, "INSERT OR REPLACE INTO options (name, value) VALUES (?, ?)", name, v); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	return nil
}

// Load returns the stored board state, or ErrNoDataFound.
func (s *Store) Load(ctx context.Context) (sim.State, error) {
	var st sim.State
	rows, err := s.db.QueryContext(ctx, "SELECT id, data FROM banks ORDER BY id")
	if err != nil {
		return st, fmt.Errorf("query banks: %w", err)
	}
	defer rows.Close()
	n := 0
	for rows.Next() {
		var id int
		var data []byte
		if err := rows.Scan(&id, &data); err != nil {
			return st, fmt.Errorf("Scan(): %v", err)
		}
		if id < 1 || id > len(st.Banks) {
			return st, fmt.Errorf("unexpected bank id %d", id)
		}
		st.Banks[id-1] = data
		n++
	}
	if err := rows.Err(); err != nil {
		return st, err
	}
	if n == 0 {
		return st, ErrNoDataFound
	}

	brows, err := s.db.QueryContext(ctx, "SELECT id, value FROM backup")
	if err != nil {
		return st, fmt.Errorf("query backup: %w", err)
	}
	defer brows.Close()
	for brows.Next() {
		var id int
		var v int64
		if err := brows.Scan(&id, &v); err != nil {
			return st, fmt.Errorf("Scan(): %v", err)
		}
		if id < 0 || id >= len(st.Backup) {
			return st, fmt.Errorf("unexpected backup register %d", id)
		}
		st.Backup[id] = uint32(v)
	}
	if err := brows.Err(); err != nil {
		return st, err
	}

	var swap, rsr int64
	for name, dst := range map[string]*int64{"swap_bank": &swap, "rsr": &rsr} {
		row := s.db.QueryRowContext(ctx, "SELECT value FROM options WHERE name = ?", name)
		if err := row.Scan(dst); err != nil && err != sql.ErrNoRows {
			return st, fmt.Errorf("read %s: %w", name, err)
		}
	}
	st.SwapBank = swap != 0
	st.ResetFlags = uint32(rsr)
	return st, nil
}

// Board returns a board restored from the store, or a factory fresh one if
// the store is empty.
func (s *Store) Board(ctx context.Context, seed int64) (*sim.Board, error) {
	b := sim.New(seed)
	st, err := s.Load(ctx)
	switch {
	case errors.Is(err, ErrNoDataFound):
		glog.Info("No stored board, starting with erased flash")
		return b, nil
	case err != nil:
		return nil, err
	}
	if err := b.Restore(st); err != nil {
		return nil, fmt.Errorf("restore board: %w", err)
	}
	return b, nil
}
