package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"

	"reimbot/internal/apperrors"
)

// Store is an in-memory ordered sequence of rows backed by a CSV file. The
// file is rewritten in full on every sync through a temp-file-then-rename
// protocol, so readers only ever observe a complete table. A single mutex
// serializes all mutation; the store assumes one owning process.
type Store struct {
	mu     sync.Mutex
	path   string
	schema *Schema
	rows   []Row
}

// New creates a store for path and loads the backing file if it exists.
// A missing file is a valid initial state and yields an empty table.
func New(path string, schema *Schema) (*Store, error) {
	s := &Store{
		path:   path,
		schema: schema,
	}

	if err := s.load(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Store) load() error {
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}

		return fmt.Errorf("open data file %s: %w", s.path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	reader := csv.NewReader(f)

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: file %s is empty, expected header %v",
				apperrors.ErrSchemaMismatch, s.path, s.schema.Fields)
		}

		return fmt.Errorf("read header of %s: %w", s.path, err)
	}

	if len(header) != len(s.schema.Fields) {
		return fmt.Errorf("%w: file %s has header %v, expected %v",
			apperrors.ErrSchemaMismatch, s.path, header, s.schema.Fields)
	}

	for i, field := range s.schema.Fields {
		if header[i] != field {
			return fmt.Errorf("%w: file %s has header %v, expected %v",
				apperrors.ErrSchemaMismatch, s.path, header, s.schema.Fields)
		}
	}

	line := 1

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}

		line++

		if err != nil {
			return fmt.Errorf("%w: file %s line %d: %w", apperrors.ErrCorruptRecord, s.path, line, err)
		}

		row, err := s.schema.Parse(record)
		if err != nil {
			return fmt.Errorf("%w: file %s line %d: %w", apperrors.ErrCorruptRecord, s.path, line, err)
		}

		s.rows = append(s.rows, row)
	}

	return nil
}

// Append validates the row against the schema, adds it to the table and
// syncs. This is the only mutation path for collaborators that create rows.
func (s *Store) Append(row Row) error {
	if err := s.schema.Validate(row); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.rows = append(s.rows, row)

	if err := s.syncLocked(); err != nil {
		s.rows = s.rows[:len(s.rows)-1]

		return err
	}

	return nil
}

// Find returns the first row matching pred. Outside an Update scope the
// result may be stale with respect to a concurrent writer.
func (s *Store) Find(pred func(Row) bool) (Row, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return findRow(s.rows, pred)
}

// Mutate applies update to the first row matching pred and syncs, all under
// the store lock. Returns apperrors.ErrRowNotFound when no row matches.
func (s *Store) Mutate(pred func(Row) bool, update func(Row)) error {
	return s.Update(func(tx *Tx) error {
		row, ok := tx.Find(pred)
		if !ok {
			return apperrors.ErrRowNotFound
		}

		update(row)

		return tx.Sync()
	})
}

// Update runs fn while holding the store lock. The Tx passed to fn exposes
// the already-locked primitives, so multi-step read-then-write sequences
// stay atomic without re-acquiring the mutex. The lock is released on every
// exit path, including a panic inside fn.
func (s *Store) Update(fn func(tx *Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return fn(&Tx{s: s})
}

// Sync rewrites the backing file from the in-memory table.
func (s *Store) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.syncLocked()
}

// Close performs a final sync.
func (s *Store) Close() error {
	return s.Sync()
}

// Len reports the number of rows in the table.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.rows)
}

// syncLocked writes the whole table to a sibling temp file and renames it
// over the real path. On any write failure the temp file is removed and the
// committed file is left untouched. Callers must hold s.mu.
func (s *Store) syncLocked() error {
	tempname := s.path + ".tmp"

	if err := s.writeFile(tempname); err != nil {
		_ = os.Remove(tempname)

		return err
	}

	if err := os.Rename(tempname, s.path); err != nil {
		_ = os.Remove(tempname)

		return fmt.Errorf("commit data file %s: %w", s.path, err)
	}

	return nil
}

func (s *Store) writeFile(name string) error {
	f, err := os.Create(name)
	if err != nil {
		return fmt.Errorf("create temp data file: %w", err)
	}

	writer := csv.NewWriter(f)

	if err := writer.Write(s.schema.Fields); err != nil {
		_ = f.Close()

		return fmt.Errorf("write header: %w", err)
	}

	for _, row := range s.rows {
		record, err := s.schema.Stringify(row)
		if err != nil {
			_ = f.Close()

			return fmt.Errorf("stringify row: %w", err)
		}

		if err := writer.Write(record); err != nil {
			_ = f.Close()

			return fmt.Errorf("write row: %w", err)
		}
	}

	writer.Flush()

	if err := writer.Error(); err != nil {
		_ = f.Close()

		return fmt.Errorf("flush data file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("close data file: %w", err)
	}

	return nil
}

// Tx is the view of a store held inside an Update scope.
type Tx struct {
	s *Store
}

// Find returns the first row matching pred.
func (tx *Tx) Find(pred func(Row) bool) (Row, bool) {
	return findRow(tx.s.rows, pred)
}

// Rows returns the live row sequence. Rows must not be retained past the
// Update scope.
func (tx *Tx) Rows() []Row {
	return tx.s.rows
}

// Append validates and adds a row without syncing.
func (tx *Tx) Append(row Row) error {
	if err := tx.s.schema.Validate(row); err != nil {
		return err
	}

	tx.s.rows = append(tx.s.rows, row)

	return nil
}

// Sync rewrites the backing file.
func (tx *Tx) Sync() error {
	return tx.s.syncLocked()
}

func findRow(rows []Row, pred func(Row) bool) (Row, bool) {
	for _, row := range rows {
		if pred(row) {
			return row, true
		}
	}

	return nil, false
}
