// Package tracker is the provenance tracker: a small append-only
// relational trail over flat tabular storage (spec §3, §4.8, §6.3).
// Each entity is one CSV file under the tracking directory, guarded by
// an advisory file lock so concurrent orchestrator processes sharing
// the same directory never interleave a partial line (spec §5).
//
// No CSV library appears anywhere in the retrieved example pack, so
// this package is built on encoding/csv: it already implements the
// doubled-quote escaping rule spec §6.3 and §8's CSV round-trip
// property require, and reaching for a third-party CSV engine would
// add a dependency for exactly what the standard library already does
// correctly.
package tracker

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// timestampLayout is the local-time format spec §6.3 mandates.
const timestampLayout = "2006-01-02 15:04:05"

func now() string {
	return time.Now().Format(timestampLayout)
}

// table binds one entity's file path, lock, and column order.
type table struct {
	path    string
	lock    *flock.Flock
	columns []string
}

func newTable(dir, name string, columns []string) *table {
	path := filepath.Join(dir, name+".csv")
	return &table{
		path:    path,
		lock:    flock.New(path + ".lock"),
		columns: columns,
	}
}

// withLock acquires the table's exclusive advisory lock for the
// duration of fn, waiting up to timeout before giving up.
func (t *table) withLock(timeout time.Duration, fn func() error) error {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	locked, err := t.lock.TryLockContext(ctx, 25*time.Millisecond)
	if err != nil {
		return fmt.Errorf("tracker: lock %s: %w", t.path, err)
	}
	if !locked {
		return fmt.Errorf("tracker: timed out waiting for lock on %s", t.path)
	}
	defer t.lock.Unlock()
	return fn()
}

// appendRow writes one row, bootstrapping the header if the file is
// being created for the first time (spec §3 invariant: "the first
// physical row of every table file is a header row").
func (t *table) appendRow(timeout time.Duration, row []string) error {
	return t.withLock(timeout, func() error {
		needsHeader := false
		if info, err := os.Stat(t.path); err != nil {
			if !os.IsNotExist(err) {
				return fmt.Errorf("tracker: stat %s: %w", t.path, err)
			}
			needsHeader = true
		} else if info.Size() == 0 {
			needsHeader = true
		}

		f, err := os.OpenFile(t.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("tracker: open %s: %w", t.path, err)
		}
		defer f.Close()

		w := csv.NewWriter(f)
		if needsHeader {
			if err := w.Write(t.columns); err != nil {
				return fmt.Errorf("tracker: write header %s: %w", t.path, err)
			}
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("tracker: append row %s: %w", t.path, err)
		}
		w.Flush()
		return w.Error()
	})
}

// readAll returns every data row (header excluded) as column maps.
func (t *table) readAll() ([]map[string]string, error) {
	f, err := os.Open(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("tracker: open %s: %w", t.path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("tracker: read header %s: %w", t.path, err)
	}

	var rows []map[string]string
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("tracker: read row %s: %w", t.path, err)
		}
		row := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(record) {
				row[col] = record[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// rewriteRows overwrites the table's data rows in place, keeping the
// existing header. Used only by the single read-modify-write operation
// the model permits: the experiment-status update (spec §4.8).
func (t *table) rewriteRows(timeout time.Duration, mutate func([]map[string]string) ([]map[string]string, error)) error {
	return t.withLock(timeout, func() error {
		rows, err := t.readAllLocked()
		if err != nil {
			return err
		}
		rows, err = mutate(rows)
		if err != nil {
			return err
		}

		f, err := os.Create(t.path)
		if err != nil {
			return fmt.Errorf("tracker: rewrite %s: %w", t.path, err)
		}
		defer f.Close()

		w := csv.NewWriter(f)
		if err := w.Write(t.columns); err != nil {
			return fmt.Errorf("tracker: rewrite header %s: %w", t.path, err)
		}
		for _, row := range rows {
			record := make([]string, len(t.columns))
			for i, col := range t.columns {
				record[i] = row[col]
			}
			if err := w.Write(record); err != nil {
				return fmt.Errorf("tracker: rewrite row %s: %w", t.path, err)
			}
		}
		w.Flush()
		return w.Error()
	})
}

// readAllLocked is identical to readAll but assumes the caller already
// holds the table lock (called only from inside withLock).
func (t *table) readAllLocked() ([]map[string]string, error) {
	return t.readAll()
}
