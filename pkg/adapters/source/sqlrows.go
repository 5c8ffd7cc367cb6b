package source

import (
	"context"
	"database/sql"
	"io"
	"time"
)

// sqlRowIterator adapts a database/sql cursor to the RowIterator contract.
// It is shared by every family that speaks database/sql; the postgres and
// mongodb connectors have their own cursor types.
type sqlRowIterator struct {
	rows      *sql.Rows
	cols      []string
	batchSize int
	done      bool
}

// NewSQLRowIterator wraps rows into a batched iterator. Ownership of the
// cursor transfers to the iterator.
func NewSQLRowIterator(rows *sql.Rows, batchSize int) (RowIterator, error) {
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, err
	}
	if batchSize < 1 {
		batchSize = DefaultFetchBatchSize
	}
	return &sqlRowIterator{rows: rows, cols: cols, batchSize: batchSize}, nil
}

func (it *sqlRowIterator) Next(ctx context.Context) (RowBatch, error) {
	if it.done {
		return RowBatch{}, io.EOF
	}

	batch := RowBatch{Rows: make([]Row, 0, it.batchSize)}
	for len(batch.Rows) < it.batchSize {
		if err := ctx.Err(); err != nil {
			return RowBatch{}, err
		}
		if !it.rows.Next() {
			it.done = true
			if err := it.rows.Err(); err != nil {
				return RowBatch{}, err
			}
			break
		}

		vals := make([]any, len(it.cols))
		ptrs := make([]any, len(it.cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := it.rows.Scan(ptrs...); err != nil {
			// A single undecodable row is skipped, not fatal; the caller
			// enforces the failure-rate threshold.
			batch.Skipped++
			continue
		}

		row := make(Row, len(it.cols))
		for i, c := range it.cols {
			row[c] = normalizeValue(vals[i])
		}
		batch.Rows = append(batch.Rows, row)
	}

	if len(batch.Rows) == 0 && batch.Skipped == 0 {
		return RowBatch{}, io.EOF
	}
	return batch, nil
}

func (it *sqlRowIterator) Close() error {
	return it.rows.Close()
}

// normalizeValue maps driver-specific scan results onto the small set of
// types the loader understands.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case []byte:
		return string(val)
	case time.Time:
		return val.UTC()
	default:
		return v
	}
}
