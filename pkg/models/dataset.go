package models

import (
	"fmt"
)

// Value is a single dataset cell. Valid is false for an undefined (missing) cell.
type Value struct {
	Text  string `json:"text"`
	Valid bool   `json:"valid"`
}

// String returns a defined cell holding s.
func String(s string) Value {
	return Value{Text: s, Valid: true}
}

// Null returns an undefined cell.
func Null() Value {
	return Value{}
}

// IsNull reports whether the cell is undefined.
func (v Value) IsNull() bool {
	return !v.Valid
}

// Dataset is an in-memory table: an ordered column list and rows of cells.
// Rows are always len(Columns) wide. Operations return new datasets and never
// mutate the receiver.
type Dataset struct {
	Columns []string  `json:"columns"`
	Rows    [][]Value `json:"rows"`
}

// NewDataset builds a dataset, checking that every row matches the header width.
func NewDataset(columns []string, rows [][]Value) (*Dataset, error) {
	seen := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		if _, dup := seen[c]; dup {
			return nil, fmt.Errorf("duplicate column %q", c)
		}
		seen[c] = struct{}{}
	}
	for i, row := range rows {
		if len(row) != len(columns) {
			return nil, fmt.Errorf("row %d has %d cells, expected %d", i, len(row), len(columns))
		}
	}
	return &Dataset{Columns: columns, Rows: rows}, nil
}

// Len returns the number of rows.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Rows)
}

// ColumnIndex returns the position of name, or -1.
func (d *Dataset) ColumnIndex(name string) int {
	for i, c := range d.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// HasColumn reports whether name is a column of the dataset.
func (d *Dataset) HasColumn(name string) bool {
	return d.ColumnIndex(name) >= 0
}

// Column returns a copy of the named column's cells.
func (d *Dataset) Column(name string) ([]Value, bool) {
	idx := d.ColumnIndex(name)
	if idx < 0 {
		return nil, false
	}
	out := make([]Value, len(d.Rows))
	for i, row := range d.Rows {
		out[i] = row[idx]
	}
	return out, true
}

// Clone returns a deep copy.
func (d *Dataset) Clone() *Dataset {
	cols := make([]string, len(d.Columns))
	copy(cols, d.Columns)
	rows := make([][]Value, len(d.Rows))
	for i, row := range d.Rows {
		r := make([]Value, len(row))
		copy(r, row)
		rows[i] = r
	}
	return &Dataset{Columns: cols, Rows: rows}
}

// WithColumn returns a copy with the named column set to values, replacing an
// existing column in place or appending a new one.
func (d *Dataset) WithColumn(name string, values []Value) (*Dataset, error) {
	if len(values) != len(d.Rows) {
		return nil, fmt.Errorf("column %q has %d values, dataset has %d rows", name, len(values), len(d.Rows))
	}
	out := d.Clone()
	idx := out.ColumnIndex(name)
	if idx < 0 {
		out.Columns = append(out.Columns, name)
		for i := range out.Rows {
			out.Rows[i] = append(out.Rows[i], values[i])
		}
		return out, nil
	}
	for i := range out.Rows {
		out.Rows[i][idx] = values[i]
	}
	return out, nil
}

// DropColumn returns a copy without the named column. Dropping an absent
// column returns an unchanged copy.
func (d *Dataset) DropColumn(name string) *Dataset {
	idx := d.ColumnIndex(name)
	if idx < 0 {
		return d.Clone()
	}
	keep := make([]string, 0, len(d.Columns)-1)
	keep = append(keep, d.Columns[:idx]...)
	keep = append(keep, d.Columns[idx+1:]...)
	out, _ := d.Project(keep)
	return out
}

// Project returns a dataset holding exactly cols, in that order.
func (d *Dataset) Project(cols []string) (*Dataset, error) {
	idx := make([]int, len(cols))
	var missing []string
	for i, c := range cols {
		idx[i] = d.ColumnIndex(c)
		if idx[i] < 0 {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("columns not in dataset: %v", missing)
	}

	header := make([]string, len(cols))
	copy(header, cols)
	rows := make([][]Value, len(d.Rows))
	for r, row := range d.Rows {
		out := make([]Value, len(cols))
		for i, j := range idx {
			out[i] = row[j]
		}
		rows[r] = out
	}
	return &Dataset{Columns: header, Rows: rows}, nil
}

// Append returns a copy with rows added at the end.
func (d *Dataset) Append(rows ...[]Value) (*Dataset, error) {
	for i, row := range rows {
		if len(row) != len(d.Columns) {
			return nil, fmt.Errorf("appended row %d has %d cells, expected %d", i, len(row), len(d.Columns))
		}
	}
	out := d.Clone()
	for _, row := range rows {
		r := make([]Value, len(row))
		copy(r, row)
		out.Rows = append(out.Rows, r)
	}
	return out, nil
}

// Strings returns the rows as text, rendering undefined cells as na.
func (d *Dataset) Strings(na string) [][]string {
	out := make([][]string, len(d.Rows))
	for i, row := range d.Rows {
		r := make([]string, len(row))
		for j, v := range row {
			if v.Valid {
				r[j] = v.Text
			} else {
				r[j] = na
			}
		}
		out[i] = r
	}
	return out
}

// FromStrings builds a dataset from text records, reading any cell that
// matches one of na as undefined.
func FromStrings(columns []string, records [][]string, na []string) (*Dataset, error) {
	missing := make(map[string]struct{}, len(na))
	for _, s := range na {
		missing[s] = struct{}{}
	}

	rows := make([][]Value, len(records))
	for i, rec := range records {
		row := make([]Value, len(rec))
		for j, cell := range rec {
			if _, isNA := missing[cell]; isNA {
				row[j] = Null()
			} else {
				row[j] = String(cell)
			}
		}
		rows[i] = row
	}
	return NewDataset(append([]string(nil), columns...), rows)
}
