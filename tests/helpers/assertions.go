package helpers

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/deident/pkg/constants"
	"github.com/inferloop/deident/pkg/models"
)

// GroupSizes counts rows per QI tuple. Undefined cells count as the missing
// value token, so the result is independent of the code under test.
func GroupSizes(t *testing.T, ds *models.Dataset, qi []string) map[string]int {
	t.Helper()

	idx := make([]int, len(qi))
	for i, c := range qi {
		idx[i] = ds.ColumnIndex(c)
		require.GreaterOrEqual(t, idx[i], 0, "QI column %q not in dataset", c)
	}

	sizes := make(map[string]int)
	for _, row := range ds.Rows {
		parts := make([]string, len(idx))
		for i, j := range idx {
			if row[j].Valid {
				parts[i] = row[j].Text
			} else {
				parts[i] = constants.MissingValueToken
			}
		}
		sizes[strings.Join(parts, "\x1f")]++
	}
	return sizes
}

// AssertKAnonymous asserts every QI group holds at least k rows.
func AssertKAnonymous(t *testing.T, ds *models.Dataset, qi []string, k int) {
	t.Helper()

	for key, size := range GroupSizes(t, ds, qi) {
		assert.GreaterOrEqual(t, size, k, "group %q has %d rows", strings.ReplaceAll(key, "\x1f", "|"), size)
	}
}

// AssertRowsPreserved asserts the first len(original.Rows) rows of got are
// exactly the rows of original.
func AssertRowsPreserved(t *testing.T, original, got *models.Dataset) {
	t.Helper()

	require.Equal(t, original.Columns, got.Columns, "column layout changed")
	require.GreaterOrEqual(t, got.Len(), original.Len(), "rows were removed")
	assert.Equal(t, original.Rows, got.Rows[:original.Len()], "original rows changed")
}

// AssertColumn asserts the named column holds want, with nil for undefined cells.
func AssertColumn(t *testing.T, ds *models.Dataset, column string, want []interface{}) {
	t.Helper()

	values, ok := ds.Column(column)
	require.True(t, ok, "column %q not in dataset", column)
	require.Len(t, values, len(want))

	for i, v := range values {
		if want[i] == nil {
			assert.False(t, v.Valid, "row %d of %q: expected undefined, got %q", i, column, v.Text)
			continue
		}
		assert.True(t, v.Valid, "row %d of %q: expected %v, got undefined", i, column, want[i])
		assert.Equal(t, want[i], v.Text, "row %d of %q", i, column)
	}
}
