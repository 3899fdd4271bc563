// Package privacy groups records into quasi-identifier equivalence classes and
// repairs classes that fall below a k-anonymity target.
package privacy

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/inferloop/deident/pkg/constants"
	"github.com/inferloop/deident/pkg/errors"
	"github.com/inferloop/deident/pkg/models"
)

// CanonicalValue is the text form used for grouping. Undefined cells become
// the missing value token, so two undefined cells compare equal.
func CanonicalValue(v models.Value) string {
	if !v.Valid {
		return constants.MissingValueToken
	}
	return v.Text
}

// EquivalenceClass is the set of rows sharing one canonical QI tuple.
type EquivalenceClass struct {
	Key        []string
	Identifier string
	Rows       []int
	Size       int
}

// String renders the key as a tuple for reports.
func (c *EquivalenceClass) String() string {
	return FormatKey(c.Key)
}

// Grouping is a dataset partitioned by its QI columns. Classes are ordered by
// key, element by element.
type Grouping struct {
	QuasiIdentifiers []string
	Classes          []*EquivalenceClass
	indexes          []int
}

// MissingColumns lists the names in cols that ds does not have, in order.
func MissingColumns(ds *models.Dataset, cols []string) []string {
	var missing []string
	for _, c := range cols {
		if !ds.HasColumn(c) {
			missing = append(missing, c)
		}
	}
	return missing
}

// GroupBy partitions ds by the canonical values of the qi columns.
func GroupBy(ds *models.Dataset, qi []string) (*Grouping, error) {
	if missing := MissingColumns(ds, qi); len(missing) > 0 {
		return nil, errors.WrapError(errors.ErrMissingColumn, errors.ErrorTypeValidation, errors.CodeMissingColumn,
			"quasi-identifier columns not in dataset").WithDetails(strings.Join(missing, ", "))
	}

	indexes := make([]int, len(qi))
	for i, c := range qi {
		indexes[i] = ds.ColumnIndex(c)
	}

	classMap := make(map[string]*EquivalenceClass)
	for r, row := range ds.Rows {
		key := canonicalKey(row, indexes)
		id := classIdentifier(key)

		if class, exists := classMap[id]; exists {
			class.Rows = append(class.Rows, r)
			class.Size++
		} else {
			classMap[id] = &EquivalenceClass{
				Key:        key,
				Identifier: id,
				Rows:       []int{r},
				Size:       1,
			}
		}
	}

	classes := make([]*EquivalenceClass, 0, len(classMap))
	for _, class := range classMap {
		classes = append(classes, class)
	}
	sort.Slice(classes, func(i, j int) bool {
		return lessKey(classes[i].Key, classes[j].Key)
	})

	return &Grouping{
		QuasiIdentifiers: append([]string(nil), qi...),
		Classes:          classes,
		indexes:          indexes,
	}, nil
}

// classIdentifier encodes a canonical key so that distinct tuples never share
// an identifier, whatever bytes the values contain.
func classIdentifier(key []string) string {
	var b strings.Builder
	for _, v := range key {
		b.WriteString(strconv.Quote(v))
	}
	return b.String()
}

// Len returns the number of classes.
func (g *Grouping) Len() int {
	return len(g.Classes)
}

// MinSize returns the smallest class size, or 0 when there are no classes.
func (g *Grouping) MinSize() int {
	if len(g.Classes) == 0 {
		return 0
	}
	min := g.Classes[0].Size
	for _, c := range g.Classes[1:] {
		if c.Size < min {
			min = c.Size
		}
	}
	return min
}

// Below returns the classes with fewer than k rows, in key order.
func (g *Grouping) Below(k int) []*EquivalenceClass {
	var out []*EquivalenceClass
	for _, c := range g.Classes {
		if c.Size < k {
			out = append(out, c)
		}
	}
	return out
}

// CountSize returns how many classes have exactly size rows.
func (g *Grouping) CountSize(size int) int {
	n := 0
	for _, c := range g.Classes {
		if c.Size == size {
			n++
		}
	}
	return n
}

func canonicalKey(row []models.Value, indexes []int) []string {
	key := make([]string, len(indexes))
	for i, idx := range indexes {
		key[i] = CanonicalValue(row[idx])
	}
	return key
}

func lessKey(a, b []string) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// FormatKey renders a class key for logs and evidence.
func FormatKey(key []string) string {
	return fmt.Sprintf("(%s)", strings.Join(key, ", "))
}
