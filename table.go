package fdk

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
)

// FeatureTable is a column oriented table of feature values. Every column in
// Columns has an entry in Values, and all value slices have the same length.
type FeatureTable struct {
	Columns []string
	Values  map[string][]interface{}
}

// NewFeatureTable returns an empty table with the given columns.
func NewFeatureTable(columns ...string) *FeatureTable {
	t := &FeatureTable{
		Columns: make([]string, 0, len(columns)),
		Values:  make(map[string][]interface{}, len(columns)),
	}
	for _, c := range columns {
		t.Columns = append(t.Columns, c)
		t.Values[c] = make([]interface{}, 0)
	}
	return t
}

// Len returns the number of rows.
func (t *FeatureTable) Len() int {
	if t == nil || len(t.Columns) == 0 {
		return 0
	}
	return len(t.Values[t.Columns[0]])
}

// Has reports whether the table has the named column.
func (t *FeatureTable) Has(column string) bool {
	_, ok := t.Values[column]
	return ok
}

// Column returns the values of the named column, or nil.
func (t *FeatureTable) Column(name string) []interface{} {
	return t.Values[name]
}

// AddColumn appends a column. The number of values must match the table's
// length unless the table has no columns yet.
func (t *FeatureTable) AddColumn(name string, values []interface{}) error {
	if t.Has(name) {
		return errors.Errorf("column '%s' already exists", name)
	}
	if len(t.Columns) > 0 && len(values) != t.Len() {
		return errors.Errorf("column '%s' has %d values, table has %d rows", name, len(values), t.Len())
	}
	if t.Values == nil {
		t.Values = make(map[string][]interface{})
	}
	t.Columns = append(t.Columns, name)
	t.Values[name] = values
	return nil
}

// DropColumn removes a column and returns its values.
func (t *FeatureTable) DropColumn(name string) []interface{} {
	vals, ok := t.Values[name]
	if !ok {
		return nil
	}
	delete(t.Values, name)
	for i, c := range t.Columns {
		if c == name {
			t.Columns = append(t.Columns[:i], t.Columns[i+1:]...)
			break
		}
	}
	return vals
}

// AppendRow adds a row. Columns missing from row get a nil value, keys of row
// which are not columns are ignored.
func (t *FeatureTable) AppendRow(row map[string]interface{}) {
	for _, c := range t.Columns {
		t.Values[c] = append(t.Values[c], row[c])
	}
}

// Row returns row i as a map from column to value.
func (t *FeatureTable) Row(i int) map[string]interface{} {
	row := make(map[string]interface{}, len(t.Columns))
	for _, c := range t.Columns {
		row[c] = t.Values[c][i]
	}
	return row
}

// EntityRows projects the table onto the given key columns, producing rows in
// the shape accepted by FeatureStore.GetOnlineFeatures.
func (t *FeatureTable) EntityRows(keys ...string) ([]map[string]interface{}, error) {
	for _, k := range keys {
		if !t.Has(k) {
			return nil, &SchemaMismatchError{Column: k}
		}
	}
	rows := make([]map[string]interface{}, t.Len())
	for i := range rows {
		row := make(map[string]interface{}, len(keys))
		for _, k := range keys {
			row[k] = t.Values[k][i]
		}
		rows[i] = row
	}
	return rows, nil
}

// Fprint writes the first n rows of the table to w, aligned in columns. A
// negative n writes every row.
func (t *FeatureTable) Fprint(w io.Writer, n int) error {
	if n < 0 || n > t.Len() {
		n = t.Len()
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, c := range t.Columns {
		fmt.Fprintf(tw, "\t%s", c)
	}
	fmt.Fprintln(tw)
	for i := 0; i < n; i++ {
		fmt.Fprintf(tw, "%d", i)
		for _, c := range t.Columns {
			fmt.Fprintf(tw, "\t%s", formatCell(t.Values[c][i]))
		}
		fmt.Fprintln(tw)
	}
	return tw.Flush()
}

func formatCell(v interface{}) string {
	switch vt := v.(type) {
	case nil:
		return "None"
	case time.Time:
		return vt.Format("2006-01-02 15:04:05")
	default:
		return fmt.Sprint(v)
	}
}

// Materializer turns a drained batch into a FeatureTable, deriving the event
// and created timestamp columns from an epoch-millisecond field.
type Materializer struct {
	TimestampField         string
	EventTimestampColumn   string
	CreatedTimestampColumn string
}

// NewMaterializer returns a Materializer with the column names used by the
// user traffic feature view.
func NewMaterializer() Materializer {
	return Materializer{
		TimestampField:         "timestamp",
		EventTimestampColumn:   "event_event_timestamp",
		CreatedTimestampColumn: "event_created_timestamp",
	}
}

// Materialize builds a table whose columns are the value keys of the first
// record. Both derived timestamp columns are the timestamp field divided by
// 1000, and the timestamp field itself is dropped.
func (m Materializer) Materialize(batch []Record) (*FeatureTable, error) {
	if len(batch) == 0 {
		return nil, ErrEmptyBatch
	}
	columns := batch[0].FieldNames()
	t := NewFeatureTable()
	for _, col := range columns {
		vals := make([]interface{}, len(batch))
		for i, rec := range batch {
			val, ok := rec.Value[col]
			if !ok {
				return nil, &SchemaMismatchError{Record: i, Column: col}
			}
			vals[i] = val
		}
		if err := t.AddColumn(col, vals); err != nil {
			return nil, err
		}
	}

	raw := t.Column(m.TimestampField)
	if raw == nil {
		return nil, &SchemaMismatchError{Record: 0, Column: m.TimestampField}
	}
	event := make([]interface{}, len(raw))
	created := make([]interface{}, len(raw))
	for i, v := range raw {
		ms, err := toFloat64(v)
		if err != nil {
			return nil, errors.Wrapf(err, "record %d field '%s'", i, m.TimestampField)
		}
		event[i] = ms / 1000
		created[i] = ms / 1000
	}
	t.DropColumn(m.EventTimestampColumn)
	t.DropColumn(m.CreatedTimestampColumn)
	if err := t.AddColumn(m.EventTimestampColumn, event); err != nil {
		return nil, err
	}
	if err := t.AddColumn(m.CreatedTimestampColumn, created); err != nil {
		return nil, err
	}
	t.DropColumn(m.TimestampField)
	return t, nil
}

func toFloat64(val interface{}) (float64, error) {
	switch vt := val.(type) {
	case int:
		return float64(vt), nil
	case int32:
		return float64(vt), nil
	case int64:
		return float64(vt), nil
	case uint32:
		return float64(vt), nil
	case uint64:
		return float64(vt), nil
	case float32:
		return float64(vt), nil
	case float64:
		return vt, nil
	default:
		return 0, errors.Errorf("couldn't convert %v of %[1]T to float64", vt)
	}
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
