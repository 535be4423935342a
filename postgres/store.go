// Package postgres implements fdk.OfflineStore on PostgreSQL. Feature view
// batch sources are SQL queries which are wrapped in the queries issued here.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/featuredemo/fdk"
	"github.com/lib/pq"
	"github.com/pkg/errors"
)

const (
	connectTimeout  = 5 * time.Second
	maxOpenConns    = 10
	connMaxLifetime = 30 * time.Minute
)

var _ fdk.OfflineStore = &Store{}

// Store is a PostgreSQL fdk.OfflineStore.
type Store struct {
	db  *sql.DB
	log fdk.Logger
}

// DSN builds a lib/pq connection string.
func DSN(c fdk.OfflineStoreConfig) string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	parts := []string{
		fmt.Sprintf("host=%s", c.Host),
		fmt.Sprintf("port=%d", c.Port),
		fmt.Sprintf("dbname=%s", c.Database),
		fmt.Sprintf("sslmode=%s", sslMode),
	}
	if c.User != "" {
		parts = append(parts, fmt.Sprintf("user=%s", c.User))
	}
	if c.Password != "" {
		parts = append(parts, fmt.Sprintf("password=%s", c.Password))
	}
	return strings.Join(parts, " ")
}

// NewStore connects to the database described by c.
func NewStore(ctx context.Context, c fdk.OfflineStoreConfig, log fdk.Logger) (*Store, error) {
	db, err := sql.Open("postgres", DSN(c))
	if err != nil {
		return nil, errors.Wrap(err, "opening postgres connection")
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetConnMaxLifetime(connMaxLifetime)
	pctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "connecting to postgres at %s:%d", c.Host, c.Port)
	}
	return NewStoreWithDB(db, log), nil
}

// NewStoreWithDB returns a Store using db, which it closes in Close.
func NewStoreWithDB(db *sql.DB, log fdk.Logger) *Store {
	if log == nil {
		log = fdk.NopLogger{}
	}
	return &Store{db: db, log: log}
}

func batchSource(view *fdk.FeatureView) (*fdk.DataSource, error) {
	src := view.Source.Batch()
	if src == nil || src.Kind != fdk.PostgresSourceKind {
		return nil, errors.Errorf("feature view '%s' has no postgres batch source", view.Name)
	}
	if src.TimestampField == "" {
		return nil, errors.Errorf("batch source '%s' has no timestamp field", src.Name)
	}
	return src, nil
}

func quoteAll(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = pq.QuoteIdentifier(n)
	}
	return strings.Join(quoted, ", ")
}

// orderBy sorts the newest source rows first.
func orderBy(src *fdk.DataSource) string {
	o := pq.QuoteIdentifier(src.TimestampField) + " DESC"
	if src.CreatedTimestampColumn != "" {
		o += ", " + pq.QuoteIdentifier(src.CreatedTimestampColumn) + " DESC"
	}
	return o
}

func appendUnique(dst []string, names ...string) []string {
	for _, n := range names {
		if n == "" {
			continue
		}
		dup := false
		for _, d := range dst {
			if d == n {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, n)
		}
	}
	return dst
}

// PullLatest implements fdk.OfflineStore.
func (s *Store) PullLatest(ctx context.Context, view *fdk.FeatureView, start, end time.Time) (*fdk.FeatureTable, error) {
	src, err := batchSource(view)
	if err != nil {
		return nil, err
	}
	keys := view.JoinKeys()
	if len(keys) == 0 {
		return nil, errors.Errorf("feature view '%s' has no join keys", view.Name)
	}
	columns := appendUnique(nil, keys...)
	columns = appendUnique(columns, view.Features()...)
	columns = appendUnique(columns, src.TimestampField, src.CreatedTimestampColumn)
	cols := quoteAll(columns)
	query := fmt.Sprintf(`SELECT %[1]s FROM (
	SELECT %[1]s, ROW_NUMBER() OVER (PARTITION BY %[2]s ORDER BY %[3]s) AS fdk_row
	FROM (%[4]s) AS fdk_source
	WHERE %[5]s BETWEEN $1 AND $2
) AS fdk_latest WHERE fdk_row = 1`, cols, quoteAll(keys), orderBy(src), src.Query, pq.QuoteIdentifier(src.TimestampField))
	s.log.Debugf("pulling latest rows of %s: %s", view.Name, query)

	rows, err := s.db.QueryContext(ctx, query, start, end)
	if err != nil {
		return nil, errors.Wrapf(err, "querying source '%s'", src.Name)
	}
	defer rows.Close()
	table := fdk.NewFeatureTable(columns...)
	for rows.Next() {
		vals, err := scanRow(rows, len(columns))
		if err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(columns))
		for i, c := range columns {
			row[c] = vals[i]
		}
		table.AppendRow(row)
	}
	return table, errors.Wrap(rows.Err(), "reading rows")
}

// PointInTime implements fdk.OfflineStore. It issues one query per entity
// row.
func (s *Store) PointInTime(ctx context.Context, view *fdk.FeatureView, features []string, entities *fdk.FeatureTable, tsColumn string) (*fdk.FeatureTable, error) {
	src, err := batchSource(view)
	if err != nil {
		return nil, err
	}
	keys := view.JoinKeys()
	for _, k := range keys {
		if !entities.Has(k) {
			return nil, &fdk.SchemaMismatchError{Column: k}
		}
	}
	if !entities.Has(tsColumn) {
		return nil, &fdk.SchemaMismatchError{Column: tsColumn}
	}
	conds := make([]string, 0, len(keys)+2)
	for i, k := range keys {
		conds = append(conds, fmt.Sprintf("%s = $%d", pq.QuoteIdentifier(k), i+1))
	}
	ts := pq.QuoteIdentifier(src.TimestampField)
	conds = append(conds, fmt.Sprintf("%s <= $%d", ts, len(keys)+1))
	if view.TTL > 0 {
		conds = append(conds, fmt.Sprintf("%s >= $%d", ts, len(keys)+2))
	}
	query := fmt.Sprintf("SELECT %s FROM (%s) AS fdk_source WHERE %s ORDER BY %s LIMIT 1",
		quoteAll(features), src.Query, strings.Join(conds, " AND "), orderBy(src))
	s.log.Debugf("point in time query for %s: %s", view.Name, query)

	out := make([][]interface{}, len(features))
	for i := range out {
		out[i] = make([]interface{}, entities.Len())
	}
	for r := 0; r < entities.Len(); r++ {
		at, ok := entities.Values[tsColumn][r].(time.Time)
		if !ok {
			return nil, errors.Errorf("row %d of '%s' is not a time", r, tsColumn)
		}
		args := make([]interface{}, 0, len(keys)+2)
		for _, k := range keys {
			args = append(args, entities.Values[k][r])
		}
		args = append(args, at)
		if view.TTL > 0 {
			args = append(args, at.Add(-view.TTL))
		}
		vals, err := s.queryOne(ctx, query, len(features), args...)
		if err != nil {
			return nil, errors.Wrapf(err, "querying row %d", r)
		}
		for i := range features {
			if vals != nil {
				out[i][r] = vals[i]
			}
		}
	}
	table := fdk.NewFeatureTable()
	for i, f := range features {
		if err := table.AddColumn(f, out[i]); err != nil {
			return nil, err
		}
	}
	return table, nil
}

// queryOne returns the values of the first row, or nil if there is none.
func (s *Store) queryOne(ctx context.Context, query string, n int, args ...interface{}) ([]interface{}, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanRow(rows, n)
}

func scanRow(rows *sql.Rows, n int) ([]interface{}, error) {
	vals := make([]interface{}, n)
	ptrs := make([]interface{}, n)
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, errors.Wrap(err, "scanning row")
	}
	for i, v := range vals {
		switch vt := v.(type) {
		case []byte:
			vals[i] = string(vt)
		case time.Time:
			vals[i] = vt.UTC()
		}
	}
	return vals, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
