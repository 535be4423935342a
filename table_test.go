package fdk_test

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/featuredemo/fdk"
	"github.com/featuredemo/fdk/test"
	"github.com/pkg/errors"
)

func rec(fields []string, vals ...interface{}) fdk.Record {
	r := fdk.Record{Value: make(map[string]interface{}), Fields: fields}
	for i, f := range fields {
		r.Value[f] = vals[i]
	}
	return r
}

func TestMaterialize(t *testing.T) {
	fields := []string{"a", "b", "timestamp"}
	batch := []fdk.Record{
		rec(fields, "x", int64(1), int64(1649761182000)),
		rec(fields, "y", int64(2), int64(1649761183500)),
	}
	table, err := fdk.NewMaterializer().Materialize(batch)
	test.ErrNil(t, err, "materializing")
	test.MustBe(t, []string{"a", "b", "event_event_timestamp", "event_created_timestamp"}, table.Columns)
	test.MustBe(t, []interface{}{"x", "y"}, table.Column("a"))
	test.MustBe(t, []interface{}{int64(1), int64(2)}, table.Column("b"))
	test.MustBe(t, []interface{}{1649761182.0, 1649761183.5}, table.Column("event_event_timestamp"))
	test.MustBe(t, table.Column("event_event_timestamp"), table.Column("event_created_timestamp"))
	if table.Has("timestamp") {
		t.Fatal("timestamp column should be dropped")
	}
}

func TestMaterializeEndToEndShape(t *testing.T) {
	fields := []string{"timestamp", "x"}
	table, err := fdk.NewMaterializer().Materialize([]fdk.Record{
		rec(fields, int64(1000), "a"),
		rec(fields, int64(2000), "b"),
	})
	test.ErrNil(t, err, "materializing")
	test.MustBe(t, []string{"x", "event_event_timestamp", "event_created_timestamp"}, table.Columns)
	test.MustBe(t, []interface{}{"a", "b"}, table.Column("x"))
	test.MustBe(t, []interface{}{1.0, 2.0}, table.Column("event_event_timestamp"))
	test.MustBe(t, []interface{}{1.0, 2.0}, table.Column("event_created_timestamp"))
}

func TestMaterializeReplacesDerivedColumns(t *testing.T) {
	fields := []string{"event_event_timestamp", "timestamp"}
	table, err := fdk.NewMaterializer().Materialize([]fdk.Record{rec(fields, "stale", int64(3000))})
	test.ErrNil(t, err, "materializing")
	test.MustBe(t, []string{"event_event_timestamp", "event_created_timestamp"}, table.Columns)
	test.MustBe(t, []interface{}{3.0}, table.Column("event_event_timestamp"))
}

func TestMaterializeSchemaMismatch(t *testing.T) {
	full := []string{"a", "b", "timestamp"}
	batch := []fdk.Record{
		rec(full, 1, 2, 1000),
		rec(full, 1, 2, 2000),
		rec([]string{"a", "timestamp"}, 1, 3000),
	}
	_, err := fdk.NewMaterializer().Materialize(batch)
	sme, ok := errors.Cause(err).(*fdk.SchemaMismatchError)
	if !ok {
		t.Fatalf("expected SchemaMismatchError, got %v", err)
	}
	test.MustBe(t, 2, sme.Record)
	test.MustBe(t, "b", sme.Column)
}

func TestMaterializeMissingTimestamp(t *testing.T) {
	_, err := fdk.NewMaterializer().Materialize([]fdk.Record{rec([]string{"a"}, 1)})
	if _, ok := errors.Cause(err).(*fdk.SchemaMismatchError); !ok {
		t.Fatalf("expected SchemaMismatchError, got %v", err)
	}
	_, err = fdk.NewMaterializer().Materialize([]fdk.Record{rec([]string{"timestamp"}, "noon")})
	if err == nil {
		t.Fatal("expected error for non numeric timestamp")
	}
}

func TestMaterializeEmpty(t *testing.T) {
	_, err := fdk.NewMaterializer().Materialize(nil)
	if err != fdk.ErrEmptyBatch {
		t.Fatalf("expected ErrEmptyBatch, got %v", err)
	}
}

func TestFeatureTable(t *testing.T) {
	table := fdk.NewFeatureTable("user_id", "traffic_id")
	table.AppendRow(map[string]interface{}{"user_id": int64(0), "traffic_id": "7894", "ignored": 1})
	table.AppendRow(map[string]interface{}{"user_id": int64(1)})
	test.MustBe(t, 2, table.Len())
	test.MustBe(t, map[string]interface{}{"user_id": int64(1), "traffic_id": nil}, table.Row(1))

	if err := table.AddColumn("short", []interface{}{1}); err == nil {
		t.Fatal("expected error adding a column of the wrong length")
	}
	if err := table.AddColumn("user_id", []interface{}{1, 2}); err == nil {
		t.Fatal("expected error adding a duplicate column")
	}
	test.MustBe(t, []interface{}{"7894", nil}, table.DropColumn("traffic_id"))
	test.MustBe(t, []string{"user_id"}, table.Columns)

	rows, err := table.EntityRows("user_id")
	test.ErrNil(t, err, "entity rows")
	test.MustBe(t, []map[string]interface{}{{"user_id": int64(0)}, {"user_id": int64(1)}}, rows)
	if _, err := table.EntityRows("nope"); err == nil {
		t.Fatal("expected error for unknown key column")
	}
}

func TestFprint(t *testing.T) {
	table := fdk.NewFeatureTable("user_id", "event", "ts")
	table.AppendRow(map[string]interface{}{"user_id": int64(0), "event": "home_page", "ts": time.Date(2022, 4, 12, 10, 59, 42, 0, time.UTC)})
	table.AppendRow(map[string]interface{}{"user_id": int64(1)})
	table.AppendRow(map[string]interface{}{"user_id": int64(2)})
	buf := &bytes.Buffer{}
	test.ErrNil(t, table.Fprint(buf, 2), "printing")
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	test.MustBe(t, 3, len(lines))
	test.MustBe(t, []string{"user_id", "event", "ts"}, strings.Fields(lines[0]))
	test.MustBe(t, []string{"0", "0", "home_page", "2022-04-12", "10:59:42"}, strings.Fields(lines[1]))
	test.MustBe(t, []string{"1", "1", "None", "None"}, strings.Fields(lines[2]))
}
