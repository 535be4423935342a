package test

import (
	"context"
	"testing"
	"time"

	"github.com/featuredemo/fdk"
)

// OnlineStoreSuite runs the behaviour every fdk.OnlineStore must have against
// the store returned by newStore. newStore is called once per subtest and the
// store is closed afterwards.
func OnlineStoreSuite(t *testing.T, newStore func(t *testing.T) fdk.OnlineStore) {
	ctx := context.Background()
	t0 := time.Date(2022, 4, 12, 10, 59, 42, 0, time.UTC)
	keys := []string{"user_id", "traffic_id"}
	row := func(user, traffic int64, event string, ts time.Time) *fdk.OnlineRow {
		return &fdk.OnlineRow{
			Key:              fdk.EntityKey{JoinKeys: keys, Values: []interface{}{user, traffic}},
			Features:         map[string]interface{}{"event": event, "event_event_timestamp": float64(ts.Unix())},
			EventTimestamp:   ts,
			CreatedTimestamp: ts,
		}
	}

	run := func(name string, fn func(t *testing.T, s fdk.OnlineStore)) {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			defer func() {
				ErrNil(t, s.Close(), "closing store")
			}()
			fn(t, s)
		})
	}

	run("ReadMissing", func(t *testing.T, s fdk.OnlineStore) {
		rows, err := s.OnlineRead(ctx, "user_traffic", []fdk.EntityKey{{JoinKeys: keys, Values: []interface{}{int64(0), int64(1)}}})
		ErrNil(t, err, "reading")
		MustBe(t, 1, len(rows))
		if rows[0] != nil {
			t.Fatalf("expected nil row, got %#v", rows[0])
		}
	})

	run("WriteRead", func(t *testing.T, s fdk.OnlineStore) {
		err := s.OnlineWrite(ctx, "user_traffic", []*fdk.OnlineRow{row(0, 7894, "home_page", t0), row(1, 13287, "order_page", t0)})
		ErrNil(t, err, "writing")
		rows, err := s.OnlineRead(ctx, "user_traffic", []fdk.EntityKey{
			{JoinKeys: keys, Values: []interface{}{int64(1), int64(13287)}},
			{JoinKeys: keys, Values: []interface{}{int64(2), int64(0)}},
			{JoinKeys: []string{"traffic_id", "user_id"}, Values: []interface{}{"7894", "0"}},
		})
		ErrNil(t, err, "reading")
		MustBe(t, 3, len(rows))
		if rows[0] == nil || rows[2] == nil || rows[1] != nil {
			t.Fatalf("unexpected rows %v", rows)
		}
		MustBe(t, "order_page", rows[0].Features["event"])
		MustBe(t, "home_page", rows[2].Features["event"])
		MustBe(t, float64(t0.Unix()), rows[2].Features["event_event_timestamp"])
		if !rows[0].EventTimestamp.Equal(t0) {
			t.Fatalf("event timestamp %v != %v", rows[0].EventTimestamp, t0)
		}
	})

	run("NewerWins", func(t *testing.T, s fdk.OnlineStore) {
		ErrNil(t, s.OnlineWrite(ctx, "user_traffic", []*fdk.OnlineRow{row(0, 1, "photo_page", t0.Add(time.Minute))}), "writing newer")
		ErrNil(t, s.OnlineWrite(ctx, "user_traffic", []*fdk.OnlineRow{row(0, 1, "home_page", t0)}), "writing older")
		rows, err := s.OnlineRead(ctx, "user_traffic", []fdk.EntityKey{{JoinKeys: keys, Values: []interface{}{int64(0), int64(1)}}})
		ErrNil(t, err, "reading")
		MustBe(t, "photo_page", rows[0].Features["event"])

		ErrNil(t, s.OnlineWrite(ctx, "user_traffic", []*fdk.OnlineRow{row(0, 1, "order_page", t0.Add(time.Hour))}), "writing newest")
		rows, err = s.OnlineRead(ctx, "user_traffic", []fdk.EntityKey{{JoinKeys: keys, Values: []interface{}{int64(0), int64(1)}}})
		ErrNil(t, err, "reading")
		MustBe(t, "order_page", rows[0].Features["event"])
	})

	run("Idempotent", func(t *testing.T, s fdk.OnlineStore) {
		batch := []*fdk.OnlineRow{row(0, 1, "home_page", t0), row(1, 2, "listing_page", t0)}
		key := []fdk.EntityKey{{JoinKeys: keys, Values: []interface{}{int64(1), int64(2)}}}
		ErrNil(t, s.OnlineWrite(ctx, "user_traffic", batch), "first write")
		first, err := s.OnlineRead(ctx, "user_traffic", key)
		ErrNil(t, err, "first read")
		ErrNil(t, s.OnlineWrite(ctx, "user_traffic", batch), "second write")
		second, err := s.OnlineRead(ctx, "user_traffic", key)
		ErrNil(t, err, "second read")
		MustBe(t, first[0].Features, second[0].Features)
		if !first[0].EventTimestamp.Equal(second[0].EventTimestamp) {
			t.Fatalf("timestamps differ: %v, %v", first[0].EventTimestamp, second[0].EventTimestamp)
		}
	})

	run("ViewsAreSeparate", func(t *testing.T, s fdk.OnlineStore) {
		ErrNil(t, s.OnlineWrite(ctx, "a", []*fdk.OnlineRow{row(0, 1, "home_page", t0)}), "writing")
		rows, err := s.OnlineRead(ctx, "b", []fdk.EntityKey{{JoinKeys: keys, Values: []interface{}{int64(0), int64(1)}}})
		ErrNil(t, err, "reading")
		if rows[0] != nil {
			t.Fatalf("row leaked into other view: %#v", rows[0])
		}
	})

	run("Teardown", func(t *testing.T, s fdk.OnlineStore) {
		ErrNil(t, s.OnlineWrite(ctx, "a", []*fdk.OnlineRow{row(0, 1, "home_page", t0)}), "writing a")
		ErrNil(t, s.OnlineWrite(ctx, "b", []*fdk.OnlineRow{row(0, 1, "home_page", t0)}), "writing b")
		ErrNil(t, s.Teardown(ctx, []string{"a", "never_written"}), "teardown")
		key := []fdk.EntityKey{{JoinKeys: keys, Values: []interface{}{int64(0), int64(1)}}}
		rows, err := s.OnlineRead(ctx, "a", key)
		ErrNil(t, err, "reading a")
		if rows[0] != nil {
			t.Fatalf("row survived teardown: %#v", rows[0])
		}
		rows, err = s.OnlineRead(ctx, "b", key)
		ErrNil(t, err, "reading b")
		if rows[0] == nil {
			t.Fatal("row of other view removed by teardown")
		}
	})
}
