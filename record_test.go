package fdk_test

import (
	"testing"
	"time"

	"github.com/featuredemo/fdk"
	"github.com/featuredemo/fdk/test"
)

func TestDecodeRecords(t *testing.T) {
	data := []byte(`[
		{"topic": "traffic", "key": null, "value": {"user_id": 3, "event": "home_page", "score": 1.5, "timestamp": 1649761182000}, "partition": 0, "offset": 10},
		{"topic": "traffic", "key": "k", "value": {"user_id": 4, "event": "order_page", "score": 2.0, "timestamp": 1649761183000}, "partition": 1, "offset": 11}
	]`)
	recs, err := fdk.DecodeRecords(data)
	test.ErrNil(t, err, "decoding")
	test.MustBe(t, 2, len(recs))
	test.MustBe(t, []string{"user_id", "event", "score", "timestamp"}, recs[0].FieldNames())
	test.MustBe(t, int64(3), recs[0].Value["user_id"])
	test.MustBe(t, 1.5, recs[0].Value["score"])
	test.MustBe(t, int64(1649761182000), recs[0].Value["timestamp"])
	test.MustBe(t, nil, recs[0].Key)
	test.MustBe(t, "k", recs[1].Key)
	test.MustBe(t, int32(1), recs[1].Partition)
	test.MustBe(t, int64(11), recs[1].Offset)
	test.MustBe(t, "traffic", recs[1].Topic)
}

func TestDecodeRecordsEmpty(t *testing.T) {
	recs, err := fdk.DecodeRecords([]byte(`[]`))
	test.ErrNil(t, err, "decoding")
	test.MustBe(t, 0, len(recs))
}

func TestDecodeIsoformat(t *testing.T) {
	tests := []struct {
		in  string
		exp time.Time
	}{
		{in: `{"_isoformat": "2022-04-12T10:59:42"}`, exp: time.Date(2022, 4, 12, 10, 59, 42, 0, time.UTC)},
		{in: `{"_isoformat": "2022-04-12T08:12:10.000000+00:00"}`, exp: time.Date(2022, 4, 12, 8, 12, 10, 0, time.UTC)},
		{in: `{"_isoformat": "2022-04-12"}`, exp: time.Date(2022, 4, 12, 0, 0, 0, 0, time.UTC)},
	}
	for i, tst := range tests {
		val, err := fdk.DecodeValue([]byte(tst.in))
		test.ErrNil(t, err, tst.in)
		tm, ok := val.(time.Time)
		if !ok {
			t.Fatalf("test %d: expected time, got %#v", i, val)
		}
		if !tm.Equal(tst.exp) {
			t.Fatalf("test %d: %v != %v", i, tm, tst.exp)
		}
	}
}

func TestDecodeIsoformatNested(t *testing.T) {
	obj, fields, err := fdk.DecodeObject([]byte(`{"when": {"_isoformat": "2022-04-12T10:59:42"}, "list": [1, {"_isoformat": "2022-04-13"}]}`))
	test.ErrNil(t, err, "decoding")
	test.MustBe(t, []string{"when", "list"}, fields)
	if _, ok := obj["when"].(time.Time); !ok {
		t.Fatalf("when is %#v", obj["when"])
	}
	list := obj["list"].([]interface{})
	test.MustBe(t, int64(1), list[0])
	if _, ok := list[1].(time.Time); !ok {
		t.Fatalf("list[1] is %#v", list[1])
	}
}

func TestDecodeIsoformatErrors(t *testing.T) {
	for _, in := range []string{
		`{"_isoformat": 12}`,
		`{"_isoformat": "yesterday"}`,
	} {
		if _, err := fdk.DecodeValue([]byte(in)); err == nil {
			t.Fatalf("expected error decoding %s", in)
		}
	}
	if _, _, err := fdk.DecodeObject([]byte(`{"_isoformat": "2022-04-12"}`)); err == nil {
		t.Fatal("expected error decoding a timestamp as a record value")
	}
	if _, _, err := fdk.DecodeObject([]byte(`[1, 2]`)); err == nil {
		t.Fatal("expected error decoding a list as an object")
	}
}

func TestMarshalValueRoundTrip(t *testing.T) {
	ts := time.Date(2022, 4, 12, 10, 59, 42, 123456000, time.UTC)
	in := map[string]interface{}{
		"ts":    ts,
		"float": 2.0,
		"int":   int64(2),
		"str":   "x",
	}
	data, err := fdk.MarshalValue(in)
	test.ErrNil(t, err, "marshaling")
	out, err := fdk.DecodeValue(data)
	test.ErrNil(t, err, "decoding")
	m := out.(map[string]interface{})
	if !m["ts"].(time.Time).Equal(ts) {
		t.Fatalf("%v != %v", m["ts"], ts)
	}
	test.MustBe(t, 2.0, m["float"])
	test.MustBe(t, int64(2), m["int"])
	test.MustBe(t, "x", m["str"])
}

func TestFieldNamesFallback(t *testing.T) {
	rec := fdk.Record{Value: map[string]interface{}{"b": 1, "a": 2}}
	test.MustBe(t, []string{"a", "b"}, rec.FieldNames())
}
