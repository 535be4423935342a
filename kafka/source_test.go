// Copyright 2017 Pilosa Corp.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions
// are met:
//
// 1. Redistributions of source code must retain the above copyright
// notice, this list of conditions and the following disclaimer.
//
// 2. Redistributions in binary form must reproduce the above copyright
// notice, this list of conditions and the following disclaimer in the
// documentation and/or other materials provided with the distribution.
//
// 3. Neither the name of the copyright holder nor the names of its
// contributors may be used to endorse or promote products derived
// from this software without specific prior written permission.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND
// CONTRIBUTORS "AS IS" AND ANY EXPRESS OR IMPLIED WARRANTIES,
// INCLUDING, BUT NOT LIMITED TO, THE IMPLIED WARRANTIES OF
// MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
// DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR
// CONTRIBUTORS BE LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL,
// SPECIAL, EXEMPLARY, OR CONSEQUENTIAL DAMAGES (INCLUDING,
// BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
// SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS
// INTERRUPTION) HOWEVER CAUSED AND ON ANY THEORY OF LIABILITY,
// WHETHER IN CONTRACT, STRICT LIABILITY, OR TORT (INCLUDING
// NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH
// DAMAGE.

package kafka

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Shopify/sarama"
	"github.com/Shopify/sarama/mocks"
	"github.com/featuredemo/fdk"
	"github.com/linkedin/goavro/v2"
	"github.com/pkg/errors"
)

var trafficSchema = `{
    "type": "record",
    "name": "Traffic",
    "namespace": "com.featuredemo.traffic",
    "fields": [
        {"name": "user_id", "type": "long"},
        {"name": "traffic_id", "type": "int"},
        {"name": "event", "type": ["null", "string"]},
        {"name": "score", "type": ["null", "float"]},
        {
            "name": "session",
            "type": [
                "null",
                {
                    "type": "record",
                    "name": "Session",
                    "fields": [
                        {"name": "listing_page_views", "type": "int"},
                        {"name": "tags", "type": {"type": "array", "items": "string"}}
                    ]
                }
            ]
        },
        {"name": "timestamp", "type": "long"}
    ]
}`

var trafficValue = map[string]interface{}{
	"user_id":    int64(1),
	"traffic_id": int32(13287),
	"event":      goavro.Union("string", "listing_page"),
	"score":      goavro.Union("float", float32(0.5)),
	"session": goavro.Union("com.featuredemo.traffic.Session", map[string]interface{}{
		"listing_page_views": int32(3),
		"tags":               []interface{}{"a", "b"},
	}),
	"timestamp": int64(1649757130000),
}

func confluentValue(t *testing.T, id int32, schema string, native interface{}) []byte {
	t.Helper()
	codec, err := goavro.NewCodec(schema)
	if err != nil {
		t.Fatal(err)
	}
	header := make([]byte, 5)
	binary.BigEndian.PutUint32(header[1:], uint32(id))
	data, err := codec.BinaryFromNative(header, native)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

// startFakeRegistry serves trafficSchema as schema 1 and counts requests.
func startFakeRegistry(t *testing.T) (*httptest.Server, *int32) {
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		var id int32
		_, err := fmt.Sscanf(r.URL.Path, "/schemas/ids/%d", &id)
		if err != nil {
			http.Error(w, errors.Wrap(err, "extracting id from path").Error(), http.StatusBadRequest)
			return
		}
		if id != 1 {
			http.Error(w, fmt.Sprintf("unknown id: %d", id), http.StatusNotFound)
			return
		}
		if err := json.NewEncoder(w).Encode(Schema{Schema: trafficSchema, ID: 1}); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}))
	t.Cleanup(server.Close)
	return server, &requests
}

func TestRegistryDecode(t *testing.T) {
	server, requests := startFakeRegistry(t)
	reg := NewRegistry(server.URL)
	val := confluentValue(t, 1, trafficSchema, trafficValue)

	for i := 0; i < 2; i++ {
		rec, fields, err := reg.Decode(context.Background(), val)
		if err != nil {
			t.Fatalf("decoding: %v", err)
		}
		if fmt.Sprint(fields) != "[user_id traffic_id event score session timestamp]" {
			t.Fatalf("unexpected fields: %v", fields)
		}
		if rec["user_id"] != int64(1) || rec["traffic_id"] != int64(13287) {
			t.Fatalf("unexpected ids: %#v", rec)
		}
		if rec["event"] != "listing_page" {
			t.Fatalf("union not unwrapped: %#v", rec["event"])
		}
		if rec["score"] != 0.5 {
			t.Fatalf("float not widened: %#v", rec["score"])
		}
		session, ok := rec["session"].(map[string]interface{})
		if !ok || session["listing_page_views"] != int64(3) {
			t.Fatalf("unexpected session: %#v", rec["session"])
		}
		if tags, ok := session["tags"].([]interface{}); !ok || len(tags) != 2 {
			t.Fatalf("unexpected tags: %#v", session["tags"])
		}
	}
	if n := atomic.LoadInt32(requests); n != 1 {
		t.Fatalf("schema fetched %d times", n)
	}
}

func TestRegistryDecodeErrors(t *testing.T) {
	server, _ := startFakeRegistry(t)
	reg := NewRegistry(server.URL)
	ctx := context.Background()

	if _, _, err := reg.Decode(ctx, []byte{1, 0, 0, 0, 1, 2}); err == nil {
		t.Fatal("expected magic byte error")
	}
	_, _, err := reg.Decode(ctx, confluentValue(t, 2, trafficSchema, trafficValue))
	if terr, ok := errors.Cause(err).(*fdk.TransportError); !ok || terr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected a not found TransportError, got %v", err)
	}
}

func TestNewRegistryURL(t *testing.T) {
	if r := NewRegistry("localhost:8081/"); r.URL != "http://localhost:8081" {
		t.Fatalf("unexpected url: %s", r.URL)
	}
	if r := NewRegistry("https://registry:8081"); r.URL != "https://registry:8081" {
		t.Fatalf("unexpected url: %s", r.URL)
	}
}

func newMockConsumer(t *testing.T, partitions ...int32) (*mocks.Consumer, []*mocks.PartitionConsumer) {
	consumer := mocks.NewConsumer(t, nil)
	consumer.SetTopicMetadata(map[string][]int32{"traffic": partitions})
	pcs := make([]*mocks.PartitionConsumer, len(partitions))
	for i, p := range partitions {
		pcs[i] = consumer.ExpectConsumePartition("traffic", p, sarama.OffsetOldest)
	}
	return consumer, pcs
}

func TestSourcePoll(t *testing.T) {
	consumer, pcs := newMockConsumer(t, 0)
	pcs[0].YieldMessage(&sarama.ConsumerMessage{Key: []byte("1"), Value: []byte(`{"user_id": 1, "event": "home_page", "timestamp": 1000}`)})
	pcs[0].YieldMessage(&sarama.ConsumerMessage{Value: []byte(`{"user_id": 2, "event": "photo_page", "timestamp": 2000}`)})

	src, err := NewSource(consumer, "traffic", OptSourcePollTimeout(10*time.Millisecond))
	if err != nil {
		t.Fatalf("getting new source: %v", err)
	}
	ctx := context.Background()
	recs := make([]fdk.Record, 0)
	deadline := time.Now().Add(5 * time.Second)
	for len(recs) < 2 && time.Now().Before(deadline) {
		batch, err := src.Poll(ctx)
		if err != nil {
			t.Fatalf("polling: %v", err)
		}
		recs = append(recs, batch...)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records", len(recs))
	}
	if recs[0].Key != "1" || recs[1].Key != nil {
		t.Fatalf("unexpected keys: %v %v", recs[0].Key, recs[1].Key)
	}
	if fmt.Sprint(recs[0].FieldNames()) != "[user_id event timestamp]" {
		t.Fatalf("unexpected fields: %v", recs[0].FieldNames())
	}
	if recs[1].Value["event"] != "photo_page" || recs[1].Topic != "traffic" {
		t.Fatalf("unexpected record: %#v", recs[1])
	}

	if batch, err := src.Poll(ctx); err != nil || len(batch) != 0 {
		t.Fatalf("expected an empty poll, got %v, %v", batch, err)
	}

	if err := src.Release(ctx); err != nil {
		t.Fatalf("releasing: %v", err)
	}
	if err := src.Release(ctx); err != nil {
		t.Fatalf("releasing twice: %v", err)
	}
	if _, err := src.Poll(ctx); err != fdk.ErrSessionReleased {
		t.Fatalf("expected ErrSessionReleased, got %v", err)
	}
	if err := consumer.Close(); err != nil {
		t.Fatalf("closing consumer: %v", err)
	}
}

func TestSourceAvro(t *testing.T) {
	server, _ := startFakeRegistry(t)
	consumer, pcs := newMockConsumer(t, 0, 1)
	pcs[1].YieldMessage(&sarama.ConsumerMessage{Value: confluentValue(t, 1, trafficSchema, trafficValue)})

	src, err := NewSource(consumer, "traffic", OptSourceFormat(Avro), OptSourceRegistry(NewRegistry(server.URL)), OptSourcePollTimeout(5*time.Second))
	if err != nil {
		t.Fatalf("getting new source: %v", err)
	}
	defer src.Release(context.Background())
	recs, err := src.Poll(context.Background())
	if err != nil {
		t.Fatalf("polling: %v", err)
	}
	if len(recs) != 1 || recs[0].Value["event"] != "listing_page" {
		t.Fatalf("unexpected records: %#v", recs)
	}
}

func TestSourceErrors(t *testing.T) {
	if _, err := NewSource(mocks.NewConsumer(t, nil), "traffic", OptSourceFormat("xml")); err == nil {
		t.Fatal("expected unsupported format error")
	}
	if _, err := NewSource(mocks.NewConsumer(t, nil), "traffic", OptSourceFormat(Avro)); err == nil {
		t.Fatal("expected missing registry error")
	}
	if _, err := NewSource(mocks.NewConsumer(t, nil), "traffic"); err == nil {
		t.Fatal("expected unknown topic error")
	}

	consumer, pcs := newMockConsumer(t, 0)
	pcs[0].YieldError(sarama.ErrOutOfBrokers)
	src, err := NewSource(consumer, "traffic", OptSourcePollTimeout(5*time.Second))
	if err != nil {
		t.Fatalf("getting new source: %v", err)
	}
	defer src.Release(context.Background())
	if _, err := src.Poll(context.Background()); err == nil {
		t.Fatal("expected consumer error")
	}
}

func TestSourceBadMessage(t *testing.T) {
	consumer, pcs := newMockConsumer(t, 0)
	pcs[0].YieldMessage(&sarama.ConsumerMessage{Value: []byte(`[1, 2]`)})
	src, err := NewSource(consumer, "traffic", OptSourcePollTimeout(5*time.Second))
	if err != nil {
		t.Fatalf("getting new source: %v", err)
	}
	defer src.Release(context.Background())
	if _, err := src.Poll(context.Background()); err == nil {
		t.Fatal("expected decoding error")
	}
}

func TestSourceIngest(t *testing.T) {
	consumer, pcs := newMockConsumer(t, 0)
	pcs[0].YieldMessage(&sarama.ConsumerMessage{Value: []byte(`{"timestamp": 1000, "x": "a"}`)})
	pcs[0].YieldMessage(&sarama.ConsumerMessage{Value: []byte(`{"timestamp": 2000, "x": "b"}`)})
	src, err := NewSource(consumer, "traffic", OptSourcePollTimeout(50*time.Millisecond))
	if err != nil {
		t.Fatalf("getting new source: %v", err)
	}
	w := &tableWriter{}
	table, err := fdk.NewIngester(src, w, fdk.OptIngestDrainer(fdk.OptDrainMaxWait(2), fdk.OptDrainBackoff(0))).Run(context.Background())
	if err != nil {
		t.Fatalf("running ingester: %v", err)
	}
	if fmt.Sprint(table.Column("x")) != "[a b]" {
		t.Fatalf("unexpected x: %v", table.Column("x"))
	}
	if fmt.Sprint(table.Column("event_event_timestamp")) != "[1 2]" {
		t.Fatalf("unexpected event timestamps: %v", table.Column("event_event_timestamp"))
	}
	if w.n != 1 {
		t.Fatalf("written %d times", w.n)
	}
	if _, err := src.Poll(context.Background()); err != fdk.ErrSessionReleased {
		t.Fatalf("source not released: %v", err)
	}
}

type tableWriter struct{ n int }

func (w *tableWriter) WriteToOnlineStore(ctx context.Context, view string, table *fdk.FeatureTable) error {
	w.n++
	return nil
}
