package restproxy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/featuredemo/fdk"
	"github.com/featuredemo/fdk/mock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProxy is a minimal REST proxy serving one consumer instance. It
// reports the instance under internalHost, like a proxy running inside a
// cluster.
type fakeProxy struct {
	t *testing.T

	mu          sync.Mutex
	batches     []string
	created     []ConsumerConfig
	groups      []string
	subscribed  []string
	polls       int
	deletes     int
	accept      string
	contentType string
	failOn      string
	port        string
}

const internalHost = "kafkarestproxy-0.kafkarestproxy.confluent.svc.cluster.local"

func (p *fakeProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := r.Method + " " + r.URL.Path
	if p.failOn != "" && strings.HasPrefix(key, p.failOn) {
		http.Error(w, `{"error_code":50002,"message":"Kafka error"}`, http.StatusInternalServerError)
		return
	}
	switch {
	case r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/consumers/") && !strings.HasSuffix(r.URL.Path, "/subscription"):
		conf := ConsumerConfig{}
		if err := json.NewDecoder(r.Body).Decode(&conf); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		p.contentType = r.Header.Get("Content-Type")
		p.created = append(p.created, conf)
		group := strings.TrimPrefix(r.URL.Path, "/consumers/")
		p.groups = append(p.groups, group)
		fmt.Fprintf(w, `{"instance_id":"i1","base_uri":"http://%s:%s/consumers/%s/instances/i1"}`, internalHost, p.port, group)
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/subscription"):
		body := struct{ Topics []string }{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		p.subscribed = append(p.subscribed, body.Topics...)
		w.WriteHeader(http.StatusNoContent)
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/records"):
		p.polls++
		p.accept = r.Header.Get("Accept")
		if len(p.batches) == 0 {
			fmt.Fprint(w, "[]")
			return
		}
		fmt.Fprint(w, p.batches[0])
		p.batches = p.batches[1:]
	case r.Method == http.MethodDelete && strings.HasSuffix(r.URL.Path, "/instances/i1"):
		p.deletes++
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}

func newFakeProxy(t *testing.T, batches ...string) (*fakeProxy, *Client, *logRecorder) {
	p := &fakeProxy{t: t, batches: batches}
	srv := httptest.NewServer(p)
	t.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	p.port = u.Port()
	log := &logRecorder{}
	c := NewClient(srv.URL+"/", OptClientHostRewrite(map[string]string{internalHost: u.Hostname()}), OptClientLogger(log))
	return p, c, log
}

type logRecorder struct {
	mu    sync.Mutex
	lines []string
}

func (l *logRecorder) Printf(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprintf(format, v...))
}

func (l *logRecorder) Debugf(format string, v ...interface{}) {}

func (l *logRecorder) requests() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0)
	for _, line := range l.lines {
		if strings.HasPrefix(line, "HTTP request") {
			out = append(out, line)
		}
	}
	return out
}

func TestConsumerLifecycle(t *testing.T) {
	p, c, log := newFakeProxy(t,
		`[{"topic":"traffic","key":null,"value":{"user_id":0,"event":"home_page","timestamp":1649761182000},"partition":0,"offset":0}]`,
	)
	ctx := context.Background()
	consumer, err := c.CreateConsumer(ctx, "feast-example-1", DefaultConsumerConfig())
	require.NoError(t, err)
	assert.NotContains(t, consumer.URI, internalHost)
	assert.Equal(t, []string{"feast-example-1"}, p.groups)
	assert.Equal(t, DefaultConsumerConfig(), p.created[0])
	assert.Equal(t, ContentType, p.contentType)

	require.NoError(t, consumer.Subscribe(ctx, "traffic"))
	assert.Equal(t, []string{"traffic"}, p.subscribed)

	recs, err := consumer.Poll(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "application/vnd.kafka.avro.v2+json", p.accept)
	assert.Equal(t, []string{"user_id", "event", "timestamp"}, recs[0].Fields)
	assert.Equal(t, int64(1649761182000), recs[0].Value["timestamp"])

	recs, err = consumer.Poll(ctx)
	require.NoError(t, err)
	assert.Len(t, recs, 0)

	require.NoError(t, consumer.Release(ctx))
	require.NoError(t, consumer.Release(ctx))
	assert.Equal(t, 1, p.deletes)

	reqs := log.requests()
	require.Len(t, reqs, 5)
	assert.Equal(t, fmt.Sprintf("HTTP request (url: %s, method: DELETE) returned 204", consumer.URI), reqs[4])
}

func TestTransportErrors(t *testing.T) {
	ctx := context.Background()
	for _, failOn := range []string{"POST /consumers/g", "GET", "DELETE"} {
		p, c, log := newFakeProxy(t)
		p.failOn = failOn
		var err error
		consumer, cerr := c.CreateConsumer(ctx, "g", DefaultConsumerConfig())
		if cerr != nil {
			err = cerr
		} else if _, perr := consumer.Poll(ctx); perr != nil {
			err = perr
		} else {
			err = consumer.Release(ctx)
		}
		te, ok := errors.Cause(err).(*fdk.TransportError)
		require.True(t, ok, "%s: expected TransportError, got %v", failOn, err)
		assert.Equal(t, http.StatusInternalServerError, te.StatusCode)
		assert.Contains(t, te.Body, "Kafka error")
		assert.Equal(t, strings.Fields(failOn)[0], te.Method)
		reqs := log.requests()
		assert.True(t, strings.HasSuffix(reqs[len(reqs)-1], "returned 500"), "%v", reqs)
	}
}

func TestCreateConsumerNeedsURL(t *testing.T) {
	_, err := NewClient("").CreateConsumer(context.Background(), "g", DefaultConsumerConfig())
	assert.Error(t, err)
}

func TestNewGroupName(t *testing.T) {
	a, b := NewGroupName(DefaultGroupPrefix), NewGroupName(DefaultGroupPrefix)
	assert.True(t, strings.HasPrefix(a, "feast-example-"))
	assert.Len(t, a, len("feast-example-")+36)
	assert.NotEqual(t, a, b)
}

func TestRewrite(t *testing.T) {
	c := NewClient("http://localhost:8082", OptClientHostRewrite(map[string]string{"internal": "localhost"}))
	tests := []struct {
		in, exp string
	}{
		{in: "http://internal:8082/consumers/g/instances/i", exp: "http://localhost:8082/consumers/g/instances/i"},
		{in: "http://internal/consumers/g/instances/i", exp: "http://localhost/consumers/g/instances/i"},
		{in: "http://other:8082/x", exp: "http://other:8082/x"},
	}
	for _, tst := range tests {
		got, err := c.rewrite(tst.in)
		require.NoError(t, err)
		assert.Equal(t, tst.exp, got)
	}
}

func TestIngest(t *testing.T) {
	p, c, _ := newFakeProxy(t,
		`[{"topic":"traffic","value":{"timestamp":1000,"x":"a"},"partition":0,"offset":0}]`,
		`[{"topic":"traffic","value":{"timestamp":2000,"x":"b"},"partition":0,"offset":1}]`,
	)
	w := &mock.Writer{}
	table, err := Ingest(context.Background(), c, w, IngestOptions{
		Group:   "g",
		Topic:   "traffic",
		MaxWait: 2,
		Backoff: time.Millisecond,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "event_event_timestamp", "event_created_timestamp"}, table.Columns)
	assert.Equal(t, []interface{}{"a", "b"}, table.Column("x"))
	assert.Equal(t, []interface{}{1.0, 2.0}, table.Column("event_event_timestamp"))
	assert.Equal(t, []string{fdk.DefaultFeatureView}, w.Views)
	assert.Equal(t, 4, p.polls)
	assert.Equal(t, 1, p.deletes)
}

func TestIngestReleasesOnFailure(t *testing.T) {
	p, c, _ := newFakeProxy(t)
	p.failOn = "GET"
	_, err := Ingest(context.Background(), c, &mock.Writer{}, IngestOptions{Group: "g", Topic: "traffic", MaxWait: 1, Backoff: time.Millisecond})
	_, ok := errors.Cause(err).(*fdk.TransportError)
	assert.True(t, ok, "expected TransportError, got %v", err)
	assert.Equal(t, 1, p.deletes)

	p, c, _ = newFakeProxy(t)
	p.failOn = "POST /consumers/g/instances/i1/subscription"
	_, err = Ingest(context.Background(), c, &mock.Writer{}, IngestOptions{Group: "g", Topic: "traffic"})
	assert.Error(t, err)
	assert.Equal(t, 1, p.deletes)
}
