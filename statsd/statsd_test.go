package statsd_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DataDog/datadog-go/v5/statsd"
	fdkstatsd "github.com/featuredemo/fdk/statsd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct {
	kind  string
	name  string
	value interface{}
	tags  []string
	rate  float64
}

// fakeClient records stats. Methods it does not override panic through the
// nil embedded interface.
type fakeClient struct {
	statsd.ClientInterface

	mu     sync.Mutex
	sent   []sent
	err    error
	closed bool
}

func (f *fakeClient) record(kind, name string, value interface{}, tags []string, rate float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{kind: kind, name: name, value: value, tags: tags, rate: rate})
	return f.err
}

func (f *fakeClient) Count(name string, value int64, tags []string, rate float64) error {
	return f.record("count", name, value, tags, rate)
}

func (f *fakeClient) Gauge(name string, value float64, tags []string, rate float64) error {
	return f.record("gauge", name, value, tags, rate)
}

func (f *fakeClient) Histogram(name string, value float64, tags []string, rate float64) error {
	return f.record("histogram", name, value, tags, rate)
}

func (f *fakeClient) Set(name string, value string, tags []string, rate float64) error {
	return f.record("set", name, value, tags, rate)
}

func (f *fakeClient) Timing(name string, value time.Duration, tags []string, rate float64) error {
	return f.record("timing", name, value, tags, rate)
}

func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

type debugLog struct{ lines int }

func (d *debugLog) Printf(format string, v ...interface{}) {}
func (d *debugLog) Debugf(format string, v ...interface{}) { d.lines++ }

func TestStatterForwards(t *testing.T) {
	fake := &fakeClient{}
	s := fdkstatsd.NewStatterWithClient(fake, fdkstatsd.OptStatterTags("view:user_traffic"))

	s.Count("drain.records", 3, 1, "topic:traffic")
	s.Gauge("drain.empty_polls", 2, 1)
	s.Histogram("ingest.batch", 5, 0.5)
	s.Set("ingest.view", "user_traffic", 1)
	s.Timing("drain.poll", time.Millisecond, 1)

	require.Len(t, fake.sent, 5)
	assert.Equal(t, sent{kind: "count", name: "drain.records", value: int64(3), tags: []string{"view:user_traffic", "topic:traffic"}, rate: 1}, fake.sent[0])
	assert.Equal(t, "gauge", fake.sent[1].kind)
	assert.Equal(t, []string{"view:user_traffic"}, fake.sent[1].tags)
	assert.Equal(t, 0.5, fake.sent[2].rate)
	assert.Equal(t, "user_traffic", fake.sent[3].value)
	assert.Equal(t, time.Millisecond, fake.sent[4].value)

	require.NoError(t, s.Close())
	assert.True(t, fake.closed)
}

func TestStatterLogsSendErrors(t *testing.T) {
	fake := &fakeClient{err: errors.New("agent unreachable")}
	log := &debugLog{}
	s := fdkstatsd.NewStatterWithClient(fake, fdkstatsd.OptStatterLogger(log))
	s.Count("ingest.rows", 1, 1)
	s.Timing("drain.poll", time.Second, 1)
	assert.Equal(t, 2, log.lines)
}

func TestNewStatter(t *testing.T) {
	s, err := fdkstatsd.NewStatter("127.0.0.1:8125", "fdk.")
	require.NoError(t, err)
	s.Count("ingest.rows", 1, 1)
	require.NoError(t, s.Close())
}
