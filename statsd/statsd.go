// Package statsd sends fdk stats to a statsd or datadog agent.
package statsd

import (
	"time"

	"github.com/DataDog/datadog-go/v5/statsd"
	"github.com/featuredemo/fdk"
	"github.com/pkg/errors"
)

// DefaultAddress is the address of a local agent.
const DefaultAddress = "localhost:8125"

// Statter is an fdk.Statter backed by a datadog statsd client. It is safe for
// concurrent use.
type Statter struct {
	client statsd.ClientInterface
	tags   []string
	log    fdk.Logger
}

// StatterOption is a functional option type for Statter.
type StatterOption func(s *Statter)

// OptStatterTags adds tags to every stat.
func OptStatterTags(tags ...string) StatterOption {
	return func(s *Statter) {
		s.tags = append(s.tags, tags...)
	}
}

// OptStatterLogger sets the logger send errors are reported to.
func OptStatterLogger(l fdk.Logger) StatterOption {
	return func(s *Statter) {
		s.log = l
	}
}

// NewStatter connects to the agent at addr. Stat names are prefixed with
// namespace.
func NewStatter(addr, namespace string, opts ...StatterOption) (*Statter, error) {
	client, err := statsd.New(addr, statsd.WithNamespace(namespace))
	if err != nil {
		return nil, errors.Wrapf(err, "creating statsd client for %s", addr)
	}
	return NewStatterWithClient(client, opts...), nil
}

// NewStatterWithClient wraps an existing client.
func NewStatterWithClient(client statsd.ClientInterface, opts ...StatterOption) *Statter {
	s := &Statter{
		client: client,
		log:    fdk.NopLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Statter) withTags(tags []string) []string {
	if len(s.tags) == 0 {
		return tags
	}
	all := make([]string, 0, len(s.tags)+len(tags))
	all = append(all, s.tags...)
	return append(all, tags...)
}

func (s *Statter) check(name string, err error) {
	if err != nil {
		s.log.Debugf("sending stat %s: %v", name, err)
	}
}

func (s *Statter) Count(name string, value int64, rate float64, tags ...string) {
	s.check(name, s.client.Count(name, value, s.withTags(tags), rate))
}

func (s *Statter) Gauge(name string, value float64, rate float64, tags ...string) {
	s.check(name, s.client.Gauge(name, value, s.withTags(tags), rate))
}

func (s *Statter) Histogram(name string, value float64, rate float64, tags ...string) {
	s.check(name, s.client.Histogram(name, value, s.withTags(tags), rate))
}

func (s *Statter) Set(name string, value string, rate float64, tags ...string) {
	s.check(name, s.client.Set(name, value, s.withTags(tags), rate))
}

func (s *Statter) Timing(name string, value time.Duration, rate float64, tags ...string) {
	s.check(name, s.client.Timing(name, value, s.withTags(tags), rate))
}

// Close flushes buffered stats and closes the client.
func (s *Statter) Close() error {
	return errors.Wrap(s.client.Close(), "closing statsd client")
}
