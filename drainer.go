package fdk

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// Poller is a handle on a consumer session which is already subscribed to
// its topics. Each call to Poll issues one fetch and returns whatever records
// are currently available, possibly none.
type Poller interface {
	Poll(ctx context.Context) ([]Record, error)
}

// PollerFunc adapts a function to the Poller interface.
type PollerFunc func(ctx context.Context) ([]Record, error)

// Poll calls f.
func (f PollerFunc) Poll(ctx context.Context) ([]Record, error) { return f(ctx) }

const (
	// DefaultMaxWait is the number of consecutive empty fetches after which
	// PollOnce gives up and reports that no data is available.
	DefaultMaxWait = 5
	// DefaultBackoff is how long PollOnce sleeps after an empty fetch.
	DefaultBackoff = time.Second
)

// Drainer pulls every currently available record out of a Poller. It is not
// safe for concurrent use.
type Drainer struct {
	MaxWait int
	Backoff time.Duration

	Log   Logger
	Stats Statter

	poller Poller
	sleep  func(ctx context.Context, d time.Duration) error
}

// DrainerOption is a functional option type for Drainer.
type DrainerOption func(d *Drainer)

// OptDrainMaxWait sets the number of consecutive empty fetches PollOnce
// tolerates. Values below one are treated as one.
func OptDrainMaxWait(n int) DrainerOption {
	return func(d *Drainer) {
		if n < 1 {
			n = 1
		}
		d.MaxWait = n
	}
}

// OptDrainBackoff sets the sleep between empty fetches.
func OptDrainBackoff(b time.Duration) DrainerOption {
	return func(d *Drainer) {
		d.Backoff = b
	}
}

// OptDrainLogger sets the Drainer's logger.
func OptDrainLogger(l Logger) DrainerOption {
	return func(d *Drainer) {
		d.Log = l
	}
}

// OptDrainStatter sets the Drainer's statter.
func OptDrainStatter(s Statter) DrainerOption {
	return func(d *Drainer) {
		d.Stats = s
	}
}

// OptDrainSleep replaces the function used to wait between empty fetches.
func OptDrainSleep(sleep func(ctx context.Context, d time.Duration) error) DrainerOption {
	return func(d *Drainer) {
		d.sleep = sleep
	}
}

// NewDrainer returns a Drainer reading from p.
func NewDrainer(p Poller, opts ...DrainerOption) *Drainer {
	d := &Drainer{
		MaxWait: DefaultMaxWait,
		Backoff: DefaultBackoff,
		Log:     NopLogger{},
		Stats:   NopStatter{},
		poller:  p,
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// PollOnce fetches until records show up or MaxWait consecutive fetches came
// back empty. In the latter case it returns an empty slice.
func (d *Drainer) PollOnce(ctx context.Context) ([]Record, error) {
	d.Stats.Count("drain.polls", 1, 1)
	waited := 0
	for waited < d.MaxWait {
		recs, err := d.poller.Poll(ctx)
		d.Stats.Count("drain.fetches", 1, 1)
		if err != nil {
			return nil, errors.Wrap(err, "polling")
		}
		if len(recs) > 0 {
			return recs, nil
		}
		d.Stats.Count("drain.empty_fetches", 1, 1)
		if err := d.sleep(ctx, d.Backoff); err != nil {
			return nil, err
		}
		waited++
		d.Log.Printf("waiting for records for %d seconds", waited)
	}
	return []Record{}, nil
}

// Each calls fn with every non-empty result of PollOnce, in order, and stops
// at the first empty one. It has no overall time limit: a producer which
// never pauses for MaxWait polls keeps it running.
func (d *Drainer) Each(ctx context.Context, fn func(recs []Record) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		recs, err := d.PollOnce(ctx)
		if err != nil {
			return err
		}
		d.Log.Printf("received %d records", len(recs))
		if len(recs) == 0 {
			d.Log.Printf("stopped receiving records")
			return nil
		}
		d.Stats.Count("drain.records", int64(len(recs)), 1)
		if err := fn(recs); err != nil {
			return err
		}
	}
}

// DrainAll returns every record available from the Poller, in the order in
// which they were fetched.
func (d *Drainer) DrainAll(ctx context.Context) ([]Record, error) {
	batch := make([]Record, 0)
	err := d.Each(ctx, func(recs []Record) error {
		batch = append(batch, recs...)
		d.Log.Printf("total %d records", len(batch))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return batch, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
