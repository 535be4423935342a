package fdk_test

import (
	"context"
	"testing"
	"time"

	"github.com/featuredemo/fdk"
	"github.com/featuredemo/fdk/mock"
	"github.com/featuredemo/fdk/test"
	"github.com/pkg/errors"
)

func recs(vals ...int) []fdk.Record {
	out := make([]fdk.Record, len(vals))
	for i, v := range vals {
		out[i] = fdk.Record{Value: map[string]interface{}{"v": int64(v)}, Fields: []string{"v"}}
	}
	return out
}

// countingSleep records sleeps without waiting.
type countingSleep struct {
	n int
}

func (c *countingSleep) sleep(ctx context.Context, d time.Duration) error {
	c.n++
	return ctx.Err()
}

func TestPollOnceWaitsMaxWait(t *testing.T) {
	for _, maxWait := range []int{1, 3, 5} {
		sess := mock.NewSession()
		sleeper := &countingSleep{}
		d := fdk.NewDrainer(sess, fdk.OptDrainMaxWait(maxWait), fdk.OptDrainSleep(sleeper.sleep))
		got, err := d.PollOnce(context.Background())
		test.ErrNil(t, err, "polling")
		test.MustBe(t, 0, len(got))
		if got == nil {
			t.Fatal("expected empty, non-nil slice")
		}
		test.MustBe(t, maxWait, sess.Polls(), "fetches")
		test.MustBe(t, maxWait, sleeper.n, "sleeps")
	}
}

func TestPollOnceMaxWaitFloor(t *testing.T) {
	sess := mock.NewSession()
	sleeper := &countingSleep{}
	d := fdk.NewDrainer(sess, fdk.OptDrainMaxWait(0), fdk.OptDrainSleep(sleeper.sleep))
	_, err := d.PollOnce(context.Background())
	test.ErrNil(t, err, "polling")
	test.MustBe(t, 1, sess.Polls())
}

func TestPollOnceReturnsAfterEmpty(t *testing.T) {
	sess := mock.NewSession(recs(), recs(), recs(1, 2))
	sleeper := &countingSleep{}
	d := fdk.NewDrainer(sess, fdk.OptDrainSleep(sleeper.sleep))
	got, err := d.PollOnce(context.Background())
	test.ErrNil(t, err, "polling")
	test.MustBe(t, recs(1, 2), got)
	test.MustBe(t, 3, sess.Polls())
	test.MustBe(t, 2, sleeper.n)

	// the wait counter starts over on the next call
	got, err = d.PollOnce(context.Background())
	test.ErrNil(t, err, "polling again")
	test.MustBe(t, 0, len(got))
	test.MustBe(t, 3+fdk.DefaultMaxWait, sess.Polls())
}

func TestPollOnceError(t *testing.T) {
	sess := &mock.Session{Responses: []mock.Response{{Err: errors.New("boom")}}}
	d := fdk.NewDrainer(sess)
	if _, err := d.PollOnce(context.Background()); err == nil || errors.Cause(err).Error() != "boom" {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestDrainAll(t *testing.T) {
	tests := []struct {
		batches [][]fdk.Record
		exp     []fdk.Record
		polls   int
	}{
		{batches: nil, exp: recs(), polls: 1},
		{batches: [][]fdk.Record{recs(1)}, exp: recs(1), polls: 2},
		{batches: [][]fdk.Record{recs(1, 2), recs(3), recs(4, 5, 6)}, exp: recs(1, 2, 3, 4, 5, 6), polls: 4},
	}
	for _, tst := range tests {
		sess := mock.NewSession(tst.batches...)
		stats := &mock.RecordingStatter{}
		sleeper := &countingSleep{}
		d := fdk.NewDrainer(sess, fdk.OptDrainMaxWait(2), fdk.OptDrainSleep(sleeper.sleep), fdk.OptDrainStatter(stats))
		got, err := d.DrainAll(context.Background())
		test.ErrNil(t, err, "draining")
		test.MustBe(t, tst.exp, got, "records")
		test.MustBe(t, int64(tst.polls), stats.Get("drain.polls"), "PollOnce calls")
		test.MustBe(t, int64(len(tst.exp)), stats.Get("drain.records"), "records counted")
		// the last PollOnce fetches MaxWait times
		test.MustBe(t, tst.polls-1+2, sess.Polls(), "fetches")
	}
}

func TestDrainAllCanceled(t *testing.T) {
	sess := mock.NewSession(recs(1), recs(2))
	ctx, cancel := context.WithCancel(context.Background())
	d := fdk.NewDrainer(sess)
	calls := 0
	err := d.Each(ctx, func(r []fdk.Record) error {
		calls++
		cancel()
		return nil
	})
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	test.MustBe(t, 1, calls)
}

func TestSleepHonorsContext(t *testing.T) {
	sess := mock.NewSession()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := fdk.NewDrainer(sess, fdk.OptDrainBackoff(time.Hour))
	if _, err := d.PollOnce(ctx); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
