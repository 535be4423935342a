package fdk

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// DefaultFeatureView is the view ingested stream batches are written to.
const DefaultFeatureView = "user_traffic"

// Ingester drains a consumer session, materializes what it received and
// writes it to an online store. An Ingester owns its session: the session is
// released exactly once, when the first Run returns, and later calls to Run
// fail with ErrSessionReleased.
type Ingester struct {
	View string

	Log   Logger
	Stats Statter

	mu       sync.Mutex
	session  Session
	writer   OnlineWriter
	archiver Archiver
	mat      Materializer
	dopts    []DrainerOption
}

// IngesterOption is a functional option type for Ingester.
type IngesterOption func(n *Ingester)

// OptIngestView sets the feature view which batches are written to.
func OptIngestView(view string) IngesterOption {
	return func(n *Ingester) {
		n.View = view
	}
}

// OptIngestDrainer passes options through to the Drainer.
func OptIngestDrainer(opts ...DrainerOption) IngesterOption {
	return func(n *Ingester) {
		n.dopts = append(n.dopts, opts...)
	}
}

// OptIngestMaterializer replaces the default Materializer.
func OptIngestMaterializer(m Materializer) IngesterOption {
	return func(n *Ingester) {
		n.mat = m
	}
}

// OptIngestArchiver sets an Archiver which receives every written table.
func OptIngestArchiver(a Archiver) IngesterOption {
	return func(n *Ingester) {
		n.archiver = a
	}
}

// OptIngestLogger sets the Ingester's logger, which is also handed to its
// Drainer.
func OptIngestLogger(l Logger) IngesterOption {
	return func(n *Ingester) {
		n.Log = l
	}
}

// OptIngestStatter sets the Ingester's statter, which is also handed to its
// Drainer.
func OptIngestStatter(s Statter) IngesterOption {
	return func(n *Ingester) {
		n.Stats = s
	}
}

// NewIngester returns an Ingester which takes ownership of session.
func NewIngester(session Session, writer OnlineWriter, opts ...IngesterOption) *Ingester {
	n := &Ingester{
		View:    DefaultFeatureView,
		Log:     NopLogger{},
		Stats:   NopStatter{},
		session: session,
		writer:  writer,
		mat:     NewMaterializer(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Run drains the session, materializes the batch and writes it to the online
// store. When nothing was available it writes nothing and returns an empty
// table. The session is released on every return path, including
// cancellation of ctx; a release failure is only reported when nothing else
// went wrong.
func (n *Ingester) Run(ctx context.Context) (table *FeatureTable, err error) {
	n.mu.Lock()
	session := n.session
	n.session = nil
	n.mu.Unlock()
	if session == nil {
		return nil, ErrSessionReleased
	}
	defer func() {
		rerr := session.Release(context.WithoutCancel(ctx))
		if rerr != nil {
			n.Log.Printf("releasing consumer session: %v", rerr)
			if err == nil {
				err = errors.Wrap(rerr, "releasing consumer session")
			}
		}
	}()

	dopts := append([]DrainerOption{OptDrainLogger(n.Log), OptDrainStatter(n.Stats)}, n.dopts...)
	drainer := NewDrainer(session, dopts...)
	start := time.Now()
	batch, err := drainer.DrainAll(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "draining")
	}
	n.Stats.Timing("ingest.drain", time.Since(start), 1)
	if len(batch) == 0 {
		n.Log.Printf("no records available, nothing to write")
		return NewFeatureTable(), nil
	}

	table, err = n.mat.Materialize(batch)
	if err != nil {
		return nil, errors.Wrap(err, "materializing")
	}
	n.Log.Printf("materialized %d rows with columns %v", table.Len(), table.Columns)

	if err := n.writer.WriteToOnlineStore(ctx, n.View, table); err != nil {
		return nil, errors.Wrapf(err, "writing to online store view '%s'", n.View)
	}
	n.Stats.Count("ingest.rows", int64(table.Len()), 1)
	if n.archiver != nil {
		if err := n.archiver.Archive(ctx, n.View, table); err != nil {
			return nil, errors.Wrap(err, "archiving")
		}
	}
	return table, nil
}
