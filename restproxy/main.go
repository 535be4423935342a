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

package restproxy

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/featuredemo/fdk"
	"github.com/featuredemo/fdk/featurerepo"
	"github.com/pkg/errors"
)

// Main holds the options for ingesting a topic through the REST proxy into
// the online store.
type Main struct {
	Config      string        `help:"Path to the JSON configuration file."`
	Topic       string        `help:"Topic to consume."`
	View        string        `help:"Feature view to write ingested records to."`
	GroupPrefix string        `help:"Prefix of the generated consumer group name."`
	MaxWait     int           `help:"Number of consecutive empty polls after which the topic counts as drained."`
	Backoff     time.Duration `help:"Time to sleep after an empty poll."`
	Rows        int           `help:"Number of ingested rows to print."`
	Stats       string        `help:"Where to send stats: empty for nowhere, 'term' for the terminal, or a statsd address."`
	Verbose     bool          `help:"Enable debug logging."`

	Stdout io.Writer  `flag:"-"`
	Log    fdk.Logger `flag:"-"`
}

// NewMain returns a Main with default values.
func NewMain() *Main {
	return &Main{
		Config:      "config-local.json",
		Topic:       "traffic",
		View:        fdk.DefaultFeatureView,
		GroupPrefix: DefaultGroupPrefix,
		MaxWait:     fdk.DefaultMaxWait,
		Backoff:     fdk.DefaultBackoff,
		Rows:        5,
		Stdout:      os.Stdout,
	}
}

// Run creates and subscribes a consumer, ingests everything available into
// the online store and prints the head of the ingested table.
func (m *Main) Run() error {
	if m.Log == nil {
		zl, err := fdk.NewZapLogger(m.Verbose)
		if err != nil {
			return errors.Wrap(err, "building logger")
		}
		defer zl.Sync()
		m.Log = zl
	}
	cfg, err := fdk.LoadConfig(m.Config)
	if err != nil {
		return err
	}
	stats, err := featurerepo.NewStatter(m.Stats, m.Stdout)
	if err != nil {
		return errors.Wrap(err, "setting up stats")
	}
	defer stats.Close()
	store, err := featurerepo.Open(cfg, featurerepo.OptLogger(m.Log), featurerepo.OptStatter(stats))
	if err != nil {
		return errors.Wrap(err, "opening feature store")
	}
	defer store.Close()
	archiver, err := featurerepo.NewArchiver(cfg, m.Log)
	if err != nil {
		return errors.Wrap(err, "setting up archive")
	}

	ctx := context.Background()
	client := NewClient(cfg.ConsumerProxyURL, OptClientHostRewrite(cfg.ConsumerHostRewrite), OptClientLogger(m.Log))
	table, err := Ingest(ctx, client, store, IngestOptions{
		Group:    NewGroupName(m.GroupPrefix),
		Topic:    m.Topic,
		View:     m.View,
		MaxWait:  m.MaxWait,
		Backoff:  m.Backoff,
		Archiver: archiver,
		Log:      m.Log,
		Stats:    stats,
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(m.Stdout, "Received Kafka events")
	return table.Fprint(m.Stdout, m.Rows)
}

// IngestOptions configures Ingest.
type IngestOptions struct {
	Group    string
	Topic    string
	View     string
	MaxWait  int
	Backoff  time.Duration
	Archiver fdk.Archiver
	Log      fdk.Logger
	Stats    fdk.Statter
}

// Ingest creates a consumer in o.Group, subscribes it to o.Topic and runs an
// Ingester writing to w. The consumer is deleted before Ingest returns.
func Ingest(ctx context.Context, client *Client, w fdk.OnlineWriter, o IngestOptions) (*fdk.FeatureTable, error) {
	if o.Log == nil {
		o.Log = fdk.NopLogger{}
	}
	if o.Stats == nil {
		o.Stats = fdk.NopStatter{}
	}
	consumer, err := client.CreateConsumer(ctx, o.Group, DefaultConsumerConfig())
	if err != nil {
		return nil, err
	}
	if err := consumer.Subscribe(ctx, o.Topic); err != nil {
		if rerr := consumer.Release(context.WithoutCancel(ctx)); rerr != nil {
			o.Log.Printf("releasing consumer after failed subscription: %v", rerr)
		}
		return nil, err
	}
	opts := []fdk.IngesterOption{
		fdk.OptIngestLogger(o.Log),
		fdk.OptIngestStatter(o.Stats),
	}
	if o.MaxWait > 0 {
		opts = append(opts, fdk.OptIngestDrainer(fdk.OptDrainMaxWait(o.MaxWait)))
	}
	if o.Backoff > 0 {
		opts = append(opts, fdk.OptIngestDrainer(fdk.OptDrainBackoff(o.Backoff)))
	}
	if o.View != "" {
		opts = append(opts, fdk.OptIngestView(o.View))
	}
	if o.Archiver != nil {
		opts = append(opts, fdk.OptIngestArchiver(o.Archiver))
	}
	return fdk.NewIngester(consumer, w, opts...).Run(ctx)
}
