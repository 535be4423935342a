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
	"fmt"
	"io"
	"os"
	"time"

	"github.com/featuredemo/fdk"
	"github.com/featuredemo/fdk/featurerepo"
	"github.com/pkg/errors"
)

// Main holds the options for ingesting a topic straight from the brokers
// into the online store.
type Main struct {
	Config      string        `help:"Path to the JSON configuration file."`
	Topic       string        `help:"Kafka topic to read from."`
	View        string        `help:"Feature view to write ingested records to."`
	Format      string        `help:"Message format: json or avro. Avro uses the schema registry from the configuration."`
	MaxWait     int           `help:"Number of consecutive empty polls after which the topic counts as drained."`
	PollTimeout time.Duration `help:"Time a poll waits for the first message."`
	Rows        int           `help:"Number of ingested rows to print."`
	Stats       string        `help:"Where to send stats: 'term', the address of a statsd agent, or empty for none."`
	Verbose     bool          `help:"Enable debug logging."`

	Stdout io.Writer  `flag:"-"`
	Log    fdk.Logger `flag:"-"`
}

// NewMain returns a new Main.
func NewMain() *Main {
	return &Main{
		Config:      "config-local.json",
		Topic:       "traffic",
		View:        fdk.DefaultFeatureView,
		Format:      JSON,
		MaxWait:     fdk.DefaultMaxWait,
		PollTimeout: time.Second,
		Rows:        5,
		Stdout:      os.Stdout,
	}
}

// Run drains the topic into the online store and prints the head of the
// ingested table.
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

	opts := []SourceOption{
		OptSourceFormat(m.Format),
		OptSourcePollTimeout(m.PollTimeout),
		OptSourceLogger(m.Log),
	}
	if m.Format == Avro {
		if cfg.SchemaRegistryURL == "" {
			return errors.New("avro messages need schema_registry_url in the configuration")
		}
		opts = append(opts, OptSourceRegistry(NewRegistry(cfg.SchemaRegistryURL)))
	}
	src, err := Dial(cfg.KafkaBootstrapServers, m.Topic, opts...)
	if err != nil {
		return errors.Wrap(err, "opening kafka source")
	}

	iopts := []fdk.IngesterOption{
		fdk.OptIngestView(m.View),
		fdk.OptIngestLogger(m.Log),
		fdk.OptIngestStatter(stats),
		fdk.OptIngestDrainer(fdk.OptDrainMaxWait(m.MaxWait), fdk.OptDrainBackoff(0)),
	}
	if archiver != nil {
		iopts = append(iopts, fdk.OptIngestArchiver(archiver))
	}
	table, err := fdk.NewIngester(src, store, iopts...).Run(context.Background())
	if err != nil {
		return errors.Wrap(err, "running ingester")
	}
	fmt.Fprintln(m.Stdout, "Received Kafka events")
	return table.Fprint(m.Stdout, m.Rows)
}
