// Package demo runs the scripted traffic demo: it resets and materializes
// the feature repo, prints historical and online features, ingests the
// traffic topic into the online store and prints the online features again.
package demo

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/featuredemo/fdk"
	"github.com/featuredemo/fdk/featurerepo"
	"github.com/featuredemo/fdk/restproxy"
	"github.com/pkg/errors"
)

// Main holds the options of the demo.
type Main struct {
	Config      string        `help:"Path to the JSON configuration file."`
	Topic       string        `help:"Kafka topic to ingest."`
	GroupPrefix string        `help:"Prefix of the consumer group name."`
	Init        []string      `help:"Shell commands run before the demo. Defaults to this binary's teardown, apply and materialize-incremental."`
	SkipInit    bool          `help:"Don't run any init commands."`
	MaxWait     int           `help:"Number of consecutive empty polls after which ingestion stops."`
	Backoff     time.Duration `help:"Sleep after an empty poll."`
	Stats       string        `help:"Where to send ingestion stats: empty for nowhere, 'term' for the terminal, or a statsd address."`
	Verbose     bool          `help:"Enable debug logging."`

	Stdout io.Writer        `flag:"-"`
	Log    fdk.Logger       `flag:"-"`
	Now    func() time.Time `flag:"-"`
}

// NewMain returns a Main with default values.
func NewMain() *Main {
	return &Main{
		Config:      "config-local.json",
		Topic:       "traffic",
		GroupPrefix: restproxy.DefaultGroupPrefix,
		MaxWait:     fdk.DefaultMaxWait,
		Backoff:     fdk.DefaultBackoff,
		Stdout:      os.Stdout,
		Now:         time.Now,
	}
}

// EntityTable returns the entity rows of the historical query.
func EntityTable() *fdk.FeatureTable {
	t := fdk.NewFeatureTable("user_id", "order_id", "traffic_id", "timestamp")
	t.AppendRow(map[string]interface{}{
		"user_id":    int64(0),
		"order_id":   int64(213),
		"traffic_id": "7894",
		"timestamp":  time.Date(2022, time.April, 12, 10, 59, 42, 0, time.UTC),
	})
	t.AppendRow(map[string]interface{}{
		"user_id":    int64(1),
		"order_id":   int64(2085),
		"traffic_id": "13287",
		"timestamp":  time.Date(2022, time.April, 12, 8, 12, 10, 0, time.UTC),
	})
	return t
}

// DefaultEntityRows are the rows whose online features are printed before
// ingestion.
func DefaultEntityRows() []map[string]interface{} {
	return []map[string]interface{}{
		{"user": int64(0), "traffic": int64(7894)},
		{"user": int64(1), "traffic": int64(13287)},
	}
}

// Run runs the demo.
func (m *Main) Run() error {
	if m.Log == nil {
		zl, err := fdk.NewZapLogger(m.Verbose)
		if err != nil {
			return errors.Wrap(err, "building logger")
		}
		defer zl.Sync()
		m.Log = zl
	}
	if m.Now == nil {
		m.Now = time.Now
	}
	ctx := context.Background()
	cfg, err := fdk.LoadConfig(m.Config)
	if err != nil {
		return err
	}

	if !m.SkipInit {
		cmds, err := m.initCommands()
		if err != nil {
			return err
		}
		for _, c := range cmds {
			if err := fdk.RunCommand(ctx, c, m.Stdout, m.Log); err != nil {
				return errors.Wrap(err, "initializing")
			}
		}
	}

	stats, err := featurerepo.NewStatter(m.Stats, m.Stdout)
	if err != nil {
		return errors.Wrap(err, "setting up stats")
	}
	defer stats.Close()
	store, err := featurerepo.Open(cfg, featurerepo.OptLogger(m.Log), featurerepo.OptStatter(stats), featurerepo.OptClock(m.Now))
	if err != nil {
		return errors.Wrap(err, "opening feature store")
	}
	defer store.Close()

	fmt.Fprintln(m.Stdout, "\n--- Historical features ---")
	if cfg.OfflineStore.Host == "" {
		m.Log.Printf("no offline store configured, skipping historical features")
	} else {
		hist, err := store.GetHistoricalFeatures(ctx, EntityTable(), featurerepo.ModelVector)
		if err != nil {
			return errors.Wrap(err, "getting historical features")
		}
		fmt.Fprintln(m.Stdout, "Historical features:")
		if err := hist.Fprint(m.Stdout, 5); err != nil {
			return err
		}
	}

	fmt.Fprintln(m.Stdout, "\n--- Online features ---")
	if err := m.printOnline(ctx, store, DefaultEntityRows()); err != nil {
		return err
	}

	fmt.Fprintln(m.Stdout, "\n--- Simulate a Kafka topic ingestion to the online store ---")
	archiver, err := featurerepo.NewArchiver(cfg, m.Log)
	if err != nil {
		return errors.Wrap(err, "setting up archive")
	}
	client := restproxy.NewClient(cfg.ConsumerProxyURL,
		restproxy.OptClientHostRewrite(cfg.ConsumerHostRewrite), restproxy.OptClientLogger(m.Log))
	table, err := restproxy.Ingest(ctx, client, store, restproxy.IngestOptions{
		Group:    restproxy.NewGroupName(m.GroupPrefix),
		Topic:    m.Topic,
		View:     featurerepo.UserTraffic,
		MaxWait:  m.MaxWait,
		Backoff:  m.Backoff,
		Archiver: archiver,
		Log:      m.Log,
		Stats:    stats,
	})
	if err != nil {
		return errors.Wrap(err, "ingesting")
	}
	fmt.Fprintln(m.Stdout, "Received Kafka events")
	if err := table.Fprint(m.Stdout, 5); err != nil {
		return err
	}

	fmt.Fprintln(m.Stdout, "\n--- Online features again with updated values from a stream push ---")
	if table.Len() == 0 {
		m.Log.Printf("no events received, nothing to look up")
		return nil
	}
	rows, err := IngestedEntityRows(table)
	if err != nil {
		return err
	}
	return m.printOnline(ctx, store, rows)
}

func (m *Main) printOnline(ctx context.Context, store *fdk.FeatureStore, rows []map[string]interface{}) error {
	online, err := store.GetOnlineFeatures(ctx, featurerepo.UserTrafficVector, rows)
	if err != nil {
		return errors.Wrap(err, "getting online features")
	}
	fmt.Fprintln(m.Stdout, "Received online features")
	return online.Fprint(m.Stdout, 5)
}

// IngestedEntityRows returns one {user, traffic} entity row per row of an
// ingested table.
func IngestedEntityRows(table *fdk.FeatureTable) ([]map[string]interface{}, error) {
	keyed, err := table.EntityRows("user_id", "traffic_id")
	if err != nil {
		return nil, errors.Wrap(err, "ingested table")
	}
	rows := make([]map[string]interface{}, len(keyed))
	for i, r := range keyed {
		rows[i] = map[string]interface{}{"user": r["user_id"], "traffic": r["traffic_id"]}
	}
	return rows, nil
}

// initCommands returns m.Init, or the repo commands of the running binary
// when it is empty.
func (m *Main) initCommands() ([]string, error) {
	if len(m.Init) > 0 {
		return m.Init, nil
	}
	exe, err := os.Executable()
	if err != nil {
		return nil, errors.Wrap(err, "locating executable")
	}
	base := shellQuote(exe)
	conf := " --config " + shellQuote(m.Config)
	end := m.Now().UTC().Format("2006-01-02T15:04:05")
	return []string{
		base + " teardown" + conf,
		base + " apply" + conf,
		base + " materialize-incremental" + conf + " --end " + end,
	}, nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
