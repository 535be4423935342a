package featurerepo

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/featuredemo/fdk"
	"github.com/pkg/errors"
)

// setup fills in the logger and loads the configuration shared by the repo
// commands. The returned func flushes the logger.
func setup(config string, verbose bool, log *fdk.Logger) (*fdk.Config, func(), error) {
	done := func() {}
	if *log == nil {
		zl, err := fdk.NewZapLogger(verbose)
		if err != nil {
			return nil, done, errors.Wrap(err, "building logger")
		}
		*log = zl
		done = func() { zl.Sync() }
	}
	cfg, err := fdk.LoadConfig(config)
	if err != nil {
		return nil, done, err
	}
	return cfg, done, nil
}

// ApplyMain registers the repo's entities and feature views.
type ApplyMain struct {
	Config  string `help:"Path to the JSON configuration file."`
	Verbose bool   `help:"Enable debug logging."`

	Log fdk.Logger `flag:"-"`
}

func NewApplyMain() *ApplyMain {
	return &ApplyMain{Config: "config-local.json"}
}

func (m *ApplyMain) Run() error {
	cfg, done, err := setup(m.Config, m.Verbose, &m.Log)
	defer done()
	if err != nil {
		return err
	}
	store, err := Open(cfg, OptLogger(m.Log))
	if err != nil {
		return err
	}
	defer store.Close()
	return errors.Wrap(store.Apply(context.Background(), Entities(), FeatureViews(cfg)), "applying feature repo")
}

// TeardownMain removes every online row and empties the registry.
type TeardownMain struct {
	Config  string `help:"Path to the JSON configuration file."`
	Verbose bool   `help:"Enable debug logging."`

	Log fdk.Logger `flag:"-"`
}

func NewTeardownMain() *TeardownMain {
	return &TeardownMain{Config: "config-local.json"}
}

func (m *TeardownMain) Run() error {
	cfg, done, err := setup(m.Config, m.Verbose, &m.Log)
	defer done()
	if err != nil {
		return err
	}
	store, err := Open(cfg, OptLogger(m.Log))
	if err != nil {
		return err
	}
	defer store.Close()
	return errors.Wrap(store.Teardown(context.Background()), "tearing down feature repo")
}

// MaterializeMain loads the latest offline rows of every online view into the
// online store, from where the previous run stopped up to End.
type MaterializeMain struct {
	Config  string `help:"Path to the JSON configuration file."`
	End     string `help:"End of the materialization window as an ISO-8601 time. Empty means now."`
	Verbose bool   `help:"Enable debug logging."`

	Log fdk.Logger       `flag:"-"`
	Now func() time.Time `flag:"-"`
}

func NewMaterializeMain() *MaterializeMain {
	return &MaterializeMain{
		Config: "config-local.json",
		Now:    time.Now,
	}
}

func (m *MaterializeMain) Run() error {
	cfg, done, err := setup(m.Config, m.Verbose, &m.Log)
	defer done()
	if err != nil {
		return err
	}
	end := m.Now()
	if m.End != "" {
		end, err = fdk.ParseISOTime(m.End)
		if err != nil {
			return errors.Wrap(err, "parsing end")
		}
	}
	store, err := Open(cfg, OptLogger(m.Log), OptClock(m.Now))
	if err != nil {
		return err
	}
	defer store.Close()
	m.Log.Printf("materializing up to %s", end.Format(time.RFC3339))
	return errors.Wrap(store.MaterializeIncremental(context.Background(), end), "materializing")
}

// OnlineMain prints online features for the given entity rows.
type OnlineMain struct {
	Config   string   `help:"Path to the JSON configuration file."`
	Features []string `help:"Feature references, <view>:<feature>."`
	Rows     []string `help:"Entity rows, each as key=value pairs separated by semicolons, e.g. user=0;traffic=7894."`
	Verbose  bool     `help:"Enable debug logging."`

	Stdout io.Writer        `flag:"-"`
	Log    fdk.Logger       `flag:"-"`
	Now    func() time.Time `flag:"-"`
}

func NewOnlineMain() *OnlineMain {
	return &OnlineMain{
		Config:   "config-local.json",
		Features: UserTrafficVector,
		Rows:     []string{"user=0;traffic=7894", "user=1;traffic=13287"},
		Stdout:   os.Stdout,
		Now:      time.Now,
	}
}

func (m *OnlineMain) Run() error {
	cfg, done, err := setup(m.Config, m.Verbose, &m.Log)
	defer done()
	if err != nil {
		return err
	}
	rows := make([]map[string]interface{}, 0, len(m.Rows))
	for _, r := range m.Rows {
		row, err := ParseEntityRow(r)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}
	store, err := Open(cfg, OptLogger(m.Log), OptClock(m.Now))
	if err != nil {
		return err
	}
	defer store.Close()
	table, err := store.GetOnlineFeatures(context.Background(), m.Features, rows)
	if err != nil {
		return errors.Wrap(err, "getting online features")
	}
	return table.Fprint(m.Stdout, -1)
}

// ParseEntityRow parses "key=value" pairs separated by semicolons. Integral
// values become int64, everything else stays a string.
func ParseEntityRow(s string) (map[string]interface{}, error) {
	row := make(map[string]interface{})
	for _, pair := range strings.Split(s, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, errors.Errorf("invalid entity row '%s', expected key=value pairs", s)
		}
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			row[k] = i
		} else {
			row[k] = v
		}
	}
	if len(row) == 0 {
		return nil, errors.Errorf("empty entity row '%s'", s)
	}
	return row, nil
}

// ReplayMain writes every table archived to S3 for a view back into the
// online store.
type ReplayMain struct {
	Config  string `help:"Path to the JSON configuration file."`
	View    string `help:"Feature view whose archive is replayed."`
	Verbose bool   `help:"Enable debug logging."`

	Stdout io.Writer  `flag:"-"`
	Log    fdk.Logger `flag:"-"`
}

func NewReplayMain() *ReplayMain {
	return &ReplayMain{
		Config: "config-local.json",
		View:   UserTraffic,
		Stdout: os.Stdout,
	}
}

func (m *ReplayMain) Run() error {
	cfg, done, err := setup(m.Config, m.Verbose, &m.Log)
	defer done()
	if err != nil {
		return err
	}
	if cfg.Archive.Bucket == "" {
		return errors.New("no archive bucket configured")
	}
	archiver, err := newS3Archiver(cfg, m.Log)
	if err != nil {
		return err
	}
	store, err := Open(cfg, OptLogger(m.Log))
	if err != nil {
		return err
	}
	defer store.Close()
	rows, err := archiver.Replay(context.Background(), m.View, store)
	if err != nil {
		return errors.Wrap(err, "replaying archive")
	}
	fmt.Fprintf(m.Stdout, "Replayed %d rows into %s\n", rows, m.View)
	return nil
}
