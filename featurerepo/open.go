package featurerepo

import (
	"context"
	"io"
	"time"

	"github.com/featuredemo/fdk"
	"github.com/featuredemo/fdk/aws/s3"
	"github.com/featuredemo/fdk/boltdb"
	"github.com/featuredemo/fdk/leveldb"
	"github.com/featuredemo/fdk/postgres"
	"github.com/featuredemo/fdk/redis"
	"github.com/featuredemo/fdk/statsd"
	"github.com/featuredemo/fdk/termstat"
	"github.com/pkg/errors"
)

type options struct {
	log   fdk.Logger
	stats fdk.Statter
	now   func() time.Time
}

// Option configures Open.
type Option func(o *options)

func OptLogger(l fdk.Logger) Option {
	return func(o *options) {
		o.log = l
	}
}

func OptStatter(s fdk.Statter) Option {
	return func(o *options) {
		o.stats = s
	}
}

// OptClock sets the clock used for TTLs and default materialization ends.
func OptClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// Open returns a FeatureStore backed by the registry, online store and
// (when a host is configured) postgres offline store of cfg.
func Open(cfg *fdk.Config, opts ...Option) (_ *fdk.FeatureStore, err error) {
	o := &options{
		log:   fdk.NopLogger{},
		stats: fdk.NopStatter{},
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	closers := make([]io.Closer, 0, 3)
	defer func() {
		if err != nil {
			for _, c := range closers {
				c.Close()
			}
		}
	}()

	registry, err := boltdb.NewRegistry(cfg.Registry, cfg.Project)
	if err != nil {
		return nil, errors.Wrap(err, "opening registry")
	}
	closers = append(closers, registry)

	online, err := openOnline(cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s online store", cfg.OnlineStore.Type)
	}
	closers = append(closers, online)

	storeOpts := []fdk.StoreOption{
		fdk.OptStoreLogger(o.log),
		fdk.OptStoreStatter(o.stats),
		fdk.OptStoreClock(o.now),
	}
	if cfg.OfflineStore.Host != "" {
		offline, err := postgres.NewStore(context.Background(), cfg.OfflineStore, o.log)
		if err != nil {
			return nil, errors.Wrap(err, "opening offline store")
		}
		closers = append(closers, offline)
		storeOpts = append(storeOpts, fdk.OptStoreOffline(offline))
	}
	o.log.Debugf("opened feature store for project %s with %s online store", cfg.Project, cfg.OnlineStore.Type)
	return fdk.NewFeatureStore(cfg.Project, registry, online, storeOpts...), nil
}

func openOnline(cfg *fdk.Config) (fdk.OnlineStore, error) {
	switch cfg.OnlineStore.Type {
	case "bolt":
		return boltdb.NewStore(cfg.OnlineStore.Path, cfg.Project)
	case "leveldb":
		return leveldb.NewStore(cfg.OnlineStore.Path, cfg.Project)
	case "redis":
		return redis.NewStore(context.Background(), cfg.OnlineStore.ConnectionString, cfg.Project)
	default:
		return nil, errors.Errorf("unknown online store type '%s'", cfg.OnlineStore.Type)
	}
}

// NewArchiver returns the S3 archiver of cfg, or nil when no bucket is
// configured.
func NewArchiver(cfg *fdk.Config, log fdk.Logger) (fdk.Archiver, error) {
	if cfg.Archive.Bucket == "" {
		return nil, nil
	}
	a, err := newS3Archiver(cfg, log)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func newS3Archiver(cfg *fdk.Config, log fdk.Logger, opts ...s3.ArchiveOption) (*s3.Archiver, error) {
	if log == nil {
		log = fdk.NopLogger{}
	}
	opts = append([]s3.ArchiveOption{
		s3.OptArchiveBucket(cfg.Archive.Bucket),
		s3.OptArchiveRegion(cfg.Archive.Region),
		s3.OptArchivePrefix(cfg.Archive.Prefix),
		s3.OptArchiveLogger(log),
	}, opts...)
	a, err := s3.NewArchiver(opts...)
	return a, errors.Wrap(err, "getting s3 archiver")
}

// StatCloser is a Statter which must be closed to flush its stats.
type StatCloser interface {
	fdk.Statter
	Close() error
}

type nopStatCloser struct{ fdk.NopStatter }

func (nopStatCloser) Close() error { return nil }

// NewStatter returns the statter named by dest: none for an empty dest, a
// terminal collector writing to out for "term", and otherwise a statsd
// client sending to the agent at dest.
func NewStatter(dest string, out io.Writer) (StatCloser, error) {
	switch dest {
	case "":
		return nopStatCloser{}, nil
	case "term":
		return termstat.NewCollector(out, 2*time.Second), nil
	default:
		s, err := statsd.NewStatter(dest, "fdk.")
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}
