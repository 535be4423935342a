package boltdb

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"
	"github.com/featuredemo/fdk"
	"github.com/pkg/errors"
)

var _ fdk.OnlineStore = &Store{}

// Store is an fdk.OnlineStore which keeps the rows of each feature view in a
// bolt bucket named "<project>.<view>", keyed by entity key.
type Store struct {
	Db      *bolt.DB
	project string
}

// open opens (creating if needed) the bolt file at filename.
func open(filename string) (*bolt.DB, error) {
	if dir := filepath.Dir(filename); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, errors.Wrap(err, "making directory")
		}
	}
	db, err := bolt.Open(filename, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "opening db file '%v'", filename)
	}
	db.MaxBatchDelay = 400 * time.Microsecond
	return db, nil
}

// NewStore gets a new Store backed by filename.
func NewStore(filename, project string) (*Store, error) {
	db, err := open(filename)
	if err != nil {
		return nil, err
	}
	return &Store{Db: db, project: project}, nil
}

func (s *Store) bucket(view string) []byte {
	return []byte(s.project + "." + view)
}

// OnlineWrite implements fdk.OnlineStore.
func (s *Store) OnlineWrite(ctx context.Context, view string, rows []*fdk.OnlineRow) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(s.bucket(view))
		if err != nil {
			return errors.Wrapf(err, "creating bucket for %s", view)
		}
		for _, row := range rows {
			key := []byte(row.Key.String())
			var existing *fdk.OnlineRow
			if data := b.Get(key); data != nil {
				existing, err = fdk.DecodeOnlineRow(data)
				if err != nil {
					return errors.Wrapf(err, "decoding stored row %s", key)
				}
			}
			if !row.Supersedes(existing) {
				continue
			}
			data, err := fdk.EncodeOnlineRow(row)
			if err != nil {
				return errors.Wrapf(err, "encoding row %s", key)
			}
			if err := b.Put(key, data); err != nil {
				return errors.Wrapf(err, "putting row %s", key)
			}
		}
		return nil
	})
}

// OnlineRead implements fdk.OnlineStore.
func (s *Store) OnlineRead(ctx context.Context, view string, keys []fdk.EntityKey) ([]*fdk.OnlineRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows := make([]*fdk.OnlineRow, len(keys))
	err := s.Db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket(view))
		if b == nil {
			return nil
		}
		for i, k := range keys {
			data := b.Get([]byte(k.String()))
			if data == nil {
				continue
			}
			row, err := fdk.DecodeOnlineRow(data)
			if err != nil {
				return errors.Wrapf(err, "decoding row %s", k)
			}
			rows[i] = row
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Teardown implements fdk.OnlineStore.
func (s *Store) Teardown(ctx context.Context, views []string) error {
	return s.Db.Update(func(tx *bolt.Tx) error {
		for _, v := range views {
			if tx.Bucket(s.bucket(v)) == nil {
				continue
			}
			if err := tx.DeleteBucket(s.bucket(v)); err != nil {
				return errors.Wrapf(err, "deleting bucket for %s", v)
			}
		}
		return nil
	})
}

// Close syncs and closes the underlying db.
func (s *Store) Close() error {
	err := s.Db.Sync()
	if err != nil {
		return errors.Wrap(err, "syncing db")
	}
	return s.Db.Close()
}
