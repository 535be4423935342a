package boltdb

import (
	"encoding/json"
	"time"

	"github.com/boltdb/bolt"
	"github.com/featuredemo/fdk"
	"github.com/pkg/errors"
)

var (
	entityBucket = []byte("entities")
	viewBucket   = []byte("feature_views")
	untilBucket  = []byte("materialized_until")
)

var _ fdk.Registry = &Registry{}

// Registry is an fdk.Registry which stores JSON encoded entities and feature
// views in bolt. Everything lives in a top level bucket named after the
// project, so several projects can share a file.
type Registry struct {
	Db      *bolt.DB
	project []byte
}

// NewRegistry opens the registry in filename.
func NewRegistry(filename, project string) (*Registry, error) {
	db, err := open(filename)
	if err != nil {
		return nil, err
	}
	r := &Registry{Db: db, project: []byte(project)}
	if err := db.Update(r.ensureBuckets); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ensuring bucket existence")
	}
	return r, nil
}

func (r *Registry) ensureBuckets(tx *bolt.Tx) error {
	pb, err := tx.CreateBucketIfNotExists(r.project)
	if err != nil {
		return errors.Wrap(err, "creating project bucket")
	}
	for _, name := range [][]byte{entityBucket, viewBucket, untilBucket} {
		if _, err := pb.CreateBucketIfNotExists(name); err != nil {
			return errors.Wrapf(err, "creating %s bucket", name)
		}
	}
	return nil
}

func (r *Registry) put(bucket []byte, key string, val interface{}) error {
	data, err := json.Marshal(val)
	if err != nil {
		return errors.Wrapf(err, "encoding %s", key)
	}
	return r.Db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(r.project).Bucket(bucket).Put([]byte(key), data)
	})
}

// ApplyEntity implements fdk.Registry.
func (r *Registry) ApplyEntity(e *fdk.Entity) error {
	return r.put(entityBucket, e.Name, e)
}

// ApplyFeatureView implements fdk.Registry.
func (r *Registry) ApplyFeatureView(v *fdk.FeatureView) error {
	return r.put(viewBucket, v.Name, v)
}

// Entities implements fdk.Registry. Entities are returned sorted by name.
func (r *Registry) Entities() ([]*fdk.Entity, error) {
	out := make([]*fdk.Entity, 0)
	err := r.Db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(r.project).Bucket(entityBucket).ForEach(func(k, v []byte) error {
			e := &fdk.Entity{}
			if err := json.Unmarshal(v, e); err != nil {
				return errors.Wrapf(err, "decoding entity %s", k)
			}
			out = append(out, e)
			return nil
		})
	})
	return out, err
}

// FeatureViews implements fdk.Registry. Views are returned sorted by name.
func (r *Registry) FeatureViews() ([]*fdk.FeatureView, error) {
	out := make([]*fdk.FeatureView, 0)
	err := r.Db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(r.project).Bucket(viewBucket).ForEach(func(k, v []byte) error {
			fv := &fdk.FeatureView{}
			if err := json.Unmarshal(v, fv); err != nil {
				return errors.Wrapf(err, "decoding feature view %s", k)
			}
			out = append(out, fv)
			return nil
		})
	})
	return out, err
}

// MaterializedUntil implements fdk.Registry.
func (r *Registry) MaterializedUntil(view string) (t time.Time, ok bool, err error) {
	err = r.Db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(r.project).Bucket(untilBucket).Get([]byte(view))
		if data == nil {
			return nil
		}
		ok = true
		return t.UnmarshalBinary(data)
	})
	return t, ok, errors.Wrapf(err, "decoding watermark of %s", view)
}

// SetMaterializedUntil implements fdk.Registry.
func (r *Registry) SetMaterializedUntil(view string, t time.Time) error {
	data, err := t.MarshalBinary()
	if err != nil {
		return errors.Wrap(err, "encoding watermark")
	}
	return r.Db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(r.project).Bucket(untilBucket).Put([]byte(view), data)
	})
}

// Teardown implements fdk.Registry.
func (r *Registry) Teardown() error {
	return r.Db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(r.project); err != nil && err != bolt.ErrBucketNotFound {
			return errors.Wrap(err, "deleting project bucket")
		}
		return r.ensureBuckets(tx)
	})
}

// Close closes the underlying db.
func (r *Registry) Close() error {
	return r.Db.Close()
}
