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

package leveldb

import (
	"context"
	"os"
	"sync"

	"github.com/featuredemo/fdk"
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var _ fdk.OnlineStore = &Store{}

// Store is an fdk.OnlineStore which stores rows in leveldb under keys of the
// form "<project>/<view>/<entity key>".
type Store struct {
	// lock serializes the read-modify-write cycle of OnlineWrite.
	lock    sync.Mutex
	db      *leveldb.DB
	project string
}

// NewStore opens (creating if needed) a leveldb in dirname.
func NewStore(dirname, project string) (*Store, error) {
	err := os.MkdirAll(dirname, 0700)
	if err != nil {
		return nil, errors.Wrap(err, "making directory")
	}
	db, err := leveldb.OpenFile(dirname, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "opening leveldb at %v", dirname)
	}
	return &Store{db: db, project: project}, nil
}

func (s *Store) prefix(view string) []byte {
	return []byte(s.project + "/" + view + "/")
}

func (s *Store) key(view string, k fdk.EntityKey) []byte {
	return append(s.prefix(view), k.String()...)
}

func (s *Store) get(key []byte) (*fdk.OnlineRow, error) {
	data, err := s.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	} else if err != nil {
		return nil, errors.Wrapf(err, "getting %s", key)
	}
	return fdk.DecodeOnlineRow(data)
}

// OnlineWrite implements fdk.OnlineStore.
func (s *Store) OnlineWrite(ctx context.Context, view string, rows []*fdk.OnlineRow) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	batch := new(leveldb.Batch)
	// later rows of the same batch are compared against earlier ones
	pending := make(map[string]*fdk.OnlineRow)
	for _, row := range rows {
		key := s.key(view, row.Key)
		existing, ok := pending[string(key)]
		if !ok {
			var err error
			existing, err = s.get(key)
			if err != nil {
				return err
			}
		}
		if !row.Supersedes(existing) {
			continue
		}
		data, err := fdk.EncodeOnlineRow(row)
		if err != nil {
			return errors.Wrapf(err, "encoding row %s", key)
		}
		batch.Put(key, data)
		pending[string(key)] = row
	}
	return errors.Wrap(s.db.Write(batch, nil), "writing batch")
}

// OnlineRead implements fdk.OnlineStore.
func (s *Store) OnlineRead(ctx context.Context, view string, keys []fdk.EntityKey) ([]*fdk.OnlineRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows := make([]*fdk.OnlineRow, len(keys))
	for i, k := range keys {
		row, err := s.get(s.key(view, k))
		if err != nil {
			return nil, errors.Wrapf(err, "reading %s", k)
		}
		rows[i] = row
	}
	return rows, nil
}

// Teardown implements fdk.OnlineStore.
func (s *Store) Teardown(ctx context.Context, views []string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	batch := new(leveldb.Batch)
	for _, v := range views {
		iter := s.db.NewIterator(util.BytesPrefix(s.prefix(v)), nil)
		for iter.Next() {
			batch.Delete(append([]byte(nil), iter.Key()...))
		}
		iter.Release()
		if err := iter.Error(); err != nil {
			return errors.Wrapf(err, "iterating %s", v)
		}
	}
	return errors.Wrap(s.db.Write(batch, nil), "deleting rows")
}

// Close closes the underlying leveldb.
func (s *Store) Close() error {
	return s.db.Close()
}
