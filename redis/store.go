// Package redis implements an fdk.OnlineStore on Redis. Each entity key of
// a view is a hash holding the encoded row and its timestamps; writes go
// through a Lua script so the newer-row-wins rule holds with concurrent
// writers.
package redis

import (
	"context"
	"strconv"

	"github.com/featuredemo/fdk"
	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"
)

var _ fdk.OnlineStore = &Store{}

// upsert writes ARGV[3] to the hash at KEYS[1] unless the stored row has a
// later event timestamp (ARGV[1]), or the same event timestamp and a later
// created timestamp (ARGV[2]). Timestamps are unix microseconds.
var upsert = goredis.NewScript(`
local cur = redis.call('HMGET', KEYS[1], 'event_ts', 'created_ts')
if cur[1] then
	local e, ce = tonumber(ARGV[1]), tonumber(cur[1])
	if e < ce then
		return 0
	end
	if e == ce and tonumber(ARGV[2]) < tonumber(cur[2]) then
		return 0
	end
end
redis.call('HSET', KEYS[1], 'event_ts', ARGV[1], 'created_ts', ARGV[2], 'row', ARGV[3])
return 1
`)

// Store is a Redis backed fdk.OnlineStore.
type Store struct {
	client  goredis.UniversalClient
	project string
}

// NewStore connects to the Redis server at addr.
func NewStore(ctx context.Context, addr, project string) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrapf(err, "connecting to redis at %s", addr)
	}
	return NewStoreWithClient(client, project), nil
}

// NewStoreWithClient returns a Store using an existing client. The Store
// closes the client in Close.
func NewStoreWithClient(client goredis.UniversalClient, project string) *Store {
	return &Store{client: client, project: project}
}

func (s *Store) prefix(view string) string {
	return s.project + ":" + view + ":"
}

func (s *Store) key(view string, k fdk.EntityKey) string {
	return s.prefix(view) + k.String()
}

// OnlineWrite implements fdk.OnlineStore.
func (s *Store) OnlineWrite(ctx context.Context, view string, rows []*fdk.OnlineRow) error {
	for _, row := range rows {
		data, err := fdk.EncodeOnlineRow(row)
		if err != nil {
			return errors.Wrap(err, "encoding row")
		}
		key := s.key(view, row.Key)
		err = upsert.Run(ctx, s.client, []string{key},
			strconv.FormatInt(row.EventTimestamp.UnixMicro(), 10),
			strconv.FormatInt(row.CreatedTimestamp.UnixMicro(), 10),
			string(data),
		).Err()
		if err != nil {
			return errors.Wrapf(err, "writing %s", key)
		}
	}
	return nil
}

// OnlineRead implements fdk.OnlineStore.
func (s *Store) OnlineRead(ctx context.Context, view string, keys []fdk.EntityKey) ([]*fdk.OnlineRow, error) {
	rows := make([]*fdk.OnlineRow, len(keys))
	if len(keys) == 0 {
		return rows, nil
	}
	pipe := s.client.Pipeline()
	cmds := make([]*goredis.StringCmd, len(keys))
	for i, k := range keys {
		cmds[i] = pipe.HGet(ctx, s.key(view, k), "row")
	}
	if _, err := pipe.Exec(ctx); err != nil && err != goredis.Nil {
		return nil, errors.Wrap(err, "reading rows")
	}
	for i, cmd := range cmds {
		data, err := cmd.Bytes()
		if err == goredis.Nil {
			continue
		} else if err != nil {
			return nil, errors.Wrapf(err, "reading %s", keys[i])
		}
		rows[i], err = fdk.DecodeOnlineRow(data)
		if err != nil {
			return nil, errors.Wrapf(err, "decoding %s", keys[i])
		}
	}
	return rows, nil
}

// Teardown implements fdk.OnlineStore.
func (s *Store) Teardown(ctx context.Context, views []string) error {
	for _, v := range views {
		iter := s.client.Scan(ctx, 0, s.prefix(v)+"*", 100).Iterator()
		keys := make([]string, 0)
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return errors.Wrapf(err, "scanning %s", v)
		}
		if len(keys) == 0 {
			continue
		}
		if err := s.client.Del(ctx, keys...).Err(); err != nil {
			return errors.Wrapf(err, "deleting rows of %s", v)
		}
	}
	return nil
}

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}
