package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/featuredemo/fdk"
	"github.com/featuredemo/fdk/test"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	test.OnlineStoreSuite(t, func(t *testing.T) fdk.OnlineStore {
		srv := miniredis.RunT(t)
		s, err := NewStore(context.Background(), srv.Addr(), "feast_demo")
		require.NoError(t, err)
		return s
	})
}

func TestStoreLayout(t *testing.T) {
	srv := miniredis.RunT(t)
	s := NewStoreWithClient(goredis.NewClient(&goredis.Options{Addr: srv.Addr()}), "feast_demo")
	defer s.Close()
	ts := time.Date(2022, 4, 12, 10, 59, 42, 0, time.UTC)
	row := &fdk.OnlineRow{
		Key:            fdk.EntityKey{JoinKeys: []string{"user_id", "traffic_id"}, Values: []interface{}{0, 7894}},
		Features:       map[string]interface{}{"event": "home_page"},
		EventTimestamp: ts,
	}
	require.NoError(t, s.OnlineWrite(context.Background(), "user_traffic", []*fdk.OnlineRow{row}))
	key := "feast_demo:user_traffic:traffic_id=7894,user_id=0"
	assert.True(t, srv.Exists(key))
	assert.Equal(t, "1649761182000000", srv.HGet(key, "event_ts"))
}

func TestNewStoreUnreachable(t *testing.T) {
	srv := miniredis.RunT(t)
	addr := srv.Addr()
	srv.Close()
	_, err := NewStore(context.Background(), addr, "feast_demo")
	assert.Error(t, err)
}
