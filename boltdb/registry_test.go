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

package boltdb

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/featuredemo/fdk"
	"github.com/featuredemo/fdk/test"
)

func TestRegistry(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "registry.db")
	r, err := NewRegistry(filename, "feast_demo")
	if err != nil {
		t.Fatalf("couldn't get registry: %v", err)
	}
	user := &fdk.Entity{Name: "user", ValueType: fdk.Int64, JoinKeys: []string{"user_id"}, Description: "user id"}
	traffic := &fdk.Entity{Name: "traffic", ValueType: fdk.Int64, JoinKeys: []string{"traffic_id"}}
	batch := fdk.PostgreSQLSource("batch_traffic", "SELECT 1", "event_event_timestamp", "event_created_timestamp")
	view := &fdk.FeatureView{
		Name:     "user_traffic",
		Entities: []string{"user", "traffic"},
		TTL:      1000 * 24 * time.Hour,
		Schema:   []fdk.Field{{Name: "event", Dtype: fdk.String}},
		Online:   true,
		Source:   fdk.KafkaSource("traffic", "localhost:9092", "traffic", "timestamp", "", 5*time.Minute, batch),
		Tags:     map[string]string{},
	}
	test.ErrNil(t, r.ApplyEntity(user), "applying user")
	test.ErrNil(t, r.ApplyEntity(traffic), "applying traffic")
	test.ErrNil(t, r.ApplyFeatureView(view), "applying view")

	_, ok, err := r.MaterializedUntil("user_traffic")
	test.ErrNil(t, err, "getting watermark")
	test.MustBe(t, false, ok)
	until := time.Date(2022, 4, 13, 0, 0, 0, 0, time.UTC)
	test.ErrNil(t, r.SetMaterializedUntil("user_traffic", until), "setting watermark")
	test.ErrNil(t, r.Close(), "closing")

	r, err = NewRegistry(filename, "feast_demo")
	test.ErrNil(t, err, "reopening")
	defer r.Close()
	entities, err := r.Entities()
	test.ErrNil(t, err, "listing entities")
	test.MustBe(t, []*fdk.Entity{traffic, user}, entities)
	views, err := r.FeatureViews()
	test.ErrNil(t, err, "listing views")
	test.MustBe(t, 1, len(views))
	test.MustBe(t, view.Source, views[0].Source)
	test.MustBe(t, view.TTL, views[0].TTL)
	test.ErrNil(t, views[0].Resolve(map[string]*fdk.Entity{"user": user, "traffic": traffic}), "resolving")
	test.MustBe(t, []string{"user_id", "traffic_id"}, views[0].JoinKeys())
	got, ok, err := r.MaterializedUntil("user_traffic")
	test.ErrNil(t, err, "getting watermark")
	test.MustBe(t, true, ok)
	if !got.Equal(until) {
		t.Fatalf("watermark %v != %v", got, until)
	}

	test.ErrNil(t, r.Teardown(), "teardown")
	entities, err = r.Entities()
	test.ErrNil(t, err, "listing after teardown")
	test.MustBe(t, 0, len(entities))
	_, ok, err = r.MaterializedUntil("user_traffic")
	test.ErrNil(t, err, "getting watermark after teardown")
	test.MustBe(t, false, ok)
}
