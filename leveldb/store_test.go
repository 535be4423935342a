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
	"testing"

	"github.com/featuredemo/fdk"
	"github.com/featuredemo/fdk/test"
)

func TestStore(t *testing.T) {
	test.OnlineStoreSuite(t, func(t *testing.T) fdk.OnlineStore {
		s, err := NewStore(t.TempDir(), "feast_demo")
		if err != nil {
			t.Fatalf("opening leveldb store: %v", err)
		}
		return s
	})
}

func TestStorePrefixes(t *testing.T) {
	s, err := NewStore(t.TempDir(), "feast_demo")
	test.ErrNil(t, err, "opening")
	defer s.Close()
	k := fdk.EntityKey{JoinKeys: []string{"user_id"}, Values: []interface{}{1}}
	test.MustBe(t, "feast_demo/user_traffic/user_id=1", string(s.key("user_traffic", k)))
	// a view whose name extends another's must not be removed with it
	test.MustBe(t, "feast_demo/user/", string(s.prefix("user")))
}
