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

package kafka

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/featuredemo/fdk"
	"github.com/linkedin/goavro/v2"
	"github.com/pkg/errors"
)

// Schema is the object served by the schema registry.
type Schema struct {
	Schema  string `json:"schema"`  // The actual AVRO schema
	Subject string `json:"subject"` // Subject where the schema is registered for
	Version int    `json:"version"` // Version within this subject
	ID      int    `json:"id"`      // Registry's unique id
}

// Registry fetches and caches Avro codecs from a Confluent schema registry.
type Registry struct {
	URL    string
	Client *http.Client

	lock  sync.RWMutex
	cache map[int32]*recordCodec
}

// NewRegistry returns a Registry for the registry at url. A url without a
// scheme is taken to be a plain http host:port.
func NewRegistry(url string) *Registry {
	if !strings.Contains(url, "://") {
		url = "http://" + url
	}
	return &Registry{
		URL:    strings.TrimRight(url, "/"),
		Client: http.DefaultClient,
		cache:  make(map[int32]*recordCodec),
	}
}

// Decode decodes a value in the Confluent wire format: a zero magic byte, a
// big endian schema id and the Avro binary encoding of a record. It returns
// the record's values and its field names in schema order.
func (r *Registry) Decode(ctx context.Context, val []byte) (map[string]interface{}, []string, error) {
	if len(val) <= 5 || val[0] != 0 {
		return nil, nil, errors.Errorf("unexpected magic byte or length in avro kafka value, should be 0x00, but got 0x%.8x", val)
	}
	id := int32(binary.BigEndian.Uint32(val[1:5]))
	codec, err := r.codec(ctx, id)
	if err != nil {
		return nil, nil, errors.Wrap(err, "getting avro codec")
	}
	rec, err := codec.decode(val[5:])
	if err != nil {
		return nil, nil, errors.Wrapf(err, "decoding avro record with schema %d", id)
	}
	return rec, codec.fields, nil
}

func (r *Registry) codec(ctx context.Context, id int32) (*recordCodec, error) {
	r.lock.RLock()
	if codec, ok := r.cache[id]; ok {
		r.lock.RUnlock()
		return codec, nil
	}
	r.lock.RUnlock()
	r.lock.Lock()
	defer r.lock.Unlock()
	if codec, ok := r.cache[id]; ok {
		return codec, nil
	}

	url := fmt.Sprintf("%s/schemas/ids/%d", r.URL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "building request")
	}
	resp, err := r.Client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "getting schema from registry")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		bod, _ := io.ReadAll(resp.Body)
		return nil, &fdk.TransportError{Method: http.MethodGet, URL: url, StatusCode: resp.StatusCode, Body: string(bod)}
	}
	schema := &Schema{}
	if err := json.NewDecoder(resp.Body).Decode(schema); err != nil {
		return nil, errors.Wrap(err, "decoding schema from registry")
	}
	codec, err := newRecordCodec(schema.Schema)
	if err != nil {
		return nil, errors.Wrapf(err, "schema %d", id)
	}
	r.cache[id] = codec
	return codec, nil
}

// recordCodec decodes one Avro record schema.
type recordCodec struct {
	codec  *goavro.Codec
	schema map[string]interface{}
	fields []string
}

func newRecordCodec(schema string) (*recordCodec, error) {
	codec, err := goavro.NewCodec(schema)
	if err != nil {
		return nil, errors.Wrap(err, "parsing schema")
	}
	rc := &recordCodec{codec: codec}
	if err := json.Unmarshal([]byte(schema), &rc.schema); err != nil || rc.schema["type"] != "record" {
		return nil, errors.New("schema is not an avro record")
	}
	fields, _ := rc.schema["fields"].([]interface{})
	for _, f := range fields {
		if fm, ok := f.(map[string]interface{}); ok {
			name, _ := fm["name"].(string)
			rc.fields = append(rc.fields, name)
		}
	}
	return rc, nil
}

func (rc *recordCodec) decode(data []byte) (map[string]interface{}, error) {
	native, _, err := rc.codec.NativeFromBinary(data)
	if err != nil {
		return nil, errors.Wrap(err, "reading binary datum")
	}
	rec, ok := normalize(rc.schema, native).(map[string]interface{})
	if !ok {
		return nil, errors.Errorf("decoded a %T, not a record", native)
	}
	return rec, nil
}

// normalize converts goavro's native form into the values produced by
// fdk.DecodeValue: unions are unwrapped and 32 bit numbers widened.
func normalize(schema, val interface{}) interface{} {
	switch st := schema.(type) {
	case []interface{}:
		if u, ok := val.(map[string]interface{}); ok && len(u) == 1 {
			for name, v := range u {
				return normalize(unionBranch(st, name), v)
			}
		}
	case map[string]interface{}:
		switch st["type"] {
		case "record":
			if rec, ok := val.(map[string]interface{}); ok {
				fields, _ := st["fields"].([]interface{})
				out := make(map[string]interface{}, len(rec))
				for k, v := range rec {
					out[k] = normalize(fieldSchema(fields, k), v)
				}
				return out
			}
		case "array":
			if items, ok := val.([]interface{}); ok {
				out := make([]interface{}, len(items))
				for i, v := range items {
					out[i] = normalize(st["items"], v)
				}
				return out
			}
		case "map":
			if m, ok := val.(map[string]interface{}); ok {
				out := make(map[string]interface{}, len(m))
				for k, v := range m {
					out[k] = normalize(st["values"], v)
				}
				return out
			}
		}
	}
	switch vt := val.(type) {
	case int32:
		return int64(vt)
	case int:
		return int64(vt)
	case float32:
		return float64(vt)
	case []interface{}:
		for i, v := range vt {
			vt[i] = normalize(nil, v)
		}
	case map[string]interface{}:
		for k, v := range vt {
			vt[k] = normalize(nil, v)
		}
	}
	return val
}

func fieldSchema(fields []interface{}, name string) interface{} {
	for _, f := range fields {
		if fm, ok := f.(map[string]interface{}); ok && fm["name"] == name {
			return fm["type"]
		}
	}
	return nil
}

// unionBranch finds the branch goavro named name. Named types are keyed by
// their full name and logical types by "<type>.<logicalType>".
func unionBranch(branches []interface{}, name string) interface{} {
	matches := func(n string) bool {
		return n != "" && (n == name || strings.HasSuffix(name, "."+n) || strings.HasPrefix(name, n+"."))
	}
	for _, b := range branches {
		switch bt := b.(type) {
		case string:
			if matches(bt) {
				return b
			}
		case map[string]interface{}:
			if n, _ := bt["name"].(string); matches(n) {
				return b
			}
			if t, _ := bt["type"].(string); matches(t) {
				return b
			}
		}
	}
	return nil
}
