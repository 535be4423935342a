package fdk

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// EntityKey identifies one entity (or combination of entities) in a feature
// view by the values of its join keys.
type EntityKey struct {
	JoinKeys []string
	Values   []interface{}
}

// String returns the canonical form of the key: join key/value pairs sorted
// by join key. Values are formatted with fmt.Sprint so that 7894,
// int64(7894) and "7894" address the same entity.
func (k EntityKey) String() string {
	idx := make([]int, len(k.JoinKeys))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return k.JoinKeys[idx[a]] < k.JoinKeys[idx[b]] })
	sb := strings.Builder{}
	for n, i := range idx {
		if n > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(k.JoinKeys[i])
		sb.WriteByte('=')
		if i < len(k.Values) {
			sb.WriteString(fmt.Sprint(k.Values[i]))
		}
	}
	return sb.String()
}

// OnlineRow is the latest known feature values of one entity key.
type OnlineRow struct {
	Key              EntityKey
	Features         map[string]interface{}
	EventTimestamp   time.Time
	CreatedTimestamp time.Time
}

// Supersedes reports whether row should replace existing in an online store.
// Rows are ordered by event timestamp and then by created timestamp; a row
// with identical timestamps replaces the stored one, so replaying a write is
// harmless.
func (row *OnlineRow) Supersedes(existing *OnlineRow) bool {
	if existing == nil {
		return true
	}
	if !row.EventTimestamp.Equal(existing.EventTimestamp) {
		return row.EventTimestamp.After(existing.EventTimestamp)
	}
	return !row.CreatedTimestamp.Before(existing.CreatedTimestamp)
}

type wireOnlineRow struct {
	JoinKeys         []string        `json:"join_keys"`
	Values           json.RawMessage `json:"values"`
	Features         json.RawMessage `json:"features"`
	EventTimestamp   time.Time       `json:"event_ts"`
	CreatedTimestamp time.Time       `json:"created_ts"`
}

// EncodeOnlineRow serializes a row for storage. Time valued features are
// encoded with MarshalValue so they decode back to time values.
func EncodeOnlineRow(row *OnlineRow) ([]byte, error) {
	values, err := MarshalValue(row.Key.Values)
	if err != nil {
		return nil, errors.Wrap(err, "encoding key values")
	}
	features := row.Features
	if features == nil {
		features = map[string]interface{}{}
	}
	feats, err := MarshalValue(features)
	if err != nil {
		return nil, errors.Wrap(err, "encoding features")
	}
	return json.Marshal(wireOnlineRow{
		JoinKeys:         row.Key.JoinKeys,
		Values:           values,
		Features:         feats,
		EventTimestamp:   row.EventTimestamp,
		CreatedTimestamp: row.CreatedTimestamp,
	})
}

// DecodeOnlineRow is the inverse of EncodeOnlineRow.
func DecodeOnlineRow(data []byte) (*OnlineRow, error) {
	var w wireOnlineRow
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, errors.Wrap(err, "decoding online row")
	}
	row := &OnlineRow{
		Key:              EntityKey{JoinKeys: w.JoinKeys},
		EventTimestamp:   w.EventTimestamp,
		CreatedTimestamp: w.CreatedTimestamp,
	}
	vals, err := DecodeValue(w.Values)
	if err != nil {
		return nil, errors.Wrap(err, "decoding key values")
	}
	if vals != nil {
		vs, ok := vals.([]interface{})
		if !ok {
			return nil, errors.Errorf("key values are a %T, not a list", vals)
		}
		row.Key.Values = vs
	}
	row.Features, _, err = DecodeObject(w.Features)
	if err != nil {
		return nil, errors.Wrap(err, "decoding features")
	}
	return row, nil
}
