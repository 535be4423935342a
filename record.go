package fdk

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// Record is one message drained from a topic. Records are not modified after
// they are decoded.
type Record struct {
	Topic string
	Key   interface{}
	Value map[string]interface{}

	// Fields holds the top level keys of Value in the order in which they
	// appeared on the wire. Column discovery uses it so that feature tables
	// keep the producer's field order.
	Fields []string

	Partition int32
	Offset    int64
}

// FieldNames returns the keys of the record value in wire order, falling back
// to sorted order for records which were not decoded from the wire.
func (r Record) FieldNames() []string {
	if len(r.Fields) == len(r.Value) {
		return r.Fields
	}
	return sortedKeys(r.Value)
}

// wireRecord is the shape of a record in a consumer proxy response.
type wireRecord struct {
	Topic     string          `json:"topic"`
	Key       json.RawMessage `json:"key"`
	Value     json.RawMessage `json:"value"`
	Partition int32           `json:"partition"`
	Offset    int64           `json:"offset"`
}

// DecodeRecords decodes a JSON array of records as returned by the consumer
// proxy. Values are decoded with DecodeObject.
func DecodeRecords(data []byte) ([]Record, error) {
	var wire []wireRecord
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, errors.Wrap(err, "decoding record list")
	}
	recs := make([]Record, 0, len(wire))
	for i, w := range wire {
		rec := Record{
			Topic:     w.Topic,
			Partition: w.Partition,
			Offset:    w.Offset,
		}
		if len(w.Key) > 0 && !bytes.Equal(w.Key, []byte("null")) {
			key, err := DecodeValue(w.Key)
			if err != nil {
				return nil, errors.Wrapf(err, "decoding key of record %d", i)
			}
			rec.Key = key
		}
		val, fields, err := DecodeObject(w.Value)
		if err != nil {
			return nil, errors.Wrapf(err, "decoding value of record %d", i)
		}
		rec.Value, rec.Fields = val, fields
		recs = append(recs, rec)
	}
	return recs, nil
}

// DecodeObject decodes a JSON object, returning its values and its keys in
// wire order. Nested values are converted with the same rules as DecodeValue.
func DecodeObject(data []byte) (map[string]interface{}, []string, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return nil, nil, errors.Wrap(err, "reading object start")
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, nil, errors.Errorf("expected a JSON object, got %v", tok)
	}
	obj := make(map[string]interface{})
	fields := make([]string, 0)
	for dec.More() {
		tok, err = dec.Token()
		if err != nil {
			return nil, nil, errors.Wrap(err, "reading object key")
		}
		key, ok := tok.(string)
		if !ok {
			return nil, nil, errors.Errorf("unexpected object key %v", tok)
		}
		var raw interface{}
		if err := dec.Decode(&raw); err != nil {
			return nil, nil, errors.Wrapf(err, "decoding value of '%s'", key)
		}
		val, err := convertValue(raw)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "converting value of '%s'", key)
		}
		if _, dup := obj[key]; !dup {
			fields = append(fields, key)
		}
		obj[key] = val
	}
	if _, err := dec.Token(); err != nil {
		return nil, nil, errors.Wrap(err, "reading object end")
	}
	if rule, ok := matchRule(obj); ok {
		return nil, nil, errors.Errorf("object has the shape of a %s value, not a record", rule.name)
	}
	return obj, fields, nil
}

// DecodeValue decodes arbitrary JSON. Integral numbers become int64, other
// numbers float64, and objects matching a value rule (see valueRules) are
// replaced by the typed value.
func DecodeValue(data []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, errors.Wrap(err, "decoding json")
	}
	return convertValue(raw)
}

// MarshalValue is the inverse of DecodeValue: time values are encoded as
// {"_isoformat": "<ISO-8601>"} objects.
func MarshalValue(v interface{}) ([]byte, error) {
	return json.Marshal(encodeValue(v))
}

func encodeValue(v interface{}) interface{} {
	switch vt := v.(type) {
	case time.Time:
		return map[string]interface{}{isoformatKey: vt.Format(isoformatLayout)}
	case float64:
		return floatNumber(vt)
	case float32:
		return floatNumber(float64(vt))
	case map[string]interface{}:
		ret := make(map[string]interface{}, len(vt))
		for k, val := range vt {
			ret[k] = encodeValue(val)
		}
		return ret
	case []interface{}:
		ret := make([]interface{}, len(vt))
		for i, val := range vt {
			ret[i] = encodeValue(val)
		}
		return ret
	default:
		return v
	}
}

// floatNumber keeps integral floats distinguishable from integers on the
// wire, so 2.0 decodes as a float64 again.
func floatNumber(f float64) interface{} {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return f
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return json.Number(strconv.FormatFloat(f, 'f', 1, 64))
	}
	return f
}

func convertValue(v interface{}) (interface{}, error) {
	switch vt := v.(type) {
	case json.Number:
		if i, err := vt.Int64(); err == nil {
			return i, nil
		}
		f, err := vt.Float64()
		return f, errors.Wrapf(err, "converting number %s", vt)
	case []interface{}:
		for i, elem := range vt {
			cv, err := convertValue(elem)
			if err != nil {
				return nil, errors.Wrapf(err, "element %d", i)
			}
			vt[i] = cv
		}
		return vt, nil
	case map[string]interface{}:
		for k, elem := range vt {
			cv, err := convertValue(elem)
			if err != nil {
				return nil, errors.Wrapf(err, "key '%s'", k)
			}
			vt[k] = cv
		}
		if rule, ok := matchRule(vt); ok {
			return rule.convert(vt)
		}
		return vt, nil
	default:
		return v, nil
	}
}

// valueRule rewrites a decoded JSON object of a recognized shape into a typed
// value. Rules are applied bottom up, after the object's own values have been
// converted.
type valueRule struct {
	name    string
	match   func(obj map[string]interface{}) bool
	convert func(obj map[string]interface{}) (interface{}, error)
}

const (
	isoformatKey    = "_isoformat"
	isoformatLayout = "2006-01-02T15:04:05.000000-07:00"
)

var valueRules = []valueRule{
	{
		name: "timestamp",
		match: func(obj map[string]interface{}) bool {
			return obj[isoformatKey] != nil
		},
		convert: func(obj map[string]interface{}) (interface{}, error) {
			s, ok := obj[isoformatKey].(string)
			if !ok {
				return nil, errors.Errorf("%s value %v of %[2]T is not a string", isoformatKey, obj[isoformatKey])
			}
			return ParseISOTime(s)
		},
	},
}

func matchRule(obj map[string]interface{}) (valueRule, bool) {
	for _, rule := range valueRules {
		if rule.match(obj) {
			return rule, true
		}
	}
	return valueRule{}, false
}

var isoLayouts = []string{
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseISOTime parses an ISO-8601 date or date-time. Values without a zone
// offset are interpreted as UTC.
func ParseISOTime(s string) (time.Time, error) {
	for _, layout := range isoLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.Errorf("'%s' is not an ISO-8601 time", s)
}
