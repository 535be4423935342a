package fdk

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ValueType is the type of an entity key or feature.
type ValueType string

const (
	Int64         ValueType = "INT64"
	Float64       ValueType = "FLOAT64"
	String        ValueType = "STRING"
	Bool          ValueType = "BOOL"
	UnixTimestamp ValueType = "UNIX_TIMESTAMP"
)

// Entity is a named join key identifying a real world object.
type Entity struct {
	Name        string    `json:"name"`
	ValueType   ValueType `json:"value_type"`
	JoinKeys    []string  `json:"join_keys"`
	Description string    `json:"description,omitempty"`
}

// JoinKey returns the entity's join key. Entities without explicit join keys
// are joined on their name.
func (e *Entity) JoinKey() string {
	if len(e.JoinKeys) == 0 {
		return e.Name
	}
	return e.JoinKeys[0]
}

// Field is a typed column of a feature view.
type Field struct {
	Name  string    `json:"name"`
	Dtype ValueType `json:"dtype"`
}

// SourceKind distinguishes the supported data sources.
type SourceKind string

const (
	PostgresSourceKind SourceKind = "postgres"
	KafkaSourceKind    SourceKind = "kafka"
)

// DataSource describes where the rows of a feature view come from. Postgres
// sources are queried by offline stores. Kafka sources describe a stream and
// carry the batch source used for materialization and online writes.
type DataSource struct {
	Kind                   SourceKind `json:"kind"`
	Name                   string     `json:"name"`
	Query                  string     `json:"query,omitempty"`
	TimestampField         string     `json:"timestamp_field"`
	CreatedTimestampColumn string     `json:"created_timestamp_column,omitempty"`

	BootstrapServers        string        `json:"bootstrap_servers,omitempty"`
	Topic                   string        `json:"topic,omitempty"`
	MessageFormat           string        `json:"message_format,omitempty"`
	SchemaJSON              string        `json:"schema_json,omitempty"`
	WatermarkDelayThreshold time.Duration `json:"watermark_delay_threshold,omitempty"`
	BatchSource             *DataSource   `json:"batch_source,omitempty"`
}

// PostgreSQLSource returns a query backed source.
func PostgreSQLSource(name, query, timestampField, createdTimestampColumn string) *DataSource {
	return &DataSource{
		Kind:                   PostgresSourceKind,
		Name:                   name,
		Query:                  query,
		TimestampField:         timestampField,
		CreatedTimestampColumn: createdTimestampColumn,
	}
}

// KafkaSource returns a stream source reading JSON messages from topic.
func KafkaSource(name, bootstrapServers, topic, timestampField, schemaJSON string, watermarkDelay time.Duration, batch *DataSource) *DataSource {
	return &DataSource{
		Kind:                    KafkaSourceKind,
		Name:                    name,
		TimestampField:          timestampField,
		BootstrapServers:        bootstrapServers,
		Topic:                   topic,
		MessageFormat:           "json",
		SchemaJSON:              schemaJSON,
		WatermarkDelayThreshold: watermarkDelay,
		BatchSource:             batch,
	}
}

// Batch returns the source used for offline queries: the source itself for
// postgres sources, the batch source of a stream source.
func (s *DataSource) Batch() *DataSource {
	if s == nil {
		return nil
	}
	if s.Kind == KafkaSourceKind {
		return s.BatchSource
	}
	return s
}

// FeatureView is a named grouping of features tied to entities and a source.
type FeatureView struct {
	Name     string            `json:"name"`
	Entities []string          `json:"entities"`
	TTL      time.Duration     `json:"ttl"`
	Schema   []Field           `json:"schema"`
	Online   bool              `json:"online"`
	Source   *DataSource       `json:"source"`
	Tags     map[string]string `json:"tags,omitempty"`

	// joinKeys is resolved from Entities by the registry.
	joinKeys []string
}

// JoinKeys returns the join keys of the view's entities in entity order. It
// is only populated once the view has been resolved against its entities.
func (v *FeatureView) JoinKeys() []string {
	return v.joinKeys
}

// Resolve looks up the view's entities and records their join keys.
func (v *FeatureView) Resolve(entities map[string]*Entity) error {
	keys := make([]string, 0, len(v.Entities))
	for _, name := range v.Entities {
		e, ok := entities[name]
		if !ok {
			return errors.Wrapf(ErrNotFound, "entity '%s' of feature view '%s'", name, v.Name)
		}
		keys = append(keys, e.JoinKey())
	}
	v.joinKeys = keys
	return nil
}

// TimestampField returns the batch timestamp field, used to order rows in
// the online store.
func (v *FeatureView) TimestampField() string {
	if b := v.Source.Batch(); b != nil {
		return b.TimestampField
	}
	return ""
}

// CreatedTimestampColumn returns the batch created timestamp column.
func (v *FeatureView) CreatedTimestampColumn() string {
	if b := v.Source.Batch(); b != nil {
		return b.CreatedTimestampColumn
	}
	return ""
}

// Features returns the names of the schema fields which are not join keys.
func (v *FeatureView) Features() []string {
	isKey := make(map[string]bool, len(v.joinKeys))
	for _, k := range v.joinKeys {
		isKey[k] = true
	}
	names := make([]string, 0, len(v.Schema))
	for _, f := range v.Schema {
		if !isKey[f.Name] {
			names = append(names, f.Name)
		}
	}
	return names
}

// HasFeature reports whether name is a non key field of the view.
func (v *FeatureView) HasFeature(name string) bool {
	for _, f := range v.Features() {
		if f == name {
			return true
		}
	}
	return false
}

// FeatureRef names one feature of one feature view.
type FeatureRef struct {
	View    string
	Feature string
}

func (r FeatureRef) String() string { return r.View + ":" + r.Feature }

// ParseFeatureRef parses a "<view>:<feature>" reference.
func ParseFeatureRef(s string) (FeatureRef, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return FeatureRef{}, errors.Errorf("invalid feature reference '%s', expected <view>:<feature>", s)
	}
	return FeatureRef{View: parts[0], Feature: parts[1]}, nil
}

// ParseFeatureRefs parses every reference and groups them by view, keeping
// the order in which views and features first appear.
func ParseFeatureRefs(refs []string) ([]string, map[string][]string, error) {
	views := make([]string, 0)
	byView := make(map[string][]string)
	for _, s := range refs {
		ref, err := ParseFeatureRef(s)
		if err != nil {
			return nil, nil, err
		}
		if _, ok := byView[ref.View]; !ok {
			views = append(views, ref.View)
		}
		byView[ref.View] = append(byView[ref.View], ref.Feature)
	}
	return views, byView, nil
}
