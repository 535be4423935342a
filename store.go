package fdk

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// FeatureStore ties a registry, an online store and an optional offline store
// together behind the operations used by the demo: apply, teardown,
// materialization, online writes and online/historical lookups.
type FeatureStore struct {
	Project string

	registry Registry
	online   OnlineStore
	offline  OfflineStore

	log   Logger
	stats Statter
	now   func() time.Time
}

// StoreOption is a functional option type for FeatureStore.
type StoreOption func(fs *FeatureStore)

// OptStoreOffline sets the offline store used for historical queries and
// materialization.
func OptStoreOffline(o OfflineStore) StoreOption {
	return func(fs *FeatureStore) {
		fs.offline = o
	}
}

// OptStoreLogger sets the store's logger.
func OptStoreLogger(l Logger) StoreOption {
	return func(fs *FeatureStore) {
		fs.log = l
	}
}

// OptStoreStatter sets the store's statter.
func OptStoreStatter(s Statter) StoreOption {
	return func(fs *FeatureStore) {
		fs.stats = s
	}
}

// OptStoreClock replaces time.Now, which is used to apply view TTLs to online
// reads.
func OptStoreClock(now func() time.Time) StoreOption {
	return func(fs *FeatureStore) {
		fs.now = now
	}
}

// NewFeatureStore returns a FeatureStore. The store takes ownership of the
// registry and stores and closes them in Close.
func NewFeatureStore(project string, registry Registry, online OnlineStore, opts ...StoreOption) *FeatureStore {
	fs := &FeatureStore{
		Project:  project,
		registry: registry,
		online:   online,
		log:      NopLogger{},
		stats:    NopStatter{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(fs)
	}
	return fs
}

// Apply validates and registers entities and feature views. Views may refer
// to entities registered by an earlier Apply.
func (fs *FeatureStore) Apply(ctx context.Context, entities []*Entity, views []*FeatureView) error {
	_, known, err := fs.resolved()
	if err != nil {
		return errors.Wrap(err, "loading registry")
	}
	seen := make(map[string]bool)
	for _, e := range entities {
		if e.Name == "" {
			return errors.New("entity with empty name")
		}
		if seen[e.Name] {
			return errors.Errorf("entity '%s' declared twice", e.Name)
		}
		seen[e.Name] = true
		known[e.Name] = e
	}
	seen = make(map[string]bool)
	for _, v := range views {
		if v.Name == "" {
			return errors.New("feature view with empty name")
		}
		if seen[v.Name] {
			return errors.Errorf("feature view '%s' declared twice", v.Name)
		}
		seen[v.Name] = true
		if err := v.Resolve(known); err != nil {
			return err
		}
		if v.Online && v.TimestampField() == "" {
			return errors.Errorf("online feature view '%s' has no batch timestamp field", v.Name)
		}
	}
	for _, e := range entities {
		if err := fs.registry.ApplyEntity(e); err != nil {
			return errors.Wrapf(err, "applying entity '%s'", e.Name)
		}
		fs.log.Printf("applied entity %s", e.Name)
	}
	for _, v := range views {
		if err := fs.registry.ApplyFeatureView(v); err != nil {
			return errors.Wrapf(err, "applying feature view '%s'", v.Name)
		}
		fs.log.Printf("applied feature view %s", v.Name)
	}
	return nil
}

// Teardown removes the online rows of every registered view, then empties
// the registry.
func (fs *FeatureStore) Teardown(ctx context.Context) error {
	views, err := fs.registry.FeatureViews()
	if err != nil {
		return errors.Wrap(err, "listing feature views")
	}
	names := make([]string, len(views))
	for i, v := range views {
		names[i] = v.Name
	}
	if err := fs.online.Teardown(ctx, names); err != nil {
		return errors.Wrap(err, "tearing down online store")
	}
	fs.log.Printf("removed online rows of %d feature views", len(names))
	return errors.Wrap(fs.registry.Teardown(), "tearing down registry")
}

// MaterializeIncremental copies the latest offline rows of every online view
// with a postgres batch source into the online store. Each view is
// materialized from where the previous run stopped (or from end minus the
// view's TTL) up to end.
func (fs *FeatureStore) MaterializeIncremental(ctx context.Context, end time.Time) error {
	if fs.offline == nil {
		return errors.New("materialization needs an offline store")
	}
	views, _, err := fs.resolved()
	if err != nil {
		return errors.Wrap(err, "loading registry")
	}
	for _, name := range sortedViewNames(views) {
		view := views[name]
		batch := view.Source.Batch()
		if !view.Online || batch == nil || batch.Kind != PostgresSourceKind {
			fs.log.Debugf("skipping materialization of %s", name)
			continue
		}
		start, ok, err := fs.registry.MaterializedUntil(name)
		if err != nil {
			return errors.Wrapf(err, "getting materialization state of '%s'", name)
		}
		if !ok {
			start = end.Add(-view.TTL)
		}
		if !start.Before(end) {
			fs.log.Printf("%s is already materialized until %s", name, start.Format(time.RFC3339))
			continue
		}
		table, err := fs.offline.PullLatest(ctx, view, start, end)
		if err != nil {
			return errors.Wrapf(err, "pulling latest rows of '%s'", name)
		}
		fs.log.Printf("materializing %s from %s to %s: %d rows", name, start.Format(time.RFC3339), end.Format(time.RFC3339), table.Len())
		if table.Len() > 0 {
			if err := fs.writeTable(ctx, view, table); err != nil {
				return errors.Wrapf(err, "writing '%s'", name)
			}
		}
		if err := fs.registry.SetMaterializedUntil(name, end); err != nil {
			return errors.Wrapf(err, "recording materialization of '%s'", name)
		}
	}
	return nil
}

// WriteToOnlineStore upserts the rows of table into the online store under
// the named view. Rows are keyed by the view's join keys and ordered by its
// batch timestamp columns, so writing the same table twice leaves the store
// unchanged.
func (fs *FeatureStore) WriteToOnlineStore(ctx context.Context, view string, table *FeatureTable) error {
	views, _, err := fs.resolved()
	if err != nil {
		return errors.Wrap(err, "loading registry")
	}
	v, ok := views[view]
	if !ok {
		return errors.Wrapf(ErrNotFound, "feature view '%s'", view)
	}
	return fs.writeTable(ctx, v, table)
}

func (fs *FeatureStore) writeTable(ctx context.Context, view *FeatureView, table *FeatureTable) error {
	rows, err := OnlineRows(view, table)
	if err != nil {
		return errors.Wrap(err, "converting table")
	}
	start := time.Now()
	if err := fs.online.OnlineWrite(ctx, view.Name, rows); err != nil {
		return errors.Wrap(err, "writing online rows")
	}
	fs.stats.Timing("online.write", time.Since(start), 1)
	fs.stats.Count("online.rows", int64(len(rows)), 1)
	return nil
}

// OnlineRows converts the rows of a table into online rows of view.
func OnlineRows(view *FeatureView, table *FeatureTable) ([]*OnlineRow, error) {
	keys := view.JoinKeys()
	for _, k := range keys {
		if !table.Has(k) {
			return nil, &SchemaMismatchError{Column: k}
		}
	}
	tsCol := view.TimestampField()
	if !table.Has(tsCol) {
		return nil, &SchemaMismatchError{Column: tsCol}
	}
	createdCol := view.CreatedTimestampColumn()
	features := make([]string, 0)
	for _, f := range view.Features() {
		if table.Has(f) {
			features = append(features, f)
		}
	}
	rows := make([]*OnlineRow, table.Len())
	for i := range rows {
		vals := make([]interface{}, len(keys))
		for j, k := range keys {
			vals[j] = table.Values[k][i]
		}
		row := &OnlineRow{
			Key:      EntityKey{JoinKeys: keys, Values: vals},
			Features: make(map[string]interface{}, len(features)),
		}
		var err error
		row.EventTimestamp, err = toTime(table.Values[tsCol][i])
		if err != nil {
			return nil, errors.Wrapf(err, "row %d column '%s'", i, tsCol)
		}
		if createdCol != "" && table.Has(createdCol) {
			row.CreatedTimestamp, err = toTime(table.Values[createdCol][i])
			if err != nil {
				return nil, errors.Wrapf(err, "row %d column '%s'", i, createdCol)
			}
		}
		for _, f := range features {
			row.Features[f] = table.Values[f][i]
		}
		rows[i] = row
	}
	return rows, nil
}

// GetOnlineFeatures looks up features ("<view>:<feature>") for each entity
// row. Entity rows may be keyed by join key or by entity name. The result has
// the join keys followed by the features, with nil for entities which have
// no (or only expired) values.
func (fs *FeatureStore) GetOnlineFeatures(ctx context.Context, refs []string, entityRows []map[string]interface{}) (*FeatureTable, error) {
	viewNames, byView, err := ParseFeatureRefs(refs)
	if err != nil {
		return nil, err
	}
	views, entities, err := fs.resolved()
	if err != nil {
		return nil, errors.Wrap(err, "loading registry")
	}
	rows := make([]map[string]interface{}, len(entityRows))
	for i, er := range entityRows {
		rows[i] = normalizeEntityRow(er, entities)
	}

	out := NewFeatureTable()
	lookups := make([]*FeatureView, 0, len(viewNames))
	for _, name := range viewNames {
		view, ok := views[name]
		if !ok {
			return nil, errors.Wrapf(ErrNotFound, "feature view '%s'", name)
		}
		for _, f := range byView[name] {
			if !view.HasFeature(f) {
				return nil, errors.Wrapf(ErrNotFound, "feature '%s' of view '%s'", f, name)
			}
		}
		for _, k := range view.JoinKeys() {
			if out.Has(k) {
				continue
			}
			vals := make([]interface{}, len(rows))
			for i, row := range rows {
				v, ok := row[k]
				if !ok {
					return nil, &SchemaMismatchError{Record: i, Column: k}
				}
				vals[i] = v
			}
			if err := out.AddColumn(k, vals); err != nil {
				return nil, err
			}
		}
		lookups = append(lookups, view)
	}

	now := fs.now()
	for _, view := range lookups {
		keys := make([]EntityKey, len(rows))
		for i := range rows {
			vals := make([]interface{}, len(view.JoinKeys()))
			for j, k := range view.JoinKeys() {
				vals[j] = out.Values[k][i]
			}
			keys[i] = EntityKey{JoinKeys: view.JoinKeys(), Values: vals}
		}
		stored, err := fs.online.OnlineRead(ctx, view.Name, keys)
		if err != nil {
			return nil, errors.Wrapf(err, "reading '%s'", view.Name)
		}
		for _, f := range byView[view.Name] {
			vals := make([]interface{}, len(rows))
			for i, row := range stored {
				if row == nil || (view.TTL > 0 && row.EventTimestamp.Before(now.Add(-view.TTL))) {
					continue
				}
				vals[i] = row.Features[f]
			}
			if err := out.AddColumn(f, vals); err != nil {
				return nil, errors.Wrapf(err, "adding feature from '%s'", view.Name)
			}
		}
	}
	return out, nil
}

// GetHistoricalFeatures returns the entity table with the requested features
// added, each as of the time in the entity table's timestamp column. The
// timestamp column is the only column whose values are all times.
func (fs *FeatureStore) GetHistoricalFeatures(ctx context.Context, entities *FeatureTable, refs []string) (*FeatureTable, error) {
	if fs.offline == nil {
		return nil, errors.New("historical queries need an offline store")
	}
	viewNames, byView, err := ParseFeatureRefs(refs)
	if err != nil {
		return nil, err
	}
	tsCol, err := timestampColumn(entities)
	if err != nil {
		return nil, err
	}
	views, _, err := fs.resolved()
	if err != nil {
		return nil, errors.Wrap(err, "loading registry")
	}
	out := NewFeatureTable()
	for _, c := range entities.Columns {
		if err := out.AddColumn(c, entities.Values[c]); err != nil {
			return nil, err
		}
	}
	for _, name := range viewNames {
		view, ok := views[name]
		if !ok {
			return nil, errors.Wrapf(ErrNotFound, "feature view '%s'", name)
		}
		for _, f := range byView[name] {
			if !view.HasFeature(f) {
				return nil, errors.Wrapf(ErrNotFound, "feature '%s' of view '%s'", f, name)
			}
		}
		res, err := fs.offline.PointInTime(ctx, view, byView[name], entities, tsCol)
		if err != nil {
			return nil, errors.Wrapf(err, "point in time join of '%s'", name)
		}
		for _, f := range byView[name] {
			if err := out.AddColumn(f, res.Column(f)); err != nil {
				return nil, errors.Wrapf(err, "adding feature from '%s'", name)
			}
		}
	}
	return out, nil
}

// Close closes the registry and the stores.
func (fs *FeatureStore) Close() error {
	errs := make([]string, 0)
	if err := fs.online.Close(); err != nil {
		errs = append(errs, "closing online store: "+err.Error())
	}
	if fs.offline != nil {
		if err := fs.offline.Close(); err != nil {
			errs = append(errs, "closing offline store: "+err.Error())
		}
	}
	if err := fs.registry.Close(); err != nil {
		errs = append(errs, "closing registry: "+err.Error())
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// resolved loads the registered views and entities and resolves each view's
// join keys.
func (fs *FeatureStore) resolved() (map[string]*FeatureView, map[string]*Entity, error) {
	ents, err := fs.registry.Entities()
	if err != nil {
		return nil, nil, errors.Wrap(err, "listing entities")
	}
	entities := make(map[string]*Entity, len(ents))
	for _, e := range ents {
		entities[e.Name] = e
	}
	vs, err := fs.registry.FeatureViews()
	if err != nil {
		return nil, nil, errors.Wrap(err, "listing feature views")
	}
	views := make(map[string]*FeatureView, len(vs))
	for _, v := range vs {
		if err := v.Resolve(entities); err != nil {
			return nil, nil, err
		}
		views[v.Name] = v
	}
	return views, entities, nil
}

func normalizeEntityRow(row map[string]interface{}, entities map[string]*Entity) map[string]interface{} {
	out := make(map[string]interface{}, len(row))
	for k, v := range row {
		out[k] = v
	}
	for k, v := range row {
		if e, ok := entities[k]; ok {
			if _, exists := out[e.JoinKey()]; !exists {
				out[e.JoinKey()] = v
			}
		}
	}
	return out
}

func timestampColumn(t *FeatureTable) (string, error) {
	found := make([]string, 0, 1)
	for _, c := range t.Columns {
		vals := t.Values[c]
		if len(vals) == 0 {
			continue
		}
		all := true
		for _, v := range vals {
			if _, ok := v.(time.Time); !ok {
				all = false
				break
			}
		}
		if all {
			found = append(found, c)
		}
	}
	if len(found) != 1 {
		return "", errors.Errorf("entity table needs exactly one timestamp column, found %v", found)
	}
	return found[0], nil
}

func sortedViewNames(views map[string]*FeatureView) []string {
	names := make([]string, 0, len(views))
	for n := range views {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// toTime converts epoch seconds (as stored in UnixTimestamp columns), time
// values and ISO-8601 strings to a UTC time.
func toTime(val interface{}) (time.Time, error) {
	switch vt := val.(type) {
	case time.Time:
		return vt.UTC(), nil
	case string:
		return ParseISOTime(vt)
	case nil:
		return time.Time{}, errors.New("missing timestamp")
	default:
		f, err := toFloat64(val)
		if err != nil {
			return time.Time{}, err
		}
		sec, frac := math.Modf(f)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC(), nil
	}
}
