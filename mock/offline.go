package mock

import (
	"context"
	"time"

	"github.com/featuredemo/fdk"
)

// Pull records the arguments of a PullLatest call.
type Pull struct {
	View       string
	Start, End time.Time
}

// OfflineStore is an fdk.OfflineStore answering with canned tables.
type OfflineStore struct {
	// Latest is returned by PullLatest, per view. Views without an entry
	// get an empty table.
	Latest map[string]*fdk.FeatureTable
	// Historical is returned by PointInTime, per view.
	Historical map[string]*fdk.FeatureTable

	Pulls  []Pull
	Closed bool
}

// PullLatest implements fdk.OfflineStore.
func (o *OfflineStore) PullLatest(ctx context.Context, view *fdk.FeatureView, start, end time.Time) (*fdk.FeatureTable, error) {
	o.Pulls = append(o.Pulls, Pull{View: view.Name, Start: start, End: end})
	if t, ok := o.Latest[view.Name]; ok {
		return t, nil
	}
	return fdk.NewFeatureTable(), nil
}

// PointInTime implements fdk.OfflineStore.
func (o *OfflineStore) PointInTime(ctx context.Context, view *fdk.FeatureView, features []string, entities *fdk.FeatureTable, tsColumn string) (*fdk.FeatureTable, error) {
	if t, ok := o.Historical[view.Name]; ok {
		return t, nil
	}
	out := fdk.NewFeatureTable()
	for _, f := range features {
		if err := out.AddColumn(f, make([]interface{}, entities.Len())); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Close implements fdk.OfflineStore.
func (o *OfflineStore) Close() error {
	o.Closed = true
	return nil
}
