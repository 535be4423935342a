package mock

import (
	"context"
	"sync"

	"github.com/featuredemo/fdk"
)

// OnlineStore is an in memory fdk.OnlineStore.
type OnlineStore struct {
	mu     sync.Mutex
	rows   map[string]map[string]*fdk.OnlineRow
	Writes int
	Closed bool

	// WriteErr, if set, is returned by every OnlineWrite.
	WriteErr error
}

// NewOnlineStore returns an empty OnlineStore.
func NewOnlineStore() *OnlineStore {
	return &OnlineStore{rows: make(map[string]map[string]*fdk.OnlineRow)}
}

// OnlineWrite implements fdk.OnlineStore.
func (s *OnlineStore) OnlineWrite(ctx context.Context, view string, rows []*fdk.OnlineRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.WriteErr != nil {
		return s.WriteErr
	}
	s.Writes++
	vrows, ok := s.rows[view]
	if !ok {
		vrows = make(map[string]*fdk.OnlineRow)
		s.rows[view] = vrows
	}
	for _, row := range rows {
		key := row.Key.String()
		if row.Supersedes(vrows[key]) {
			vrows[key] = copyRow(row)
		}
	}
	return nil
}

// OnlineRead implements fdk.OnlineStore.
func (s *OnlineStore) OnlineRead(ctx context.Context, view string, keys []fdk.EntityKey) ([]*fdk.OnlineRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*fdk.OnlineRow, len(keys))
	for i, k := range keys {
		if row, ok := s.rows[view][k.String()]; ok {
			out[i] = copyRow(row)
		}
	}
	return out, nil
}

// Teardown implements fdk.OnlineStore.
func (s *OnlineStore) Teardown(ctx context.Context, views []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range views {
		delete(s.rows, v)
	}
	return nil
}

// Close implements fdk.OnlineStore.
func (s *OnlineStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed = true
	return nil
}

// Len returns the number of rows stored for view.
func (s *OnlineStore) Len(view string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows[view])
}

func copyRow(row *fdk.OnlineRow) *fdk.OnlineRow {
	c := *row
	c.Key.JoinKeys = append([]string(nil), row.Key.JoinKeys...)
	c.Key.Values = append([]interface{}(nil), row.Key.Values...)
	c.Features = make(map[string]interface{}, len(row.Features))
	for k, v := range row.Features {
		c.Features[k] = v
	}
	return &c
}

// Writer is an fdk.OnlineWriter which records the tables it is handed.
type Writer struct {
	mu     sync.Mutex
	Tables []*fdk.FeatureTable
	Views  []string
	Err    error
}

// WriteToOnlineStore implements fdk.OnlineWriter.
func (w *Writer) WriteToOnlineStore(ctx context.Context, view string, table *fdk.FeatureTable) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.Err != nil {
		return w.Err
	}
	w.Views = append(w.Views, view)
	w.Tables = append(w.Tables, table)
	return nil
}
