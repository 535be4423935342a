package mock

import (
	"context"
	"sync"

	"github.com/featuredemo/fdk"
)

// Response is one scripted reply of a Session.
type Response struct {
	Records []fdk.Record
	Err     error
}

// Session is a scripted fdk.Session. Each Poll returns the next Response;
// once they are used up every Poll returns no records.
type Session struct {
	Responses  []Response
	ReleaseErr error

	mu       sync.Mutex
	polls    int
	releases int
}

// NewSession returns a Session which replies with each batch in turn.
func NewSession(batches ...[]fdk.Record) *Session {
	s := &Session{}
	for _, b := range batches {
		s.Responses = append(s.Responses, Response{Records: b})
	}
	return s
}

// Poll implements fdk.Poller.
func (s *Session) Poll(ctx context.Context) ([]fdk.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.polls
	s.polls++
	if i >= len(s.Responses) {
		return []fdk.Record{}, nil
	}
	return s.Responses[i].Records, s.Responses[i].Err
}

// Release implements fdk.Session.
func (s *Session) Release(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releases++
	return s.ReleaseErr
}

// Polls returns the number of calls to Poll.
func (s *Session) Polls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.polls
}

// Releases returns the number of calls to Release.
func (s *Session) Releases() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.releases
}
