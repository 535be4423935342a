// Package fake generates simulated user traffic for the demo topic.
package fake

import (
	"math/rand"
	"strconv"
	"sync"
	"time"
)

// Events are the page events a TrafficEvent can carry.
var Events = []string{"home_page", "listing_page", "product_page", "photo_page", "order_page"}

// TrafficEvent is one page event of a user session, shaped like the
// messages of the traffic topic.
type TrafficEvent struct {
	UserID                  int64  `json:"user_id"`
	TrafficID               string `json:"traffic_id"`
	Event                   string `json:"event"`
	SessionListingPageViews int64  `json:"session_listing_page_views"`
	SessionProductPageViews int64  `json:"session_product_page_views"`
	SessionPhotoPageViews   int64  `json:"session_photo_page_views"`

	// Timestamp is in milliseconds since the epoch.
	Timestamp int64 `json:"timestamp"`
}

// Time returns the event's timestamp.
func (e *TrafficEvent) Time() time.Time {
	return time.UnixMilli(e.Timestamp).UTC()
}

// TrafficGenerator generates events for a fixed population of users. A few
// users produce most of the traffic and timestamps never decrease. It is
// safe for concurrent use.
type TrafficGenerator struct {
	mu       sync.Mutex
	r        *rand.Rand
	users    *rand.Zipf
	now      time.Time
	maxDelta time.Duration
}

// NewTrafficGenerator returns a generator for users users whose first event
// happens at or shortly after start. Generators with the same seed produce
// the same events.
func NewTrafficGenerator(seed int64, users int, start time.Time) *TrafficGenerator {
	if users < 2 {
		users = 2
	}
	r := rand.New(rand.NewSource(seed))
	// rand.Zipf generates values in [0, imax]
	imax := uint64(users) - 1
	v := 0.05 * float64(imax)
	if v < 1.0 {
		v = 1.0
	}
	return &TrafficGenerator{
		r:        r,
		users:    rand.NewZipf(r, 1.1, v, imax),
		now:      start,
		maxDelta: 3 * time.Second,
	}
}

// Event generates the next event.
func (g *TrafficGenerator) Event() *TrafficEvent {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.now = g.now.Add(time.Duration(g.r.Int63n(int64(g.maxDelta))))
	return &TrafficEvent{
		UserID:                  int64(g.users.Uint64()),
		TrafficID:               strconv.Itoa(g.r.Intn(20000)),
		Event:                   Events[g.r.Intn(len(Events))],
		SessionListingPageViews: g.r.Int63n(20),
		SessionProductPageViews: g.r.Int63n(10),
		SessionPhotoPageViews:   g.r.Int63n(30),
		Timestamp:               g.now.UnixMilli(),
	}
}
