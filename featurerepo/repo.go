// Package featurerepo declares the entities, sources and feature views of the
// traffic demo, wires them to the stores named in an fdk.Config, and holds
// the commands which operate on the repo.
package featurerepo

import (
	"strings"
	"time"

	"github.com/featuredemo/fdk"
)

// Feature view names.
const (
	OrderDetails = "order_details"
	UserTraffic  = "user_traffic"
)

// TTL of both feature views.
const TTL = 1000 * 24 * time.Hour

// UserTrafficVector is the feature vector read back after ingesting traffic.
var UserTrafficVector = []string{
	"user_traffic:event",
	"user_traffic:event_event_timestamp",
	"user_traffic:session_listing_page_views",
	"user_traffic:session_product_page_views",
	"user_traffic:session_photo_page_views",
}

// ModelVector is the feature vector used for training.
var ModelVector = []string{
	"order_details:country",
	"order_details:platform",
	"user_traffic:event",
	"user_traffic:event_event_timestamp",
}

const ordersQuery = `
SELECT
  o.user_id    user_id,
  o.order_id   order_id,
  to_timestamp(o.timestamp/1000)  user_event_timestamp,
  to_timestamp(o.timestamp/1000)  user_created_timestamp,
  u.country    country,
  u.platform   platform
FROM
(SELECT user_id, order_id, timestamp FROM orders) o
JOIN (SELECT user_id, country, platform FROM users) u
ON o.user_id = u.user_id`

// batchTrafficQuery has the columns of the traffic stream and no rows: the
// stream is only ever written to the online store.
const batchTrafficQuery = `
SELECT
  user_id   user_id,
  ''   event,
  to_timestamp(timestamp/1000)  event_event_timestamp,
  to_timestamp(timestamp/1000)  event_created_timestamp,
  '' traffic_id,
  0 session_listing_page_views,
  0 session_product_page_views,
  0 session_photo_page_views
FROM
orders where 1=0`

const trafficSchemaJSON = "user_id string, event string, event_event_timestamp timestamp, event_created_timestamp timestamp, " +
	"traffic_id string, session_listing_page_views int, session_product_page_views int, " +
	"session_photo_page_views int"

// Entities returns the user, order and traffic entities.
func Entities() []*fdk.Entity {
	return []*fdk.Entity{
		{Name: "user", ValueType: fdk.Int64, JoinKeys: []string{"user_id"}, Description: "user id"},
		{Name: "order", ValueType: fdk.Int64, JoinKeys: []string{"order_id"}, Description: "order id"},
		{Name: "traffic", ValueType: fdk.Int64, JoinKeys: []string{"traffic_id"}, Description: "traffic id"},
	}
}

// FeatureViews returns the order details and user traffic views. The
// traffic stream points at the brokers of cfg.
func FeatureViews(cfg *fdk.Config) []*fdk.FeatureView {
	orders := fdk.PostgreSQLSource("orders", ordersQuery, "user_event_timestamp", "user_created_timestamp")
	batchTraffic := fdk.PostgreSQLSource("batch_traffic", batchTrafficQuery, "event_event_timestamp", "event_created_timestamp")
	traffic := fdk.KafkaSource("traffic", strings.Join(cfg.KafkaBootstrapServers, ","), "traffic", "timestamp",
		trafficSchemaJSON, 5*time.Minute, batchTraffic)

	return []*fdk.FeatureView{
		{
			Name:     OrderDetails,
			Entities: []string{"user", "order"},
			TTL:      TTL,
			Schema: []fdk.Field{
				{Name: "order_id", Dtype: fdk.Int64},
				{Name: "user_id", Dtype: fdk.Int64},
				{Name: "country", Dtype: fdk.String},
				{Name: "platform", Dtype: fdk.String},
			},
			Online: true,
			Source: orders,
			Tags:   map[string]string{},
		},
		{
			Name:     UserTraffic,
			Entities: []string{"user", "traffic"},
			TTL:      TTL,
			Schema: []fdk.Field{
				{Name: "user_id", Dtype: fdk.String},
				{Name: "traffic_id", Dtype: fdk.String},
				{Name: "event", Dtype: fdk.String},
				{Name: "event_event_timestamp", Dtype: fdk.UnixTimestamp},
				{Name: "event_created_timestamp", Dtype: fdk.UnixTimestamp},
				{Name: "session_listing_page_views", Dtype: fdk.Int64},
				{Name: "session_product_page_views", Dtype: fdk.Int64},
				{Name: "session_photo_page_views", Dtype: fdk.Int64},
			},
			Online: true,
			Source: traffic,
			Tags:   map[string]string{},
		},
	}
}
