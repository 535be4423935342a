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

package restproxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/featuredemo/fdk"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	// ContentType is sent with every request which has a body.
	ContentType = "application/vnd.kafka.json.v2+json"

	// DefaultGroupPrefix prefixes generated consumer group names.
	DefaultGroupPrefix = "feast-example-"
)

// ConsumerConfig is the body of a create consumer request.
type ConsumerConfig struct {
	Format           string `json:"format"`
	AutoOffsetReset  string `json:"auto.offset.reset"`
	AutoCommitEnable string `json:"auto.commit.enable"`
	RequestTimeoutMS int64  `json:"consumer.request.timeout.ms"`
}

// DefaultConsumerConfig reads avro records from the beginning of the topic
// and lets the proxy commit offsets. The request timeout is the largest the
// proxy accepts.
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Format:           "avro",
		AutoOffsetReset:  "earliest",
		AutoCommitEnable: "true",
		RequestTimeoutMS: 2147483647,
	}
}

// NewGroupName returns prefix followed by a random UUID.
func NewGroupName(prefix string) string {
	return prefix + uuid.New().String()
}

// Client talks to a Kafka REST proxy.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client

	// HostRewrite replaces host names in the consumer URIs returned by the
	// proxy, for proxies which report an address only reachable from
	// inside their own network.
	HostRewrite map[string]string

	Log fdk.Logger
}

// ClientOption is a functional option type for Client.
type ClientOption func(c *Client)

// OptClientHTTPClient sets the http.Client used for requests.
func OptClientHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.HTTPClient = hc
	}
}

// OptClientHostRewrite sets the host rewrite table.
func OptClientHostRewrite(rewrite map[string]string) ClientOption {
	return func(c *Client) {
		c.HostRewrite = rewrite
	}
}

// OptClientLogger sets the logger which every request is logged to.
func OptClientLogger(l fdk.Logger) ClientOption {
	return func(c *Client) {
		c.Log = l
	}
}

// NewClient returns a Client for the proxy at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: http.DefaultClient,
		Log:        fdk.NopLogger{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type createResponse struct {
	InstanceID string `json:"instance_id"`
	BaseURI    string `json:"base_uri"`
}

// CreateConsumer creates a consumer instance in group.
func (c *Client) CreateConsumer(ctx context.Context, group string, conf ConsumerConfig) (*Consumer, error) {
	if c.BaseURL == "" {
		return nil, errors.New("no consumer proxy URL configured")
	}
	body, err := c.do(ctx, http.MethodPost, c.BaseURL+"/consumers/"+url.PathEscape(group), nil, conf)
	if err != nil {
		return nil, errors.Wrap(err, "creating consumer")
	}
	resp := createResponse{}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errors.Wrap(err, "decoding create consumer response")
	}
	if resp.BaseURI == "" {
		return nil, errors.Errorf("create consumer response has no base_uri: %s", body)
	}
	base, err := c.rewrite(resp.BaseURI)
	if err != nil {
		return nil, errors.Wrap(err, "rewriting consumer URI")
	}
	c.Log.Printf("created consumer %s", base)
	return &Consumer{
		client: c,
		URI:    base,
		format: conf.Format,
	}, nil
}

func (c *Client) rewrite(uri string) (string, error) {
	if len(c.HostRewrite) == 0 {
		return uri, nil
	}
	u, err := url.Parse(uri)
	if err != nil {
		return "", err
	}
	if to, ok := c.HostRewrite[u.Hostname()]; ok {
		if port := u.Port(); port != "" {
			u.Host = to + ":" + port
		} else {
			u.Host = to
		}
	}
	return u.String(), nil
}

// do sends a request, logs the outcome and returns the response body. Any
// non 2xx status is returned as an *fdk.TransportError.
func (c *Client) do(ctx context.Context, method, u string, header http.Header, body interface{}) ([]byte, error) {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "encoding request body")
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return nil, errors.Wrap(err, "building request")
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", ContentType)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", method, u)
	}
	defer resp.Body.Close()
	c.Log.Printf("HTTP request (url: %s, method: %s) returned %d", u, method, resp.StatusCode)
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "reading response body")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &fdk.TransportError{
			Method:     method,
			URL:        u,
			StatusCode: resp.StatusCode,
			Body:       string(data),
		}
	}
	return data, nil
}

// Consumer is a consumer instance on the proxy. It implements fdk.Session.
type Consumer struct {
	URI string

	client *Client
	format string

	mu       sync.Mutex
	released bool
}

var _ fdk.Session = &Consumer{}

// Subscribe subscribes the consumer to topics.
func (c *Consumer) Subscribe(ctx context.Context, topics ...string) error {
	_, err := c.client.do(ctx, http.MethodPost, c.URI+"/subscription", nil, struct {
		Topics []string `json:"topics"`
	}{Topics: topics})
	return errors.Wrap(err, "subscribing")
}

// Poll fetches the records currently available to the consumer.
func (c *Consumer) Poll(ctx context.Context) ([]fdk.Record, error) {
	header := http.Header{}
	header.Set("Accept", fmt.Sprintf("application/vnd.kafka.%s.v2+json", c.format))
	body, err := c.client.do(ctx, http.MethodGet, c.URI+"/records", header, nil)
	if err != nil {
		return nil, errors.Wrap(err, "fetching records")
	}
	recs, err := fdk.DecodeRecords(body)
	return recs, errors.Wrap(err, "decoding records")
}

// Release deletes the consumer instance. Only the first call sends a
// request.
func (c *Consumer) Release(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return nil
	}
	c.released = true
	_, err := c.client.do(ctx, http.MethodDelete, c.URI, nil, nil)
	return errors.Wrap(err, "deleting consumer")
}
