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

// Package kafka reads feature events straight from Kafka brokers. Source is
// an fdk.Session, so the same Ingester that drains the REST proxy can drain a
// topic through sarama.
package kafka

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/Shopify/sarama"
	"github.com/featuredemo/fdk"
	"github.com/pkg/errors"
)

// Message formats.
const (
	JSON = "json"
	Avro = "avro"
)

// SourceOption is a functional option type for kafka.Source.
type SourceOption func(s *Source)

// OptSourceFormat sets the message format, JSON or Avro.
func OptSourceFormat(format string) SourceOption {
	return func(s *Source) {
		s.format = format
	}
}

// OptSourceRegistry sets the schema registry used to decode Avro messages.
func OptSourceRegistry(r *Registry) SourceOption {
	return func(s *Source) {
		s.registry = r
	}
}

// OptSourcePollTimeout sets how long Poll waits for a first message before
// returning an empty batch.
func OptSourcePollTimeout(d time.Duration) SourceOption {
	return func(s *Source) {
		s.pollTimeout = d
	}
}

// OptSourceMaxBatch caps the number of records returned by one Poll.
func OptSourceMaxBatch(n int) SourceOption {
	return func(s *Source) {
		s.maxBatch = n
	}
}

// OptSourceOffset sets the offset each partition is consumed from,
// sarama.OffsetOldest by default.
func OptSourceOffset(offset int64) SourceOption {
	return func(s *Source) {
		s.offset = offset
	}
}

func OptSourceLogger(l fdk.Logger) SourceOption {
	return func(s *Source) {
		s.log = l
	}
}

// Source consumes every partition of one topic.
type Source struct {
	topic       string
	format      string
	registry    *Registry
	pollTimeout time.Duration
	maxBatch    int
	offset      int64
	log         fdk.Logger

	consumer     sarama.Consumer
	ownsConsumer bool
	partitions   []sarama.PartitionConsumer
	messages     chan *sarama.ConsumerMessage
	errs         chan error
	done         chan struct{}
	wg           sync.WaitGroup

	mu       sync.Mutex
	released bool
}

// NewConfig returns the sarama configuration used by Dial.
func NewConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Version = sarama.V2_0_0_0
	config.ClientID = "fdk"
	config.Consumer.Return.Errors = true
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	return config
}

// Dial connects to the brokers at hosts and starts consuming topic. The
// connection is closed by Release.
func Dial(hosts []string, topic string, opts ...SourceOption) (*Source, error) {
	consumer, err := sarama.NewConsumer(hosts, NewConfig())
	if err != nil {
		return nil, errors.Wrap(err, "getting new consumer")
	}
	s, err := NewSource(consumer, topic, opts...)
	if err != nil {
		consumer.Close()
		return nil, err
	}
	s.ownsConsumer = true
	return s, nil
}

// NewSource starts consuming every partition of topic with consumer. The
// caller keeps ownership of consumer.
func NewSource(consumer sarama.Consumer, topic string, opts ...SourceOption) (*Source, error) {
	s := &Source{
		topic:       topic,
		format:      JSON,
		pollTimeout: time.Second,
		maxBatch:    1000,
		offset:      sarama.OffsetOldest,
		log:         fdk.NopLogger{},
		consumer:    consumer,
		messages:    make(chan *sarama.ConsumerMessage, 256),
		errs:        make(chan error, 1),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	switch s.format {
	case JSON:
	case Avro:
		if s.registry == nil {
			return nil, errors.New("avro messages need a schema registry")
		}
	default:
		return nil, errors.Errorf("unsupported kafka message format: '%v'", s.format)
	}

	partitions, err := consumer.Partitions(topic)
	if err != nil {
		return nil, errors.Wrapf(err, "getting partitions of '%s'", topic)
	}
	for _, p := range partitions {
		pc, err := consumer.ConsumePartition(topic, p, s.offset)
		if err != nil {
			s.closePartitions()
			return nil, errors.Wrapf(err, "consuming partition %d of '%s'", p, topic)
		}
		s.partitions = append(s.partitions, pc)
	}
	for _, pc := range s.partitions {
		s.wg.Add(1)
		go s.forward(pc)
	}
	s.log.Printf("consuming %d partitions of '%s'", len(s.partitions), topic)
	return s, nil
}

// forward moves the messages and errors of one partition into the source's
// channels until the source is released.
func (s *Source) forward(pc sarama.PartitionConsumer) {
	defer s.wg.Done()
	msgs, errs := pc.Messages(), pc.Errors()
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			select {
			case s.messages <- msg:
			case <-s.done:
				return
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			select {
			case s.errs <- err:
			case <-s.done:
				return
			}
		}
	}
}

// Poll waits up to the poll timeout for a message and returns it along with
// any messages already buffered. It returns an empty batch if nothing
// arrived in time.
func (s *Source) Poll(ctx context.Context) ([]fdk.Record, error) {
	s.mu.Lock()
	released := s.released
	s.mu.Unlock()
	if released {
		return nil, fdk.ErrSessionReleased
	}

	timer := time.NewTimer(s.pollTimeout)
	defer timer.Stop()
	msgs := make([]*sarama.ConsumerMessage, 0)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-s.errs:
		return nil, errors.Wrap(err, "consuming")
	case <-timer.C:
		return []fdk.Record{}, nil
	case msg := <-s.messages:
		msgs = append(msgs, msg)
	}
collect:
	for len(msgs) < s.maxBatch {
		select {
		case msg := <-s.messages:
			msgs = append(msgs, msg)
		default:
			break collect
		}
	}

	recs := make([]fdk.Record, 0, len(msgs))
	for _, msg := range msgs {
		rec, err := s.decode(ctx, msg)
		if err != nil {
			return nil, errors.Wrapf(err, "decoding message at offset %d of partition %d", msg.Offset, msg.Partition)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func (s *Source) decode(ctx context.Context, msg *sarama.ConsumerMessage) (fdk.Record, error) {
	rec := fdk.Record{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
	}
	if msg.Key != nil {
		rec.Key = string(msg.Key)
	}
	var err error
	switch s.format {
	case Avro:
		rec.Value, rec.Fields, err = s.registry.Decode(ctx, msg.Value)
	default:
		rec.Value, rec.Fields, err = fdk.DecodeObject(msg.Value)
	}
	return rec, err
}

// Release stops consuming. It is safe to call more than once.
func (s *Source) Release(ctx context.Context) error {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return nil
	}
	s.released = true
	s.mu.Unlock()

	close(s.done)
	err := s.closePartitions()
	s.wg.Wait()
	if s.ownsConsumer {
		if cerr := s.consumer.Close(); cerr != nil && err == nil {
			err = errors.Wrap(cerr, "closing kafka consumer")
		}
	}
	return err
}

func (s *Source) closePartitions() error {
	errs := make([]error, 0)
	for _, pc := range s.partitions {
		if err := pc.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Wrap(stderrors.Join(errs...), "closing partition consumers")
}
