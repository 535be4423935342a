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

// Package kafkagen produces simulated traffic events to a Kafka topic.
package kafkagen

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/Shopify/sarama"
	"github.com/featuredemo/fdk"
	"github.com/featuredemo/fdk/fake"
	"github.com/pkg/errors"
)

// Main holds the execution state for the kafka generator.
type Main struct {
	Hosts   []string      `help:"Comma separated list of Kafka hosts and ports."`
	Topic   string        `help:"Topic to produce to."`
	Rate    time.Duration `help:"Time between messages."`
	Count   int           `help:"Number of messages to send. 0 sends until interrupted."`
	Users   int           `help:"Number of distinct users generating traffic."`
	Seed    int64         `help:"Random seed for the generated events."`
	Verbose bool          `help:"Enable debug logging."`

	Log fdk.Logger `flag:"-"`
}

// NewMain returns a new Main.
func NewMain() *Main {
	return &Main{
		Hosts: []string{"localhost:9092"},
		Topic: "traffic",
		Rate:  time.Second * 1,
		Users: 1000,
	}
}

// JSONEvent implements the sarama.Encoder interface for TrafficEvent.
type JSONEvent fake.TrafficEvent

// Encode marshals the event with fdk.MarshalValue.
func (e JSONEvent) Encode() ([]byte, error) {
	ev := fake.TrafficEvent(e)
	return fdk.MarshalValue(&ev)
}

// Length returns the length of the encoded event.
func (e JSONEvent) Length() int {
	bytes, _ := e.Encode()
	return len(bytes)
}

// Run runs the kafka generator until Count messages were sent or it is
// interrupted.
func (m *Main) Run() error {
	if m.Log == nil {
		zl, err := fdk.NewZapLogger(m.Verbose)
		if err != nil {
			return errors.Wrap(err, "building logger")
		}
		defer zl.Sync()
		m.Log = zl
	}
	conf := sarama.NewConfig()
	conf.Version = sarama.V2_0_0_0
	conf.Producer.Return.Successes = true
	conf.Producer.RequiredAcks = sarama.WaitForAll
	producer, err := sarama.NewSyncProducer(m.Hosts, conf)
	if err != nil {
		return errors.Wrap(err, "getting new producer")
	}
	defer producer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	gen := fake.NewTrafficGenerator(m.Seed, m.Users, time.Now())
	sent, err := Produce(ctx, producer, m.Topic, gen, m.Rate, m.Count, m.Log)
	m.Log.Printf("sent %d messages to '%s'", sent, m.Topic)
	if errors.Cause(err) == context.Canceled {
		return nil
	}
	return err
}

// Produce sends events from gen to topic, one every rate, keyed by user id.
// It stops after count messages when count is positive, and otherwise runs
// until ctx is done. It returns the number of messages sent.
func Produce(ctx context.Context, producer sarama.SyncProducer, topic string, gen *fake.TrafficGenerator, rate time.Duration, count int, log fdk.Logger) (int, error) {
	if rate <= 0 {
		rate = time.Nanosecond
	}
	ticker := time.NewTicker(rate)
	defer ticker.Stop()
	sent := 0
	for count <= 0 || sent < count {
		ev := gen.Event()
		msg := &sarama.ProducerMessage{
			Topic: topic,
			Key:   sarama.StringEncoder(strconv.FormatInt(ev.UserID, 10)),
			Value: JSONEvent(*ev),
		}
		partition, offset, err := producer.SendMessage(msg)
		if err != nil {
			return sent, errors.Wrapf(err, "sending message %d", sent)
		}
		sent++
		log.Debugf("sent %s for user %d to partition %d at offset %d", ev.Event, ev.UserID, partition, offset)
		if count > 0 && sent == count {
			break
		}
		select {
		case <-ctx.Done():
			return sent, ctx.Err()
		case <-ticker.C:
		}
	}
	return sent, nil
}
