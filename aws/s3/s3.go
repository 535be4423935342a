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

package s3

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"path"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/featuredemo/fdk"
	"github.com/pkg/errors"
)

// objectTimeFormat names archived objects so that listing order is
// ingestion order.
const objectTimeFormat = "20060102T150405.000000000Z"

// ArchiveOption is a functional option type for s3.Archiver.
type ArchiveOption func(a *Archiver)

// OptArchiveBucket is an ArchiveOption which sets the S3 bucket objects are
// written to.
func OptArchiveBucket(bucket string) ArchiveOption {
	return func(a *Archiver) {
		a.bucket = bucket
	}
}

// OptArchiveRegion is an ArchiveOption which sets the AWS region.
func OptArchiveRegion(region string) ArchiveOption {
	return func(a *Archiver) {
		a.region = region
	}
}

// OptArchivePrefix puts every archived object under prefix.
func OptArchivePrefix(prefix string) ArchiveOption {
	return func(a *Archiver) {
		a.prefix = prefix
	}
}

// OptArchiveClient sets the S3 client. Without it a client is built from a
// new AWS session.
func OptArchiveClient(client s3iface.S3API) ArchiveOption {
	return func(a *Archiver) {
		a.client = client
	}
}

func OptArchiveLogger(l fdk.Logger) ArchiveOption {
	return func(a *Archiver) {
		a.log = l
	}
}

func OptArchiveClock(now func() time.Time) ArchiveOption {
	return func(a *Archiver) {
		a.now = now
	}
}

// Archiver is an fdk.Archiver which writes every ingested table to S3 as
// JSON lines: a header line holding the column names followed by one object
// per row.
type Archiver struct {
	bucket string
	region string
	prefix string

	client s3iface.S3API
	log    fdk.Logger
	now    func() time.Time
}

// NewArchiver returns a new Archiver with the options applied.
func NewArchiver(opts ...ArchiveOption) (*Archiver, error) {
	a := &Archiver{
		region: "us-east-1",
		log:    fdk.NopLogger{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.bucket == "" {
		return nil, errors.New("an S3 bucket is required")
	}
	if a.client == nil {
		sess, err := session.NewSession(&aws.Config{
			Region: aws.String(a.region)},
		)
		if err != nil {
			return nil, errors.Wrap(err, "getting new session")
		}
		a.client = s3.New(sess)
	}
	return a, nil
}

// Archive writes table to a new object under <prefix>/<view>/. Empty tables
// are not archived.
func (a *Archiver) Archive(ctx context.Context, view string, table *fdk.FeatureTable) error {
	if table.Len() == 0 {
		return nil
	}
	buf := &bytes.Buffer{}
	if err := WriteTable(buf, table); err != nil {
		return errors.Wrap(err, "encoding table")
	}
	key := path.Join(a.prefix, view, a.now().UTC().Format(objectTimeFormat)+".jsonl")
	_, err := a.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return errors.Wrapf(err, "putting %v", key)
	}
	a.log.Printf("archived %d rows of '%s' to s3://%s/%s", table.Len(), view, a.bucket, key)
	return nil
}

// List returns the keys of the objects archived for view, oldest first.
func (a *Archiver) List(ctx context.Context, view string) ([]string, error) {
	keys := make([]string, 0)
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(a.bucket),
		Prefix: aws.String(path.Join(a.prefix, view) + "/"),
	}
	err := a.client.ListObjectsV2PagesWithContext(ctx, input, func(page *s3.ListObjectsV2Output, last bool) bool {
		for _, obj := range page.Contents {
			keys = append(keys, aws.StringValue(obj.Key))
		}
		return true
	})
	if err != nil {
		return nil, errors.Wrap(err, "listing objects")
	}
	sort.Strings(keys)
	return keys, nil
}

// Read fetches and decodes one archived object.
func (a *Archiver) Read(ctx context.Context, key string) (*fdk.FeatureTable, error) {
	result, err := a.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "fetching %v", key)
	}
	defer result.Body.Close()
	table, err := ReadTable(result.Body)
	return table, errors.Wrapf(err, "reading %v", key)
}

// Replay writes every table archived for view to w, oldest first, and
// returns the number of rows written. Online writes are idempotent, so
// replaying an archive more than once is harmless.
func (a *Archiver) Replay(ctx context.Context, view string, w fdk.OnlineWriter) (int, error) {
	keys, err := a.List(ctx, view)
	if err != nil {
		return 0, err
	}
	rows := 0
	for _, key := range keys {
		table, err := a.Read(ctx, key)
		if err != nil {
			return rows, err
		}
		if err := w.WriteToOnlineStore(ctx, view, table); err != nil {
			return rows, errors.Wrapf(err, "writing %v", key)
		}
		rows += table.Len()
	}
	return rows, nil
}

type tableHeader struct {
	Columns []string `json:"columns"`
}

// WriteTable encodes table as JSON lines. Values are encoded with
// fdk.MarshalValue.
func WriteTable(w io.Writer, table *fdk.FeatureTable) error {
	bw := bufio.NewWriter(w)
	head, err := json.Marshal(tableHeader{Columns: table.Columns})
	if err != nil {
		return errors.Wrap(err, "encoding header")
	}
	bw.Write(head)
	bw.WriteByte('\n')
	for i := 0; i < table.Len(); i++ {
		line, err := fdk.MarshalValue(table.Row(i))
		if err != nil {
			return errors.Wrapf(err, "encoding row %d", i)
		}
		bw.Write(line)
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// ReadTable decodes a table written by WriteTable.
func ReadTable(r io.Reader) (*fdk.FeatureTable, error) {
	scan := bufio.NewScanner(r)
	scan.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	if !scan.Scan() {
		if err := scan.Err(); err != nil {
			return nil, errors.Wrap(err, "reading header")
		}
		return nil, errors.New("missing header line")
	}
	var head tableHeader
	if err := json.Unmarshal(scan.Bytes(), &head); err != nil {
		return nil, errors.Wrap(err, "decoding header")
	}
	table := fdk.NewFeatureTable(head.Columns...)
	for n := 1; scan.Scan(); n++ {
		if len(bytes.TrimSpace(scan.Bytes())) == 0 {
			continue
		}
		row, _, err := fdk.DecodeObject(scan.Bytes())
		if err != nil {
			return nil, errors.Wrapf(err, "decoding line %d", n+1)
		}
		table.AppendRow(row)
	}
	return table, errors.Wrap(scan.Err(), "scanning")
}
