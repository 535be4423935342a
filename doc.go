// fdk is the feature demo kit. It moves events from a stream into the online
// store of a feature store, and holds the feature store pieces the traffic
// demo runs against.
//
// The ingest pipeline has three stages, each with a small interface in this
// package and implementations in sub-packages.
//
// 1. Session
//
//    An fdk.Session is a consumer subscribed to a topic. Poll returns whatever
//    records are currently available, which may be none, and Release frees
//    the consumer on the broker side. The restproxy package implements it
//    over the Kafka REST proxy and the kafka package directly against the
//    brokers. A session belongs to one ingestion run and is released exactly
//    once, however the run ends.
//
// 2. Drainer and Materializer
//
//    The Drainer polls a session until it has seen MaxWait empty polls in a
//    row, sleeping Backoff after each empty one, and hands back everything
//    it collected. The Materializer turns those records into a FeatureTable:
//    one column per value field, plus event and created timestamp columns
//    derived from the epoch-millisecond timestamp field. Records which don't
//    share the first record's fields are a SchemaMismatchError.
//
// 3. OnlineWriter
//
//    The table is written to the online store of a feature view, usually by
//    a FeatureStore. Online stores keep the row with the latest event
//    timestamp per entity key, so writing the same table twice changes
//    nothing. An Archiver may keep a copy of every ingested table as well.
//
// The Ingester strings the stages together. The FeatureStore also registers
// entities and feature views, materializes offline rows into the online
// store, and answers online and point-in-time historical lookups.

package fdk
