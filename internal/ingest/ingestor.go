// Package ingest resolves a batch envelope into object-store objects,
// decompresses and line-splits each one, and feeds every parsed event
// through the Engine and into the OutputBuffer. It is the direct
// successor of the original engine's S3ObjectKey-to-event pipeline.
package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"

	"github.com/klauspost/compress/gzip"

	"github.com/panther-labs/rules-engine/pkg/models"
)

// ObjectGetter fetches a single compressed object's bytes, normally backed
// by S3 GetObject.
type ObjectGetter interface {
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

// Analyzer runs every rule indexed for a log type against one event — the
// subset of engine.Engine the Ingestor depends on.
type Analyzer interface {
	Analyze(logType string, event models.LogEvent) []models.EngineResult
}

// Sink receives every EngineResult the Ingestor produces, normally a
// buffer.Buffer.
type Sink interface {
	Add(models.EngineResult) error
}

// Ingestor walks a batch Envelope, streaming each referenced object's
// events through an Analyzer and into a Sink.
type Ingestor struct {
	getter   ObjectGetter
	analyzer Analyzer
	sink     Sink
}

func New(getter ObjectGetter, analyzer Analyzer, sink Sink) *Ingestor {
	return &Ingestor{getter: getter, analyzer: analyzer, sink: sink}
}

// Run processes every record in the envelope, skipping unparseable lines
// rather than aborting the whole object, and returns aggregate stats. Each
// outer record's "id" message attribute fixes the log type for every
// object its body references; a record whose body fails to parse aborts
// the whole batch, since that is a malformed delivery rather than a single
// bad log line.
func (i *Ingestor) Run(ctx context.Context, envelope models.Envelope) (models.IngestStats, error) {
	var stats models.IngestStats

	for _, record := range envelope.Records {
		logType := record.LogType()

		var notification models.S3Notification
		if err := json.Unmarshal([]byte(record.Body), &notification); err != nil {
			return stats, fmt.Errorf("failed to parse record body: %w", err)
		}

		for _, s3rec := range notification.Records {
			if err := i.processObject(ctx, logType, s3rec.S3, &stats); err != nil {
				return stats, fmt.Errorf("failed to process object %s/%s: %w",
					s3rec.S3.Bucket.Name, s3rec.S3.Object.Key, err)
			}
			stats.ObjectsProcessed++
		}
	}

	return stats, nil
}

func (i *Ingestor) processObject(ctx context.Context, logType string, ref models.EnvelopeS3Detail, stats *models.IngestStats) error {
	body, err := i.getter.GetObject(ctx, ref.Bucket.Name, ref.Object.Key)
	if err != nil {
		return fmt.Errorf("failed to fetch object: %w", err)
	}
	defer body.Close()

	gz, err := gzip.NewReader(body)
	if err != nil {
		return fmt.Errorf("failed to decompress object: %w", err)
	}
	defer gz.Close()

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

	var rowIndex int64
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var event models.LogEvent
		if err := json.Unmarshal(line, &event); err != nil {
			log.Printf("skipping unparseable line %d in %s: %v", rowIndex, ref.Object.Key, err)
			stats.EventsSkipped++
			rowIndex++
			continue
		}
		event["p_row_index"] = rowIndex
		rowIndex++

		stats.EventsProcessed++

		for _, result := range i.analyzer.Analyze(logType, event) {
			if !result.Result.Matched && !result.Result.IsError() {
				continue
			}
			if err := i.sink.Add(result); err != nil {
				return fmt.Errorf("failed to buffer result: %w", err)
			}
			if result.Result.IsError() {
				stats.ErrorsEmitted++
			} else {
				stats.MatchesEmitted++
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to scan object: %w", err)
	}
	return nil
}
