// Package objectstore writes a flushed buffer group to the object store as
// gzip-compressed NDJSON and publishes a pub/sub notification describing
// the new object, replaying output.py's _write_to_s3 in Go idiom: the
// AWS SDK's S3 and SNS clients in place of boto3.
package objectstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/sns"
	"github.com/aws/aws-sdk-go/service/sns/snsiface"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"github.com/panther-labs/rules-engine/internal/alertmerge"
	"github.com/panther-labs/rules-engine/pkg/models"
)

const (
	notificationTypeMatch = "RuleMatches"
	notificationTypeError = "RuleErrors"
)

// commonFields are stamped onto every serialized event, mirroring
// EventCommonFields from the original engine.
type commonFields struct {
	PRuleID            string              `json:"p_rule_id"`
	PAlertID           string              `json:"p_alert_id"`
	PAlertCreationTime string              `json:"p_alert_creation_time"`
	PAlertUpdateTime   string              `json:"p_alert_update_time"`
	PRuleTags          []string            `json:"p_rule_tags,omitempty"`
	PRuleReports       map[string][]string `json:"p_rule_reports,omitempty"`
	PRuleError         string              `json:"p_rule_error,omitempty"`
}

// timeLayout matches the original engine's _DATE_FORMAT
// ("%Y-%m-%d %H:%M:%S.%f000"): a microsecond-precision timestamp with a
// literal "000" appended to pad to 9 fractional digits, not true
// nanosecond resolution.
const timeLayout = "2006-01-02 15:04:05.000000"
const timeLayoutPad = "000"

// Writer uploads buffered groups to S3 and publishes their arrival to SNS.
type Writer struct {
	s3     s3iface.S3API
	sns    snsiface.SNSAPI
	merger *alertmerge.Merger
	bucket string
	topic  string
}

// New builds a Writer from a live AWS session, the idiom the rest of the
// account's Go services use to share one session across every client.
func New(sess *session.Session, merger *alertmerge.Merger, bucket, topic string) *Writer {
	return &Writer{
		s3:     s3.New(sess),
		sns:    sns.New(sess),
		merger: merger,
		bucket: bucket,
		topic:  topic,
	}
}

// Write merges the group's alert identity, serializes its events as gzip
// NDJSON, uploads the object, and publishes a notification describing it.
func (w *Writer) Write(ctx context.Context, entry models.BufferEntry) error {
	info, err := w.merger.Merge(ctx, alertmerge.MergeInput{
		RuleID:             entry.Key.RuleID,
		RuleVersion:        entry.VersionID,
		Dedup:              entry.Key.Dedup,
		LogType:            entry.Key.LogType,
		IsError:            entry.Key.IsError,
		NumMatches:         int64(len(entry.Events)),
		Title:              entry.Title,
		AlertContext:       entry.AlertContext,
		MergePeriodSeconds: mergePeriodSeconds(entry),
	})
	if err != nil {
		return fmt.Errorf("failed to merge alert info for rule %s: %w", entry.Key.RuleID, err)
	}

	body, err := serialize(entry, info)
	if err != nil {
		return fmt.Errorf("failed to serialize buffer group for rule %s: %w", entry.Key.RuleID, err)
	}

	key := objectKey(entry.Key)
	return w.s3PutAndNotify(key, body, entry.Key.RuleID, entry.Key.IsError)
}

// mergePeriodSeconds resolves the merge window a flushed group's alert
// should use: a rule error always gets the fixed 1-day window regardless
// of the rule's own configuration, while a match uses the rule's
// configured dedup period (or the engine default).
func mergePeriodSeconds(entry models.BufferEntry) int64 {
	if entry.Key.IsError {
		return int64(models.RuleErrorDedupPeriodMinutes) * 60
	}
	return alertmerge.MergePeriodSeconds(models.RuleConfig{DedupPeriodMinutes: entry.DedupPeriodMinutes})
}

// s3PutAndNotify uploads the already-serialized body and publishes the
// arrival notification, factored out so it can be exercised without a live
// alert merger.
func (w *Writer) s3PutAndNotify(key string, body []byte, ruleID string, isError bool) error {
	if _, err := w.s3.PutObject(&s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("gzip"),
	}); err != nil {
		return fmt.Errorf("failed to write object %s: %w", key, err)
	}

	return w.notify(key, ruleID, isError)
}

// serialize gzip-encodes one JSON object per event, each stamped with the
// alert's common fields, matching the NDJSON shape downstream readers
// expect.
func serialize(entry models.BufferEntry, info models.AlertInfo) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)

	fields := commonFields{
		PRuleID:            entry.Key.RuleID,
		PAlertID:           info.AlertID,
		PAlertCreationTime: info.CreationTime.UTC().Format(timeLayout) + timeLayoutPad,
		PAlertUpdateTime:   info.UpdateTime.UTC().Format(timeLayout) + timeLayoutPad,
		PRuleTags:          entry.Tags,
		PRuleReports:       entry.Reports,
	}
	if entry.Key.IsError {
		fields.PRuleError = entry.RuleError
	}

	var alertContext interface{}
	if entry.AlertContext != "" {
		if err := json.Unmarshal([]byte(entry.AlertContext), &alertContext); err != nil {
			return nil, fmt.Errorf("failed to parse alert_context for rule %s: %w", entry.Key.RuleID, err)
		}
	}

	for _, event := range entry.Events {
		merged := make(map[string]interface{}, len(event)+7)
		for k, v := range event {
			merged[k] = v
		}
		merged["p_rule_id"] = fields.PRuleID
		merged["p_alert_id"] = fields.PAlertID
		merged["p_alert_creation_time"] = fields.PAlertCreationTime
		merged["p_alert_update_time"] = fields.PAlertUpdateTime
		if len(fields.PRuleTags) > 0 {
			merged["p_rule_tags"] = fields.PRuleTags
		}
		if len(fields.PRuleReports) > 0 {
			merged["p_rule_reports"] = fields.PRuleReports
		}
		if fields.PRuleError != "" {
			merged["p_rule_error"] = fields.PRuleError
		}
		if alertContext != nil {
			merged["p_alert_context"] = alertContext
		}

		line, err := json.Marshal(merged)
		if err != nil {
			return nil, err
		}
		gz.Write(line)
		gz.Write([]byte("\n"))
	}

	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// objectKey builds the partitioned S3 key the original engine's
// _KEY_FORMAT described: matches live under rules/<table>/..., where
// <table> is the log type's slug, while errors live under a top-level
// rule_errors/<table>/... prefix rather than nested under rules/.
func objectKey(key models.OutputGroupingKey) string {
	table := logTypeSlug(key.LogType)
	now := time.Now().UTC()
	timestamp := now.Format("20060102T150405Z")

	prefix := "rules/" + table
	if key.IsError {
		prefix = "rule_errors/" + table
	}
	return fmt.Sprintf("%s/year=%04d/month=%02d/day=%02d/hour=%02d/rule_id=%s/%s-%s.json.gz",
		prefix, now.Year(), now.Month(), now.Day(), now.Hour(),
		key.RuleID, timestamp, uuid.NewString())
}

// logTypeSlug maps a log type name to its object-key segment, the same
// lower-and-underscore normalization the original engine applied before
// partitioning S3 keys by table.
func logTypeSlug(logType string) string {
	return strings.ReplaceAll(strings.ToLower(logType), ".", "_")
}

// notify publishes the new object's arrival, with the type/id message
// attributes the original engine's _s3_put_object_notification carried:
// "type" is the output track ("RuleMatches"/"RuleErrors") and "id" is the
// rule ID, the pair downstream SNS filter subscriptions key their
// subscriptions on.
func (w *Writer) notify(key, ruleID string, isError bool) error {
	notifType := notificationTypeMatch
	if isError {
		notifType = notificationTypeError
	}

	event := s3PutObjectNotification(w.bucket, key)
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to build notification body: %w", err)
	}

	_, err = w.sns.Publish(&sns.PublishInput{
		TopicArn: aws.String(w.topic),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]*sns.MessageAttributeValue{
			"type": {DataType: aws.String("String"), StringValue: aws.String(notifType)},
			"id":   {DataType: aws.String("String"), StringValue: aws.String(ruleID)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish notification for %s: %w", key, err)
	}
	return nil
}

// s3Notification and friends reproduce the dummy-populated S3 event
// envelope the original engine faked up so downstream schema validation
// sees the full shape even though this isn't a real bucket notification.
type s3Notification struct {
	Records []s3NotificationRecord `json:"Records"`
}

type s3NotificationRecord struct {
	EventVersion string             `json:"eventVersion"`
	EventSource  string             `json:"eventSource"`
	EventTime    string             `json:"eventTime"`
	EventName    string             `json:"eventName"`
	S3           s3NotificationBody `json:"s3"`
}

type s3NotificationBody struct {
	S3SchemaVersion string                  `json:"s3SchemaVersion"`
	Bucket          s3NotificationBucket    `json:"bucket"`
	Object          s3NotificationObjectRef `json:"object"`
}

type s3NotificationBucket struct {
	Name string `json:"name"`
}

type s3NotificationObjectRef struct {
	Key string `json:"key"`
}

func s3PutObjectNotification(bucket, key string) s3Notification {
	return s3Notification{
		Records: []s3NotificationRecord{{
			EventVersion: "2.1",
			EventSource:  "aws:s3",
			EventTime:    time.Now().UTC().Format(time.RFC3339),
			EventName:    "ObjectCreated:Put",
			S3: s3NotificationBody{
				S3SchemaVersion: "1.0",
				Bucket:          s3NotificationBucket{Name: bucket},
				Object:          s3NotificationObjectRef{Key: key},
			},
		}},
	}
}
