package models

import "time"

// OutputGroupingKey groups matches and errors in the OutputBuffer before
// they are flushed to the object store. Two events with the same key are
// written to the same object and share one alert-merge call. VersionID is
// deliberately excluded: a rule refreshed mid-batch must still coalesce
// into the group it started in rather than splitting across versions.
type OutputGroupingKey struct {
	RuleID  string
	LogType string
	Dedup   string
	IsError bool
}

// BufferEntry is one group's accumulated payload inside the OutputBuffer.
// VersionID, DedupPeriodMinutes, Tags, Reports and AlertContext are
// first-observed metadata: set from whichever EngineResult created the
// group and never overwritten by later members, per the rule that a group
// uses one consistent set of metadata regardless of a mid-batch refresh.
type BufferEntry struct {
	Key                OutputGroupingKey
	Events             []LogEvent
	ByteSize           int
	FirstEvent         time.Time
	VersionID          string
	DedupPeriodMinutes int
	Tags               []string
	Reports            map[string][]string
	Title              string
	AlertContext       string
	RuleError          string
}

// AlertInfo is returned by the AlertMerger after a conditional-or-merge
// update: the caller uses it to stamp common fields on every event before
// it is serialized to the object store.
type AlertInfo struct {
	AlertID          string
	CreationTime     time.Time
	UpdateTime       time.Time
	EventCount       int64
	IsNewAlert       bool
}

// AlertRecord is the row persisted in the KV store's alert-dedup table,
// keyed by "alert:" + md5(ruleId:dedup[:error]). The merge script stores the
// unhashed "ruleId:alertCount:dedup" string under alert_id_input and writes
// no alert_id field, so AlertID is empty when a row is read back.
type AlertRecord struct {
	PartitionKey string    `redis:"-"`
	RuleID       string    `redis:"rule_id"`
	Dedup        string    `redis:"dedup"`
	LogType      string    `redis:"log_type"`
	IsError      bool      `redis:"is_error"`
	AlertID      string    `redis:"alert_id"`
	AlertCount   int64     `redis:"alert_count"`
	CreationTime time.Time `redis:"creation_time"`
	UpdateTime   time.Time `redis:"update_time"`
}

// AlertMergePeriodSeconds is the window within which matches sharing a
// dedup string are folded into the same alert rather than starting a new
// one. Mirrors the original engine's ALERT_MERGE_PERIOD_SECONDS, used as
// the fallback when a rule config omits DedupPeriodMinutes.
const AlertMergePeriodSeconds = 3600

// RuleErrorDedupPeriodMinutes is the fixed merge window forced on rule
// error records, overriding whatever DedupPeriodMinutes the failing rule
// itself was configured with.
const RuleErrorDedupPeriodMinutes = 1440

// EngineResult pairs a RuleResult with the event it was produced from and
// the log type it was evaluated under, the unit of work the OutputBuffer
// groups on.
type EngineResult struct {
	Event   LogEvent
	LogType string
	Result  RuleResult
}
