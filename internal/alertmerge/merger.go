// Package alertmerge implements the alert-dedup table: a conditional
// create-or-merge update against a KV store, replaying the original
// engine's DynamoDB ConditionExpression trick as a Redis Lua script so the
// read-check-write stays atomic under concurrent workers.
package alertmerge

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/panther-labs/rules-engine/pkg/models"
)

// mergeScript mirrors _update_get_alert_info_conditional /
// _update_get_alert_info from the original engine: if the key is absent or
// its creation_time is older than now-mergePeriod, start a new alert
// window; otherwise merge into the currently open one. Both branches run
// in a single EVAL so no other worker can observe a half-updated record.
//
// alert_count is a per-partition-key window counter: it is bumped once per
// new window (so a rule+dedup pair that reopens after its dedup period
// elapses gets a fresh, distinct alert_id) and never touched by a merge.
// event_count is the actual match total: a new window seeds it with
// numMatches and every merge into the window adds numMatches — the two counters serve different invariants (alert_count
// distinguishes windows, event_count sums matches within one) and
// conflating them breaks both.
//
// The hashed alert_id itself is never computed in Lua (stock Redis has no
// md5 builtin); the script instead returns the raw "ruleId:alertCount:dedup"
// string, stored at window-creation time so every merge in the window
// returns the same input for the caller to hash.
const mergeScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local mergePeriod = tonumber(ARGV[2])
local ruleID = ARGV[3]
local ruleVersion = ARGV[4]
local dedup = ARGV[5]
local logType = ARGV[6]
local isError = ARGV[7]
local numMatches = tonumber(ARGV[8])
local title = ARGV[9]
local context = ARGV[10]

local creationTime = redis.call('HGET', key, 'creation_time')

if (not creationTime) or (tonumber(creationTime) < (now - mergePeriod)) then
  local alertCount = redis.call('HINCRBY', key, 'alert_count', 1)
  local idInput = ruleID .. ':' .. tostring(alertCount) .. ':' .. dedup
  redis.call('HSET', key,
    'alert_id_input', idInput,
    'event_count', tostring(numMatches),
    'creation_time', tostring(now),
    'update_time', tostring(now),
    'rule_id', ruleID,
    'rule_version', ruleVersion,
    'dedup', dedup,
    'log_type', logType,
    'is_error', isError)
  if title ~= '' then redis.call('HSET', key, 'title', title) end
  if context ~= '' then redis.call('HSET', key, 'context', context) end
  if isError == '1' then redis.call('HSET', key, 'alert_type', 'RULE_ERROR') end
  redis.call('SADD', key .. ':logtypes', logType)
  return {idInput, tostring(numMatches), tostring(now), tostring(now), '1'}
end

local eventCount = redis.call('HINCRBY', key, 'event_count', numMatches)
redis.call('HSET', key, 'update_time', tostring(now))
redis.call('SADD', key .. ':logtypes', logType)
local idInput = redis.call('HGET', key, 'alert_id_input')
return {idInput, tostring(eventCount), creationTime, tostring(now), '0'}
`

// Merger performs the conditional create-or-merge update against Redis.
type Merger struct {
	client redis.UniversalClient
	script *redis.Script
}

// New wraps a redis.UniversalClient — a *redis.Client for a single node or
// a *redis.ClusterClient, selected by the caller the same way the teacher's
// storage package branches on a comma-separated address list.
func New(client redis.UniversalClient) *Merger {
	return &Merger{client: client, script: redis.NewScript(mergeScript)}
}

// PartitionKey derives the dedup table's row key for a rule/dedup pair,
// appending ":error" when the match being merged is a rule error rather
// than a true-positive match, so matches and errors never collide.
func PartitionKey(ruleID, dedup string, isError bool) string {
	raw := ruleID + ":" + dedup
	if isError {
		raw += ":error"
	}
	sum := md5.Sum([]byte(raw))
	return "alert:" + hex.EncodeToString(sum[:])
}

// MergePeriodSeconds resolves the rule's configured dedup window, falling
// back to the engine-wide default.
func MergePeriodSeconds(cfg models.RuleConfig) int64 {
	if cfg.DedupPeriodMinutes > 0 {
		return int64(cfg.DedupPeriodMinutes) * 60
	}
	return models.AlertMergePeriodSeconds
}

// AlertID computes the deterministic alert identity a window is identified
// by: md5_hex(rule_id + ":" + alert_count + ":" + dedup), where alert_count
// is the per-partition-key window counter returned by Merge, not a fixed
// 1 — only the first window of a rule+dedup pair's lifetime uses count 1;
// later windows (after the dedup period elapses and the pair reopens) use
// the next count, so their alert_id differs from the earlier window's.
func AlertID(ruleID string, alertCount int64, dedup string) string {
	return hashAlertIDInput(fmt.Sprintf("%s:%d:%s", ruleID, alertCount, dedup))
}

// hashAlertIDInput is the md5_hex primitive AlertID and Merge both apply to
// a "ruleId:alertCount:dedup" string — Merge gets that string pre-composed
// back from the script (see mergeScript's alert_id_input field) rather
// than recomposing it from parts.
func hashAlertIDInput(raw string) string {
	sum := md5.Sum([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// MergeInput is one flushed buffer group's identity and metadata, the Go
// analog of the original engine's MatchingGroupInfo passed into
// update_and_get.
type MergeInput struct {
	RuleID             string
	RuleVersion        string
	Dedup              string
	LogType            string
	IsError            bool
	NumMatches         int64
	Title              string
	AlertContext       string
	MergePeriodSeconds int64
}

// Merge performs the conditional-then-unconditional update and returns the
// resulting alert's identity and bookkeeping fields. Opening a new window
// sets the alert's event_count to NumMatches; merging into the open window
// adds NumMatches to it. alert_count, the window identity counter, only
// advances when a new window is opened.
func (m *Merger) Merge(ctx context.Context, in MergeInput) (models.AlertInfo, error) {
	if in.NumMatches <= 0 {
		in.NumMatches = 1
	}
	key := PartitionKey(in.RuleID, in.Dedup, in.IsError)
	now := time.Now()

	isErrorFlag := "0"
	if in.IsError {
		isErrorFlag = "1"
	}
	res, err := m.script.Run(ctx, m.client, []string{key},
		now.Unix(), in.MergePeriodSeconds, in.RuleID, in.RuleVersion, in.Dedup, in.LogType,
		isErrorFlag, in.NumMatches, in.Title, in.AlertContext,
	).Result()
	if err != nil {
		return models.AlertInfo{}, fmt.Errorf("failed to merge alert for rule %s: %w", in.RuleID, err)
	}

	fields, ok := res.([]interface{})
	if !ok || len(fields) != 5 {
		return models.AlertInfo{}, fmt.Errorf("unexpected merge script response for rule %s", in.RuleID)
	}

	idInput, _ := fields[0].(string)
	alertID := hashAlertIDInput(idInput)
	count, _ := strconv.ParseInt(fmt.Sprint(fields[1]), 10, 64)
	creationUnix, _ := strconv.ParseInt(fmt.Sprint(fields[2]), 10, 64)
	updateUnix, _ := strconv.ParseInt(fmt.Sprint(fields[3]), 10, 64)
	isNew := fmt.Sprint(fields[4]) == "1"

	return models.AlertInfo{
		AlertID:      alertID,
		CreationTime: time.Unix(creationUnix, 0).UTC(),
		UpdateTime:   time.Unix(updateUnix, 0).UTC(),
		EventCount:   count,
		IsNewAlert:   isNew,
	}, nil
}

// NewClient constructs a redis.UniversalClient the same way the teacher's
// storage.NewRedisStore does: a comma-separated address list selects a
// cluster client, a single address a plain client.
func NewClient(addr, password string, db int) redis.UniversalClient {
	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    splitAddrs(addr),
		Password: password,
		DB:       db,
	})
}

func splitAddrs(addr string) []string {
	if addr == "" {
		return []string{"localhost:6379"}
	}
	out := []string{}
	start := 0
	for i := 0; i < len(addr); i++ {
		if addr[i] == ',' {
			out = append(out, addr[start:i])
			start = i + 1
		}
	}
	out = append(out, addr[start:])
	return out
}
