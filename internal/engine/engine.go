// Package engine maintains the compiled rule index and evaluates events
// against it. It plays the role the teacher's alerting.Engine plays for
// Slack-style threshold rules, generalized to the rules-engine's
// expr-lang-backed Rule and its log-type indexed cache.
package engine

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/panther-labs/rules-engine/internal/opsnotify"
	"github.com/panther-labs/rules-engine/internal/rules"
	"github.com/panther-labs/rules-engine/pkg/models"
)

// RuleSource fetches the current RuleConfig set, normally the
// controlplane.Client but swappable in tests.
type RuleSource interface {
	FetchRules() ([]models.RuleConfig, error)
}

// Engine indexes compiled rules by log type and refreshes that index on a
// fixed TTL, continuing to serve the last good index if a refresh fails.
type Engine struct {
	source   RuleSource
	ttl      time.Duration
	notifier opsnotify.Notifier

	mu      sync.RWMutex
	byType  map[string][]*rules.Rule
	global  map[string]interface{}
	lastOK  time.Time
	stopCh  chan struct{}
	stopped bool
}

// SetNotifier wires an operational notifier that gets paged when a refresh
// fails outright (not when an individual rule is skipped). Optional — a nil
// notifier (the default) means refresh failures are only logged.
func (e *Engine) SetNotifier(n opsnotify.Notifier) {
	e.notifier = n
}

// New builds an Engine and performs an initial synchronous load so the
// first Analyze call never runs against an empty index.
func New(source RuleSource, ttl time.Duration) (*Engine, error) {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	e := &Engine{
		source: source,
		ttl:    ttl,
		byType: make(map[string][]*rules.Rule),
		stopCh: make(chan struct{}),
	}
	if err := e.refresh(); err != nil {
		return nil, fmt.Errorf("failed initial rule load: %w", err)
	}
	return e, nil
}

// Start launches the background refresh loop. Call Stop to end it.
func (e *Engine) Start() {
	go e.refreshLoop()
}

func (e *Engine) refreshLoop() {
	ticker := time.NewTicker(e.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := e.refresh(); err != nil {
				log.Printf("rule refresh failed, continuing to serve stale index: %v", err)
				if e.notifier != nil && e.notifier.IsEnabled() {
					if notifyErr := e.notifier.Notify(opsnotify.Event{
						Source:    "engine.refresh",
						Message:   err.Error(),
						Severity:  "high",
						Timestamp: time.Now(),
					}); notifyErr != nil {
						log.Printf("failed to send ops notification for refresh failure: %v", notifyErr)
					}
				}
			}
		case <-e.stopCh:
			return
		}
	}
}

// Stop ends the background refresh loop.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}
	e.stopped = true
	close(e.stopCh)
}

// refresh fetches the current rule set, compiles every rule, and atomically
// swaps in the new index. A rule that fails to compile is logged and
// skipped rather than aborting the whole refresh — one bad rule must never
// take down evaluation of every other rule.
func (e *Engine) refresh() error {
	configs, err := e.source.FetchRules()
	if err != nil {
		return fmt.Errorf("failed to fetch rules: %w", err)
	}

	global := buildGlobalEnv(configs)

	byType := make(map[string][]*rules.Rule)
	for _, cfg := range configs {
		if cfg.ID == models.CommonRuleID {
			continue
		}
		rule, err := rules.New(cfg, global)
		if err != nil {
			log.Printf("skipping rule %s: %v", cfg.ID, err)
			continue
		}
		for _, lt := range cfg.LogTypes {
			byType[lt] = append(byType[lt], rule)
		}
	}

	e.mu.Lock()
	e.byType = byType
	e.global = global
	e.lastOK = time.Now()
	e.mu.Unlock()

	return nil
}

// buildGlobalEnv compiles the reserved shared-library rule, if present, and
// exposes its alert_context output (its only side-effect-free capability)
// as the constant bag every other rule sees under "global".
func buildGlobalEnv(configs []models.RuleConfig) map[string]interface{} {
	for _, cfg := range configs {
		if cfg.ID != models.CommonRuleID {
			continue
		}
		rule, err := rules.New(cfg, nil)
		if err != nil {
			log.Printf("failed to compile shared-library rule: %v", err)
			return nil
		}
		result := rule.Run(models.LogEvent{}, nil, false)
		if result.AlertContextError != nil || result.AlertContextOutput == "" {
			return nil
		}
		var global map[string]interface{}
		if err := json.Unmarshal([]byte(result.AlertContextOutput), &global); err != nil {
			log.Printf("failed to parse shared-library rule output: %v", err)
			return nil
		}
		return global
	}
	return nil
}

// ReloadNow forces an immediate refresh, used by the control surface's
// reload endpoint.
func (e *Engine) ReloadNow() error {
	return e.refresh()
}

// Analyze runs every rule indexed under logType against event.
func (e *Engine) Analyze(logType string, event models.LogEvent) []models.EngineResult {
	e.mu.RLock()
	matching := e.byType[logType]
	global := e.global
	e.mu.RUnlock()

	out := make([]models.EngineResult, 0, len(matching))
	for _, rule := range matching {
		result := rule.Run(event, global, true)
		out = append(out, models.EngineResult{Event: event, LogType: logType, Result: result})
	}
	return out
}

// LastRefresh reports when the index was last successfully rebuilt.
func (e *Engine) LastRefresh() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastOK
}

// RuleCount reports how many log types currently have at least one rule,
// and the total number of (logType, rule) index entries — surfaced on the
// /metrics control-surface endpoint.
func (e *Engine) RuleCount() (logTypes int, entries int) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	logTypes = len(e.byType)
	for _, rs := range e.byType {
		entries += len(rs)
	}
	return
}
