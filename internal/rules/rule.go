// Package rules compiles and runs a single user-authored detection rule.
//
// A rule's body is a small YAML manifest with up to four expr-lang
// expressions (rule, title, dedup, alert_context), each compiled once and
// run once per event. This mirrors the Python engine's "rule module with
// four well-known functions" contract without needing to embed an
// interpreter for user source code.
package rules

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"gopkg.in/yaml.v3"

	"github.com/panther-labs/rules-engine/pkg/models"
)

const (
	maxTitleLen        = 1000
	maxDedupLen        = 1000
	maxAlertContextLen = 200 * 1024
	truncationSuffix   = "... (truncated)"

	// ruleExceptionType and typeMismatchType name the two rule-exception
	// categories Run can raise, used as the dedup string for an errored
	// EngineResult so distinct error kinds window into distinct alerts
	// rather than collapsing into one bucket.
	ruleExceptionType = "Exception"
	typeMismatchType  = "TypeMismatch"
)

var allowedIDChars = regexp.MustCompile(`[^A-Za-z0-9 .\-_]`)

// SanitizeID maps a rule ID to a filesystem-safe name, the same character
// set the original engine used when staging a rule module to disk.
func SanitizeID(id string) string {
	return allowedIDChars.ReplaceAllString(id, "_")
}

// Rule is a compiled, ready-to-run detection rule.
type Rule struct {
	Config  models.RuleConfig
	body    models.RuleBody
	rule    *vm.Program
	title   *vm.Program
	dedup   *vm.Program
	context *vm.Program

	hasTitle   bool
	hasDedup   bool
	hasContext bool
}

// New parses a rule's YAML body and compiles its expr-lang programs. A
// rule with an empty/invalid "rule" expression is a compile error — title,
// dedup and alert_context are optional and each compiles independently.
func New(cfg models.RuleConfig, global map[string]interface{}) (*Rule, error) {
	var body models.RuleBody
	if err := yaml.Unmarshal([]byte(cfg.Body), &body); err != nil {
		return nil, fmt.Errorf("failed to parse rule body for %s: %w", cfg.ID, err)
	}
	if body.Rule == "" {
		return nil, fmt.Errorf("rule %s has no rule expression", cfg.ID)
	}

	cfg.Tags = sortedCopy(cfg.Tags)
	if cfg.Reports != nil {
		reports := make(map[string][]string, len(cfg.Reports))
		for k, v := range cfg.Reports {
			reports[k] = sortedCopy(v)
		}
		cfg.Reports = reports
	}

	env := sampleEnv(global)

	r := &Rule{Config: cfg, body: body}

	program, err := expr.Compile(body.Rule, expr.Env(env), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("failed to compile rule expression for %s: %w", cfg.ID, err)
	}
	r.rule = program

	if body.Title != "" {
		program, err := expr.Compile(body.Title, expr.Env(env))
		if err != nil {
			return nil, fmt.Errorf("failed to compile title expression for %s: %w", cfg.ID, err)
		}
		r.title = program
		r.hasTitle = true
	}

	if body.Dedup != "" {
		program, err := expr.Compile(body.Dedup, expr.Env(env))
		if err != nil {
			return nil, fmt.Errorf("failed to compile dedup expression for %s: %w", cfg.ID, err)
		}
		r.dedup = program
		r.hasDedup = true
	}

	if body.AlertContext != "" {
		program, err := expr.Compile(body.AlertContext, expr.Env(env))
		if err != nil {
			return nil, fmt.Errorf("failed to compile alert_context expression for %s: %w", cfg.ID, err)
		}
		r.context = program
		r.hasContext = true
	}

	return r, nil
}

// sortedCopy returns a sorted copy of s, leaving the caller's slice (the
// RuleConfig as received from the control plane) untouched.
func sortedCopy(s []string) []string {
	if len(s) == 0 {
		return s
	}
	out := make([]string, len(s))
	copy(out, s)
	sort.Strings(out)
	return out
}

// sampleEnv builds the env shape expr-lang compiles against. expr only
// needs the shape for static typing when a concrete Env is passed; at
// Run time the real event replaces this one.
func sampleEnv(global map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"event":  models.LogEvent{},
		"global": global,
	}
}

// Run evaluates every capability the rule exposes against a single event,
// truncating and capping output per the protocol every caller (direct-test
// and batch alike) relies on. In batch mode, title/dedup/alert_context only
// run when the rule expression matched — there is no alert to enrich
// otherwise. In direct-test mode (batchMode=false) they always run, so a
// rule author can see whether those functions are broken even against a
// sample event that doesn't match.
func (r *Rule) Run(event models.LogEvent, global map[string]interface{}, batchMode bool) models.RuleResult {
	result := models.RuleResult{
		RuleID:             r.Config.ID,
		VersionID:          r.Config.VersionID,
		DedupPeriodMinutes: r.dedupPeriodMinutes(),
		Tags:               r.Config.Tags,
		Reports:            r.Config.Reports,
	}

	env := map[string]interface{}{"event": event, "global": global}

	matched, err := expr.Run(r.rule, env)
	if err != nil {
		result.RuleError = fmt.Errorf("rule execution failed: %w", err)
		result.GenericError = result.RuleError
		result.DedupOutput = ruleExceptionType
		result.TitleOutput = exceptionRepr(ruleExceptionType, err.Error())
		return result
	}

	boolResult, ok := matched.(bool)
	if !ok {
		result.RuleError = fmt.Errorf("rule expression did not return a boolean, got %T", matched)
		result.GenericError = result.RuleError
		result.DedupOutput = typeMismatchType
		result.TitleOutput = exceptionRepr(typeMismatchType, fmt.Sprintf("rule(): %T", matched))
		return result
	}
	result.RuleOutput = boolResult
	result.Matched = boolResult

	if !boolResult && batchMode {
		return result
	}

	if r.hasTitle {
		out, err := expr.Run(r.title, env)
		if err != nil {
			result.TitleError = fmt.Errorf("title execution failed: %w", err)
		} else {
			result.TitleOutput = truncate(fmt.Sprint(out), maxTitleLen)
		}
	}

	dedup, dedupErr := r.computeDedup(env, result)
	result.DedupOutput = dedup
	result.DedupError = dedupErr

	if r.hasContext {
		out, err := expr.Run(r.context, env)
		if err != nil {
			result.AlertContextError = fmt.Errorf("alert_context execution failed: %w", err)
		} else {
			encoded, err := json.Marshal(out)
			if err != nil {
				result.AlertContextError = fmt.Errorf("alert_context serialization failed: %w", err)
			} else if len(encoded) > maxAlertContextLen {
				result.AlertContextError = fmt.Errorf("alert_context exceeds %d bytes", maxAlertContextLen)
			} else {
				result.AlertContextOutput = string(encoded)
			}
		}
	}

	return result
}

// dedupPeriodMinutes resolves the rule's configured merge window, falling
// back to the engine-wide default when the rule config omits it.
func (r *Rule) dedupPeriodMinutes() int {
	if r.Config.DedupPeriodMinutes > 0 {
		return r.Config.DedupPeriodMinutes
	}
	return models.DefaultDedupPeriodMinutes
}

// computeDedup implements the dedup-string fallback chain: an explicit
// dedup expression wins; failing that, the title (already computed and
// truncated); failing that, a fixed per-rule default so every match still
// lands in a stable alert bucket.
func (r *Rule) computeDedup(env map[string]interface{}, result models.RuleResult) (string, error) {
	var dedupErr error
	if r.hasDedup {
		out, err := expr.Run(r.dedup, env)
		if err != nil {
			dedupErr = fmt.Errorf("dedup execution failed: %w", err)
		} else if s, ok := out.(string); ok && s != "" {
			return truncate(s, maxDedupLen), nil
		}
	}
	if result.TitleOutput != "" {
		return result.TitleOutput, dedupErr
	}
	return fmt.Sprintf("defaultDedupString:%s", r.Config.ID), dedupErr
}

// exceptionRepr formats an error kind/message the way the original engine's
// Python repr(exception) rendered it, e.g. "Exception('boom')".
func exceptionRepr(kind, msg string) string {
	return fmt.Sprintf("%s('%s')", kind, msg)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max - len(truncationSuffix)
	if cut < 0 {
		cut = 0
	}
	return s[:cut] + truncationSuffix
}

// StageToDisk writes the rule's parsed body to a process-private temp
// directory for debugging/inspection, the Go analog of the original
// engine's filesystem-backed module cache. expr-lang never reads this
// file back — it is purely a diagnostic artifact.
func (r *Rule) StageToDisk() (string, error) {
	dir := filepath.Join(os.TempDir(), "rules")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create rule staging dir: %w", err)
	}
	path := filepath.Join(dir, SanitizeID(r.Config.ID)+".yaml")
	encoded, err := yaml.Marshal(r.body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal rule body for staging: %w", err)
	}
	if err := os.WriteFile(path, encoded, 0o644); err != nil {
		return "", fmt.Errorf("failed to stage rule %s: %w", r.Config.ID, err)
	}
	return path, nil
}
