package models

import "time"

// CommonRuleID is the reserved rule identifier for a shared-library rule.
// If a policy set contains a rule with this ID it is compiled first and its
// constant bindings are exposed to every other rule under the "global" env
// key, mirroring the implicit module-sharing trick the Python engine relied
// on via sys.modules.
const CommonRuleID = "global_helpers"

// RuleConfig is the wire shape returned by the control-plane API for a
// single detection rule. The API's own "enabled?type=RULE" endpoint
// already scopes the response to enabled rules, so there is no client-side
// enabled flag to re-filter on.
type RuleConfig struct {
	ID                 string              `json:"id"`
	Body               string              `json:"body"`
	VersionID          string              `json:"versionId"`
	LogTypes           []string            `json:"resourceTypes"`
	DedupPeriodMinutes int                 `json:"dedupPeriodMinutes,omitempty"`
	Tags               []string            `json:"tags,omitempty"`
	Reports            map[string][]string `json:"reports,omitempty"`
}

// RuleBody is the YAML manifest carried inside RuleConfig.Body. Each field
// is an independent expr-lang expression; all but "rule" are optional.
type RuleBody struct {
	Rule         string `yaml:"rule"`
	Title        string `yaml:"title,omitempty"`
	Dedup        string `yaml:"dedup,omitempty"`
	AlertContext string `yaml:"alert_context,omitempty"`
}

// RuleResult is the outcome of running a single rule against a single event.
type RuleResult struct {
	RuleID             string
	VersionID          string
	Matched            bool
	GenericError       error
	RuleOutput         bool
	RuleError          error
	TitleOutput        string
	TitleError         error
	DedupOutput        string
	DedupError         error
	AlertContextOutput string
	AlertContextError  error

	// DedupPeriodMinutes, Tags and Reports are copied from the rule's
	// RuleConfig at run time so the OutputBuffer can carry them through to
	// the object store without reaching back into the rule index.
	DedupPeriodMinutes int
	Tags               []string
	Reports            map[string][]string
}

// IsError reports whether the rule expression itself failed to evaluate.
// This is intentionally narrower than AnyError: it is what routes a batch
// result into the rule_errors object-store track rather than rule_matches,
// and a failing title/dedup/alert_context on an otherwise-successful match
// doesn't belong there.
func (r RuleResult) IsError() bool {
	return r.GenericError != nil || r.RuleError != nil
}

// AnyError reports whether any of the rule's four capabilities raised
// during this run. Used by the direct-test response's "errored" field,
// which must surface a broken title/dedup/alert_context function even when
// the rule predicate itself matched cleanly.
func (r RuleResult) AnyError() bool {
	return r.GenericError != nil || r.RuleError != nil || r.TitleError != nil ||
		r.DedupError != nil || r.AlertContextError != nil
}

// DefaultDedupPeriodMinutes is used when a rule config omits the field.
const DefaultDedupPeriodMinutes = 60

// RuleTemplate describes the skeleton a new detection rule body should start
// from; returned by the control surface's template endpoint.
type RuleTemplate struct {
	ID        string    `json:"id"`
	Body      string    `json:"body"`
	LogTypes  []string  `json:"logTypes"`
	CreatedAt time.Time `json:"created_at"`
}

func DefaultRuleTemplate() RuleTemplate {
	return RuleTemplate{
		ID: "",
		Body: "" +
			"rule: event.severity == \"CRITICAL\"\n" +
			"title: '\"Critical event from \" + event.source'\n" +
			"dedup: event.source\n" +
			"alert_context: '{\"source\": event.source}'\n",
		LogTypes:  []string{},
		CreatedAt: time.Time{},
	}
}
