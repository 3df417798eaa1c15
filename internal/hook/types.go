package hook

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ToolType identifies the kind of tool invocation being validated.
// The set is closed: unknown strings fail ParseToolType.
type ToolType string

const (
	ToolWrite     ToolType = "Write"
	ToolEdit      ToolType = "Edit"
	ToolMultiEdit ToolType = "MultiEdit"
	ToolBash      ToolType = "Bash"
	ToolRead      ToolType = "Read"
)

// ParseToolType maps a case-insensitive string to a ToolType.
func ParseToolType(s string) (ToolType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "write":
		return ToolWrite, nil
	case "edit":
		return ToolEdit, nil
	case "multiedit", "multi_edit":
		return ToolMultiEdit, nil
	case "bash":
		return ToolBash, nil
	case "read":
		return ToolRead, nil
	}
	return "", fmt.Errorf("unknown tool type %q", s)
}

// ValidationResult is the overall outcome of validating one tool call.
//
// Passed is the initial optimistic state. Warning downgrades only from
// Passed; once Failed is set it is never downgraded. Bypassed and Error are
// terminal outcomes reached directly, never via escalation.
type ValidationResult int

const (
	ResultPassed ValidationResult = iota
	ResultWarning
	ResultFailed
	ResultBypassed
	ResultError
)

// String returns the lowercase result name.
func (r ValidationResult) String() string {
	switch r {
	case ResultPassed:
		return "passed"
	case ResultWarning:
		return "warning"
	case ResultFailed:
		return "failed"
	case ResultBypassed:
		return "bypassed"
	case ResultError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalJSON serializes the result as its string value.
func (r ValidationResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// UnmarshalJSON parses the string form of a result.
func (r *ValidationResult) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "passed":
		*r = ResultPassed
	case "warning":
		*r = ResultWarning
	case "failed":
		*r = ResultFailed
	case "bypassed":
		*r = ResultBypassed
	case "error":
		*r = ResultError
	default:
		return fmt.Errorf("unknown validation result %q", s)
	}
	return nil
}

// escalate applies the monotonic transition rule: Failed is sticky, Warning
// only upgrades from Passed.
func escalate(cur, next ValidationResult) ValidationResult {
	if cur == ResultFailed || next == ResultFailed {
		return ResultFailed
	}
	if next == ResultWarning && cur == ResultPassed {
		return ResultWarning
	}
	return cur
}

// RiskLevel orders findings from least to most severe.
type RiskLevel int

const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
	RiskCritical
)

// String returns the lowercase risk name.
func (r RiskLevel) String() string {
	switch r {
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	case RiskCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Severity classifies a validator finding as fatal or advisory.
type Severity int

const (
	SeverityWarning Severity = iota
	SeverityError
)

// Edit is one replacement in a MultiEdit call.
type Edit struct {
	OldString string `json:"old_string"`
	NewString string `json:"new_string"`
}

// ToolCall is one in-flight request to validate. It is created fresh per
// validation request, owned by the orchestrator call that created it, and
// passed read-only to validators. Do not mutate after construction.
type ToolCall struct {
	ToolType   ToolType
	Parameters map[string]any
	Metadata   map[string]any
	Timestamp  time.Time
	SessionID  string
	AgentID    string
}

// NewToolCall constructs a ToolCall, lifting session/agent ids out of the
// metadata map.
func NewToolCall(toolType ToolType, params, metadata map[string]any) *ToolCall {
	tc := &ToolCall{
		ToolType:   toolType,
		Parameters: params,
		Metadata:   metadata,
		Timestamp:  time.Now(),
	}
	tc.SessionID = tc.MetaString("session_id")
	tc.AgentID = tc.MetaString("agent_id")
	return tc
}

// FilePath returns the file_path parameter, if any.
func (tc *ToolCall) FilePath() string {
	return tc.paramString("file_path")
}

// Content returns the content parameter, if any.
func (tc *ToolCall) Content() string {
	return tc.paramString("content")
}

// NewString returns the new_string parameter of an Edit call, if any.
func (tc *ToolCall) NewString() string {
	return tc.paramString("new_string")
}

// Command returns the command parameter, if any.
func (tc *ToolCall) Command() string {
	return tc.paramString("command")
}

// Edits returns the ordered edit list of a MultiEdit call. Entries that are
// not objects with string fields are skipped.
func (tc *ToolCall) Edits() []Edit {
	raw, ok := tc.Parameters["edits"]
	if !ok {
		return nil
	}

	switch v := raw.(type) {
	case []Edit:
		return v
	case []any:
		edits := make([]Edit, 0, len(v))
		for _, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			var e Edit
			if s, ok := m["old_string"].(string); ok {
				e.OldString = s
			}
			if s, ok := m["new_string"].(string); ok {
				e.NewString = s
			}
			edits = append(edits, e)
		}
		return edits
	}
	return nil
}

// MetaFlag reports whether a metadata key is set to a true value.
func (tc *ToolCall) MetaFlag(key string) bool {
	v, ok := tc.Metadata[key]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// MetaString returns a metadata value as a string, or "".
func (tc *ToolCall) MetaString(key string) string {
	v, ok := tc.Metadata[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func (tc *ToolCall) paramString(key string) string {
	v, ok := tc.Parameters[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// ValidationReport is the outcome of validating one ToolCall. It is mutated
// incrementally while validator results are merged in, and must be treated as
// immutable once handed to the feedback system and the caller.
type ValidationReport struct {
	ReportID          string                       `json:"report_id"`
	ToolCall          *ToolCall                    `json:"-"`
	ToolType          ToolType                     `json:"tool_type"`
	Result            ValidationResult             `json:"validation_result"`
	ExecutionTime     time.Duration                `json:"execution_time"`
	ValidatorResults  map[string]*ValidatorResult  `json:"validator_results"`
	Warnings          []string                     `json:"warnings"`
	Errors            []string                     `json:"errors"`
	BypassedValidators []string                    `json:"bypassed_validators"`
	SecurityScore     float64                      `json:"security_score"`
	PerformanceImpact string                       `json:"performance_impact"`
	Recommendations   []string                     `json:"recommendations"`
	SessionID         string                       `json:"session_id,omitempty"`
	AgentID           string                       `json:"agent_id,omitempty"`
	Timestamp         time.Time                    `json:"timestamp"`
}

// ValidatorResult is the raw outcome of a single validator run.
type ValidatorResult struct {
	Passed          bool      `json:"passed"`
	Severity        Severity  `json:"-"`
	Score           float64   `json:"score"`
	Risk            RiskLevel `json:"-"`
	Warnings        []string  `json:"warnings,omitempty"`
	Errors          []string  `json:"errors,omitempty"`
	Recommendations []string  `json:"recommendations,omitempty"`
}

// mergeResult folds one validator's result into the report per the monotonic
// transition rule. Messages are prefixed with the validator name so a finding
// can be traced back to its origin.
func (r *ValidationReport) mergeResult(name string, res *ValidatorResult) {
	r.ValidatorResults[name] = res

	for _, w := range res.Warnings {
		r.Warnings = append(r.Warnings, name+": "+w)
	}
	for _, e := range res.Errors {
		r.Errors = append(r.Errors, name+": "+e)
	}
	r.Recommendations = append(r.Recommendations, res.Recommendations...)

	if !res.Passed {
		if res.Severity == SeverityWarning {
			r.Result = escalate(r.Result, ResultWarning)
		} else {
			r.Result = escalate(r.Result, ResultFailed)
		}
	}
}
