package storage

import "time"

// EventWriter is the interface for persisting validation events.
// Write() must NEVER block the caller.
type EventWriter interface {
	Write(event *ValidationEvent)
	Close()
}

// ValidationEvent represents a single hook validation outcome to be persisted.
type ValidationEvent struct {
	ReportID           string
	Timestamp          time.Time
	ToolType           string
	Result             string // "passed", "warning", "failed", "bypassed", "error"
	SecurityScore      float64
	ExecutionMS        float64
	ValidatorNames     []string
	ValidatorPassed    []bool
	ValidatorScores    []float64
	Warnings           []string
	Errors             []string
	BypassedValidators []string
	Recommendations    []string
	SessionID          string
	AgentID            string
	Metadata           map[string]string
}
