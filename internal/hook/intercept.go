package hook

import (
	"context"
	"sync"
)

// The package-level default orchestrator exists only for the outermost
// integration boundary. The Orchestrator type itself is plain-constructible
// and fully testable without it.
var (
	defaultMu           sync.RWMutex
	defaultOrchestrator *Orchestrator
)

// SetDefault installs the process-wide default orchestrator.
func SetDefault(o *Orchestrator) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultOrchestrator = o
}

// Default returns the process-wide default orchestrator, or nil if none has
// been installed.
func Default() *Orchestrator {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultOrchestrator
}

// InterceptWrite validates a file write before execution.
func (o *Orchestrator) InterceptWrite(ctx context.Context, filePath, content string, metadata map[string]any) (bool, *ValidationReport) {
	return o.InterceptToolCall(ctx, string(ToolWrite), map[string]any{
		"file_path": filePath,
		"content":   content,
	}, metadata)
}

// InterceptEdit validates a single-replacement edit before execution.
func (o *Orchestrator) InterceptEdit(ctx context.Context, filePath, oldString, newString string, metadata map[string]any) (bool, *ValidationReport) {
	return o.InterceptToolCall(ctx, string(ToolEdit), map[string]any{
		"file_path":  filePath,
		"old_string": oldString,
		"new_string": newString,
	}, metadata)
}

// InterceptMultiEdit validates an ordered batch of edits before execution.
func (o *Orchestrator) InterceptMultiEdit(ctx context.Context, filePath string, edits []Edit, metadata map[string]any) (bool, *ValidationReport) {
	return o.InterceptToolCall(ctx, string(ToolMultiEdit), map[string]any{
		"file_path": filePath,
		"edits":     edits,
	}, metadata)
}

// InterceptBash validates a shell command before execution.
func (o *Orchestrator) InterceptBash(ctx context.Context, command string, metadata map[string]any) (bool, *ValidationReport) {
	return o.InterceptToolCall(ctx, string(ToolBash), map[string]any{
		"command": command,
	}, metadata)
}

// InterceptRead validates a file read before execution.
func (o *Orchestrator) InterceptRead(ctx context.Context, filePath string, metadata map[string]any) (bool, *ValidationReport) {
	return o.InterceptToolCall(ctx, string(ToolRead), map[string]any{
		"file_path": filePath,
	}, metadata)
}
