package hook

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hookguard/hookguard/internal/config"
	"github.com/hookguard/hookguard/internal/perfmon"
	"github.com/hookguard/hookguard/internal/storage"
	"go.uber.org/zap"
)

// FeedbackSink receives finalized validation reports for broadcast.
// Implementations must not assume they are called on the request goroutine.
type FeedbackSink interface {
	SendValidationUpdate(report *ValidationReport)
}

// Options configures an Orchestrator. Config and Validators are required;
// everything else is optional.
type Options struct {
	Config     *config.Config
	Validators []Validator

	// Rebuild recreates the validator set from a new config. Used by
	// UpdateConfig and ReloadConfig so runtime tunable changes reach the
	// validators, which are resolved at construction time.
	Rebuild func(cfg *config.Config) []Validator

	Feedback FeedbackSink
	Writer   storage.EventWriter
	Perf     perfmon.Monitor
	Logger   *zap.Logger
}

// registration binds a validator to its aggregation weight in the per-tool
// dispatch table.
type registration struct {
	validator Validator
	weight    float64
}

// Orchestrator is the single entry point for hook validation. One instance
// may serve concurrent callers: each call builds its own ToolCall and
// ValidationReport, and the only shared mutable state is the metrics
// counters, guarded by a single coarse lock held only for the update itself.
type Orchestrator struct {
	cfgMu    sync.RWMutex
	cfg      *config.Config
	registry map[ToolType][]registration
	rebuild  func(cfg *config.Config) []Validator

	schemas  *paramSchemas
	feedback FeedbackSink
	writer   storage.EventWriter
	perf     perfmon.Monitor
	logger   *zap.Logger

	metricsMu sync.Mutex
	metrics   metricsState
}

// allToolTypes is the closed set the dispatch table covers. Resolution
// happens at construction, not per call.
var allToolTypes = []ToolType{ToolWrite, ToolEdit, ToolMultiEdit, ToolBash, ToolRead}

// New creates an Orchestrator with the dispatch table resolved from the given
// validator set.
func New(opts Options) (*Orchestrator, error) {
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Perf == nil {
		opts.Perf = perfmon.Nop{}
	}

	schemas, err := compileParamSchemas()
	if err != nil {
		return nil, fmt.Errorf("compile parameter schemas: %w", err)
	}

	o := &Orchestrator{
		cfg:      opts.Config,
		rebuild:  opts.Rebuild,
		schemas:  schemas,
		feedback: opts.Feedback,
		writer:   opts.Writer,
		perf:     opts.Perf,
		logger:   opts.Logger,
	}
	o.registry = buildRegistry(opts.Validators)
	return o, nil
}

func buildRegistry(validators []Validator) map[ToolType][]registration {
	registry := make(map[ToolType][]registration, len(allToolTypes))
	for _, toolType := range allToolTypes {
		for _, v := range validators {
			if v.Handles(toolType) {
				registry[toolType] = append(registry[toolType], registration{
					validator: v,
					weight:    v.Weight(),
				})
			}
		}
	}
	return registry
}

// Config returns the active configuration.
func (o *Orchestrator) Config() *config.Config {
	o.cfgMu.RLock()
	defer o.cfgMu.RUnlock()
	return o.cfg
}

// SetEnabled toggles the whole system at runtime. Takes effect on the next
// call.
func (o *Orchestrator) SetEnabled(enabled bool) {
	o.cfgMu.Lock()
	defer o.cfgMu.Unlock()
	next := *o.cfg
	next.Enabled = enabled
	o.cfg = &next
}

// SetValidationLevel changes the validation level at runtime.
func (o *Orchestrator) SetValidationLevel(level config.Level) error {
	if _, err := config.ParseLevel(string(level)); err != nil {
		return err
	}
	o.cfgMu.Lock()
	defer o.cfgMu.Unlock()
	next := *o.cfg
	next.ValidationLevel = level
	o.cfg = &next
	return nil
}

// UpdateConfig applies partial key/value updates and rebuilds the validator
// set so tunable changes take effect on the next call.
func (o *Orchestrator) UpdateConfig(updates map[string]any) error {
	o.cfgMu.Lock()
	defer o.cfgMu.Unlock()

	next := *o.cfg
	if err := next.ApplyUpdates(updates); err != nil {
		return err
	}
	if issues := next.Validate(); len(issues) > 0 {
		return fmt.Errorf("invalid config after update: %v", issues)
	}
	o.swapConfigLocked(&next)
	return nil
}

// ReloadConfig replaces the configuration from file. A missing or corrupt
// file is reported but does not tear down the running config.
func (o *Orchestrator) ReloadConfig(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if issues := cfg.Validate(); len(issues) > 0 {
		return fmt.Errorf("invalid config in %s: %v", path, issues)
	}

	o.cfgMu.Lock()
	defer o.cfgMu.Unlock()
	o.swapConfigLocked(cfg)
	o.logger.Info("configuration reloaded", zap.String("path", path))
	return nil
}

func (o *Orchestrator) swapConfigLocked(cfg *config.Config) {
	o.cfg = cfg
	if o.rebuild != nil {
		o.registry = buildRegistry(o.rebuild(cfg))
	}
}

// InterceptToolCall validates one tool invocation and decides whether it may
// proceed. No error or panic from the pipeline ever propagates to the caller:
// anything escaping the per-validator capture is converted to an ERROR report
// and the graceful-degradation rule decides the outcome.
func (o *Orchestrator) InterceptToolCall(ctx context.Context, toolType string, params, metadata map[string]any) (proceed bool, report *ValidationReport) {
	cfg := o.Config()

	// Globally disabled: zero cost, no metrics side effects.
	if !cfg.Enabled {
		return true, o.newReport(nil, "", ResultBypassed)
	}

	tt, err := ParseToolType(toolType)
	if err != nil {
		report = o.newReport(nil, ToolType(toolType), ResultError)
		report.Errors = append(report.Errors, err.Error())
		o.finalize(cfg, report, time.Now())
		return cfg.GracefulDegradation, report
	}

	call := NewToolCall(tt, params, metadata)
	report = o.newReport(call, tt, ResultPassed)
	start := time.Now()

	defer func() {
		if p := recover(); p != nil {
			o.logger.Error("validation pipeline panic", zap.Any("panic", p))
			report.Result = ResultError
			report.Errors = append(report.Errors, fmt.Sprintf("internal validation error: %v", p))
			o.finalize(cfg, report, start)
			proceed = cfg.GracefulDegradation
		}
	}()

	o.runPipeline(ctx, cfg, call, report)
	o.finalize(cfg, report, start)

	return o.decide(cfg, report.Result), report
}

func (o *Orchestrator) newReport(call *ToolCall, tt ToolType, result ValidationResult) *ValidationReport {
	r := &ValidationReport{
		ReportID:         uuid.New().String(),
		ToolCall:         call,
		ToolType:         tt,
		Result:           result,
		ValidatorResults: make(map[string]*ValidatorResult),
		SecurityScore:    1.0,
		Timestamp:        time.Now(),
	}
	if call != nil {
		r.SessionID = call.SessionID
		r.AgentID = call.AgentID
	}
	return r
}

// validatorOutcome is one validator's run collected from the fan-out.
type validatorOutcome struct {
	name   string
	weight float64
	res    *ValidatorResult
	err    error
	dur    time.Duration
}

func (o *Orchestrator) runPipeline(ctx context.Context, cfg *config.Config, call *ToolCall, report *ValidationReport) {
	registered := o.registrationsFor(call.ToolType)

	// Level "none" short-circuits before any validator work.
	if cfg.ValidationLevel == config.LevelNone {
		report.Result = ResultBypassed
		for _, reg := range registered {
			report.BypassedValidators = append(report.BypassedValidators, reg.validator.Name())
		}
		return
	}

	if err := o.schemas.validate(call); err != nil {
		report.Result = ResultFailed
		report.Errors = append(report.Errors, err.Error())
		report.Recommendations = append(report.Recommendations,
			"supply the required parameters for this tool type")
		return
	}

	selected, bypassed := o.selectValidators(cfg, call, registered)

	// Everything skipped: the call was effectively bypassed.
	if len(selected) == 0 {
		if len(bypassed) > 0 {
			report.Result = ResultBypassed
			report.BypassedValidators = bypassed
		}
		return
	}

	outcomes := o.fanOut(ctx, call, selected)

	strict := cfg.ValidationLevel == config.LevelStrict
	var weightedSum, weightTotal float64

	for _, out := range outcomes {
		o.perf.Record(out.name, out.dur, out.err != nil)

		if out.err != nil {
			o.logger.Warn("validator error",
				zap.String("validator", out.name),
				zap.Error(out.err),
			)
			report.Errors = append(report.Errors, out.name+": validation error: "+out.err.Error())
			o.recordValidatorError(out.name)
			// A broken validator fails the report only under strict.
			if strict {
				report.Result = escalate(report.Result, ResultFailed)
			}
			continue
		}
		if out.res == nil {
			continue
		}

		report.mergeResult(out.name, out.res)
		weightedSum += out.res.Score * out.weight
		weightTotal += out.weight
	}

	if weightTotal > 0 {
		report.SecurityScore = clampScore(weightedSum / weightTotal)
	}
}

func (o *Orchestrator) registrationsFor(tt ToolType) []registration {
	o.cfgMu.RLock()
	defer o.cfgMu.RUnlock()
	return o.registry[tt]
}

// selectValidators applies the level filter and bypass predicates.
//
// Bypass precedence is fixed: the config-level disable is checked first, then
// per-call metadata flags, then the validator's own predicate. The first
// match wins and later predicates are not consulted.
func (o *Orchestrator) selectValidators(cfg *config.Config, call *ToolCall, registered []registration) (selected []registration, bypassed []string) {
	for _, reg := range registered {
		v := reg.validator

		if !levelAdmits(cfg.ValidationLevel, v) {
			continue
		}

		if !validatorEnabled(cfg, v.Name()) {
			bypassed = append(bypassed, v.Name())
			continue
		}
		if call.MetaFlag("bypass_validation") {
			bypassed = append(bypassed, v.Name())
			continue
		}
		if bp, ok := v.(BypassPredicate); ok {
			if reason, skip := bp.Bypass(call); skip {
				o.logger.Debug("validator bypassed",
					zap.String("validator", v.Name()),
					zap.String("reason", reason),
				)
				bypassed = append(bypassed, v.Name())
				continue
			}
		}

		selected = append(selected, reg)
	}
	return selected, bypassed
}

// levelAdmits implements the validation level filter: basic keeps essential
// non-heavy validators, standard drops heavy validators unless essential,
// strict runs everything.
func levelAdmits(level config.Level, v Validator) bool {
	switch level {
	case config.LevelBasic:
		return v.Essential() && !v.Heavy()
	case config.LevelStandard:
		return v.Essential() || !v.Heavy()
	case config.LevelStrict:
		return true
	default:
		return true
	}
}

func validatorEnabled(cfg *config.Config, name string) bool {
	switch name {
	case "context_sanitizer":
		return cfg.Sanitizer.Enabled
	case "shell_validator":
		return cfg.Shell.Enabled
	case "security_scanner":
		return cfg.Scanner.Enabled
	default:
		return true
	}
}

// fanOut runs the selected validators concurrently and collects every
// outcome. Each validator gets its own timeout and panic capture, so one
// misbehaving validator can neither block nor crash the pipeline. The merge
// is associative, so completion order does not affect the final result.
func (o *Orchestrator) fanOut(ctx context.Context, call *ToolCall, selected []registration) []validatorOutcome {
	ch := make(chan validatorOutcome, len(selected))

	for _, reg := range selected {
		go func(reg registration) {
			v := reg.validator
			start := time.Now()

			vctx, cancel := context.WithTimeout(ctx, v.Timeout())
			defer cancel()

			inner := make(chan validatorOutcome, 1)
			go func() {
				defer func() {
					if p := recover(); p != nil {
						inner <- validatorOutcome{err: fmt.Errorf("validator panic: %v", p)}
					}
				}()
				res, err := v.Validate(vctx, call)
				inner <- validatorOutcome{res: res, err: err}
			}()

			var out validatorOutcome
			select {
			case out = <-inner:
			case <-vctx.Done():
				out = validatorOutcome{err: fmt.Errorf("timed out after %s", v.Timeout())}
			}
			out.name = v.Name()
			out.weight = reg.weight
			out.dur = time.Since(start)
			ch <- out
		}(reg)
	}

	outcomes := make([]validatorOutcome, 0, len(selected))
	for range selected {
		outcomes = append(outcomes, <-ch)
	}
	return outcomes
}

// decide applies the proceed decision table.
func (o *Orchestrator) decide(cfg *config.Config, result ValidationResult) bool {
	switch result {
	case ResultPassed, ResultBypassed:
		return true
	case ResultWarning:
		return cfg.ProceedOnWarnings
	case ResultFailed:
		return false
	case ResultError:
		return cfg.GracefulDegradation
	default:
		return false
	}
}

// finalize stamps timing, updates metrics, and emits feedback and the audit
// event. Broadcast and persistence are fire-and-forget: the report is
// immutable from here on and failures there never affect the decision.
func (o *Orchestrator) finalize(cfg *config.Config, report *ValidationReport, start time.Time) {
	report.ExecutionTime = time.Since(start)
	report.PerformanceImpact = classifyImpact(report.ExecutionTime, cfg.Performance.SlowValidationMS)

	o.updateMetrics(report)

	if o.feedback != nil {
		go o.feedback.SendValidationUpdate(report)
	}
	if o.writer != nil {
		o.writer.Write(eventFromReport(report))
	}
}

func classifyImpact(d time.Duration, slowMS int) string {
	slow := time.Duration(slowMS) * time.Millisecond
	switch {
	case d < slow/5:
		return "minimal"
	case d < slow:
		return "moderate"
	default:
		return "high"
	}
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

func eventFromReport(r *ValidationReport) *storage.ValidationEvent {
	names := make([]string, 0, len(r.ValidatorResults))
	passed := make([]bool, 0, len(r.ValidatorResults))
	scores := make([]float64, 0, len(r.ValidatorResults))
	for name, res := range r.ValidatorResults {
		names = append(names, name)
		passed = append(passed, res.Passed)
		scores = append(scores, res.Score)
	}

	metadata := make(map[string]string)
	if r.ToolCall != nil {
		for k, v := range r.ToolCall.Metadata {
			if s, ok := v.(string); ok {
				metadata[k] = s
			}
		}
	}

	return &storage.ValidationEvent{
		ReportID:           r.ReportID,
		Timestamp:          r.Timestamp,
		ToolType:           string(r.ToolType),
		Result:             r.Result.String(),
		SecurityScore:      r.SecurityScore,
		ExecutionMS:        float64(r.ExecutionTime) / float64(time.Millisecond),
		ValidatorNames:     names,
		ValidatorPassed:    passed,
		ValidatorScores:    scores,
		Warnings:           r.Warnings,
		Errors:             r.Errors,
		BypassedValidators: r.BypassedValidators,
		Recommendations:    r.Recommendations,
		SessionID:          r.SessionID,
		AgentID:            r.AgentID,
		Metadata:           metadata,
	}
}
