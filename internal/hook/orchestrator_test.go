package hook

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hookguard/hookguard/internal/config"
)

// stubValidator is a test helper that returns a fixed result.
type stubValidator struct {
	name      string
	tools     []ToolType
	essential bool
	heavy     bool
	weight    float64
	timeout   time.Duration
	result    *ValidatorResult
	err       error
	delay     time.Duration
	panics    bool

	mu    sync.Mutex
	calls int
}

func (s *stubValidator) Name() string { return s.name }

func (s *stubValidator) Handles(t ToolType) bool {
	if len(s.tools) == 0 {
		return true
	}
	for _, tt := range s.tools {
		if tt == t {
			return true
		}
	}
	return false
}

func (s *stubValidator) Essential() bool { return s.essential }
func (s *stubValidator) Heavy() bool     { return s.heavy }

func (s *stubValidator) Weight() float64 {
	if s.weight == 0 {
		return 1.0
	}
	return s.weight
}

func (s *stubValidator) Timeout() time.Duration {
	if s.timeout == 0 {
		return time.Second
	}
	return s.timeout
}

func (s *stubValidator) Validate(ctx context.Context, _ *ToolCall) (*ValidatorResult, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	if s.panics {
		panic("stub validator panic")
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	if s.result != nil {
		return s.result, nil
	}
	return &ValidatorResult{Passed: true, Score: 1.0}, nil
}

func (s *stubValidator) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// bypassingValidator wraps a stub with a bypass predicate.
type bypassingValidator struct {
	stubValidator
	reason string
}

func (b *bypassingValidator) Bypass(_ *ToolCall) (string, bool) {
	return b.reason, b.reason != ""
}

func newTestOrchestrator(t *testing.T, cfg *config.Config, vs ...Validator) *Orchestrator {
	t.Helper()
	o, err := New(Options{
		Config:     cfg,
		Validators: vs,
		Logger:     zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o
}

func writeParams() map[string]any {
	return map[string]any{"file_path": "/tmp/notes.go", "content": "package notes\n"}
}

func TestInterceptDisabledBypassesWithoutMetrics(t *testing.T) {
	cfg := config.Default()
	cfg.Enabled = false
	v := &stubValidator{name: "v", essential: true}
	o := newTestOrchestrator(t, cfg, v)

	proceed, report := o.InterceptToolCall(context.Background(), "Write", writeParams(), nil)

	if !proceed {
		t.Fatal("disabled system must allow the call")
	}
	if report.Result != ResultBypassed {
		t.Fatalf("expected BYPASSED, got %v", report.Result)
	}
	if v.callCount() != 0 {
		t.Fatal("no validator should run when disabled")
	}
	if got := o.Metrics().Total; got != 0 {
		t.Fatalf("disabled intercepts must not count, got total=%d", got)
	}
}

func TestInterceptUnknownToolType(t *testing.T) {
	cfg := config.Default()
	cfg.GracefulDegradation = true
	o := newTestOrchestrator(t, cfg, &stubValidator{name: "v", essential: true})

	proceed, report := o.InterceptToolCall(context.Background(), "Teleport", nil, nil)
	if report.Result != ResultError {
		t.Fatalf("expected ERROR, got %v", report.Result)
	}
	if !proceed {
		t.Fatal("graceful degradation should allow unknown tool types")
	}

	cfg2 := config.Default()
	cfg2.GracefulDegradation = false
	o2 := newTestOrchestrator(t, cfg2, &stubValidator{name: "v", essential: true})
	proceed, _ = o2.InterceptToolCall(context.Background(), "Teleport", nil, nil)
	if proceed {
		t.Fatal("without graceful degradation an unknown tool type must be blocked")
	}
}

func TestInterceptSchemaViolationFails(t *testing.T) {
	o := newTestOrchestrator(t, config.Default(), &stubValidator{name: "v", essential: true})

	proceed, report := o.InterceptToolCall(context.Background(), "Write",
		map[string]any{"content": "missing file_path"}, nil)

	if proceed {
		t.Fatal("schema violation must block")
	}
	if report.Result != ResultFailed {
		t.Fatalf("expected FAILED, got %v", report.Result)
	}
	if len(report.Errors) == 0 {
		t.Fatal("expected a schema error message")
	}
}

func TestInterceptDecisionTable(t *testing.T) {
	cases := []struct {
		name              string
		result            *ValidatorResult
		err               error
		proceedOnWarnings bool
		graceful          bool
		level             config.Level
		wantResult        ValidationResult
		wantProceed       bool
	}{
		{
			name:        "clean pass",
			result:      &ValidatorResult{Passed: true, Score: 1.0},
			wantResult:  ResultPassed,
			wantProceed: true,
		},
		{
			name:              "warning with proceed_on_warnings",
			result:            &ValidatorResult{Passed: false, Severity: SeverityWarning, Score: 0.8},
			proceedOnWarnings: true,
			wantResult:        ResultWarning,
			wantProceed:       true,
		},
		{
			name:        "warning without proceed_on_warnings",
			result:      &ValidatorResult{Passed: false, Severity: SeverityWarning, Score: 0.8},
			wantResult:  ResultWarning,
			wantProceed: false,
		},
		{
			name:              "failure never proceeds",
			result:            &ValidatorResult{Passed: false, Severity: SeverityError, Score: 0.1},
			proceedOnWarnings: true,
			graceful:          true,
			wantResult:        ResultFailed,
			wantProceed:       false,
		},
		{
			name:        "validator error tolerated below strict",
			err:         errors.New("backend unavailable"),
			level:       config.LevelStandard,
			wantResult:  ResultPassed,
			wantProceed: true,
		},
		{
			name:        "validator error fatal under strict",
			err:         errors.New("backend unavailable"),
			level:       config.LevelStrict,
			wantResult:  ResultFailed,
			wantProceed: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.ProceedOnWarnings = tc.proceedOnWarnings
			cfg.GracefulDegradation = tc.graceful
			if tc.level != "" {
				cfg.ValidationLevel = tc.level
			}

			v := &stubValidator{name: "v", essential: true, result: tc.result, err: tc.err}
			o := newTestOrchestrator(t, cfg, v)

			proceed, report := o.InterceptToolCall(context.Background(), "Write", writeParams(), nil)
			if report.Result != tc.wantResult {
				t.Fatalf("result = %v, want %v", report.Result, tc.wantResult)
			}
			if proceed != tc.wantProceed {
				t.Fatalf("proceed = %v, want %v", proceed, tc.wantProceed)
			}
		})
	}
}

func TestInterceptLevelNoneBypassesAll(t *testing.T) {
	cfg := config.Default()
	cfg.ValidationLevel = config.LevelNone
	v := &stubValidator{name: "v", essential: true}
	o := newTestOrchestrator(t, cfg, v)

	proceed, report := o.InterceptToolCall(context.Background(), "Write", writeParams(), nil)
	if !proceed || report.Result != ResultBypassed {
		t.Fatalf("level none: proceed=%v result=%v", proceed, report.Result)
	}
	if len(report.BypassedValidators) != 1 || report.BypassedValidators[0] != "v" {
		t.Fatalf("expected bypassed list [v], got %v", report.BypassedValidators)
	}
	if v.callCount() != 0 {
		t.Fatal("level none must not run validators")
	}
}

func TestLevelAdmits(t *testing.T) {
	essential := &stubValidator{name: "essential", essential: true}
	heavyEssential := &stubValidator{name: "heavy_essential", essential: true, heavy: true}
	optionalHeavy := &stubValidator{name: "optional_heavy", heavy: true}

	cases := []struct {
		level config.Level
		v     Validator
		want  bool
	}{
		{config.LevelBasic, essential, true},
		{config.LevelBasic, heavyEssential, false},
		{config.LevelBasic, optionalHeavy, false},
		{config.LevelStandard, essential, true},
		{config.LevelStandard, heavyEssential, true},
		{config.LevelStandard, optionalHeavy, false},
		{config.LevelStrict, optionalHeavy, true},
	}

	for _, tc := range cases {
		if got := levelAdmits(tc.level, tc.v); got != tc.want {
			t.Fatalf("levelAdmits(%s, %s) = %v, want %v", tc.level, tc.v.Name(), got, tc.want)
		}
	}
}

func TestInterceptMetadataBypass(t *testing.T) {
	v := &stubValidator{name: "v", essential: true}
	o := newTestOrchestrator(t, config.Default(), v)

	proceed, report := o.InterceptToolCall(context.Background(), "Write", writeParams(),
		map[string]any{"bypass_validation": true})

	if !proceed || report.Result != ResultBypassed {
		t.Fatalf("bypass flag: proceed=%v result=%v", proceed, report.Result)
	}
	if len(report.BypassedValidators) != 1 {
		t.Fatalf("expected 1 bypassed validator, got %v", report.BypassedValidators)
	}
	if v.callCount() != 0 {
		t.Fatal("bypassed validator must not run")
	}
}

func TestInterceptValidatorPredicateBypass(t *testing.T) {
	skipping := &bypassingValidator{
		stubValidator: stubValidator{name: "skipper", essential: true},
		reason:        "trusted source",
	}
	running := &stubValidator{
		name:      "runner",
		essential: true,
		result:    &ValidatorResult{Passed: true, Score: 1.0},
	}
	o := newTestOrchestrator(t, config.Default(), skipping, running)

	proceed, report := o.InterceptToolCall(context.Background(), "Write", writeParams(), nil)

	if !proceed || report.Result != ResultPassed {
		t.Fatalf("proceed=%v result=%v", proceed, report.Result)
	}
	// Only a fully bypassed call reports BYPASSED; a partial skip stays
	// PASSED with an empty bypass list.
	if len(report.BypassedValidators) != 0 {
		t.Fatalf("partial bypass must not populate the list, got %v", report.BypassedValidators)
	}
	if skipping.callCount() != 0 || running.callCount() != 1 {
		t.Fatalf("unexpected call counts: skipper=%d runner=%d", skipping.callCount(), running.callCount())
	}
}

func TestInterceptWeightedScore(t *testing.T) {
	light := &stubValidator{
		name: "light", essential: true, weight: 1.0,
		result: &ValidatorResult{Passed: true, Score: 1.0},
	}
	heavy := &stubValidator{
		name: "weighted", essential: true, weight: 2.0,
		result: &ValidatorResult{Passed: true, Score: 0.4},
	}
	o := newTestOrchestrator(t, config.Default(), light, heavy)

	_, report := o.InterceptToolCall(context.Background(), "Write", writeParams(), nil)

	want := (1.0*1.0 + 0.4*2.0) / 3.0
	if diff := report.SecurityScore - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("weighted score = %v, want %v", report.SecurityScore, want)
	}
}

func TestInterceptValidatorTimeout(t *testing.T) {
	slow := &stubValidator{
		name:      "slow",
		essential: true,
		timeout:   20 * time.Millisecond,
		delay:     500 * time.Millisecond,
	}
	cfg := config.Default()
	o := newTestOrchestrator(t, cfg, slow)

	proceed, report := o.InterceptToolCall(context.Background(), "Write", writeParams(), nil)

	// Below strict a timed-out validator is tolerated.
	if !proceed || report.Result != ResultPassed {
		t.Fatalf("proceed=%v result=%v", proceed, report.Result)
	}
	if len(report.Errors) == 0 {
		t.Fatal("expected a timeout error message")
	}
}

func TestInterceptValidatorPanicIsCaptured(t *testing.T) {
	panicking := &stubValidator{name: "boom", essential: true, panics: true}
	o := newTestOrchestrator(t, config.Default(), panicking)

	proceed, report := o.InterceptToolCall(context.Background(), "Write", writeParams(), nil)
	if !proceed || report.Result != ResultPassed {
		t.Fatalf("panic below strict must be tolerated: proceed=%v result=%v", proceed, report.Result)
	}
	if len(report.Errors) == 0 {
		t.Fatal("expected a panic error message")
	}
}

func TestInterceptConcurrentCalls(t *testing.T) {
	v := &stubValidator{
		name: "v", essential: true,
		result: &ValidatorResult{Passed: true, Score: 1.0},
	}
	o := newTestOrchestrator(t, config.Default(), v)

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			proceed, report := o.InterceptToolCall(context.Background(), "Write", writeParams(), nil)
			if !proceed || report.Result != ResultPassed {
				t.Errorf("concurrent call failed: proceed=%v result=%v", proceed, report.Result)
			}
		}()
	}
	wg.Wait()

	if got := o.Metrics().Total; got != n {
		t.Fatalf("expected %d counted validations, got %d", n, got)
	}
}

func TestSetValidationLevel(t *testing.T) {
	o := newTestOrchestrator(t, config.Default(), &stubValidator{name: "v", essential: true})

	if err := o.SetValidationLevel(config.LevelStrict); err != nil {
		t.Fatalf("SetValidationLevel: %v", err)
	}
	if got := o.Config().ValidationLevel; got != config.LevelStrict {
		t.Fatalf("level = %v, want strict", got)
	}
	if err := o.SetValidationLevel("paranoid"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestUpdateConfigRebuildsValidators(t *testing.T) {
	rebuilt := 0
	cfg := config.Default()
	o, err := New(Options{
		Config:     cfg,
		Validators: []Validator{&stubValidator{name: "v", essential: true}},
		Rebuild: func(c *config.Config) []Validator {
			rebuilt++
			return []Validator{&stubValidator{name: "v", essential: true}}
		},
		Logger: zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := o.UpdateConfig(map[string]any{"validation_level": "strict"}); err != nil {
		t.Fatalf("UpdateConfig: %v", err)
	}
	if rebuilt != 1 {
		t.Fatalf("expected 1 rebuild, got %d", rebuilt)
	}
	if o.Config().ValidationLevel != config.LevelStrict {
		t.Fatalf("level not applied: %v", o.Config().ValidationLevel)
	}

	if err := o.UpdateConfig(map[string]any{"sanitizer.timeout_ms": -1}); err == nil {
		t.Fatal("expected invalid config to be rejected")
	}
}

func TestGenerateReportHealthy(t *testing.T) {
	v := &stubValidator{name: "v", essential: true, result: &ValidatorResult{Passed: true, Score: 1.0}}
	o := newTestOrchestrator(t, config.Default(), v)

	for i := 0; i < 5; i++ {
		o.InterceptToolCall(context.Background(), "Write", writeParams(), nil)
	}

	report := o.GenerateReport(time.Hour)
	if len(report.Recommendations) != 1 {
		t.Fatalf("expected single healthy recommendation, got %v", report.Recommendations)
	}
	if report.Metrics.Total != 5 || report.Metrics.Passed != 5 {
		t.Fatalf("unexpected metrics: %+v", report.Metrics)
	}
}

func BenchmarkInterceptToolCall(b *testing.B) {
	vs := []Validator{
		&stubValidator{name: "a", essential: true, result: &ValidatorResult{Passed: true, Score: 1.0}},
		&stubValidator{name: "b", essential: true, result: &ValidatorResult{Passed: true, Score: 0.9}},
		&stubValidator{name: "c", essential: true, weight: 2.0, result: &ValidatorResult{Passed: true, Score: 0.8}},
	}
	o, err := New(Options{Config: config.Default(), Validators: vs, Logger: zap.NewNop()})
	if err != nil {
		b.Fatalf("New: %v", err)
	}
	params := writeParams()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		o.InterceptToolCall(context.Background(), "Write", params, nil)
	}
}
