package engine

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mdwoicke/dentix-ortho-sub013/driver"
	"github.com/mdwoicke/dentix-ortho-sub013/evaluator"
	"github.com/mdwoicke/dentix-ortho-sub013/judge"
	"github.com/mdwoicke/dentix-ortho-sub013/logger"
	"github.com/mdwoicke/dentix-ortho-sub013/model"
	"github.com/mdwoicke/dentix-ortho-sub013/persona"
	"github.com/mdwoicke/dentix-ortho-sub013/store"
)

// ===== ORCHESTRATOR =====

// Orchestrator runs comparison runs end to end. Endpoint passes run
// concurrently; within one endpoint, tests run strictly in order.
type Orchestrator struct {
	client      driver.ChatClient
	evaluator   *evaluator.Evaluator
	resolver    *persona.Resolver
	cases       *store.TestCaseStore
	history     *store.HistoryStore
	endpoints   EndpointsConfig
	stepTimeout time.Duration

	mu         sync.Mutex
	onProgress func(model.ProgressEvent)
}

// NewOrchestrator wires the engine together. judge may be nil, which
// downgrades semantic checks to inconclusive issues.
func NewOrchestrator(client driver.ChatClient, j judge.Judge, resolver *persona.Resolver, cases *store.TestCaseStore, history *store.HistoryStore, endpoints EndpointsConfig) *Orchestrator {
	return &Orchestrator{
		client:    client,
		evaluator: evaluator.NewEvaluator(j),
		resolver:  resolver,
		cases:     cases,
		history:   history,
		endpoints: endpoints,
	}
}

// WithStepTimeout overrides the drivers' default per-step timeout.
func (o *Orchestrator) WithStepTimeout(timeout time.Duration) *Orchestrator {
	o.stepTimeout = timeout
	return o
}

// OnProgress registers a progress callback. Events are delivered one at a
// time; per endpoint they arrive in test order.
func (o *Orchestrator) OnProgress(fn func(model.ProgressEvent)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onProgress = fn
}

// RunComparison executes the selected tests against every enabled endpoint
// slot. Configuration problems are rejected before anything runs. The run is
// always persisted with a terminal status, even on cancellation.
func (o *Orchestrator) RunComparison(ctx context.Context, testIDs []string, cfg model.ComparisonConfig) (*model.ComparisonRun, error) {
	if cfg.EnabledCount() == 0 {
		return nil, fmt.Errorf("at least one endpoint must be enabled")
	}
	if len(testIDs) == 0 {
		return nil, fmt.Errorf("at least one test case must be selected")
	}
	for _, key := range model.EndpointOrder {
		if cfg.Enabled(key) && o.endpoints.Get(key).URL == "" {
			return nil, fmt.Errorf("endpoint %s is enabled but has no URL configured", key)
		}
	}

	cases := make([]model.TestCase, 0, len(testIDs))
	for _, id := range testIDs {
		tc, err := o.cases.Get(id)
		if err != nil {
			return nil, err
		}
		if tc.IsArchived {
			return nil, fmt.Errorf("test case %q is archived", id)
		}
		cases = append(cases, *tc)
	}

	run := &model.ComparisonRun{
		ComparisonID: uuid.NewString(),
		Status:       model.RunRunning,
		StartedAt:    time.Now().UTC(),
		Config:       cfg,
		TestResults:  make([]model.TestComparisonResult, len(cases)),
	}
	for i, tc := range cases {
		run.TestResults[i] = model.TestComparisonResult{TestID: tc.CaseID, TestName: tc.Name}
	}
	if err := o.history.Save(*run); err != nil {
		return nil, err
	}

	logger.Logger.Info("Comparison started",
		"comparison_id", run.ComparisonID,
		"tests", len(cases),
		"endpoints", cfg.EnabledCount())

	var notes []string
	noteMu := sync.Mutex{}
	addNote := func(format string, args ...interface{}) {
		noteMu.Lock()
		notes = append(notes, fmt.Sprintf(format, args...))
		noteMu.Unlock()
	}

	g := new(errgroup.Group)
	for _, key := range model.EndpointOrder {
		if !cfg.Enabled(key) {
			continue
		}
		key := key
		g.Go(func() error {
			o.runEndpoint(ctx, run, key, cases, addNote)
			return nil
		})
	}
	_ = g.Wait()

	cancelled := ctx.Err() != nil
	if cancelled {
		addNote("run cancelled before all tests completed")
	}

	run.Summary = o.summarize(run, cfg)
	run.Summary.Message = strings.Join(notes, "; ")
	now := time.Now().UTC()
	run.CompletedAt = &now
	if cancelled {
		run.Status = model.RunFailed
	} else {
		run.Status = model.RunCompleted
	}

	if err := o.history.Save(*run); err != nil {
		return nil, err
	}

	logger.Logger.Info("Comparison finished",
		"comparison_id", run.ComparisonID,
		"status", run.Status,
		"improvements", len(run.Summary.Improvements),
		"regressions", len(run.Summary.Regressions))
	return run, nil
}

// runEndpoint walks every test on one endpoint slot. An unreachable
// endpoint aborts this slot only; the remaining tests stay unrun.
func (o *Orchestrator) runEndpoint(ctx context.Context, run *model.ComparisonRun, key model.EndpointKey, cases []model.TestCase, addNote func(string, ...interface{})) {
	endpoint := o.endpoints.Get(key)

	if err := o.client.TestConnection(ctx, endpoint); err != nil {
		logger.Logger.Error("Endpoint unreachable, skipping its tests",
			"endpoint", key, "url", endpoint.URL, "error", err)
		addNote("%s unreachable: %v", key, err)
		return
	}

	d := driver.NewDriver(o.client, o.resolver)
	if o.stepTimeout > 0 {
		d = d.WithStepTimeout(o.stepTimeout)
	}

	for i, tc := range cases {
		if ctx.Err() != nil {
			logger.Logger.Info("Endpoint pass cancelled",
				"endpoint", key, "completed", i, "total", len(cases))
			return
		}

		if abort := o.runTest(ctx, run, d, key, endpoint, i, len(cases), tc, addNote); abort {
			return
		}
	}
}

// runTest drives and evaluates one test on one endpoint. A panic anywhere in
// the test body is contained as a failed result for that test alone; abort is
// true only when the whole endpoint pass must stop.
func (o *Orchestrator) runTest(ctx context.Context, run *model.ComparisonRun, d *driver.Driver, key model.EndpointKey, endpoint model.EndpointConfig, i, total int, tc model.TestCase, addNote func(string, ...interface{})) (abort bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Logger.Error("Test execution panicked",
				"endpoint", key, "case_id", tc.CaseID, "panic", r)
			o.setResult(run, i, key, &model.DetailedEndpointResult{
				Passed:  false,
				Summary: fmt.Sprintf("internal error: %v", r),
				Issues: []model.Issue{{
					Type:        "internal-error",
					Description: fmt.Sprintf("test execution panicked: %v", r),
				}},
				RanAt: time.Now().UTC(),
			})
			abort = false
		}
	}()

	conv, err := d.Run(ctx, tc, key, endpoint)
	if err != nil {
		if model.IsEndpointUnreachable(err) {
			detail := o.evaluator.Evaluate(ctx, tc, conv)
			o.setResult(run, i, key, detail)
			addNote("%s became unreachable at test %s: %v", key, tc.CaseID, err)
			logger.Logger.Error("Endpoint became unreachable mid-run",
				"endpoint", key, "case_id", tc.CaseID, "error", err)
			return true
		}
		// cancellation between or during tests
		return true
	}

	detail := o.evaluator.Evaluate(ctx, tc, conv)
	o.setResult(run, i, key, detail)
	o.emit(model.ProgressEvent{
		ComparisonID: run.ComparisonID,
		Stage:        key,
		TestIndex:    i + 1,
		TotalTests:   total,
		TestID:       tc.CaseID,
	})
	return false
}

func (o *Orchestrator) setResult(run *model.ComparisonRun, testIndex int, key model.EndpointKey, detail *model.DetailedEndpointResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	run.TestResults[testIndex].SetResult(key, detail)
}

func (o *Orchestrator) emit(event model.ProgressEvent) {
	o.mu.Lock()
	fn := o.onProgress
	o.mu.Unlock()
	if fn != nil {
		fn(event)
	}
}

// summarize computes per-endpoint pass rates and the baseline diff.
func (o *Orchestrator) summarize(run *model.ComparisonRun, cfg model.ComparisonConfig) model.ComparisonSummary {
	var summary model.ComparisonSummary

	for _, key := range model.EndpointOrder {
		if !cfg.Enabled(key) {
			continue
		}
		ran, passed := 0, 0
		for i := range run.TestResults {
			res := run.TestResults[i].Result(key)
			if res == nil {
				continue
			}
			ran++
			if res.Passed {
				passed++
			}
		}
		if ran > 0 {
			rate := math.Round(float64(passed)/float64(ran)*1000) / 10
			summary.SetPassRate(key, rate)
		}
	}

	// diff each sandbox against the production baseline
	for i := range run.TestResults {
		tr := &run.TestResults[i]
		baseline := tr.Result(model.EndpointProduction)
		if baseline == nil {
			continue
		}
		for _, key := range []model.EndpointKey{model.EndpointSandboxA, model.EndpointSandboxB} {
			res := tr.Result(key)
			if res == nil {
				continue
			}
			switch {
			case res.Passed && !baseline.Passed:
				summary.Improvements = append(summary.Improvements, model.OutcomeDiff{TestID: tr.TestID, Endpoint: key})
			case !res.Passed && baseline.Passed:
				summary.Regressions = append(summary.Regressions, model.OutcomeDiff{TestID: tr.TestID, Endpoint: key})
			}
		}
	}

	summary.Improvements = ensureDiffs(summary.Improvements)
	summary.Regressions = ensureDiffs(summary.Regressions)
	return summary
}

// ensureDiffs keeps the diff lists non-nil so reports and JSON output show
// empty arrays rather than null.
func ensureDiffs(diffs []model.OutcomeDiff) []model.OutcomeDiff {
	if diffs == nil {
		return []model.OutcomeDiff{}
	}
	return diffs
}
