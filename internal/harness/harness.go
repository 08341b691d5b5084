package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/roach88/botscript/internal/bridge"
	"github.com/roach88/botscript/internal/engine"
	"github.com/roach88/botscript/internal/eventloop"
	"github.com/roach88/botscript/internal/pkgloader"
	"github.com/roach88/botscript/internal/testutil"
)

// DefaultSession is the session token used when a scenario names none.
const DefaultSession = "test-session-default"

// shutdownTimeout bounds each shutdown step.
const shutdownTimeout = 5 * time.Second

// WaitTimeout bounds each wait_for step.
const WaitTimeout = 5 * time.Second

// Harness is the test execution engine.
// It runs one scenario against one bot with a deterministic clock and
// session token.
type Harness struct {
	bridge   *bridge.Bridge
	handle   bridge.Handle
	recorder *testutil.Recorder
	scenario *Scenario
	logger   *slog.Logger
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs on a fresh event loop and bridge for isolation.
// Deterministic helpers ensure reproducible results: the clock advances
// one second per reading, module waits are measured in hours so only the
// first run of an activated module happens, and random waits are zero.
//
// Execution flow:
// 1. Start an event loop and construct one bot
// 2. Execute steps, checking expectations
// 3. Capture final status, configuration and logs
// 4. Shut the bot down so every notification is delivered
// 5. Evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a context bounding load steps.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	if err := validateScenario(scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs in tests

	loop := eventloop.New(eventloop.WithLogger(logger))
	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- loop.Start(loopCtx) }()
	defer func() {
		loop.Stop()
		<-errc
	}()

	h := newHarness(loop, scenario, logger)

	result := NewResult()
	h.executeSteps(ctx, result)
	h.capture(result)

	// Teardown delivers the remaining notifications.
	if err := h.bridge.Shutdown(h.handle); err != nil {
		return nil, fmt.Errorf("failed to shut down bot: %w", err)
	}
	for _, r := range h.recorder.Records() {
		result.AddTrace(r.Seq, r.Category, r.Encode())
	}

	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(errMsg)
	}
	return result, nil
}

func newHarness(loop *eventloop.Loop, scenario *Scenario, logger *slog.Logger) *Harness {
	session := scenario.Session
	if session == "" {
		session = DefaultSession
	}
	clock := testutil.NewSteppingClock(testutil.Epoch, time.Second)

	engineOpts := []engine.Option{
		engine.WithClock(clock.Now),
		engine.WithSessionGenerator(testutil.NewFixedSessionGenerator(session)),
		engine.WithTimeUnit(time.Hour),
		engine.WithRandom(func() float64 { return 0 }),
	}
	if scenario.Login != nil {
		engineOpts = append(engineOpts, engine.WithAuthenticator(scriptedLogin(scenario.Login)))
	}

	var resolver pkgloader.Resolver = pkgloader.BareResolver{}
	if scenario.Packages != "" {
		resolver = pkgloader.NewDirResolver(scenario.Packages)
	}

	rec := testutil.NewRecorder()
	b := bridge.New(loop,
		bridge.WithTee(rec),
		bridge.WithResolver(resolver),
		bridge.WithEngineOptions(engineOpts...),
		bridge.WithShutdownTimeout(shutdownTimeout),
		bridge.WithLogger(logger),
	)

	return &Harness{
		bridge:   b,
		handle:   b.Construct(nil),
		recorder: rec,
		scenario: scenario,
		logger:   logger,
	}
}

func scriptedLogin(results []string) *testutil.ScriptedAuthenticator {
	errs := make([]error, len(results))
	for i, r := range results {
		if r != "" {
			errs[i] = errors.New(r)
		}
	}
	return testutil.NewScriptedAuthenticator(errs...)
}

// executeSteps runs every step, recording outcomes and expectation
// mismatches.
func (h *Harness) executeSteps(ctx context.Context, result *Result) {
	for i, step := range h.scenario.Steps {
		got := bridge.ErrorString(h.executeStep(ctx, step))
		result.AddStep(step.Name(), got)

		if step.Expect == nil {
			continue
		}
		want := *step.Expect
		if (want == "" && got != "") || !strings.HasPrefix(got, want) {
			result.AddError(fmt.Sprintf("step %d (%s): expected %q, got %q", i+1, step.Name(), want, got))
		}
	}
}

func (h *Harness) executeStep(ctx context.Context, step Step) error {
	switch {
	case step.Load:
		cfg := step.Config
		if cfg == "" {
			cfg = h.scenario.Config
		}
		return h.bridge.LoadWait(ctx, h.handle, cfg)
	case step.Execute != "":
		return h.bridge.Execute(h.handle, step.Execute, step.Argument)
	case step.WaitFor != "":
		return h.waitFor(ctx, step.WaitFor)
	default:
		return h.bridge.Shutdown(h.handle)
	}
}

// waitFor polls the recorder until encoded was delivered.
func (h *Harness) waitFor(ctx context.Context, encoded string) error {
	ctx, cancel := context.WithTimeout(ctx, WaitTimeout)
	defer cancel()

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		for _, r := range h.recorder.Records() {
			if r.Encode() == encoded {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for %q", encoded)
		case <-ticker.C:
		}
	}
}

// capture records the final state of the bot before teardown.
func (h *Harness) capture(result *Result) {
	inst, err := h.bridge.Instance(h.handle)
	if err != nil {
		result.AddError(err.Error())
		return
	}

	result.Status = inst.Status().String()
	result.Configuration = inst.Configuration(false)
	result.Logs = inst.LogMessages()

	gjson.Get(result.Configuration, "modules").ForEach(func(module, keys gjson.Result) bool {
		keys.ForEach(func(key, value gjson.Result) bool {
			result.State[module.String()+"."+key.String()] = value.String()
			return true
		})
		return true
	})
}
