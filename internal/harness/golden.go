package harness

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/botscript/internal/notify"
)

// TraceSnapshot captures the deterministic part of a scenario execution.
// Log notifications carry timestamps and are left out.
type TraceSnapshot struct {
	ScenarioName  string        `json:"scenario_name"`
	Steps         []StepOutcome `json:"steps"`
	Notifications []string      `json:"notifications"`
	Configuration string        `json:"configuration"`
}

// Snapshot builds the golden snapshot of result.
func Snapshot(name string, result *Result) TraceSnapshot {
	s := TraceSnapshot{
		ScenarioName:  name,
		Steps:         result.Steps,
		Notifications: []string{},
		Configuration: result.Configuration,
	}
	for _, event := range result.Trace {
		if event.Category == notify.CategoryLog {
			continue
		}
		s.Notifications = append(s.Notifications, event.Message)
	}
	return s
}

// Marshal renders the snapshot as indented JSON.
func (s TraceSnapshot) Marshal() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if trace doesn't match golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}
	return AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares the given result's trace against a golden file.
// This is useful when you've already run a scenario and want to compare
// the result against a golden file without re-running.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := Snapshot(scenarioName, result).Marshal()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
