package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario defines a bot scenario: a configuration, a sequence of
// lifecycle steps and assertions over the resulting notifications and
// final state.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Packages is the package root. Paths are relative to the scenario
	// file location. If empty, packages resolve to bare packages without
	// modules.
	Packages string `yaml:"packages,omitempty"`

	// Config is the configuration document used by load steps.
	Config string `yaml:"config"`

	// Login scripts the authenticator: one entry per attempt, "" for
	// success, otherwise the failure reason. If nil, the package's own
	// login function is used.
	Login []string `yaml:"login,omitempty"`

	// Steps are executed in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and state.
	// Supported types: notification_contains, notification_order,
	// notification_count, final_state, final_status, log_contains
	Assertions []Assertion `yaml:"assertions"`

	// Session is a fixed session token for deterministic tests.
	// If empty, defaults to "test-session-default".
	Session string `yaml:"session,omitempty"`
}

// Step is one lifecycle operation. Exactly one of Load, Execute, WaitFor
// and Shutdown is set.
type Step struct {
	// Load loads Config (or the step's own Config when set).
	Load bool `yaml:"load,omitempty"`

	// Config overrides Scenario.Config for this load.
	Config string `yaml:"config,omitempty"`

	// Execute is the command to apply, with Argument as its value.
	Execute  string `yaml:"execute,omitempty"`
	Argument string `yaml:"argument,omitempty"`

	// WaitFor blocks until a notification with this encoded form arrives.
	WaitFor string `yaml:"wait_for,omitempty"`

	// Shutdown stops the bot and waits until it terminated.
	Shutdown bool `yaml:"shutdown,omitempty"`

	// Expect is the expected error string. "" requires success; any other
	// value must prefix the actual error. If nil, the outcome is not
	// checked.
	Expect *string `yaml:"expect,omitempty"`
}

// Name describes the step for traces and error messages.
func (s Step) Name() string {
	switch {
	case s.Load:
		return "load"
	case s.Execute != "":
		return "execute " + s.Execute + "=" + s.Argument
	case s.WaitFor != "":
		return "wait_for " + s.WaitFor
	case s.Shutdown:
		return "shutdown"
	}
	return "invalid"
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "notification_contains": a notification matches Message, or
	//   Category and Contains
	// - "notification_order": Messages appear in order
	// - "notification_count": notifications of Category (and Contains)
	//   appear exactly Count times
	// - "final_state": configuration value of Module.Key equals Value
	// - "final_status": lifecycle state equals Status
	// - "log_contains": a log ring line contains Contains
	Type string `yaml:"type"`

	// Message is an exact encoded notification.
	Message string `yaml:"message,omitempty"`

	// Category filters notifications by category.
	Category string `yaml:"category,omitempty"`

	// Contains is a payload (or log line) substring.
	Contains string `yaml:"contains,omitempty"`

	// Messages is the expected notification order (used by notification_order).
	Messages []string `yaml:"messages,omitempty"`

	// Count is the expected number of occurrences (used by notification_count).
	Count int `yaml:"count,omitempty"`

	// Module, Key and Value are used by final_state.
	Module string `yaml:"module,omitempty"`
	Key    string `yaml:"key,omitempty"`
	Value  string `yaml:"value,omitempty"`

	// Status is used by final_status.
	Status string `yaml:"status,omitempty"`
}

// Assertion type constants.
const (
	AssertNotificationContains = "notification_contains"
	AssertNotificationOrder    = "notification_order"
	AssertNotificationCount    = "notification_count"
	AssertFinalState           = "final_state"
	AssertFinalStatus          = "final_status"
	AssertLogContains          = "log_contains"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
// A relative Packages path is resolved against the file's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	if scenario.Packages != "" && !filepath.IsAbs(scenario.Packages) {
		scenario.Packages = filepath.Join(filepath.Dir(path), scenario.Packages)
	}
	return scenario, nil
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps must contain at least one step")
	}

	for i, step := range s.Steps {
		if err := validateStep(step, i); err != nil {
			return err
		}
		if step.Load && step.Config == "" && s.Config == "" {
			return fmt.Errorf("steps[%d]: load requires config", i)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(a, i); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(s Step, index int) error {
	set := 0
	if s.Load {
		set++
	}
	if s.Execute != "" {
		set++
	}
	if s.WaitFor != "" {
		set++
	}
	if s.Shutdown {
		set++
	}
	if set != 1 {
		return fmt.Errorf("steps[%d]: exactly one of load, execute, wait_for, shutdown is required", index)
	}
	if s.Config != "" && !s.Load {
		return fmt.Errorf("steps[%d]: config is only valid on load", index)
	}
	return nil
}

// validateAssertion checks that an assertion has required fields.
func validateAssertion(a Assertion, index int) error {
	switch a.Type {
	case AssertNotificationContains:
		if a.Message == "" && a.Category == "" && a.Contains == "" {
			return fmt.Errorf("assertions[%d]: message, category or contains is required for notification_contains", index)
		}
	case AssertNotificationOrder:
		if len(a.Messages) == 0 {
			return fmt.Errorf("assertions[%d]: messages list is required for notification_order", index)
		}
	case AssertNotificationCount:
		if a.Category == "" {
			return fmt.Errorf("assertions[%d]: category is required for notification_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for notification_count", index)
		}
	case AssertFinalState:
		if a.Module == "" || a.Key == "" {
			return fmt.Errorf("assertions[%d]: module and key are required for final_state", index)
		}
	case AssertFinalStatus:
		if a.Status == "" {
			return fmt.Errorf("assertions[%d]: status is required for final_status", index)
		}
	case AssertLogContains:
		if a.Contains == "" {
			return fmt.Errorf("assertions[%d]: contains is required for log_contains", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
