package harness

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runFile(t *testing.T, path string) *Result {
	t.Helper()
	s, err := LoadScenario(path)
	require.NoError(t, err)
	result, err := Run(s)
	require.NoError(t, err)
	return result
}

func TestRun_Basic(t *testing.T) {
	result := runFile(t, "testdata/scenarios/basic.yaml")

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, "Terminated", result.Status)
	assert.Equal(t, "2.0", result.State["base.wait_time_factor"])
	assert.Equal(t, "strength", result.State["train.type"])
	assert.NotContains(t, result.Configuration, "secret")

	require.NotEmpty(t, result.Trace)
	for i := 1; i < len(result.Trace); i++ {
		assert.Greater(t, result.Trace[i].Seq, result.Trace[i-1].Seq)
	}
}

func TestRun_ScriptedModule(t *testing.T) {
	result := runFile(t, "testdata/scenarios/train.yaml")

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, "1", result.State["train.count"])
	assert.Equal(t, "wait_for |status|train_count=1", result.Steps[1].Step)
	assert.True(t, strings.HasPrefix(result.Steps[2].Error, "InvalidValue: "))
}

func TestRun_WrongPassword(t *testing.T) {
	result := runFile(t, "testdata/scenarios/wrong_password.yaml")

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Empty(t, result.Configuration)
	assert.Equal(t, []StepOutcome{{Step: "load", Error: "EngineFault: login failed: wrong password"}}, result.Steps)
}

func TestRun_ScriptedLogin(t *testing.T) {
	s := &Scenario{
		Name:   "retry",
		Config: `{"username":"a","password":"b","package":"p","server":"s","modules":{}}`,
		Login:  []string{"timeout", ""},
		Steps:  []Step{{Load: true, Expect: ptr("")}},
		Assertions: []Assertion{
			{Type: AssertLogContains, Contains: "login: 2. try"},
			{Type: AssertFinalStatus, Status: "Active"},
		},
	}

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_ExpectationMismatch(t *testing.T) {
	s := &Scenario{
		Name:   "mismatch",
		Config: `{"username":"a","password":"b","package":"p","server":"s","modules":{}}`,
		Steps: []Step{
			{Load: true},
			{Execute: "base_set_wait_time_factor", Argument: "fast", Expect: ptr("")},
			{Execute: "base_set_proxy", Argument: "", Expect: ptr("InvalidValue: ")},
		},
	}

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], `step 2 (execute base_set_wait_time_factor=fast): expected "", got "InvalidValue: `)
	assert.Contains(t, result.Errors[1], `step 3 (execute base_set_proxy=): expected "InvalidValue: ", got ""`)
}

func TestRun_FailedAssertion(t *testing.T) {
	s := &Scenario{
		Name:   "failing",
		Config: `{"username":"a","password":"b","package":"p","server":"s","modules":{}}`,
		Steps:  []Step{{Load: true}},
		Assertions: []Assertion{
			{Type: AssertFinalStatus, Status: "Terminated"},
		},
	}

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "assertion 1: Assertion failed: final_status")
}

func TestRun_InvalidScenario(t *testing.T) {
	_, err := Run(&Scenario{Name: "empty"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid scenario")
}

func ptr(s string) *string { return &s }
