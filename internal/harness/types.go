package harness

// TraceEvent is one delivered notification.
type TraceEvent struct {
	Seq      int64  `json:"seq"`
	Category string `json:"category"`
	Message  string `json:"message"` // encoded form
}

// StepOutcome records how one scenario step ended.
type StepOutcome struct {
	Step  string `json:"step"`
	Error string `json:"error"` // "" or "<Kind>: <message>"
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every step expectation and assertion matched.
	Pass bool `json:"pass"`

	// Steps holds one outcome per executed step, in order.
	Steps []StepOutcome `json:"steps"`

	// Trace contains every notification of the bot in delivery order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Status is the lifecycle state after the last step.
	Status string `json:"status"`

	// Configuration is the redacted configuration after the last step.
	Configuration string `json:"configuration,omitempty"`

	// Logs holds the bot's log ring after the last step.
	Logs []string `json:"logs,omitempty"`

	// State maps "module.key" to its final configuration value.
	State map[string]string `json:"state,omitempty"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Steps:  []StepOutcome{},
		Trace:  []TraceEvent{},
		Errors: []string{},
		State:  make(map[string]string),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddStep records a step outcome.
func (r *Result) AddStep(step, err string) {
	r.Steps = append(r.Steps, StepOutcome{Step: step, Error: err})
}

// AddTrace appends a notification to the trace.
func (r *Result) AddTrace(seq int64, category, message string) {
	r.Trace = append(r.Trace, TraceEvent{Seq: seq, Category: category, Message: message})
}
