package config

import (
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cuejson "cuelang.org/go/encoding/json"
)

// schemaSource constrains the interchange document. The struct is open:
// unknown top-level keys are ignored, as older clients send extra fields.
const schemaSource = `
username: string
password: string
package:  string
server:   string
modules: [string]: [string]: string

// Accepted for compatibility; moved into modules.base.
wait_time_factor?: string
proxy?:            string

inactive?: bool
`

// validator compiles the schema once. cue.Context is not safe for
// concurrent use, hence the mutex.
type validator struct {
	once   sync.Once
	mu     sync.Mutex
	ctx    *cue.Context
	schema cue.Value
}

var defaultValidator validator

func (v *validator) init() {
	v.ctx = cuecontext.New()
	v.schema = v.ctx.CompileString(schemaSource, cue.Filename("config.cue"))
}

// validate checks data against the schema.
func (v *validator) validate(data []byte) error {
	v.once.Do(v.init)

	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.schema.Err(); err != nil {
		return &ValidationError{Message: "schema: " + err.Error()}
	}

	expr, err := cuejson.Extract("config.json", data)
	if err != nil {
		return &ValidationError{Message: "invalid JSON"}
	}

	doc := v.ctx.BuildExpr(expr)
	if err := doc.Err(); err != nil {
		return toValidationError(err)
	}

	if err := v.schema.Unify(doc).Validate(cue.Concrete(true)); err != nil {
		return toValidationError(err)
	}
	return nil
}

// toValidationError reduces a CUE error list to its first entry.
func toValidationError(err error) *ValidationError {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &ValidationError{Message: err.Error()}
	}

	first := errs[0]
	field := strings.Join(first.Path(), ".")
	format, args := first.Msg()
	msg := strings.TrimSpace(fmt.Sprintf(format, args...))
	if msg == "" {
		msg = first.Error()
	}
	return &ValidationError{Field: field, Message: msg}
}
