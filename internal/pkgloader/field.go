package pkgloader

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/roach88/botscript/internal/script"
)

// Input types understood by the validator. Unknown types accept any value.
const (
	InputSlider   = "slider"
	InputCheckbox = "checkbox"
	InputDropdown = "dropdown"
	InputTextarea = "textarea"
	InputText     = "text"
)

// Field describes one module setting.
type Field struct {
	Name        string
	InputType   string
	DisplayName string

	// ValueRange is "min,max" for sliders.
	ValueRange string

	// Values lists the choices of a dropdown.
	Values []string
}

// Validate checks value against the field's input type.
func (f Field) Validate(value string) error {
	switch f.InputType {
	case InputSlider:
		n, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return fmt.Errorf("%s: %q is not a number", f.Name, value)
		}
		if f.ValueRange == "" {
			return nil
		}
		lo, hi, err := parseRange(f.ValueRange)
		if err != nil {
			return fmt.Errorf("%s: %w", f.Name, err)
		}
		if n < lo || n > hi {
			return fmt.Errorf("%s: %s out of range [%s]", f.Name, value, f.ValueRange)
		}
	case InputCheckbox:
		return ValidateFlag(f.Name, value)
	case InputDropdown:
		if !slices.Contains(f.Values, value) {
			return fmt.Errorf("%s: %q is not one of %s", f.Name, value, strings.Join(f.Values, ", "))
		}
	}
	return nil
}

// ValidateFlag accepts only "0" and "1".
func ValidateFlag(name, value string) error {
	if value != "0" && value != "1" {
		return fmt.Errorf("%s: %q is not 0 or 1", name, value)
	}
	return nil
}

func parseRange(r string) (float64, float64, error) {
	lo, hi, ok := strings.Cut(r, ",")
	if !ok {
		return 0, 0, fmt.Errorf("malformed value range %q", r)
	}
	from, err := strconv.ParseFloat(strings.TrimSpace(lo), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed value range %q", r)
	}
	to, err := strconv.ParseFloat(strings.TrimSpace(hi), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed value range %q", r)
	}
	return from, to, nil
}

// BaseFields is the interface of the always-present base module.
func BaseFields() []Field {
	return []Field{
		{Name: "proxy", InputType: InputTextarea, DisplayName: "Proxy"},
		{Name: "wait_time_factor", InputType: InputSlider, DisplayName: "Wait time factor", ValueRange: "0.2,3.0"},
	}
}

// fieldsFromTable reads an interface_<m> table.
func fieldsFromTable(t *lua.LTable) ([]Field, error) {
	var fields []Field
	for _, e := range script.Tables(t) {
		spec := script.StringMap(e.Table)
		f := Field{
			Name:        e.Key,
			InputType:   spec["input_type"],
			DisplayName: spec["display_name"],
			ValueRange:  spec["value_range"],
		}
		if f.InputType == "" {
			return nil, fmt.Errorf("field %s: missing input_type", e.Key)
		}
		if f.InputType == InputSlider && f.ValueRange != "" {
			if _, _, err := parseRange(f.ValueRange); err != nil {
				return nil, fmt.Errorf("field %s: %w", e.Key, err)
			}
		}
		if values, ok := e.Table.RawGetString("values").(*lua.LTable); ok {
			f.Values = script.StringList(values)
		}
		fields = append(fields, f)
	}
	return fields, nil
}
