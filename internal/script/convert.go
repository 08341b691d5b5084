package script

import (
	"sort"
	"strconv"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// String converts a scalar Lua value to its string form. nil and
// non-scalar values convert to "".
func String(v lua.LValue) string {
	switch v := v.(type) {
	case lua.LString:
		return string(v)
	case lua.LNumber:
		return v.String()
	case lua.LBool:
		if v {
			return "1"
		}
		return "0"
	default:
		return ""
	}
}

// Number converts a Lua value to float64, reporting whether it was numeric.
// Numeric strings are accepted.
func Number(v lua.LValue) (float64, bool) {
	switch v := v.(type) {
	case lua.LNumber:
		return float64(v), true
	case lua.LString:
		n, err := strconv.ParseFloat(strings.TrimSpace(string(v)), 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// StringMap flattens the string-keyed scalar entries of t.
func StringMap(t *lua.LTable) map[string]string {
	out := make(map[string]string)
	if t == nil {
		return out
	}
	t.ForEach(func(k, v lua.LValue) {
		key, ok := k.(lua.LString)
		if !ok {
			return
		}
		switch v.Type() {
		case lua.LTString, lua.LTNumber, lua.LTBool:
			out[string(key)] = String(v)
		}
	})
	return out
}

// StringList returns the array part of t as strings.
func StringList(t *lua.LTable) []string {
	if t == nil {
		return nil
	}
	out := make([]string, 0, t.Len())
	for i := 1; i <= t.Len(); i++ {
		out = append(out, String(t.RawGetInt(i)))
	}
	return out
}

// Tables returns the string-keyed table entries of t, sorted by key.
func Tables(t *lua.LTable) []Entry {
	var out []Entry
	if t == nil {
		return out
	}
	t.ForEach(func(k, v lua.LValue) {
		key, ok := k.(lua.LString)
		if !ok {
			return
		}
		if tbl, ok := v.(*lua.LTable); ok {
			out = append(out, Entry{Key: string(key), Table: tbl})
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Entry is a named sub-table.
type Entry struct {
	Key   string
	Table *lua.LTable
}
