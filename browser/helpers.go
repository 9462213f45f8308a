package browser

import (
	"github.com/dop251/goja"
)

// exportArg exports the value and returns it.
// It returns nil if the value is undefined or null.
func exportArg(gv goja.Value) any {
	if !gojaValueExists(gv) {
		return nil
	}
	return gv.Export()
}

// exportArgs returns a slice of exported Goja values.
func exportArgs(gargs []goja.Value) []any {
	args := make([]any, 0, len(gargs))
	for _, garg := range gargs {
		// leaves a nil garg in the array since users might want to
		// pass undefined or null as an argument to a function
		args = append(args, exportArg(garg))
	}
	return args
}

// gojaValueExists returns true if a given value is not nil and exists
// (defined and not null) in the goja runtime.
func gojaValueExists(v goja.Value) bool {
	return v != nil && !goja.IsUndefined(v) && !goja.IsNull(v)
}

// stringValue returns the string of v, or an empty string if it doesn't
// exist.
func stringValue(v goja.Value) string {
	if !gojaValueExists(v) {
		return ""
	}
	return v.String()
}

// optionalString maps a (value, found) pair to a string or null.
func optionalString(rt *goja.Runtime, s string, ok bool) goja.Value {
	if !ok {
		return goja.Null()
	}
	return rt.ToValue(s)
}
