package browser

import (
	"reflect"
	"strings"
	"testing"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/require"

	"github.com/liuxd6825/tabpilot/api"
	"github.com/liuxd6825/tabpilot/common"
)

// customMappings is a list of custom mappings for our API (api/).
// Some of them are wildcards, such as query to $ mapping; and
// others are unexposed methods.
func customMappings() map[string]string {
	return map[string]string{
		// wildcards
		"Page.query":             "$",
		"Page.queryAll":          "$$",
		"Frame.query":            "$",
		"Frame.queryAll":         "$$",
		"ElementHandle.query":    "$",
		"ElementHandle.queryAll": "$$",
		// internal methods
		"ElementHandle.handle": "",
		// TODO: page.on is unexposed until script callbacks run on the
		// runtime's own goroutine.
		"Page.on": "",
	}
}

// TestMappings tests that all the methods of the API (api/) are
// to the module. This is to ensure that we don't forget to map
// a new method to the module.
func TestMappings(t *testing.T) {
	t.Parallel()

	type test struct {
		apiInterface any
		mapp         func(rt *goja.Runtime) mapping
	}

	customMappings := customMappings()

	// testMapping tests that all the methods of an API are mapped
	// to the module. And wildcards are mapped correctly and their
	// methods are not mapped.
	testMapping := func(t *testing.T, tt test) {
		t.Helper()

		var (
			typ    = reflect.TypeOf(tt.apiInterface).Elem()
			mapped = tt.mapp(goja.New())
			tested = make(map[string]bool)
		)
		for i := 0; i < typ.NumMethod(); i++ {
			method := typ.Method(i)
			require.NotNil(t, method)

			// goja uses methods that starts with lowercase.
			// so we need to convert the first letter to lowercase.
			m := toFirstLetterLower(method.Name)

			cm, cmok := isCustomMapping(customMappings, typ.Name(), m)
			// if the method is a custom mapping, it should not be
			// mapped to the module. so we should not find it in
			// the mapped methods.
			if _, ok := mapped[m]; cmok && ok {
				t.Errorf("method %q should not be mapped", m)
			}
			// a custom mapping with an empty string means that
			// the method should not exist on the API.
			if cmok && cm == "" {
				continue
			}
			// change the method name if it is mapped to a custom
			// method. these custom methods are not exist on our
			// API. so we need to use the mapped method instead.
			if cmok {
				m = cm
			}
			if _, ok := mapped[m]; !ok {
				t.Errorf("method %q not found", m)
			}
			// to detect if a method is redundantly mapped.
			tested[m] = true
		}
		// detect redundant mappings.
		for m := range mapped {
			if !tested[m] {
				t.Errorf("method %q is redundant", m)
			}
		}
	}

	for name, tt := range map[string]test{
		"page": {
			apiInterface: (*api.Page)(nil),
			mapp: func(rt *goja.Runtime) mapping {
				return mapPage(rt, &common.Page{})
			},
		},
		"frame": {
			apiInterface: (*api.Frame)(nil),
			mapp: func(rt *goja.Runtime) mapping {
				return mapFrame(rt, &common.Frame{})
			},
		},
		"elementHandle": {
			apiInterface: (*api.ElementHandle)(nil),
			mapp: func(rt *goja.Runtime) mapping {
				return mapElementHandle(rt, &common.ElementHandle{})
			},
		},
		"locator": {
			apiInterface: (*api.Locator)(nil),
			mapp: func(rt *goja.Runtime) mapping {
				return mapLocator(rt, &common.Locator{})
			},
		},
		"frameLocator": {
			apiInterface: (*api.FrameLocator)(nil),
			mapp: func(rt *goja.Runtime) mapping {
				return mapFrameLocator(rt, &common.FrameLocator{})
			},
		},
		"download": {
			apiInterface: (*api.Download)(nil),
			mapp: func(rt *goja.Runtime) mapping {
				return mapDownload(rt, &common.Download{})
			},
		},
		"browser": {
			apiInterface: (*browserAPI)(nil),
			mapp: func(rt *goja.Runtime) mapping {
				return mapBrowser(moduleVU{rt: rt})
			},
		},
	} {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			testMapping(t, tt)
		})
	}
}

// browserAPI is the global browser object of scripts.
type browserAPI interface {
	ClosePage(targetID int64) error
	NewPage(url string) (api.Page, error)
	Pages() []api.Page
	Version() string
}

// toFirstLetterLower converts the first letter of the string to lower case.
func toFirstLetterLower(s string) string {
	// Special cases.
	// Instead of loading up an acronyms list, just do this.
	// Good enough for our purposes.
	special := map[string]string{
		"ID":        "id",
		"JSON":      "json",
		"JSONValue": "jsonValue",
		"URL":       "url",
	}
	if v, ok := special[s]; ok {
		return v
	}
	if s == "" {
		return ""
	}

	return strings.ToLower(s[:1]) + s[1:]
}

// isCustomMapping returns true if the method is a custom mapping
// and returns the name of the method to be called instead of the
// original one.
func isCustomMapping(customMappings map[string]string, typ, method string) (string, bool) {
	name := typ + "." + method

	if s, ok := customMappings[name]; ok {
		return s, ok
	}

	return "", false
}
