package browser

import (
	"fmt"
	"time"

	"github.com/dop251/goja"

	"github.com/liuxd6825/tabpilot/api"
	"github.com/liuxd6825/tabpilot/common"
	"github.com/liuxd6825/tabpilot/lib/types"
)

// eachOption calls set for every key of the options object opts. Missing
// options are not an error.
func eachOption(rt *goja.Runtime, opts goja.Value, set func(k string, v goja.Value) error) error {
	if !gojaValueExists(opts) {
		return nil
	}
	obj := opts.ToObject(rt)
	for _, k := range obj.Keys() {
		if err := set(k, obj.Get(k)); err != nil {
			return err
		}
	}
	return nil
}

// durationOption accepts milliseconds or a duration string such as "1.5s".
func durationOption(name string, v goja.Value) (time.Duration, error) {
	d, err := types.GetDurationValue(v.Export())
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", common.ErrInvalidOption, name, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%w: %s must not be negative, got %s", common.ErrInvalidOption, name, d)
	}
	return d, nil
}

func setBaseOption(o *api.BaseOptions, k string, v goja.Value) (bool, error) {
	var err error
	switch k {
	case "timeout":
		o.Timeout, err = durationOption(k, v)
	case "strict":
		o.Strict = v.ToBoolean()
	default:
		return false, nil
	}
	return true, err
}

func setActionOption(o *api.ActionOptions, k string, v goja.Value) (bool, error) {
	if ok, err := setBaseOption(&o.BaseOptions, k, v); ok {
		return true, err
	}
	switch k {
	case "force":
		o.Force = v.ToBoolean()
	case "noWaitAfter":
		o.NoWaitAfter = v.ToBoolean()
	default:
		return false, nil
	}
	return true, nil
}

func parseLoadState(v goja.Value) (api.LoadState, error) {
	s := api.LoadState(v.String())
	switch s {
	case api.LoadStateCommit, api.LoadStateDOMContentLoaded, api.LoadStateLoad, api.LoadStateNetworkIdle:
		return s, nil
	}
	return "", fmt.Errorf("%w: unknown load state %q", common.ErrInvalidOption, s)
}

func parseBaseOptions(rt *goja.Runtime, opts goja.Value) (*api.BaseOptions, error) {
	o := &api.BaseOptions{}
	err := eachOption(rt, opts, func(k string, v goja.Value) error {
		_, err := setBaseOption(o, k, v)
		return err
	})
	return o, err
}

func parseActionOptions(rt *goja.Runtime, opts goja.Value) (api.ActionOptions, error) {
	var o api.ActionOptions
	err := eachOption(rt, opts, func(k string, v goja.Value) error {
		_, err := setActionOption(&o, k, v)
		return err
	})
	return o, err
}

func parseClickOptions(rt *goja.Runtime, opts goja.Value) (*api.ClickOptions, error) {
	o := &api.ClickOptions{}
	err := eachOption(rt, opts, func(k string, v goja.Value) error {
		if ok, err := setActionOption(&o.ActionOptions, k, v); ok {
			return err
		}
		switch k {
		case "button":
			o.Button = stringValue(v)
		case "clickCount":
			o.ClickCount = int(v.ToInteger())
		}
		return nil
	})
	return o, err
}

func parseHoverOptions(rt *goja.Runtime, opts goja.Value) (*api.HoverOptions, error) {
	ao, err := parseActionOptions(rt, opts)
	return &api.HoverOptions{ActionOptions: ao}, err
}

func parseFillOptions(rt *goja.Runtime, opts goja.Value) (*api.FillOptions, error) {
	ao, err := parseActionOptions(rt, opts)
	return &api.FillOptions{ActionOptions: ao}, err
}

func parseCheckOptions(rt *goja.Runtime, opts goja.Value) (*api.CheckOptions, error) {
	ao, err := parseActionOptions(rt, opts)
	return &api.CheckOptions{ActionOptions: ao}, err
}

func parseSelectOptionOptions(rt *goja.Runtime, opts goja.Value) (*api.SelectOptionOptions, error) {
	ao, err := parseActionOptions(rt, opts)
	return &api.SelectOptionOptions{ActionOptions: ao}, err
}

func parseSetInputFilesOptions(rt *goja.Runtime, opts goja.Value) (*api.SetInputFilesOptions, error) {
	ao, err := parseActionOptions(rt, opts)
	return &api.SetInputFilesOptions{ActionOptions: ao}, err
}

func parseTypeOptions(rt *goja.Runtime, opts goja.Value) (*api.TypeOptions, error) {
	o := &api.TypeOptions{}
	err := eachOption(rt, opts, func(k string, v goja.Value) error {
		if ok, err := setActionOption(&o.ActionOptions, k, v); ok {
			return err
		}
		if k == "delay" {
			d, err := durationOption(k, v)
			o.Delay = d
			return err
		}
		return nil
	})
	return o, err
}

func parsePressOptions(rt *goja.Runtime, opts goja.Value) (*api.PressOptions, error) {
	to, err := parseTypeOptions(rt, opts)
	if err != nil {
		return nil, err
	}
	return &api.PressOptions{ActionOptions: to.ActionOptions, Delay: to.Delay}, nil
}

func parseGotoOptions(rt *goja.Runtime, opts goja.Value) (*api.GotoOptions, error) {
	o := &api.GotoOptions{}
	err := eachOption(rt, opts, func(k string, v goja.Value) error {
		var err error
		switch k {
		case "timeout":
			o.Timeout, err = durationOption(k, v)
		case "waitUntil":
			o.WaitUntil, err = parseLoadState(v)
		}
		return err
	})
	return o, err
}

func parseWaitForNavigationOptions(rt *goja.Runtime, opts goja.Value) (*api.WaitForNavigationOptions, error) {
	o := &api.WaitForNavigationOptions{}
	err := eachOption(rt, opts, func(k string, v goja.Value) error {
		var err error
		switch k {
		case "timeout":
			o.Timeout, err = durationOption(k, v)
		case "waitUntil":
			o.WaitUntil, err = parseLoadState(v)
		case "url":
			o.URL = v.String()
		}
		return err
	})
	return o, err
}

func parseWaitForLoadStateOptions(rt *goja.Runtime, opts goja.Value) (*api.WaitForLoadStateOptions, error) {
	o := &api.WaitForLoadStateOptions{}
	err := eachOption(rt, opts, func(k string, v goja.Value) error {
		var err error
		if k == "timeout" {
			o.Timeout, err = durationOption(k, v)
		}
		return err
	})
	return o, err
}

func parseWaitForSelectorOptions(rt *goja.Runtime, opts goja.Value) (*api.WaitForSelectorOptions, error) {
	o := &api.WaitForSelectorOptions{}
	err := eachOption(rt, opts, func(k string, v goja.Value) error {
		if ok, err := setBaseOption(&o.BaseOptions, k, v); ok {
			return err
		}
		if k != "state" {
			return nil
		}
		s := api.ElementState(v.String())
		switch s {
		case api.StateAttached, api.StateDetached, api.StateVisible, api.StateHidden:
			o.State = s
			return nil
		}
		return fmt.Errorf("%w: unknown element state %q", common.ErrInvalidOption, s)
	})
	return o, err
}

func parseScreenshotOptions(rt *goja.Runtime, opts goja.Value) (*api.ScreenshotOptions, error) {
	o := &api.ScreenshotOptions{}
	err := eachOption(rt, opts, func(k string, v goja.Value) error {
		var err error
		switch k {
		case "timeout":
			o.Timeout, err = durationOption(k, v)
		case "fullPage":
			o.FullPage = v.ToBoolean()
		case "clip":
			if !gojaValueExists(v) {
				return nil
			}
			c := v.ToObject(rt)
			o.Clip = &api.Rect{
				X:      c.Get("x").ToFloat(),
				Y:      c.Get("y").ToFloat(),
				Width:  c.Get("width").ToFloat(),
				Height: c.Get("height").ToFloat(),
			}
		case "type":
			o.Format = v.String()
		case "quality":
			o.Quality = int(v.ToInteger())
		case "path":
			o.Path = v.String()
		}
		return err
	})
	return o, err
}

func parseSnapshotOptions(rt *goja.Runtime, opts goja.Value) (*api.SnapshotOptions, error) {
	o := &api.SnapshotOptions{}
	err := eachOption(rt, opts, func(k string, v goja.Value) error {
		var err error
		if k == "timeout" {
			o.Timeout, err = durationOption(k, v)
		}
		return err
	})
	return o, err
}

// parseFiles converts {name, mimeType, buffer} objects. Buffers are strings
// or ArrayBuffers.
func parseFiles(rt *goja.Runtime, files goja.Value) ([]api.FilePayload, error) {
	if !gojaValueExists(files) {
		return nil, nil
	}
	obj := files.ToObject(rt)
	if obj.ClassName() != "Array" {
		obj = rt.NewArray(obj)
	}
	var payloads []api.FilePayload
	for _, k := range obj.Keys() {
		f := obj.Get(k).ToObject(rt)
		p := api.FilePayload{
			Name:     stringValue(f.Get("name")),
			MimeType: stringValue(f.Get("mimeType")),
		}
		switch b := f.Get("buffer").Export().(type) {
		case goja.ArrayBuffer:
			p.Buffer = b.Bytes()
		case string:
			p.Buffer = []byte(b)
		case nil:
		default:
			return nil, fmt.Errorf("%w: buffer of %q must be a string or ArrayBuffer", common.ErrInvalidOption, p.Name)
		}
		payloads = append(payloads, p)
	}
	return payloads, nil
}

// parseStrings accepts a string or an array of strings.
func parseStrings(rt *goja.Runtime, v goja.Value) ([]string, error) {
	if !gojaValueExists(v) {
		return nil, nil
	}
	if s, ok := v.Export().(string); ok {
		return []string{s}, nil
	}
	var values []string
	if err := rt.ExportTo(v, &values); err != nil {
		return nil, fmt.Errorf("%w: expected a string or an array of strings: %w", common.ErrInvalidOption, err)
	}
	return values, nil
}
