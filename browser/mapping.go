package browser

import (
	"fmt"
	"time"

	"github.com/dop251/goja"

	"github.com/liuxd6825/tabpilot/api"
	"github.com/liuxd6825/tabpilot/host"
)

// mapping is a type of mapping between our API (api/) and the JS
// module. It acts like a bridge and allows adding wildcard methods
// and customization over our API.
type mapping map[string]any

func toObject(rt *goja.Runtime, m mapping) *goja.Object {
	return rt.ToValue(m).ToObject(rt)
}

// mapNavigation maps a finished navigation, or null if none happened.
func mapNavigation(rt *goja.Runtime, nav *api.Navigation, err error) (goja.Value, error) {
	if err != nil {
		return nil, err
	}
	if nav == nil {
		return goja.Null(), nil
	}
	return rt.ToValue(map[string]any{
		"url":          nav.URL,
		"documentId":   nav.DocumentID,
		"sameDocument": nav.SameDocument,
	}), nil
}

func mapRect(rt *goja.Runtime, r *api.Rect) goja.Value {
	if r == nil {
		return goja.Null()
	}
	return rt.ToValue(map[string]any{
		"x":      r.X,
		"y":      r.Y,
		"width":  r.Width,
		"height": r.Height,
	})
}

func mapOptionalElementHandle(rt *goja.Runtime, eh api.ElementHandle, err error) (goja.Value, error) {
	if err != nil {
		return nil, err
	}
	if eh == nil {
		return goja.Null(), nil
	}
	return toObject(rt, mapElementHandle(rt, eh)), nil
}

func mapElementHandles(rt *goja.Runtime, ehs []api.ElementHandle, err error) (*goja.Object, error) {
	if err != nil {
		return nil, err
	}
	mehs := make([]any, 0, len(ehs))
	for _, eh := range ehs {
		mehs = append(mehs, toObject(rt, mapElementHandle(rt, eh)))
	}
	return rt.NewArray(mehs...), nil
}

func mapOptionalFrame(rt *goja.Runtime, f api.Frame, err error) (goja.Value, error) {
	if err != nil {
		return nil, err
	}
	if f == nil {
		return goja.Null(), nil
	}
	return toObject(rt, mapFrame(rt, f)), nil
}

func mapFrames(rt *goja.Runtime, frames []api.Frame) *goja.Object {
	mfs := make([]any, 0, len(frames))
	for _, f := range frames {
		mfs = append(mfs, toObject(rt, mapFrame(rt, f)))
	}
	return rt.NewArray(mfs...)
}

func evaluate(rt *goja.Runtime, fn func(host.Op, ...any) (any, error)) func(string, ...goja.Value) (goja.Value, error) {
	return func(name string, gargs ...goja.Value) (goja.Value, error) {
		op, err := host.ParseOp(name)
		if err != nil {
			return nil, err
		}
		v, err := fn(op, exportArgs(gargs)...)
		if err != nil {
			return nil, err
		}
		return rt.ToValue(v), nil
	}
}

// mapSelectorActions maps the selector based calls shared by pages and
// frames.
//
//nolint:funlen
func mapSelectorActions(rt *goja.Runtime, sa api.SelectorActions) mapping {
	return mapping{
		"$": func(selector string) (goja.Value, error) {
			eh, err := sa.Query(selector)
			return mapOptionalElementHandle(rt, eh, err)
		},
		"$$": func(selector string) (*goja.Object, error) {
			ehs, err := sa.QueryAll(selector)
			return mapElementHandles(rt, ehs, err)
		},
		"check": func(selector string, opts goja.Value) error {
			popts, err := parseCheckOptions(rt, opts)
			if err != nil {
				return err
			}
			return sa.Check(selector, popts)
		},
		"click": func(selector string, opts goja.Value) error {
			popts, err := parseClickOptions(rt, opts)
			if err != nil {
				return err
			}
			return sa.Click(selector, popts)
		},
		"dblclick": func(selector string, opts goja.Value) error {
			popts, err := parseClickOptions(rt, opts)
			if err != nil {
				return err
			}
			return sa.Dblclick(selector, popts)
		},
		"dispatchEvent": func(selector, typ string, opts goja.Value) error {
			popts, err := parseBaseOptions(rt, opts)
			if err != nil {
				return err
			}
			return sa.DispatchEvent(selector, typ, popts)
		},
		"fill": func(selector, value string, opts goja.Value) error {
			popts, err := parseFillOptions(rt, opts)
			if err != nil {
				return err
			}
			return sa.Fill(selector, value, popts)
		},
		"focus": func(selector string, opts goja.Value) error {
			popts, err := parseBaseOptions(rt, opts)
			if err != nil {
				return err
			}
			return sa.Focus(selector, popts)
		},
		"getAttribute": func(selector, name string, opts goja.Value) (goja.Value, error) {
			popts, err := parseBaseOptions(rt, opts)
			if err != nil {
				return nil, err
			}
			v, ok, err := sa.GetAttribute(selector, name, popts)
			if err != nil {
				return nil, err
			}
			return optionalString(rt, v, ok), nil
		},
		"hover": func(selector string, opts goja.Value) error {
			popts, err := parseHoverOptions(rt, opts)
			if err != nil {
				return err
			}
			return sa.Hover(selector, popts)
		},
		"innerHTML": func(selector string, opts goja.Value) (string, error) {
			popts, err := parseBaseOptions(rt, opts)
			if err != nil {
				return "", err
			}
			return sa.InnerHTML(selector, popts)
		},
		"innerText": func(selector string, opts goja.Value) (string, error) {
			popts, err := parseBaseOptions(rt, opts)
			if err != nil {
				return "", err
			}
			return sa.InnerText(selector, popts)
		},
		"inputValue": func(selector string, opts goja.Value) (string, error) {
			popts, err := parseBaseOptions(rt, opts)
			if err != nil {
				return "", err
			}
			return sa.InputValue(selector, popts)
		},
		"isChecked":  selectorState(rt, sa.IsChecked),
		"isDisabled": selectorState(rt, sa.IsDisabled),
		"isEditable": selectorState(rt, sa.IsEditable),
		"isEnabled":  selectorState(rt, sa.IsEnabled),
		"isHidden":   selectorState(rt, sa.IsHidden),
		"isVisible":  selectorState(rt, sa.IsVisible),
		"locator": func(selector string) *goja.Object {
			return toObject(rt, mapLocator(rt, sa.Locator(selector)))
		},
		"press": func(selector, key string, opts goja.Value) error {
			popts, err := parsePressOptions(rt, opts)
			if err != nil {
				return err
			}
			return sa.Press(selector, key, popts)
		},
		"selectOption": func(selector string, values goja.Value, opts goja.Value) ([]string, error) {
			vals, err := parseStrings(rt, values)
			if err != nil {
				return nil, err
			}
			popts, err := parseSelectOptionOptions(rt, opts)
			if err != nil {
				return nil, err
			}
			return sa.SelectOption(selector, vals, popts)
		},
		"setChecked": func(selector string, checked bool, opts goja.Value) error {
			popts, err := parseCheckOptions(rt, opts)
			if err != nil {
				return err
			}
			return sa.SetChecked(selector, checked, popts)
		},
		"setInputFiles": func(selector string, files goja.Value, opts goja.Value) error {
			pfiles, err := parseFiles(rt, files)
			if err != nil {
				return err
			}
			popts, err := parseSetInputFilesOptions(rt, opts)
			if err != nil {
				return err
			}
			return sa.SetInputFiles(selector, pfiles, popts)
		},
		"textContent": func(selector string, opts goja.Value) (goja.Value, error) {
			popts, err := parseBaseOptions(rt, opts)
			if err != nil {
				return nil, err
			}
			v, ok, err := sa.TextContent(selector, popts)
			if err != nil {
				return nil, err
			}
			return optionalString(rt, v, ok), nil
		},
		"type": func(selector, text string, opts goja.Value) error {
			popts, err := parseTypeOptions(rt, opts)
			if err != nil {
				return err
			}
			return sa.Type(selector, text, popts)
		},
		"uncheck": func(selector string, opts goja.Value) error {
			popts, err := parseCheckOptions(rt, opts)
			if err != nil {
				return err
			}
			return sa.Uncheck(selector, popts)
		},
		"waitForSelector": func(selector string, opts goja.Value) (goja.Value, error) {
			popts, err := parseWaitForSelectorOptions(rt, opts)
			if err != nil {
				return nil, err
			}
			eh, err := sa.WaitForSelector(selector, popts)
			return mapOptionalElementHandle(rt, eh, err)
		},
	}
}

func selectorState(
	rt *goja.Runtime, fn func(string, *api.BaseOptions) (bool, error),
) func(string, goja.Value) (bool, error) {
	return func(selector string, opts goja.Value) (bool, error) {
		popts, err := parseBaseOptions(rt, opts)
		if err != nil {
			return false, err
		}
		return fn(selector, popts)
	}
}

// mapFrame to the JS module.
func mapFrame(rt *goja.Runtime, f api.Frame) mapping {
	maps := mapSelectorActions(rt, f)
	for k, v := range mapping{
		"childFrames": func() *goja.Object {
			return mapFrames(rt, f.ChildFrames())
		},
		"content":  f.Content,
		"evaluate": evaluate(rt, f.Evaluate),
		"goto": func(url string, opts goja.Value) (goja.Value, error) {
			popts, err := parseGotoOptions(rt, opts)
			if err != nil {
				return nil, err
			}
			nav, err := f.Goto(url, popts)
			return mapNavigation(rt, nav, err)
		},
		"id":         f.ID,
		"isDetached": f.IsDetached,
		"page": func() goja.Value {
			p := f.Page()
			if p == nil {
				return goja.Null()
			}
			return toObject(rt, mapPage(rt, p))
		},
		"parentFrame": func() (goja.Value, error) {
			return mapOptionalFrame(rt, f.ParentFrame(), nil)
		},
		"title": f.Title,
		"url":   f.URL,
		"waitForLoadState": func(state string, opts goja.Value) error {
			ls := api.LoadStateLoad
			if state != "" {
				var err error
				if ls, err = parseLoadState(rt.ToValue(state)); err != nil {
					return err
				}
			}
			popts, err := parseWaitForLoadStateOptions(rt, opts)
			if err != nil {
				return err
			}
			return f.WaitForLoadState(ls, popts)
		},
		"waitForNavigation": func(opts goja.Value) (goja.Value, error) {
			popts, err := parseWaitForNavigationOptions(rt, opts)
			if err != nil {
				return nil, err
			}
			nav, err := f.WaitForNavigation(popts)
			return mapNavigation(rt, nav, err)
		},
	} {
		maps[k] = v
	}

	return maps
}

// mapPage to the JS module.
//
//nolint:funlen
func mapPage(rt *goja.Runtime, p api.Page) mapping {
	maps := mapSelectorActions(rt, p)
	for k, v := range mapping{
		"bringToFront": p.BringToFront,
		"close":        p.Close,
		"content":      p.Content,
		"evaluate":     evaluate(rt, p.Evaluate),
		"frames": func() *goja.Object {
			return mapFrames(rt, p.Frames())
		},
		"goBack": func(opts goja.Value) (goja.Value, error) {
			popts, err := parseGotoOptions(rt, opts)
			if err != nil {
				return nil, err
			}
			nav, err := p.GoBack(popts)
			return mapNavigation(rt, nav, err)
		},
		"goForward": func(opts goja.Value) (goja.Value, error) {
			popts, err := parseGotoOptions(rt, opts)
			if err != nil {
				return nil, err
			}
			nav, err := p.GoForward(popts)
			return mapNavigation(rt, nav, err)
		},
		"goto": func(url string, opts goja.Value) (goja.Value, error) {
			popts, err := parseGotoOptions(rt, opts)
			if err != nil {
				return nil, err
			}
			nav, err := p.Goto(url, popts)
			return mapNavigation(rt, nav, err)
		},
		"isClosed": p.IsClosed,
		"mainFrame": func() *goja.Object {
			return toObject(rt, mapFrame(rt, p.MainFrame()))
		},
		"reload": func(opts goja.Value) (goja.Value, error) {
			popts, err := parseGotoOptions(rt, opts)
			if err != nil {
				return nil, err
			}
			nav, err := p.Reload(popts)
			return mapNavigation(rt, nav, err)
		},
		"screenshot": func(opts goja.Value) (goja.ArrayBuffer, error) {
			popts, err := parseScreenshotOptions(rt, opts)
			if err != nil {
				return goja.ArrayBuffer{}, err
			}
			buf, err := p.Screenshot(popts)
			if err != nil {
				return goja.ArrayBuffer{}, err
			}
			return rt.NewArrayBuffer(buf), nil
		},
		"setDefaultNavigationTimeout": func(ms float64) {
			p.SetDefaultNavigationTimeout(time.Duration(ms * float64(time.Millisecond)))
		},
		"setDefaultTimeout": func(ms float64) {
			p.SetDefaultTimeout(time.Duration(ms * float64(time.Millisecond)))
		},
		"snapshot": func(opts goja.Value) (string, error) {
			popts, err := parseSnapshotOptions(rt, opts)
			if err != nil {
				return "", err
			}
			return p.Snapshot(popts)
		},
		"targetID": p.TargetID,
		"title":    p.Title,
		"url":      p.URL,
		"waitForDownload": func(opts goja.Value) (*goja.Object, error) {
			popts, err := parseWaitForLoadStateOptions(rt, opts)
			if err != nil {
				return nil, err
			}
			d, err := p.WaitForDownload(popts)
			if err != nil {
				return nil, err
			}
			return toObject(rt, mapDownload(rt, d)), nil
		},
		"waitForLoadState": func(state string, opts goja.Value) error {
			ls := api.LoadStateLoad
			if state != "" {
				var err error
				if ls, err = parseLoadState(rt.ToValue(state)); err != nil {
					return err
				}
			}
			popts, err := parseWaitForLoadStateOptions(rt, opts)
			if err != nil {
				return err
			}
			return p.WaitForLoadState(ls, popts)
		},
		"waitForNavigation": func(opts goja.Value) (goja.Value, error) {
			popts, err := parseWaitForNavigationOptions(rt, opts)
			if err != nil {
				return nil, err
			}
			nav, err := p.WaitForNavigation(popts)
			return mapNavigation(rt, nav, err)
		},
	} {
		maps[k] = v
	}

	return maps
}

// mapLocator API to the JS module.
//
//nolint:funlen
func mapLocator(rt *goja.Runtime, lo api.Locator) mapping {
	return mapping{
		"check": func(opts goja.Value) error {
			popts, err := parseCheckOptions(rt, opts)
			if err != nil {
				return err
			}
			return lo.Check(popts)
		},
		"click": func(opts goja.Value) error {
			popts, err := parseClickOptions(rt, opts)
			if err != nil {
				return err
			}
			return lo.Click(popts)
		},
		"count": lo.Count,
		"dblclick": func(opts goja.Value) error {
			popts, err := parseClickOptions(rt, opts)
			if err != nil {
				return err
			}
			return lo.Dblclick(popts)
		},
		"dispatchEvent": func(typ string, opts goja.Value) error {
			popts, err := parseBaseOptions(rt, opts)
			if err != nil {
				return err
			}
			return lo.DispatchEvent(typ, popts)
		},
		"fill": func(value string, opts goja.Value) error {
			popts, err := parseFillOptions(rt, opts)
			if err != nil {
				return err
			}
			return lo.Fill(value, popts)
		},
		"first": func() *goja.Object {
			return toObject(rt, mapLocator(rt, lo.First()))
		},
		"focus": func(opts goja.Value) error {
			popts, err := parseBaseOptions(rt, opts)
			if err != nil {
				return err
			}
			return lo.Focus(popts)
		},
		"frameLocator": func(selector string) *goja.Object {
			return toObject(rt, mapFrameLocator(rt, lo.FrameLocator(selector)))
		},
		"getAttribute": func(name string, opts goja.Value) (goja.Value, error) {
			popts, err := parseBaseOptions(rt, opts)
			if err != nil {
				return nil, err
			}
			v, ok, err := lo.GetAttribute(name, popts)
			if err != nil {
				return nil, err
			}
			return optionalString(rt, v, ok), nil
		},
		"hover": func(opts goja.Value) error {
			popts, err := parseHoverOptions(rt, opts)
			if err != nil {
				return err
			}
			return lo.Hover(popts)
		},
		"innerHTML":  locatorString(rt, lo.InnerHTML),
		"innerText":  locatorString(rt, lo.InnerText),
		"inputValue": locatorString(rt, lo.InputValue),
		"isChecked":  locatorState(rt, lo.IsChecked),
		"isDisabled": locatorState(rt, lo.IsDisabled),
		"isEditable": locatorState(rt, lo.IsEditable),
		"isEnabled":  locatorState(rt, lo.IsEnabled),
		"isHidden":   locatorState(rt, lo.IsHidden),
		"isVisible":  locatorState(rt, lo.IsVisible),
		"last": func() *goja.Object {
			return toObject(rt, mapLocator(rt, lo.Last()))
		},
		"locator": func(selector string) *goja.Object {
			return toObject(rt, mapLocator(rt, lo.Locator(selector)))
		},
		"nth": func(index int) *goja.Object {
			return toObject(rt, mapLocator(rt, lo.Nth(index)))
		},
		"press": func(key string, opts goja.Value) error {
			popts, err := parsePressOptions(rt, opts)
			if err != nil {
				return err
			}
			return lo.Press(key, popts)
		},
		"selector": lo.Selector,
		"selectOption": func(values goja.Value, opts goja.Value) ([]string, error) {
			vals, err := parseStrings(rt, values)
			if err != nil {
				return nil, err
			}
			popts, err := parseSelectOptionOptions(rt, opts)
			if err != nil {
				return nil, err
			}
			return lo.SelectOption(vals, popts)
		},
		"setChecked": func(checked bool, opts goja.Value) error {
			popts, err := parseCheckOptions(rt, opts)
			if err != nil {
				return err
			}
			return lo.SetChecked(checked, popts)
		},
		"setInputFiles": func(files goja.Value, opts goja.Value) error {
			pfiles, err := parseFiles(rt, files)
			if err != nil {
				return err
			}
			popts, err := parseSetInputFilesOptions(rt, opts)
			if err != nil {
				return err
			}
			return lo.SetInputFiles(pfiles, popts)
		},
		"textContent": func(opts goja.Value) (goja.Value, error) {
			popts, err := parseBaseOptions(rt, opts)
			if err != nil {
				return nil, err
			}
			v, ok, err := lo.TextContent(popts)
			if err != nil {
				return nil, err
			}
			return optionalString(rt, v, ok), nil
		},
		"type": func(text string, opts goja.Value) error {
			popts, err := parseTypeOptions(rt, opts)
			if err != nil {
				return err
			}
			return lo.Type(text, popts)
		},
		"uncheck": func(opts goja.Value) error {
			popts, err := parseCheckOptions(rt, opts)
			if err != nil {
				return err
			}
			return lo.Uncheck(popts)
		},
		"waitFor": func(opts goja.Value) error {
			popts, err := parseWaitForSelectorOptions(rt, opts)
			if err != nil {
				return err
			}
			return lo.WaitFor(popts)
		},
	}
}

func locatorString(rt *goja.Runtime, fn func(*api.BaseOptions) (string, error)) func(goja.Value) (string, error) {
	return func(opts goja.Value) (string, error) {
		popts, err := parseBaseOptions(rt, opts)
		if err != nil {
			return "", err
		}
		return fn(popts)
	}
}

func locatorState(rt *goja.Runtime, fn func(*api.BaseOptions) (bool, error)) func(goja.Value) (bool, error) {
	return func(opts goja.Value) (bool, error) {
		popts, err := parseBaseOptions(rt, opts)
		if err != nil {
			return false, err
		}
		return fn(popts)
	}
}

// mapFrameLocator to the JS module.
func mapFrameLocator(rt *goja.Runtime, fl api.FrameLocator) mapping {
	return mapping{
		"first": func() *goja.Object {
			return toObject(rt, mapFrameLocator(rt, fl.First()))
		},
		"frameLocator": func(selector string) *goja.Object {
			return toObject(rt, mapFrameLocator(rt, fl.FrameLocator(selector)))
		},
		"last": func() *goja.Object {
			return toObject(rt, mapFrameLocator(rt, fl.Last()))
		},
		"locator": func(selector string) *goja.Object {
			return toObject(rt, mapLocator(rt, fl.Locator(selector)))
		},
		"nth": func(index int) *goja.Object {
			return toObject(rt, mapFrameLocator(rt, fl.Nth(index)))
		},
	}
}

// mapElementHandle to the JS module.
//
//nolint:funlen
func mapElementHandle(rt *goja.Runtime, eh api.ElementHandle) mapping {
	return mapping{
		"$": func(selector string) (goja.Value, error) {
			h, err := eh.Query(selector)
			return mapOptionalElementHandle(rt, h, err)
		},
		"$$": func(selector string) (*goja.Object, error) {
			hs, err := eh.QueryAll(selector)
			return mapElementHandles(rt, hs, err)
		},
		"boundingBox": func() (goja.Value, error) {
			r, err := eh.BoundingBox()
			if err != nil {
				return nil, err
			}
			return mapRect(rt, r), nil
		},
		"check": func(opts goja.Value) error {
			popts, err := parseCheckOptions(rt, opts)
			if err != nil {
				return err
			}
			return eh.Check(popts)
		},
		"click": func(opts goja.Value) error {
			popts, err := parseClickOptions(rt, opts)
			if err != nil {
				return err
			}
			return eh.Click(popts)
		},
		"contentFrame": func() (goja.Value, error) {
			f, err := eh.ContentFrame()
			return mapOptionalFrame(rt, f, err)
		},
		"dblclick": func(opts goja.Value) error {
			popts, err := parseClickOptions(rt, opts)
			if err != nil {
				return err
			}
			return eh.Dblclick(popts)
		},
		"dispatchEvent": eh.DispatchEvent,
		"dispose":       eh.Dispose,
		"fill": func(value string, opts goja.Value) error {
			popts, err := parseFillOptions(rt, opts)
			if err != nil {
				return err
			}
			return eh.Fill(value, popts)
		},
		"focus": eh.Focus,
		"getAttribute": func(name string) (goja.Value, error) {
			v, ok, err := eh.GetAttribute(name)
			if err != nil {
				return nil, err
			}
			return optionalString(rt, v, ok), nil
		},
		"hover": func(opts goja.Value) error {
			popts, err := parseHoverOptions(rt, opts)
			if err != nil {
				return err
			}
			return eh.Hover(popts)
		},
		"innerHTML":  eh.InnerHTML,
		"innerText":  eh.InnerText,
		"inputValue": eh.InputValue,
		"isChecked":  eh.IsChecked,
		"isDisabled": eh.IsDisabled,
		"isEditable": eh.IsEditable,
		"isEnabled":  eh.IsEnabled,
		"isHidden":   eh.IsHidden,
		"isVisible":  eh.IsVisible,
		"ownerFrame": func() (goja.Value, error) {
			f, err := eh.OwnerFrame()
			return mapOptionalFrame(rt, f, err)
		},
		"press": func(key string, opts goja.Value) error {
			popts, err := parsePressOptions(rt, opts)
			if err != nil {
				return err
			}
			return eh.Press(key, popts)
		},
		"screenshot": func(opts goja.Value) (goja.ArrayBuffer, error) {
			popts, err := parseScreenshotOptions(rt, opts)
			if err != nil {
				return goja.ArrayBuffer{}, err
			}
			buf, err := eh.Screenshot(popts)
			if err != nil {
				return goja.ArrayBuffer{}, err
			}
			return rt.NewArrayBuffer(buf), nil
		},
		"scrollIntoViewIfNeeded": eh.ScrollIntoViewIfNeeded,
		"selectOption": func(values goja.Value, opts goja.Value) ([]string, error) {
			vals, err := parseStrings(rt, values)
			if err != nil {
				return nil, err
			}
			popts, err := parseSelectOptionOptions(rt, opts)
			if err != nil {
				return nil, err
			}
			return eh.SelectOption(vals, popts)
		},
		"setChecked": func(checked bool, opts goja.Value) error {
			popts, err := parseCheckOptions(rt, opts)
			if err != nil {
				return err
			}
			return eh.SetChecked(checked, popts)
		},
		"setInputFiles": func(files goja.Value, opts goja.Value) error {
			pfiles, err := parseFiles(rt, files)
			if err != nil {
				return err
			}
			popts, err := parseSetInputFilesOptions(rt, opts)
			if err != nil {
				return err
			}
			return eh.SetInputFiles(pfiles, popts)
		},
		"textContent": func() (goja.Value, error) {
			v, ok, err := eh.TextContent()
			if err != nil {
				return nil, err
			}
			return optionalString(rt, v, ok), nil
		},
		"type": func(text string, opts goja.Value) error {
			popts, err := parseTypeOptions(rt, opts)
			if err != nil {
				return err
			}
			return eh.Type(text, popts)
		},
		"uncheck": func(opts goja.Value) error {
			popts, err := parseCheckOptions(rt, opts)
			if err != nil {
				return err
			}
			return eh.Uncheck(popts)
		},
	}
}

// mapDownload to the JS module.
func mapDownload(rt *goja.Runtime, d api.Download) mapping {
	return mapping{
		"id":  d.ID,
		"url": d.URL,
		"state": func() string {
			return string(d.State())
		},
		"page": func() goja.Value {
			p := d.Page()
			if p == nil {
				return goja.Null()
			}
			return toObject(rt, mapPage(rt, p))
		},
		"waitForFinish": func(timeout float64) (string, error) {
			if timeout < 0 {
				return "", fmt.Errorf("timeout must not be negative, got %v", timeout)
			}
			s, err := d.WaitForFinish(time.Duration(timeout * float64(time.Millisecond)))
			return string(s), err
		},
	}
}
