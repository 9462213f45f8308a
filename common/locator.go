package common

import (
	"strconv"

	"github.com/liuxd6825/tabpilot/api"
	"github.com/liuxd6825/tabpilot/host"
	"github.com/liuxd6825/tabpilot/log"
)

// Ensure Locator and FrameLocator implement their api interfaces.
var (
	_ api.Locator      = &Locator{}
	_ api.FrameLocator = &FrameLocator{}
)

// Locator represent a way to find element(s) on the page at any moment.
type Locator struct {
	selector string

	frame *Frame

	log *log.Logger
}

// NewLocator creates and returns a new locator.
func NewLocator(f *Frame, selector string, l *log.Logger) *Locator {
	return &Locator{
		selector: selector,
		frame:    f,
		log:      l,
	}
}

func (l *Locator) debug(method string) {
	l.log.Debugf("Locator:"+method, "fid:%d furl:%q sel:%q", l.frame.ID(), l.frame.URL(), l.selector)
}

func (l *Locator) chain(selector string) string {
	return l.selector + " >> " + selector
}

// Check on an element using locator's selector with strict mode on.
func (l *Locator) Check(opts *api.CheckOptions) error {
	l.debug("Check")
	return l.frame.setChecked("locator.check", l.selector, true, true, opts)
}

// Click on an element using locator's selector with strict mode on.
func (l *Locator) Click(opts *api.ClickOptions) error {
	l.debug("Click")
	return l.frame.click("locator.click", l.selector, true, opts, 1)
}

// Count returns the number of elements currently matching the selector.
func (l *Locator) Count() (int, error) {
	l.debug("Count")
	return frameCall(l.frame, "locator.count", 0, func(p *Progress) (int, error) {
		return l.frame.queryCount(p, l.selector)
	})
}

// Dblclick double clicks on an element using locator's selector with strict mode on.
func (l *Locator) Dblclick(opts *api.ClickOptions) error {
	l.debug("Dblclick")
	return l.frame.click("locator.dblclick", l.selector, true, opts, 2)
}

// DispatchEvent dispatches an event of type typ on the element.
func (l *Locator) DispatchEvent(typ string, opts *api.BaseOptions) error {
	l.debug("DispatchEvent")
	return l.frame.dispatchEvent("locator.dispatchEvent", l.selector, true, typ, opts)
}

// Fill out the element using locator's selector with strict mode on.
func (l *Locator) Fill(value string, opts *api.FillOptions) error {
	l.debug("Fill")
	return l.frame.fill("locator.fill", l.selector, true, value, opts)
}

// First narrows the locator to its first match.
func (l *Locator) First() api.Locator {
	return NewLocator(l.frame, l.chain("nth=0"), l.log)
}

// Focus on the element using locator's selector with strict mode on.
func (l *Locator) Focus(opts *api.BaseOptions) error {
	l.debug("Focus")
	return l.frame.focus("locator.focus", l.selector, true, opts)
}

// FrameLocator locates an iframe inside the element matched by the locator.
func (l *Locator) FrameLocator(selector string) api.FrameLocator {
	return NewFrameLocator(l.frame, l.chain(selector), l.log)
}

// GetAttribute of the element using locator's selector with strict mode on.
func (l *Locator) GetAttribute(name string, opts *api.BaseOptions) (string, bool, error) {
	l.debug("GetAttribute")
	return l.frame.getAttribute("locator.getAttribute", l.selector, true, name, opts)
}

// Hover moves the pointer over the element with strict mode on.
func (l *Locator) Hover(opts *api.HoverOptions) error {
	l.debug("Hover")
	return l.frame.hover("locator.hover", l.selector, true, opts)
}

func (l *Locator) InnerHTML(opts *api.BaseOptions) (string, error) {
	l.debug("InnerHTML")
	return l.frame.stringProp("locator.innerHTML", l.selector, true, host.OpInnerHTML, opts)
}

func (l *Locator) InnerText(opts *api.BaseOptions) (string, error) {
	l.debug("InnerText")
	return l.frame.stringProp("locator.innerText", l.selector, true, host.OpInnerText, opts)
}

func (l *Locator) InputValue(opts *api.BaseOptions) (string, error) {
	l.debug("InputValue")
	return l.frame.stringProp("locator.inputValue", l.selector, true, host.OpInputValue, opts)
}

// IsChecked returns true if the element matches the locator's
// selector and is checked. Otherwise, returns false.
func (l *Locator) IsChecked(opts *api.BaseOptions) (bool, error) {
	l.debug("IsChecked")
	return l.frame.isState("locator.isChecked", l.selector, true, "checked", opts)
}

// IsDisabled returns true if the element matches the locator's
// selector and is disabled. Otherwise, returns false.
func (l *Locator) IsDisabled(opts *api.BaseOptions) (bool, error) {
	l.debug("IsDisabled")
	return l.frame.isState("locator.isDisabled", l.selector, true, "disabled", opts)
}

// IsEditable returns true if the element matches the locator's
// selector and is editable. Otherwise, returns false.
func (l *Locator) IsEditable(opts *api.BaseOptions) (bool, error) {
	l.debug("IsEditable")
	return l.frame.isState("locator.isEditable", l.selector, true, "editable", opts)
}

// IsEnabled returns true if the element matches the locator's
// selector and is enabled. Otherwise, returns false.
func (l *Locator) IsEnabled(opts *api.BaseOptions) (bool, error) {
	l.debug("IsEnabled")
	return l.frame.isState("locator.isEnabled", l.selector, true, "enabled", opts)
}

// IsHidden returns true if the element matches the locator's
// selector and is hidden. Otherwise, returns false.
func (l *Locator) IsHidden(opts *api.BaseOptions) (bool, error) {
	l.debug("IsHidden")
	return l.frame.isState("locator.isHidden", l.selector, true, "hidden", opts)
}

// IsVisible returns true if the element matches the locator's
// selector and is visible. Otherwise, returns false.
func (l *Locator) IsVisible(opts *api.BaseOptions) (bool, error) {
	l.debug("IsVisible")
	return l.frame.isState("locator.isVisible", l.selector, true, "visible", opts)
}

// Last narrows the locator to its last match.
func (l *Locator) Last() api.Locator {
	return NewLocator(l.frame, l.chain("nth=-1"), l.log)
}

// Locator narrows the search to descendants of the locator's match.
func (l *Locator) Locator(selector string) api.Locator {
	return NewLocator(l.frame, l.chain(selector), l.log)
}

// Nth narrows the locator to its match at index. Negative indexes count
// from the end.
func (l *Locator) Nth(index int) api.Locator {
	return NewLocator(l.frame, l.chain("nth="+strconv.Itoa(index)), l.log)
}

// Press the given key on the element found that matches the locator's
// selector with strict mode on.
func (l *Locator) Press(key string, opts *api.PressOptions) error {
	l.debug("Press")
	return l.frame.press("locator.press", l.selector, true, key, opts)
}

// Selector returns the selector of the locator.
func (l *Locator) Selector() string {
	return l.selector
}

// SelectOption filters option values of the first element found that
// matches the locator's selector (strict mode on), selects the options,
// and returns the filtered options.
func (l *Locator) SelectOption(values []string, opts *api.SelectOptionOptions) ([]string, error) {
	l.debug("SelectOption")
	return l.frame.selectOption("locator.selectOption", l.selector, true, values, opts)
}

func (l *Locator) SetChecked(checked bool, opts *api.CheckOptions) error {
	l.debug("SetChecked")
	return l.frame.setChecked("locator.setChecked", l.selector, true, checked, opts)
}

func (l *Locator) SetInputFiles(files []api.FilePayload, opts *api.SetInputFilesOptions) error {
	l.debug("SetInputFiles")
	return l.frame.setInputFiles("locator.setInputFiles", l.selector, true, files, opts)
}

// TextContent returns the element's text content that matches
// the locator's selector with strict mode on.
func (l *Locator) TextContent(opts *api.BaseOptions) (string, bool, error) {
	l.debug("TextContent")
	return l.frame.textContent("locator.textContent", l.selector, true, opts)
}

// Type text on the element found that matches the locator's
// selector with strict mode on.
func (l *Locator) Type(text string, opts *api.TypeOptions) error {
	l.debug("Type")
	return l.frame.typ("locator.type", l.selector, true, text, opts)
}

// Uncheck on an element using locator's selector with strict mode on.
func (l *Locator) Uncheck(opts *api.CheckOptions) error {
	l.debug("Uncheck")
	return l.frame.setChecked("locator.uncheck", l.selector, true, false, opts)
}

// WaitFor waits for the element matching the locator's selector with
// strict mode on.
func (l *Locator) WaitFor(opts *api.WaitForSelectorOptions) error {
	l.debug("WaitFor")

	if opts == nil {
		opts = &api.WaitForSelectorOptions{}
	}
	state, err := ParseDOMElementState(opts.State)
	if err != nil {
		return err
	}
	_, err = frameCall(l.frame, "locator.waitFor", opts.Timeout, func(p *Progress) (struct{}, error) {
		h, err := l.frame.waitForSelector(p, l.selector, state, true)
		if h != nil {
			h.release(p)
		}
		return struct{}{}, err
	})
	return err
}

// FrameLocator locates elements in the iframe matched by its selector.
type FrameLocator struct {
	selector string
	frame    *Frame
	log      *log.Logger
}

// NewFrameLocator creates a locator for the content of the iframe matching
// selector.
func NewFrameLocator(f *Frame, selector string, l *log.Logger) *FrameLocator {
	return &FrameLocator{selector: selector, frame: f, log: l}
}

func (fl *FrameLocator) First() api.FrameLocator {
	return NewFrameLocator(fl.frame, fl.selector+" >> nth=0", fl.log)
}

// FrameLocator locates an iframe inside the content of this one.
func (fl *FrameLocator) FrameLocator(selector string) api.FrameLocator {
	return NewFrameLocator(fl.frame, fl.selector+" >> "+enterFramePart+" >> "+selector, fl.log)
}

func (fl *FrameLocator) Last() api.FrameLocator {
	return NewFrameLocator(fl.frame, fl.selector+" >> nth=-1", fl.log)
}

// Locator locates elements matching selector inside the iframe.
func (fl *FrameLocator) Locator(selector string) api.Locator {
	return NewLocator(fl.frame, fl.selector+" >> "+enterFramePart+" >> "+selector, fl.log)
}

func (fl *FrameLocator) Nth(index int) api.FrameLocator {
	return NewFrameLocator(fl.frame, fl.selector+" >> nth="+strconv.Itoa(index), fl.log)
}
