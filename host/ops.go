/*
 *
 * tabpilot - a remote browser automation control plane
 * Copyright (C) 2021 Load Impact
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package host

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Op names a page function registered by the page script. Arbitrary code is
// never sent to a page, every host matches the same closed set of names.
type Op string

// Page functions and their arguments. Node arguments are HandleRef values.
// Actions answer "done", "error:notconnected" or another "error:..." string.
const (
	OpPing     Op = "ping"     // () bool
	OpAnnounce Op = "announce" // () posts MessageReady again
	OpDocument Op = "document" // () handle

	OpQuerySelector    Op = "querySelector"    // (root|null, SelectorArg, strict) handle|null
	OpQuerySelectorAll Op = "querySelectorAll" // (root|null, SelectorArg) handles
	OpQueryCount       Op = "queryCount"       // (root|null, SelectorArg) int
	OpDescribe         Op = "describe"         // (node) NodeDescription
	OpContentFrame     Op = "contentFrame"     // (node) ContentFrame|null
	OpRelease          Op = "release"          // (handle) bool

	OpCheckElementState Op = "checkElementState" // (node, state) bool
	OpScrollIntoView    Op = "scrollIntoView"    // (node)
	OpBoundingBox       Op = "boundingBox"       // (node) Rect|null
	OpClick             Op = "click"             // (node, ClickArg)
	OpHover             Op = "hover"             // (node)
	OpFocus             Op = "focus"             // (node)
	OpFill              Op = "fill"              // (node, value)
	OpType              Op = "type"              // (node, text)
	OpPress             Op = "press"             // (node, key)
	OpSetChecked        Op = "setChecked"        // (node, bool)
	OpSelectOption      Op = "selectOption"      // (node, values) []string
	OpSetInputFiles     Op = "setInputFiles"     // (node, []FilePayload)
	OpDispatchEvent     Op = "dispatchEvent"     // (node, type)

	OpGetAttribute Op = "getAttribute" // (node, name) string|null
	OpTextContent  Op = "textContent"  // (node) string|null
	OpInnerText    Op = "innerText"    // (node) string
	OpInnerHTML    Op = "innerHTML"    // (node) string
	OpInputValue   Op = "inputValue"   // (node) string

	OpNavigate       Op = "navigate"       // (url)
	OpReload         Op = "reload"         // ()
	OpHistoryBack    Op = "historyBack"    // () "done"|"error:nohistory"
	OpHistoryForward Op = "historyForward" // () "done"|"error:nohistory"

	OpPageMetrics Op = "pageMetrics" // () PageMetrics
	OpScrollTo    Op = "scrollTo"    // (x, y) Point
	OpContent     Op = "content"     // () string
	OpTitle       Op = "title"       // () string
	OpURL         Op = "url"         // () string
	OpSnapshot    Op = "snapshot"    // (refPrefix) string
)

var ops = map[Op]struct{}{ //nolint:gochecknoglobals
	OpPing: {}, OpAnnounce: {}, OpDocument: {},
	OpQuerySelector: {}, OpQuerySelectorAll: {}, OpQueryCount: {},
	OpDescribe: {}, OpContentFrame: {}, OpRelease: {},
	OpCheckElementState: {}, OpScrollIntoView: {}, OpBoundingBox: {},
	OpClick: {}, OpHover: {}, OpFocus: {}, OpFill: {}, OpType: {},
	OpPress: {}, OpSetChecked: {}, OpSelectOption: {}, OpSetInputFiles: {},
	OpDispatchEvent: {},
	OpGetAttribute: {}, OpTextContent: {}, OpInnerText: {}, OpInnerHTML: {},
	OpInputValue: {},
	OpNavigate: {}, OpReload: {}, OpHistoryBack: {}, OpHistoryForward: {},
	OpPageMetrics: {}, OpScrollTo: {}, OpContent: {}, OpTitle: {}, OpURL: {},
	OpSnapshot: {},
}

// Valid returns true if op is a registered page function.
func (op Op) Valid() bool {
	_, ok := ops[op]
	return ok
}

// ParseOp returns the page function named s.
func ParseOp(s string) (Op, error) {
	op := Op(s)
	if !op.Valid() {
		return "", fmt.Errorf("unknown page function %q", s)
	}
	return op, nil
}

// Ops returns the names of all registered page functions, sorted.
func Ops() []Op {
	all := make([]Op, 0, len(ops))
	for op := range ops {
		all = append(all, op)
	}
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })
	return all
}

// SelectorPart is one engine step of a parsed selector.
type SelectorPart struct {
	Name string `json:"name"`
	Body string `json:"body"`
}

// SelectorArg is the wire form of a parsed selector chain.
type SelectorArg struct {
	Parts   []SelectorPart `json:"parts"`
	Capture *int           `json:"capture,omitempty"`
}

// NodeDescription is returned by OpDescribe.
type NodeDescription struct {
	TagName string `json:"tagName"`
	Preview string `json:"preview"`
}

// ContentFrame is returned by OpContentFrame for frame owner elements.
type ContentFrame struct {
	FrameID FrameID `json:"frameId"`
}

// Rect is a box in CSS pixels relative to the viewport.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Point is a position in CSS pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// PageMetrics describes the scrollable document and the viewport.
type PageMetrics struct {
	ScrollWidth      int     `json:"scrollWidth"`
	ScrollHeight     int     `json:"scrollHeight"`
	ViewportWidth    int     `json:"viewportWidth"`
	ViewportHeight   int     `json:"viewportHeight"`
	DevicePixelRatio float64 `json:"devicePixelRatio"`
	ScrollX          float64 `json:"scrollX"`
	ScrollY          float64 `json:"scrollY"`
}

// ClickArg is the option argument of OpClick.
type ClickArg struct {
	Button     string `json:"button,omitempty"`
	ClickCount int    `json:"clickCount,omitempty"`
}

// FilePayload is a file passed to OpSetInputFiles. Buffer is base64 encoded.
type FilePayload struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Buffer   string `json:"buffer"`
}

// WireCall is the decoded form of a Call as it arrives in a page.
type WireCall struct {
	Function Op                `json:"function"`
	Args     []json.RawMessage `json:"args"`
}

// DecodeCall round trips c through its JSON form so that in-process hosts see
// exactly what a remote page script would.
func DecodeCall(c Call) (*WireCall, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s call: %w", c.Function, err)
	}
	var wc WireCall
	if err := json.Unmarshal(b, &wc); err != nil {
		return nil, fmt.Errorf("unmarshaling %s call: %w", c.Function, err)
	}
	return &wc, nil
}

// Arg decodes the i-th argument into dst. Missing arguments decode as null.
func (wc *WireCall) Arg(i int, dst any) error {
	raw := json.RawMessage("null")
	if i < len(wc.Args) {
		raw = wc.Args[i]
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%s: argument %d: %w", wc.Function, i, err)
	}
	return nil
}

// HandleArg decodes the i-th argument as a node reference. It returns an empty
// string for null.
func (wc *WireCall) HandleArg(i int) (string, error) {
	var ref *HandleRef
	if err := wc.Arg(i, &ref); err != nil {
		return "", err
	}
	if ref == nil {
		return "", nil
	}
	return ref.Handle, nil
}
