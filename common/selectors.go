/**
 * Copyright (c) Microsoft Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

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

package common

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/liuxd6825/tabpilot/host"
)

// Matches `name:body`, a query engine name and selector for that engine.
var reQueryEngine *regexp.Regexp = regexp.MustCompile(`^[a-zA-Z_0-9-+:*]+$`)

// Matches start of XPath query.
var reXPathSelector *regexp.Regexp = regexp.MustCompile(`^\(*//`)

// Matches a snapshot ref, optionally prefixed with the index of the frame it
// was captured in.
var reSnapshotRef *regexp.Regexp = regexp.MustCompile(`^(?:f(\d+))?(e\d+)$`)

const (
	enterFrameEngine = "internal:control"
	enterFrameBody   = "enter-frame"
	enterFramePart   = enterFrameEngine + "=" + enterFrameBody
)

// Engines whose body is itself a selector.
var nestedSelectorEngines = map[string]bool{ //nolint:gochecknoglobals
	"internal:has":     true,
	"internal:has-not": true,
	"internal:and":     true,
	"internal:or":      true,
	"internal:chain":   true,
}

type SelectorPart struct {
	Name string `json:"name"`
	Body string `json:"body"`
}

func (p *SelectorPart) String() string {
	return p.Name + "=" + p.Body
}

func (p *SelectorPart) isFrameBoundary() bool {
	return p.Name == enterFrameEngine && strings.TrimSpace(p.Body) == enterFrameBody
}

// hasNestedFrameBoundary reports whether the nested selector of p crosses a
// frame boundary at any depth. Bodies that don't parse are left to fail
// later, when the selector is sent to the page.
func (p *SelectorPart) hasNestedFrameBoundary() bool {
	if !nestedSelectorEngines[p.Name] {
		return false
	}
	nested, err := NewSelector(unquoteSelectorBody(p.Body))
	if err != nil {
		return false
	}
	for _, np := range nested.Parts {
		if np.isFrameBoundary() || np.hasNestedFrameBoundary() {
			return true
		}
	}
	return false
}

type Selector struct {
	Selector string          `json:"selector"`
	Parts    []*SelectorPart `json:"parts"`

	// By default chained queries resolve to elements matched by the last selector,
	// but a selector can be prefixed with `*` to capture elements resolved by
	// an intermediate selector.
	Capture *int `json:"capture"`
}

func NewSelector(selector string) (*Selector, error) {
	s := Selector{
		Selector: selector,
		Parts:    make([]*SelectorPart, 0, 1),
		Capture:  nil,
	}
	if strings.TrimSpace(selector) == "" {
		return &s, fmt.Errorf("%w: empty selector", ErrInvalidSelector)
	}
	err := s.parse()
	return &s, err
}

func (s *Selector) appendPart(p *SelectorPart, capture bool) error {
	s.Parts = append(s.Parts, p)
	if capture {
		if s.Capture != nil {
			return fmt.Errorf("%w: only one of the selectors can capture using * modifier", ErrInvalidSelector)
		}
		s.Capture = new(int)
		*s.Capture = (len(s.Parts) - 1)
	}
	return nil
}

func (s *Selector) parse() error {
	parsePart := func(selector string, start, index int) (*SelectorPart, bool) {
		part := strings.TrimSpace(selector[start:index])
		eqIndex := strings.Index(part, "=")
		var name, body string

		if eqIndex != -1 && reQueryEngine.Match([]byte(strings.TrimSpace(part[0:eqIndex]))) {
			name = strings.TrimSpace(part[0:eqIndex])
			body = part[eqIndex+1:]
		} else if len(part) > 1 && part[0] == '"' && part[len(part)-1] == '"' {
			name = "text"
			body = part
		} else if len(part) > 1 && part[0] == '\'' && part[len(part)-1] == '\'' {
			name = "text"
			body = part
		} else if reXPathSelector.Match([]byte(part)) || strings.HasPrefix(part, "..") {
			// If selector starts with '//' or '//' prefixed with multiple opening
			// parenthesis, consider xpath. @see https://github.com/microsoft/playwright/issues/817
			// If selector starts with '..', consider xpath as well.
			name = "xpath"
			body = part
		} else {
			name = "css"
			body = part
		}

		capture := false
		if name[0] == '*' {
			capture = true
			name = name[1:]
		}

		return &SelectorPart{Name: name, Body: body}, capture
	}

	if !strings.Contains(s.Selector, ">>") {
		part, capture := parsePart(s.Selector, 0, len(s.Selector))
		return s.appendPart(part, capture)
	}

	start := 0
	index := 0
	var quote byte

	for index < len(s.Selector) {
		c := s.Selector[index]
		if c == '\\' && index+1 < len(s.Selector) {
			index += 2
		} else if c == quote {
			quote = byte(0)
			index++
		} else if quote == 0 && (c == '"' || c == '\'' || c == '`') {
			quote = c
			index++
		} else if quote == 0 && c == '>' && index+1 < len(s.Selector) && s.Selector[index+1] == '>' {
			if strings.TrimSpace(s.Selector[start:index]) == "" {
				return fmt.Errorf("%w: empty part in %q", ErrInvalidSelector, s.Selector)
			}
			part, capture := parsePart(s.Selector, start, index)
			if err := s.appendPart(part, capture); err != nil {
				return err
			}
			index += 2
			start = index
		} else {
			index++
		}
	}
	if quote != 0 {
		return fmt.Errorf("%w: unterminated quote in %q", ErrInvalidSelector, s.Selector)
	}
	if strings.TrimSpace(s.Selector[start:index]) == "" {
		return fmt.Errorf("%w: empty part in %q", ErrInvalidSelector, s.Selector)
	}

	part, capture := parsePart(s.Selector, start, index)
	return s.appendPart(part, capture)
}

// String joins the parts back into a selector string.
func (s *Selector) String() string {
	parts := make([]string, 0, len(s.Parts))
	for i, p := range s.Parts {
		str := p.String()
		if s.Capture != nil && *s.Capture == i {
			str = "*" + str
		}
		parts = append(parts, str)
	}
	return strings.Join(parts, " >> ")
}

// splitFrames splits the selector at frame boundaries. Every chunk but the
// last must resolve to a frame owner element. A boundary inside a nested
// selector, or a capture crossing a boundary, is rejected.
func (s *Selector) splitFrames() ([]*Selector, error) {
	chunks := []*Selector{{}}
	for i, p := range s.Parts {
		if p.hasNestedFrameBoundary() {
			return nil, fmt.Errorf("%w: frame boundary is not allowed inside %q in %q",
				ErrInvalidSelector, p.Name, s.Selector)
		}
		cur := chunks[len(chunks)-1]
		if p.isFrameBoundary() {
			if len(cur.Parts) == 0 {
				return nil, fmt.Errorf("%w: frame boundary must follow a frame owner selector in %q",
					ErrInvalidSelector, s.Selector)
			}
			if cur.Capture != nil {
				return nil, fmt.Errorf("%w: capture can't be used before a frame boundary in %q",
					ErrInvalidSelector, s.Selector)
			}
			chunks = append(chunks, &Selector{})
			continue
		}
		cur.Parts = append(cur.Parts, p)
		if s.Capture != nil && *s.Capture == i {
			c := len(cur.Parts) - 1
			cur.Capture = &c
		}
	}
	if len(chunks[len(chunks)-1].Parts) == 0 {
		return nil, fmt.Errorf("%w: selector can't end with a frame boundary: %q", ErrInvalidSelector, s.Selector)
	}
	for _, c := range chunks {
		c.Selector = c.String()
	}
	return chunks, nil
}

// snapshotRef returns the frame index and element ref of a selector made of
// a single aria-ref part. Refs without a frame index return -1.
func (s *Selector) snapshotRef() (frameIndex int, ref string, ok bool) {
	if len(s.Parts) != 1 || s.Parts[0].Name != "aria-ref" {
		return 0, "", false
	}
	m := reSnapshotRef.FindStringSubmatch(strings.TrimSpace(s.Parts[0].Body))
	if m == nil {
		return 0, "", false
	}
	if m[1] == "" {
		return -1, m[2], true
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, "", false
	}
	return n, m[2], true
}

// arg converts the selector into the form page functions take. Bodies of
// has and has-not are parsed into nested selectors.
func (s *Selector) arg() (host.SelectorArg, error) {
	arg := host.SelectorArg{
		Parts:   make([]host.SelectorPart, 0, len(s.Parts)),
		Capture: s.Capture,
	}
	for _, p := range s.Parts {
		part := host.SelectorPart{Name: p.Name, Body: p.Body}
		if p.Name == "internal:has" || p.Name == "internal:has-not" {
			nested, err := NewSelector(unquoteSelectorBody(p.Body))
			if err != nil {
				return arg, err
			}
			na, err := nested.arg()
			if err != nil {
				return arg, err
			}
			b, err := json.Marshal(na)
			if err != nil {
				return arg, fmt.Errorf("marshaling nested selector %q: %w", p.Body, err)
			}
			part.Body = string(b)
		}
		arg.Parts = append(arg.Parts, part)
	}
	return arg, nil
}

func unquoteSelectorBody(body string) string {
	body = strings.TrimSpace(body)
	if len(body) > 1 && body[0] == '"' {
		var s string
		if err := json.Unmarshal([]byte(body), &s); err == nil {
			return s
		}
	}
	return body
}
