package common

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/liuxd6825/tabpilot/api"
)

// ImageFormat represents an image file format.
type ImageFormat string

// Valid image format options.
const (
	ImageFormatJPEG ImageFormat = "jpeg"
	ImageFormatPNG  ImageFormat = "png"
)

func (f ImageFormat) String() string {
	return string(f)
}

// ParseImageFormat parses s, defaulting to png for an empty string.
func ParseImageFormat(s string) (ImageFormat, error) {
	switch strings.ToLower(s) {
	case "", "png":
		return ImageFormatPNG, nil
	case "jpeg", "jpg":
		return ImageFormatJPEG, nil
	}
	return "", fmt.Errorf("%w: unknown image format %q, expected png or jpeg", ErrInvalidOption, s)
}

// LifecycleEvent is a step of the lifecycle of a document. Values are
// ordered: a later event implies all earlier ones.
type LifecycleEvent int

const (
	LifecycleEventCommit LifecycleEvent = iota
	LifecycleEventDOMContentLoad
	LifecycleEventLoad
	LifecycleEventNetworkIdle
)

func (l LifecycleEvent) String() string {
	return lifecycleEventToString[l]
}

var lifecycleEventToString = map[LifecycleEvent]string{ //nolint:gochecknoglobals
	LifecycleEventCommit:         "commit",
	LifecycleEventDOMContentLoad: "domcontentloaded",
	LifecycleEventLoad:           "load",
	LifecycleEventNetworkIdle:    "networkidle",
}

var lifecycleEventToID = map[string]LifecycleEvent{ //nolint:gochecknoglobals
	"commit":           LifecycleEventCommit,
	"domcontentloaded": LifecycleEventDOMContentLoad,
	"load":             LifecycleEventLoad,
	"networkidle":      LifecycleEventNetworkIdle,
}

// ParseLifecycleEvent parses a load state, defaulting to load for an empty
// string.
func ParseLifecycleEvent(s api.LoadState) (LifecycleEvent, error) {
	if s == "" {
		return LifecycleEventLoad, nil
	}
	var l LifecycleEvent
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, err
	}
	return l, nil
}

// MarshalJSON returns the JSON representation of the lifecycle event.
func (l LifecycleEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// UnmarshalJSON unmarshals a JSON string into a lifecycle event.
func (l *LifecycleEvent) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	return l.UnmarshalText([]byte(s))
}

// MarshalText returns the lifecycle event name.
func (l LifecycleEvent) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText unmarshals a lifecycle event name.
func (l *LifecycleEvent) UnmarshalText(text []byte) error {
	id, ok := lifecycleEventToID[string(text)]
	if !ok {
		valid := make([]string, 0, len(lifecycleEventToID))
		for k := range lifecycleEventToID {
			valid = append(valid, fmt.Sprintf("'%s'", k))
		}
		sort.Strings(valid)
		return fmt.Errorf("%w: invalid lifecycle event: '%s'; must be one of: %s",
			ErrInvalidOption, string(text), strings.Join(valid, ", "))
	}
	*l = id
	return nil
}

// lifecycleSet is the set of lifecycle events fired for a document.
type lifecycleSet uint8

// with returns the set with l and every event l implies. Network idle is not
// implied by, and doesn't imply, the other events.
func (s lifecycleSet) with(l LifecycleEvent) lifecycleSet {
	if l == LifecycleEventNetworkIdle {
		return s | 1<<l
	}
	for e := LifecycleEventCommit; e <= l; e++ {
		s |= 1 << e
	}
	return s
}

func (s lifecycleSet) has(l LifecycleEvent) bool {
	return s&(1<<l) != 0
}

func (s lifecycleSet) events() []LifecycleEvent {
	var out []LifecycleEvent
	for e := LifecycleEventCommit; e <= LifecycleEventNetworkIdle; e++ {
		if s.has(e) {
			out = append(out, e)
		}
	}
	return out
}

func (s lifecycleSet) String() string {
	names := make([]string, 0, 4)
	for _, e := range s.events() {
		names = append(names, e.String())
	}
	return "{" + strings.Join(names, ",") + "}"
}

// DOMElementState is the state an element is waited for.
type DOMElementState int

const (
	DOMElementStateAttached DOMElementState = iota
	DOMElementStateDetached
	DOMElementStateVisible
	DOMElementStateHidden
)

func (s DOMElementState) String() string {
	return [...]string{"attached", "detached", "visible", "hidden"}[s]
}

// ParseDOMElementState parses an element state, defaulting to visible.
func ParseDOMElementState(s api.ElementState) (DOMElementState, error) {
	switch s {
	case "", api.StateVisible:
		return DOMElementStateVisible, nil
	case api.StateAttached:
		return DOMElementStateAttached, nil
	case api.StateDetached:
		return DOMElementStateDetached, nil
	case api.StateHidden:
		return DOMElementStateHidden, nil
	}
	return 0, fmt.Errorf("%w: unknown element state %q, expected attached, detached, visible or hidden",
		ErrInvalidOption, s)
}
