package browser

import (
	"fmt"

	"github.com/dop251/goja"

	"github.com/liuxd6825/tabpilot/api"
	"github.com/liuxd6825/tabpilot/common"
	"github.com/liuxd6825/tabpilot/host"
)

// mapBrowser to the JS module.
func mapBrowser(vu moduleVU) mapping {
	rt := vu.rt
	return mapping{
		"newPage": func(url string) (*goja.Object, error) {
			p, err := vu.newPage(url)
			if err != nil {
				return nil, err
			}
			return toObject(rt, mapPage(rt, p)), nil
		},
		"pages": func() *goja.Object {
			pages := vu.browser.Pages()
			mpages := make([]any, 0, len(pages))
			for _, p := range pages {
				mpages = append(mpages, toObject(rt, mapPage(rt, p)))
			}
			return rt.NewArray(mpages...)
		},
		"closePage": func(targetID int64) error {
			p := vu.browser.Page(host.TargetID(targetID))
			if p == nil {
				return fmt.Errorf("closing page %d: %w", targetID, common.ErrTargetClosed)
			}
			if err := p.Close(); err != nil {
				return err
			}
			if err := vu.opener.CloseTarget(p.TargetID()); err != nil {
				return fmt.Errorf("closing page %d: %w", targetID, err)
			}
			return nil
		},
		"version": func() string {
			return Version
		},
	}
}

// newPage opens url in a new tab and waits for it to load.
func (vu moduleVU) newPage(url string) (api.Page, error) {
	if url == "" {
		url = "about:blank"
	}
	tid, err := vu.opener.Open(url)
	if err != nil {
		return nil, fmt.Errorf("opening %q: %w", url, err)
	}
	p, err := vu.browser.NewPage(tid)
	if err != nil {
		return nil, err
	}
	if err := p.WaitForLoadState(api.LoadStateLoad, nil); err != nil {
		return nil, err
	}
	return p, nil
}
