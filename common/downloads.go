package common

import (
	"context"
	"sync"
	"time"

	"github.com/liuxd6825/tabpilot/api"
	"github.com/liuxd6825/tabpilot/host"
	"github.com/liuxd6825/tabpilot/log"
)

// Ensure Download implements the api.Download interface.
var _ api.Download = &Download{}

// Download is a file download seen by the host.
type Download struct {
	id     int64
	page   *Page
	logger *log.Logger

	mu    sync.Mutex
	url   string
	state host.DownloadState
	done  chan struct{}
}

func (d *Download) ID() int64 {
	return d.id
}

func (d *Download) URL() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.url
}

func (d *Download) State() host.DownloadState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Page returns the page the download is attributed to, or nil if no page
// was active when it started. Hosts don't report which tab started a
// download, so this is the most recently active page and may be the wrong
// one when several pages are used at once.
func (d *Download) Page() api.Page {
	if d.page == nil {
		return nil
	}
	return d.page
}

// WaitForFinish waits until the download completes or is interrupted and
// returns its final state. A zero timeout waits for the default timeout.
func (d *Download) WaitForFinish(timeout time.Duration) (host.DownloadState, error) {
	ctx := context.Background()
	if timeout <= 0 {
		timeout = DefaultTimeout
		if d.page != nil {
			ctx = d.page.ctx
			timeout = d.page.timeoutSettings.timeout()
		}
	}
	p := NewProgress(ctx, "download.waitForFinish", timeout, d.logger)
	defer p.Close()

	var done <-chan struct{} = d.done
	if _, err := Wait(p, done); err != nil {
		return d.State(), p.wrap(err)
	}
	return d.State(), nil
}

func (d *Download) update(url string, state host.DownloadState) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state.Terminal() {
		return false
	}
	if url != "" {
		d.url = url
	}
	if state != "" {
		d.state = state
	}
	if d.state.Terminal() {
		close(d.done)
		return true
	}
	return false
}

// DownloadTracker attributes downloads to pages. The host doesn't tell
// which page started a download, so it goes to the page most recently
// activated, which is wrong when another page starts it in the background.
type DownloadTracker struct {
	logger *log.Logger

	mu        sync.Mutex
	active    *Page
	downloads map[int64]*Download
}

// NewDownloadTracker creates a tracker with no active page.
func NewDownloadTracker(logger *log.Logger) *DownloadTracker {
	return &DownloadTracker{
		logger:    logger,
		downloads: make(map[int64]*Download),
	}
}

// activate makes p the page new downloads are attributed to.
func (t *DownloadTracker) activate(p *Page) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active = p
}

func (t *DownloadTracker) forget(p *Page) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active == p {
		t.active = nil
	}
}

// Active returns the page downloads are currently attributed to.
func (t *DownloadTracker) Active() *Page {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// HandleEvent applies a download event of the host.
func (t *DownloadTracker) HandleEvent(ev *host.DownloadEvent) {
	t.logger.Debugf("DownloadTracker:HandleEvent", "id:%d kind:%d state:%s url:%q", ev.ID, ev.Kind, ev.State, ev.URL)

	t.mu.Lock()
	d, ok := t.downloads[ev.ID]
	if !ok {
		if ev.Kind != host.DownloadCreated {
			t.mu.Unlock()
			return
		}
		d = &Download{
			id:     ev.ID,
			page:   t.active,
			logger: t.logger,
			url:    ev.URL,
			state:  host.DownloadInProgress,
			done:   make(chan struct{}),
		}
		t.downloads[ev.ID] = d
	}
	t.mu.Unlock()

	if d.update(ev.URL, ev.State) {
		t.mu.Lock()
		delete(t.downloads, ev.ID)
		t.mu.Unlock()
	}
	if !ok && d.page != nil {
		d.page.emit(EventPageDownload, d)
	}
}
