package browser

import (
	"context"
	"sync"
	"time"

	"github.com/trendscope/trendscope/internal/errkind"
)

// FakeElement is a canned DOM node for tests.
type FakeElement struct {
	TextContent string
	Attributes  map[string]string
}

func (e FakeElement) Text() string { return e.TextContent }

func (e FakeElement) Attr(name string) string { return e.Attributes[name] }

// FakePage is the canned DOM for one URL.
type FakePage struct {
	// Selectors maps a CSS selector to the elements it yields.
	Selectors map[string][]FakeElement
	HTML      string
}

// FakeSession replays canned pages keyed by URL. Adapter tests drive the
// selector-fallback chains against it without a real driver.
type FakeSession struct {
	mu      sync.Mutex
	Pages   map[string]FakePage
	current string
	closed  bool

	// GotoErr, when set, fails every navigation.
	GotoErr error
	// Visited records navigation order.
	Visited []string
}

func (s *FakeSession) Goto(ctx context.Context, url string, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.GotoErr != nil {
		return s.GotoErr
	}
	s.current = url
	s.Visited = append(s.Visited, url)
	return nil
}

func (s *FakeSession) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	page, ok := s.Pages[s.current]
	if !ok {
		return errkind.New(errkind.Scrape, "no page loaded")
	}
	if len(page.Selectors[selector]) == 0 {
		return errkind.New(errkind.Timeout, "selector %q did not appear", selector)
	}
	return nil
}

func (s *FakeSession) QueryAll(ctx context.Context, selector string) ([]Element, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	page, ok := s.Pages[s.current]
	if !ok {
		return nil, errkind.New(errkind.Scrape, "no page loaded")
	}
	els := page.Selectors[selector]
	out := make([]Element, 0, len(els))
	for _, e := range els {
		out = append(out, e)
	}
	return out, nil
}

func (s *FakeSession) Click(ctx context.Context, selector string) error { return nil }

func (s *FakeSession) ScrollToBottom(ctx context.Context) error { return nil }

func (s *FakeSession) Screenshot(ctx context.Context, path string) error { return nil }

func (s *FakeSession) ContentHTML(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Pages[s.current].HTML, nil
}

func (s *FakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *FakeSession) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// FakeFactory hands out a fixed session, or an error.
type FakeFactory struct {
	Session *FakeSession
	Err     error
	// LastOpts records the options of the most recent NewSession call.
	LastOpts Options
}

func (f *FakeFactory) NewSession(ctx context.Context, opts Options) (Session, error) {
	f.LastOpts = opts
	if f.Err != nil {
		return nil, f.Err
	}
	if f.Session == nil {
		f.Session = &FakeSession{Pages: map[string]FakePage{}}
	}
	return f.Session, nil
}
