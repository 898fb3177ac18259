// Package browser defines the contract the harvester consumes from a browser
// automation driver. The concrete driver is an external collaborator; the
// core only depends on these interfaces.
package browser

import (
	"context"
	"math/rand"
	"time"
)

// Element is one DOM node returned by a selector query.
type Element interface {
	// Text returns the trimmed text content.
	Text() string
	// Attr returns the named attribute value, or "".
	Attr(name string) string
}

// Session is one isolated browsing context. Implementations must be safe to
// close more than once.
type Session interface {
	Goto(ctx context.Context, url string, timeout time.Duration) error
	// WaitFor blocks until the selector matches or the timeout elapses.
	WaitFor(ctx context.Context, selector string, timeout time.Duration) error
	QueryAll(ctx context.Context, selector string) ([]Element, error)
	Click(ctx context.Context, selector string) error
	ScrollToBottom(ctx context.Context) error
	Screenshot(ctx context.Context, path string) error
	ContentHTML(ctx context.Context) (string, error)
	Close() error
}

// Options describes the session to create.
type Options struct {
	ProxyURL  string
	Locale    string
	Timezone  string
	UserAgent string
	Headless  bool
	ViewportW int
	ViewportH int
	// ExtraHeaders are merged over the driver defaults.
	ExtraHeaders map[string]string
}

// Factory produces fresh isolated sessions. The driver binding implements
// this; tests use the in-package fake.
type Factory interface {
	NewSession(ctx context.Context, opts Options) (Session, error)
}

// StealthHeaders returns the plausible default header set applied to every
// session.
func StealthHeaders(locale string) map[string]string {
	if locale == "" {
		locale = "en-US"
	}
	return map[string]string{
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
		"Accept-Language": locale + "," + locale[:2] + ";q=0.9",
		"Sec-Fetch-Dest":  "document",
		"Sec-Fetch-Mode":  "navigate",
		"Sec-Fetch-Site":  "none",
	}
}

// Jitter sleeps a small randomized duration between min and max, returning
// early if ctx is cancelled. Adapters use it to avoid mechanical timing.
func Jitter(ctx context.Context, min, max time.Duration) {
	if max <= min {
		max = min + time.Millisecond
	}
	d := min + time.Duration(rand.Int63n(int64(max-min)))
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// WithSession acquires a session, runs fn and guarantees the session is
// closed on every exit path, including panics and cancellation.
func WithSession(ctx context.Context, factory Factory, opts Options, fn func(Session) error) (err error) {
	sess, err := factory.NewSession(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		cerr := sess.Close()
		if err == nil && cerr != nil {
			err = cerr
		}
	}()
	return fn(sess)
}
