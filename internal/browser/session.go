// internal/browser/session.go
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/accessibility"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/pagegym/pagegym/api/schemas"
	"github.com/pagegym/pagegym/internal/config"
)

// tab is one attached page target within the session's browser context.
type tab struct {
	id     target.ID
	ctx    context.Context
	cancel context.CancelFunc
}

// Session is one isolated browsing session: a dedicated CDP browser context
// holding one or more tabs. It implements schemas.BrowserSession. All
// operations respect both the session lifetime and the caller's context.
type Session struct {
	id     string
	logger *zap.Logger
	cfg    *config.Config

	// parentCtx is the browser controller context, needed to create
	// additional targets inside this session's browser context.
	parentCtx        context.Context
	browserContextID cdp.BrowserContextID

	harvester *Harvester
	onClose   func()

	mu        sync.Mutex
	tabs      []*tab
	active    int
	isClosed  bool
	closeOnce sync.Once
}

var (
	_ schemas.BrowserSession  = (*Session)(nil)
	_ schemas.ConsoleReporter = (*Session)(nil)
)

// newSession attaches to the freshly created target and prepares the tab.
func newSession(
	parentCtx context.Context,
	cfg *config.Config,
	logger *zap.Logger,
	browserContextID cdp.BrowserContextID,
	targetID target.ID,
) (*Session, error) {

	sessionID := uuid.New().String()
	log := logger.With(zap.String("session_id", sessionID))

	tabCtx, tabCancel := chromedp.NewContext(parentCtx, chromedp.WithTargetID(targetID))

	s := &Session{
		id:               sessionID,
		logger:           log,
		cfg:              cfg,
		parentCtx:        parentCtx,
		browserContextID: browserContextID,
		tabs:             []*tab{{id: targetID, ctx: tabCtx, cancel: tabCancel}},
	}

	// Attach to the target and apply the configured viewport.
	initCtx, cancel := context.WithTimeout(tabCtx, 15*time.Second)
	defer cancel()
	if err := chromedp.Run(initCtx,
		chromedp.EmulateViewport(
			int64(cfg.Browser.Viewport.Width),
			int64(cfg.Browser.Viewport.Height),
		),
	); err != nil {
		tabCancel()
		return nil, fmt.Errorf("failed to attach to session target: %w", err)
	}

	s.harvester = NewHarvester(tabCtx, log)
	if err := s.harvester.Start(); err != nil {
		tabCancel()
		return nil, fmt.Errorf("failed to start harvester: %w", err)
	}

	return s, nil
}

// ID returns the unique identifier for the session.
func (s *Session) ID() string { return s.id }

// Healthy reports whether the session can still accept operations.
func (s *Session) Healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isClosed {
		return false
	}
	return s.tabs[s.active].ctx.Err() == nil
}

// DrainConsoleErrors returns the error-level console output and uncaught
// exceptions captured since the previous drain, clearing the buffer.
func (s *Session) DrainConsoleErrors() []string {
	if s.harvester == nil {
		return nil
	}
	errs := s.harvester.ConsoleErrors()
	s.harvester.DrainConsole()
	out := make([]string, 0, len(errs))
	for _, l := range errs {
		out = append(out, l.Text)
	}
	return out
}

func (s *Session) activeTab() (*tab, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isClosed {
		return nil, schemas.ErrSessionLost
	}
	t := s.tabs[s.active]
	if t.ctx.Err() != nil {
		return nil, fmt.Errorf("%w: tab context canceled", schemas.ErrSessionLost)
	}
	return t, nil
}

// runActions executes chromedp actions against the active tab, bounded by
// both the session lifetime and the caller's context.
func (s *Session) runActions(ctx context.Context, actions ...chromedp.Action) error {
	t, err := s.activeTab()
	if err != nil {
		return err
	}

	runCtx, cancel := CombineContext(t.ctx, ctx)
	defer cancel()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		// Distinguish a dead session from an ordinary failure so callers
		// can trigger forced termination.
		if t.ctx.Err() != nil || s.closed() {
			return fmt.Errorf("%w: %v", schemas.ErrSessionLost, err)
		}
		return err
	}
	return nil
}

func (s *Session) closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isClosed
}

// -- Navigation and interaction primitives --

// Navigate loads the URL and waits for the page to settle.
func (s *Session) Navigate(ctx context.Context, url string) error {
	s.logger.Debug("Navigating to URL", zap.String("url", url))

	navTimeout := s.cfg.Network.NavigationTimeout
	if navTimeout <= 0 {
		navTimeout = 30 * time.Second
	}
	navCtx, cancel := context.WithTimeout(ctx, navTimeout)
	defer cancel()

	if err := s.runActions(navCtx, chromedp.Navigate(url)); err != nil {
		if navCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return fmt.Errorf("navigation timed out after %s: %w", navTimeout, err)
		}
		return fmt.Errorf("navigation failed: %w", err)
	}

	if err := s.Stabilize(ctx, s.cfg.Network.PostLoadWait); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Warn("Page stabilization failed after navigation (non-critical).", zap.Error(err))
	}
	return nil
}

// Click interacts with the element matching the selector.
func (s *Session) Click(ctx context.Context, selector string) error {
	s.logger.Debug("Clicking element", zap.String("selector", selector))
	return s.runActions(ctx, chromedp.Tasks{
		chromedp.ScrollIntoView(selector, chromedp.ByQuery),
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery),
	})
}

// Fill replaces the value of the element matching the selector.
func (s *Session) Fill(ctx context.Context, selector, text string) error {
	s.logger.Debug("Filling element", zap.String("selector", selector), zap.Int("text_length", len(text)))
	return s.runActions(ctx, chromedp.Tasks{
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Focus(selector, chromedp.ByQuery),
		chromedp.SetValue(selector, "", chromedp.ByQuery),
		chromedp.SendKeys(selector, text, chromedp.ByQuery),
	})
}

// SelectOption picks an option by value and fires the change events the page
// expects from a real selection.
func (s *Session) SelectOption(ctx context.Context, selector, value string) error {
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		if (!el || el.tagName !== 'SELECT') return false;
		const match = Array.from(el.options).some(o => o.value === %q);
		if (!match) return false;
		el.value = %q;
		el.dispatchEvent(new Event('input', {bubbles: true}));
		el.dispatchEvent(new Event('change', {bubbles: true}));
		return true;
	})()`, selector, value, value)

	var ok bool
	if err := s.runActions(ctx, chromedp.Evaluate(script, &ok)); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("option %q not found in select element %q", value, selector)
	}
	return nil
}

// Scroll moves the viewport by the given deltas.
func (s *Session) Scroll(ctx context.Context, deltaX, deltaY float64) error {
	script := fmt.Sprintf("window.scrollBy(%f, %f)", deltaX, deltaY)
	return s.runActions(ctx, chromedp.Evaluate(script, nil))
}

// namedKeys maps action key names onto the raw key runes chromedp expects.
var namedKeys = map[string]string{
	"Enter":     kb.Enter,
	"Tab":       kb.Tab,
	"Backspace": kb.Backspace,
	"Delete":    kb.Delete,
	"Escape":    "\x1b",
}

// PressKey dispatches a key event to the focused element.
func (s *Session) PressKey(ctx context.Context, key string) error {
	if mapped, ok := namedKeys[key]; ok {
		key = mapped
	}
	return s.runActions(ctx, chromedp.KeyEvent(key))
}

// NewTab opens a fresh tab inside this session's browser context and makes
// it active.
func (s *Session) NewTab(ctx context.Context) error {
	t, err := s.activeTab()
	if err != nil {
		return err
	}

	opCtx, cancel := CombineContext(t.ctx, ctx)
	defer cancel()

	targetID, err := target.CreateTarget("about:blank").
		WithBrowserContextID(s.browserContextID).
		Do(chromedpExecutor(s.parentCtx, opCtx))
	if err != nil {
		return fmt.Errorf("failed to create tab target: %w", err)
	}

	tabCtx, tabCancel := chromedp.NewContext(s.parentCtx, chromedp.WithTargetID(targetID))
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		return fmt.Errorf("failed to attach to new tab: %w", err)
	}

	s.mu.Lock()
	s.tabs = append(s.tabs, &tab{id: targetID, ctx: tabCtx, cancel: tabCancel})
	s.active = len(s.tabs) - 1
	s.mu.Unlock()

	s.logger.Debug("Opened new tab.", zap.String("target_id", string(targetID)))
	return nil
}

// SwitchTab activates the tab with the given target id, attaching to it if
// the page opened it itself (e.g. target=_blank).
func (s *Session) SwitchTab(ctx context.Context, targetID string) error {
	id := target.ID(targetID)

	s.mu.Lock()
	if s.isClosed {
		s.mu.Unlock()
		return schemas.ErrSessionLost
	}
	for i, t := range s.tabs {
		if t.id == id && t.ctx.Err() == nil {
			s.active = i
			s.mu.Unlock()
			return nil
		}
	}
	s.mu.Unlock()

	// Unknown target: verify it belongs to this session before attaching.
	infos, err := s.Tabs(ctx)
	if err != nil {
		return err
	}
	known := false
	for _, info := range infos {
		if info.TargetID == targetID {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("tab %q not found in session", targetID)
	}

	tabCtx, tabCancel := chromedp.NewContext(s.parentCtx, chromedp.WithTargetID(id))
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		return fmt.Errorf("failed to attach to tab %q: %w", targetID, err)
	}

	s.mu.Lock()
	s.tabs = append(s.tabs, &tab{id: id, ctx: tabCtx, cancel: tabCancel})
	s.active = len(s.tabs) - 1
	s.mu.Unlock()
	return nil
}

// -- Read-only state accessors --

// CurrentURL returns the active tab's location.
func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := s.runActions(ctx, chromedp.Location(&url)); err != nil {
		return "", err
	}
	return url, nil
}

// HTML returns the serialized document of the active tab.
func (s *Session) HTML(ctx context.Context) (string, error) {
	var html string
	if err := s.runActions(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

// AXTree returns the full accessibility tree of the active tab, flattened.
func (s *Session) AXTree(ctx context.Context) ([]schemas.AXNode, error) {
	var nodes []*accessibility.Node
	err := s.runActions(ctx, chromedp.ActionFunc(func(c context.Context) error {
		if err := accessibility.Enable().Do(c); err != nil {
			return err
		}
		var err error
		nodes, err = accessibility.GetFullAXTree().Do(c)
		return err
	}))
	if err != nil {
		return nil, err
	}

	out := make([]schemas.AXNode, 0, len(nodes))
	for _, n := range nodes {
		if n == nil {
			continue
		}
		out = append(out, schemas.AXNode{
			NodeID:      string(n.NodeID),
			Role:        axValueString(n.Role),
			Name:        axValueString(n.Name),
			Value:       axValueString(n.Value),
			Ignored:     n.Ignored,
			BackendNode: int64(n.BackendDOMNodeID),
			ParentID:    string(n.ParentID),
		})
	}
	return out, nil
}

// Screenshot captures the visible viewport as PNG bytes.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := s.runActions(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	return buf, nil
}

// Tabs lists the page targets belonging to this session's browser context.
func (s *Session) Tabs(ctx context.Context) ([]schemas.TabInfo, error) {
	t, err := s.activeTab()
	if err != nil {
		return nil, err
	}

	opCtx, cancel := CombineContext(t.ctx, ctx)
	defer cancel()

	infos, err := chromedp.Targets(opCtx)
	if err != nil {
		if t.ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", schemas.ErrSessionLost, err)
		}
		return nil, fmt.Errorf("failed to list targets: %w", err)
	}

	out := make([]schemas.TabInfo, 0, len(infos))
	for _, info := range infos {
		if info.Type != "page" || info.BrowserContextID != s.browserContextID {
			continue
		}
		out = append(out, schemas.TabInfo{
			TargetID: string(info.TargetID),
			Title:    info.Title,
			URL:      info.URL,
			Active:   info.TargetID == t.id,
		})
	}
	return out, nil
}

// Eval runs a snippet of JavaScript in the active tab, optionally
// unmarshaling the result into res.
func (s *Session) Eval(ctx context.Context, script string, res any) error {
	return s.runActions(ctx, chromedp.Evaluate(script, res))
}

// Stabilize waits for the page state to settle: DOM ready and the network
// quiet for quietPeriod.
func (s *Session) Stabilize(ctx context.Context, quietPeriod time.Duration) error {
	if quietPeriod <= 0 {
		quietPeriod = 500 * time.Millisecond
	}

	t, err := s.activeTab()
	if err != nil {
		return err
	}

	stabCtx, cancel := CombineContext(t.ctx, ctx)
	defer cancel()

	if err := chromedp.Run(stabCtx, chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if t.ctx.Err() != nil {
			return fmt.Errorf("%w: %v", schemas.ErrSessionLost, err)
		}
		s.logger.Debug("WaitReady failed during stabilization.", zap.Error(err))
	}

	if err := s.harvester.WaitNetworkIdle(stabCtx, quietPeriod); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if t.ctx.Err() != nil {
			return fmt.Errorf("%w: %v", schemas.ErrSessionLost, err)
		}
		s.logger.Debug("Network idle wait failed during stabilization.", zap.Error(err))
	}
	return nil
}

// Close terminates the session and every tab it owns. Idempotent.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.isClosed = true
		tabs := s.tabs
		s.mu.Unlock()

		s.logger.Debug("Closing browser session.")

		if s.harvester != nil {
			s.harvester.Stop()
		}
		for _, t := range tabs {
			t.cancel()
		}
		if s.onClose != nil {
			s.onClose()
		}
	})
	return nil
}

// axValueString extracts the string form of an accessibility value.
func axValueString(v *accessibility.Value) string {
	if v == nil || v.Value == nil {
		return ""
	}
	var out string
	if err := jsoniter.Unmarshal(v.Value, &out); err == nil {
		return out
	}
	return string(v.Value)
}

// chromedpExecutor returns a context suitable for raw cdproto command
// execution against the browser-level connection, bounded by op.
func chromedpExecutor(browserCtx, op context.Context) context.Context {
	c := chromedp.FromContext(browserCtx)
	if c == nil || c.Browser == nil {
		return op
	}
	return cdp.WithExecutor(op, c.Browser)
}
