// internal/browser/manager.go
package browser

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/pagegym/pagegym/api/schemas"
	"github.com/pagegym/pagegym/internal/config"
)

const shutdownGracePeriod = 15 * time.Second

// Manager owns one Chrome process and hands out isolated sessions, each
// backed by its own CDP browser context. Sessions are exclusively owned by
// their caller; the manager only tracks them for teardown.
type Manager struct {
	logger *zap.Logger
	cfg    *config.Config

	// allocatorCtx owns the Chrome process; browserCtrlCtx is the first
	// chromedp context, used to issue browser-level CDP commands.
	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc
	browserCtrlCtx  context.Context
	browserCtrlStop context.CancelFunc
	// browserExecCtx carries the browser-level CDP executor for raw
	// target.* commands.
	browserExecCtx context.Context

	// CDP target creation races on concurrent sessions; serialize it.
	contextCreationLock sync.Mutex

	mu       sync.Mutex
	sessions map[string]*Session
	wg       sync.WaitGroup

	initOnce sync.Once
	initErr  error
}

var _ schemas.SessionManager = (*Manager)(nil)

// NewManager creates a browser manager. The Chrome process is launched
// lazily on the first Acquire.
func NewManager(ctx context.Context, cfg *config.Config, logger *zap.Logger) *Manager {
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, buildAllocatorOptions(cfg)...)
	return &Manager{
		logger:          logger.Named("browser_manager"),
		cfg:             cfg,
		allocatorCtx:    allocCtx,
		allocatorCancel: allocCancel,
		sessions:        make(map[string]*Session),
	}
}

// buildAllocatorOptions assembles the Chrome launch flags.
func buildAllocatorOptions(cfg *config.Config) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	opts = append(opts,
		chromedp.Flag("headless", cfg.Browser.Headless),
		chromedp.Flag("disable-gpu", cfg.Browser.Headless),
		chromedp.Flag("disable-extensions", true),
		chromedp.WindowSize(cfg.Browser.Viewport.Width, cfg.Browser.Viewport.Height),
	)

	// Custom arguments from the config file, "--name" or "--name=value".
	for _, arg := range cfg.Browser.Args {
		parts := strings.SplitN(arg, "=", 2)
		flagName := strings.TrimPrefix(parts[0], "--")
		if len(parts) == 2 {
			opts = append(opts, chromedp.Flag(flagName, parts[1]))
		} else {
			opts = append(opts, chromedp.Flag(flagName, true))
		}
	}

	// Containerized Linux needs these to launch at all.
	if runtime.GOOS == "linux" {
		opts = append(opts,
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
		)
	}

	return opts
}

// initialize launches Chrome and verifies it responds.
func (m *Manager) initialize(ctx context.Context) error {
	m.initOnce.Do(func() {
		m.logger.Info("Launching browser process...")

		browserCtx, browserCancel := chromedp.NewContext(m.allocatorCtx)
		m.browserCtrlCtx = browserCtx
		m.browserCtrlStop = browserCancel

		launchCtx, cancel := context.WithTimeout(browserCtx, 30*time.Second)
		defer cancel()

		if err := chromedp.Run(launchCtx, chromedp.Navigate("about:blank")); err != nil {
			browserCancel()
			m.initErr = fmt.Errorf("%w: browser failed to start or respond: %v", schemas.ErrSessionStart, err)
			return
		}

		c := chromedp.FromContext(browserCtx)
		if c == nil || c.Browser == nil {
			browserCancel()
			m.initErr = fmt.Errorf("%w: browser connection unavailable after launch", schemas.ErrSessionStart)
			return
		}
		m.browserExecCtx = cdp.WithExecutor(browserCtx, c.Browser)

		m.logger.Info("Browser launched successfully and is responsive.")
	})
	if m.initErr != nil {
		return m.initErr
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", schemas.ErrSessionStart, ctx.Err())
	}
	return nil
}

// Acquire creates a fresh isolated session: a dedicated CDP browser context
// with a single page target attached.
func (m *Manager) Acquire(ctx context.Context) (schemas.BrowserSession, error) {
	if err := m.initialize(ctx); err != nil {
		return nil, err
	}

	m.contextCreationLock.Lock()
	defer m.contextCreationLock.Unlock()

	if err := m.browserCtrlCtx.Err(); err != nil {
		return nil, fmt.Errorf("%w: browser process is gone: %v", schemas.ErrSessionStart, err)
	}

	browserContextID, err := target.CreateBrowserContext().Do(m.browserExecCtx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create browser context: %v", schemas.ErrSessionStart, err)
	}

	targetID, err := target.CreateTarget("about:blank").
		WithBrowserContextID(browserContextID).
		Do(m.browserExecCtx)
	if err != nil {
		m.disposeBrowserContext(browserContextID)
		return nil, fmt.Errorf("%w: failed to create target: %v", schemas.ErrSessionStart, err)
	}

	sess, err := newSession(m.browserCtrlCtx, m.cfg, m.logger, browserContextID, targetID)
	if err != nil {
		m.disposeBrowserContext(browserContextID)
		return nil, fmt.Errorf("%w: %v", schemas.ErrSessionStart, err)
	}

	m.wg.Add(1)
	sess.onClose = func() {
		m.disposeBrowserContext(browserContextID)
		m.mu.Lock()
		delete(m.sessions, sess.ID())
		m.mu.Unlock()
		m.wg.Done()
		m.logger.Debug("Session removed from manager.", zap.String("session_id", sess.ID()))
	}

	m.mu.Lock()
	m.sessions[sess.ID()] = sess
	m.mu.Unlock()

	m.logger.Info("New session created.", zap.String("session_id", sess.ID()))
	return sess, nil
}

// Release tears the session down. Safe on an already-closed session.
func (m *Manager) Release(ctx context.Context, sess schemas.BrowserSession) error {
	if sess == nil {
		return nil
	}
	return sess.Close(ctx)
}

// disposeBrowserContext removes the isolated context from the browser,
// best effort.
func (m *Manager) disposeBrowserContext(id cdp.BrowserContextID) {
	if m.browserCtrlCtx == nil || m.browserCtrlCtx.Err() != nil {
		return
	}
	cleanupCtx, cancel := context.WithTimeout(m.browserExecCtx, 5*time.Second)
	defer cancel()
	if err := target.DisposeBrowserContext(id).Do(cleanupCtx); err != nil {
		m.logger.Debug("Failed best-effort cleanup of browser context.",
			zap.String("browser_context_id", string(id)), zap.Error(err))
	}
}

// Shutdown closes all sessions and the browser process.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("Shutting down browser manager.")

	if m.browserCtrlCtx == nil {
		// Never launched; just release the allocator.
		m.allocatorCancel()
		return nil
	}

	m.mu.Lock()
	sessionsToClose := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessionsToClose = append(sessionsToClose, s)
	}
	m.mu.Unlock()

	for _, s := range sessionsToClose {
		go func(s *Session) {
			if err := s.Close(ctx); err != nil {
				m.logger.Warn("Error during session close in shutdown.",
					zap.String("session_id", s.ID()), zap.Error(err))
			}
		}(s)
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("All sessions closed gracefully.")
	case <-time.After(shutdownGracePeriod):
		m.logger.Warn("Timeout waiting for sessions to close. Proceeding with forceful shutdown.")
	case <-ctx.Done():
		m.logger.Warn("Shutdown context expired. Proceeding with forceful shutdown.", zap.Error(ctx.Err()))
	}

	if m.browserCtrlStop != nil {
		m.browserCtrlStop()
	}
	m.allocatorCancel()

	m.logger.Info("Browser manager shutdown complete.")
	return nil
}
