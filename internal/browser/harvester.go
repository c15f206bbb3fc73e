// internal/browser/harvester.go
package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/log"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

// ConsoleLog is one console or runtime message captured from the page.
type ConsoleLog struct {
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	Text      string    `json:"text"`
	Source    string    `json:"source"`
}

// Harvester listens to CDP events on one tab. It tracks in-flight network
// requests so the session can wait for a network-idle settle condition, and
// collects console output and uncaught exceptions for diagnostics.
type Harvester struct {
	logger *zap.Logger

	// The context for the browser tab this harvester is attached to.
	sessionCtx context.Context
	// A separate context for the listener so it can be stopped cleanly.
	listenerCtx    context.Context
	cancelListener context.CancelFunc

	lock             sync.RWMutex
	inflightRequests map[network.RequestID]bool
	consoleLogs      []ConsoleLog
	isStarted        bool
}

// NewHarvester creates an event harvester for a specific tab context.
func NewHarvester(sessionCtx context.Context, logger *zap.Logger) *Harvester {
	return &Harvester{
		sessionCtx:       sessionCtx,
		logger:           logger.Named("harvester"),
		inflightRequests: make(map[network.RequestID]bool),
		consoleLogs:      make([]ConsoleLog, 0),
	}
}

// Start enables the CDP domains and begins listening.
func (h *Harvester) Start() error {
	h.lock.Lock()
	defer h.lock.Unlock()

	if h.isStarted {
		return nil
	}

	h.listenerCtx, h.cancelListener = context.WithCancel(h.sessionCtx)
	go h.listen()

	err := chromedp.Run(h.sessionCtx,
		network.Enable(),
		runtime.Enable(),
		log.Enable(),
	)
	if err != nil {
		h.cancelListener()
		return fmt.Errorf("failed to enable CDP domains: %w", err)
	}

	h.isStarted = true
	h.logger.Debug("Harvester started and listening for events.")
	return nil
}

// Stop halts event collection. Idempotent.
func (h *Harvester) Stop() {
	h.lock.Lock()
	defer h.lock.Unlock()

	if !h.isStarted {
		return
	}
	if h.cancelListener != nil {
		h.cancelListener()
		h.cancelListener = nil
	}
	h.isStarted = false
}

func (h *Harvester) listen() {
	chromedp.ListenTarget(h.listenerCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *network.EventRequestWillBeSent:
			h.markInflight(e.RequestID)
		case *network.EventLoadingFinished:
			h.clearInflight(e.RequestID)
		case *network.EventLoadingFailed:
			h.clearInflight(e.RequestID)

		case *runtime.EventConsoleAPICalled:
			h.handleConsoleAPICalled(e)
		case *log.EventEntryAdded:
			h.handleLogEntryAdded(e)
		case *runtime.EventExceptionThrown:
			h.handleExceptionThrown(e)
		}
	})
}

// WaitNetworkIdle polls until there are no in-flight requests for the quiet
// period, or ctx expires.
func (h *Harvester) WaitNetworkIdle(ctx context.Context, quietPeriod time.Duration) error {
	interval := quietPeriod / 2
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastActivity := time.Now()
	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("WaitNetworkIdle aborted due to context cancellation.", zap.Error(ctx.Err()))
			return ctx.Err()
		case <-ticker.C:
			h.lock.RLock()
			inflightCount := len(h.inflightRequests)
			h.lock.RUnlock()

			if inflightCount > 0 {
				lastActivity = time.Now()
				h.logger.Debug("Waiting for network idle...", zap.Int("inflight_requests", inflightCount))
			} else if time.Since(lastActivity) >= quietPeriod {
				return nil
			}
		}
	}
}

// InflightCount returns the number of requests currently in flight.
func (h *Harvester) InflightCount() int {
	h.lock.RLock()
	defer h.lock.RUnlock()
	return len(h.inflightRequests)
}

// ConsoleLogs returns a copy of the collected console messages.
func (h *Harvester) ConsoleLogs() []ConsoleLog {
	h.lock.RLock()
	defer h.lock.RUnlock()
	logs := make([]ConsoleLog, len(h.consoleLogs))
	copy(logs, h.consoleLogs)
	return logs
}

// ConsoleErrors returns only the error-level and exception messages.
func (h *Harvester) ConsoleErrors() []ConsoleLog {
	h.lock.RLock()
	defer h.lock.RUnlock()
	var out []ConsoleLog
	for _, l := range h.consoleLogs {
		if l.Type == "error" || l.Type == "exception" {
			out = append(out, l)
		}
	}
	return out
}

// DrainConsole clears collected console messages; called between steps so
// each observation only reports fresh output.
func (h *Harvester) DrainConsole() {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.consoleLogs = h.consoleLogs[:0]
}

func (h *Harvester) markInflight(id network.RequestID) {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.inflightRequests[id] = true
}

func (h *Harvester) clearInflight(id network.RequestID) {
	h.lock.Lock()
	defer h.lock.Unlock()
	delete(h.inflightRequests, id)
}

func (h *Harvester) handleConsoleAPICalled(e *runtime.EventConsoleAPICalled) {
	var textBuilder strings.Builder
	for i, arg := range e.Args {
		if i > 0 {
			textBuilder.WriteString(" ")
		}
		var val interface{}
		if arg.Value != nil && jsoniter.Unmarshal(arg.Value, &val) == nil {
			textBuilder.WriteString(fmt.Sprintf("%v", val))
		} else if arg.Description != "" {
			textBuilder.WriteString(arg.Description)
		} else {
			textBuilder.WriteString(fmt.Sprintf("[%s]", arg.Type))
		}
	}

	h.append(ConsoleLog{
		Timestamp: e.Timestamp.Time(),
		Type:      string(e.Type),
		Text:      textBuilder.String(),
		Source:    "console-api",
	})
}

func (h *Harvester) handleLogEntryAdded(e *log.EventEntryAdded) {
	if e.Entry == nil {
		return
	}
	h.append(ConsoleLog{
		Timestamp: e.Entry.Timestamp.Time(),
		Type:      string(e.Entry.Level),
		Text:      e.Entry.Text,
		Source:    string(e.Entry.Source),
	})
}

func (h *Harvester) handleExceptionThrown(e *runtime.EventExceptionThrown) {
	if e.ExceptionDetails == nil {
		return
	}
	// The description usually carries the stack trace.
	text := e.ExceptionDetails.Text
	if e.ExceptionDetails.Exception != nil && e.ExceptionDetails.Exception.Description != "" {
		text = e.ExceptionDetails.Exception.Description
	}
	h.append(ConsoleLog{
		Timestamp: e.Timestamp.Time(),
		Type:      "exception",
		Text:      text,
		Source:    "runtime",
	})
}

func (h *Harvester) append(l ConsoleLog) {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.consoleLogs = append(h.consoleLogs, l)
}
