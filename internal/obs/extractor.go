// Package obs extracts structured observations from a live browser session.
// Extraction is best-effort: a channel that cannot be captured within the
// deadline degrades the observation instead of failing the step.
package obs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pagegym/pagegym/api/schemas"
	"github.com/pagegym/pagegym/internal/config"
)

// BidAttribute is the DOM attribute carrying the stable element identifier
// actions use to address a page element.
const BidAttribute = "data-pagegym-bid"

// annotateScript stamps every interactive element with a stable bid and
// returns the indexed element table. The counter lives on window so bids
// survive repeated extraction within one page lifetime.
const annotateScript = `(() => {
	if (window.__pagegym_bid_counter === undefined) {
		window.__pagegym_bid_counter = 0;
	}
	const selector = 'a[href], button, input, select, textarea, ' +
		'[role=button], [role=link], [role=checkbox], [role=radio], ' +
		'[role=tab], [role=menuitem], [role=combobox], [role=textbox], ' +
		'[onclick], [contenteditable=true], [tabindex]';
	const seen = new Set();
	const out = [];
	for (const el of document.querySelectorAll(selector)) {
		if (seen.has(el)) continue;
		seen.add(el);
		let bid = el.getAttribute('data-pagegym-bid');
		if (!bid) {
			bid = String(window.__pagegym_bid_counter++);
			el.setAttribute('data-pagegym-bid', bid);
		}
		const rect = el.getBoundingClientRect();
		const style = window.getComputedStyle(el);
		const visible = rect.width > 0 && rect.height > 0 &&
			style.visibility !== 'hidden' && style.display !== 'none';
		const attrs = {};
		for (const name of ['id', 'name', 'type', 'value', 'href', 'placeholder', 'aria-label', 'title', 'alt']) {
			const v = el.getAttribute(name);
			if (v !== null) attrs[name] = v;
		}
		out.push({
			bid: bid,
			tag: el.tagName.toLowerCase(),
			role: el.getAttribute('role') || '',
			text: (el.innerText || el.value || '').trim().slice(0, 256),
			attributes: attrs,
			visible: visible,
		});
	}
	return out;
})()`

// Extractor captures the configured observation modalities from a session.
type Extractor struct {
	logger      *zap.Logger
	modalities  schemas.ModalitySet
	timeout     time.Duration
	quietPeriod time.Duration
}

// NewExtractor builds an extractor from the environment configuration.
func NewExtractor(cfg *config.Config, logger *zap.Logger) *Extractor {
	timeout := cfg.Env.ExtractionTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Extractor{
		logger:      logger.Named("obs"),
		modalities:  cfg.Env.ModalitySet(),
		timeout:     timeout,
		quietPeriod: cfg.Network.PostLoadWait,
	}
}

// Extract captures an observation from the session. Per-channel failures are
// recorded in Observation.ExtractionError; the only hard failure is a lost
// session, reported as ErrSessionLost.
func (e *Extractor) Extract(
	ctx context.Context,
	sess schemas.BrowserSession,
	goal string,
	chat []schemas.ChatMessage,
	lastActionError string,
) (schemas.Observation, error) {

	extractCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	observation := schemas.Observation{
		Goal:            goal,
		Chat:            chat,
		LastActionError: lastActionError,
		CapturedAt:      time.Now().UTC(),
	}
	var notes []string

	if err := sess.Stabilize(extractCtx, e.quietPeriod); err != nil {
		if errors.Is(err, schemas.ErrSessionLost) {
			return observation, err
		}
		notes = append(notes, fmt.Sprintf("settle: %v", err))
	}

	url, err := sess.CurrentURL(extractCtx)
	if err != nil {
		if errors.Is(err, schemas.ErrSessionLost) {
			return observation, err
		}
		notes = append(notes, fmt.Sprintf("url: %v", err))
	}
	observation.URL = url

	if e.modalities.Has(schemas.ModalityDOM) {
		snapshot, err := e.extractDOM(extractCtx, sess)
		if err != nil {
			if errors.Is(err, schemas.ErrSessionLost) {
				return observation, err
			}
			notes = append(notes, fmt.Sprintf("dom: %v", err))
		} else {
			observation.DOM = snapshot
		}
	}

	if e.modalities.Has(schemas.ModalityAXTree) {
		tree, err := sess.AXTree(extractCtx)
		if err != nil {
			if errors.Is(err, schemas.ErrSessionLost) {
				return observation, err
			}
			notes = append(notes, fmt.Sprintf("axtree: %v", err))
		} else {
			observation.AXTree = tree
		}
	}

	if e.modalities.Has(schemas.ModalityScreenshot) {
		shot, err := sess.Screenshot(extractCtx)
		if err != nil {
			if errors.Is(err, schemas.ErrSessionLost) {
				return observation, err
			}
			notes = append(notes, fmt.Sprintf("screenshot: %v", err))
		} else {
			observation.Screenshot = shot
		}
	}

	if e.modalities.Has(schemas.ModalityOpenTabs) {
		tabs, err := sess.Tabs(extractCtx)
		if err != nil {
			if errors.Is(err, schemas.ErrSessionLost) {
				return observation, err
			}
			notes = append(notes, fmt.Sprintf("tabs: %v", err))
		} else {
			observation.OpenTabs = tabs
		}
	}

	if !e.modalities.Has(schemas.ModalityLastActionError) {
		observation.LastActionError = ""
	}

	if len(notes) > 0 {
		observation.ExtractionError = strings.Join(notes, "; ")
		e.logger.Warn("Observation captured in degraded form.",
			zap.String("notes", observation.ExtractionError))
	}
	return observation, nil
}

// extractDOM annotates the page with bids and captures the HTML plus the
// indexed element table.
func (e *Extractor) extractDOM(ctx context.Context, sess schemas.BrowserSession) (*schemas.DOMSnapshot, error) {
	var elements []schemas.Element
	if err := sess.Eval(ctx, annotateScript, &elements); err != nil {
		return nil, fmt.Errorf("element annotation failed: %w", err)
	}

	html, err := sess.HTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("html capture failed: %w", err)
	}

	return &schemas.DOMSnapshot{HTML: html, Elements: elements}, nil
}
