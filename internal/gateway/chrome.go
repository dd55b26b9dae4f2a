package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/groblegark/crawlgraph/internal/model"
)

// ChromeBrowser implements Browser with headless Chrome via chromedp.
type ChromeBrowser struct {
	headless      bool
	idleQuiet     time.Duration // quiet window for network-idle waits
	actionTimeout time.Duration // hard ceiling on any single wait
}

var _ Browser = (*ChromeBrowser)(nil)

// NewChromeBrowser configures a browser factory. idleQuiet is the network
// quiet window treated as "settled"; actionTimeout bounds every wait.
func NewChromeBrowser(headless bool, idleQuiet, actionTimeout time.Duration) *ChromeBrowser {
	if idleQuiet <= 0 {
		idleQuiet = 500 * time.Millisecond
	}
	if actionTimeout <= 0 {
		actionTimeout = 10 * time.Second
	}
	return &ChromeBrowser{headless: headless, idleQuiet: idleQuiet, actionTimeout: actionTimeout}
}

// chromeSession is one tab with its own allocator, so storage state never
// bleeds between nodes.
type chromeSession struct {
	ctx     context.Context
	cancels []context.CancelFunc

	idleQuiet     time.Duration
	actionTimeout time.Duration

	inflight     atomic.Int64
	lastActivity atomic.Int64 // unix nanos of the last network event
}

var _ Session = (*chromeSession)(nil)

func (b *ChromeBrowser) OpenSession(ctx context.Context, url string, storage model.StorageSnapshot) (Session, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", b.headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.NoFirstRun,
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	taskCtx, taskCancel := chromedp.NewContext(allocCtx)

	s := &chromeSession{
		ctx:           taskCtx,
		cancels:       []context.CancelFunc{taskCancel, allocCancel},
		idleQuiet:     b.idleQuiet,
		actionTimeout: b.actionTimeout,
	}
	s.touch()

	chromedp.ListenTarget(taskCtx, func(ev any) {
		switch ev.(type) {
		case *network.EventRequestWillBeSent:
			s.inflight.Add(1)
			s.touch()
		case *network.EventLoadingFinished, *network.EventLoadingFailed:
			s.inflight.Add(-1)
			s.touch()
		}
	})

	if err := chromedp.Run(taskCtx, network.Enable()); err != nil {
		s.Close()
		return nil, fmt.Errorf("enable network tracking: %w", err)
	}

	if err := s.Navigate(ctx, url); err != nil {
		s.Close()
		return nil, err
	}

	// Storage can only be written from a same-origin document, so the
	// snapshot is restored after the first load and the page reloaded.
	if len(storage.Local) > 0 || len(storage.Session) > 0 {
		if err := s.restoreStorage(ctx, storage); err != nil {
			s.Close()
			return nil, err
		}
		if err := s.Navigate(ctx, url); err != nil {
			s.Close()
			return nil, err
		}
	}

	return s, nil
}

func (s *chromeSession) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

func (s *chromeSession) restoreStorage(ctx context.Context, storage model.StorageSnapshot) error {
	payload, err := json.Marshal(storage)
	if err != nil {
		return fmt.Errorf("marshal storage snapshot: %w", err)
	}
	script := fmt.Sprintf(`(() => {
		const snap = %s;
		for (const [k, v] of Object.entries(snap.local || {})) localStorage.setItem(k, v);
		for (const [k, v] of Object.entries(snap.session || {})) sessionStorage.setItem(k, v);
		return true;
	})()`, payload)

	var ok bool
	if err := s.run(ctx, chromedp.Evaluate(script, &ok)); err != nil {
		return fmt.Errorf("restore storage snapshot: %w", err)
	}
	return nil
}

// run executes actions against the tab with the session's hard ceiling.
func (s *chromeSession) run(ctx context.Context, actions ...chromedp.Action) error {
	timed, cancel := context.WithTimeout(s.ctx, s.actionTimeout)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- chromedp.Run(timed, actions...) }()
	select {
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func (s *chromeSession) Navigate(ctx context.Context, url string) error {
	if err := s.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	return s.waitNetworkIdle(ctx)
}

// waitNetworkIdle blocks until no requests have been in flight for the quiet
// window, or until the ceiling elapses. The ceiling makes this a bounded wait
// in all cases; a page that never settles is treated as settled.
func (s *chromeSession) waitNetworkIdle(ctx context.Context) error {
	deadline := time.Now().Add(s.actionTimeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if time.Now().After(deadline) {
				return nil
			}
			quietSince := time.Unix(0, s.lastActivity.Load())
			if s.inflight.Load() <= 0 && time.Since(quietSince) >= s.idleQuiet {
				return nil
			}
		}
	}
}

func (s *chromeSession) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := s.run(ctx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	return url, nil
}

// captureScript observes everything the hashers and classifier need in one
// page evaluation.
const captureScript = `(() => {
	const a11y = [];
	for (const el of document.querySelectorAll('a, button, input, select, textarea, [role]')) {
		const role = el.getAttribute('role') || el.tagName.toLowerCase();
		const label = el.getAttribute('aria-label') || el.getAttribute('title') || '';
		const name = (el.innerText || el.value || el.getAttribute('name') || '').trim().slice(0, 80);
		a11y.push({role, label, name});
	}
	const visible = [];
	for (const el of document.querySelectorAll('h1, h2, h3, p, label, li')) {
		const t = (el.innerText || '').trim();
		if (t) visible.push(t.slice(0, 120));
		if (visible.length >= 50) break;
	}
	const dump = (st) => { const o = {}; for (let i = 0; i < st.length; i++) { const k = st.key(i); o[k] = st.getItem(k); } return o; };
	const cookieKeys = document.cookie.split(';').map(c => c.split('=')[0].trim()).filter(Boolean);
	const tokenKeys = Object.keys(localStorage).filter(k => /token|auth|session|jwt/i.test(k));
	const inputs = [];
	for (const el of document.querySelectorAll('input, textarea, select')) {
		if (!el.value) continue;
		const sel = el.id ? '#' + el.id : (el.name ? el.tagName.toLowerCase() + '[name="' + el.name + '"]' : '');
		if (!sel) continue;
		inputs.push({selector: sel, value: el.value, secret: el.type === 'password'});
	}
	const hasModal = !!document.querySelector('[role="dialog"]:not([hidden]), [role="alertdialog"]:not([hidden]), dialog[open]');
	const hasDrawer = !!document.querySelector('[aria-expanded="true"][aria-controls], [data-state="open"][data-side]');
	return {
		url: location.href,
		a11y,
		visible_text: visible,
		storage: {local: dump(localStorage), session: dump(sessionStorage)},
		auth: {logged_in: tokenKeys.length > 0 || /logout|sign out/i.test(document.body.innerText), cookie_keys: cookieKeys, token_keys: tokenKeys},
		inputs,
		has_modal: hasModal,
		has_drawer: hasDrawer,
	};
})()`

func (s *chromeSession) Capture(ctx context.Context) (*model.PageState, error) {
	var page model.PageState
	var dom string
	var shot []byte
	err := s.run(ctx,
		chromedp.Evaluate(captureScript, &page),
		chromedp.OuterHTML("html", &dom),
		chromedp.CaptureScreenshot(&shot),
	)
	if err != nil {
		return nil, fmt.Errorf("capture page state: %w", err)
	}
	page.DOM = []byte(dom)
	page.Screenshot = shot
	return &page, nil
}

// extractScript lists candidate actions, deduplicated by (type, target, value).
const extractScript = `(() => {
	const seen = new Set();
	const out = [];
	const add = (a) => {
		const key = a.type + '|' + (a.selector || (a.role || '') + '|' + (a.name || '') || a.href || '') + '|' + (a.value || '');
		if (seen.has(key)) return;
		seen.add(key);
		out.push(a);
	};
	const selFor = (el) => el.id ? '#' + el.id : (el.name ? el.tagName.toLowerCase() + '[name="' + el.name + '"]' : '');
	for (const el of document.querySelectorAll('a[href]')) {
		const href = el.getAttribute('href');
		if (!href || href.startsWith('javascript:') || href.startsWith('#')) continue;
		add({type: 'navigate', href: new URL(href, location.href).href, name: (el.innerText || '').trim().slice(0, 80), tag: 'a'});
	}
	for (const el of document.querySelectorAll('button, [role="button"], input[type="submit"]')) {
		const sel = selFor(el);
		const name = (el.innerText || el.value || el.getAttribute('aria-label') || '').trim().slice(0, 80);
		if (sel) add({type: 'click', selector: sel, name, tag: el.tagName.toLowerCase()});
		else if (name) add({type: 'click', role: 'button', name, tag: el.tagName.toLowerCase()});
	}
	for (const el of document.querySelectorAll('input:not([type=submit]):not([type=hidden]), textarea')) {
		const sel = selFor(el);
		if (sel) add({type: 'fill', selector: sel, name: el.getAttribute('aria-label') || el.placeholder || el.name || '', tag: el.tagName.toLowerCase()});
	}
	for (const el of document.querySelectorAll('select')) {
		const sel = selFor(el);
		if (sel) add({type: 'select', selector: sel, name: el.name || '', tag: 'select'});
	}
	return out;
})()`

func (s *chromeSession) ExtractActions(ctx context.Context) ([]model.Action, error) {
	var actions []model.Action
	if err := s.run(ctx, chromedp.Evaluate(extractScript, &actions)); err != nil {
		return nil, fmt.Errorf("extract actions: %w", err)
	}
	return actions, nil
}

func (s *chromeSession) Hydrate(ctx context.Context, inputs []model.InputState) error {
	for _, in := range inputs {
		if in.Selector == "" || in.Value == "" {
			continue
		}
		if err := s.run(ctx, chromedp.SetValue(in.Selector, in.Value, chromedp.ByQuery)); err != nil {
			return fmt.Errorf("hydrate %s: %w", in.Selector, err)
		}
	}
	return nil
}

func (s *chromeSession) Perform(ctx context.Context, action model.Action) (ActionResult, error) {
	start := time.Now()
	err := s.perform(ctx, action)
	latency := time.Since(start).Milliseconds()

	if err == nil {
		if idleErr := s.waitNetworkIdle(ctx); idleErr != nil {
			err = idleErr
		}
	}
	if err != nil {
		// The caller's context ending is an environment fault, not an
		// action outcome.
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return ActionResult{}, err
		}
		return ActionResult{Outcome: model.OutcomeFail, LatencyMS: latency, Error: err.Error()}, nil
	}
	return ActionResult{Outcome: model.OutcomeSuccess, LatencyMS: latency}, nil
}

func (s *chromeSession) perform(ctx context.Context, action model.Action) error {
	switch action.Type {
	case model.ActionClick:
		if action.Selector != "" {
			return s.run(ctx, chromedp.Click(action.Selector, chromedp.ByQuery, chromedp.NodeVisible))
		}
		return s.clickByRoleName(ctx, action.Role, action.Name)
	case model.ActionFill:
		if action.Selector == "" {
			return fmt.Errorf("fill action without selector")
		}
		return s.run(ctx,
			chromedp.SetValue(action.Selector, "", chromedp.ByQuery),
			chromedp.SendKeys(action.Selector, action.Value, chromedp.ByQuery),
		)
	case model.ActionSelect:
		if action.Selector == "" {
			return fmt.Errorf("select action without selector")
		}
		return s.run(ctx, chromedp.SetValue(action.Selector, action.Value, chromedp.ByQuery))
	case model.ActionNavigate:
		target := action.Value
		if target == "" {
			target = action.Href
		}
		return s.run(ctx, chromedp.Navigate(target))
	case model.ActionWait:
		return s.waitNetworkIdle(ctx)
	default:
		return fmt.Errorf("unknown action type %q", action.Type)
	}
}

func (s *chromeSession) clickByRoleName(ctx context.Context, role, name string) error {
	nameJSON, _ := json.Marshal(name)
	roleJSON, _ := json.Marshal(role)
	script := fmt.Sprintf(`(() => {
		const want = %s;
		const role = %s;
		for (const el of document.querySelectorAll('[role="' + role + '"], ' + role)) {
			const n = (el.innerText || el.value || el.getAttribute('aria-label') || '').trim();
			if (n === want) { el.click(); return true; }
		}
		return false;
	})()`, nameJSON, roleJSON)

	var clicked bool
	if err := s.run(ctx, chromedp.Evaluate(script, &clicked)); err != nil {
		return err
	}
	if !clicked {
		return fmt.Errorf("no element with role %q name %q", role, name)
	}
	return nil
}

func (s *chromeSession) Close() error {
	for _, cancel := range s.cancels {
		cancel()
	}
	return nil
}
