// File: internal/browser/session/session.go
// Description: A live chromedp-backed browser session. One session owns one
// browser tab for the lifetime of one test run; all input goes through raw
// CDP dispatch so games that ignore DOM events still receive it.

// Package session implements browser session acquisition and the input
// primitives the play strategies drive.
package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/argus-qa/playprobe/api/schemas"
	"github.com/argus-qa/playprobe/internal/config"
	"github.com/argus-qa/playprobe/internal/statedetect"
)

// Session is a chromedp-backed implementation of schemas.Session.
type Session struct {
	id        string
	targetURL string
	logger    *zap.Logger

	// ctx is the session's master chromedp context. It carries the CDP
	// target and must only be canceled through close().
	ctx    context.Context
	cancel context.CancelFunc

	viewportWidth  int
	viewportHeight int

	closeOnce sync.Once
}

// ID returns the session identifier used in logs and evidence.
func (s *Session) ID() string { return s.id }

// TargetURL returns the URL the session was acquired for.
func (s *Session) TargetURL() string { return s.targetURL }

// runActions executes chromedp actions against the session's target while
// honoring the caller's operational deadline.
func (s *Session) runActions(ctx context.Context, actions ...chromedp.Action) error {
	opCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()
	return chromedp.Run(opCtx, actions...)
}

// Click dispatches a left click at normalized [0,1] viewport coordinates.
// Raw CDP mouse events reach canvas games that never attach DOM handlers.
func (s *Session) Click(ctx context.Context, x, y float64) error {
	px, py := s.toPixels(x, y)

	press := input.DispatchMouseEvent(input.MousePressed, px, py).
		WithButton(input.Left).
		WithClickCount(1)
	release := input.DispatchMouseEvent(input.MouseReleased, px, py).
		WithButton(input.Left).
		WithClickCount(1)

	opCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.runActions(opCtx, press, release); err != nil {
		return fmt.Errorf("failed to dispatch click at (%.2f, %.2f): %w", x, y, err)
	}
	return nil
}

// PressKey dispatches a key down+up pair for a DOM key name.
func (s *Session) PressKey(ctx context.Context, key string) error {
	domKey := normalizeKeyName(key)

	keyDown := input.DispatchKeyEvent(input.KeyDown).WithKey(domKey)
	keyUp := input.DispatchKeyEvent(input.KeyUp).WithKey(domKey)

	opCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.runActions(opCtx, keyDown, keyUp); err != nil {
		return fmt.Errorf("failed to dispatch key %q: %w", key, err)
	}
	return nil
}

// Wait pauses inside the browser's time domain so pending frames and timers
// keep running.
func (s *Session) Wait(ctx context.Context, d time.Duration) error {
	return s.runActions(ctx, chromedp.Sleep(d))
}

// Screenshot captures the current viewport as PNG.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	opCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	var buf []byte
	if err := s.runActions(opCtx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("failed to capture screenshot: %w", err)
	}
	return buf, nil
}

// PageSignal extracts the page title and visible text for cheap state and
// genre detection.
func (s *Session) PageSignal(ctx context.Context) (schemas.PageSignal, error) {
	opCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var title, text string
	err := s.runActions(opCtx,
		chromedp.Title(&title),
		chromedp.Evaluate(`document.body ? document.body.innerText : ""`, &text),
	)
	if err != nil {
		return schemas.PageSignal{}, fmt.Errorf("failed to read page signal: %w", err)
	}

	return schemas.PageSignal{
		Title:    title,
		Text:     text,
		Keywords: statedetect.Keywords(title + " " + text),
	}, nil
}

// close tears the tab and browser down. Safe to call more than once.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.logger.Debug("Closing browser session")
		s.cancel()
	})
}

func (s *Session) toPixels(x, y float64) (float64, float64) {
	return clamp01(x) * float64(s.viewportWidth), clamp01(y) * float64(s.viewportHeight)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// normalizeKeyName maps the convenience names the strategies use onto DOM
// KeyboardEvent.key values. Single characters pass through unchanged.
func normalizeKeyName(key string) string {
	switch strings.ToLower(key) {
	case "space", "spacebar":
		return " "
	case "enter":
		return "Enter"
	case "escape", "esc":
		return "Escape"
	case "tab":
		return "Tab"
	case "arrowup", "up":
		return "ArrowUp"
	case "arrowdown", "down":
		return "ArrowDown"
	case "arrowleft", "left":
		return "ArrowLeft"
	case "arrowright", "right":
		return "ArrowRight"
	default:
		return key
	}
}

var _ schemas.Session = (*Session)(nil)

// Provider acquires chromedp sessions. It implements schemas.SessionProvider.
type Provider struct {
	cfg    config.BrowserConfig
	logger *zap.Logger
}

// NewProvider creates a session provider.
func NewProvider(cfg config.BrowserConfig, logger *zap.Logger) *Provider {
	return &Provider{cfg: cfg, logger: logger.Named("browser")}
}

// Acquire launches a browser, navigates to the target and waits for the page
// to settle. The returned session stays alive until Release regardless of
// what happens to the acquisition context.
func (p *Provider) Acquire(ctx context.Context, cfg schemas.TestRunConfig) (schemas.Session, error) {
	sessionID := uuid.NewString()
	log := p.logger.With(zap.String("session_id", sessionID))

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", p.cfg.Headless),
		chromedp.Flag("mute-audio", true),
		chromedp.WindowSize(p.cfg.ViewportWidth, p.cfg.ViewportHeight),
	)

	// The browser's lifetime is bound to the session, not to the acquisition
	// context, so a step deadline cannot kill the tab mid-run.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	taskCtx, taskCancel := chromedp.NewContext(allocCtx)

	cancelAll := func() {
		taskCancel()
		allocCancel()
	}

	s := &Session{
		id:             sessionID,
		targetURL:      cfg.TargetURL,
		logger:         log,
		ctx:            taskCtx,
		cancel:         cancelAll,
		viewportWidth:  p.cfg.ViewportWidth,
		viewportHeight: p.cfg.ViewportHeight,
	}

	navCtx, navCancel := context.WithTimeout(ctx, p.cfg.NavigationTimeout)
	defer navCancel()

	log.Info("Acquiring browser session", zap.String("target", cfg.TargetURL))
	if err := s.runActions(navCtx, chromedp.Navigate(cfg.TargetURL)); err != nil {
		s.close()
		return nil, fmt.Errorf("failed to navigate to %s: %w", cfg.TargetURL, err)
	}

	// Canvas games often keep loading assets after the navigation settles.
	if p.cfg.PostLoadWait > 0 {
		if err := s.runActions(navCtx, chromedp.Sleep(p.cfg.PostLoadWait)); err != nil {
			s.close()
			return nil, fmt.Errorf("failed while waiting for page load to settle: %w", err)
		}
	}

	log.Info("Browser session ready")
	return s, nil
}

// Release tears down the session's browser. It is idempotent and never
// depends on the liveness of ctx: teardown uses the session's own context.
func (p *Provider) Release(_ context.Context, s schemas.Session) error {
	if s == nil {
		return nil
	}
	cs, ok := s.(*Session)
	if !ok {
		return fmt.Errorf("release of foreign session type %T", s)
	}
	cs.close()
	return nil
}

var _ schemas.SessionProvider = (*Provider)(nil)
