// Package headless provides the full-environment document capability. Markup
// is loaded into a headless Chrome tab, helper and request scripts run
// against it, and the resulting DOM is returned as a goquery document.
package headless

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/fetchqueue/internal/crawler"
)

const defaultRenderTimeout = 45 * time.Second

// Config controls the headless document capability.
type Config struct {
	// MaxParallel bounds concurrent tabs; 0 means unbounded.
	MaxParallel int
	// RenderTimeout applies when a request carries no document timeout.
	RenderTimeout time.Duration
	// HelperScripts are files evaluated in every document before request
	// scripts, for example a bundled query library.
	HelperScripts []string
}

// Renderer implements crawler.DocumentParser with chromedp.
type Renderer struct {
	cfg         Config
	helpers     []string
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

var _ crawler.DocumentParser = (*Renderer)(nil)

// New starts a browser allocator and loads the helper scripts.
func New(cfg Config) (*Renderer, error) {
	if cfg.MaxParallel < 0 {
		return nil, errors.New("max parallel must be >= 0")
	}
	helpers, err := loadScripts(cfg.HelperScripts)
	if err != nil {
		return nil, err
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Renderer{
		cfg:         cfg,
		helpers:     helpers,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close shuts the browser down.
func (r *Renderer) Close() {
	r.allocCancel()
}

// Parse renders markup with scripts enabled and returns the final DOM.
func (r *Renderer) Parse(ctx context.Context, markup string, cfg crawler.DocumentConfig) (*goquery.Document, error) {
	if err := r.acquire(ctx); err != nil {
		return nil, err
	}
	defer r.release()

	tabCtx, tabCancel := chromedp.NewContext(r.allocator)
	defer tabCancel()
	tabCtx, cancel := context.WithTimeout(tabCtx, r.renderTimeout(cfg))
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var rendered string
	if err := chromedp.Run(tabCtx, r.actions(markup, cfg.Scripts, &rendered)...); err != nil {
		return nil, fmt.Errorf("chromedp run: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rendered))
	if err != nil {
		return nil, fmt.Errorf("parse rendered markup: %w", err)
	}
	return doc, nil
}

func (r *Renderer) actions(markup string, scripts []string, out *string) []chromedp.Action {
	actions := []chromedp.Action{
		chromedp.Navigate("about:blank"),
		setContent(markup),
	}
	for _, src := range r.helpers {
		actions = append(actions, chromedp.Evaluate(src, nil))
	}
	for _, src := range scripts {
		actions = append(actions, chromedp.Evaluate(src, nil))
	}
	return append(actions, chromedp.OuterHTML("html", out, chromedp.ByQuery))
}

func setContent(markup string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		tree, err := page.GetFrameTree().Do(ctx)
		if err != nil {
			return fmt.Errorf("get frame tree: %w", err)
		}
		if err := page.SetDocumentContent(tree.Frame.ID, markup).Do(ctx); err != nil {
			return fmt.Errorf("set document content: %w", err)
		}
		return nil
	})
}

func (r *Renderer) renderTimeout(cfg crawler.DocumentConfig) time.Duration {
	if cfg.Timeout > 0 {
		return cfg.Timeout
	}
	if r.cfg.RenderTimeout > 0 {
		return r.cfg.RenderTimeout
	}
	return defaultRenderTimeout
}

func (r *Renderer) acquire(ctx context.Context) error {
	if r.limiter == nil {
		return nil
	}
	select {
	case r.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless tab wait canceled: %w", ctx.Err())
	}
}

func (r *Renderer) release() {
	if r.limiter == nil {
		return
	}
	select {
	case <-r.limiter:
	default:
	}
}

func loadScripts(paths []string) ([]string, error) {
	out := make([]string, 0, len(paths))
	for _, path := range paths {
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("load helper script %q: %w", path, err)
		}
		out = append(out, string(src))
	}
	return out, nil
}
