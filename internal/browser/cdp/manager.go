// internal/browser/cdp/manager.go
//
// Package cdp hosts the autofill engine in a live Chrome tab driven over the
// DevTools protocol.
package cdp

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/Ian-Gutierrez96/nox-autofill-sub000/internal/config"
)

const defaultLaunchTimeout = 30 * time.Second

var defaultExecCandidates = []string{
	"google-chrome",
	"google-chrome-stable",
	"chromium",
	"chromium-browser",
	"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
	`C:\Program Files\Google\Chrome\Application\chrome.exe`,
}

// ResolveExecPath returns requested if it exists, else the first Chrome
// binary found on the system.
func ResolveExecPath(requested string) (string, error) {
	candidates := make([]string, 0, len(defaultExecCandidates)+1)
	if path := strings.TrimSpace(requested); path != "" {
		candidates = append(candidates, path)
	}
	candidates = append(candidates, defaultExecCandidates...)

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
		if path, err := exec.LookPath(candidate); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("cdp: could not find a Chrome binary; tried %s", strings.Join(candidates, ", "))
}

// Manager owns the Chrome process. Tabs opened through it are tracked so
// Shutdown can wait for them.
type Manager struct {
	logger *zap.Logger
	cfg    config.BrowserConfig
	proxy  string

	// allocatorCtx manages the browser process. Every tab derives from it.
	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc

	wg sync.WaitGroup
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithProxyServer routes browser traffic through addr (host:port).
func WithProxyServer(addr string) ManagerOption {
	return func(m *Manager) { m.proxy = addr }
}

// NewManager launches Chrome and confirms it responds.
func NewManager(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger, opts ...ManagerOption) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		logger: logger.Named("browser_manager"),
		cfg:    cfg,
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.launchBrowser(ctx); err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	return m, nil
}

func (m *Manager) launchBrowser(ctx context.Context) error {
	m.logger.Info("Initializing browser allocator...")

	opts, err := m.buildAllocatorOptions()
	if err != nil {
		return err
	}
	allocCtx, cancel := chromedp.NewExecAllocator(ctx, opts...)
	m.allocatorCtx = allocCtx
	m.allocatorCancel = cancel

	timeout := m.cfg.LaunchTimeout
	if timeout <= 0 {
		timeout = defaultLaunchTimeout
	}
	testCtx, cancelTest := context.WithTimeout(allocCtx, timeout)
	testCtx, cancelTestCtx := chromedp.NewContext(testCtx)
	defer cancelTestCtx()
	defer cancelTest()

	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank")); err != nil {
		m.allocatorCancel()
		return fmt.Errorf("browser failed to start or respond: %w", err)
	}

	m.logger.Info("Browser launched successfully and is responsive.")
	return nil
}

// launchFlag is a Chrome command line switch. A false bool removes the switch.
type launchFlag struct {
	name  string
	value interface{}
}

// launchFlags lists the switches layered over chromedp's defaults.
func (m *Manager) launchFlags() []launchFlag {
	flags := []launchFlag{
		{"enable-automation", false},
		{"headless", m.cfg.Headless},
		{"ignore-certificate-errors", m.cfg.IgnoreTLSErrors},
		{"disable-blink-features", "AutomationControlled"},
		{"disable-extensions", true},
		{"disable-gpu", m.cfg.Headless},
	}
	if m.proxy != "" {
		flags = append(flags, launchFlag{"proxy-server", "http://" + m.proxy})
	}

	for _, arg := range m.cfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		flagName := strings.TrimPrefix(parts[0], "--")
		if len(parts) == 2 {
			flags = append(flags, launchFlag{flagName, parts[1]})
		} else {
			flags = append(flags, launchFlag{flagName, true})
		}
	}

	if runtime.GOOS == "linux" {
		flags = append(flags,
			launchFlag{"no-sandbox", true},
			launchFlag{"disable-dev-shm-usage", true},
			launchFlag{"disable-setuid-sandbox", true},
		)
	}
	return flags
}

// buildAllocatorOptions assembles launch options from the browser config.
func (m *Manager) buildAllocatorOptions() ([]chromedp.ExecAllocatorOption, error) {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	if m.cfg.ExecPath != "" {
		path, err := ResolveExecPath(m.cfg.ExecPath)
		if err != nil {
			return nil, err
		}
		opts = append(opts, chromedp.ExecPath(path))
	}
	if m.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(m.cfg.UserAgent))
	}
	for _, f := range m.launchFlags() {
		opts = append(opts, chromedp.Flag(f.name, f.value))
	}
	return opts, nil
}

// Tab is an open browser tab with the autofill helper installed.
type Tab struct {
	*Page
	cancel    context.CancelFunc
	wg        *sync.WaitGroup
	closeOnce sync.Once
}

// NewTab opens a tab and installs the page helper.
func (m *Manager) NewTab(ctx context.Context) (*Tab, error) {
	tabCtx, cancel := chromedp.NewContext(m.allocatorCtx)
	// Force target creation so listeners attach to a live tab.
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("cdp: open tab: %w", err)
	}
	if err := chromedp.Run(tabCtx, PersonaFromConfig(m.cfg).Tasks(m.logger)); err != nil {
		cancel()
		return nil, fmt.Errorf("cdp: apply persona: %w", err)
	}

	p, err := NewPage(ctx, tabCtx, m.cfg.FrameRate, m.logger)
	if err != nil {
		cancel()
		return nil, err
	}

	m.wg.Add(1)
	return &Tab{Page: p, cancel: cancel, wg: &m.wg}, nil
}

// Navigate loads url, bounded by the configured navigation timeout.
func (t *Tab) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := t.Page.Navigate(ctx, url); err != nil {
		return fmt.Errorf("cdp: navigate to %s: %w", url, err)
	}
	return nil
}

// Close closes the tab. Safe to call more than once.
func (t *Tab) Close() {
	t.closeOnce.Do(func() {
		t.cancel()
		t.wg.Done()
	})
}

// Shutdown waits for open tabs, bounded by ctx, then terminates Chrome.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("Browser manager shutdown initiated. Waiting for open tabs to close...")

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("All tabs have closed.")
	case <-ctx.Done():
		m.logger.Warn("Shutdown deadline exceeded. Forcing browser termination.", zap.Error(ctx.Err()))
	}

	if m.allocatorCancel != nil {
		m.logger.Info("Shutting down main browser process...")
		m.allocatorCancel()
		<-m.allocatorCtx.Done()
	}
	return nil
}
