// internal/browser/cdp/persona.go
package cdp

import (
	"context"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/Ian-Gutierrez96/nox-autofill-sub000/internal/config"
)

// webdriverMask hides the automation flag some checkouts refuse to serve.
const webdriverMask = `Object.defineProperty(Navigator.prototype, 'webdriver', {get: () => false, configurable: true});`

// Persona is what a tab reports about its user. Checkout forms format
// phone numbers, postcodes and dates from it.
type Persona struct {
	UserAgent string
	Languages []string
	Timezone  string
	Locale    string
}

// PersonaFromConfig reads the persona fields of cfg.
func PersonaFromConfig(cfg config.BrowserConfig) Persona {
	return Persona{
		UserAgent: cfg.UserAgent,
		Languages: cfg.Languages,
		Timezone:  cfg.Timezone,
		Locale:    cfg.Locale,
	}
}

// acceptLanguage renders Languages as an Accept-Language header value with
// descending weights.
func (p Persona) acceptLanguage() string {
	parts := make([]string, 0, len(p.Languages))
	for i, lang := range p.Languages {
		if i == 0 {
			parts = append(parts, lang)
			continue
		}
		q := 1.0 - 0.1*float64(i)
		if q < 0.1 {
			q = 0.1
		}
		parts = append(parts, fmt.Sprintf("%s;q=%.1f", lang, q))
	}
	return strings.Join(parts, ",")
}

// Tasks returns the CDP actions that apply p to a tab. Unset fields add no
// action; the webdriver mask is always installed.
func (p Persona) Tasks(logger *zap.Logger) chromedp.Tasks {
	logger.Debug("Applying browser persona",
		zap.String("locale", p.Locale),
		zap.String("timezone", p.Timezone),
		zap.Strings("languages", p.Languages))

	tasks := chromedp.Tasks{
		chromedp.ActionFunc(func(ctx context.Context) error {
			if _, err := page.AddScriptToEvaluateOnNewDocument(webdriverMask).Do(ctx); err != nil {
				return fmt.Errorf("failed to install webdriver mask: %w", err)
			}
			return nil
		}),
	}
	if p.UserAgent != "" {
		ua := emulation.SetUserAgentOverride(p.UserAgent)
		if len(p.Languages) > 0 {
			ua = ua.WithAcceptLanguage(p.acceptLanguage())
		}
		tasks = append(tasks, ua)
	} else if len(p.Languages) > 0 {
		tasks = append(tasks, network.Enable(), network.SetExtraHTTPHeaders(network.Headers{"Accept-Language": p.acceptLanguage()}))
	}
	if p.Timezone != "" {
		tasks = append(tasks, emulation.SetTimezoneOverride(p.Timezone))
	}
	if p.Locale != "" {
		tasks = append(tasks, emulation.SetLocaleOverride().WithLocale(p.Locale))
	}
	return tasks
}
