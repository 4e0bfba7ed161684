// internal/profile/profile.go
//
// Package profile holds the user data site scripts fill forms from: profiles,
// per-site script settings and the origin blacklist, plus the stores that
// persist them.
package profile

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/Ian-Gutierrez96/nox-autofill-sub000/internal/autofill"
)

// ErrNotFound is returned when a profile or settings record does not exist.
var ErrNotFound = errors.New("profile: not found")

// Address is a postal address.
type Address struct {
	FirstName  string `json:"first_name" yaml:"first_name"`
	LastName   string `json:"last_name" yaml:"last_name"`
	Line1      string `json:"line1" yaml:"line1"`
	Line2      string `json:"line2,omitempty" yaml:"line2,omitempty"`
	City       string `json:"city" yaml:"city"`
	State      string `json:"state" yaml:"state"`
	PostalCode string `json:"postal_code" yaml:"postal_code"`
	Country    string `json:"country" yaml:"country"`
	Phone      string `json:"phone,omitempty" yaml:"phone,omitempty"`
}

// FullName joins first and last name.
func (a Address) FullName() string {
	return strings.TrimSpace(a.FirstName + " " + a.LastName)
}

// Contact is how the merchant reaches the buyer.
type Contact struct {
	Email string `json:"email" yaml:"email"`
	Phone string `json:"phone" yaml:"phone"`
}

// Payment is card data.
type Payment struct {
	CardHolder string `json:"card_holder" yaml:"card_holder"`
	CardNumber string `json:"card_number" yaml:"card_number"`
	ExpMonth   string `json:"exp_month" yaml:"exp_month"`
	ExpYear    string `json:"exp_year" yaml:"exp_year"`
	CVV        string `json:"cvv" yaml:"cvv"`
}

// ExpShortYear returns the last two digits of the expiry year.
func (p Payment) ExpShortYear() string {
	if len(p.ExpYear) > 2 {
		return p.ExpYear[len(p.ExpYear)-2:]
	}
	return p.ExpYear
}

// Last4 returns the last four card digits, for logs.
func (p Payment) Last4() string {
	digits := strings.ReplaceAll(p.CardNumber, " ", "")
	if len(digits) <= 4 {
		return digits
	}
	return digits[len(digits)-4:]
}

// Profile is one set of checkout data.
type Profile struct {
	Key      string  `json:"key" yaml:"key"`
	Billing  Address `json:"billing" yaml:"billing"`
	Shipping Address `json:"shipping" yaml:"shipping"`
	Contact  Contact `json:"contact" yaml:"contact"`
	Payment  Payment `json:"payment" yaml:"payment"`
}

// Settings are the per-site script settings.
type Settings struct {
	Site                string `json:"site" yaml:"site"`
	AutofillEnabled     bool   `json:"autofill_enabled" yaml:"autofill_enabled"`
	AutocheckoutEnabled bool   `json:"autocheckout_enabled" yaml:"autocheckout_enabled"`
	// Mode is the default mode for fields that do not set their own.
	Mode       autofill.Mode `json:"mode,omitempty" yaml:"mode,omitempty"`
	ProfileKey string        `json:"profile_key" yaml:"profile_key"`
	// Origin restricts the script to one origin when set.
	Origin string `json:"origin,omitempty" yaml:"origin,omitempty"`
}

// DefaultSettings enables autofill in fast mode and leaves autocheckout off.
func DefaultSettings(site string) Settings {
	return Settings{Site: site, AutofillEnabled: true, Mode: autofill.Fast}
}

// Blacklist lists origins scripts must never run on. An entry blocks its host
// and every subdomain of it.
type Blacklist []string

// IsBlacklisted reports whether origin (a URL or bare host) is blocked.
func (b Blacklist) IsBlacklisted(origin string) bool {
	for _, entry := range b {
		if MatchHost(entry, origin) {
			return true
		}
	}
	return false
}

// MatchHost reports whether origin's host is pattern's host or a subdomain
// of it. Both may be URLs, origins or bare host names.
func MatchHost(pattern, origin string) bool {
	host, want := hostOf(origin), hostOf(pattern)
	if host == "" || want == "" {
		return false
	}
	return host == want || strings.HasSuffix(host, "."+want)
}

// hostOf lower-cases the host of a URL, origin or bare host name.
func hostOf(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// Store persists profiles, settings and the blacklist.
type Store interface {
	Profile(ctx context.Context, key string) (Profile, error)
	ListProfiles(ctx context.Context) ([]Profile, error)
	SaveProfile(ctx context.Context, p Profile) error
	// Settings returns DefaultSettings(site) when none are stored.
	Settings(ctx context.Context, site string) (Settings, error)
	SaveSettings(ctx context.Context, s Settings) error
	Blacklist(ctx context.Context) (Blacklist, error)
	SaveBlacklist(ctx context.Context, b Blacklist) error
	Close() error
}
