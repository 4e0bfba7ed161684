// internal/sitescript/script.go
//
// Package sitescript loads per-retailer checkout scripts and runs them
// against the autofill engine. A script is configuration only: which fields
// to fill, in which steps, with which profile values.
package sitescript

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Ian-Gutierrez96/nox-autofill-sub000/internal/autofill"
	"github.com/Ian-Gutierrez96/nox-autofill-sub000/internal/profile"
)

// Script is one site's checkout definition.
type Script struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	// Origins are the hosts the script may run on. Subdomains match.
	Origins []string `yaml:"origins"`
	// URL is where a run starts when no URL is given.
	URL   string `yaml:"url,omitempty"`
	Steps []Step `yaml:"steps"`
}

// Step is a group of fields filled concurrently. Steps run in order.
type Step struct {
	Name string `yaml:"name"`
	// Delay is slept before the step starts.
	Delay  time.Duration `yaml:"delay,omitempty"`
	Fields []FieldSpec   `yaml:"fields"`
	// Checkout fields run in order after Fields, and only with autocheckout.
	Checkout []FieldSpec `yaml:"checkout,omitempty"`
}

// FieldSpec describes one field. Exactly one of Selector, XPath or
// Alternatives is set.
type FieldSpec struct {
	Selector string `yaml:"selector,omitempty"`
	XPath    string `yaml:"xpath,omitempty"`
	// Value is a text/template rendered against the profile.
	Value string `yaml:"value,omitempty"`
	// Mode overrides the site's default mode.
	Mode         string `yaml:"mode,omitempty"`
	Visible      *bool  `yaml:"visible,omitempty"`
	DispatchKeys bool   `yaml:"dispatch_keys,omitempty"`
	ByText       bool   `yaml:"by_text,omitempty"`
	// Parent is a CSS selector resolved first to scope the field's query.
	// Alternatives share it.
	Parent string `yaml:"parent,omitempty"`
	// Alternatives race; the first to commit wins. Unset values and modes
	// are inherited from this spec.
	Alternatives []FieldSpec `yaml:"alternatives,omitempty"`

	tmpl *template.Template
}

// Query returns the spec's query.
func (f *FieldSpec) Query() autofill.Query {
	if f.XPath != "" {
		return autofill.XPathQuery(f.XPath)
	}
	return autofill.Selector(f.Selector)
}

// Render evaluates the value template against p.
func (f *FieldSpec) Render(p profile.Profile) (string, error) {
	if f.tmpl == nil {
		return f.Value, nil
	}
	var buf bytes.Buffer
	if err := f.tmpl.Execute(&buf, p); err != nil {
		return "", fmt.Errorf("render value for %s: %w", f.Query(), err)
	}
	return buf.String(), nil
}

// compile validates the spec and parses its value template.
func (f *FieldSpec) compile(where string) error {
	set := 0
	for _, s := range []string{f.Selector, f.XPath} {
		if s != "" {
			set++
		}
	}
	if len(f.Alternatives) > 0 {
		set++
	}
	if set != 1 {
		return fmt.Errorf("%s: exactly one of selector, xpath or alternatives is required", where)
	}
	if f.Mode != "" {
		if _, err := autofill.ParseMode(f.Mode); err != nil {
			return fmt.Errorf("%s: %w", where, err)
		}
	}
	for i := range f.Alternatives {
		alt := &f.Alternatives[i]
		if len(alt.Alternatives) > 0 {
			return fmt.Errorf("%s: alternatives cannot nest", where)
		}
		if alt.Value == "" {
			alt.Value = f.Value
		}
		if alt.Mode == "" {
			alt.Mode = f.Mode
		}
		if alt.Parent != "" {
			return fmt.Errorf("%s: set parent on the field, not its alternatives", where)
		}
		if err := alt.compile(fmt.Sprintf("%s alternative %d", where, i)); err != nil {
			return err
		}
	}
	if strings.Contains(f.Value, "{{") {
		tmpl, err := template.New(where).Option("missingkey=error").Parse(f.Value)
		if err != nil {
			return fmt.Errorf("%s: bad value template: %w", where, err)
		}
		f.tmpl = tmpl
	}
	return nil
}

// Validate checks the script and compiles every field.
func (s *Script) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("sitescript: id is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("sitescript %s: at least one step is required", s.ID)
	}
	for i := range s.Steps {
		step := &s.Steps[i]
		if step.Name == "" {
			step.Name = fmt.Sprintf("step-%d", i+1)
		}
		for j := range step.Fields {
			if err := step.Fields[j].compile(fmt.Sprintf("sitescript %s: %s field %d", s.ID, step.Name, j)); err != nil {
				return err
			}
		}
		for j := range step.Checkout {
			if err := step.Checkout[j].compile(fmt.Sprintf("sitescript %s: %s checkout %d", s.ID, step.Name, j)); err != nil {
				return err
			}
		}
	}
	return nil
}

// MatchesOrigin reports whether origin is one of the script's hosts. A
// script without origins matches everything.
func (s *Script) MatchesOrigin(origin string) bool {
	if len(s.Origins) == 0 {
		return true
	}
	for _, o := range s.Origins {
		if profile.MatchHost(o, origin) {
			return true
		}
	}
	return false
}

// Load decodes and validates one script.
func Load(r io.Reader) (*Script, error) {
	var s Script
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("sitescript: decode: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// LoadFile loads the script at path.
func LoadFile(path string) (*Script, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("sitescript: %w", err)
	}
	defer f.Close()
	s, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Registry indexes scripts by id.
type Registry struct {
	scripts map[string]*Script
}

// NewRegistry indexes scripts. Duplicate ids are an error.
func NewRegistry(scripts ...*Script) (*Registry, error) {
	r := &Registry{scripts: make(map[string]*Script, len(scripts))}
	for _, s := range scripts {
		if _, dup := r.scripts[s.ID]; dup {
			return nil, fmt.Errorf("sitescript: duplicate id %q", s.ID)
		}
		r.scripts[s.ID] = s
	}
	return r, nil
}

// LoadDir loads every .yaml and .yml file in dir.
func LoadDir(dir string) (*Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("sitescript: read %s: %w", dir, err)
	}
	var scripts []*Script
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		s, err := LoadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		scripts = append(scripts, s)
	}
	return NewRegistry(scripts...)
}

// Get returns the script with id.
func (r *Registry) Get(id string) (*Script, bool) {
	s, ok := r.scripts[id]
	return s, ok
}

// List returns every script sorted by id.
func (r *Registry) List() []*Script {
	out := make([]*Script, 0, len(r.scripts))
	for _, s := range r.scripts {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Match returns the first script, by id, that declares origin.
func (r *Registry) Match(origin string) (*Script, bool) {
	for _, s := range r.List() {
		if len(s.Origins) > 0 && s.MatchesOrigin(origin) {
			return s, true
		}
	}
	return nil, false
}
