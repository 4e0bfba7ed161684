// internal/autofill/injector.go
package autofill

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Capability is the closed set of write strategies an element supports.
type Capability int

const (
	Unsupported Capability = iota
	Clickable
	TextEntry
	ChoiceList
)

func (c Capability) String() string {
	switch c {
	case Clickable:
		return "clickable"
	case TextEntry:
		return "text-entry"
	case ChoiceList:
		return "choice-list"
	default:
		return "unsupported"
	}
}

var clickableInputTypes = map[string]bool{
	"button":   true,
	"submit":   true,
	"reset":    true,
	"image":    true,
	"checkbox": true,
	"radio":    true,
}

// CapabilityOf classifies an element once, from its tag and type.
func CapabilityOf(info ElementInfo) Capability {
	switch info.Tag {
	case "button", "a", "summary":
		return Clickable
	case "select":
		return ChoiceList
	case "textarea":
		return TextEntry
	case "input":
		if clickableInputTypes[info.Type] {
			return Clickable
		}
		if info.Type == "file" {
			return Unsupported
		}
		return TextEntry
	}
	return Unsupported
}

// Injector commits values into resolved elements with the event sequence
// framework-driven checkout forms expect.
type Injector struct {
	page   Page
	logger *zap.Logger
}

// NewInjector binds an injector to page.
func NewInjector(page Page, logger *zap.Logger) *Injector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Injector{page: page, logger: logger.Named("injector")}
}

// Inject writes value into el according to its capability and returns the
// element that was written: el itself, or the selected option for choice
// controls. Unsupported elements are returned untouched.
func (i *Injector) Inject(ctx context.Context, el Element, value string, opts Options) (Element, error) {
	info, err := i.page.Describe(ctx, el)
	if err != nil {
		return nil, fmt.Errorf("autofill: describe %s: %w", el, err)
	}

	switch capability := CapabilityOf(info); capability {
	case Clickable:
		if info.Tag == "input" && info.Type == "checkbox" && info.Checked == wantChecked(value) {
			return el, nil
		}
		if err := i.page.Click(ctx, el); err != nil {
			return nil, fmt.Errorf("autofill: click %s: %w", el, err)
		}
		return el, nil
	case TextEntry:
		if err := i.typeValue(ctx, el, info, value, opts.Type); err != nil {
			return nil, err
		}
		return el, nil
	case ChoiceList:
		return i.selectValue(ctx, el, info, value, opts.Select)
	default:
		i.logger.Debug("Element has no write capability, skipping.", zap.Stringer("element", el), zap.String("tag", info.Tag))
		return el, nil
	}
}

// wantChecked reads a checkbox target from value. Only an explicit false
// asks for the box to be cleared.
func wantChecked(value string) bool {
	on, err := strconv.ParseBool(strings.TrimSpace(value))
	return err != nil || on
}

// typeValue runs focus, keydown?, value set, input, keyup?, change, blur.
func (i *Injector) typeValue(ctx context.Context, el Element, info ElementInfo, value string, opts TypeOptions) error {
	if info.Value == value {
		return nil
	}

	steps := []func() error{
		func() error { return i.page.Focus(ctx, el) },
	}
	if opts.DispatchKeys {
		steps = append(steps, func() error { return i.page.Dispatch(ctx, el, Event{Type: "keydown", Bubbles: true, Cancelable: true}) })
	}
	steps = append(steps,
		func() error { return i.page.SetValue(ctx, el, value) },
		func() error { return i.page.Dispatch(ctx, el, Event{Type: "input", Bubbles: true, Cancelable: true}) },
	)
	if opts.DispatchKeys {
		steps = append(steps, func() error { return i.page.Dispatch(ctx, el, Event{Type: "keyup", Bubbles: true, Cancelable: true}) })
	}
	steps = append(steps,
		func() error { return i.page.Dispatch(ctx, el, Event{Type: "change", Bubbles: true, Cancelable: true}) },
		func() error { return i.page.Blur(ctx, el) },
	)

	for _, step := range steps {
		if err := step(); err != nil {
			return fmt.Errorf("autofill: type into %s: %w", el, err)
		}
	}
	return nil
}

// selectValue picks the matching option. Dropdowns are often hydrated after
// the control itself renders, so a missing option suspends on the control's
// children until one matches.
func (i *Injector) selectValue(ctx context.Context, el Element, info ElementInfo, value string, opts SelectOptions) (Element, error) {
	option, ok := matchOption(info.Options, value, opts.ByText)
	if !ok {
		i.logger.Debug("Option not present yet, watching control.", zap.Stringer("element", el), zap.String("value", value))
		var err error
		info, option, err = i.awaitOption(ctx, el, value, opts.ByText)
		if err != nil {
			return nil, err
		}
	}

	if info.Value == option.Value {
		return option.Element, nil
	}

	if err := i.page.SelectOption(ctx, el, option.Element); err != nil {
		return nil, fmt.Errorf("autofill: select %q in %s: %w", value, el, err)
	}
	for _, ev := range []Event{
		{Type: "input", Bubbles: true, Cancelable: true},
		{Type: "change", Bubbles: true, Cancelable: true},
	} {
		if err := i.page.Dispatch(ctx, el, ev); err != nil {
			return nil, fmt.Errorf("autofill: select %q in %s: %w", value, el, err)
		}
	}
	if err := i.page.Blur(ctx, el); err != nil {
		return nil, fmt.Errorf("autofill: select %q in %s: %w", value, el, err)
	}
	return option.Element, nil
}

func (i *Injector) awaitOption(ctx context.Context, el Element, value string, byText bool) (ElementInfo, OptionInfo, error) {
	var (
		info   ElementInfo
		option OptionInfo
	)
	_, err := NewMutationWatcher(i.page, el).Wait(ctx, func(ctx context.Context) (Element, bool, error) {
		current, err := i.page.Describe(ctx, el)
		if err != nil {
			return nil, false, fmt.Errorf("autofill: describe %s: %w", el, err)
		}
		opt, ok := matchOption(current.Options, value, byText)
		if !ok {
			return nil, false, nil
		}
		info, option = current, opt
		return opt.Element, true, nil
	})
	return info, option, err
}

func matchOption(options []OptionInfo, value string, byText bool) (OptionInfo, bool) {
	for _, opt := range options {
		candidate := opt.Value
		if byText {
			candidate = opt.Text
		}
		if candidate == value {
			return opt, true
		}
	}
	return OptionInfo{}, false
}
