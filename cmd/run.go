// cmd/run.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Ian-Gutierrez96/nox-autofill-sub000/internal/autofill"
	"github.com/Ian-Gutierrez96/nox-autofill-sub000/internal/browser/cdp"
	"github.com/Ian-Gutierrez96/nox-autofill-sub000/internal/browser/memdom"
	"github.com/Ian-Gutierrez96/nox-autofill-sub000/internal/config"
	"github.com/Ian-Gutierrez96/nox-autofill-sub000/internal/observability"
	"github.com/Ian-Gutierrez96/nox-autofill-sub000/internal/profile"
	"github.com/Ian-Gutierrez96/nox-autofill-sub000/internal/proxy"
	"github.com/Ian-Gutierrez96/nox-autofill-sub000/internal/sitescript"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type runOptions struct {
	site       string
	profileKey string
	url        string
	file       string
	dir        string
	checkout   bool
}

func newRunCmd() *cobra.Command {
	var opts runOptions

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run a site script against a live page or a saved HTML file",
		Long: `Run loads a site script and a profile, opens the checkout page and fills it.

Without --file the page is opened in Chrome. With --file the markup is loaded
into an in-memory document instead, which is handy for developing scripts.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}

			if cmd.Flags().Changed("headless") {
				v, _ := cmd.Flags().GetBool("headless")
				cfg.SetBrowserHeadless(v)
			}
			if cmd.Flags().Changed("field-timeout") {
				v, _ := cmd.Flags().GetDuration("field-timeout")
				cfg.SetAutofillFieldTimeout(v)
			}
			return runSite(ctx, cmd.OutOrStdout(), cfg, opts)
		},
	}

	runCmd.Flags().StringVarP(&opts.site, "site", "s", "", "Site script id (default: matched from --url)")
	runCmd.Flags().StringVarP(&opts.profileKey, "profile", "p", "", "Profile key (default: the site's configured profile)")
	runCmd.Flags().StringVarP(&opts.url, "url", "u", "", "Page URL (default: the script's url)")
	runCmd.Flags().StringVarP(&opts.file, "file", "f", "", "Fill a saved HTML file instead of opening a browser")
	runCmd.Flags().StringVar(&opts.dir, "dir", "", "Site script directory (default: autofill.scripts_dir)")
	runCmd.Flags().BoolVar(&opts.checkout, "checkout", false, "Run checkout steps even if autocheckout is off for the site")
	runCmd.Flags().Bool("headless", false, "Run Chrome headless")
	runCmd.Flags().Duration("field-timeout", 0, "Give up on a field after this long (0 waits forever)")
	return runCmd
}

func runSite(ctx context.Context, out io.Writer, cfg config.Interface, opts runOptions) error {
	logger := observability.GetLogger()

	script, err := resolveScript(cfg, opts)
	if err != nil {
		return err
	}
	target := opts.url
	if target == "" {
		target = script.URL
	}
	if target == "" && opts.file == "" {
		return fmt.Errorf("site %s has no url; pass --url", script.ID)
	}

	store, err := profile.Open(ctx, cfg.Store(), logger)
	if err != nil {
		return err
	}
	defer store.Close()

	settings, err := store.Settings(ctx, script.ID)
	if err != nil {
		return fmt.Errorf("load settings for %s: %w", script.ID, err)
	}
	if opts.checkout {
		settings.AutocheckoutEnabled = true
	}
	key := opts.profileKey
	if key == "" {
		key = settings.ProfileKey
	}
	if key == "" {
		return fmt.Errorf("no profile selected for %s; pass --profile", script.ID)
	}
	prof, err := store.Profile(ctx, key)
	if err != nil {
		return fmt.Errorf("load profile %q: %w", key, err)
	}
	blacklist, err := store.Blacklist(ctx)
	if err != nil {
		return fmt.Errorf("load blacklist: %w", err)
	}

	sess, err := openSession(ctx, cfg, opts, target, logger)
	if err != nil {
		return err
	}
	defer sess.close()

	engine := autofill.NewEngine(sess.page, autofill.WithLogger(logger))
	runner := sitescript.NewRunner(engine,
		sitescript.WithLogger(logger),
		sitescript.WithFieldTimeout(cfg.Autofill().FieldTimeout),
		sitescript.WithDispatchKeys(cfg.Autofill().DispatchKeys))

	logger.Info("Running site script.",
		zap.String("site", script.ID),
		zap.String("profile", prof.Key),
		zap.String("card", "****"+prof.Payment.Last4()),
		zap.String("target", target))

	report, runErr := runner.Run(ctx, sitescript.RunInput{
		Script:    script,
		Profile:   prof,
		Settings:  settings,
		Blacklist: blacklist,
		Origin:    target,
	})
	if report != nil {
		if err := writeReport(out, report); err != nil {
			return err
		}
	}
	return runErr
}

func resolveScript(cfg config.Interface, opts runOptions) (*sitescript.Script, error) {
	dir := opts.dir
	if dir == "" {
		dir = cfg.Autofill().ScriptsDir
	}
	reg, err := sitescript.LoadDir(dir)
	if err != nil {
		return nil, err
	}
	switch {
	case opts.site != "":
		s, ok := reg.Get(opts.site)
		if !ok {
			return nil, fmt.Errorf("unknown site %q in %s", opts.site, dir)
		}
		return s, nil
	case opts.url != "":
		s, ok := reg.Match(opts.url)
		if !ok {
			return nil, fmt.Errorf("no site script covers %s", opts.url)
		}
		return s, nil
	default:
		return nil, errors.New("pass --site or --url")
	}
}

// session is the page a run fills plus whatever must be torn down after it.
type session struct {
	page  autofill.Page
	close func()
}

func openSession(ctx context.Context, cfg config.Interface, opts runOptions, target string, logger *zap.Logger) (*session, error) {
	if opts.file != "" {
		f, err := os.Open(opts.file)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		doc, err := memdom.Parse(f,
			memdom.WithLogger(logger),
			memdom.WithFrameInterval(cfg.Autofill().FrameInterval))
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", opts.file, err)
		}
		return &session{page: doc, close: func() {}}, nil
	}

	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var mgrOpts []cdp.ManagerOption
	if cfg.Proxy().Enabled {
		fwd, err := proxy.New(cfg.Proxy(), logger)
		if err != nil {
			return nil, err
		}
		if err := fwd.Start(ctx); err != nil {
			return nil, err
		}
		closers = append(closers, func() { _ = fwd.Close() })
		mgrOpts = append(mgrOpts, cdp.WithProxyServer(fwd.Addr()))
	}

	mgr, err := cdp.NewManager(ctx, cfg.Browser(), logger, mgrOpts...)
	if err != nil {
		closeAll()
		return nil, err
	}
	closers = append(closers, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := mgr.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Browser shutdown did not complete cleanly.", zap.Error(err))
		}
	})

	tab, err := mgr.NewTab(ctx)
	if err != nil {
		closeAll()
		return nil, err
	}
	closers = append(closers, tab.Close)

	if err := tab.Navigate(ctx, target, cfg.Browser().NavigationTimeout); err != nil {
		closeAll()
		return nil, err
	}
	return &session{page: tab.Page, close: closeAll}, nil
}

func writeReport(w io.Writer, report *sitescript.Report) error {
	b, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
