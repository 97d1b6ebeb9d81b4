package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"streamwatch/internal/browser"
	"streamwatch/internal/config"
	"streamwatch/internal/credential"
	"streamwatch/internal/logging"
	"streamwatch/internal/prompt"
	"streamwatch/internal/watch"
)

var (
	channel  string
	once     bool
	shots    bool
	headless bool
	proxy    string
	stealthy bool
)

// runCmd starts the watch loop
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Watch the configured channel until interrupted",
	Long: `Resolves the session credential (credential file, then TOKEN, then an
interactive prompt), launches the browser, verifies the login and polls the
channel page until SIGINT or SIGTERM.

Examples:
  watcher run --channel gaules
  watcher run --once --screenshots=false`,
	RunE: runWatch,
}

func init() {
	runCmd.Flags().StringVar(&channel, "channel", "", "Channel to watch (overrides STREAM)")
	runCmd.Flags().BoolVar(&once, "once", false, "Run a single poll iteration and exit")
	runCmd.Flags().BoolVar(&shots, "screenshots", true, "Capture a screenshot every iteration")
	runCmd.Flags().BoolVar(&headless, "headless", true, "Run the browser without a window")
	runCmd.Flags().StringVar(&proxy, "proxy", "", "Proxy host:port (overrides PROXY)")
	runCmd.Flags().BoolVar(&stealthy, "stealth", false, "Patch headless fingerprints on the page")
}

// applyRunFlags lets explicitly set flags override file and environment values.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("channel") {
		cfg.Channel = channel
	}
	if flags.Changed("screenshots") {
		cfg.Screenshot.Enabled = shots
	}
	if flags.Changed("headless") {
		cfg.Browser.Headless = headless
	}
	if flags.Changed("proxy") {
		cfg.Browser.Proxy = proxy
	}
	if flags.Changed("stealth") {
		cfg.Browser.Stealth = stealthy
	}
}

func newLoader(cfg *config.Config, in io.Reader, out io.Writer) *credential.Loader {
	exec := cfg.Browser.ExecutablePath
	if exec == "" {
		exec = config.DefaultExecutablePath
	}
	return &credential.Loader{
		Path:        cfg.CredentialPath,
		EnvToken:    cfg.Token,
		DefaultExec: exec,
		Prompter:    &prompt.Form{DefaultExec: exec, In: in, Out: out},
	}
}

// runWatch executes the full pipeline: credential, browser, login, poll.
func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadSettings()
	if err != nil {
		return err
	}
	applyRunFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}

	// Settings may ask for console or debug output the flags did not.
	if (cfg.Logging.Console && !console) || (cfg.Logging.Level == "debug" && !verbose) {
		if l, err := newLogger(verbose || cfg.Logging.Level == "debug", console || cfg.Logging.Console); err == nil {
			logger = l
		}
	}

	if err := logging.Initialize(cfg.Logging); err != nil {
		logger.Warn("File logging disabled", zap.Error(err))
	}
	defer logging.CloseAll()
	logging.Boot("Watching %s", cfg.StreamURL())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	g, gctx := errgroup.WithContext(ctx)

	// Shutdown waiter: only cancels the shared context.
	g.Go(func() error {
		select {
		case sig := <-sigCh:
			logger.Info("Received shutdown signal", zap.Stringer("signal", sig))
			cancel()
		case <-gctx.Done():
		}
		return nil
	})

	g.Go(func() error {
		defer cancel()
		return watchChannel(gctx, cmd, cfg)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Bye Bye")
	return nil
}

func watchChannel(ctx context.Context, cmd *cobra.Command, cfg *config.Config) error {
	logger.Info("Checking config file...", zap.String("path", cfg.CredentialPath))
	cred, src, err := newLoader(cfg, cmd.InOrStdin(), cmd.OutOrStdout()).Resolve(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("resolve credential: %w", err)
	}
	logger.Info("Credential loaded", zap.Stringer("source", src))
	if cfg.Browser.ExecutablePath != "" {
		cred.Exec = cfg.Browser.ExecutablePath
	}

	mgr := browser.NewManager(browser.ConfigFrom(cfg), cred, logger)
	logger.Info("Launching browser...")
	if err := mgr.Start(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("start browser: %w", err)
	}
	defer mgr.Shutdown()

	opts := watch.OptionsFrom(cfg)
	opts.Once = once
	w, err := watch.New(mgr, opts, logger.Named("watch"))
	if err != nil {
		return err
	}

	err = w.Run(ctx)
	if errors.Is(err, watch.ErrLoginFailed) {
		return loginFailure(cmd.OutOrStdout(), cfg.CredentialPath, src)
	}
	return err
}

const loginGuidance = `# Login failed

The session token was rejected.

Please ensure that you have a valid ` + "`auth-token`" + ` cookie value:

1. Log in to the site in a normal browser.
2. Open the developer tools and copy the ` + "`auth-token`" + ` cookie.
3. Run ` + "`watcher login`" + ` or set ` + "`TOKEN`" + ` and start again.
`

// loginFailure discards a stored credential so the next run prompts again,
// prints guidance and returns the fatal error.
func loginFailure(out io.Writer, path string, src credential.Source) error {
	removed, err := credential.Discard(path, src)
	if err != nil {
		logger.Warn("Could not remove credential file", zap.Error(err))
	} else if removed {
		logger.Info("Credential file removed", zap.String("path", path))
	}
	fmt.Fprintln(out, renderMarkdown(loginGuidance))
	return watch.ErrLoginFailed
}

func renderMarkdown(md string) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		return md
	}
	rendered, err := r.Render(md)
	if err != nil {
		return md
	}
	return rendered
}
