package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/devsessions/devsessions/internal/config"
	"github.com/devsessions/devsessions/internal/debug"
	"github.com/devsessions/devsessions/internal/gateway"
	"github.com/devsessions/devsessions/internal/registry"
	"github.com/devsessions/devsessions/internal/rpcbackend"
	"github.com/devsessions/devsessions/internal/rpcdaemon"
	"github.com/devsessions/devsessions/internal/session"
	"github.com/devsessions/devsessions/internal/term"
)

// exitTimedOut is the sentinel exit code for a wait that hit its deadline
// without the session completing its turn.
const exitTimedOut = 124

var (
	verboseFlag bool
	quietFlag   bool
	rootCtx     context.Context
	rootCancel  context.CancelFunc

	// localCfg holds config.yaml fallbacks (with env var overrides already
	// applied), loaded once per invocation. create and wait consult it for
	// flag defaults a user set once instead of passing on every call.
	localCfg *config.LocalConfig
)

func devSessionsHomeDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("dev-sessions: resolve home directory: %w", err)
	}
	return filepath.Join(home, ".dev-sessions"), nil
}

var rootCmd = &cobra.Command{
	Use:   "dev-sessions",
	Short: "Drive long-lived coding-agent sessions from a terminal or a script",
	Long:  "dev-sessions multiplexes long-lived coding-agent sessions across a terminal multiplexer (TERM) and an RPC-speaking agent daemon (RPC).",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		debug.SetVerbose(verboseFlag)
		debug.SetQuiet(quietFlag)
		rootCtx, rootCancel = context.WithCancel(context.Background())
		if homeDir, err := devSessionsHomeDir(); err == nil {
			localCfg = config.LoadLocalConfigWithEnv(homeDir)
		} else {
			localCfg = &config.LocalConfig{}
		}
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if rootCancel != nil {
			rootCancel()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "enable debug output")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "suppress non-essential output")
}

// exitCodeFor maps a returned error to the process exit code: a validation
// or usage error exits 1; nothing maps to 124 here, since a timed-out wait
// is reported as a successful (non-error) WaitResult, not an error.
func exitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	return 1
}

// driver is the uniform surface every CLI subcommand is written against;
// newDriver selects the local Session Manager or the Gateway Client
// depending on IS_SANDBOX, so command bodies never branch on it themselves.
type driver interface {
	Create(ctx context.Context, opts session.CreateSessionOptions) (registry.SessionRecord, error)
	Send(ctx context.Context, handle, text string) error
	Kill(ctx context.Context, handle string) error
	List(ctx context.Context) ([]registry.SessionRecord, error)
	Status(ctx context.Context, handle string) (string, error)
	Wait(ctx context.Context, handle string, timeout, interval time.Duration) (completed, timedOut bool, elapsedMs int64, err error)
	LastMessages(ctx context.Context, handle string, n int) ([]string, error)
	Inspect(ctx context.Context, handle string) (registry.SessionRecord, error)
}

func newDriver() (driver, error) {
	if gateway.InSandbox() {
		return &gatewayDriver{client: gateway.NewClient(gateway.TargetURL())}, nil
	}
	return newLocalDriver()
}

// localDriver adapts *session.Manager, wired with the TERM and RPC
// backends, to the driver interface.
type localDriver struct {
	manager *session.Manager
}

func newLocalDriver() (*localDriver, error) {
	homeDir, err := devSessionsHomeDir()
	if err != nil {
		return nil, err
	}

	regPath, err := registry.DefaultPath()
	if err != nil {
		return nil, err
	}
	reg := registry.New(regPath)

	cfg := localCfg
	if cfg == nil {
		cfg = config.LoadLocalConfigWithEnv(homeDir)
	}
	daemonCommand := "codex-app-server"
	if cfg.DefaultExecutable != "" {
		daemonCommand = cfg.DefaultExecutable
	}
	if v := os.Getenv("DEV_SESSIONS_RPC_DAEMON_COMMAND"); v != "" {
		daemonCommand = v
	}
	daemon := rpcdaemon.New(homeDir, daemonCommand, []string{"--listen", "127.0.0.1:0"})

	backends := map[registry.Kind]session.Backend{
		registry.KindTERM: term.New(term.DefaultConfig()),
		registry.KindRPC:  rpcbackend.New(daemon),
	}
	return &localDriver{manager: session.New(reg, backends)}, nil
}

func (d *localDriver) Create(ctx context.Context, opts session.CreateSessionOptions) (registry.SessionRecord, error) {
	return d.manager.CreateSession(ctx, opts)
}
func (d *localDriver) Send(ctx context.Context, handle, text string) error {
	_, err := d.manager.SendMessage(ctx, handle, text)
	return err
}
func (d *localDriver) Kill(ctx context.Context, handle string) error {
	return d.manager.KillSession(ctx, handle)
}
func (d *localDriver) List(ctx context.Context) ([]registry.SessionRecord, error) {
	return d.manager.ListSessions(ctx)
}
func (d *localDriver) Status(ctx context.Context, handle string) (string, error) {
	result, err := d.manager.GetSessionStatus(ctx, handle)
	return string(result.Status), err
}
func (d *localDriver) Wait(ctx context.Context, handle string, timeout, interval time.Duration) (bool, bool, int64, error) {
	result, err := d.manager.WaitForSession(ctx, handle, session.WaitOptions{Timeout: timeout, PollInterval: interval})
	return result.Completed, result.TimedOut, result.ElapsedMs, err
}
func (d *localDriver) LastMessages(ctx context.Context, handle string, n int) ([]string, error) {
	return d.manager.GetLastMessages(ctx, handle, n)
}
func (d *localDriver) Inspect(ctx context.Context, handle string) (registry.SessionRecord, error) {
	return d.manager.Inspect(handle)
}

// gatewayDriver adapts *gateway.Client to the driver interface.
type gatewayDriver struct {
	client *gateway.Client
}

func (d *gatewayDriver) Create(ctx context.Context, opts session.CreateSessionOptions) (registry.SessionRecord, error) {
	return d.client.CreateSession(ctx, opts)
}
func (d *gatewayDriver) Send(ctx context.Context, handle, text string) error {
	return d.client.SendMessage(ctx, handle, text)
}
func (d *gatewayDriver) Kill(ctx context.Context, handle string) error {
	return d.client.KillSession(ctx, handle)
}
func (d *gatewayDriver) List(ctx context.Context) ([]registry.SessionRecord, error) {
	return d.client.ListSessions(ctx)
}
func (d *gatewayDriver) Status(ctx context.Context, handle string) (string, error) {
	return d.client.GetSessionStatus(ctx, handle)
}
func (d *gatewayDriver) Wait(ctx context.Context, handle string, timeout, interval time.Duration) (bool, bool, int64, error) {
	result, err := d.client.WaitForSession(ctx, handle, session.WaitOptions{Timeout: timeout, PollInterval: interval})
	return result.Completed, result.TimedOut, result.ElapsedMs, err
}
func (d *gatewayDriver) LastMessages(ctx context.Context, handle string, n int) ([]string, error) {
	return d.client.GetLastMessages(ctx, handle, n)
}
func (d *gatewayDriver) Inspect(ctx context.Context, handle string) (registry.SessionRecord, error) {
	return d.client.Inspect(ctx, handle)
}
