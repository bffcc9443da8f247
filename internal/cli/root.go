// Package cli implements the smartnotifier command-line interface.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/smartnotifier/internal/logging"
	"github.com/mesh-intelligence/smartnotifier/internal/paths"
	"github.com/mesh-intelligence/smartnotifier/internal/rules"
	"github.com/mesh-intelligence/smartnotifier/pkg/types"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// rootFlags holds global flag values.
type rootFlags struct {
	configDir string
	dataDir   string
	jsonMode  bool
}

// app is the state shared by the commands of one invocation.
type app struct {
	flags rootFlags

	configDir string
	cfg       *viper.Viper
	log       *zap.Logger

	provider *rules.Provider
	store    *rules.Store
	dataDir  string
}

// NewRootCmd creates the top-level "smartnotifier" command with global
// flags and all subcommands registered.
func NewRootCmd() *cobra.Command {
	root, _ := newRoot()
	return root
}

func newRoot() (*cobra.Command, *app) {
	a := &app{log: zap.NewNop()}
	root := &cobra.Command{
		Use:   "smartnotifier",
		Short: "Re-post matching notifications with a per-rule sound",
		Long: "smartnotifier keeps per-channel keyword rules and, while running,\n" +
			"replaces each matching notification with one carrying the rule's sound.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return a.load()
		},
	}

	root.PersistentFlags().StringVar(&a.flags.configDir, "config-dir", "", "configuration directory (default: platform config dir)")
	root.PersistentFlags().StringVar(&a.flags.dataDir, "data-dir", "", "data directory (default: platform data dir)")
	root.PersistentFlags().BoolVar(&a.flags.jsonMode, "json", false, "output as JSON")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newInitCmd(a))
	root.AddCommand(newRulesCmd(a))
	root.AddCommand(newImportLegacyCmd(a))
	root.AddCommand(newExportCmd(a))
	root.AddCommand(newImportCmd(a))
	root.AddCommand(newRunCmd(a))
	return root, a
}

// Execute runs the CLI with os.Args and returns the process exit code.
func Execute() int {
	return execute(os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
}

// execute runs one invocation. The backend is released even when the
// command fails.
func execute(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	root, a := newRoot()
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.Execute()
	if cerr := a.close(); err == nil {
		err = cerr
	}
	if err == nil {
		return exitSuccess
	}
	fmt.Fprintln(stderr, "smartnotifier:", err)
	return exitCode(err)
}

// exitCode maps an error to the process exit code: storage failures are
// system errors, everything else is a user error.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitSuccess
	case errors.Is(err, types.ErrStorage), errors.Is(err, types.ErrDetached):
		return exitSysError
	default:
		return exitUserError
	}
}

// load resolves the config directory, reads config.yaml and builds the
// logger.
func (a *app) load() error {
	configDir, err := paths.ResolveConfigDir(a.flags.configDir)
	if err != nil {
		return types.WrapStorage("resolve config dir", err)
	}
	v, err := loadConfig(configDir)
	if err != nil {
		return err
	}
	log, err := logging.New(v.GetString(cfgKeyLogLevel), v.GetString(cfgKeyLogFormat))
	if err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	a.configDir, a.cfg, a.log = configDir, v, log
	return nil
}

// openStore attaches the configured backend once per invocation.
func (a *app) openStore() (*rules.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	dataDir, err := paths.ResolveDataDir(a.flags.dataDir, a.cfg.GetString(cfgKeyDataDir))
	if err != nil {
		return nil, types.WrapStorage("resolve data dir", err)
	}
	a.dataDir = dataDir
	a.provider = rules.NewProvider(types.Config{
		Backend: a.cfg.GetString(cfgKeyBackend),
		DataDir: dataDir,
	}, a.log)
	backend, err := a.provider.Get()
	if err != nil {
		return nil, err
	}
	a.store = rules.NewStore(backend, rules.WithStoreLogger(a.log))
	return a.store, nil
}

// close detaches the backend if one was opened. Safe to call twice.
func (a *app) close() error {
	defer a.log.Sync() //nolint:errcheck
	a.store = nil
	if a.provider == nil {
		return nil
	}
	return a.provider.Close()
}
