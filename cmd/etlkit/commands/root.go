// Package commands implements the etlkit command line.
package commands

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
	"go.uber.org/zap/zapcore"

	"github.com/ben-leadtech/etlkit"
	"github.com/ben-leadtech/etlkit/internal/runner"
)

// envPrefix prefixes the environment variables that set flags, e.g.
// ETLKIT_LOG_LEVEL.
const envPrefix = "ETLKIT"

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// SetVersionInfo records the build information printed by etlkit version.
func SetVersionInfo(v, c, d string) {
	version, commit, date = v, c, d
}

// Execute runs the command line against os.Args.
func Execute() error {
	root := NewRootCommand(os.Stdout, os.Stderr)
	if err := root.Execute(); err != nil {
		newPrinter(os.Stderr).Failure("%v\n", err)
		return err
	}
	return nil
}

// app is the state shared by the subcommands of one invocation.
type app struct {
	stdout io.Writer
	stderr io.Writer

	envFile   string
	logLevel  string
	logFormat string

	zap    *zap.Logger
	logger *slog.Logger
	env    etlkit.Environment

	factories runner.Factories
}

// NewRootCommand returns the etlkit command tree writing to stdout and
// stderr.
func NewRootCommand(stdout, stderr io.Writer) *cobra.Command {
	return newApp(stdout, stderr).rootCommand()
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{stdout: stdout, stderr: stderr}
}

func (a *app) rootCommand() *cobra.Command {
	rc := &cobra.Command{
		Use:   "etlkit",
		Short: "etlkit - Salesforce and BigQuery ETL pipelines",
		Long: `etlkit runs extract, transform and load pipelines described in YAML.

Pipelines extract from Salesforce (REST or Bulk API) and BigQuery, apply a
built-in transform and load the result into BigQuery, a Cloud Storage bucket
or a Google Sheet.

Every flag can also be set from the environment: --log-level is read from
ETLKIT_LOG_LEVEL.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := setAllConfig(viper.New(), cmd.Flags()); err != nil {
				return err
			}
			return a.setup()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.zap != nil {
				_ = a.zap.Sync()
			}
		},
	}
	rc.SetOut(a.stdout)
	rc.SetErr(a.stderr)

	flags := rc.PersistentFlags()
	flags.StringVar(&a.envFile, "env-file", ".env", "dotenv file with LOCATION, ENVIRONMENT and GOOGLE_CLOUD_PROJECT_ID")
	flags.StringVar(&a.logLevel, "log-level", "info", "log level: debug, info, warn or error")
	flags.StringVar(&a.logFormat, "log-format", "console", "log format: console or json")

	rc.AddCommand(
		a.runCommand(),
		a.validateCommand(),
		a.checkCommand(),
		a.checkpointCommand(),
		a.versionCommand(),
	)
	return rc
}

// setAllConfig fills every flag the user did not set from an ETLKIT_
// environment variable named after it, dashes replaced by underscores.
func setAllConfig(v *viper.Viper, flags *pflag.FlagSet) error {
	if err := v.BindPFlags(flags); err != nil {
		return err
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	var flagErr error
	flags.VisitAll(func(f *pflag.Flag) {
		if flagErr != nil || f.Changed {
			return
		}
		var value string
		if f.Value.Type() == "stringSlice" {
			value = strings.Join(v.GetStringSlice(f.Name), ",")
		} else {
			value = v.GetString(f.Name)
		}
		if err := f.Value.Set(value); err != nil {
			flagErr = fmt.Errorf("invalid value %q for --%s: %w", value, f.Name, err)
		}
	})
	return flagErr
}

// fileFlag registers --file. It is checked by requireFile instead of being
// marked required: cobra validates required flags before PersistentPreRunE
// fills them from the environment, so ETLKIT_FILE would never count.
func fileFlag(cmd *cobra.Command, file *string) {
	cmd.Flags().StringVarP(file, "file", "f", "", "pipeline definition file (env "+envPrefix+"_FILE)")
}

func requireFile(file string) error {
	if file == "" {
		return fmt.Errorf(`required flag(s) "file" not set: pass --file or set %s_FILE`, envPrefix)
	}
	return nil
}

// setup builds the logger and reads the environment.
func (a *app) setup() error {
	z, err := newZap(a.logLevel, a.logFormat, a.stderr)
	if err != nil {
		return err
	}
	a.zap = z
	a.logger = slog.New(zapslog.NewHandler(z.Core()))

	env, err := etlkit.LoadEnvironment(viper.New(), a.envFile)
	if err != nil {
		return err
	}
	a.env = env
	return nil
}

func newZap(level, format string, w io.Writer) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid --log-level: %w", err)
	}

	var enc zapcore.Encoder
	switch format {
	case "json":
		enc = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	case "console":
		enc = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	default:
		return nil, fmt.Errorf("invalid --log-format %q: want console or json", format)
	}

	core := zapcore.NewCore(enc, zapcore.AddSync(w), zap.NewAtomicLevelAt(lvl))
	return zap.New(core, zap.AddCaller()), nil
}
