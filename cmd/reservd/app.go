package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"pkt.systems/pslog"

	"pkt.systems/reservd"
	"pkt.systems/reservd/api"
	"pkt.systems/reservd/internal/core"
)

func submain(ctx context.Context) int {
	baseLogger := pslog.LoggerFromEnv(
		pslog.WithEnvPrefix("RESERVD_LOG_"),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeStructured, MinLevel: pslog.InfoLevel}),
		pslog.WithEnvWriter(os.Stderr),
	).With("app", "reservd")
	cmd := newRootCommand(baseLogger)
	ctx = withSignalCancel(ctx)
	if err := cmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			printError(err)
		}
		return 1
	}
	return 0
}

func withSignalCancel(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(signals)
	}()
	return ctx
}

// printError renders coordinator failures as JSON so scripted callers can
// parse stderr the same way they parse stdout.
func printError(err error) {
	resp := api.FromError(err)
	enc := json.NewEncoder(os.Stderr)
	enc.SetIndent("", "  ")
	_ = enc.Encode(resp)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newRootCommand(baseLogger pslog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "reservd",
		Short:         "reservd reserves numbered units of finite-capacity items with CAS commits and idempotent retries",
		SilenceErrors: true,
		SilenceUsage:  true,
		Example: `
  # Create an item with 180 units backed by a SQLite ledger
  reservd --store sqlite:///var/lib/reservd/ledger.db item create flight-42 180

  # Reserve two units idempotently (resending the same request ID replays)
  reservd --store sqlite:///var/lib/reservd/ledger.db reserve flight-42 2 --request-id order-9f31

  # S3 ledger (expects AWS_ACCESS_KEY_ID / AWS_SECRET_ACCESS_KEY)
  RESERVD_STORE=s3://my-bucket/reservd reservd avail flight-42

  # In-memory ledger (tests/dev only, state dies with the process)
  reservd --store mem:// item create demo 8
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	persistentFlags := cmd.PersistentFlags()
	persistentFlags.StringP("config", "c", "", "path to YAML config file")
	persistentFlags.StringP("store", "s", reservd.DefaultStore, "ledger store URL (mem://, disk://path, sqlite://path, s3://bucket/prefix)")
	persistentFlags.String("log-level", reservd.DefaultLogLevel, "log level (trace, debug, info, warn, error)")
	persistentFlags.Int("retry-max-attempts", core.DefaultRetryMaxAttempts, "maximum CAS commit attempts per request")
	persistentFlags.Duration("retry-base-delay", core.DefaultRetryBaseDelay, "backoff delay before the second attempt")
	persistentFlags.Duration("retry-max-delay", core.DefaultRetryMaxDelay, "backoff delay ceiling")
	persistentFlags.Float64("retry-jitter", core.DefaultRetryJitter, "randomisation fraction applied to each delay, in [0,1)")
	persistentFlags.Duration("guard-retention", reservd.DefaultGuardRetention, "how long idempotency records are kept before sweep eviction")
	persistentFlags.String("s3-endpoint", "", "S3 endpoint host (empty selects AWS)")
	persistentFlags.String("s3-region", "", "S3 region")
	persistentFlags.Bool("s3-insecure", false, "use HTTP instead of HTTPS for the S3 endpoint")
	persistentFlags.Bool("s3-path-style", false, "force path-style S3 bucket addressing")

	viper.SetEnvPrefix("RESERVD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	for _, name := range []string{
		"config", "store", "log-level",
		"retry-max-attempts", "retry-base-delay", "retry-max-delay", "retry-jitter",
		"guard-retention",
		"s3-endpoint", "s3-region", "s3-insecure", "s3-path-style",
	} {
		if err := viper.BindPFlag(name, persistentFlags.Lookup(name)); err != nil {
			panic(err)
		}
	}

	cmd.AddCommand(newItemCommand(baseLogger))
	cmd.AddCommand(newReserveCommand(baseLogger))
	cmd.AddCommand(newReleaseCommand(baseLogger))
	cmd.AddCommand(newAvailCommand(baseLogger))
	cmd.AddCommand(newSweepCommand(baseLogger))
	cmd.AddCommand(newVersionCommand())
	return cmd
}

func loadConfigFile() error {
	cfgPath := strings.TrimSpace(viper.GetString("config"))
	if cfgPath == "" {
		return nil
	}
	abs, err := filepath.Abs(cfgPath)
	if err != nil {
		return fmt.Errorf("resolve config path %q: %w", cfgPath, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("config file %q: %w", abs, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config file %q is a directory", abs)
	}
	viper.SetConfigFile(abs)
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("read config file %q: %w", abs, err)
	}
	return nil
}

func bindConfig(logger pslog.Logger) (reservd.Config, error) {
	if err := loadConfigFile(); err != nil {
		return reservd.Config{}, err
	}
	if lvl, ok := pslog.ParseLevel(strings.TrimSpace(viper.GetString("log-level"))); ok {
		logger = logger.LogLevel(lvl)
	}
	cfg := reservd.Config{
		Store:  viper.GetString("store"),
		Logger: logger,
		Retry: core.RetryPolicy{
			MaxAttempts: viper.GetInt("retry-max-attempts"),
			BaseDelay:   viper.GetDuration("retry-base-delay"),
			MaxDelay:    viper.GetDuration("retry-max-delay"),
			Jitter:      viper.GetFloat64("retry-jitter"),
		},
		GuardRetention:   viper.GetDuration("guard-retention"),
		S3Endpoint:       viper.GetString("s3-endpoint"),
		S3Region:         viper.GetString("s3-region"),
		S3Insecure:       viper.GetBool("s3-insecure"),
		S3ForcePathStyle: viper.GetBool("s3-path-style"),
	}
	return cfg, cfg.Validate()
}

// openEngine builds the engine from flags, env, and config file. The
// returned cleanup closes the store.
func openEngine(logger pslog.Logger) (*reservd.Engine, func(), error) {
	cfg, err := bindConfig(logger)
	if err != nil {
		return nil, nil, err
	}
	eng, err := reservd.New(cfg)
	if err != nil {
		return nil, nil, err
	}
	return eng, func() { _ = eng.Close() }, nil
}

// opTimeout bounds every CLI operation; conflict retries resolve in well
// under a minute or not at all.
const opTimeout = time.Minute

func opContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), opTimeout)
}
