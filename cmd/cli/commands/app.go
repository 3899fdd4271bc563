package commands

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inferloop/deident/cmd/cli/config"
	"github.com/inferloop/deident/internal/export"
	"github.com/inferloop/deident/internal/storage"
	"github.com/inferloop/deident/internal/storage/implementations/redis"
)

// App carries the state shared by every command. Config and Logger are
// filled in by Setup before a command runs.
type App struct {
	Config *config.CLIConfig
	Logger *logrus.Logger
}

func NewApp() *App {
	return &App{
		Config: config.DefaultConfig(),
		Logger: logrus.New(),
	}
}

// Setup loads a .env file when present, reads the config file and
// configures logging.
func (a *App) Setup(cfgFile string, verbose bool, logFormat string, stderr io.Writer) error {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return err
	}

	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return err
	}
	a.Config = cfg

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	if verbose {
		level = logrus.DebugLevel
	}
	a.Logger.SetLevel(level)
	a.Logger.SetOutput(stderr)

	if logFormat == "" {
		logFormat = cfg.LogFormat
	}
	if strings.EqualFold(logFormat, "json") {
		a.Logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		a.Logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return nil
}

func (a *App) storageFactory() *storage.Factory {
	return storage.NewFactory(&a.Config.Storage, a.Logger)
}

// reportStore connects to Redis when an address is given by flag or config.
// It returns nil when neither is set.
func (a *App) reportStore(ctx context.Context, addr string) (*redis.RedisReportStore, error) {
	if addr == "" && a.Config.Storage.Redis.Addr == "" && len(a.Config.Storage.Redis.ClusterAddrs) == 0 {
		return nil, nil
	}

	store, err := a.storageFactory().NewReportStore(addr)
	if err != nil {
		return nil, err
	}
	if err := store.Connect(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// writeDocument renders doc in format to path, or to the command's stdout
// when path is empty or "-".
func (a *App) writeDocument(ctx context.Context, cmd *cobra.Command, path, format string, doc interface{}) error {
	var w io.Writer = cmd.OutOrStdout()
	if path != "" && path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}

	options := export.DefaultExportOptions()
	options.Pretty = true
	return export.NewExportEngine(a.Logger).Export(ctx, export.ExportFormat(format), w, doc, options)
}

// applyPrivacyDefaults fills k, l and the PII list from the config file for
// flags the user did not set.
func (a *App) applyPrivacyDefaults(cmd *cobra.Command, k, l *int, pii *[]string) {
	if !cmd.Flags().Changed("k") {
		*k = a.Config.Privacy.TargetK
	}
	if !cmd.Flags().Changed("l") {
		*l = a.Config.Privacy.TargetL
	}
	if !cmd.Flags().Changed("pii") && len(a.Config.Privacy.PIIColumns) > 0 {
		*pii = a.Config.Privacy.PIIColumns
	}
}
