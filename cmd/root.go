package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/andresmejia3/facecam/internal/config"
	"github.com/andresmejia3/facecam/internal/logging"
	"github.com/andresmejia3/facecam/internal/store"
)

var (
	// DB is the shared database connection, nil when no database is configured.
	DB *store.Store
	// cfg is the resolved configuration of the running command.
	cfg *config.Config
	// logger is the structured logger shared by subcommands.
	logger = zap.NewNop()

	flags overrides
)

// overrides holds flag values that replace the environment configuration when set.
type overrides struct {
	DBURL         string
	LogLevel      string
	Backend       string
	ModelsDir     string
	Roster        string
	Threshold     float64
	MinConfidence float64
	Strategy      string
	Device        string
	Capture       string
	Interval      time.Duration
}

// Version is the application version.
const Version = "0.1.0"

var errNoDatabase = errors.New("no database configured: set --db, DATABASE_URL or POSTGRES_HOST")

var rootCmd = &cobra.Command{
	Use:     "facecam",
	Short:   "Live face recognition over a webcam feed",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.Load()
		flags.apply(cmd, cfg)
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		l, err := logging.New(cfg.Log.Level, cfg.Log.Development)
		if err != nil {
			return err
		}
		logger = l

		if cfg.Database.URL == "" {
			return nil
		}
		// Use the command's context (which will be cancellable) for the connection
		DB, err = store.New(cmd.Context(), cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			DB.Close()
		}
		logger.Sync()
	},
}

// apply copies every flag the user set onto c.
func (o *overrides) apply(cmd *cobra.Command, c *config.Config) {
	changed := func(name string) bool {
		f := cmd.Flag(name)
		return f != nil && f.Changed
	}
	if changed("db") {
		c.Database.URL = o.DBURL
	}
	if changed("log-level") {
		c.Log.Level = o.LogLevel
	}
	if changed("backend") {
		c.Models.Backend = o.Backend
	}
	if changed("models") {
		c.Models.Dir = o.ModelsDir
	}
	if changed("roster") {
		c.Enroll.Manifest = o.Roster
	}
	if changed("threshold") {
		c.Match.Threshold = o.Threshold
	}
	if changed("min-confidence") {
		c.Match.MinConfidence = o.MinConfidence
	}
	if changed("strategy") {
		c.Match.Strategy = o.Strategy
	}
	if changed("device") {
		c.Capture.Device = o.Device
	}
	if changed("capture") {
		c.Capture.Driver = o.Capture
	}
	if changed("interval") {
		c.Loop.Interval = o.Interval
	}
}

// requireDB fails commands that only make sense with persistence.
func requireDB() error {
	if DB == nil {
		return errNoDatabase
	}
	return nil
}

// addMatchFlags registers the flags shared by the commands that detect and match faces.
func addMatchFlags(c *cobra.Command) {
	c.Flags().StringVar(&flags.Roster, "roster", "", "YAML roster listing the reference images of each identity")
	c.Flags().Float64VarP(&flags.Threshold, "threshold", "t", 0.6, "Face matching threshold (lower is stricter)")
	c.Flags().Float64VarP(&flags.MinConfidence, "min-confidence", "D", 0.5, "Face detection confidence threshold")
	c.Flags().StringVar(&flags.Strategy, "strategy", config.StrategyMean, "Matching strategy: mean, nearest")
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(func() {
		// A missing .env file is fine, the environment may already be set.
		_ = godotenv.Load()
	})

	rootCmd.PersistentFlags().StringVar(&flags.DBURL, "db", "", "PostgreSQL connection string (default: DATABASE_URL or POSTGRES_* variables)")
	rootCmd.PersistentFlags().StringVar(&flags.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&flags.Backend, "backend", config.BackendDlib, "Inference backend: dlib, compreface, worker")
	rootCmd.PersistentFlags().StringVar(&flags.ModelsDir, "models", "./models", "Directory holding the dlib model files")
}
