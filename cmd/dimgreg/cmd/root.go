package cmd

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/google/go-containerregistry/pkg/logs"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aweris/dimgreg"
)

var rootCmd = &cobra.Command{
	Use:           "dimgreg",
	Short:         "Inspect and clean dimg repositories in a Docker registry",
	Long:          "CLI for listing stage and named tags, inspecting images and flushing build stages in Docker Registry v2 repositories.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging()
	},
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		logrus.Error(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (default: ~/.config/dimgreg/config.yaml)")
	flags.String("cache-dir", "", "image config cache directory (default: ~/.local/share/dimgreg)")
	flags.Bool("no-cache", false, "do not cache image configs on disk")
	flags.Int("concurrency", dimgreg.DefaultConcurrency, "parallel registry requests for batch operations")
	flags.String("stage-prefix", dimgreg.DefaultStagePrefix, "tag prefix marking build stages")
	flags.Bool("insecure", false, "allow plain HTTP registries")
	flags.String("username", "", "registry username (default: docker credential store)")
	flags.String("password", "", "registry password")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")

	viper.BindPFlag("cache_dir", flags.Lookup("cache-dir"))
	viper.BindPFlag("no_cache", flags.Lookup("no-cache"))
	viper.BindPFlag("concurrency", flags.Lookup("concurrency"))
	viper.BindPFlag("stage_prefix", flags.Lookup("stage-prefix"))
	viper.BindPFlag("insecure", flags.Lookup("insecure"))
	viper.BindPFlag("username", flags.Lookup("username"))
	viper.BindPFlag("password", flags.Lookup("password"))
	viper.BindPFlag("log_level", flags.Lookup("log-level"))
}

func initConfig() {
	if cfg := rootCmd.PersistentFlags().Lookup("config").Value.String(); cfg != "" {
		viper.SetConfigFile(cfg)
	} else {
		viper.AddConfigPath(configDir())
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("DIMGREG")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			logrus.WithError(err).Warn("read config")
		}
	}
}

func setupLogging() error {
	level, err := logrus.ParseLevel(viper.GetString("log_level"))
	if err != nil {
		return err
	}
	logrus.SetLevel(level)
	logrus.SetOutput(os.Stderr)

	// Route go-containerregistry's loggers through logrus once per process.
	ggcrLogsOnce.Do(func() {
		logs.Warn.SetOutput(logrus.StandardLogger().WriterLevel(logrus.WarnLevel))
		if level >= logrus.DebugLevel {
			logs.Debug.SetOutput(logrus.StandardLogger().WriterLevel(logrus.DebugLevel))
		}
	})
	return nil
}

var ggcrLogsOnce sync.Once

func configDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "dimgreg")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "dimgreg")
	}
	return ".dimgreg"
}

// openView builds a View from the bound flags, environment and config file.
func openView(ref string) (*dimgreg.View, error) {
	opts := []dimgreg.Option{
		dimgreg.WithConcurrency(viper.GetInt("concurrency")),
		dimgreg.WithStagePrefix(viper.GetString("stage_prefix")),
		dimgreg.WithLogger(logrus.StandardLogger()),
	}

	switch {
	case viper.GetBool("no_cache"):
		opts = append(opts, dimgreg.WithoutCache())
	case viper.GetString("cache_dir") != "":
		opts = append(opts, dimgreg.WithCacheDir(viper.GetString("cache_dir")))
	}

	if viper.GetBool("insecure") {
		opts = append(opts, dimgreg.WithInsecure())
	}
	if user := viper.GetString("username"); user != "" {
		opts = append(opts, dimgreg.WithAuth(dimgreg.StaticAuthenticator{
			Username: user,
			Password: viper.GetString("password"),
		}))
	}

	return dimgreg.Open(ref, opts...)
}

// withView opens ref, runs fn and closes the view, keeping the first error.
func withView(ref string, fn func(*dimgreg.View) error) (err error) {
	view, err := openView(ref)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := view.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(view)
}
