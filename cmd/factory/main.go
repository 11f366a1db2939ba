package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/CZERTAINLY/Factory/internal/log"
	"github.com/CZERTAINLY/Factory/internal/model"
	"github.com/CZERTAINLY/Factory/internal/service"
)

const configName = "factory.yaml"

var (
	userConfigPath string // /default/config/path/factory on given OS
	configPath     string // actual config file used (if loaded)
	config         model.Config

	flagConfigFilePath string // value of --config flag
	overrides          = viper.New()
)

func init() {
	d, err := os.UserConfigDir()
	if err != nil {
		d = "."
	}
	userConfigPath = filepath.Join(d, "factory")
}

func main() {
	// root flags
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagConfigFilePath, "config", "", "Config file to load - default is "+configName+" in current directory or in "+userConfigPath)
	flags.Bool("verbose", false, "verbose logging")
	flags.String("store-dir", "", "directory with the job file")

	// run flags
	runFlags := runCmd.Flags()
	runFlags.String("tick", "", "production tick, e.g. 100ms")
	runFlags.Float64("failure-rate", 0, "failure probability per tick, 0..1")
	runFlags.String("nats-url", "", "publish machine events to this NATS server")

	for key, flag := range map[string]string{
		"verbose":      "verbose",
		"store_dir":    "store-dir",
		"tick":         "tick",
		"failure_rate": "failure-rate",
		"nats_url":     "nats-url",
	} {
		f := flags.Lookup(flag)
		if f == nil {
			f = runFlags.Lookup(flag)
		}
		if err := overrides.BindPFlag(key, f); err != nil {
			panic(err)
		}
	}
	overrides.SetEnvPrefix("FACTORY")
	overrides.AutomaticEnv()

	// never print messages
	rootCmd.SilenceErrors = true

	// parse or create a config, setup logging
	rootCmd.PersistentPreRunE = initFactory

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(versionCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		slog.Error("factory failed", "error", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "factory",
	Short:        "Virtual factory machine simulator",
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run starts the machine and reads operator commands from stdin",
	RunE:  doRun,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provide version of a factory",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("factory: version info not available")
			return
		}

		if configPath != "" {
			fmt.Printf("config:  %s\n", configPath)
		}
		fmt.Printf("factory: %s\n", info.Main.Version)
		fmt.Printf("go:      %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit:  %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:    %s\n", s.Value)
			case "vcs.modified":
				fmt.Printf("dirty:   %s\n", s.Value)
			}
		}
		fmt.Println()
	},
}

func doRun(cmd *cobra.Command, args []string) error {
	attrs := slog.Group("factory",
		slog.String("cmd", "run"),
		slog.Int("pid", os.Getpid()),
	)
	ctx := log.ContextAttrs(cmd.Context(), attrs)

	supervisor, err := service.NewSupervisor(ctx, config)
	if err != nil {
		return err
	}
	console := service.NewConsole(supervisor.Machine(), cmd.InOrStdin(), cmd.OutOrStdout())

	// exit on the console ends the supervisor too
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return console.Do(ctx)
	})
	g.Go(func() error {
		return supervisor.Do(ctx)
	})
	return g.Wait()
}

func initFactory(cmd *cobra.Command, _ []string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}

	if envConfig, ok := os.LookupEnv("FACTORYCONFIG"); ok {
		configPath = envConfig
	} else if flagConfigFilePath != "" {
		configPath = flagConfigFilePath
	} else {
		for _, d := range []string{userConfigPath, "."} {
			path := filepath.Join(d, configName)
			if exists(path) {
				configPath = path
				break
			}
		}
	}

	// store default configuration
	if configPath == "" {
		config = model.DefaultConfig(cmd.Context())
		configPath = filepath.Join(userConfigPath, configName)
		err := os.MkdirAll(filepath.Dir(configPath), 0755)
		if err != nil {
			return fmt.Errorf("creating directory %s: %w", filepath.Dir(configPath), err)
		}

		f, err := os.Create(configPath)
		if err != nil {
			return fmt.Errorf("creating file %s: %w", configPath, err)
		}
		defer func() {
			_ = f.Close()
		}()
		enc := yaml.NewEncoder(f)
		err = enc.Encode(config)
		if err != nil {
			return fmt.Errorf("storing configuration: %w", err)
		}
	} else {
		f, err := os.Open(configPath)
		if err != nil {
			return fmt.Errorf("opening config file: %w", err)
		}
		defer func() {
			_ = f.Close()
		}()
		config, err = model.LoadConfig(f)
		if err != nil {
			for _, d := range model.CueErrDetails(err) {
				slog.Error("invalid config", d.Attr("detail"))
			}
			return fmt.Errorf("parsing config: %w", err)
		}
	}

	// flags and FACTORY_* env variables have a precedence over config file
	config.Override(overrides)

	// initialize logging
	w, err := log.Writer(config.Service.Log)
	if err != nil {
		return err
	}
	slog.SetDefault(log.New(config.Service.Verbose, w))

	slog.Debug("factory run", "configPath", configPath)
	slog.Debug("factory run", "config", config)
	return nil
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
