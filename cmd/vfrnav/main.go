package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/common-nighthawk/go-figure"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/curbz/vfrnav/pkg/util"
)

const defaultConfigPath = "config.yaml"

var (
	cfgPath  string
	logLevel string
)

type logConfig struct {
	Log struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"log"`
}

var rootCmd = &cobra.Command{
	Use:   "vfrnav",
	Short: "VFR nav-log planner and X-Plane EFB companion",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging()
	},
	SilenceUsage: true,
}

func init() {
	// .env may supply VFRNAV_CONFIG and VFRNAV_LOG_LEVEL
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "error loading .env file: %v\n", err)
		}
	}

	defCfg := os.Getenv("VFRNAV_CONFIG")
	if defCfg == "" {
		defCfg = defaultConfigPath
	}

	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", defCfg, "configuration file (or set VFRNAV_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", os.Getenv("VFRNAV_LOG_LEVEL"), "debug, info, warn or error (overrides the config file)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(navlogCmd)
}

// setupLogging applies the log section of the configuration. A missing
// configuration file leaves logrus on stderr at info level.
func setupLogging() error {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	level, file := "info", ""
	if cfg, err := util.LoadConfig[logConfig](cfgPath); err == nil {
		if cfg.Log.Level != "" {
			level = cfg.Log.Level
		}
		file = cfg.Log.File
	}
	if logLevel != "" {
		level = logLevel
	}

	lvl, err := log.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	log.SetLevel(lvl)

	if file != "" {
		w := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    32, // MB
			MaxBackups: 3,
			MaxAge:     14,
		}
		log.SetOutput(io.MultiWriter(os.Stderr, w))
	}
	return nil
}

func banner() {
	for _, line := range figure.NewFigure("VFR NAV", "", false).Slicify() {
		log.Info(line)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
