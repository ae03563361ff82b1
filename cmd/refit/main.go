//go:build linux

package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/ja7ad/refit/pkg/config"
	"github.com/ja7ad/refit/pkg/system/util"
)

var (
	configPath string
	verbose    bool
)

func main() {
	root := &cobra.Command{
		Use:   "refit",
		Short: "Per-core reliability budget governor",
		Long: `refit accumulates a per-core failure-in-time (FIT) and power budget from
cpufreq/cpuidle residency and derives, per core, the highest performance
state and the deepest idle state the remaining budget allows.

The caps are advisory: refit reads /sys/devices/system/cpu and never writes
to it.

* GitHub: https://github.com/ja7ad/refit

Examples:
  refit run -s 20 -i 500ms --cpus 0-3
  refit run --config /etc/refit.yaml --metrics-addr :9109 --csv out.csv
  refit table --variant case3 --location-factor 80`,
		SilenceUsage: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
				Level:      level,
				TimeFormat: "15:04:05.000",
			})))
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML or TOML config file")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging (tracing lines are logged at debug)")

	root.AddCommand(newRunCmd(), newTableCmd())

	if err := root.Execute(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

// loadConfig returns the file config, or the defaults without a file.
func loadConfig() (config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	slog.Debug("config loaded", "path", configPath)
	return cfg, nil
}

const _console = `refit - Per-core Reliability Budget Governor

* GitHub: https://github.com/ja7ad/refit

       Host: %s
       Kernel: %s
       CPUs: %s
       Mem: %s

Budget report as of %s:

`

func printConsole() {
	host, kernel, cpus, mem := util.SystemSummary()
	fmt.Printf(_console, host, kernel, cpus, mem, time.Now().Format("2006-01-02 15:04:05"))
}
