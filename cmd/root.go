package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tslateman/lore-sub001/internal/logging"
)

// homeDirName is the per-project data directory looked up from the cwd.
const homeDirName = ".lore"

var (
	homeFlag  string
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:           "lore",
	Short:         "Local memory graph and ranked retrieval for agent records",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logging.Init(firstNonEmpty(logLevel, os.Getenv("LORE_LOG_LEVEL"), "warn"),
			firstNonEmpty(logFormat, os.Getenv("LORE_LOG_FORMAT"), "console"))
	},
}

func Execute() {
	err := rootCmd.Execute()
	logging.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, styles.Error.Render("error:"), err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&homeFlag, "home", "", "Path to the .lore home directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: console or json")
}

// DiscoverHome finds the home directory using priority: env > flag > walk-up > XDG fallback
func DiscoverHome() (string, error) {
	// 1. Environment variable
	if env := os.Getenv("LORE_HOME"); env != "" {
		if isDir(env) {
			return filepath.Abs(env)
		}
	}

	// 2. CLI flag
	if homeFlag != "" {
		if isDir(homeFlag) {
			return filepath.Abs(homeFlag)
		}
		return "", fmt.Errorf("home not found at --home path: %s (run lore init)", homeFlag)
	}

	// 3. Walk up from CWD
	if dir, err := os.Getwd(); err == nil {
		for {
			candidate := filepath.Join(dir, homeDirName)
			if isDir(candidate) {
				return candidate, nil
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}

	// 4. XDG fallback
	if xdg, ok := xdgHome(); ok && isDir(xdg) {
		return xdg, nil
	}

	return "", fmt.Errorf("no %s home found (set LORE_HOME, use --home, or run lore init)", homeDirName)
}

// initTarget is where `lore init` creates a home: the flag, then the
// environment, then ./.lore.
func initTarget() (string, error) {
	if homeFlag != "" {
		return filepath.Abs(homeFlag)
	}
	if env := os.Getenv("LORE_HOME"); env != "" {
		return filepath.Abs(env)
	}
	return filepath.Abs(homeDirName)
}

func xdgHome() (string, bool) {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "lore"), true
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", false
	}
	return filepath.Join(home, ".local", "share", "lore"), true
}

func isDir(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
