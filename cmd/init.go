package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tslateman/lore-sub001/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a .lore home with the default configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := initTarget()
		if err != nil {
			return err
		}
		created, err := initHome(target)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if !created {
			fmt.Fprintf(out, "%s already initialized\n", target)
			return nil
		}
		fmt.Fprintf(out, "%s Initialized lore home at %s\n", styles.Success.Render("✓"), target)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}

// initHome creates home, its sources directory and a default config.yaml.
// An existing config is left untouched and created is false.
func initHome(home string) (created bool, err error) {
	cfg := config.Default(home)
	if err := os.MkdirAll(cfg.Resolve(cfg.SourcesDir), 0o755); err != nil {
		return false, fmt.Errorf("creating %s: %w", home, err)
	}
	_, err = os.Stat(filepath.Join(home, config.FileName))
	switch {
	case err == nil:
		return false, nil
	case !errors.Is(err, os.ErrNotExist):
		return false, err
	}
	if err := cfg.Write(); err != nil {
		return false, fmt.Errorf("writing config: %w", err)
	}
	return true, nil
}
