package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/oshokin/beta-publisher/internal/config"
)

var errConfigExists = errors.New("configuration file already exists")

// newInitCommand writes a settings file with every default filled in.
func newInitCommand() *cobra.Command {
	var (
		path  string
		force bool
	)

	command := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with default values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s: %w", path, errConfigExists)
			}

			settings := &config.Config{
				APIKey:      "${FABRIC_API_KEY}",
				BuildSecret: "${FABRIC_BUILD_SECRET}",
				ApkPath:     "app/build/outputs/apk/release/*.apk",
			}
			settings.UseAntStyleInclude = true
			settings.ApplyDefaults()

			if err := config.Save(path, settings); err != nil {
				return err
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Written", path)

			return nil
		},
	}

	command.Flags().StringVarP(&path, "config", "c", config.DefaultConfigFilename, "path of the configuration file to write")
	command.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	return command
}
