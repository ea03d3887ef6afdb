package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/satrio/kurir/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long: `Load the configuration and report every problem found, without
starting anything.`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	errs := config.NewValidator().ValidateConfig(cfg)
	if len(errs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid")
		if enabled := cfg.EnabledChannels(); len(enabled) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "Warning: no channels are enabled")
		}
		return nil
	}

	for _, e := range errs {
		fmt.Fprintf(cmd.ErrOrStderr(), "config: %v\n", e)
	}
	return fmt.Errorf("configuration has %d problem(s)", len(errs))
}
