package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/nownext/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing nownext configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the default configuration",
	Long: `Dump the default configuration values in YAML format.

You can redirect this output to a file to create a configuration template:

  nownext config dump > config.yaml

Environment variables use the NOWNEXT_ prefix and underscores for nesting.
Example: guide.lookahead -> NOWNEXT_GUIDE_LOOKAHEAD`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return dumpDefaults(cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

// dumpDefaults writes the built-in defaults as YAML.
func dumpDefaults(w io.Writer) error {
	v := viper.New()
	config.SetDefaults(v)

	settings := humanize(v.AllSettings())
	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	fmt.Fprintln(w, "# nownext configuration file")
	fmt.Fprintln(w, "#")
	fmt.Fprintln(w, "# All values shown below are defaults.")
	fmt.Fprintln(w, "# Duration format: 150ms, 30s, 5m")
	fmt.Fprintln(w, "#")
	fmt.Fprintln(w, "# Environment variable overrides:")
	fmt.Fprintln(w, "#   NOWNEXT_XTREAM_URL, NOWNEXT_XTREAM_USERNAME, NOWNEXT_XTREAM_PASSWORD")
	fmt.Fprintln(w, "#   NOWNEXT_SERVER_PORT, NOWNEXT_LOGGING_LEVEL")
	fmt.Fprintln(w, "#   etc.")
	fmt.Fprintln(w)
	_, err = w.Write(data)
	return err
}

// humanize formats durations as strings so they read back through viper.
func humanize(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case map[string]any:
			out[k] = humanize(val)
		case time.Duration:
			out[k] = val.String()
		default:
			out[k] = val
		}
	}
	return out
}
