// Package cmd implements the CLI commands for segmentpipe.
package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/segmentpipe/segmentpipe/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var cfgFile string

// rootCmd is segmentpipe's single executable command: it takes one
// positional argument (the ingest source) and runs the full ingest,
// segment, upload, and HLS-serving pipeline until the source reaches EOF
// or the process is signalled.
var rootCmd = &cobra.Command{
	Use:     "segmentpipe <source>",
	Short:   "Live video ingest, segmentation, and HLS VOD serving pipeline",
	Version: version.Short(),
	Long: `segmentpipe ingests a live video source, normalizes it to MPEG-TS via
ffmpeg, splits it into fixed-interval segments, uploads each segment to
object storage, and serves an HLS VOD playlist over the segments it has
indexed.`,
	Args: cobra.ExactArgs(1),
	RunE: runRoot,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./segmentpipe.yaml)")

	rootCmd.Flags().String("prefix", "/", "object-store key prefix")
	rootCmd.Flags().Duration("roll-seconds", 15*time.Second, "segment roll interval")
	rootCmd.Flags().String("output-dir", "recordings", "local output directory for segments and the index database")
	rootCmd.Flags().String("bind", "127.0.0.1:3030", "HTTP bind address for the playlist/segment server")
	rootCmd.Flags().String("log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.Flags().String("log-format", "json", "log format (json, text)")

	mustBindPFlag("pipeline.prefix", rootCmd.Flags().Lookup("prefix"))
	mustBindPFlag("pipeline.roll_seconds", rootCmd.Flags().Lookup("roll-seconds"))
	mustBindPFlag("pipeline.output_dir", rootCmd.Flags().Lookup("output-dir"))
	mustBindPFlag("server.bind", rootCmd.Flags().Lookup("bind"))
	mustBindPFlag("logging.level", rootCmd.Flags().Lookup("log-level"))
	mustBindPFlag("logging.format", rootCmd.Flags().Lookup("log-format"))
}

// initConfig reads in a config file, if present, before Load applies
// viper's environment layer.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("segmentpipe")
	}

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("using config file:", viper.ConfigFileUsed())
	}
}

// mustBindPFlag binds a viper key to a cobra flag and panics if binding fails.
func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("failed to bind flag %q to key %q: %v", flag.Name, key, err))
	}
}
