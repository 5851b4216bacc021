// Package cmd implements mp4tool's CLI commands.
package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	cfgFile         string
	cacheFlag       string
	logFlag         string
	reservedMoovOpt = byteSize(0)
)

var rootCmd = &cobra.Command{
	Use:     "mp4tool",
	Short:   "Probe and remux ISO BMFF (MP4) files",
	Version: "0.1.0",
}

// Execute runs the selected subcommand.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("mp4tool: %w", err)
	}
	return nil
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "path to a mp4tool.yaml defaults file")
	flags.StringVar(&cacheFlag, "cache-db", "", "path to a sample-table cache database (disabled if empty)")
	flags.StringVar(&logFlag, "log-db", "", "path to a sqlite log database (stdout only if empty)")
	flags.Var(&reservedMoovOpt, "reserved-moov-size",
		"override the config file's faststart reservation, e.g. 8Ki, 1Mi (0 keeps the config default)")

	rootCmd.AddCommand(probeCmd, remuxCmd)
}

// byteSize is a pflag.Value accepting an optional Ki/Mi/Gi suffix (binary
// multiples), so --reserved-moov-size can be given in human units instead
// of a raw byte count.
type byteSize uint64

var _ pflag.Value = (*byteSize)(nil)

func (b *byteSize) String() string {
	return strconv.FormatUint(uint64(*b), 10)
}

func (b *byteSize) Type() string {
	return "byteSize"
}

func (b *byteSize) Set(s string) error {
	mult := uint64(1)
	switch {
	case strings.HasSuffix(s, "Ki"):
		mult, s = 1<<10, strings.TrimSuffix(s, "Ki")
	case strings.HasSuffix(s, "Mi"):
		mult, s = 1<<20, strings.TrimSuffix(s, "Mi")
	case strings.HasSuffix(s, "Gi"):
		mult, s = 1<<30, strings.TrimSuffix(s, "Gi")
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid byte size %q: %w", s, err)
	}
	*b = byteSize(n * mult)
	return nil
}
