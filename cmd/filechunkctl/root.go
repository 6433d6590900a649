package main

import (
	"github.com/spf13/cobra"
)

var (
	cfgFile        string
	storeDirFlag   string
	outputTypeFlag string
	quotaMBFlag    int64
)

var rootCmd = &cobra.Command{
	Use:   "filechunkctl",
	Short: "Drive and inspect FileChunk Pro uploads from the command line",
	Long: `filechunkctl wires the platform adapter, hash pool, persistent store,
compression, CDN connector and upload engine together through the kernel
and exposes upload, status, cdn and store operations on top of them.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to filechunk.yaml (defaults layered under this, flags win)")
	rootCmd.PersistentFlags().StringVar(&storeDirFlag, "store-dir", "./.filechunk-store", "directory for the embedded persistent store")
	rootCmd.PersistentFlags().StringVar(&outputTypeFlag, "output", "text", "output format: text|json")
	rootCmd.PersistentFlags().Int64Var(&quotaMBFlag, "quota-mb", 512, "persistent store quota in MiB")

	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cdnCmd)
	rootCmd.AddCommand(storeCmd)
}

// Execute runs the root command; main's only job is to report its error.
func Execute() error {
	return rootCmd.Execute()
}
