package main

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "engramd",
	Short: "Memory-augmented conversation server",
	Long:  "engramd serves streaming chat turns augmented with vector-recalled conversation memory.",
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "path to YAML config file")
}
