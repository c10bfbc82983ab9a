// Command bba 在因子图上执行摄影测量光束法区域网平差及相关的单片解算。
package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/hhyanyan/bbagraph/internal/config"
)

var (
	configPath string
	logLevel   string

	cfg = config.Default()
	log = logrus.New()

	rootCmd = &cobra.Command{
		Use:               "bba",
		Short:             "Bundle block adjustment on nonlinear factor graphs",
		SilenceUsage:      true,
		PersistentPreRunE: setup,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level, overrides the configuration")
	rootCmd.AddCommand(solveCmd, generateCmd, resectCmd, intersectCmd, relativeCmd, absoluteCmd, sfmCmd)
}

func setup(cmd *cobra.Command, _ []string) error {
	c, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		c.Log.Level = logLevel
	}
	l, err := c.Log.Logger()
	if err != nil {
		return err
	}
	l.SetOutput(cmd.ErrOrStderr())
	cfg, log = c, l
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
