package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/golang/glog"
	"github.com/spf13/cobra"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "presenter",
	Short: "AI avatar presentation server",
	Long: `presenter drives the avatar presentation workflow: it uploads the slide
deck, face video and voice sample to the AI backend, generates the
presentation, and captures spoken audience questions and the presenter
camera for the live view.`,
	SilenceUsage: true,
}

func init() {
	_ = flag.Set("logtostderr", "true")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default ./presenter.yaml if present)")
	rootCmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)
	rootCmd.AddCommand(serveCmd, probeCmd)
}

func main() {
	defer glog.Flush()
	// glog only checks that the Go flag set is parsed; cobra fills in the values.
	_ = flag.CommandLine.Parse(nil)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		glog.Flush()
		os.Exit(1)
	}
}
