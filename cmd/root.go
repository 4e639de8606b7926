package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/dWire/cmd/call"
	"github.com/ValentinKolb/dWire/cmd/serve"
	"github.com/ValentinKolb/dWire/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.4.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "dwire",
		Short: "multiplexed wire protocol client",
		Long: fmt.Sprintf(`dWire (v%s)

A client library and tool for the dWire protocol: many concurrent requests
multiplexed over a small set of correlation slots on one connection.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dWire",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dWire v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(call.SendCmd)
	RootCmd.AddCommand(call.PingCmd)
	RootCmd.AddCommand(call.PerfCmd)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "transport"
	RootCmd.PersistentFlags().String(key, "tcp", util.WrapString("transport to use (tcp, unix, ws)"))
	key = "log-level"
	RootCmd.PersistentFlags().String(key, "warn", util.WrapString("level at which logs will be output (debug, info, warn, error)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
