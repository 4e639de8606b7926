// Package cmd implements the command-line interface of dWire. It provides commands
// for running a development server and for talking to a server as a client.
//
// The package is organized into several subpackages:
//
//   - call: Client commands (send, ping, perf) sharing one wire per invocation
//   - serve: Command for starting and configuring the development server
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See dwire -help for a list of all commands.
package cmd
