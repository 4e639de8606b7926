// Package call implements the client commands of the dwire CLI: send, ping and perf.
// Each command opens one wire in its PersistentPreRunE, from flags or DWIRE_*
// environment variables, and closes it afterwards.
package call
