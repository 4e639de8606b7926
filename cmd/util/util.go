package util

import (
	"fmt"
	"strings"

	"github.com/ValentinKolb/dWire/rpc/common"
	"github.com/ValentinKolb/dWire/rpc/transport"
	"github.com/ValentinKolb/dWire/rpc/transport/tcp"
	"github.com/ValentinKolb/dWire/rpc/transport/unix"
	"github.com/ValentinKolb/dWire/rpc/transport/ws"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50

	// EnvPrefix is the prefix of all environment variables read by the CLI
	EnvPrefix = "dwire"
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	// Add any remaining text
	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupRPCClientFlags adds common wire connection flags to a command
func SetupRPCClientFlags(cmd *cobra.Command) {
	key := "timeout"
	cmd.PersistentFlags().Int(key, 10, WrapString("The time in seconds to wait for a response, 0 waits forever"))

	key = "close-timeout"
	cmd.PersistentFlags().Int(key, 5, WrapString("How long closing the wire waits for outstanding requests (in seconds)"))

	key = "slot-capacity"
	cmd.PersistentFlags().Int(key, common.DefaultSlotCapacity, WrapString("Number of correlation slots, i.e. how many requests may be in flight at once"))

	key = "slot-policy"
	cmd.PersistentFlags().String(key, string(common.SlotPolicyQueue), WrapString("What happens when every slot is taken (queue, fail-fast)"))

	key = "transport-endpoint"
	cmd.PersistentFlags().String(key, "localhost:8080", WrapString("The address of the server (e.g. localhost:8080, /tmp/dwire.sock, ws://localhost:8080/dwire)"))

	key = "transport-retries"
	cmd.PersistentFlags().Int(key, 3, WrapString("How many times to try connecting to the server"))

	key = "transport-label"
	cmd.PersistentFlags().String(key, "", WrapString("Label sent with the handshake, shown in the server logs"))

	key = "transport-write-buffer"
	cmd.PersistentFlags().Int(key, 512, WrapString("The size of the write buffer for the transport (in KB, ignored for ws)"))

	key = "transport-read-buffer"
	cmd.PersistentFlags().Int(key, 512, WrapString("The size of the read buffer for the transport (in KB, ignored for ws)"))

	key = "transport-tcp-nodelay"
	cmd.PersistentFlags().Bool(key, true, WrapString("Whether to enable TCP_NODELAY for the transport (only for tcp)"))

	key = "transport-tcp-keepalive"
	cmd.PersistentFlags().Int(key, 0, WrapString("The keepalive interval for the transport (in seconds, only for tcp)"))

	key = "transport-tcp-linger"
	cmd.PersistentFlags().Int(key, 0, WrapString("The linger time for the transport (in seconds, only for tcp)"))
}

// InitConfig loads the env files and initializes viper
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// InitLogging initializes the loggers with the configured level
func InitLogging() {
	common.InitLoggers(viper.GetString("log-level"))
}

// GetClientConfig reads client configuration from viper
func GetClientConfig() (*common.ClientConfig, error) {
	policy, err := common.ParseSlotPolicy(viper.GetString("slot-policy"))
	if err != nil {
		return nil, err
	}

	conf := &common.ClientConfig{
		TimeoutSecond:      viper.GetInt("timeout"),
		CloseTimeoutSecond: viper.GetInt("close-timeout"),
		Channel: common.ChannelConf{
			SlotCapacity: viper.GetInt("slot-capacity"),
			Policy:       policy,
		},
		Transport: common.ClientTransportConfig{
			Endpoint:   viper.GetString("transport-endpoint"),
			RetryCount: viper.GetInt("transport-retries"),
			Label:      viper.GetString("transport-label"),
			SocketConf: common.SocketConf{
				WriteBufferSize: viper.GetInt("transport-write-buffer") * 1024,
				ReadBufferSize:  viper.GetInt("transport-read-buffer") * 1024,
			},
			TCPConf: common.TCPConf{
				TCPKeepAliveSec: viper.GetInt("transport-tcp-keepalive"),
				TCPLingerSec:    viper.GetInt("transport-tcp-linger"),
				TCPNoDelay:      viper.GetBool("transport-tcp-nodelay"),
			},
		},
	}

	return conf, nil
}

// GetConnector creates the client connector based on configuration
func GetConnector() (transport.IClientConnector, error) {
	switch viper.GetString("transport") {
	case "tcp":
		return tcp.NewTCPConnector(), nil
	case "unix":
		return unix.NewUnixConnector(), nil
	case "ws":
		return ws.NewWSConnector(), nil
	default:
		return nil, fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}
}

// GetServerTransport creates the server transport based on configuration
func GetServerTransport() (transport.IRPCServerTransport, error) {
	switch viper.GetString("transport") {
	case "tcp":
		return tcp.NewTCPServerTransport(), nil
	case "unix":
		return unix.NewUnixServerTransport(), nil
	case "ws":
		return ws.NewWSServerTransport(), nil
	default:
		return nil, fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}
