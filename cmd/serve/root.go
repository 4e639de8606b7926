package serve

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"

	cmdUtil "github.com/ValentinKolb/dWire/cmd/util"
	"github.com/ValentinKolb/dWire/rpc/common"
	"github.com/ValentinKolb/dWire/rpc/server"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start a dWire development server",
		Long:    `Start a development server speaking the dWire stream protocol with the built-in services (echo, ping, fail, abort, statement, resultset, sleep). The configuration can be set via command line flags or environment variables. The format of the environment variables is DWIRE_<flag> (e.g. DWIRE_TIMEOUT=15)`,
		Args:    cobra.NoArgs,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(cmdUtil.InitConfig)

	// add flags
	key := "timeout"
	ServeCmd.PersistentFlags().Int64(key, 5, cmdUtil.WrapString("Write timeout in seconds, also bounds the sleep service"))

	key = "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:8080", cmdUtil.WrapString("The address on which the server will listen (e.g. 0.0.0.0:8080, /tmp/dwire.sock, ...)"))

	key = "workers-per-conn"
	ServeCmd.PersistentFlags().Int(key, 100, cmdUtil.WrapString("Maximum number of requests handled concurrently per connection"))

	key = "write-buffer"
	ServeCmd.PersistentFlags().Int(key, 512, cmdUtil.WrapString("The size of the socket write buffer (in KB, ignored for ws)"))

	key = "read-buffer"
	ServeCmd.PersistentFlags().Int(key, 512, cmdUtil.WrapString("The size of the socket read buffer (in KB, ignored for ws)"))

	key = "tcp-nodelay"
	ServeCmd.PersistentFlags().Bool(key, true, cmdUtil.WrapString("Whether to enable TCP_NODELAY (only for tcp)"))

	key = "tcp-keepalive"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("The keepalive interval (in seconds, only for tcp)"))

	key = "tcp-linger"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("The linger time (in seconds, only for tcp)"))

	key = "metrics-endpoint"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Optional address serving the request counters on /metrics (e.g. localhost:9090)"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.LogLevel = viper.GetString("log-level")
	serveCmdConfig.Transport = common.ServerTransportConfig{
		Endpoint:          viper.GetString("endpoint"),
		MaxWorkersPerConn: viper.GetInt("workers-per-conn"),
		SocketConf: common.SocketConf{
			WriteBufferSize: viper.GetInt("write-buffer") * 1024,
			ReadBufferSize:  viper.GetInt("read-buffer") * 1024,
		},
		TCPConf: common.TCPConf{
			TCPNoDelay:      viper.GetBool("tcp-nodelay"),
			TCPKeepAliveSec: viper.GetInt("tcp-keepalive"),
			TCPLingerSec:    viper.GetInt("tcp-linger"),
		},
	}

	if serveCmdConfig.Transport.Endpoint == "" {
		return errors.New("endpoint is required")
	}
	if serveCmdConfig.Transport.MaxWorkersPerConn < 1 {
		return errors.Newf("workers-per-conn must be at least 1, got %d", serveCmdConfig.Transport.MaxWorkersPerConn)
	}
	return nil
}

// run starts the development server
func run(_ *cobra.Command, _ []string) error {
	common.InitLoggers(serveCmdConfig.LogLevel)

	t, err := cmdUtil.GetServerTransport()
	if err != nil {
		return err
	}

	serv := server.NewRPCServer(*serveCmdConfig, t)

	if addr := viper.GetString("metrics-endpoint"); addr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
			serv.WriteMetrics(w)
		})
		go func() {
			server.Logger.Infof("Serving metrics on %s/metrics", addr)
			if err := http.ListenAndServe(addr, mux); err != nil {
				server.Logger.Errorf("Metrics endpoint stopped: %v", err)
			}
		}()
	}

	// stop the server on SIGINT / SIGTERM
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sig
		server.Logger.Infof("Received %s, shutting down", s)
		_ = serv.Close()
	}()

	return serv.Serve()
}
