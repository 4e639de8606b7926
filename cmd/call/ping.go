package call

import (
	"fmt"
	"time"

	"github.com/ValentinKolb/dWire/cmd/util"
	"github.com/ValentinKolb/dWire/rpc/client"
	"github.com/ValentinKolb/dWire/rpc/serializer"
	"github.com/ValentinKolb/dWire/rpc/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// PingCmd measures the round trip time to the server
	PingCmd = &cobra.Command{
		Use:   "ping",
		Short: "Measure the round trip time to the server",
		Args:  cobra.NoArgs,
		RunE:  runPing,
	}
)

func init() {
	key := "count"
	PingCmd.Flags().Int(key, 5, util.WrapString("Number of pings to send"))
	key = "interval"
	PingCmd.Flags().Duration(key, 200*time.Millisecond, util.WrapString("Wait between two pings"))
}

func runPing(_ *cobra.Command, _ []string) error {
	c := client.NewServiceClient(session, server.ServicePing, serializer.NewRawCodec(), serializer.NewStringCodec()).
		WithTimeout(config.Timeout())

	count := viper.GetInt("count")
	interval := viper.GetDuration("interval")

	fmt.Printf("PING %s (session %d)\n", config.Transport.Endpoint, session.SessionID())
	failed := 0
	for i := 0; i < count; i++ {
		start := time.Now()
		if _, err := c.Call(nil); err != nil {
			failed++
			fmt.Printf("seq=%d error: %v\n", i, err)
		} else {
			fmt.Printf("seq=%d time=%s\n", i, time.Since(start))
		}
		if i < count-1 {
			time.Sleep(interval)
		}
	}

	fmt.Printf("\n%d sent, %d failed\n%s\n", count, failed, session.Stats())
	return nil
}
