package call

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ValentinKolb/dWire/cmd/util"
	"github.com/ValentinKolb/dWire/rpc/client"
	"github.com/ValentinKolb/dWire/rpc/common"
	"github.com/ValentinKolb/dWire/rpc/serializer"
	"github.com/ValentinKolb/dWire/rpc/wire"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// SendCmd sends one request and prints the responses
	SendCmd = &cobra.Command{
		Use:   "send [service-id] [payload]",
		Short: "Send a request to a service and print the response",
		Long: `Send a request to a service and print the response. With --second the request
waits for a secondary response (body head) after the main response; with --result-set
the main response is taken as the name of a result set that is read to the end.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: runSend,
	}
)

func init() {
	key := "second"
	SendCmd.Flags().Bool(key, false, util.WrapString("Wait for a secondary response after the main response"))
	key = "result-set"
	SendCmd.Flags().Bool(key, false, util.WrapString("Read the result set named by the main response"))
}

func runSend(cmd *cobra.Command, args []string) error {
	serviceID, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return fmt.Errorf("service-id must be a number: %w", err)
	}
	payload := ""
	if len(args) > 1 {
		payload = args[1]
	}

	c := client.NewServiceClient(session, uint32(serviceID), serializer.NewStringCodec(), serializer.NewStringCodec()).
		WithTimeout(config.Timeout())

	var opts []wire.SendOption
	if viper.GetBool("second") {
		opts = append(opts, wire.WithSecondResponse())
	}

	start := time.Now()
	f, err := c.Send(payload, opts...)
	if err != nil {
		return err
	}

	resp, err := f.Get()
	if se, ok := common.IsServerError(err); ok {
		fmt.Printf("server error %d: %s\n", se.Code, se.Message)
		return nil
	} else if err != nil {
		return err
	}
	fmt.Printf("%s\t(%s)\n", resp, time.Since(start))

	if viper.GetBool("second") {
		head, err := f.Second(config.Timeout())
		if err != nil {
			return err
		}
		fmt.Printf("body head: %s\n", head)
	}

	if viper.GetBool("result-set") {
		n, err := client.ReadResultSet(context.Background(), session, resp, serializer.NewStringCodec(), func(row string) error {
			fmt.Println(row)
			return nil
		})
		if err != nil {
			return err
		}
		fmt.Printf("(%d rows)\n", n)
	}
	return nil
}
