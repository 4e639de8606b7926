package call

import (
	"fmt"

	"github.com/ValentinKolb/dWire/cmd/util"
	"github.com/ValentinKolb/dWire/rpc/common"
	"github.com/ValentinKolb/dWire/rpc/wire"
	"github.com/spf13/cobra"
)

var (
	// session is the wire shared by the subcommands, opened in setupWire
	session *wire.Wire
	config  *common.ClientConfig
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	for _, cmd := range []*cobra.Command{SendCmd, PingCmd, PerfCmd} {
		util.SetupRPCClientFlags(cmd)
		cmd.PersistentPreRunE = setupWire
		cmd.PersistentPostRunE = closeWire
	}
}

// setupWire dials the server and opens the wire used by the command
func setupWire(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}
	util.InitLogging()

	var err error
	config, err = util.GetClientConfig()
	if err != nil {
		return err
	}

	connector, err := util.GetConnector()
	if err != nil {
		return err
	}

	session, err = wire.Dial(connector, *config)
	if err != nil {
		return fmt.Errorf("failed to open wire: %w", err)
	}
	return nil
}

// closeWire closes the wire after the command finished
func closeWire(_ *cobra.Command, _ []string) error {
	if session == nil {
		return nil
	}
	return session.Close()
}
