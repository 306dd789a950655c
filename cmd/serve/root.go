package serve

import (
	"fmt"
	cmdUtil "github.com/ValentinKolb/dTCP/cmd/util"
	"github.com/ValentinKolb/dTCP/rpc/common"
	"github.com/ValentinKolb/dTCP/rpc/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"math"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start a dTCP echo server",
		Long:    `Start a dTCP server answering every message with the echo dispatcher. The configuration can be set via command line flags or environment variables. The format of the environment variables is DTCP_<flag> (e.g. DTCP_WORKERS=8)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(cmdUtil.InitConfig)

	// add flags
	key := "ip"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0", cmdUtil.WrapString("The address on which the server will listen"))

	key = "port"
	ServeCmd.PersistentFlags().Int(key, 6030, cmdUtil.WrapString("The TCP port on which the server will listen (0 picks a free port)"))

	key = "label"
	ServeCmd.PersistentFlags().String(key, "server", cmdUtil.WrapString("Label prefixing every log line and metric of the server"))

	key = "workers"
	ServeCmd.PersistentFlags().Int(key, 4, cmdUtil.WrapString("Number of I/O workers, each running on its own OS thread"))

	key = "metrics-endpoint"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Address of the HTTP endpoint exposing /metrics and /stats (e.g. localhost:9100), empty disables it"))

	cmdUtil.SetupTransportFlags(ServeCmd)
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	port := viper.GetInt("port")
	if port < 0 || port > math.MaxUint16 {
		return fmt.Errorf("invalid port %d", port)
	}

	workers := viper.GetInt("workers")
	if workers <= 0 {
		return fmt.Errorf("invalid number of workers %d (expected at least 1)", workers)
	}

	// read the configuration from the command line flags and environment variables
	serveCmdConfig.IP = viper.GetString("ip")
	serveCmdConfig.Port = uint16(port)
	serveCmdConfig.Label = viper.GetString("label")
	serveCmdConfig.Workers = workers
	serveCmdConfig.Transport = cmdUtil.GetTransportConfig()
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	if _, err := common.ParseLogLevel(serveCmdConfig.LogLevel); err != nil {
		return err
	}
	return nil
}

// run starts the dTCP server
func run(_ *cobra.Command, _ []string) error {
	return server.Serve(*serveCmdConfig, viper.GetString("metrics-endpoint"))
}
