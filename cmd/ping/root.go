package ping

import (
	"fmt"
	cmdUtil "github.com/ValentinKolb/dTCP/cmd/util"
	"github.com/ValentinKolb/dTCP/rpc/common"
	"github.com/ValentinKolb/dTCP/rpc/transport"
	"github.com/ValentinKolb/dTCP/rpc/transport/tcp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"net/netip"
	"time"
)

// MsgTypePing is the message type of ping requests. The echo dispatcher answers with MsgTypePing+1.
const MsgTypePing uint8 = 1

var (
	PingCmd = &cobra.Command{
		Use:   "ping",
		Short: "Measure round-trip times against a dTCP server",
		Long:  `Open one connection to a dTCP server, send framed messages one after another and print the round-trip time of every echo. The configuration can be set via command line flags or environment variables (DTCP_<flag>).`,
		RunE:  run,
	}
)

func init() {
	cobra.OnInitialize(cmdUtil.InitConfig)

	key := "endpoint"
	PingCmd.PersistentFlags().String(key, "127.0.0.1:6030", cmdUtil.WrapString("The ip:port of the dTCP server"))

	key = "local-ip"
	PingCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Local address outbound connections are bound to"))

	key = "count"
	PingCmd.PersistentFlags().Int(key, 5, cmdUtil.WrapString("Number of messages to send"))

	key = "size"
	PingCmd.PersistentFlags().Int(key, 64, cmdUtil.WrapString("Body size of every message in bytes"))

	key = "timeout"
	PingCmd.PersistentFlags().Int(key, 5, cmdUtil.WrapString("How long to wait for each echo (in seconds)"))

	cmdUtil.SetupTransportFlags(PingCmd)
}

// echoCollector forwards receipts of the client pool to a channel.
// Receipts nobody waits for (late echoes) are dropped.
type echoCollector struct {
	receipts chan transport.Receipt
}

func (c *echoCollector) OnReceive(r transport.Receipt) any {
	select {
	case c.receipts <- r:
	default:
	}
	if r.AppHandle == nil {
		return "ping"
	}
	return r.AppHandle
}

func run(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	endpoint, err := netip.ParseAddrPort(viper.GetString("endpoint"))
	if err != nil {
		return fmt.Errorf("invalid endpoint %q: %w", viper.GetString("endpoint"), err)
	}

	conf := common.DefaultClientConfig()
	conf.Label = "ping"
	conf.LocalIP = viper.GetString("local-ip")
	conf.Transport = cmdUtil.GetTransportConfig()
	conf.LogLevel = viper.GetString("log-level")
	if err := common.InitLoggers(conf.LogLevel); err != nil {
		return err
	}

	collector := &echoCollector{receipts: make(chan transport.Receipt, 1)}
	pool, err := tcp.StartClientPool(conf, collector, nil)
	if err != nil {
		return err
	}
	defer pool.Stop()

	conn, err := pool.OpenConnection(endpoint.Addr().String(), endpoint.Port(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	count := viper.GetInt("count")
	timeout := time.Duration(viper.GetInt("timeout")) * time.Second
	body := make([]byte, viper.GetInt("size"))

	fmt.Printf("PING %v: %d data bytes\n", endpoint, len(body)+common.HeaderSize)

	var total time.Duration
	received := 0
	for i := 0; i < count; i++ {
		msg := common.NewMessage(common.Head{MsgType: MsgTypePing, TranID: uint32(i)}, body)

		start := time.Now()
		if _, err := conn.Send(msg); err != nil {
			return err
		}

		select {
		case r := <-collector.receipts:
			if r.IsBrokenLink() {
				return fmt.Errorf("connection to %v broken", endpoint)
			}
			rtt := time.Since(start)
			head, _, err := common.SplitMessage(r.Msg)
			if err != nil {
				return err
			}
			if head.TranID != uint32(i) {
				fmt.Printf("%d bytes from %v: unexpected tran_id=%d\n", r.MsgLen, r.Peer, head.TranID)
				continue
			}
			received++
			total += rtt
			fmt.Printf("%d bytes from %v: tran_id=%d type=%d time=%v\n", r.MsgLen, r.Peer, head.TranID, head.MsgType, rtt)
		case <-time.After(timeout):
			fmt.Printf("request tran_id=%d timed out\n", i)
		}
	}

	fmt.Printf("--- %v ping statistics ---\n", endpoint)
	fmt.Printf("%d messages transmitted, %d received", count, received)
	if received > 0 {
		fmt.Printf(", avg %v", total/time.Duration(received))
	}
	fmt.Println()
	return nil
}
