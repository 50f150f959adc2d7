// Command icd runs a standalone Interface Controller: it binds a UDP
// multicast transport on one network interface, wires it to a Controller
// backed by in-memory Switch/EventBus reference implementations, and logs
// every PEER/PEER_GONE event it sees. It exists to demonstrate wiring a
// Controller to a real transport, in the spirit of the teacher's
// cmd/monitor and cmd/ping demo binaries.
package main

import (
	"crypto/rand"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	ic "github.com/Foxcool/cjdns-ic"
	"github.com/Foxcool/cjdns-ic/eventbus"
	"github.com/Foxcool/cjdns-ic/switchcore"
	"github.com/Foxcool/cjdns-ic/transport"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "icd",
		Short: "Run an Interface Controller bound to a UDP multicast transport",
		RunE:  runIcd,
	}

	flags := cmd.Flags()
	flags.String("iface", "", "network interface to bind (required)")
	flags.String("group", "224.0.0.251:10025", "multicast group address")
	flags.Int("switch-capacity", 256, "maximum simultaneous switch paths")
	flags.String("config", "", "optional config file (yaml, toml, json via viper)")

	viper.BindPFlag("iface", flags.Lookup("iface"))
	viper.BindPFlag("group", flags.Lookup("group"))
	viper.BindPFlag("switch_capacity", flags.Lookup("switch-capacity"))
	viper.SetEnvPrefix("icd")
	viper.AutomaticEnv()

	return cmd
}

func runIcd(cmd *cobra.Command, _ []string) error {
	if cfgFile, _ := cmd.Flags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config file: %w", err)
		}
	}

	ifaceName := viper.GetString("iface")
	if ifaceName == "" {
		return fmt.Errorf("--iface is required")
	}
	iface, err := net.InterfaceByName(ifaceName)
	if err != nil {
		return fmt.Errorf("resolving interface %q: %w", ifaceName, err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer logger.Sync()

	udp, err := transport.DialUDP(iface, viper.GetString("group"), 0)
	if err != nil {
		return fmt.Errorf("dialing udp transport: %w", err)
	}
	defer udp.Close()

	var selfPub [32]byte
	if _, err := rand.Read(selfPub[:]); err != nil {
		return fmt.Errorf("generating self identity: %w", err)
	}

	sw := switchcore.NewInMemory(viper.GetInt("switch_capacity"))
	bus := eventbus.NewInMemory()
	pinger := &switchcore.InMemoryPinger{ProtocolVersion: ic.CurrentProtocolVersion}

	controller, err := ic.New(ic.DefaultConfig(), selfPub, sw, pinger, bus, ic.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("constructing controller: %w", err)
	}
	defer controller.Close()

	ifNum, err := controller.NewIface(ifaceName, udp)
	if err != nil {
		return fmt.Errorf("registering interface: %w", err)
	}
	if status := controller.SetBeaconState(ifNum, ic.BeaconSend); status != ic.StatusOK {
		return fmt.Errorf("enabling beacons: %s", status)
	}

	unsubscribe := bus.Subscribe(func(msg eventbus.Message) {
		switch msg.Tag {
		case eventbus.CorePeer:
			logger.Info("peer", zap.Uint64("path", msg.Node.Path))
		case eventbus.CorePeerGone:
			logger.Info("peer_gone", zap.Uint64("path", msg.Node.Path))
		}
	})
	defer unsubscribe()

	stop := make(chan struct{})
	go controller.Run(stop)
	go udp.Listen(func(sourceAddr, frame []byte) { controller.Deliver(ifNum, sourceAddr, frame) })

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	close(stop)
	return nil
}
