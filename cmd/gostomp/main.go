// Command gostomp is a small interactive client over the transport and
// eventloop packages: connect (directly or via a failover URI), send one
// message, or subscribe and print deliveries until interrupted.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/riftlabs/gostomp"
	"github.com/riftlabs/gostomp/eventloop"
	"github.com/riftlabs/gostomp/transport"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "gostomp",
		Short: "A minimal STOMP client CLI",
	}
	root.AddCommand(newSendCommand())
	root.AddCommand(newSubscribeCommand())
	return root
}

func sharedFlags(cmd *cobra.Command) (addr, failoverURI, login, passcode, host *string) {
	addr = cmd.Flags().String("addr", "localhost:61613", "broker address (host:port)")
	failoverURI = cmd.Flags().String("failover", "", "failover URI, overrides --addr when set")
	login = cmd.Flags().String("login", "", "login header")
	passcode = cmd.Flags().String("passcode", "", "passcode header")
	host = cmd.Flags().String("host", "/", "virtual host header")
	return
}

func connect(addr, failoverURI, login, passcode, host string) (*transport.Transport, error) {
	conf := &transport.Config{
		Host:     host,
		Login:    login,
		Passcode: passcode,
		Versions: stomp.Versions,
	}
	if failoverURI != "" {
		return transport.DialFailover(failoverURI, conf, transport.DefaultTransportConfig())
	}
	return transport.Connect(addr, conf, transport.DefaultTransportConfig())
}

func newSendCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send DESTINATION BODY",
		Short: "Send one message and disconnect",
		Args:  cobra.ExactArgs(2),
	}
	addr, failoverURI, login, passcode, host := sharedFlags(cmd)
	receipt := cmd.Flags().Bool("receipt", true, "wait for a RECEIPT before disconnecting")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		tr, err := connect(*addr, *failoverURI, *login, *passcode, *host)
		if err != nil {
			return err
		}
		defer tr.Close()

		if err := tr.Send(args[0], nil, []byte(args[1]), *receipt); err != nil {
			return err
		}
		logrus.Info("gostomp: message sent")
		return tr.Disconnect()
	}
	return cmd
}

func newSubscribeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subscribe DESTINATION",
		Short: "Subscribe and print deliveries until interrupted",
		Args:  cobra.ExactArgs(1),
	}
	addr, failoverURI, login, passcode, host := sharedFlags(cmd)
	ackMode := cmd.Flags().String("ack", stomp.AckAuto, "ack mode: auto, client, or client-individual")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		tr, err := connect(*addr, *failoverURI, *login, *passcode, *host)
		if err != nil {
			return err
		}
		defer tr.Close()

		token, err := tr.Subscribe(args[0], map[string]string{stomp.HdrID: "gostomp-0", stomp.HdrAck: *ackMode}, nil, true)
		if err != nil {
			return err
		}
		logrus.WithField("token", token).Info("gostomp: subscribed")

		done := make(chan struct{})
		var closeOnce sync.Once
		stop := func() { closeOnce.Do(func() { close(done) }) }

		loop := eventloop.New(tr, eventloop.Handlers{
			OnMessage: func(f *stomp.Frame) {
				dest, _ := f.Headers.Get(stomp.HdrDestination)
				fmt.Printf("[%s] %s\n", dest, f.Body)
			},
			OnError: func(f *stomp.Frame) {
				msg, _ := f.Headers.Get(stomp.HdrMessage)
				logrus.WithField("message", msg).Error("gostomp: broker ERROR")
				stop()
			},
			OnDisconnect: func(err error) {
				stop()
			},
		}, logrus.StandardLogger())
		defer loop.Stop()

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

		select {
		case <-done:
		case <-sig:
			logrus.Info("gostomp: interrupted")
		}
		return nil
	}
	return cmd
}
