package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/go-i2p/go-i2p-router/router"
	"github.com/go-i2p/go-i2p-router/routerconfig"
	"github.com/go-i2p/go-i2p-router/transport"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	fmt.Printf("go-i2p-router %s\n", Version)

	loader, err := routerconfig.NewLoader()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	fs := pflag.NewFlagSet("routerd", pflag.ExitOnError)
	if err := loader.BindFlags(fs); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	cfg, err := loader.Resolve()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	r, err := router.New(cfg, unconfiguredTransport{}, transport.CryptoRand{}, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "router: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("shutting down...")
		cancel()
	}()

	fmt.Printf("router identity %x\n", r.Identity())
	r.Run(ctx)
	r.Stop()
}

// unconfiguredTransport is the transport.Sender wired in when no concrete
// NTCP/SSU transport has been attached yet; it logs and drops. A real
// deployment replaces this at construction with the wire transports, which
// this module treats as external collaborators.
type unconfiguredTransport struct{}

func (unconfiguredTransport) Send(ctx context.Context, peerHash [32]byte, messages [][]byte) error {
	logrus.WithField("peer", peerHash).Debug("dropping outbound send: no transport configured")
	return nil
}
