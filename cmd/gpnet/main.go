package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "gpnet",
		Short: "Packet-framed network engine",
		Long: `gpnet runs the packet engine as an echo service and talks to one.

Frames are [len u16][id u16][payload] over TCP or websocket binary messages,
optionally encrypted with a ChaCha20 stream derived from a shared secret.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		sendCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
