// Package cli holds the cobra commands for the peerchat binary.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	signalURL   string
	stunServers []string
)

var rootCmd = &cobra.Command{
	Use:  `peerchat`,
	Long: `peerchat is a peer to peer chat and calling application`,
	Run:  runChat,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&signalURL, "signal-url", "ws://localhost:8080/ws", "rendezvous server websocket URL")
	rootCmd.PersistentFlags().StringSliceVar(&stunServers, "stun", nil, "STUN server URLs (default: Google's public server)")
	rootCmd.AddCommand(serveCmd)
}
