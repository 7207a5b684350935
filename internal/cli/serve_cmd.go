package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/anshalkumar644/Eind-private-chat/internal/logger"
	"github.com/anshalkumar644/Eind-private-chat/internal/rendezvous"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "runs the rendezvous signaling server",
	Long:  `runs the websocket server peers use to exchange connection offers; chat payloads and media never pass through it`,
	Run: func(cmd *cobra.Command, args []string) {
		log := logger.NewLogger()

		srv, err := rendezvous.NewServer(rendezvous.Config{Addr: serveAddr, Logger: log})
		if err != nil {
			log.Fatal(err)
			return
		}

		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		if err := srv.Start(ctx); err != nil && err != context.Canceled {
			log.Fatal(err)
		}
		srv.Shutdown()
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "listen address")
}
