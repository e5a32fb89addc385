// huddle-client joins a room from the terminal and negotiates a peer
// link with every other participant. Useful for poking at a running
// server without a browser.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/huddle-rtc/huddle/internal/adapters/rtc"
	"github.com/huddle-rtc/huddle/internal/adapters/wsclient"
	"github.com/huddle-rtc/huddle/internal/config"
	"github.com/huddle-rtc/huddle/internal/domain"
	"github.com/huddle-rtc/huddle/internal/peer"
)

var (
	flagServer string
	flagRoom   string
	flagName   string
)

var rootCmd = &cobra.Command{
	Use:   "huddle-client",
	Short: "Join a huddle room and negotiate peer links from the terminal",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().StringVar(&flagServer, "server", "ws://localhost:8080/api/ws/signal", "signaling endpoint")
	rootCmd.Flags().StringVar(&flagRoom, "room", "lobby", "room to join")
	rootCmd.Flags().StringVar(&flagName, "name", "guest", "display name")
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	client := wsclient.NewClient(flagServer, domain.RoomID(flagRoom))
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Close()

	coord := peer.NewCoordinator(client, func(remote domain.ConnID) (peer.PeerConnection, error) {
		return rtc.New(rtc.DefaultConfig(), remote)
	}, cfg.NegotiationTimeout)
	defer coord.Close()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-coord.Events():
				if ev.Err != nil {
					log.Warn().Err(ev.Err).Str("peer", string(ev.Peer)).Msg("link closed")
					continue
				}
				log.Info().Str("peer", string(ev.Peer)).Str("state", ev.State.String()).Msg("link event")
			}
		}
	}()

	if err := client.Join(flagName); err != nil {
		return err
	}
	log.Info().Str("room", flagRoom).Str("name", flagName).Msg("joined, waiting for peers")

	err = client.Run(ctx, coord)
	_ = client.Leave()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("client failed")
	}
}
