package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	pionmedia "github.com/pion/webrtc/v3/pkg/media"
	"github.com/pion/webrtc/v3/pkg/media/ivfreader"

	"github.com/peerpad/peerpad/internal/client"
	"github.com/peerpad/peerpad/internal/core"
	"github.com/peerpad/peerpad/internal/peer"
)

func main() {
	app := &cli.App{
		Name:  "peerpad-participant",
		Usage: "Headless room participant for soak testing calls and co-editing",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "server",
				Usage: "relay websocket URL",
				Value: "ws://localhost:3001/ws",
			},
			&cli.StringFlag{
				Name:     "room",
				Usage:    "room identifier to join",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "name",
				Usage: "display name",
				Value: "bot",
			},
			&cli.StringFlag{
				Name:  "video",
				Usage: "IVF file to stream as the local video track",
			},
			&cli.StringSliceFlag{
				Name:  "stun",
				Usage: "STUN server, repeatable",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("")
	}
}

func run(c *cli.Context) error {
	log.Logger = log.Output(zerolog.NewConsoleWriter())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	roomID := core.RoomID(c.String("room"))

	relayClient, err := client.Dial(ctx, c.String("server"))
	if err != nil {
		return err
	}

	// Capture first, join after: the announcement must not go out until
	// there are tracks to attach.
	media, err := peer.NewLocalMedia()
	if err != nil {
		return err
	}

	identity := core.Participant{
		UserID: core.UserID(uuid.New().String()),
		Name:   c.String("name"),
	}

	session, err := peer.NewSession(relayClient, media, identity, c.StringSlice("stun"))
	if err != nil {
		return err
	}

	relayClient.AttachSession(session)
	relayClient.AttachEditor(client.NewEditor(relayClient, roomID))

	done := make(chan error, 1)
	go func() {
		done <- relayClient.Run(ctx)
	}()

	if err := relayClient.WaitConnected(ctx); err != nil {
		return err
	}

	if err := relayClient.JoinRoom(roomID); err != nil {
		return err
	}
	if err := session.JoinRoom(roomID); err != nil {
		return err
	}
	log.Info().Str("room", roomID.String()).Str("conn", relayClient.SelfID().String()).Msg("joined room")

	if videoFile := c.String("video"); videoFile != "" {
		go func() {
			if err := streamVideoFile(media, videoFile); err != nil {
				log.Error().Err(err).Msg("video feed stopped")
			}
		}()
	}

	err = <-done
	relayClient.Close()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// streamVideoFile feeds IVF frames into the local video track at the
// file's native frame rate, looping forever.
func streamVideoFile(media *peer.LocalMedia, path string) error {
	for {
		file, err := os.Open(path)
		if err != nil {
			return err
		}

		ivf, header, err := ivfreader.NewWith(file)
		if err != nil {
			file.Close()
			return err
		}

		frameDuration := time.Millisecond *
			time.Duration(float32(header.TimebaseNumerator)/float32(header.TimebaseDenominator)*1000)
		ticker := time.NewTicker(frameDuration)

		for range ticker.C {
			select {
			case <-media.Done():
				ticker.Stop()
				file.Close()
				return nil
			default:
			}

			frame, _, err := ivf.ParseNextFrame()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				ticker.Stop()
				file.Close()
				return err
			}

			if err := media.WriteVideoSample(pionmedia.Sample{Data: frame, Duration: frameDuration}); err != nil {
				ticker.Stop()
				file.Close()
				return err
			}
		}

		ticker.Stop()
		file.Close()
	}
}
