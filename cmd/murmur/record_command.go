package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"murmur/internal/capture"
	"murmur/internal/ipc"
	"murmur/internal/protocol"
)

func newRecordCommand(ctx *commandContext) *cobra.Command {
	var duration time.Duration

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record from the microphone and print the transcript",
		Long: `Record captures microphone audio with ffmpeg, streams it to the daemon,
and prints the transcript once recording stops. Recording runs until
Ctrl-C or the --duration limit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			stdout := cmd.OutOrStdout()

			return ctx.withClient(func(client *ipc.Client) error {
				sessionID, err := client.StartRecording()
				if err != nil {
					return fmt.Errorf("start recording: %w", err)
				}

				captureCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
				defer cancel()
				if duration > 0 {
					var timeoutCancel context.CancelFunc
					captureCtx, timeoutCancel = context.WithTimeout(captureCtx, duration)
					defer timeoutCancel()
				}

				session, err := capture.Start(captureCtx, capture.Config{
					InputFormat: cfg.Audio.InputFormat,
					Device:      cfg.Audio.Device,
					SampleRate:  cfg.Audio.SampleRate,
					Channels:    cfg.Audio.Channels,
				})
				if err != nil {
					return err
				}
				defer session.Stop()

				fmt.Fprintln(stdout, "Recording... press Ctrl-C to stop")
				if err := streamChunks(client, session, sessionID, cfg.Audio.BufferSize,
					uint32(cfg.Audio.SampleRate), uint16(cfg.Audio.Channels)); err != nil {
					return err
				}
				if err := session.Stop(); err != nil {
					return fmt.Errorf("stop capture: %w", err)
				}

				result, err := client.StopRecording()
				if err != nil {
					return fmt.Errorf("stop recording: %w", err)
				}
				if result == nil {
					fmt.Fprintln(stdout, "No audio captured")
					return nil
				}
				if result.Status.State == protocol.StatusFailed {
					return fmt.Errorf("transcription failed: %s", result.Status.Reason)
				}
				fmt.Fprintln(stdout, result.Text)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&duration, "duration", 0, "Stop automatically after this long (default: run until Ctrl-C)")
	return cmd
}

// streamChunks forwards capture output to the daemon until the capture
// stream ends. Cancelling the capture context terminates ffmpeg, which ends
// the stream.
func streamChunks(client *ipc.Client, r io.Reader, sessionID string, chunkSamples int, sampleRate uint32, channels uint16) error {
	chunker := capture.NewChunker(r, chunkSamples)
	for {
		samples, err := chunker.Next()
		if len(samples) > 0 {
			if _, sendErr := client.StreamAudio(protocol.AudioChunk{
				SessionID:  sessionID,
				Samples:    samples,
				SampleRate: sampleRate,
				Channels:   channels,
				Timestamp:  time.Now(),
			}); sendErr != nil {
				return fmt.Errorf("stream audio: %w", sendErr)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read capture stream: %w", err)
		}
	}
}
