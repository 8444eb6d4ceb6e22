package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/RahulC-DG/VoiceCreation/internal/auth"
	"github.com/RahulC-DG/VoiceCreation/internal/models"
)

func newPlayCmd(opts *probeOptions, logger zerolog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "play <transcript>",
		Short: "Send every turn of a transcript and follow the session to the end of its run",
		Long: `Play a transcript of "user:" / "assistant:" turns into a gateway running
without a speech agent. Events are logged as they arrive; generation logs go
to stdout. The command exits non-zero unless the generation run completes.

Examples:
  sessionprobe play walkthrough.txt
  sessionprobe play walkthrough.txt --url ws://gateway:8080/ws/session --jwt-secret dev`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			turns, err := readTranscript(args[0])
			if err != nil {
				return err
			}
			return play(cmd.Context(), opts, turns, cmd.OutOrStdout(), logger)
		},
	}

	cmd.Flags().DurationVar(&opts.timeout, "timeout", 10*time.Minute, "Give up after this long")
	cmd.Flags().DurationVar(&opts.pause, "pause", 200*time.Millisecond, "Delay between turns")

	return cmd
}

func readTranscript(path string) ([]turn, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open transcript: %w", err)
	}
	defer f.Close()

	turns, err := parseTranscript(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse transcript: %w", err)
	}
	return turns, nil
}

func play(ctx context.Context, opts *probeOptions, turns []turn, out io.Writer, logger zerolog.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	target, err := sessionURL(ctx, opts.gatewayURL, opts.secret, logger)
	if err != nil {
		return fmt.Errorf("invalid gateway URL: %w", err)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("handshake rejected with status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer conn.Close()

	results := make(chan error, 1)
	go func() { results <- watch(conn, out, logger) }()

	for i, t := range turns {
		msg := models.UpstreamMessage{Type: "text", Role: t.Role, Content: t.Content}
		if err := conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("failed to send turn %d: %w", i+1, err)
		}
		logger.Info().Int("turn", i+1).Str("role", t.Role).Int("length", len(t.Content)).Msg("sent")
		time.Sleep(opts.pause)
	}

	select {
	case err := <-results:
		if err != nil {
			return fmt.Errorf("session did not complete: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timed out waiting for the generation run")
	}
}

// watch prints every event until the generation run ends.
func watch(conn *websocket.Conn, out io.Writer, logger zerolog.Logger) error {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("connection closed: %w", err)
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var event models.Event
		if err := json.Unmarshal(data, &event); err != nil {
			logger.Warn().Err(err).Msg("undecodable frame")
			continue
		}

		switch event.Type {
		case models.EventPhaseTransition:
			logger.Info().Str("phase", event.Phase.String()).Str("session_id", event.SessionID).Msg("phase")
		case models.EventCodegenLog:
			fmt.Fprint(out, event.Chunk)
		case models.EventCodegenPreview:
			logger.Info().Str("url", event.URL).Msg("preview ready")
		case models.EventCodegenComplete:
			logger.Info().Str("preview_url", event.PreviewURL).Str("repo_path", event.RepoPath).Msg("generation complete")
			return nil
		case models.EventCodegenError:
			return fmt.Errorf("generation failed: %s", event.Error)
		case models.EventCodegenCancelled:
			return fmt.Errorf("generation cancelled")
		case "error":
			return fmt.Errorf("gateway error: %s", event.Error)
		default:
			logger.Debug().Str("type", string(event.Type)).Msg("event")
		}
	}
}

func sessionURL(ctx context.Context, raw, secret string, logger zerolog.Logger) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if secret == "" {
		return u.String(), nil
	}

	jm, err := auth.NewJWTManager(secret, logger)
	if err != nil {
		return "", err
	}
	token, err := jm.GenerateToken(ctx, "sessionprobe", "sessionprobe", time.Hour)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
