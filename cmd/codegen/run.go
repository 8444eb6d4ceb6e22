package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/RahulC-DG/VoiceCreation/internal/codegen"
	"github.com/RahulC-DG/VoiceCreation/internal/config"
	"github.com/RahulC-DG/VoiceCreation/internal/models"
	"github.com/RahulC-DG/VoiceCreation/internal/orchestration"
	"github.com/RahulC-DG/VoiceCreation/internal/supervisor"
)

func newRunCmd(logger zerolog.Logger) *cobra.Command {
	var (
		specPath  string
		root      string
		sessionID string
		serve     bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Generate a project from a specification file and start its preview",
		Long: `Run one generation outside a voice session. The specification file may be a
bare YAML document or a transcript containing a fenced yaml block. Every
generation event is printed to stdout as one JSON object per line.

Model and preview settings come from the same environment variables (and
.env file) as the API server.

Examples:
  codegen run --spec todo.yaml
  codegen run --spec transcript.txt --root /tmp/apps --serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGeneration(cmd, logger, specPath, root, sessionID, serve)
		},
	}

	cmd.Flags().StringVarP(&specPath, "spec", "s", "", "Specification or transcript file (required)")
	cmd.Flags().StringVar(&root, "root", "", "Generation root (default: GENERATION_ROOT)")
	cmd.Flags().StringVar(&sessionID, "session", "", "Session id (default: random)")
	cmd.Flags().BoolVar(&serve, "serve", false, "Keep the preview running until interrupted")
	_ = cmd.MarkFlagRequired("spec")

	return cmd
}

func runGeneration(cmd *cobra.Command, logger zerolog.Logger, specPath, root, sessionID string, serve bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if root == "" {
		root = cfg.GenerationRoot
	}
	if root, err = filepath.Abs(root); err != nil {
		return fmt.Errorf("resolve generation root: %w", err)
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	spec, err := loadSpecification(specPath)
	if err != nil {
		return err
	}

	generator, err := orchestration.NewGenerator(cfg.Generator(), logger)
	if err != nil {
		return err
	}
	orchestrator := codegen.New(root, generator, supervisor.New(cfg.Supervisor(), logger), logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	enc := json.NewEncoder(cmd.OutOrStdout())
	sink := models.EventSinkFunc(func(e models.Event) {
		_ = enc.Encode(e)
	})

	logger.Info().Str("session_id", sessionID).Str("project_name", spec.ProjectName).Str("root", root).Msg("starting generation")
	outcome, err := orchestrator.Run(ctx, spec, sessionID, sink)
	if err != nil {
		return fmt.Errorf("generation failed: %w", err)
	}
	defer outcome.Preview.Stop()

	if !serve {
		return nil
	}

	logger.Info().Str("url", outcome.Result.PreviewURL).Msg("preview running, press Ctrl-C to stop")
	select {
	case <-ctx.Done():
	case <-outcome.Preview.Done():
		logger.Warn().Msg("preview exited")
	}
	return nil
}
