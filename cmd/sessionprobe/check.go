package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/RahulC-DG/VoiceCreation/internal/specextract"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <transcript>",
		Short: "Parse a transcript and report whether its assistant turns carry a complete specification",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			turns, err := readTranscript(args[0])
			if err != nil {
				return err
			}

			extractor := specextract.New()
			found := false
			for _, t := range turns {
				if r := extractor.Observe(t.Role, t.Content); r.Kind == specextract.ResultSpecification {
					found = true
					fmt.Fprintf(cmd.OutOrStdout(), "specification: %s\n", r.Spec.ProjectName)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d turns\n", len(turns))
			if !found {
				return fmt.Errorf("no complete specification in %s", args[0])
			}
			return nil
		},
	}
}
