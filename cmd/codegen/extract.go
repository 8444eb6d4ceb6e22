package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/RahulC-DG/VoiceCreation/internal/models"
	"github.com/RahulC-DG/VoiceCreation/internal/specextract"
)

func newExtractCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "extract <transcript>",
		Short: "Print the project specification found in a transcript",
		Long: `Scan a saved assistant transcript for a complete project specification
and print it as YAML.

Examples:
  codegen extract conversation.txt
  codegen extract - < conversation.txt`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := loadSpecification(args[0])
			if err != nil {
				return err
			}
			doc, err := spec.YAML()
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), doc)
			return nil
		},
	}
}

// loadSpecification reads path ("-" for stdin) and extracts a complete
// specification from it.
func loadSpecification(path string) (*models.Specification, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	spec, ok := specextract.Extract(string(data))
	if !ok {
		return nil, fmt.Errorf("no complete specification in %s (required fields: %s)", path, strings.Join(models.RequiredSpecFields, ", "))
	}
	return spec, nil
}
