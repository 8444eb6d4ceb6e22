package codegen

import (
	"fmt"

	"github.com/RahulC-DG/VoiceCreation/internal/models"
)

// SystemPrompt instructs the generation model on the output contract.
const SystemPrompt = `You are a senior web engineer. Generate a complete, runnable project for the
specification you are given.

Respond with a single JSON object and nothing else:

{"files": [{"path": "relative/path.ext", "content": "full file content"}]}

Rules:
- Paths are relative to the project root and never start with "/" or contain "..".
- Include package.json with "install" friendly dependencies and a "dev" script that
  starts a dev server honouring --port and the PORT environment variable.
- Every file is complete. Do not elide code or leave placeholders.
- Content values are JSON strings. Escape newlines and quotes; do not use backticks.`

// BuildPrompt serializes a specification into the generation request.
func BuildPrompt(spec *models.Specification) (string, error) {
	doc, err := spec.YAML()
	if err != nil {
		return "", fmt.Errorf("failed to serialize specification: %w", err)
	}
	return fmt.Sprintf("Build the project described by this specification.\n\n```yaml\n%s```\n", doc), nil
}
