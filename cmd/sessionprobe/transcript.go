package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/RahulC-DG/VoiceCreation/internal/models"
)

type turn struct {
	Role    string
	Content string
}

// parseTranscript reads "user:" / "assistant:" prefixed turns. Lines without a
// prefix continue the previous turn, so fenced yaml blocks can span lines.
// Lines starting with '#' before the first turn are comments.
func parseTranscript(r io.Reader) ([]turn, error) {
	var (
		turns   []turn
		current *turn
		body    strings.Builder
		lineNo  int
	)
	flush := func() {
		if current != nil {
			current.Content = strings.TrimRight(body.String(), "\n")
			turns = append(turns, *current)
		}
		body.Reset()
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()

		if role, rest, ok := splitRole(line); ok {
			flush()
			current = &turn{Role: role}
			body.WriteString(strings.TrimPrefix(rest, " "))
			body.WriteString("\n")
			continue
		}
		if current == nil {
			if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
				continue
			}
			return nil, fmt.Errorf("line %d: expected a user: or assistant: turn", lineNo)
		}
		body.WriteString(line)
		body.WriteString("\n")
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	flush()
	return turns, nil
}

func splitRole(line string) (string, string, bool) {
	for _, role := range []string{models.RoleUser, models.RoleAssistant} {
		if rest, ok := strings.CutPrefix(line, role+":"); ok {
			return role, rest, true
		}
	}
	return "", "", false
}
