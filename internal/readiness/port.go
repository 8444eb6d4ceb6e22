// Package readiness finds a free port for a preview server and detects when
// the server has started serving.
package readiness

import (
	"fmt"
	"net"
	"strconv"

	"github.com/RahulC-DG/VoiceCreation/internal/models"
)

// FindOpenPort returns the first port in [rangeStart, rangeEnd] that can be bound.
// Each probe opens and closes a listener, so a concurrent caller may still
// take the port before it is used.
func FindOpenPort(rangeStart, rangeEnd int) (int, error) {
	if rangeStart <= 0 || rangeEnd > 65535 || rangeStart > rangeEnd {
		return 0, fmt.Errorf("invalid port range %d-%d", rangeStart, rangeEnd)
	}

	for port := rangeStart; port <= rangeEnd; port++ {
		ln, err := net.Listen("tcp", ":"+strconv.Itoa(port))
		if err != nil {
			continue
		}
		_ = ln.Close()
		return port, nil
	}

	return 0, fmt.Errorf("ports %d-%d: %w", rangeStart, rangeEnd, models.ErrNoPortAvailable)
}
