package middleware

import (
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
)

const (
	slowRequest     = 500 * time.Millisecond
	errorStatusFrom = 400
)

// Logger writes access lines for slow or failed requests only.
func Logger() fiber.Handler {
	return logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${method} ${path}\n",
		TimeFormat: "15:04:05",
		Next: func(c *fiber.Ctx) bool {
			return c.Path() == "/health"
		},
		Output: newFilteredWriter(os.Stdout),
	})
}

// filteredWriter drops fast successful lines of the form
//
//	"15:04:05 | 200 | 1.23ms | GET /path\n"
type filteredWriter struct {
	dest       io.Writer
	slow       time.Duration
	statusFrom int
}

func newFilteredWriter(dest io.Writer) *filteredWriter {
	return &filteredWriter{dest: dest, slow: slowRequest, statusFrom: errorStatusFrom}
}

func (w *filteredWriter) Write(p []byte) (int, error) {
	parts := strings.Split(strings.TrimRight(string(p), "\r\n"), " | ")
	if len(parts) < 3 {
		return w.dest.Write(p)
	}

	if status, err := strconv.Atoi(strings.TrimSpace(parts[1])); err == nil && status >= w.statusFrom {
		return w.dest.Write(p)
	}
	if latency, err := time.ParseDuration(strings.TrimSpace(parts[2])); err == nil && latency >= w.slow {
		return w.dest.Write(p)
	}
	return len(p), nil
}
