// Package logger provides the io.Writer that main wires into the standard
// log package so every log.Print call comes out timestamped and colorized.
package logger

import (
	"fmt"
	"time"

	"github.com/hammertrack/recall/internal/color"
)

type CustomLogger struct{}

func (writer CustomLogger) Write(bytes []byte) (int, error) {
	now := time.Now().Format(time.RFC3339)
	return fmt.Printf("[%s] ► %s",
		color.String(color.Yellow, now), color.String(color.Green, string(bytes)),
	)
}

func New() *CustomLogger {
	return new(CustomLogger)
}
