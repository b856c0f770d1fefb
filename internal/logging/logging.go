package logging

import (
	"io"
	"log/slog"
	"regexp"
	"strings"

	"github.com/m-mizutani/masq"
)

// ntlmHeaderPattern matches NTLM and Negotiate tokens copied out of
// Authorization headers into error strings.
var ntlmHeaderPattern = regexp.MustCompile(`(?i)(ntlm|negotiate)\s+[a-zA-Z0-9+/]{16,}=*`)

// New builds the process logger. Format is "json" or "text"; level is one of
// debug, info, warn, error and defaults to info. Service credentials are
// redacted wherever they appear in attributes.
func New(w io.Writer, level, format string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level:       lvl,
		ReplaceAttr: redactAttr(),
	}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

func redactAttr() func([]string, slog.Attr) slog.Attr {
	return masq.New(
		masq.WithFieldName("password"),
		masq.WithFieldName("Password"),
		masq.WithFieldName("authorization"),
		masq.WithRegex(ntlmHeaderPattern),
	)
}
