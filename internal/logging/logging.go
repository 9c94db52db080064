// Package logging configures the arena's structured logging. The teacher
// repo (joeycumines/go-utilpkg) ships logiface, a pluggable logging facade
// with a zerolog backend adapter (logiface-zerolog); this arena has exactly
// one backend across its three binaries, so the facade's indirection buys
// nothing here — this package wraps zerolog.Logger directly, keeping the
// teacher's dependency on github.com/rs/zerolog while dropping the
// adapter-pattern layer above it.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Config controls the behavior of New.
type Config struct {
	// Pretty enables zerolog.ConsoleWriter, for local development. Production
	// deployments should leave this false, for structured JSON lines.
	Pretty bool

	// Level parses via zerolog.ParseLevel; an empty string or unparseable
	// value defaults to zerolog.InfoLevel.
	Level string

	// Output overrides the destination; defaults to os.Stdout.
	Output io.Writer

	// Component is attached to every event as the "component" field, e.g.
	// "compile-worker", "execute-worker", "api".
	Component string
}

// New builds a zerolog.Logger per cfg. A nil cfg is equivalent to
// &Config{}.
func New(cfg *Config) zerolog.Logger {
	if cfg == nil {
		cfg = &Config{}
	}

	level := zerolog.InfoLevel
	if cfg.Level != `` {
		if l, err := zerolog.ParseLevel(cfg.Level); err == nil {
			level = l
		}
	}

	var w io.Writer = cfg.Output
	if w == nil {
		w = os.Stdout
	}
	if cfg.Pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	logger := zerolog.New(w).Level(level).With().Timestamp().Logger()
	if cfg.Component != `` {
		logger = logger.With().Str(`component`, cfg.Component).Logger()
	}
	return logger
}

// JobContext returns a sub-logger with job/submission correlation fields
// attached, following the teacher's "With()... Logger()" chaining idiom.
// Any of the ids may be empty, in which case that field is omitted.
func JobContext(base zerolog.Logger, jobID, submissionID, userID string) zerolog.Logger {
	ctx := base.With()
	if jobID != `` {
		ctx = ctx.Str(`job_id`, jobID)
	}
	if submissionID != `` {
		ctx = ctx.Str(`submission_id`, submissionID)
	}
	if userID != `` {
		ctx = ctx.Str(`user_id`, userID)
	}
	return ctx.Logger()
}
