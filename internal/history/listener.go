package history

import (
	"log/slog"

	"github.com/starford/laguz/internal/engine"
)

// Listener returns a queue listener that journals per-item outcomes.
// Batch-level and control events are not recorded. Journal write
// failures are logged and dropped so a full disk cannot stall syncing.
func Listener(j Journal, logger *slog.Logger) engine.Listener {
	return func(ev engine.Event) {
		var entry Entry
		switch ev.Kind {
		case engine.EventItemCompleted:
			entry = Entry{
				Path:     ev.Path,
				Action:   string(ev.Action),
				Duration: ev.Duration,
				At:       ev.At,
			}
		case engine.EventItemFailed:
			entry = Entry{
				Path:    ev.Path,
				Action:  string(engine.ActionFailed),
				Error:   ev.Error,
				Retries: ev.Retries,
				At:      ev.At,
			}
		default:
			return
		}
		if err := j.Record(entry); err != nil {
			logger.Warn("history: record failed",
				slog.String("path", entry.Path),
				slog.String("error", err.Error()))
		}
	}
}
