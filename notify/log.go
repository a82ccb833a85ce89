package notify

import (
	"context"

	log "github.com/sirupsen/logrus"

	"todo-api/tasksync"
)

// LogReporter writes notices to the developer log.
type LogReporter struct {
	logger *log.Logger
}

func NewLogReporter(logger *log.Logger) *LogReporter {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &LogReporter{logger: logger}
}

func (r *LogReporter) Report(_ context.Context, n tasksync.Notice) {
	fields := log.Fields{
		"op":   string(n.Op),
		"user": n.UserID,
	}
	if n.TaskID != "" {
		fields["task"] = n.TaskID
	}
	entry := r.logger.WithFields(fields)
	switch n.Level {
	case tasksync.LevelError:
		entry.WithError(n.Err).WithField("kind", n.Kind.String()).Error("task operation failed")
	default:
		if n.Op == tasksync.OpLoad {
			entry.WithField("count", n.Count).Debug("tasks loaded")
			return
		}
		entry.Info("task operation succeeded")
	}
}

// Multi fans a notice out to every reporter.
type Multi []tasksync.Reporter

func (m Multi) Report(ctx context.Context, n tasksync.Notice) {
	for _, r := range m {
		if r != nil {
			r.Report(ctx, n)
		}
	}
}
