package app

import (
	"context"
	"fmt"
	"io"

	"fbagent/internal/agent"
	"fbagent/internal/config"
)

// NewNotifierFromConfig creates the Notifier selected by the notify type.
// stdout receives the report for type "stdout".
func NewNotifierFromConfig(cfg config.NotifyConfig, logger agent.Logger, stdout io.Writer) (agent.Notifier, error) {
	switch cfg.Type {
	case "", "log":
		return &LogNotifier{logger: logger}, nil
	case "stdout":
		return &WriterNotifier{w: stdout}, nil
	case "none":
		return NopNotifier{}, nil
	default:
		return nil, fmt.Errorf("unknown notify type: %s", cfg.Type)
	}
}

// LogNotifier writes the report to the agent log.
type LogNotifier struct {
	logger agent.Logger
}

func (n *LogNotifier) Notify(_ context.Context, report *agent.Report) error {
	for _, m := range report.Messages() {
		switch m.Level {
		case agent.LevelError:
			n.logger.Error("cycle error", "job", m.Job, "error", m.Text)
		case agent.LevelWarn:
			n.logger.Warn(m.Text, "job", m.Job)
		}
	}
	if report.Failed() {
		n.logger.Warn("cycle report", "summary", report.Summary())
		return nil
	}
	n.logger.Info("cycle report", "summary", report.Summary())
	return nil
}

// WriterNotifier prints a human readable report.
type WriterNotifier struct {
	w io.Writer
}

func (n *WriterNotifier) Notify(_ context.Context, report *agent.Report) error {
	status := "OK"
	if report.Failed() {
		status = "FAILED"
	}
	if _, err := fmt.Fprintf(n.w, "Backup cycle %s (started %s)\n%s\n",
		status, report.StartedAt().Local().Format("2006-01-02 15:04:05"), report.Summary()); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	for _, m := range report.Messages() {
		if _, err := fmt.Fprintf(n.w, "  [%s] %s: %s\n", m.Level, m.Job, m.Text); err != nil {
			return fmt.Errorf("writing report: %w", err)
		}
	}
	return nil
}

// NopNotifier drops every report.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, *agent.Report) error { return nil }

var (
	_ agent.Notifier = (*LogNotifier)(nil)
	_ agent.Notifier = (*WriterNotifier)(nil)
	_ agent.Notifier = NopNotifier{}
)
