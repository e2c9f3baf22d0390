package runtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/justapithecus/livewatch/budget"
	"github.com/justapithecus/livewatch/metrics"
)

// Process exit codes.
const (
	ExitOK = 0
	// ExitError covers runtime failures.
	ExitError = 1
	// ExitConfig is returned for unreadable or invalid configuration.
	ExitConfig = 2
	// ExitHalted is returned when the session ended in an emergency halt.
	ExitHalted = 3
)

// SessionReport is the structured JSON report written by --report.
type SessionReport struct {
	SessionID  string `json:"session_id"`
	ExitCode   int    `json:"exit_code"`
	Message    string `json:"message,omitempty"`
	DurationMs int64  `json:"duration_ms"`

	Listeners int `json:"listeners"`
	Queued    int `json:"queued"`

	Budget  *budget.Snapshot  `json:"budget"`
	Metrics *metrics.Snapshot `json:"metrics"`
}

// ExitCodeFor maps the result of Run and the final view to an exit code.
func ExitCodeFor(runErr error, v View) int {
	switch {
	case runErr != nil:
		return ExitError
	case v.Budget.Halted:
		return ExitHalted
	default:
		return ExitOK
	}
}

// BuildSessionReport composes a SessionReport from the final view.
func BuildSessionReport(v View, runErr error, exitCode int) *SessionReport {
	report := &SessionReport{
		SessionID:  v.SessionID,
		ExitCode:   exitCode,
		DurationMs: v.UptimeMs,
		Listeners:  len(v.Listeners),
		Queued:     len(v.Queue),
		Budget:     &v.Budget,
		Metrics:    &v.Metrics,
	}
	switch {
	case runErr != nil:
		report.Message = runErr.Error()
	case v.Budget.Halted:
		report.Message = "emergency halt: " + v.Budget.Reason
	}
	return report
}

// WriteSessionReport writes the report as JSON to path.
// If path is "-", writes to stderr.
func WriteSessionReport(report *SessionReport, path string) error {
	if path == "" {
		return errors.New("report path must not be empty")
	}

	if path == "-" {
		if err := writeSessionReportTo(report, os.Stderr); err != nil {
			return fmt.Errorf("failed to write report to stderr: %w", err)
		}
		return nil
	}

	data, err := marshalReport(report)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report to %s: %w", path, err)
	}
	return nil
}

func marshalReport(report *SessionReport) ([]byte, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report: %w", err)
	}
	return append(data, '\n'), nil
}

// writeSessionReportTo writes report JSON to any writer.
func writeSessionReportTo(report *SessionReport, w io.Writer) error {
	data, err := marshalReport(report)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
