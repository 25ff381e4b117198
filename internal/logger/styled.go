// internal/logger/styled.go
package logger

import (
	"fmt"
	"log/slog"

	"github.com/pterm/pterm"

	"github.com/corvidae/relay/theme"
)

// StyledLogger wraps slog.Logger with theme-aware formatting for the handful
// of log lines that benefit from it: route tables, upstream targets and
// health-state transitions.
type StyledLogger struct {
	logger *slog.Logger
	theme  *theme.Theme
}

// NewStyledLogger creates a new styled logger with the given theme
func NewStyledLogger(logger *slog.Logger, t *theme.Theme) *StyledLogger {
	return &StyledLogger{
		logger: logger,
		theme:  t,
	}
}

func (sl *StyledLogger) Debug(msg string, args ...any) {
	sl.logger.Debug(msg, args...)
}

func (sl *StyledLogger) Info(msg string, args ...any) {
	sl.logger.Info(msg, args...)
}

func (sl *StyledLogger) Warn(msg string, args ...any) {
	sl.logger.Warn(msg, args...)
}

func (sl *StyledLogger) Error(msg string, args ...any) {
	sl.logger.Error(msg, args...)
}

// InfoWithCount styles a trailing count, e.g. "Registered web routes (4)".
func (sl *StyledLogger) InfoWithCount(msg string, count int, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, pterm.Style{sl.theme.Counts}.Sprint(fmt.Sprintf("(%d)", count)))
	sl.logger.Info(styledMsg, args...)
}

// InfoWithTarget styles an upstream target URL, e.g. "routing request to http://10.0.0.2:8080".
func (sl *StyledLogger) InfoWithTarget(msg string, target string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, pterm.Style{sl.theme.Target}.Sprint(target))
	sl.logger.Info(styledMsg, args...)
}

// WarnWithTarget is the warning-level counterpart of InfoWithTarget.
func (sl *StyledLogger) WarnWithTarget(msg string, target string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, pterm.Style{sl.theme.Target}.Sprint(target))
	sl.logger.Warn(styledMsg, args...)
}

// InfoTransition logs a state-cell transition, styling the target and the
// from/to states so the direction of travel reads at a glance.
func (sl *StyledLogger) InfoTransition(target, from, to string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s -> %s",
		pterm.Style{sl.theme.Target}.Sprint(target),
		pterm.Style{sl.theme.Muted}.Sprint(from),
		pterm.Style{sl.theme.Success}.Sprint(to))
	sl.logger.Info(styledMsg, args...)
}

// WarnProbe logs a failed health probe against a styled target.
func (sl *StyledLogger) WarnProbe(target string, err error, args ...any) {
	styledMsg := fmt.Sprintf("probe failed %s: %v", pterm.Style{sl.theme.Target}.Sprint(target), err)
	sl.logger.Warn(styledMsg, args...)
}

// GetUnderlying returns the underlying slog.Logger for cases where direct access is needed
func (sl *StyledLogger) GetUnderlying() *slog.Logger {
	return sl.logger
}

// WithAttrs creates a new StyledLogger with additional structured attributes
func (sl *StyledLogger) WithAttrs(attrs ...slog.Attr) *StyledLogger {
	args := make([]any, 0, len(attrs)*2)
	for _, attr := range attrs {
		args = append(args, attr.Key, attr.Value)
	}

	return &StyledLogger{
		logger: sl.logger.With(args...),
		theme:  sl.theme,
	}
}

// With creates a new StyledLogger with additional key-value pairs
func (sl *StyledLogger) With(args ...any) *StyledLogger {
	return &StyledLogger{
		logger: sl.logger.With(args...),
		theme:  sl.theme,
	}
}

// NewWithTheme creates both a regular logger and a styled logger.
func NewWithTheme(cfg *Config) (*slog.Logger, *StyledLogger, func(), error) {
	base, cleanup, err := New(cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	appTheme := theme.GetTheme(cfg.Theme)
	styledLogger := NewStyledLogger(base, appTheme)

	return base, styledLogger, cleanup, nil
}
