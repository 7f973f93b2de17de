// Package logx is a tiny log/slog helper, not a logging library of its
// own — the teacher reaches for log/slog directly rather than an
// external logging package, and so does this repository.
package logx

import "log/slog"

// WithErr returns args for a slog call that includes err under the
// conventional "err" key, or nil args if err is nil.
func WithErr(err error, args ...any) []any {
	if err == nil {
		return args
	}
	return append([]any{"err", err}, args...)
}

func Error(log *slog.Logger, err error, msg string, args ...any) {
	log.Error(msg, WithErr(err, args...)...)
}
