package logging

import "github.com/arloliu/changefeed/types"

type fieldLogger struct {
	next   types.Logger
	fields []any
}

// With returns a logger that prepends the given key-value pairs to every
// message logged through it.
//
// Example:
//
//	log := logging.With(logger, "lease", lease.LeaseToken)
//	log.Info("renewed") // logs lease=<token>
func With(logger types.Logger, keysAndValues ...any) types.Logger {
	logger = OrNop(logger)
	if len(keysAndValues) == 0 {
		return logger
	}

	if fl, ok := logger.(*fieldLogger); ok {
		fields := make([]any, 0, len(fl.fields)+len(keysAndValues))
		fields = append(fields, fl.fields...)
		fields = append(fields, keysAndValues...)

		return &fieldLogger{next: fl.next, fields: fields}
	}

	return &fieldLogger{next: logger, fields: append([]any(nil), keysAndValues...)}
}

func (l *fieldLogger) merge(keysAndValues []any) []any {
	out := make([]any, 0, len(l.fields)+len(keysAndValues))
	out = append(out, l.fields...)

	return append(out, keysAndValues...)
}

func (l *fieldLogger) Debug(msg string, keysAndValues ...any) {
	l.next.Debug(msg, l.merge(keysAndValues)...)
}

func (l *fieldLogger) Info(msg string, keysAndValues ...any) {
	l.next.Info(msg, l.merge(keysAndValues)...)
}

func (l *fieldLogger) Warn(msg string, keysAndValues ...any) {
	l.next.Warn(msg, l.merge(keysAndValues)...)
}

func (l *fieldLogger) Error(msg string, keysAndValues ...any) {
	l.next.Error(msg, l.merge(keysAndValues)...)
}

func (l *fieldLogger) Fatal(msg string, keysAndValues ...any) {
	l.next.Fatal(msg, l.merge(keysAndValues)...)
}
