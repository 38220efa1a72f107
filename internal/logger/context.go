package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields are appended to every record logged with the carrying context.
// Submitter identity never goes here.
type LogFields struct {
	RequestID    string
	StaffID      *int64
	SuggestionID *int64
	Component    string
}

// WithLogFields merges fields into the context, newer non-empty values win.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	merged := mergeFields(GetLogFields(ctx), fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, next LogFields) LogFields {
	result := existing
	if next.RequestID != "" {
		result.RequestID = next.RequestID
	}
	if next.StaffID != nil {
		result.StaffID = next.StaffID
	}
	if next.SuggestionID != nil {
		result.SuggestionID = next.SuggestionID
	}
	if next.Component != "" {
		result.Component = next.Component
	}
	return result
}

func Ptr[T any](v T) *T {
	return &v
}
