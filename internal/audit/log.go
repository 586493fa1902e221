// Package audit emits structured audit events for the security-relevant
// moments of the moderation pipeline: credential rotation, case lifecycle,
// dropped notifications, token issuance.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"wallo.org/internal/auth"
	"wallo.org/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// Reserved entry keys; caller-supplied fields never override them.
var reserved = map[string]struct{}{
	"ts": {}, "type": {}, "event": {}, "request_id": {}, "user_id": {},
}

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes one flat JSON audit entry enriched with request and user
// context. Fields merge into the entry itself so downstream filters can match
// on them without unnesting.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	entry := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"type":  "audit",
		"event": event,
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		entry["request_id"] = rid
	}
	if userID, ok := auth.UserIDFromContext(ctx); ok {
		entry["user_id"] = userID
	}
	for k, v := range fields {
		if _, taken := reserved[k]; taken {
			continue
		}
		entry[k] = v
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}
