package logging

import "log/slog"

// Common field names for consistent logging across services.
const (
	FieldService    = "service"
	FieldEntityType = "entity_type"
	FieldEntityID   = "entity_id"
	FieldLogID      = "log_id"
	FieldOperation  = "operation"
	FieldChecksum   = "payload_checksum"
	FieldBreaker    = "breaker"
	FieldIP         = "ip"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldStatus     = "status"
	FieldDuration   = "duration_ms"
	FieldError      = "error"
)

// Service returns a slog attribute for the service name.
func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

// EntityType returns a slog attribute for the CRM entity type.
func EntityType(t string) slog.Attr {
	return slog.String(FieldEntityType, t)
}

// EntityID returns a slog attribute for the CRM entity ID.
func EntityID(id string) slog.Attr {
	return slog.String(FieldEntityID, id)
}

// LogID returns a slog attribute for a webhook log entry ID.
func LogID(id string) slog.Attr {
	return slog.String(FieldLogID, id)
}

// Operation returns a slog attribute for a change-event operation.
func Operation(op string) slog.Attr {
	return slog.String(FieldOperation, op)
}

// Checksum returns a slog attribute for a payload checksum.
func Checksum(sum string) slog.Attr {
	return slog.String(FieldChecksum, sum)
}

// Breaker returns a slog attribute for a circuit breaker name.
func Breaker(name string) slog.Attr {
	return slog.String(FieldBreaker, name)
}

// IP returns a slog attribute for the IP address.
func IP(ip string) slog.Attr {
	return slog.String(FieldIP, ip)
}

// Method returns a slog attribute for the HTTP method.
func Method(method string) slog.Attr {
	return slog.String(FieldMethod, method)
}

// Path returns a slog attribute for the HTTP path.
func Path(path string) slog.Attr {
	return slog.String(FieldPath, path)
}

// Status returns a slog attribute for the HTTP status code.
func Status(code int) slog.Attr {
	return slog.Int(FieldStatus, code)
}

// Duration returns a slog attribute for duration in milliseconds.
func Duration(ms int64) slog.Attr {
	return slog.Int64(FieldDuration, ms)
}

// Error returns a slog attribute for an error.
func Error(err error) slog.Attr {
	return slog.String(FieldError, err.Error())
}
