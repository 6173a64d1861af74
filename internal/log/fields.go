package log

// Common field names for structured logging
const (
	FieldComponent = "component"
	FieldError     = "error"
	FieldSheet     = "sheet"
	FieldRow       = "row"
	FieldUnit      = "unit_id"
	FieldKind      = "kind"
	FieldStudent   = "student"
	FieldYear      = "year"
	FieldMonth     = "month"
	FieldAccepted  = "accepted"
	FieldRejected  = "rejected"
	FieldState     = "state"
	FieldDuration  = "duration_ms"
	FieldUserID    = "user_id"
	FieldPath      = "path"
)

// Standard component names
const (
	ComponentApp      = "app"
	ComponentHTTP     = "http"
	ComponentStorage  = "storage"
	ComponentIngest   = "ingest"
	ComponentLoader   = "loader"
	ComponentResolver = "resolver"
	ComponentAMQP     = "amqp"
	ComponentWorker   = "worker"
	ComponentWorkbook = "workbook"
)
