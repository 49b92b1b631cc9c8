package tracing

// Span attribute keys.
const (
	// Instance attributes
	AttrInstanceID    = "instance.id"
	AttrInstanceState = "instance.state"
	AttrNamespace     = "instance.namespace"
	AttrSignal        = "instance.signal"

	// Task attributes
	AttrTaskKind    = "task.kind"
	AttrTaskAttempt = "task.attempt"

	// HTTP attributes
	AttrHTTPMethod = "http.method"
	AttrHTTPRoute  = "http.route"
	AttrHTTPStatus = "http.status_code"

	// Error attributes
	AttrErrorMessage = "error.message"
	AttrErrorType    = "error.type"
)

// Span name prefixes.
const (
	SpanPrefixInstance = "instance."
	SpanPrefixTask     = "task."
	SpanPrefixHTTP     = "http."
	SpanPrefixStore    = "store."
)

// Event names for span events.
const (
	EventSignalReceived = "signal.received"
	EventTaskRetried    = "task.retried"
	EventEventsAppended = "events.appended"
	EventTimerStarted   = "timer.started"
	EventErrorOccurred  = "error.occurred"
)
