package internal

import (
	"expvar"
	"strconv"
)

var (
	requestsTotal   = expvar.NewMap("reviewhooks_requests_total")
	rejectionsTotal = expvar.NewMap("reviewhooks_rejections_total")
	lookupErrors    = expvar.NewMap("reviewhooks_lookup_errors_total")
	publishErrors   = expvar.NewMap("reviewhooks_publish_errors_total")
	telemetryErrors = expvar.NewMap("reviewhooks_telemetry_errors_total")
	duplicatesTotal = expvar.NewMap("reviewhooks_duplicates_total")
)

func IncRequest(provider string) {
	requestsTotal.Add(provider, 1)
}

func IncRejection(status int) {
	rejectionsTotal.Add(strconv.Itoa(status), 1)
}

// IncLookupError counts repo context failures by kind (error, not_configured, timeout, topic).
func IncLookupError(kind string) {
	lookupErrors.Add(kind, 1)
}

func IncPublishError(driver string) {
	publishErrors.Add(driver, 1)
}

func IncTelemetryError(sink string) {
	telemetryErrors.Add(sink, 1)
}

func IncDuplicate(provider string) {
	duplicatesTotal.Add(provider, 1)
}

var workerMessages = expvar.NewMap("reviewhooks_worker_messages_total")

// IncWorkerMessage counts consumed messages by outcome (ack, nack, unhandled, decode_error).
func IncWorkerMessage(outcome string) {
	workerMessages.Add(outcome, 1)
}
