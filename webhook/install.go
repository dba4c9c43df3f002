package webhook

import (
	"context"
	"io"
	"log"
	"net/http"
	"time"

	"reviewhooks/internal"
	"reviewhooks/pkg/ingest"
)

// InstallHandler forwards Bitbucket app install callbacks to a topic.
type InstallHandler struct {
	publisher internal.Publisher
	topic     string
	timeout   time.Duration
	logger    *log.Logger
	maxBody   int64
}

func NewInstallHandler(publisher internal.Publisher, topic string, timeout time.Duration, logger *log.Logger, maxBody int64) *InstallHandler {
	if logger == nil {
		logger = log.Default()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &InstallHandler{publisher: publisher, topic: topic, timeout: timeout, logger: logger, maxBody: maxBody}
}

func (h *InstallHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		internal.IncRejection(http.StatusMethodNotAllowed)
		writeError(w, http.StatusMethodNotAllowed, ingest.MsgMethodNotAllowed)
		return
	}
	if h.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}
	reqID := requestID(r)
	w.Header().Set("X-Request-Id", reqID)
	logger := internal.WithRequestID(h.logger, reqID)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, ingest.MsgInvalidBody)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	err = h.publisher.Publish(ctx, internal.Envelope{
		Topic:       h.topic,
		MessageType: ingest.MessageTypeInstallCallback,
		Provider:    ingest.ProviderBitbucket,
		Event:       "install",
		RequestID:   reqID,
		Payload:     body,
	})
	if err != nil {
		logger.Printf("install callback publish failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to publish message.")
		return
	}
	logger.Printf("install callback published to %s", h.topic)
	writeText(w, http.StatusOK, "Ok")
}
