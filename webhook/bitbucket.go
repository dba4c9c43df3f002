package webhook

import (
	"context"
	"io"
	"log"
	"net/http"

	"reviewhooks/pkg/ingest"
)

// Processor runs a delivery through the ingest pipeline.
type Processor interface {
	Process(ctx context.Context, req ingest.Request) ingest.Result
}

// BitbucketHandler handles incoming pull request webhooks from Bitbucket.
type BitbucketHandler struct {
	pipeline Processor
	logger   *log.Logger
	maxBody  int64
}

// NewBitbucketHandler creates a new BitbucketHandler.
func NewBitbucketHandler(pipeline Processor, logger *log.Logger, maxBody int64) *BitbucketHandler {
	if logger == nil {
		logger = log.Default()
	}
	return &BitbucketHandler{pipeline: pipeline, logger: logger, maxBody: maxBody}
}

// ServeHTTP handles an incoming HTTP request.
func (h *BitbucketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}
	reqID := requestID(r)
	w.Header().Set("X-Request-Id", reqID)

	// a failed read still goes through the pipeline so the rejection is tracked
	rawBody, readErr := io.ReadAll(r.Body)
	if readErr != nil {
		h.logger.Printf("request_id=%s read body: %v", reqID, readErr)
	}

	res := h.pipeline.Process(r.Context(), ingest.Request{
		Method:     r.Method,
		EventKey:   r.Header.Get("X-Event-Key"),
		Header:     r.Header,
		Body:       rawBody,
		DeliveryID: r.Header.Get("X-Request-UUID"),
		RequestID:  reqID,
		BodyErr:    readErr,
	})
	if res.Status == http.StatusOK {
		writeText(w, http.StatusOK, ingest.BodySuccess)
		return
	}
	writeJSON(w, res.Status, res.Body())
}
