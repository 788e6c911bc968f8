package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/certrail/certrail/internal/anchor"
	"github.com/certrail/certrail/internal/delivery"
	"github.com/certrail/certrail/internal/hashing"
	"github.com/certrail/certrail/internal/ledger"
	"github.com/certrail/certrail/pkg/jsonutil"
	"github.com/certrail/certrail/pkg/observability"
)

// Verifier is the slice of the anchoring service the API needs.
type Verifier interface {
	VerifyHash(ctx context.Context, certID, hash string) (*anchor.Verification, error)
	Lookup(ctx context.Context, certID string) (*ledger.Record, error)
}

// QueueReader is the read-only view over the delivery store.
type QueueReader interface {
	Statistics(ctx context.Context) (*delivery.Statistics, error)
	History(ctx context.Context, limit int) ([]*delivery.HistoryEntry, error)
}

// TaskPublisher stages asynchronous dispatch requests on the broker.
type TaskPublisher interface {
	Publish(ctx context.Context, queueName string, body []byte) error
}

type APIHandler struct {
	verifier  Verifier // nil when the ledger is not configured
	queue     QueueReader
	publisher TaskPublisher // nil when the broker is not configured
	taskQueue string
	logger    *observability.Logger
}

func (h *APIHandler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.queue.Statistics(r.Context())
	if err != nil {
		h.logger.Error("stats query failed", "error", err)
		jsonutil.WriteError(w, http.StatusInternalServerError, "failed to read statistics")
		return
	}
	jsonutil.WriteJSON(w, http.StatusOK, st)
}

func (h *APIHandler) History(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			jsonutil.WriteError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := h.queue.History(r.Context(), limit)
	if err != nil {
		h.logger.Error("history query failed", "error", err)
		jsonutil.WriteError(w, http.StatusInternalServerError, "failed to read history")
		return
	}
	if entries == nil {
		entries = []*delivery.HistoryEntry{}
	}
	jsonutil.WriteJSON(w, http.StatusOK, entries)
}

// VerifyByID answers the pure-lookup verification mode: the caller
// asserts a hash and gets a boolean back.
func (h *APIHandler) VerifyByID(w http.ResponseWriter, r *http.Request) {
	if h.verifier == nil {
		jsonutil.WriteError(w, http.StatusServiceUnavailable, "ledger is not configured")
		return
	}

	certID := mux.Vars(r)["id"]
	hash := r.URL.Query().Get("hash")
	if !hashing.Valid(hash) {
		jsonutil.WriteError(w, http.StatusBadRequest, "hash must be a 256-bit hex digest")
		return
	}

	v, err := h.verifier.VerifyHash(r.Context(), certID, hash)
	if err != nil {
		h.logger.Error("verification failed", "cert_id", certID, "error", err)
		jsonutil.WriteError(w, http.StatusBadGateway, "ledger unavailable")
		return
	}
	jsonutil.WriteJSON(w, http.StatusOK, v)
}

// VerifyUpload recomputes the digest from an uploaded artifact and
// checks it against the chain. The client's own hash claim is ignored.
func (h *APIHandler) VerifyUpload(w http.ResponseWriter, r *http.Request) {
	if h.verifier == nil {
		jsonutil.WriteError(w, http.StatusServiceUnavailable, "ledger is not configured")
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		jsonutil.WriteError(w, http.StatusBadRequest, "expected multipart form with cert_id and file")
		return
	}
	certID := r.FormValue("cert_id")
	if certID == "" {
		jsonutil.WriteError(w, http.StatusBadRequest, "cert_id is required")
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		jsonutil.WriteError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	hash, err := hashing.DigestReader(file)
	if err != nil {
		jsonutil.WriteError(w, http.StatusBadRequest, "failed to read uploaded file")
		return
	}

	v, err := h.verifier.VerifyHash(r.Context(), certID, hash)
	if err != nil {
		h.logger.Error("verification failed", "cert_id", certID, "error", err)
		jsonutil.WriteError(w, http.StatusBadGateway, "ledger unavailable")
		return
	}
	jsonutil.WriteJSON(w, http.StatusOK, v)
}

// Details returns the full on-chain record for a certificate id.
func (h *APIHandler) Details(w http.ResponseWriter, r *http.Request) {
	if h.verifier == nil {
		jsonutil.WriteError(w, http.StatusServiceUnavailable, "ledger is not configured")
		return
	}

	certID := mux.Vars(r)["id"]
	rec, err := h.verifier.Lookup(r.Context(), certID)
	if errors.Is(err, ledger.ErrNotFound) {
		jsonutil.WriteError(w, http.StatusNotFound, "certificate not found")
		return
	}
	if err != nil {
		h.logger.Error("lookup failed", "cert_id", certID, "error", err)
		jsonutil.WriteError(w, http.StatusBadGateway, "ledger unavailable")
		return
	}
	jsonutil.WriteJSON(w, http.StatusOK, rec)
}

// Dispatch stages an asynchronous dispatch run. The worker picks the
// task up from the broker; sends never run on the request path.
func (h *APIHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	if h.publisher == nil {
		jsonutil.WriteError(w, http.StatusServiceUnavailable, "broker is not configured")
		return
	}

	task := dispatchTask{Type: "dispatch_all"}
	if r.Body != nil && r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
			jsonutil.WriteError(w, http.StatusBadRequest, "invalid task body")
			return
		}
	}

	body, err := json.Marshal(task)
	if err != nil {
		jsonutil.WriteError(w, http.StatusInternalServerError, "failed to encode task")
		return
	}
	if err := h.publisher.Publish(r.Context(), h.taskQueue, body); err != nil {
		h.logger.Error("failed to publish dispatch task", "error", err)
		jsonutil.WriteError(w, http.StatusBadGateway, "broker unavailable")
		return
	}
	jsonutil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// dispatchTask is the wire shape shared with cmd/worker.
type dispatchTask struct {
	Type  string `json:"type"` // "dispatch_all" or "dispatch_one"
	JobID int64  `json:"job_id,omitempty"`
}
