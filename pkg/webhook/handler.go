// Package webhook exposes an HTTP handler that feeds pre-classified
// transition notifications into a tracker. Deliverers retry on non-2xx
// responses, so processing must tolerate redelivery.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/membertrack/membertrack/pkg/membertrack"
)

// DefaultMaxBodyBytes bounds the accepted request body size.
const DefaultMaxBodyBytes = 256 * 1024

// ErrPayloadTooLarge is returned when the request body exceeds the size limit
var ErrPayloadTooLarge = errors.New("payload too large")

// Recorder is the part of the tracker the handler needs.
type Recorder interface {
	Record(ctx context.Context, in membertrack.RecordInput) error
}

// Notification is the wire shape of one transition delivery.
type Notification struct {
	// EntityKey is the resolved identity; empty when the deliverer
	// could not link the transition to an identity.
	EntityKey string `json:"entity_key,omitempty"`

	// Email is the contact key used when EntityKey is empty
	Email string `json:"email,omitempty"`

	// EventKind names the transition (see membertrack Kind constants)
	EventKind string `json:"event_kind"`

	// Timestamp is the transition time as unix seconds; zero means now
	Timestamp int64 `json:"timestamp,omitempty"`

	// Snapshot optionally carries the upstream plan state
	Snapshot *membertrack.PlanSnapshot `json:"snapshot,omitempty"`
}

// Handler is a POST-only http.Handler for transition notifications.
type Handler struct {
	recorder     Recorder
	logger       membertrack.Logger
	maxBodyBytes int64
}

// Options configures the handler.
type Options struct {
	// Logger defaults to a no-op logger
	Logger membertrack.Logger

	// MaxBodyBytes defaults to DefaultMaxBodyBytes
	MaxBodyBytes int64
}

// NewHandler creates a webhook handler delegating to recorder.
func NewHandler(recorder Recorder, opts *Options) (*Handler, error) {
	if recorder == nil {
		return nil, fmt.Errorf("recorder is required")
	}

	h := &Handler{
		recorder:     recorder,
		logger:       &membertrack.NoopLogger{},
		maxBodyBytes: DefaultMaxBodyBytes,
	}
	if opts != nil {
		if opts.Logger != nil {
			h.logger = opts.Logger
		}
		if opts.MaxBodyBytes > 0 {
			h.maxBodyBytes = opts.MaxBodyBytes
		}
	}
	return h, nil
}

// ServeHTTP implements http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := readBodyStrict(w, r, h.maxBodyBytes)
	if err != nil {
		if errors.Is(err, ErrPayloadTooLarge) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
		} else {
			http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		}
		return
	}

	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if n.EventKind == "" {
		http.Error(w, "missing event_kind", http.StatusBadRequest)
		return
	}
	if n.EntityKey == "" && n.Email == "" {
		http.Error(w, "missing entity_key and email", http.StatusBadRequest)
		return
	}

	var at time.Time
	if n.Timestamp > 0 {
		at = time.Unix(n.Timestamp, 0).UTC()
	}

	in := membertrack.RecordInput{
		EntityKey: n.EntityKey,
		Email:     n.Email,
		Kind:      n.EventKind,
		At:        at,
		Snapshot:  n.Snapshot,
	}
	if err := h.recorder.Record(r.Context(), in); err != nil {
		// Non-2xx makes the deliverer retry; recording is idempotent
		// within a week so the retry is safe.
		h.logger.Error("notification processing failed",
			membertrack.Field{Key: "kind", Value: n.EventKind},
			membertrack.Field{Key: "error", Value: err.Error()},
		)
		http.Error(w, "failed to process notification", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		return
	}
}

// readBodyStrict reads the request body and validates it's not empty.
// Enforces a size limit to prevent memory exhaustion.
func readBodyStrict(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	body, err := io.ReadAll(r.Body)
	defer r.Body.Close()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, fmt.Errorf("%w (max %d bytes)", ErrPayloadTooLarge, limit)
		}
		return nil, err
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("empty body")
	}
	return body, nil
}
