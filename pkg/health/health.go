// Package health provides readiness tracking and the HTTP handlers that
// expose the session manager's state.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/txn2/dbsession/pkg/dbsession"
)

// State constants for the readiness state machine.
const (
	stateStarting int32 = iota
	stateReady
	stateDraining
)

// StatsSource reports a snapshot of the session table.
type StatsSource interface {
	Stats(ctx context.Context) (dbsession.Stats, error)
}

var _ StatsSource = (*dbsession.Manager)(nil)

// Checker tracks whether the process accepts work. It is safe for
// concurrent use.
type Checker struct {
	state atomic.Int32
	stats atomic.Pointer[StatsSource]
}

// NewChecker creates a Checker in the starting state. src may be nil and
// set later with SetSource.
func NewChecker(src StatsSource) *Checker {
	c := &Checker{}
	if src != nil {
		c.SetSource(src)
	}
	return c
}

// SetSource sets the session table reported by the handlers.
func (c *Checker) SetSource(src StatsSource) {
	c.stats.Store(&src)
}

func (c *Checker) source() StatsSource {
	if p := c.stats.Load(); p != nil {
		return *p
	}
	return nil
}

// SetReady transitions to the ready state.
func (c *Checker) SetReady() {
	c.state.Store(stateReady)
}

// SetDraining transitions to the draining state. Readiness fails from now on
// so no new requests are routed here while sessions finish.
func (c *Checker) SetDraining() {
	c.state.Store(stateDraining)
}

// IsReady returns true when the state is ready.
func (c *Checker) IsReady() bool {
	return c.state.Load() == stateReady
}

// State returns the current state as a string.
func (c *Checker) State() string {
	switch c.state.Load() {
	case stateReady:
		return "ready"
	case stateDraining:
		return "draining"
	default:
		return "starting"
	}
}

type healthResponse struct {
	Status   string `json:"status"`
	Sessions *int   `json:"sessions,omitempty"`
	Locked   *int   `json:"locked,omitempty"`
}

// LivenessHandler always responds 200 OK (/healthz).
func (*Checker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
	}
}

// ReadinessHandler responds 200 when ready and 503 when starting or
// draining (/readyz). The body carries the session counts when a source is
// set and its snapshot succeeds.
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: c.State()}
		if src := c.source(); src != nil {
			if st, err := src.Stats(r.Context()); err == nil {
				resp.Sessions = &st.Sessions
				resp.Locked = &st.Locked
			}
		}

		code := http.StatusOK
		if !c.IsReady() {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, resp)
	}
}

// SessionsHandler responds with the full session table snapshot
// (/debug/sessions).
func (c *Checker) SessionsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		src := c.source()
		if src == nil {
			writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: c.State()})
			return
		}
		st, err := src.Stats(r.Context())
		if err != nil {
			slog.Warn("health: session stats failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
