// Package authoritytest provides an in-process stand-in for the central
// authority, for coordinator tests and local development. It implements
// the same routes the real authority exposes, deduplicates pushed
// events on their uid, and supports simple fault injection.
package authoritytest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"

	"github.com/tapgate/tapgate/internal/tapgate/policy"
	"github.com/tapgate/tapgate/internal/tapgate/types"
)

type storedEvent struct {
	id  int64
	ev  types.AccessEvent
	uid string
}

type Server struct {
	httpServer *httptest.Server

	mu           sync.Mutex
	rules        map[int64][]types.AccessRule // holder -> authoritative rules
	cached       map[int64][]types.CachedRule // holder -> offline projection
	holderRoles  map[int64][]int64
	events       []storedEvent
	byUID        map[string]int64 // uid -> backend id
	nextID       int64
	offline      bool
	rejectPushes bool
}

// New starts the stub. Callers own its lifetime via Close.
func New() *Server {
	s := &Server{
		rules:       make(map[int64][]types.AccessRule),
		cached:      make(map[int64][]types.CachedRule),
		holderRoles: make(map[int64][]int64),
		byUID:       make(map[string]int64),
		nextID:      1,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /validate", s.handleValidate)
	mux.HandleFunc("GET /access-rules", s.handleRules)
	mux.HandleFunc("GET /access-events", s.handleListEvents)
	mux.HandleFunc("POST /access-events", s.handlePushEvent)

	s.httpServer = httptest.NewServer(mux)
	return s
}

func (s *Server) URL() string { return s.httpServer.URL }
func (s *Server) Close()      { s.httpServer.Close() }

// SetOffline makes every route answer 503, simulating lost connectivity.
func (s *Server) SetOffline(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offline = v
}

// RejectPushes makes POST /access-events answer 422 while the rest of
// the API stays up, simulating authority-side validation rejections.
func (s *Server) RejectPushes(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectPushes = v
}

// SetHolder installs a holder's roles, authoritative rules, and the
// cached-rule projection returned by GET /access-rules.
func (s *Server) SetHolder(holderID int64, roles []int64, rules []types.AccessRule, cached []types.CachedRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holderRoles[holderID] = roles
	s.rules[holderID] = rules
	s.cached[holderID] = cached
}

// EventCount reports how many distinct events the authority holds.
func (s *Server) EventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func (s *Server) unavailable(w http.ResponseWriter) bool {
	if s.offline {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return true
	}
	return false
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable(w) {
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable(w) {
		return
	}

	holderID := queryInt(r, "holder")
	controlPointID := queryInt(r, "controlPoint")

	d := policy.Evaluate(s.rules[holderID], s.holderRoles[holderID], controlPointID, time.Now().UTC())
	writeJSON(w, http.StatusOK, map[string]any{
		"granted": d.Granted,
		"reason":  d.Reason,
	})
}

func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable(w) {
		return
	}

	holderID := queryInt(r, "holder")

	rules := make([]map[string]any, 0, len(s.cached[holderID]))
	for _, c := range s.cached[holderID] {
		rules = append(rules, map[string]any{
			"holder_id":        c.HolderID,
			"control_point_id": c.ControlPointID,
			"allowed_days":     c.AllowedDays.Days(),
			"start_minutes":    c.Start,
			"end_minutes":      c.End,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable(w) {
		return
	}

	holderID := queryInt(r, "holder")

	events := make([]map[string]any, 0)
	for _, st := range s.events {
		if st.ev.HolderID != holderID {
			continue
		}
		events = append(events, map[string]any{
			"id":               st.id,
			"uid":              st.uid,
			"holder_id":        st.ev.HolderID,
			"control_point_id": st.ev.ControlPointID,
			"occurred_at":      st.ev.OccurredAt.UTC().Format(time.RFC3339),
			"granted":          st.ev.Granted,
			"reason":           st.ev.Reason,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handlePushEvent(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable(w) {
		return
	}
	if s.rejectPushes {
		http.Error(w, "rejected", http.StatusUnprocessableEntity)
		return
	}

	var body struct {
		UID            string `json:"uid"`
		HolderID       int64  `json:"holder_id"`
		ControlPointID int64  `json:"control_point_id"`
		OccurredAt     string `json:"occurred_at"`
		Granted        bool   `json:"granted"`
		Reason         string `json:"reason"`
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	// Dedup on uid: a resubmitted event gets its original id back.
	if id, ok := s.byUID[body.UID]; ok {
		writeJSON(w, http.StatusOK, map[string]any{"id": id})
		return
	}

	occurred, err := time.Parse(time.RFC3339, body.OccurredAt)
	if err != nil {
		occurred = time.Now().UTC()
	}

	id := s.nextID
	s.nextID++
	s.byUID[body.UID] = id
	s.events = append(s.events, storedEvent{
		id:  id,
		uid: body.UID,
		ev: types.AccessEvent{
			HolderID:       body.HolderID,
			ControlPointID: body.ControlPointID,
			OccurredAt:     occurred.UTC(),
			Granted:        body.Granted,
			Reason:         body.Reason,
		},
	})

	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func queryInt(r *http.Request, key string) int64 {
	n, _ := strconv.ParseInt(r.URL.Query().Get(key), 10, 64)
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
