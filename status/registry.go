// Package status exposes a node's replica progress to the outside world: an
// HTTP endpoint a human or a monitoring scrape can poll, backed by a
// CAS-mutex-guarded snapshot rather than the accord package's own
// single-owner state (status reads must never contend with the driver's hot
// path).
package status

import (
	"context"
	"net/http"
	"sync"

	json "github.com/goccy/go-json"
	lock "github.com/viney-shih/go-lock"

	"accord"
)

// Registry mirrors a subset of ReplicaState for read-mostly external
// consumption, the way the teacher's LevelStateMachine (network/detector/
// rlsm.go) keeps a small, frequently-read piece of state behind a
// lock.RWMutex separate from the heavier structures it summarizes.
type Registry struct {
	mu     lock.RWMutex
	status map[accord.TxId]accord.Status

	// fallback guards the one field lock.RWMutex doesn't help with: total
	// counts, which every Record call touches.
	countsMu sync.Mutex
	counts   map[accord.Status]int
}

func NewRegistry() *Registry {
	return &Registry{
		mu:     lock.NewCASMutex(),
		status: make(map[accord.TxId]accord.Status),
		counts: make(map[accord.Status]int),
	}
}

// Record updates id's status, called by whatever observes ReplicaState
// transitions (typically a thin wrapper the driver's caller installs around
// the Log).
func (r *Registry) Record(id accord.TxId, s accord.Status) {
	r.mu.Lock()
	r.status[id] = s
	r.mu.Unlock()

	r.countsMu.Lock()
	r.counts[s]++
	r.countsMu.Unlock()
}

func (r *Registry) Get(id accord.TxId) (accord.Status, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.status[id]
	return s, ok
}

// Snapshot is the JSON body served at /status: per-status totals plus the
// number of transactions currently tracked.
type Snapshot struct {
	Tracked int                    `json:"tracked"`
	Totals  map[string]int         `json:"totals_by_status"`
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	tracked := len(r.status)
	r.mu.RUnlock()

	r.countsMu.Lock()
	totals := make(map[string]int, len(r.counts))
	for s, n := range r.counts {
		totals[s.String()] = n
	}
	r.countsMu.Unlock()

	return Snapshot{Tracked: tracked, Totals: totals}
}

// Server exposes Registry over HTTP GET /status, the way fc-server/main.go
// wires the node's listen address from configs.
type Server struct {
	reg *Registry
	srv *http.Server
}

func NewServer(address string, reg *Registry) *Server {
	mux := http.NewServeMux()
	s := &Server{reg: reg, srv: &http.Server{Addr: address, Handler: mux}}
	mux.HandleFunc("/status", s.handleStatus)
	return s
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.reg.Snapshot())
}

func (s *Server) ListenAndServe() error { return s.srv.ListenAndServe() }

func (s *Server) Shutdown(ctx context.Context) error { return s.srv.Shutdown(ctx) }

// RecordingLog decorates an accord.Log, mirroring every appended record into
// a Registry so the status endpoint reflects ReplicaState without the core
// package needing to know the status package exists.
type RecordingLog struct {
	accord.Log
	Reg *Registry
}

func (l RecordingLog) Append(rec accord.LogRecord) error {
	l.Reg.Record(rec.ID, rec.Phase)
	return l.Log.Append(rec)
}
