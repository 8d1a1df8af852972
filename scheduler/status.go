package scheduler

import (
	"time"
)

// State is the process wide state of the scheduler.
type State int32

const (
	// StateBooting is the state while tables are restored from disk.
	StateBooting State = iota
	// StateGenerating is the state while boot falls back to building tables.
	StateGenerating
	// StateServing is the state once boot finished.
	StateServing
	// StateStopped is the state after Shutdown.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateBooting:
		return "booting"
	case StateGenerating:
		return "generating"
	case StateServing:
		return "serving"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// TableStatus reports the state of one table index.
type TableStatus struct {
	Table      string    `json:"table"`
	Available  bool      `json:"available"`
	Outdated   bool      `json:"outdated"`
	Building   bool      `json:"building"`
	Generation uint64    `json:"generation,omitempty"`
	BuiltAt    time.Time `json:"built_at,omitempty"`
	Samples    int64     `json:"samples"`
	LastError  string    `json:"last_error,omitempty"`
}

// Status returns the status of every table in configuration order.
func (s *Scheduler) Status() []TableStatus {
	tables := s.catalog.Tables()
	status := make([]TableStatus, 0, len(tables))
	for _, ti := range tables {
		ts := TableStatus{
			Table:     ti.Table().Name,
			Available: ti.Available(),
			Outdated:  ti.Outdated(),
			Building:  ti.Building(),
		}
		if g := ti.Serving(); g != nil {
			ts.Generation = g.ID
			ts.BuiltAt = g.BuiltAt
			ts.Samples = g.Samples()
		}
		if err := s.workers[ts.Table].err(); err != nil {
			ts.LastError = err.Error()
		}
		status = append(status, ts)
	}
	return status
}

// Ready reports whether boot finished and every table is serving.
func (s *Scheduler) Ready() bool {
	if s.State() != StateServing {
		return false
	}
	for _, ti := range s.catalog.Tables() {
		if !ti.Available() {
			return false
		}
	}
	return true
}
