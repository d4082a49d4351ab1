package manager

import (
	"time"

	"diffusiond/pkg/types"
)

// Snapshot is a read-only projection of the manager state.
type Snapshot struct {
	State     ModelState
	ModelID   string
	LoadingID string
	LastError string
}

// Snapshot returns a consistent view of state, resident id, in-flight id and
// last error.
func (m *Manager) Snapshot() Snapshot {
	m.loader.mu.Lock()
	defer m.loader.mu.Unlock()
	snap := Snapshot{
		State:     m.states.Current(),
		ModelID:   m.pipelines.GetModelID(),
		LastError: m.loader.lastErr,
	}
	if att := m.loader.attempt; att != nil {
		snap.LoadingID = att.modelID
	}
	return snap
}

// Status builds a detailed status response for /status.
func (m *Manager) Status() types.StatusResponse {
	m.loader.mu.Lock()
	defer m.loader.mu.Unlock()
	resp := types.StatusResponse{
		State:          string(m.states.Current()),
		ModelID:        m.pipelines.GetModelID(),
		LastError:      m.loader.lastErr,
		Accelerator:    string(m.resources.Accelerator().Kind()),
		LoadsTotal:     m.loader.loadsTotal,
		CancelsTotal:   m.loader.cancelsTotal,
		UptimeSeconds:  int64(time.Since(m.startTime).Seconds()),
		ServerTimeUnix: time.Now().Unix(),
	}
	if att := m.loader.attempt; att != nil {
		resp.LoadingModelID = att.modelID
	}
	if pipe := m.pipelines.GetPipeline(); pipe != nil {
		cfg := pipe.Config()
		resp.Config = &cfg
	}
	return resp
}
