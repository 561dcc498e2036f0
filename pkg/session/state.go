package session

import (
	"fmt"

	"callguard/pkg/analysis"
)

// State is the lifecycle position of the controller
type State int

const (
	StateIdle State = iota
	StateStarting
	StateActive
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText encodes the state by name
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Snapshot is a copy of the observable session state
type Snapshot struct {
	State      State                      `json:"state"`
	SessionID  string                     `json:"sessionId,omitempty"`
	Analysis   analysis.DetailedAnalysis  `json:"analysis"`
	RiskLevel  analysis.RiskLevel         `json:"riskLevel"`
	Transcript []analysis.TranscriptEntry `json:"transcript"`
	Timeline   []analysis.TimelinePoint   `json:"timeline"`
	Alert      bool                       `json:"alert"`
	Error      string                     `json:"error,omitempty"`
}

// Observer receives controller notifications. Calls are made outside the
// controller lock, one at a time.
type Observer interface {
	// SessionUpdated is called after every observable change
	SessionUpdated(snapshot Snapshot)
	// CriticalAlert is called once per session, when the alert is raised
	CriticalAlert(sessionID string, a analysis.DetailedAnalysis)
	// SessionSaved is called after a finished session was persisted
	SessionSaved(entry analysis.HistoryEntry)
}
