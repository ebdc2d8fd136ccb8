package control

import "time"

// Request is one control-socket command. Op is one of status, health,
// start, stop, toggle.
type Request struct {
	Op string `json:"op"`
}

type Status struct {
	Running     bool         `json:"running"`
	State       string       `json:"state"`
	SessionID   string       `json:"session_id,omitempty"`
	Device      string       `json:"device"`
	Endpoint    string       `json:"endpoint"`
	UptimeSec   float64      `json:"uptime_sec"`
	LastError   string       `json:"last_error,omitempty"`
	Transcripts []Transcript `json:"transcripts"`
}

type SimpleResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

type Transcript struct {
	SessionID string    `json:"session_id,omitempty"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}
