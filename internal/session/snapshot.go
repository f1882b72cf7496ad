package session

import (
	"time"

	"github.com/stashwatch/stashwatch/internal/alert"
	"github.com/stashwatch/stashwatch/internal/device"
)

// Stats counts what the capture and poll loops did during one session.
type Stats struct {
	FramesSent     int `json:"framesSent"`
	FramesSkipped  int `json:"framesSkipped"`
	NotReadyTicks  int `json:"notReadyTicks"`
	EncodeFailures int `json:"encodeFailures"`
	UploadFailures int `json:"uploadFailures"`
	Movements      int `json:"movements"`
	Polls          int `json:"polls"`
	PollFailures   int `json:"pollFailures"`
	StreamErrors   int `json:"streamErrors"`
	Recoveries     int `json:"recoveries"`
}

// Session is one monitoring attempt. It is owned by the machine's event loop
// and never shared; observers see Snapshots.
type Session struct {
	ID              string
	Contact         string
	StartedAt       time.Time
	FramesSent      int
	LastFrameSentAt time.Time
	Alerts          *alert.Log
	LastError       *Error
	Stats           Stats
}

// Snapshot is an immutable copy of the machine and its current session.
type Snapshot struct {
	Seq             uint64        `json:"seq"`
	State           State         `json:"state"`
	ID              string        `json:"id,omitempty"`
	Contact         string        `json:"contact,omitempty"`
	StartedAt       *time.Time    `json:"startedAt,omitempty"`
	FramesSent      int           `json:"framesSent"`
	LastFrameSentAt *time.Time    `json:"lastFrameSentAt,omitempty"`
	AlertCount      int           `json:"alertCount"`
	Recent          []alert.Alert `json:"recent"`
	LastError       *Error        `json:"lastError,omitempty"`
	Stats           Stats         `json:"stats"`
	Device          device.Stats  `json:"device"`
	RecoveryPending bool          `json:"recoveryPending,omitempty"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// Uptime is how long the session has been running at the snapshot time.
func (s Snapshot) Uptime() time.Duration {
	if s.StartedAt == nil {
		return 0
	}
	return s.UpdatedAt.Sub(*s.StartedAt)
}
