// Package api is the client for the detection backend's HTTP contract.
// Request and response shapes mirror the backend's JSON bodies.
package api

import (
	"math"
	"time"
)

// StartRequest is the body of POST /api/start.
type StartRequest struct {
	Phone string `json:"phone"`
}

// StartResponse is returned by POST /api/start and POST /api/stop.
type StartResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// Movement is one detection the backend reports for an uploaded frame.
type Movement struct {
	Object string `json:"object"`
	Action string `json:"action"`
}

// ProcessFrameResponse is returned by POST /api/process-frame.
type ProcessFrameResponse struct {
	MovementsDetected []Movement `json:"movements_detected,omitempty"`
}

// Notification is a server-observed event about a watched object.
type Notification struct {
	Object    string  `json:"object"`
	Action    string  `json:"action"`
	Message   string  `json:"message,omitempty"`
	Timestamp float64 `json:"timestamp"` // unix seconds
}

// Time converts the float unix-seconds timestamp, keeping sub-second precision.
func (n Notification) Time() time.Time {
	sec, frac := math.Modf(n.Timestamp)
	return time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC()
}

// NotificationsResponse is returned by GET /api/check_notifications.
type NotificationsResponse struct {
	Notifications []Notification `json:"notifications"`
}

// Status is returned by GET /api/status.
type Status struct {
	IsMonitoring bool    `json:"is_monitoring"`
	StudentPhone *string `json:"student_phone"`
	Timestamp    float64 `json:"timestamp"`
}
