package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stashwatch/stashwatch/internal/device"
	"github.com/stashwatch/stashwatch/internal/encoder"
	"github.com/stashwatch/stashwatch/internal/poller"
	"github.com/stashwatch/stashwatch/internal/upload"
)

type State int

const (
	Idle State = iota
	Acquiring
	Live
	Stopping
	Unavailable
)

var stateNames = map[State]string{
	Idle:        "idle",
	Acquiring:   "acquiring",
	Live:        "live",
	Stopping:    "stopping",
	Unavailable: "unavailable",
}

var stateFromName = map[string]State{
	"idle":        Idle,
	"acquiring":   Acquiring,
	"live":        Live,
	"stopping":    Stopping,
	"unavailable": Unavailable,
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *State) UnmarshalJSON(data []byte) error {
	var n string
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if v, ok := stateFromName[n]; ok {
		*s = v
	}
	return nil
}

var (
	ErrStartRejected = errors.New("backend rejected monitoring start")
	ErrStopFailure   = errors.New("backend stop notification failed")
	// ErrSessionStopped is returned by a Start that was overtaken by Stop.
	ErrSessionStopped = errors.New("session stopped before it went live")
	ErrInvalidState   = errors.New("operation not valid in current state")
	ErrNoContact      = errors.New("contact address is required")
	ErrClosed         = errors.New("session machine is not running")
	// ErrStreamFailure wraps presentation-layer errors reported while Live.
	ErrStreamFailure = errors.New("video feed failed")
)

// ErrorKind groups failures for display.
type ErrorKind string

const (
	KindPermission ErrorKind = "permission"
	KindDevice     ErrorKind = "device"
	KindEncode     ErrorKind = "encode"
	KindUpload     ErrorKind = "upload"
	KindPoll       ErrorKind = "poll"
	KindStop       ErrorKind = "stop"
	KindStart      ErrorKind = "start"
	KindStream     ErrorKind = "stream"
	KindUnknown    ErrorKind = "unknown"
)

// KindOf maps an error chain onto its display kind.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, device.ErrPermissionDenied):
		return KindPermission
	case errors.Is(err, device.ErrDeviceUnavailable), errors.Is(err, device.ErrStreamEnded):
		return KindDevice
	case errors.Is(err, encoder.ErrEncodeFailure):
		return KindEncode
	case errors.Is(err, upload.ErrUploadFailure):
		return KindUpload
	case errors.Is(err, poller.ErrPollFailure):
		return KindPoll
	case errors.Is(err, ErrStopFailure):
		return KindStop
	case errors.Is(err, ErrStartRejected):
		return KindStart
	case errors.Is(err, ErrStreamFailure):
		return KindStream
	default:
		return KindUnknown
	}
}

// Error is the session's record of its most recent failure. Transient errors
// were absorbed and the session kept running; the rest ended it.
type Error struct {
	Kind      ErrorKind `json:"kind"`
	Message   string    `json:"message"`
	Transient bool      `json:"transient"`
	At        time.Time `json:"at"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func newError(err error, transient bool, at time.Time) *Error {
	return &Error{Kind: KindOf(err), Message: err.Error(), Transient: transient, At: at}
}
