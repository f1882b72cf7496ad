// Package mock is a stand-in for the detection backend. It implements the
// HTTP contract the client speaks, validates uploaded frames and invents
// movements of the usual watched objects so the whole loop can be run
// without the real detector.
package mock

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stashwatch/stashwatch/internal/api"
	"github.com/stashwatch/stashwatch/internal/device"
	"github.com/stashwatch/stashwatch/internal/mjpeg"
)

const maxUpload = 10 << 20

var watchedObjects = []string{"Laptop", "Books", "Cell Phone", "Backpack", "Bottle", "Umbrella"}

var movementActions = []string{"moved", "removed"}

type Options struct {
	// AlertEvery is the number of accepted frames between synthetic
	// movements. 0 disables them.
	AlertEvery int
	// MaxAlerts caps the notification history; the oldest are dropped.
	MaxAlerts    int
	FeedInterval time.Duration
	FeedWidth    int
	FeedHeight   int
	FeedQuality  int
}

func DefaultOptions() Options {
	return Options{
		AlertEvery:   5,
		MaxAlerts:    20,
		FeedInterval: 200 * time.Millisecond,
		FeedWidth:    320,
		FeedHeight:   240,
		FeedQuality:  75,
	}
}

// Backend keeps one monitoring session, like the real service.
type Backend struct {
	opts Options
	now  func() time.Time

	mu         sync.Mutex
	monitoring bool
	phone      string
	frames     int
	movements  int
	alerts     []api.Notification
}

func New(opts Options) *Backend {
	def := DefaultOptions()
	if opts.MaxAlerts <= 0 {
		opts.MaxAlerts = def.MaxAlerts
	}
	if opts.FeedInterval <= 0 {
		opts.FeedInterval = def.FeedInterval
	}
	if opts.FeedWidth <= 0 || opts.FeedHeight <= 0 {
		opts.FeedWidth, opts.FeedHeight = def.FeedWidth, def.FeedHeight
	}
	if opts.FeedQuality < 1 || opts.FeedQuality > 100 {
		opts.FeedQuality = def.FeedQuality
	}
	return &Backend{opts: opts, now: time.Now}
}

func (b *Backend) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(api.PathStart, b.handleStart)
	mux.HandleFunc(api.PathProcessFrame, b.handleProcessFrame)
	mux.HandleFunc(api.PathNotifications, b.handleNotifications)
	mux.HandleFunc(api.PathStop, b.handleStop)
	mux.HandleFunc(api.PathStatus, b.handleStatus)
	mux.HandleFunc(api.PathVideoFeed, b.handleVideoFeed)
	return mux
}

// Frames returns how many frames were accepted in the current session.
func (b *Backend) Frames() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.frames
}

func (b *Backend) Monitoring() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.monitoring
}

func (b *Backend) handleStart(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req api.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, api.StartResponse{Message: "invalid request body"})
		return
	}
	if req.Phone == "" {
		writeJSON(w, http.StatusBadRequest, api.StartResponse{Message: "phone number is required"})
		return
	}

	b.mu.Lock()
	b.monitoring = true
	b.phone = req.Phone
	b.frames = 0
	b.movements = 0
	b.alerts = nil
	b.mu.Unlock()

	log.Info().Str("phone", req.Phone).Msg("mock monitoring started")
	writeJSON(w, http.StatusOK, api.StartResponse{Success: true, Message: "Monitoring started"})
}

func (b *Backend) handleProcessFrame(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	if !b.Monitoring() {
		writeError(w, http.StatusBadRequest, "monitoring is not active")
		return
	}
	if err := r.ParseMultipartForm(maxUpload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	file, _, err := r.FormFile(api.FrameField)
	if err != nil {
		writeError(w, http.StatusBadRequest, "no frame provided")
		return
	}
	defer file.Close()
	cfg, format, err := image.DecodeConfig(file)
	if err != nil || cfg.Width == 0 || cfg.Height == 0 {
		writeError(w, http.StatusBadRequest, "invalid image")
		return
	}

	var resp api.ProcessFrameResponse
	b.mu.Lock()
	b.frames++
	if b.opts.AlertEvery > 0 && b.frames%b.opts.AlertEvery == 0 {
		m := b.nextMovement()
		resp.MovementsDetected = []api.Movement{m}
		b.record(m)
	}
	frames := b.frames
	b.mu.Unlock()

	log.Debug().
		Int("frame", frames).
		Str("format", format).
		Int("width", cfg.Width).
		Int("height", cfg.Height).
		Str("phone", r.FormValue(api.PhoneField)).
		Msg("mock frame accepted")
	writeJSON(w, http.StatusOK, resp)
}

// nextMovement cycles through every object before switching action.
func (b *Backend) nextMovement() api.Movement {
	n := b.movements
	b.movements++
	return api.Movement{
		Object: watchedObjects[n%len(watchedObjects)],
		Action: movementActions[(n/len(watchedObjects))%len(movementActions)],
	}
}

func (b *Backend) record(m api.Movement) {
	now := b.now()
	b.alerts = append(b.alerts, api.Notification{
		Object:    m.Object,
		Action:    m.Action,
		Message:   fmt.Sprintf("%s was %s", m.Object, m.Action),
		Timestamp: float64(now.UnixNano()) / 1e9,
	})
	if over := len(b.alerts) - b.opts.MaxAlerts; over > 0 {
		b.alerts = append([]api.Notification(nil), b.alerts[over:]...)
	}
}

// handleNotifications returns the whole history on every poll; clients
// deduplicate.
func (b *Backend) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	b.mu.Lock()
	out := api.NotificationsResponse{Notifications: append([]api.Notification{}, b.alerts...)}
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (b *Backend) handleStop(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	b.mu.Lock()
	b.monitoring = false
	b.phone = ""
	b.mu.Unlock()
	log.Info().Msg("mock monitoring stopped")
	writeJSON(w, http.StatusOK, api.StartResponse{Success: true, Message: "Monitoring stopped"})
}

func (b *Backend) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	b.mu.Lock()
	st := api.Status{IsMonitoring: b.monitoring, Timestamp: float64(b.now().UnixNano()) / 1e9}
	if b.monitoring {
		phone := b.phone
		st.StudentPhone = &phone
	}
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, st)
}

// handleVideoFeed streams the test pattern as multipart JPEG until the
// client goes away.
func (b *Backend) handleVideoFeed(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	rc := http.NewResponseController(w)
	mw := mjpeg.NewWriter(w)
	w.Header().Set("Content-Type", mw.ContentType())
	w.Header().Set("Cache-Control", "no-cache, no-store")

	ticker := time.NewTicker(b.opts.FeedInterval)
	defer ticker.Stop()
	var buf bytes.Buffer
	for n := 0; ; n++ {
		buf.Reset()
		img := device.Pattern(b.opts.FeedWidth, b.opts.FeedHeight, n)
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: b.opts.FeedQuality}); err != nil {
			log.Error().Err(err).Msg("mock feed encode failed")
			return
		}
		if err := mw.WriteFrame(buf.Bytes()); err != nil {
			return
		}
		if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return
		}
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	return false
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("mock response write failed")
	}
}
