// Package help renders the markdown panel shown when monitoring cannot run.
package help

import (
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/stashwatch/stashwatch/internal/session"
)

const permissionText = `## Camera access denied

The camera exists but this process may not open it.

- On Linux, make sure your user is in the ` + "`video`" + ` group and log in again.
- On macOS, allow the terminal under *Privacy & Security > Camera*.
- Close other programs that hold the camera exclusively.

Press **s** to try again.`

const deviceText = `## No camera available

No capture device could be opened with the configured settings.

- Check ` + "`capture.device_index`" + `; run ` + "`stashwatch probe`" + ` to list working indices.
- A camera build needs ` + "`-tags gocv`" + `; otherwise use the ` + "`mjpeg`" + ` or ` + "`pattern`" + ` source.
- Unplugging the camera while monitoring also ends up here.

Press **s** to try again.`

const genericText = `## Monitoring stopped

The session could not continue. The last error is shown above.

Press **s** to start a new session.`

// Model caches one renderer per wrap width.
type Model struct {
	style    string
	width    int
	renderer *glamour.TermRenderer
}

// New returns a help panel using a glamour style name such as "dark",
// "light" or "notty".
func New(style string) Model {
	m := Model{style: style}
	m.SetWidth(80)
	return m
}

func (m *Model) SetWidth(width int) {
	width = max(width-4, 20)
	if width == m.width && m.renderer != nil {
		return
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStylePath(m.style),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return
	}
	m.width = width
	m.renderer = r
}

// Unavailable explains the last error of a session that ended up
// Unavailable.
func (m Model) Unavailable(last *session.Error) string {
	text := genericText
	if last != nil {
		switch last.Kind {
		case session.KindPermission:
			text = permissionText
		case session.KindDevice:
			text = deviceText
		}
	}
	return m.render(text)
}

func (m Model) render(md string) string {
	if m.renderer == nil {
		return md
	}
	out, err := m.renderer.Render(md)
	if err != nil {
		return md
	}
	return strings.TrimRight(out, "\n")
}
