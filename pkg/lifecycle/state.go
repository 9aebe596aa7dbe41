package lifecycle

import (
	"time"

	"github.com/matzehuels/panelsync/pkg/panel"
)

// Status is the load state of the current layout.
type Status int

// The zero value is StatusIdle: no project has been loaded.
const (
	StatusIdle Status = iota
	StatusLoading
	StatusLoaded
	StatusEmpty
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusLoaded:
		return "loaded"
	case StatusEmpty:
		return "empty"
	case StatusError:
		return "error"
	}
	return "unknown"
}

// View is a read-only snapshot of the lifecycle for the rendering surface.
// It is a deep copy; modifying it has no effect on the lifecycle.
type View struct {
	ProjectID string
	Status    Status
	// Panels is the effective list in pixels.
	Panels []panel.RenderPanel
	// Unsaved is true while local changes have not been confirmed by the
	// remote store.
	Unsaved bool
	// Saving is true while a persist is in flight.
	Saving bool
	// Degraded is true when the remote store returned an empty layout and
	// the last good list is shown instead.
	Degraded bool
	// Warning is a non-fatal problem to show to the user.
	Warning string
	// Err is the failure behind StatusError, or the last failed persist.
	Err error
	// Retryable reports whether repeating the failed operation may succeed.
	Retryable   bool
	Revision    int64
	Scale       float64 // pixels per foot
	Width       float64 // site width, feet
	Height      float64 // site height, feet
	LastUpdated time.Time
}

// Panel returns the panel with id, if present.
func (v View) Panel(id string) (panel.RenderPanel, bool) {
	for _, p := range v.Panels {
		if p.ID == id {
			return p, true
		}
	}
	return panel.RenderPanel{}, false
}

// Ready reports whether the view shows a usable layout.
func (v View) Ready() bool {
	return v.Status == StatusLoaded || v.Status == StatusEmpty
}
