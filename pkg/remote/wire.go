package remote

import (
	"time"

	"github.com/matzehuels/panelsync/pkg/errors"
	"github.com/matzehuels/panelsync/pkg/panel"
)

// LayoutDocument is the JSON body of GET /v1/projects/{projectID}/layout.
// Panels are raw records so older servers with legacy field names still
// decode through panel.Decode.
type LayoutDocument struct {
	ProjectID   string           `json:"projectId"`
	Panels      []map[string]any `json:"panels"`
	Width       float64          `json:"width,omitempty"`
	Height      float64          `json:"height,omitempty"`
	Scale       float64          `json:"scale,omitempty"`
	LastUpdated time.Time        `json:"lastUpdated,omitzero"`
	Revision    int64            `json:"revision"`
}

// LayoutBody is the JSON body the server writes for a layout.
type LayoutBody struct {
	ProjectID   string        `json:"projectId"`
	Panels      []panel.Panel `json:"panels"`
	Width       float64       `json:"width,omitempty"`
	Height      float64       `json:"height,omitempty"`
	Scale       float64       `json:"scale,omitempty"`
	LastUpdated time.Time     `json:"lastUpdated,omitzero"`
	Revision    int64         `json:"revision"`
}

// NewLayoutBody converts a layout for the wire.
func NewLayoutBody(l *Layout) LayoutBody {
	panels := l.Panels
	if panels == nil {
		panels = []panel.Panel{}
	}
	return LayoutBody{
		ProjectID:   l.ProjectID,
		Panels:      panels,
		Width:       l.Width,
		Height:      l.Height,
		Scale:       l.Scale,
		LastUpdated: l.LastUpdated,
		Revision:    l.Revision,
	}
}

// PersistBody is the JSON body of PUT /v1/projects/{projectID}/layout.
type PersistBody struct {
	Panels       []panel.Panel `json:"panels"`
	BaseRevision int64         `json:"baseRevision"`
	Width        float64       `json:"width,omitempty"`
	Height       float64       `json:"height,omitempty"`
	Scale        float64       `json:"scale,omitempty"`
}

// Request converts the body to a [PersistRequest].
func (b PersistBody) Request() PersistRequest {
	return PersistRequest{
		Panels:       b.Panels,
		BaseRevision: b.BaseRevision,
		Width:        b.Width,
		Height:       b.Height,
		Scale:        b.Scale,
	}
}

// AckBody is the JSON body of a successful PUT.
type AckBody struct {
	Revision    int64     `json:"revision"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// ErrorBody is the JSON body of every error response.
type ErrorBody struct {
	Code    errors.Code `json:"code"`
	Message string      `json:"message"`
}
