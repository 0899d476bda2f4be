// Package manifeststore implements the Manifest and Layer types and
// the Manifest Store from spec.md §3/§4.4.
package manifeststore

import (
	"github.com/modelhost/modelhost/pkg/digest"
)

// Media types that matter to the Model Store (spec.md §3).
const (
	MediaTypeModel    = "application/vnd.ollama.image.model"
	MediaTypeSystem   = "application/vnd.ollama.image.system"
	MediaTypeTemplate = "application/vnd.ollama.image.template"
	MediaTypeLicense  = "application/vnd.ollama.image.license"
	MediaTypeParams   = "application/vnd.ollama.image.params"
	MediaTypeAdapter  = "application/vnd.ollama.image.adapter"
)

// Layer is a single blob plus its media type within a manifest.
type Layer struct {
	MediaType string        `json:"mediaType"`
	Digest    digest.Digest `json:"digest"`
	Size      int64         `json:"size"`
}

// Manifest is the JSON document listing the config blob and layer
// blobs that make up a named model (spec.md §3).
type Manifest struct {
	SchemaVersion int     `json:"schemaVersion"`
	MediaType     string  `json:"mediaType,omitempty"`
	Config        Layer   `json:"config"`
	Layers        []Layer `json:"layers"`
}

// TotalSize sums the config and layer sizes, per the Model record's
// total_size derivation in spec.md §3.
func (m *Manifest) TotalSize() int64 {
	total := m.Config.Size
	for _, l := range m.Layers {
		total += l.Size
	}
	return total
}

// LayerOfType returns the first layer with the given media type.
func (m *Manifest) LayerOfType(mediaType string) (Layer, bool) {
	for _, l := range m.Layers {
		if l.MediaType == mediaType {
			return l, true
		}
	}
	return Layer{}, false
}

// WithLayer returns a copy of m with any existing layer of the same
// media type replaced by l (spec.md §4.5's SYSTEM/TEMPLATE/LICENSE
// directive semantics: "replacing any existing layer of that type").
func (m *Manifest) WithLayer(l Layer) *Manifest {
	out := &Manifest{SchemaVersion: m.SchemaVersion, MediaType: m.MediaType, Config: m.Config}
	replaced := false
	for _, existing := range m.Layers {
		if existing.MediaType == l.MediaType {
			out.Layers = append(out.Layers, l)
			replaced = true
			continue
		}
		out.Layers = append(out.Layers, existing)
	}
	if !replaced {
		out.Layers = append(out.Layers, l)
	}
	return out
}
