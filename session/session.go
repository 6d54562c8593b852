// Package session keeps the per-session accumulated form documents.
//
// Every session holds one Accumulator per entity (the item and its data
// asset). An Accumulator carries two parallel documents: the raw document,
// shaped like the form and used to refill its controls, and the semantic
// document the Item is built from.
package session

import (
	"errors"
	"fmt"

	"github.com/c360studio/topo4dform/form"
	"github.com/c360studio/topo4dform/geometry"
)

// Entity names an independently accumulated document pair.
type Entity string

const (
	// EntityItem is the main Item form.
	EntityItem Entity = "item"
	// EntityAsset is the data asset form.
	EntityAsset Entity = "asset"
)

// Slot names used when the session is exported as a key-value document.
const (
	SlotRaw      = "form_format_d"
	SlotSemantic = "stac_format_d"
	SlotAssets   = "assets"
)

// ErrUnknownEntity is returned for an entity name that is not recognised.
var ErrUnknownEntity = errors.New("unknown entity")

// ParseEntity validates an entity name. The empty string means the item.
func ParseEntity(s string) (Entity, error) {
	switch Entity(s) {
	case "", EntityItem:
		return EntityItem, nil
	case EntityAsset:
		return EntityAsset, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownEntity, s)
	}
}

// Accumulator is the running raw and semantic document of one entity.
type Accumulator struct {
	Raw      form.Submission
	Semantic form.Submission
}

func newAccumulator() Accumulator {
	return Accumulator{Raw: form.Submission{}, Semantic: form.Submission{}}
}

// Merge folds one submission into both documents. raw is the submission as
// received; semantic is its normalized form.
func (a *Accumulator) Merge(raw, semantic form.Submission) {
	a.Raw = form.Merge(a.Raw, raw)
	a.Semantic = form.Merge(a.Semantic, semantic)
}

// Session is the state of one form user. It is not safe for concurrent use;
// Store.Do serializes access.
type Session struct {
	ID    string
	Item  Accumulator
	Asset Accumulator

	// Footprint is the geometry derived from the last uploaded header; nil
	// until one is uploaded.
	Footprint *geometry.Result
}

// New returns an empty session.
func New(id string) *Session {
	return &Session{
		ID:    id,
		Item:  newAccumulator(),
		Asset: newAccumulator(),
	}
}

// Accumulator returns the accumulator of e.
func (s *Session) Accumulator(e Entity) (*Accumulator, error) {
	switch e {
	case EntityItem:
		return &s.Item, nil
	case EntityAsset:
		return &s.Asset, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEntity, e)
	}
}

// Clear empties both documents of e. Clearing the item also forgets the
// derived footprint, which belongs to the item. Other entities are left
// alone.
func (s *Session) Clear(e Entity) error {
	acc, err := s.Accumulator(e)
	if err != nil {
		return err
	}
	*acc = newAccumulator()
	if e == EntityItem {
		s.Footprint = nil
	}
	return nil
}

// Export renders the session in the slot layout of the key-value session
// boundary: raw and semantic documents, the asset documents nested under
// "assets".
func (s *Session) Export() map[string]map[string]any {
	out := map[string]map[string]any{
		SlotRaw:      export(s.Item.Raw),
		SlotSemantic: export(s.Item.Semantic),
	}
	out[SlotRaw][SlotAssets] = export(s.Asset.Raw)
	out[SlotSemantic][SlotAssets] = export(s.Asset.Semantic)
	if s.Footprint != nil {
		out[SlotSemantic]["geometry"] = s.Footprint.Geometry
		out[SlotSemantic]["bbox"] = s.Footprint.BBox
	}
	return out
}

func export(doc form.Submission) map[string]any {
	m := make(map[string]any, len(doc))
	for k, v := range doc {
		m[k] = v.Interface()
	}
	return m
}
