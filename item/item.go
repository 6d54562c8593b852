package item

import (
	"time"

	"github.com/araddon/dateparse"
	"github.com/paulmach/orb/geojson"

	"github.com/c360studio/topo4dform/geometry"
)

const (
	// DefaultID is used when no item_id has been supplied.
	DefaultID = "item"
	// DefaultStacVersion is the STAC version written into Items.
	DefaultStacVersion = "1.1.0"
	// DefaultSelfHref is the self link target.
	DefaultSelfHref = "./item.json"
	// FeatureType is the GeoJSON type of every Item.
	FeatureType = "Feature"
)

// ItemLink is a STAC link object.
type ItemLink struct {
	Rel  string `json:"rel"`
	Href string `json:"href"`
	Type string `json:"type,omitempty"`
}

// Item is a STAC Item carrying Topo4D properties.
type Item struct {
	StacVersion    string            `json:"stac_version"`
	StacExtensions []string          `json:"stac_extensions"`
	Type           string            `json:"type"`
	ID             string            `json:"id"`
	Geometry       *geojson.Geometry `json:"geometry"`
	BBox           geojson.BBox      `json:"bbox"`
	Properties     map[string]any    `json:"properties"`
	Links          []ItemLink        `json:"links"`
	Assets         map[string]*Asset `json:"assets"`
}

// Options controls Item assembly.
type Options struct {
	SchemaURL   string
	StacVersion string
	SelfHref    string
}

// Assemble combines properties, assets and footprint into an Item. A nil
// footprint falls back to geometry.Default.
func Assemble(props Properties, assets map[string]*Asset, footprint *geometry.Result, opts Options) *Item {
	if footprint == nil {
		footprint = geometry.Default()
	}
	if assets == nil {
		assets = make(map[string]*Asset)
	}
	if opts.StacVersion == "" {
		opts.StacVersion = DefaultStacVersion
	}
	if opts.SelfHref == "" {
		opts.SelfHref = DefaultSelfHref
	}

	id := props.ID
	if id == "" {
		id = DefaultID
	}

	properties := make(map[string]any, len(props.Extension)+1)
	for k, v := range props.Extension {
		properties[k] = v
	}
	properties["datetime"] = normalizeDatetime(props.Datetime)

	var extensions []string
	if opts.SchemaURL != "" {
		extensions = append(extensions, opts.SchemaURL)
	}

	return &Item{
		StacVersion:    opts.StacVersion,
		StacExtensions: nonNil(extensions),
		Type:           FeatureType,
		ID:             id,
		Geometry:       footprint.Geometry,
		BBox:           footprint.BBox,
		Properties:     properties,
		Links: []ItemLink{
			{Rel: "self", Href: opts.SelfHref, Type: "application/json"},
		},
		Assets: assets,
	}
}

// normalizeDatetime renders a parseable datetime as RFC 3339 in UTC. Text
// that does not parse is kept verbatim so the schema can report it; an
// absent value becomes JSON null.
func normalizeDatetime(s string) any {
	if s == "" {
		return nil
	}
	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return s
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
