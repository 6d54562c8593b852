// Package geometry derives an Item footprint from the coordinate extents of
// an uploaded point cloud header, reprojecting to WGS 84 when the source
// reference system is known.
package geometry

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// CanonicalEPSG is the reference system Items are expressed in.
const CanonicalEPSG = 4326

// ErrInvalidHeader is returned when the header lacks usable extents.
var ErrInvalidHeader = errors.New("invalid header: missing xyz_min/xyz_max")

// Header is the parsed header of an uploaded LAS/LAZ file. Only the extents
// and the reference system are used for geometry.
type Header struct {
	Filename    string    `json:"filename,omitempty"`
	Version     string    `json:"version,omitempty"`
	PointFormat *int      `json:"point_format,omitempty"`
	PointCount  *int64    `json:"point_count,omitempty"`
	XYZMin      Extent    `json:"xyz_min,omitempty"`
	XYZMax      Extent    `json:"xyz_max,omitempty"`
	Scales      []float64 `json:"scales,omitempty"`
	Offsets     []float64 `json:"offsets,omitempty"`
	SRSWKT      string    `json:"srs_wkt,omitempty"`
	SRSEPSG     *int      `json:"srs_epsg,omitempty"`

	// Alternative spellings produced by other header readers.
	Mins       Extent    `json:"mins,omitempty"`
	Maxs       Extent    `json:"maxs,omitempty"`
	VLRSRSEPSG *int      `json:"vlr_srs_epsg,omitempty"`
	WKT        string    `json:"wkt,omitempty"`
	VLRWKT     string    `json:"vlr_wkt,omitempty"`
}

// Extent is one corner of the header bounds. Null components decode as NaN
// and are rejected when deriving.
type Extent []float64

func (e *Extent) UnmarshalJSON(data []byte) error {
	var raw []*float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		*e = nil
		return nil
	}
	out := make(Extent, len(raw))
	for i, v := range raw {
		if v == nil {
			out[i] = math.NaN()
			continue
		}
		out[i] = *v
	}
	*e = out
	return nil
}

func (e Extent) MarshalJSON() ([]byte, error) {
	if e == nil {
		return []byte("null"), nil
	}
	raw := make([]*float64, len(e))
	for i := range e {
		if !math.IsNaN(e[i]) && !math.IsInf(e[i], 0) {
			raw[i] = &e[i]
		}
	}
	return json.Marshal(raw)
}

// Extents returns the minimum and maximum corners, preferring xyz_min and
// xyz_max over mins and maxs.
func (h Header) Extents() (lo, hi []float64) {
	lo, hi = h.XYZMin, h.XYZMax
	if len(lo) == 0 {
		lo = h.Mins
	}
	if len(hi) == 0 {
		hi = h.Maxs
	}
	return lo, hi
}

// CRS returns the source reference system as a definition string PROJ
// understands ("EPSG:<code>" or WKT), and whether it is already the
// canonical system. An empty definition means unknown.
func (h Header) CRS() (def string, canonical bool) {
	for _, code := range []*int{h.SRSEPSG, h.VLRSRSEPSG} {
		if code != nil && *code > 0 {
			return "EPSG:" + strconv.Itoa(*code), *code == CanonicalEPSG
		}
	}
	for _, wkt := range []string{h.SRSWKT, h.WKT, h.VLRWKT} {
		if wkt != "" {
			return wkt, false
		}
	}
	return "", false
}

// Result is a footprint: a bbox and the rectangle polygon built from it.
type Result struct {
	BBox     geojson.BBox
	Geometry *geojson.Geometry
	// CRS is the reference system the footprint is expressed in; empty
	// when unknown.
	CRS string
	// Reprojected reports whether the corners were transformed.
	Reprojected bool
}

// FromBound builds a Result for b.
func FromBound(b orb.Bound, crs string) *Result {
	return &Result{
		BBox:     geojson.NewBBox(b),
		Geometry: geojson.NewGeometry(b.ToPolygon()),
		CRS:      crs,
	}
}

// Default returns the placeholder footprint used before any upload: an
// all-zero bbox and the degenerate polygon built from it.
func Default() *Result {
	return FromBound(orb.Bound{}, "")
}

// Reprojector transforms points between reference systems.
type Reprojector interface {
	// Transform converts x/y from src into the canonical system, returning
	// longitude/latitude order.
	Transform(src string, pts []orb.Point) ([]orb.Point, error)
}

// Deriver computes footprints from headers.
type Deriver struct {
	reprojector Reprojector
	logger      *slog.Logger
}

// NewDeriver returns a Deriver. A nil reprojector disables reprojection.
func NewDeriver(r Reprojector, logger *slog.Logger) *Deriver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Deriver{reprojector: r, logger: logger}
}

// Derive computes the footprint of h. When the header carries a known,
// non-canonical reference system the corners are reprojected; if that
// fails the native coordinates are used unchanged.
func (d *Deriver) Derive(h Header) (*Result, error) {
	lo, hi := h.Extents()
	if len(lo) < 2 || len(hi) < 2 {
		return nil, ErrInvalidHeader
	}
	for _, v := range []float64{lo[0], lo[1], hi[0], hi[1]} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: missing or non-finite coordinate", ErrInvalidHeader)
		}
	}

	native := orb.Bound{
		Min: orb.Point{lo[0], lo[1]},
		Max: orb.Point{hi[0], hi[1]},
	}

	def, canonical := h.CRS()
	if def == "" || canonical || d.reprojector == nil {
		crs := def
		if canonical {
			crs = canonicalCRS
		}
		return FromBound(native, crs), nil
	}

	pts, err := d.reprojector.Transform(def, []orb.Point{native.Min, native.Max})
	if err != nil || len(pts) != 2 || !finite(pts...) {
		d.logger.Debug("Reprojection failed, keeping native coordinates",
			"crs", truncate(def, 64), "error", err)
		return FromBound(native, def), nil
	}

	res := FromBound(orb.Bound{Min: pts[0], Max: pts[1]}, canonicalCRS)
	res.Reprojected = true
	return res, nil
}

var canonicalCRS = "EPSG:" + strconv.Itoa(CanonicalEPSG)

func finite(pts ...orb.Point) bool {
	for _, p := range pts {
		for _, v := range p {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
