package geometry

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/twpayne/go-proj/v10"
)

// ProjReprojector reprojects with PROJ. The source may be any definition
// PROJ accepts, including "EPSG:<code>" and WKT.
type ProjReprojector struct{}

// NewProjReprojector returns a PROJ backed Reprojector.
func NewProjReprojector() *ProjReprojector {
	return &ProjReprojector{}
}

// Transform converts pts from src into EPSG:4326 in x=longitude,
// y=latitude order.
func (ProjReprojector) Transform(src string, pts []orb.Point) ([]orb.Point, error) {
	pj, err := proj.NewCRSToCRS(src, canonicalCRS, nil)
	if err != nil {
		return nil, fmt.Errorf("create transformation: %w", err)
	}
	defer pj.Destroy()

	// Force traditional GIS axis order regardless of the authority
	// definition.
	vis, err := pj.NormalizeForVisualization()
	if err != nil {
		return nil, fmt.Errorf("normalize axis order: %w", err)
	}
	defer vis.Destroy()

	out := make([]orb.Point, len(pts))
	for i, p := range pts {
		c, err := vis.Forward(proj.NewCoord(p[0], p[1], 0, 0))
		if err != nil {
			return nil, fmt.Errorf("transform point %d: %w", i, err)
		}
		out[i] = orb.Point{c.X(), c.Y()}
	}
	return out, nil
}
