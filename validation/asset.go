package validation

import (
	"strings"

	"github.com/c360studio/topo4dform/item"
)

// MessageEmptyHref is reported for an asset without a usable href.
const MessageEmptyHref = "The 'URI' field must be non-empty."

// assetPrefix selects findings that concern assets.
const assetPrefix = "assets/"

// ValidateAsset checks a single asset by embedding it as the data asset of a
// fixed placeholder item and keeping only findings located under assets. A
// nil asset or one with an empty href fails without consulting the schema.
func (v *Validator) ValidateAsset(a *item.Asset) (Result, error) {
	if a == nil || strings.TrimSpace(a.Href) == "" {
		return Result{Findings: []Finding{{
			Path:    assetPrefix + item.DataAssetKey + "/" + item.FieldAssetHref,
			Message: MessageEmptyHref,
		}}}, nil
	}

	res, err := v.Validate(placeholderItem(a, v.url))
	if err != nil {
		return Result{}, err
	}

	var kept []Finding
	for _, f := range res.Findings {
		if strings.HasPrefix(f.Path, assetPrefix) {
			kept = append(kept, f)
		}
	}
	return Result{Findings: kept}, nil
}

// placeholderItem is a minimal valid item around a.
func placeholderItem(a *item.Asset, schemaURL string) map[string]any {
	return map[string]any{
		"stac_version":    item.DefaultStacVersion,
		"stac_extensions": []string{schemaURL},
		"type":            item.FeatureType,
		"id":              "asset-check",
		"bbox":            []float64{-101, 40, -100, 41},
		"geometry": map[string]any{
			"type": "Polygon",
			"coordinates": [][][]float64{{
				{-101, 40}, {-101, 41}, {-100, 41}, {-100, 40}, {-101, 40},
			}},
		},
		"properties": map[string]any{
			"datetime": "2000-01-01T00:00:00Z",
		},
		"links":  []any{},
		"assets": map[string]any{item.DataAssetKey: a},
	}
}
