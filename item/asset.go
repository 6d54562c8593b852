package item

import (
	"strings"

	"github.com/c360studio/topo4dform/form"
)

// DataAssetKey is the key of the primary data asset in an Item.
const DataAssetKey = "data"

// Asset form field names.
const (
	FieldAssetTitle     = "title"
	FieldAssetHref      = "href"
	FieldAssetMediaType = "media_type"
	FieldAssetType      = "type"
	FieldAssetRoles     = "roles"
)

// Asset is a STAC asset.
type Asset struct {
	Href  string   `json:"href"`
	Title string   `json:"title,omitempty"`
	Type  string   `json:"type,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

// SplitRoles turns comma separated text into trimmed, non-empty, distinct
// roles in their original order.
func SplitRoles(text string) []string {
	return uniqueRoles(strings.Split(text, ","))
}

func uniqueRoles(in []string) []string {
	var out []string
	seen := make(map[string]bool, len(in))
	for _, r := range in {
		r = strings.TrimSpace(r)
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}

func rolesOf(v form.Value) []string {
	if items, ok := v.Items(); ok {
		return uniqueRoles(items)
	}
	return SplitRoles(v.First())
}

// NormalizeAssetSubmission converts an asset form submission into its
// semantic shape: roles become a list (and disappear when empty) and
// media_type is renamed to type.
func NormalizeAssetSubmission(sub form.Submission) form.Submission {
	out := sub.Clone()

	if v, ok := out[FieldAssetRoles]; ok {
		if roles := rolesOf(v); len(roles) > 0 {
			out[FieldAssetRoles] = form.List(roles...)
		} else {
			delete(out, FieldAssetRoles)
		}
	}

	if v, ok := out[FieldAssetMediaType]; ok {
		out[FieldAssetType] = v
		delete(out, FieldAssetMediaType)
	}

	return out
}

// DraftAsset reads an asset document as-is, whether or not it is complete.
func DraftAsset(doc form.Submission) *Asset {
	mediaType := doc.Text(FieldAssetType)
	if mediaType == "" {
		mediaType = doc.Text(FieldAssetMediaType)
	}

	return &Asset{
		Href:  strings.TrimSpace(doc.Text(FieldAssetHref)),
		Title: doc.Text(FieldAssetTitle),
		Type:  mediaType,
		Roles: rolesOf(doc.Get(FieldAssetRoles)),
	}
}

// BuildAsset builds the data asset from an asset document. ok is false
// unless href is present and non-empty.
func BuildAsset(doc form.Submission) (*Asset, bool) {
	a := DraftAsset(doc)
	if a.Href == "" {
		return nil, false
	}
	return a, true
}

// BuildAssets returns the asset map for an Item; empty when no asset can be
// built.
func BuildAssets(doc form.Submission) map[string]*Asset {
	assets := make(map[string]*Asset)
	if a, ok := BuildAsset(doc); ok {
		assets[DataAssetKey] = a
	}
	return assets
}
