// Package item turns accumulated form documents into a Topo4D STAC Item:
// the namespaced property tree, the data asset, and the assembled Feature.
package item

import (
	"encoding/json"
	"strings"

	"github.com/c360studio/topo4dform/form"
	"github.com/c360studio/topo4dform/matrix"
)

// Namespace is the prefix of every extension property.
const Namespace = "topo4d:"

// Extension property names.
const (
	PropDataType           = Namespace + "data_type"
	PropTimezone           = Namespace + "timezone"
	PropAcquisitionMode    = Namespace + "acquisition_mode"
	PropOrientation        = Namespace + "orientation"
	PropGlobalTrafo        = Namespace + "global_trafo"
	PropDuration           = Namespace + "duration"
	PropSpatialResolution  = Namespace + "spatial_resolution"
	PropPositionalAccuracy = Namespace + "positional_accuracy"
	PropTrafoMeta          = Namespace + "trafometa"
	PropProductMeta        = Namespace + "productmeta"
)

// Form field names that are not part of a mapping table.
const (
	FieldItemID   = "item_id"
	FieldDatetime = "datetime"

	FieldReferenceEpoch    = "trafometa_reference_epoch"
	FieldRegistrationError = "trafometa_registration_error"

	FieldProductName  = "productmeta_product_name"
	FieldProductLevel = "productmeta_product_level"
	FieldDerivedFrom  = "productmeta_derived_from"
	FieldParam        = "productmeta_param"
)

type fieldMapping struct {
	output string
	input  string
}

// textFields are copied through as supplied.
var textFields = []fieldMapping{
	{PropDataType, "topo4d_data_type"},
	{PropTimezone, "topo4d_timezone"},
	{PropAcquisitionMode, "topo4d_acquisition_mode"},
	{PropOrientation, "topo4d_orientation"},
	{PropGlobalTrafo, "topo4d_global_trafo"},
}

// numericFields are coerced to float; a failed coercion drops the field.
var numericFields = []fieldMapping{
	{PropDuration, "topo4d_duration"},
	{PropSpatialResolution, "topo4d_spatial_resolution"},
	{PropPositionalAccuracy, "topo4d_positional_accuracy"},
}

// matrixFields are the trafometa members parsed as numeric matrices.
var matrixFields = []fieldMapping{
	{"transformation", "trafometa_transformation"},
	{"affine_transformation", "trafometa_affine_transformation"},
	{"rotation", "trafometa_rotation"},
	{"translation", "trafometa_translation"},
	{"reduction_point", "trafometa_reduction_point"},
}

// RequiredFields lists the form controls the schema makes mandatory, so
// that a form can mark them.
var RequiredFields = []string{
	FieldDatetime,
	"topo4d_data_type",
	FieldReferenceEpoch,
	"href",
}

// TrafoMeta is the transformation metadata object.
type TrafoMeta struct {
	ReferenceEpoch       *form.Relation `json:"reference_epoch,omitempty"`
	RegistrationError    *float64       `json:"registration_error,omitempty"`
	Transformation       [][]float64    `json:"transformation,omitempty"`
	AffineTransformation [][]float64    `json:"affine_transformation,omitempty"`
	Rotation             [][]float64    `json:"rotation,omitempty"`
	Translation          [][]float64    `json:"translation,omitempty"`
	ReductionPoint       [][]float64    `json:"reduction_point,omitempty"`
}

// IsEmpty reports whether no member is set.
func (t *TrafoMeta) IsEmpty() bool {
	return t.ReferenceEpoch == nil && t.RegistrationError == nil &&
		t.Transformation == nil && t.AffineTransformation == nil &&
		t.Rotation == nil && t.Translation == nil && t.ReductionPoint == nil
}

func (t *TrafoMeta) setMatrix(name string, m [][]float64) {
	switch name {
	case "transformation":
		t.Transformation = m
	case "affine_transformation":
		t.AffineTransformation = m
	case "rotation":
		t.Rotation = m
	case "translation":
		t.Translation = m
	case "reduction_point":
		t.ReductionPoint = m
	}
}

// ProductMeta is the product metadata object.
type ProductMeta struct {
	ProductName  string         `json:"product_name,omitempty"`
	ProductLevel string         `json:"product_level,omitempty"`
	DerivedFrom  *Link          `json:"derived_from,omitempty"`
	Param        map[string]any `json:"param,omitempty"`
}

// IsEmpty reports whether no member is set.
func (p *ProductMeta) IsEmpty() bool {
	return p.ProductName == "" && p.ProductLevel == "" && p.DerivedFrom == nil && p.Param == nil
}

// Link is a relation object, or a bare reference string kept for documents
// written before relations were structured.
type Link struct {
	Relation *form.Relation
	Legacy   string
}

// MarshalJSON encodes the relation object, or the legacy string.
func (l Link) MarshalJSON() ([]byte, error) {
	if l.Relation != nil {
		return json.Marshal(l.Relation)
	}
	return json.Marshal(l.Legacy)
}

// Properties is the semantic content of an item built from form input.
type Properties struct {
	ID       string
	Datetime string
	// Extension holds the namespaced properties keyed by their full name.
	Extension map[string]any
}

// BuildProperties maps a semantic form document onto Item properties.
// Fields that fail to parse are left out; nested objects are only present
// when at least one member survived.
func BuildProperties(doc form.Submission) Properties {
	props := Properties{
		ID:        doc.Text(FieldItemID),
		Datetime:  doc.Text(FieldDatetime),
		Extension: make(map[string]any),
	}

	for _, m := range textFields {
		if v := doc.Get(m.input); !v.IsEmpty() {
			props.Extension[m.output] = v.Interface()
		}
	}

	for _, m := range numericFields {
		if f, ok := parseNumber(doc.Get(m.input)); ok {
			props.Extension[m.output] = f
		}
	}

	if tm := buildTrafoMeta(doc); !tm.IsEmpty() {
		props.Extension[PropTrafoMeta] = tm
	}
	if pm := buildProductMeta(doc); !pm.IsEmpty() {
		props.Extension[PropProductMeta] = pm
	}

	return props
}

func buildTrafoMeta(doc form.Submission) *TrafoMeta {
	tm := &TrafoMeta{}
	if rel, ok := resolveRelation(doc, FieldReferenceEpoch); ok {
		tm.ReferenceEpoch = &rel
	}
	if f, ok := parseNumber(doc.Get(FieldRegistrationError)); ok {
		tm.RegistrationError = &f
	}
	for _, m := range matrixFields {
		if grid, ok := matrix.Parse(doc.Get(m.input)); ok {
			tm.setMatrix(m.output, grid)
		}
	}
	return tm
}

func buildProductMeta(doc form.Submission) *ProductMeta {
	pm := &ProductMeta{
		ProductName:  doc.Text(FieldProductName),
		ProductLevel: doc.Text(FieldProductLevel),
	}

	if rel, ok := resolveRelation(doc, FieldDerivedFrom); ok {
		pm.DerivedFrom = &Link{Relation: &rel}
	} else if legacy, isText := doc.Get(FieldDerivedFrom).Text(); isText && legacy != "" {
		pm.DerivedFrom = &Link{Legacy: legacy}
	}

	if obj, ok := parseJSONObject(doc.Text(FieldParam)); ok {
		pm.Param = obj
	}
	return pm
}

// resolveRelation reads the relation stored under name. A structured value
// under name itself wins; otherwise the flat <name>_href, <name>_type and
// <name>_title fields are combined. ok is false when nothing is set.
func resolveRelation(doc form.Submission, name string) (form.Relation, bool) {
	if rel, structured := doc.Get(name).Relation(); structured {
		return rel, !rel.IsEmpty()
	}
	rel := form.Relation{
		Href:  doc.Text(name + "_href"),
		Type:  doc.Text(name + "_type"),
		Title: doc.Text(name + "_title"),
	}
	return rel, !rel.IsEmpty()
}

func parseNumber(v form.Value) (float64, bool) {
	text, ok := v.Text()
	if !ok || text == "" {
		return 0, false
	}
	return matrix.ParseFloat(text)
}

// parseJSONObject decodes s when it holds a JSON object.
func parseJSONObject(s string) (map[string]any, bool) {
	if strings.TrimSpace(s) == "" {
		return nil, false
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}
