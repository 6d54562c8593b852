package item

import (
	"encoding/json"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/topo4dform/form"
	"github.com/c360studio/topo4dform/geometry"
)

const testSchemaURL = "https://example.com/topo4d/v1.0.0/schema.json"

// toMap round-trips v through JSON so assertions see the wire shape.
func toMap(t *testing.T, v any) map[string]any {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func TestBuildProperties_EndToEndExample(t *testing.T) {
	doc := form.Submission{
		"item_id":                        form.Scalar("site_01"),
		"datetime":                       form.Scalar("2024-01-01T00:00:00Z"),
		"topo4d_data_type":               form.Scalar("pointcloud"),
		"trafometa_reference_epoch_href": form.Scalar("https://x/epoch.json"),
	}

	props := BuildProperties(doc)
	it := toMap(t, Assemble(props, nil, nil, Options{SchemaURL: testSchemaURL}))

	assert.Equal(t, "site_01", it["id"])
	properties := it["properties"].(map[string]any)
	assert.Equal(t, "2024-01-01T00:00:00Z", properties["datetime"])
	assert.Equal(t, "pointcloud", properties["topo4d:data_type"])

	trafo := properties["topo4d:trafometa"].(map[string]any)
	epoch := trafo["reference_epoch"].(map[string]any)
	assert.Equal(t, map[string]any{"href": "https://x/epoch.json"}, epoch)

	assert.NotContains(t, properties, "topo4d:productmeta")
}

func TestBuildProperties_TextAndNumericTables(t *testing.T) {
	props := BuildProperties(form.Submission{
		"topo4d_timezone":            form.Scalar("Europe/Berlin"),
		"topo4d_acquisition_mode":    form.Scalar("ULS"),
		"topo4d_orientation":         form.Scalar(""),
		"topo4d_duration":            form.Scalar("3600"),
		"topo4d_spatial_resolution":  form.Scalar("0.05"),
		"topo4d_positional_accuracy": form.Scalar("not a number"),
	})

	assert.Equal(t, "Europe/Berlin", props.Extension[PropTimezone])
	assert.Equal(t, "ULS", props.Extension[PropAcquisitionMode])
	assert.NotContains(t, props.Extension, PropOrientation, "empty text is omitted")
	assert.Equal(t, 3600.0, props.Extension[PropDuration])
	assert.Equal(t, 0.05, props.Extension[PropSpatialResolution])
	assert.NotContains(t, props.Extension, PropPositionalAccuracy, "failed coercion omits only that field")
}

func TestBuildProperties_EmptyNestedObjectsOmitted(t *testing.T) {
	props := BuildProperties(form.Submission{
		"trafometa_reference_epoch_href":  form.Scalar(""),
		"trafometa_reference_epoch_type":  form.Scalar(""),
		"trafometa_registration_error":    form.Scalar("abc"),
		"trafometa_transformation":        form.Scalar("1,x"),
		"trafometa_rotation":              form.Grid([][]string{{"1", ""}}),
		"productmeta_product_name":        form.Scalar(""),
		"productmeta_derived_from_title":  form.Scalar(""),
		"productmeta_param":               form.Scalar("[1,2]"),
		"productmeta_product_level":       form.Scalar(""),
		"trafometa_affine_transformation": form.Scalar(""),
	})

	assert.NotContains(t, props.Extension, PropTrafoMeta)
	assert.NotContains(t, props.Extension, PropProductMeta)

	m := toMap(t, props.Extension)
	assert.Empty(t, m)
}

func TestBuildProperties_TrafoMeta(t *testing.T) {
	props := BuildProperties(form.Submission{
		"trafometa_registration_error": form.Scalar("0.012"),
		"trafometa_transformation":     form.Scalar("1,0;0,1"),
		"trafometa_rotation":           form.Grid([][]string{{"1", "0"}, {"0", "1"}}),
		"trafometa_translation":        form.Scalar("1,2,x"),
		"trafometa_reduction_point":    form.Scalar("100,200,0"),
	})

	tm, ok := props.Extension[PropTrafoMeta].(*TrafoMeta)
	require.True(t, ok)
	require.NotNil(t, tm.RegistrationError)
	assert.Equal(t, 0.012, *tm.RegistrationError)
	assert.Equal(t, [][]float64{{1, 0}, {0, 1}}, tm.Transformation)
	assert.Equal(t, [][]float64{{1, 0}, {0, 1}}, tm.Rotation)
	assert.Nil(t, tm.Translation, "failed matrix is omitted")
	assert.Equal(t, [][]float64{{100, 200, 0}}, tm.ReductionPoint)
	assert.Nil(t, tm.ReferenceEpoch)

	m := toMap(t, tm)
	assert.NotContains(t, m, "translation")
	assert.NotContains(t, m, "reference_epoch")
}

func TestResolveRelation_Precedence(t *testing.T) {
	t.Run("structured wins over flat", func(t *testing.T) {
		doc := form.Submission{
			"trafometa_reference_epoch":       form.Rel(form.Relation{Href: "structured", Type: "application/json"}),
			"trafometa_reference_epoch_href":  form.Scalar("flat"),
			"trafometa_reference_epoch_title": form.Scalar("Flat title"),
		}
		rel, ok := resolveRelation(doc, FieldReferenceEpoch)
		require.True(t, ok)
		assert.Equal(t, form.Relation{Href: "structured", Type: "application/json"}, rel)
	})

	t.Run("flat fields combine", func(t *testing.T) {
		doc := form.Submission{
			"trafometa_reference_epoch_href":  form.Scalar("h"),
			"trafometa_reference_epoch_type":  form.Scalar(""),
			"trafometa_reference_epoch_title": form.Scalar("t"),
		}
		rel, ok := resolveRelation(doc, FieldReferenceEpoch)
		require.True(t, ok)
		assert.Equal(t, form.Relation{Href: "h", Title: "t"}, rel)
		assert.JSONEq(t, `{"href":"h","title":"t"}`, mustJSON(t, rel))
	})

	t.Run("nothing set", func(t *testing.T) {
		_, ok := resolveRelation(form.Submission{}, FieldReferenceEpoch)
		assert.False(t, ok)
	})
}

func TestBuildProperties_ProductMeta(t *testing.T) {
	t.Run("relation and param", func(t *testing.T) {
		props := BuildProperties(form.Submission{
			"productmeta_product_name":      form.Scalar("M3C2 distances"),
			"productmeta_product_level":     form.Scalar("L2"),
			"productmeta_derived_from_href": form.Scalar("https://x/source.json"),
			"productmeta_param":             form.Scalar(`{"radius": 0.5, "method": "m3c2"}`),
		})

		m := toMap(t, props.Extension)
		pm := m[PropProductMeta].(map[string]any)
		assert.Equal(t, "M3C2 distances", pm["product_name"])
		assert.Equal(t, "L2", pm["product_level"])
		assert.Equal(t, map[string]any{"href": "https://x/source.json"}, pm["derived_from"])
		assert.Equal(t, map[string]any{"radius": 0.5, "method": "m3c2"}, pm["param"])
	})

	t.Run("legacy string when no relation fields", func(t *testing.T) {
		props := BuildProperties(form.Submission{
			"productmeta_derived_from": form.Scalar("survey-2023"),
		})
		m := toMap(t, props.Extension)
		pm := m[PropProductMeta].(map[string]any)
		assert.Equal(t, "survey-2023", pm["derived_from"])
	})

	t.Run("flat relation beats legacy string", func(t *testing.T) {
		props := BuildProperties(form.Submission{
			"productmeta_derived_from":       form.Scalar("survey-2023"),
			"productmeta_derived_from_title": form.Scalar("Survey"),
		})
		m := toMap(t, props.Extension)
		pm := m[PropProductMeta].(map[string]any)
		assert.Equal(t, map[string]any{"title": "Survey"}, pm["derived_from"])
	})

	t.Run("invalid param omitted", func(t *testing.T) {
		for _, param := range []string{"{", "null", `"text"`, "42", "[]"} {
			props := BuildProperties(form.Submission{
				"productmeta_param": form.Scalar(param),
			})
			assert.NotContains(t, props.Extension, PropProductMeta, "param %q", param)
		}
	})
}

func TestBuildAsset(t *testing.T) {
	tests := []struct {
		name   string
		doc    form.Submission
		want   *Asset
		wantOK bool
	}{
		{
			name:   "empty href yields no asset",
			doc:    form.Submission{"href": form.Scalar(""), "title": form.Scalar("x")},
			wantOK: false,
		},
		{
			name:   "missing href yields no asset",
			doc:    form.Submission{"title": form.Scalar("x")},
			wantOK: false,
		},
		{
			name: "roles from text",
			doc: form.Submission{
				"href":       form.Scalar("https://example.com/data.laz"),
				"title":      form.Scalar("Point cloud"),
				"media_type": form.Scalar("application/vnd.laszip"),
				"roles":      form.Scalar(" data, , metadata,data "),
			},
			want: &Asset{
				Href:  "https://example.com/data.laz",
				Title: "Point cloud",
				Type:  "application/vnd.laszip",
				Roles: []string{"data", "metadata"},
			},
			wantOK: true,
		},
		{
			name: "normalized document",
			doc: NormalizeAssetSubmission(form.Submission{
				"href":       form.Scalar("s3://bucket/a.laz"),
				"media_type": form.Scalar("application/vnd.laszip"),
				"roles":      form.Scalar(" , "),
			}),
			want: &Asset{
				Href: "s3://bucket/a.laz",
				Type: "application/vnd.laszip",
			},
			wantOK: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := BuildAsset(tt.doc)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeAssetSubmission(t *testing.T) {
	in := form.Submission{
		"media_type": form.Scalar("image/tiff"),
		"roles":      form.Scalar("data,overview"),
	}
	out := NormalizeAssetSubmission(in)

	assert.Equal(t, form.Scalar("image/tiff"), out["type"])
	assert.NotContains(t, out, "media_type")
	assert.Equal(t, form.List("data", "overview"), out["roles"])

	// Input untouched.
	assert.Contains(t, in, "media_type")

	empty := NormalizeAssetSubmission(form.Submission{"roles": form.Scalar("")})
	assert.NotContains(t, empty, "roles")
}

func TestAssemble_Defaults(t *testing.T) {
	it := Assemble(Properties{}, nil, nil, Options{SchemaURL: testSchemaURL})

	assert.Equal(t, DefaultID, it.ID)
	assert.Equal(t, FeatureType, it.Type)
	assert.Equal(t, []string{testSchemaURL}, it.StacExtensions)
	assert.Equal(t, DefaultStacVersion, it.StacVersion)

	m := toMap(t, it)
	assert.Equal(t, []any{0.0, 0.0, 0.0, 0.0}, m["bbox"])
	assert.Equal(t, map[string]any{}, m["assets"])
	props := m["properties"].(map[string]any)
	assert.Contains(t, props, "datetime")
	assert.Nil(t, props["datetime"])

	geom := m["geometry"].(map[string]any)
	assert.Equal(t, "Polygon", geom["type"])
}

func TestAssemble_DerivedFootprintAndAssets(t *testing.T) {
	footprint := geometry.FromBound(orb.Bound{Min: orb.Point{10, 20}, Max: orb.Point{30, 40}}, "EPSG:4326")
	assets := BuildAssets(form.Submission{"href": form.Scalar("https://example.com/a.laz")})

	it := Assemble(Properties{ID: "site", Datetime: "2024-03-05 10:00:00"}, assets, footprint, Options{SelfHref: "./site.json"})
	m := toMap(t, it)

	assert.Equal(t, []any{10.0, 20.0, 30.0, 40.0}, m["bbox"])
	assert.Equal(t, "2024-03-05T10:00:00Z", m["properties"].(map[string]any)["datetime"])
	assert.Equal(t, map[string]any{"href": "https://example.com/a.laz"}, m["assets"].(map[string]any)["data"])
	assert.Equal(t, []any{}, m["stac_extensions"])

	links := m["links"].([]any)
	require.Len(t, links, 1)
	assert.Equal(t, "./site.json", links[0].(map[string]any)["href"])
}

func TestAssemble_UnparseableDatetimeKept(t *testing.T) {
	it := Assemble(Properties{Datetime: "sometime last spring"}, nil, nil, Options{})
	assert.Equal(t, "sometime last spring", it.Properties["datetime"])
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}
