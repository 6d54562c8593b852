package validation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/topo4dform/item"
)

const testSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["properties"],
  "properties": {
    "properties": {
      "type": "object",
      "required": ["datetime", "topo4d:data_type"],
      "properties": {
        "datetime": {"type": "string"},
        "topo4d:data_type": {"type": "string", "enum": ["pointcloud", "raster"]},
        "topo4d:duration": {"$ref": "defs.json#/definitions/positive"}
      }
    },
    "assets": {
      "type": "object",
      "properties": {
        "data": {
          "type": "object",
          "required": ["href"],
          "properties": {
            "href": {"type": "string", "minLength": 1},
            "type": {"type": "string", "pattern": "^[a-z]+/"}
          }
        }
      }
    }
  }
}`

const testDefs = `{
  "definitions": {
    "positive": {"type": "number", "exclusiveMinimum": 0}
  }
}`

const duplicateSchema = `{
  "allOf": [
    {"properties": {"x": {"type": "string"}}},
    {"properties": {"x": {"type": "string"}}}
  ]
}`

func schemaServer(t *testing.T, files map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func loadTestValidator(t *testing.T) *Validator {
	t.Helper()
	srv := schemaServer(t, map[string]string{
		"/schema.json": testSchema,
		"/defs.json":   testDefs,
	})
	v, err := Load(context.Background(), Options{URL: srv.URL + "/schema.json", Client: srv.Client()})
	require.NoError(t, err)
	return v
}

func paths(findings []Finding) []string {
	out := make([]string, len(findings))
	for i, f := range findings {
		out[i] = f.Path
	}
	return out
}

func TestValidate_Valid(t *testing.T) {
	v := loadTestValidator(t)

	res, err := v.Validate(map[string]any{
		"properties": map[string]any{
			"datetime":         "2023-05-01T00:00:00Z",
			"topo4d:data_type": "pointcloud",
			"topo4d:duration":  3.5,
		},
	})
	require.NoError(t, err)
	assert.True(t, res.Valid())
	assert.Empty(t, res.Error())
}

func TestValidate_CollectsAllViolations(t *testing.T) {
	v := loadTestValidator(t)

	res, err := v.Validate(map[string]any{
		"properties": map[string]any{
			"topo4d:duration": -1,
		},
		"assets": map[string]any{
			"data": map[string]any{"href": ""},
		},
	})
	require.NoError(t, err)
	require.False(t, res.Valid())

	assert.ElementsMatch(t, []string{
		"properties/datetime",
		"properties/topo4d:data_type",
		"properties/topo4d:duration",
		"assets/data/href",
	}, paths(res.Findings))

	for _, f := range res.Findings {
		assert.NotEmpty(t, f.Message)
		assert.Contains(t, res.Error(), f.String())
	}
}

func TestValidate_NullDatetime(t *testing.T) {
	v := loadTestValidator(t)

	doc := item.Assemble(item.Properties{Extension: map[string]any{"topo4d:data_type": "raster"}}, nil, nil, item.Options{})
	res, err := v.Validate(doc)
	require.NoError(t, err)
	assert.Equal(t, []string{"properties/datetime"}, paths(res.Findings))
}

func TestValidate_DeduplicatesIdenticalFindings(t *testing.T) {
	srv := schemaServer(t, map[string]string{"/dup.json": duplicateSchema})
	v, err := Load(context.Background(), Options{URL: srv.URL + "/dup.json", Client: srv.Client()})
	require.NoError(t, err)

	res, err := v.Validate(map[string]any{"x": 1})
	require.NoError(t, err)
	require.Len(t, res.Findings, 1)
	assert.Equal(t, "x", res.Findings[0].Path)
}

func TestValidate_NilValidator(t *testing.T) {
	var v *Validator
	_, err := v.Validate(map[string]any{})
	assert.ErrorIs(t, err, ErrSchemaUnavailable)
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "schema.json")
	require.NoError(t, os.WriteFile(path, []byte(duplicateSchema), 0o644))

	v, err := Load(context.Background(), Options{URL: path})
	require.NoError(t, err)
	assert.Equal(t, path, v.URL())

	res, err := v.Validate(map[string]any{"x": "ok"})
	require.NoError(t, err)
	assert.True(t, res.Valid())
}

func TestLoad_Failures(t *testing.T) {
	srv := schemaServer(t, map[string]string{"/broken.json": `{"type": `})

	tests := []struct {
		name string
		url  string
	}{
		{"not found", srv.URL + "/missing.json"},
		{"malformed", srv.URL + "/broken.json"},
		{"missing file", filepath.Join(t.TempDir(), "nope.json")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(context.Background(), Options{URL: tt.url, Client: srv.Client()})
			assert.Error(t, err)
		})
	}
}

func TestGlobal(t *testing.T) {
	ResetGlobal()
	t.Cleanup(ResetGlobal)

	_, err := Global()
	assert.ErrorIs(t, err, ErrSchemaUnavailable)

	srv := schemaServer(t, map[string]string{"/dup.json": duplicateSchema})
	v1, err := LoadGlobal(context.Background(), Options{URL: srv.URL + "/dup.json", Client: srv.Client()})
	require.NoError(t, err)

	// Later loads do not refetch, even with a different location.
	v2, err := LoadGlobal(context.Background(), Options{URL: srv.URL + "/missing.json", Client: srv.Client()})
	require.NoError(t, err)
	assert.Same(t, v1, v2)

	v3, err := Global()
	require.NoError(t, err)
	assert.Same(t, v1, v3)
}

func TestValidateAsset(t *testing.T) {
	v := loadTestValidator(t)

	t.Run("valid asset ignores item findings", func(t *testing.T) {
		res, err := v.ValidateAsset(&item.Asset{Href: "https://example.org/scan.laz", Type: "application/vnd.laszip"})
		require.NoError(t, err)
		assert.True(t, res.Valid(), res.Error())
	})

	t.Run("invalid field", func(t *testing.T) {
		res, err := v.ValidateAsset(&item.Asset{Href: "scan.laz", Type: "LAZ"})
		require.NoError(t, err)
		assert.Equal(t, []string{"assets/data/type"}, paths(res.Findings))
	})

	t.Run("empty href", func(t *testing.T) {
		for _, a := range []*item.Asset{nil, {Href: ""}, {Href: "  ", Title: "x"}} {
			res, err := v.ValidateAsset(a)
			require.NoError(t, err)
			require.Len(t, res.Findings, 1)
			assert.Equal(t, MessageEmptyHref, res.Findings[0].Message)
		}
	})
}
