// Package validation checks assembled Items against the Topo4D JSON Schema.
//
// The schema is fetched once per process and compiled; validation then
// collects every violation in a single pass and reports each as a
// path-qualified finding.
package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// ErrSchemaUnavailable is returned when validation is attempted without a
// loaded schema.
var ErrSchemaUnavailable = errors.New("schema not loaded")

// Finding is one schema violation.
type Finding struct {
	// Path is the slash-joined location of the violation in the document;
	// empty at the root.
	Path    string `json:"path"`
	Message string `json:"message"`
}

// String renders the finding as "path: message".
func (f Finding) String() string {
	return f.Path + ": " + f.Message
}

// Result is the outcome of validating one document. The zero Result is
// valid.
type Result struct {
	Findings []Finding `json:"findings,omitempty"`
}

// Valid reports whether there are no findings.
func (r Result) Valid() bool { return len(r.Findings) == 0 }

// Error joins the findings with newlines; empty when valid.
func (r Result) Error() string {
	lines := make([]string, len(r.Findings))
	for i, f := range r.Findings {
		lines[i] = f.String()
	}
	return strings.Join(lines, "\n")
}

// Validator validates documents against one compiled schema. It is safe for
// concurrent use and never modified after construction.
type Validator struct {
	schema  *jsonschema.Schema
	url     string
	printer *message.Printer
}

// URL returns the location the schema was loaded from.
func (v *Validator) URL() string { return v.url }

// Validate checks doc, which may be any value that encodes to JSON. All
// violations are collected; findings with the same text are reported once,
// in the order first seen.
func (v *Validator) Validate(doc any) (Result, error) {
	if v == nil || v.schema == nil {
		return Result{}, ErrSchemaUnavailable
	}

	inst, err := toInstance(doc)
	if err != nil {
		return Result{}, fmt.Errorf("encode document: %w", err)
	}

	err = v.schema.Validate(inst)
	if err == nil {
		return Result{}, nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return Result{}, fmt.Errorf("validate: %w", err)
	}

	var findings []Finding
	v.collect(ve, &findings)
	return Result{Findings: dedupe(findings)}, nil
}

// collect walks the error tree and records its leaves. A missing-properties
// leaf is split into one finding per property, located at the property.
func (v *Validator) collect(ve *jsonschema.ValidationError, out *[]Finding) {
	if len(ve.Causes) > 0 {
		for _, c := range ve.Causes {
			v.collect(c, out)
		}
		return
	}

	if req, ok := ve.ErrorKind.(*kind.Required); ok && len(req.Missing) > 0 {
		for _, prop := range req.Missing {
			one := &kind.Required{Missing: []string{prop}}
			*out = append(*out, Finding{
				Path:    joinPath(append(append([]string(nil), ve.InstanceLocation...), prop)),
				Message: one.LocalizedString(v.printer),
			})
		}
		return
	}

	*out = append(*out, Finding{
		Path:    joinPath(ve.InstanceLocation),
		Message: ve.ErrorKind.LocalizedString(v.printer),
	})
}

func joinPath(segments []string) string {
	return strings.Join(segments, "/")
}

func dedupe(findings []Finding) []Finding {
	seen := make(map[string]bool, len(findings))
	out := findings[:0]
	for _, f := range findings {
		key := f.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, f)
	}
	return out
}

// toInstance converts doc into the generic JSON form the schema validates.
func toInstance(doc any) (any, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(bytes.NewReader(data))
}

func newPrinter() *message.Printer {
	return message.NewPrinter(language.English)
}
