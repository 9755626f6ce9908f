package httpapi

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	santhosh "github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFiles embed.FS

var (
	createKeySchema = mustCompileSchema("schemas/create_key.json")
	patchKeySchema  = mustCompileSchema("schemas/patch_key.json")
)

func mustCompileSchema(name string) *santhosh.Schema {
	raw, err := schemaFiles.ReadFile(name)
	if err != nil {
		panic(fmt.Sprintf("read schema %s: %v", name, err))
	}
	sch, err := compileSchema(name, raw)
	if err != nil {
		panic(fmt.Sprintf("compile schema %s: %v", name, err))
	}
	return sch
}

func compileSchema(name string, schemaJSON []byte) (*santhosh.Schema, error) {
	compiler := santhosh.NewCompiler()
	compiler.Draft = santhosh.Draft7
	if err := compiler.AddResource(name, bytes.NewReader(schemaJSON)); err != nil {
		return nil, err
	}
	return compiler.Compile(name)
}

// schemaViolation lists every leaf failure of a request body.
type schemaViolation struct {
	Errors []string
}

func (e *schemaViolation) Error() string {
	return fmt.Sprintf("request body does not match schema: %v", e.Errors)
}

func runValidation(sch *santhosh.Schema, data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal body: %w", err)
	}
	if err := sch.Validate(v); err != nil {
		var ve *santhosh.ValidationError
		if errors.As(err, &ve) {
			return &schemaViolation{Errors: collectValidationErrors(ve)}
		}
		return &schemaViolation{Errors: []string{err.Error()}}
	}
	return nil
}

func collectValidationErrors(ve *santhosh.ValidationError) []string {
	var msgs []string
	for _, cause := range ve.Causes {
		msgs = append(msgs, collectValidationErrors(cause)...)
	}
	if len(ve.Causes) == 0 {
		loc := ve.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		msgs = append(msgs, loc+": "+ve.Message)
	}
	return msgs
}

// decodeValidated reads one JSON document, checks it against sch and decodes
// it into dst. It writes the error response itself and reports false on
// failure.
func (h *Handler) decodeValidated(w http.ResponseWriter, r *http.Request, sch *santhosh.Schema, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return false
	}

	if err := runValidation(sch, body); err != nil {
		var violation *schemaViolation
		if errors.As(err, &violation) {
			h.writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":   "request body does not match schema",
				"details": violation.Errors,
			})
			return false
		}
		h.writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}

	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	if err := ensureEOF(decoder); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}
