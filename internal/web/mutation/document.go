package mutation

import (
	"bytes"
	"embed"
	"fmt"
	"sort"
	"strings"

	"github.com/goccy/go-json"
	"github.com/xeipuuv/gojsonschema"

	"github.com/conduit-lang/jsonapi-server/internal/apierr"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const (
	resourceSchemaID     = "http://jsonapi-server.local/schemas/resource-document.json"
	relationshipSchemaID = "http://jsonapi-server.local/schemas/relationship-document.json"
)

// documentValidator checks the structure of request documents before they are decoded
type documentValidator struct {
	schemas map[string]*gojsonschema.Schema
}

func newDocumentValidator() (*documentValidator, error) {
	type header struct {
		ID string `json:"$id"`
	}

	files, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return nil, fmt.Errorf("cannot read schemas: %w", err)
	}

	v := &documentValidator{schemas: make(map[string]*gojsonschema.Schema)}
	for _, f := range files {
		raw, err := schemaFS.ReadFile("schemas/" + f.Name())
		if err != nil {
			return nil, fmt.Errorf("cannot read schema %s: %w", f.Name(), err)
		}
		var h header
		if err := json.Unmarshal(raw, &h); err != nil {
			return nil, fmt.Errorf("parse error in schema %s: %w", f.Name(), err)
		}
		if h.ID == "" {
			return nil, fmt.Errorf("schema %s does not contain $id", f.Name())
		}
		compiled, err := gojsonschema.NewSchemaLoader().Compile(gojsonschema.NewBytesLoader(raw))
		if err != nil {
			return nil, fmt.Errorf("cannot compile schema %s: %w", h.ID, err)
		}
		v.schemas[h.ID] = compiled
	}
	return v, nil
}

// validate reports every structural problem of body as an InvalidDocument error
func (v *documentValidator) validate(body []byte, schemaID string) error {
	compiled, ok := v.schemas[schemaID]
	if !ok {
		return apierr.Internal(fmt.Errorf("there is no schema %s", schemaID))
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return apierr.InvalidDocument("", "request body is empty")
	}

	result, err := compiled.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return apierr.InvalidDocument("", "request body is not valid JSON")
	}
	if result.Valid() {
		return nil
	}

	var errs apierr.List
	for _, e := range result.Errors() {
		errs.Add(apierr.InvalidDocument(resultPointer(e), "%s", e.Description()))
	}
	sort.SliceStable(errs, func(i, j int) bool { return errs[i].Pointer < errs[j].Pointer })
	return errs
}

// resultPointer converts the dotted field path of a schema error into a JSON Pointer.
// Missing members are reported at the pointer they were expected at.
func resultPointer(e gojsonschema.ResultError) string {
	var tokens []string
	if field := e.Field(); field != "" && field != "(root)" {
		tokens = strings.Split(field, ".")
	}
	if e.Type() == "required" {
		if property, ok := e.Details()["property"].(string); ok {
			tokens = append(tokens, property)
		}
	}
	return apierr.Pointer(tokens...)
}

// resourceDocument is a request document carrying a single resource object
type resourceDocument struct {
	Data resourceObject `json:"data"`
}

type resourceObject struct {
	Type          string                        `json:"type"`
	ID            *string                       `json:"id"`
	Attributes    map[string]interface{}        `json:"attributes"`
	Relationships map[string]relationshipObject `json:"relationships"`
}

type relationshipObject struct {
	Data json.RawMessage `json:"data"`
}

type identifier struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// linkage is decoded relationship data: a single identifier or null, or an array
type linkage struct {
	many bool
	ids  []identifier
}

func decodeLinkage(raw json.RawMessage) (linkage, error) {
	trimmed := bytes.TrimSpace(raw)
	switch {
	case len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")):
		return linkage{}, nil
	case trimmed[0] == '[':
		var ids []identifier
		if err := json.Unmarshal(trimmed, &ids); err != nil {
			return linkage{}, err
		}
		if ids == nil {
			ids = []identifier{}
		}
		return linkage{many: true, ids: ids}, nil
	}
	var id identifier
	if err := json.Unmarshal(trimmed, &id); err != nil {
		return linkage{}, err
	}
	return linkage{ids: []identifier{id}}, nil
}

func decode(body []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return apierr.InvalidDocument("", "request body could not be decoded: %v", err)
	}
	return nil
}

// decodeResource validates and decodes a resource document
func (h *Handler) decodeResource(body []byte) (*resourceDocument, error) {
	if err := h.validator.validate(body, resourceSchemaID); err != nil {
		return nil, err
	}
	var doc resourceDocument
	if err := decode(body, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// decodeRelationship validates and decodes a relationship document
func (h *Handler) decodeRelationship(body []byte) (linkage, error) {
	if err := h.validator.validate(body, relationshipSchemaID); err != nil {
		return linkage{}, err
	}
	var doc relationshipObject
	if err := decode(body, &doc); err != nil {
		return linkage{}, err
	}
	l, err := decodeLinkage(doc.Data)
	if err != nil {
		return linkage{}, apierr.InvalidDocument("/data", "malformed resource linkage")
	}
	return l, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
