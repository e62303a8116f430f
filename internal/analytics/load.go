package analytics

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"statsq/internal/pkg/apperrors"
)

// DecodeRequest reads a QueryRequest written as YAML or JSON. Unknown fields are
// rejected in both formats.
func DecodeRequest(data []byte, format string) (QueryRequest, error) {
	var req QueryRequest
	switch strings.ToLower(format) {
	case "yaml", "yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&req); err != nil {
			return req, apperrors.NewValidationError(apperrors.CodeInvalidRequest, "", "decode yaml request: %v", err)
		}
	case "json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			return req, apperrors.NewValidationError(apperrors.CodeInvalidRequest, "", "decode json request: %v", err)
		}
	default:
		return req, fmt.Errorf("unsupported request format %q", format)
	}
	return req, nil
}

// LoadRequestFile reads a request file, picking the format from its extension.
func LoadRequestFile(path string) (QueryRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return QueryRequest{}, fmt.Errorf("read request file: %w", err)
	}
	format := strings.TrimPrefix(filepath.Ext(path), ".")
	if format == "" {
		format = "json"
	}
	return DecodeRequest(data, format)
}
