package source

import (
	"context"
	"os"
	"path/filepath"

	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"

	"github.com/quellabs/objectquel/internal/quel/fault"
)

// JSONLoader reads JSON documents from files. Relative paths resolve
// against BaseDir.
type JSONLoader struct {
	BaseDir string
}

// NewJSONLoader creates a loader rooted at baseDir.
func NewJSONLoader(baseDir string) *JSONLoader {
	return &JSONLoader{BaseDir: baseDir}
}

// Resolve returns the file a json_source path refers to.
func (l *JSONLoader) Resolve(path string) string {
	if filepath.IsAbs(path) || l.BaseDir == "" {
		return path
	}
	return filepath.Join(l.BaseDir, path)
}

// Load returns the records of a JSON file. The document, or the JSONPath
// selection when jsonPath is set, must be an object or an array of
// objects; a single array match is flattened.
func (l *JSONLoader) Load(ctx context.Context, path, jsonPath string) ([]map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	file := l.Resolve(path)
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fault.Newf(fault.SourceCode, "reading JSON source %s", file).WithOriginal(err)
	}
	doc, err := oj.Parse(data)
	if err != nil {
		return nil, fault.Newf(fault.SourceCode, "decoding JSON source %s", file).WithOriginal(err)
	}

	selected := []any{doc}
	if jsonPath != "" {
		expr, err := jp.ParseString(jsonPath)
		if err != nil {
			return nil, fault.Newf(fault.JSONPathCode, "invalid JSONPath %q for %s", jsonPath, file).WithOriginal(err)
		}
		selected = expr.Get(doc)
	}
	if len(selected) == 1 {
		if list, ok := selected[0].([]any); ok {
			selected = list
		}
	}

	records := make([]map[string]any, 0, len(selected))
	for i, v := range selected {
		obj, ok := v.(map[string]any)
		if !ok {
			return nil, fault.Newf(fault.SourceCode, "JSON source %s: record %d is %s, not an object", file, i, kindOf(v))
		}
		records = append(records, obj)
	}
	return records, nil
}

func kindOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case []any:
		return "an array"
	case string:
		return "a string"
	case bool:
		return "a boolean"
	case int64, float64:
		return "a number"
	}
	return "a value"
}
