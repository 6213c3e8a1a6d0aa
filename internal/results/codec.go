package results

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrCorruptDocument = errors.New("corrupt results document")

// encodeDocument renders doc pretty-printed with a trailing newline.
func encodeDocument(doc Document) ([]byte, error) {
	doc.SchemaVersion = SchemaVersion
	if doc.Executions == nil {
		doc.Executions = map[string]Execution{}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// decodeDocument parses a sidecar in the current map shape or in the
// legacy shapes: a top-level array of executions, or an object whose
// executions field is an array.
func decodeDocument(data []byte) (Document, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Document{}, fmt.Errorf("%w: empty", ErrCorruptDocument)
	}

	if data[0] == '[' {
		var list []Execution
		if err := json.Unmarshal(data, &list); err != nil {
			return Document{}, fmt.Errorf("%w: %v", ErrCorruptDocument, err)
		}
		return migrate("", list), nil
	}

	var raw struct {
		SchemaVersion int             `json:"schema_version"`
		SourcePath    string          `json:"source_path"`
		Executions    json.RawMessage `json:"executions"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrCorruptDocument, err)
	}

	execs := bytes.TrimSpace(raw.Executions)
	if len(execs) > 0 && execs[0] == '[' {
		var list []Execution
		if err := json.Unmarshal(execs, &list); err != nil {
			return Document{}, fmt.Errorf("%w: %v", ErrCorruptDocument, err)
		}
		return migrate(raw.SourcePath, list), nil
	}

	doc := NewDocument(raw.SourcePath)
	if len(execs) > 0 && !bytes.Equal(execs, []byte("null")) {
		if err := json.Unmarshal(execs, &doc.Executions); err != nil {
			return Document{}, fmt.Errorf("%w: %v", ErrCorruptDocument, err)
		}
	}
	for id, e := range doc.Executions {
		e.Identity = id
		doc.Executions[id] = normalize(e)
	}
	return doc, nil
}

// normalize gives streams missing from older documents an empty inline value.
func normalize(e Execution) Execution {
	if e.Stdout.Kind == "" {
		e.Stdout = Inline(nil)
	}
	if e.Stderr.Kind == "" {
		e.Stderr = Inline(nil)
	}
	return e
}

// migrate turns a legacy execution list into the map shape. The entry
// with the latest start time wins for each identity.
func migrate(sourcePath string, list []Execution) Document {
	doc := NewDocument(sourcePath)
	doc.Migrated = true
	for _, e := range list {
		if e.Identity == "" {
			continue
		}
		if prev, ok := doc.Executions[e.Identity]; ok && !e.StartedAt.After(prev.StartedAt) {
			continue
		}
		doc.Executions[e.Identity] = normalize(e)
	}
	return doc
}
