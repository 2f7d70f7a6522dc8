package graph

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Divas-Gupta30/helix/helix-agent/internal/memory"
)

type templatesFile struct {
	Templates map[string]string `yaml:"templates"`
}

// LoadTemplates reads template overrides from YAML of the form
//
//	templates:
//	  gene_disease: |
//	    MATCH ... LIMIT $limit
//
// and returns DefaultTemplates with them applied. Every override must be a
// known question type and pass ValidateQuery.
func LoadTemplates(r io.Reader) (map[memory.QuestionType]Template, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading templates: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var f templatesFile
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decoding templates: %w", err)
	}

	out := DefaultTemplates()
	for name, text := range f.Templates {
		qt := memory.QuestionType(name)
		if !qt.Valid() {
			return nil, fmt.Errorf("template %q: unknown question type", name)
		}
		if err := ValidateQuery(text); err != nil {
			return nil, fmt.Errorf("template %q: %w", name, err)
		}
		out[qt] = Template{Name: name, Text: text}
	}
	return out, nil
}

// LoadTemplatesFile is LoadTemplates on the file at path.
func LoadTemplatesFile(path string) (map[memory.QuestionType]Template, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadTemplates(f)
}
