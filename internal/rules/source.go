package rules

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/fraudwatch/internal/atomicfile"
	"github.com/opensource-finance/fraudwatch/internal/domain"
)

// FileSource keeps the rule document in a JSON or YAML file, chosen by extension.
type FileSource struct {
	path string
	mu   sync.Mutex
}

// NewFileSource creates a source for path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Path returns the document path.
func (f *FileSource) Path() string { return f.path }

func (f *FileSource) String() string { return "file:" + f.path }

func (f *FileSource) isYAML() bool {
	ext := strings.ToLower(filepath.Ext(f.path))
	return ext == ".yaml" || ext == ".yml"
}

// LoadRules reads and decodes the whole document.
func (f *FileSource) LoadRules(ctx context.Context) (domain.RuleDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	data, err := os.ReadFile(f.path)
	f.mu.Unlock()
	if err != nil {
		return nil, &domain.ConfigLoadError{Source: f.String(), Err: err}
	}

	doc := domain.RuleDocument{}
	if f.isYAML() {
		err = yaml.Unmarshal(data, &doc)
	} else {
		err = json.Unmarshal(data, &doc)
	}
	if err != nil {
		return nil, &domain.ConfigLoadError{Source: f.String(), Err: fmt.Errorf("failed to decode rule document: %w", err)}
	}
	return doc, nil
}

// SaveRules writes the whole document through a temp file and rename, so a
// concurrent reader sees either the old or the new document.
func (f *FileSource) SaveRules(ctx context.Context, doc domain.RuleDocument) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var data []byte
	var err error
	if f.isYAML() {
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err = enc.Encode(doc); err == nil {
			err = enc.Close()
		}
		data = buf.Bytes()
	} else {
		data, err = json.MarshalIndent(doc, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to encode rule document: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return atomicfile.Write(f.path, data, 0o644)
}
