// Package schema loads the canonical per-entity-type field-schema document
// and exposes lookups for the normalizer and the repository table allowlist.
// The document is owned by configuration management; this package only reads it.
package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/talentbridge-systems/crmsync/internal/logging"
	"github.com/talentbridge-systems/crmsync/internal/metrics"
)

// Data types recognized by the field normalizer.
const (
	TypePhone      = "phone"
	TypeMultiValue = "multi_value"
	TypeTimestamp  = "timestamp"
	TypeString     = "string"
	TypeNumber     = "number"
	TypeBoolean    = "boolean"
)

// Field describes one field of an entity schema.
type Field struct {
	DataType string `yaml:"data_type"`
	Required bool   `yaml:"required"`
}

// Entity is the field schema for one entity type.
type Entity struct {
	Fields map[string]Field `yaml:"fields"`
}

// document is the parsed schema file plus its content checksum. It is
// immutable once built; reloads swap the whole document, never mutate it.
type document struct {
	entities map[string]Entity
	checksum string
}

// Registry provides lock-free concurrent reads of the schema document and
// wholesale reloads when the source checksum changes.
type Registry struct {
	path   string
	doc    atomic.Pointer[document]
	logger *logging.Logger
}

// Load reads the schema document from path and builds a registry.
func Load(path string, logger *logging.Logger) (*Registry, error) {
	if logger == nil {
		logger = logging.Default()
	}
	r := &Registry{path: path, logger: logger}

	doc, err := readDocument(path)
	if err != nil {
		return nil, err
	}
	r.doc.Store(doc)
	return r, nil
}

func readDocument(path string) (*document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema document: %w", err)
	}

	var parsed struct {
		Entities map[string]Entity `yaml:"entities"`
	}
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse schema document: %w", err)
	}
	if len(parsed.Entities) == 0 {
		return nil, fmt.Errorf("schema document %s defines no entities", path)
	}

	sum := sha256.Sum256(data)
	return &document{
		entities: parsed.Entities,
		checksum: hex.EncodeToString(sum[:]),
	}, nil
}

// Checksum returns the SHA-256 checksum of the currently loaded document.
func (r *Registry) Checksum() string {
	return r.doc.Load().checksum
}

// Lookup returns the field schema for an entity type.
func (r *Registry) Lookup(entityType string) (Entity, bool) {
	e, ok := r.doc.Load().entities[entityType]
	return e, ok
}

// FieldType returns the declared data type for a field of an entity type.
func (r *Registry) FieldType(entityType, field string) (string, bool) {
	e, ok := r.doc.Load().entities[entityType]
	if !ok {
		return "", false
	}
	f, ok := e.Fields[field]
	if !ok {
		return "", false
	}
	return f.DataType, true
}

// Knows reports whether entityType is declared in the schema document.
// The repository uses this as the table-name allowlist.
func (r *Registry) Knows(entityType string) bool {
	_, ok := r.doc.Load().entities[entityType]
	return ok
}

// EntityTypes returns the declared entity types in sorted order.
func (r *Registry) EntityTypes() []string {
	entities := r.doc.Load().entities
	out := make([]string, 0, len(entities))
	for name := range entities {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Reload re-reads the source document and swaps it in if its checksum
// differs from the loaded one. Returns true when a new document was applied.
func (r *Registry) Reload() (bool, error) {
	doc, err := readDocument(r.path)
	if err != nil {
		return false, err
	}
	if doc.checksum == r.doc.Load().checksum {
		return false, nil
	}
	r.doc.Store(doc)
	metrics.SchemaReloads.Inc()
	r.logger.Info("schema registry reloaded", "checksum", doc.checksum)
	return true, nil
}

// StartWatcher polls the source document on the given interval and applies
// reloads until ctx is done. Returns a stop function.
func (r *Registry) StartWatcher(interval time.Duration) func() {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := r.Reload(); err != nil {
					r.logger.Warn("schema reload failed", logging.Error(err))
				}
			case <-stop:
				return
			}
		}
	}()
	return func() { close(stop) }
}
