// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ColumnType is the storage type of a mapped column.
type ColumnType string

const (
	ColumnString    ColumnType = "string"
	ColumnNumber    ColumnType = "number"
	ColumnDate      ColumnType = "date"
	ColumnBool      ColumnType = "bool"
	ColumnTimestamp ColumnType = "timestamp"

	// TenantColumn and SyncedAtColumn are added to every entity table.
	TenantColumn   = "tenant_id"
	SyncedAtColumn = "synced_at"
)

var (
	// ErrParsing reports failures that occur while decoding catalog files.
	ErrParsing = errors.New("error parsing")
	// ErrUnknownEntity is returned by Select for types missing from the catalog.
	ErrUnknownEntity = errors.New("unknown entity types")

	//go:embed default_entities.yaml
	defaultCatalog []byte

	identifierRegexp = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)
)

// Column describes how a single column is derived from an upstream record.
// Exactly one of Field and Template must be set.
type Column struct {
	Name     string     `json:"name" yaml:"name"`
	Field    string     `json:"field,omitempty" yaml:"field,omitempty"`
	Template string     `json:"template,omitempty" yaml:"template,omitempty"`
	Type     ColumnType `json:"type" yaml:"type"`
	Required bool       `json:"required,omitempty" yaml:"required,omitempty"`
}

// NaturalKey is the upstream identifier that makes every write idempotent.
type NaturalKey struct {
	Column   string `json:"column" yaml:"column"`
	Template string `json:"template" yaml:"template"`
}

// Entity holds the configuration of one synchronized entity type.
type Entity struct {
	Type          string            `json:"type" yaml:"type"`
	Table         string            `json:"table" yaml:"table"`
	Collection    string            `json:"collection" yaml:"collection"`
	Category      string            `json:"category" yaml:"category"`
	Order         int               `json:"order" yaml:"order"`
	DateWindow    bool              `json:"dateWindow,omitempty" yaml:"dateWindow,omitempty"`
	Filters       map[string]string `json:"filters,omitempty" yaml:"filters,omitempty"`
	Fetch         []string          `json:"fetch" yaml:"fetch"`
	NaturalKey    NaturalKey        `json:"naturalKey" yaml:"naturalKey"`
	CacheFamilies []string          `json:"cacheFamilies" yaml:"cacheFamilies"`
	Columns       []Column          `json:"columns" yaml:"columns"`
}

// ColumnNames returns the natural key column followed by the mapped columns.
func (e Entity) ColumnNames() []string {
	names := make([]string, 0, len(e.Columns)+1)
	names = append(names, e.NaturalKey.Column)
	for _, column := range e.Columns {
		names = append(names, column.Name)
	}
	return names
}

// Catalog is the ordered set of entity types handled by the engine.
type Catalog struct {
	entities []Entity
}

// NewCatalog returns a catalog holding entities sorted by their sync order.
func NewCatalog(entities ...Entity) *Catalog {
	sorted := slices.Clone(entities)
	slices.SortStableFunc(sorted, func(a, b Entity) int {
		return a.Order - b.Order
	})
	return &Catalog{entities: sorted}
}

// Entities returns every entity in sync order.
func (c *Catalog) Entities() []Entity {
	return slices.Clone(c.entities)
}

// Types returns the entity type names in sync order.
func (c *Catalog) Types() []string {
	types := make([]string, 0, len(c.entities))
	for _, entity := range c.entities {
		types = append(types, entity.Type)
	}
	return types
}

// Lookup returns the entity with the given type.
func (c *Catalog) Lookup(entityType string) (Entity, bool) {
	for _, entity := range c.entities {
		if entity.Type == entityType {
			return entity, true
		}
	}
	return Entity{}, false
}

// Select returns the entities matching types in sync order, or all of them when types is empty.
func (c *Catalog) Select(types []string) ([]Entity, error) {
	if len(types) == 0 {
		return c.Entities(), nil
	}

	unknown := make([]string, 0)
	for _, entityType := range types {
		if _, ok := c.Lookup(entityType); !ok {
			unknown = append(unknown, entityType)
		}
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, strings.Join(unknown, ", "))
	}

	selected := make([]Entity, 0, len(types))
	for _, entity := range c.entities {
		if slices.Contains(types, entity.Type) {
			selected = append(selected, entity)
		}
	}
	return selected, nil
}

// CacheFamilies returns the deduplicated union of the cache key families of the given types.
func (c *Catalog) CacheFamilies(types []string) []string {
	families := make([]string, 0)
	for _, entityType := range types {
		entity, ok := c.Lookup(entityType)
		if !ok {
			continue
		}
		for _, family := range entity.CacheFamilies {
			if !slices.Contains(families, family) {
				families = append(families, family)
			}
		}
	}
	slices.Sort(families)
	return families
}

// DefaultCatalog returns the embedded catalog of vendors, customers and transactions.
func DefaultCatalog() (*Catalog, error) {
	return decodeCatalog(bytes.NewReader(defaultCatalog), "default catalog")
}

// LoadCatalog reads the catalog at path, falling back to the embedded default when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog()
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return decodeCatalog(file, path)
}

func decodeCatalog(reader io.Reader, name string) (*Catalog, error) {
	decoder := yaml.NewDecoder(reader)
	decoder.KnownFields(true)

	entities := make([]Entity, 0)
	for {
		entity := new(Entity)
		err := decoder.Decode(&entity)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("%w %q: %w", ErrParsing, name, err)
		}

		// empty documents
		if entity == nil {
			continue
		}

		if err := entity.validate(); err != nil {
			return nil, fmt.Errorf("%w %q: %w", ErrParsing, name, err)
		}
		entities = append(entities, *entity)
	}

	if len(entities) == 0 {
		return nil, fmt.Errorf("%w %q: no entity defined", ErrParsing, name)
	}

	seenTypes := make(map[string]bool, len(entities))
	for _, entity := range entities {
		if seenTypes[entity.Type] {
			return nil, fmt.Errorf("%w %q: duplicated entity type %q", ErrParsing, name, entity.Type)
		}
		seenTypes[entity.Type] = true
	}

	return NewCatalog(entities...), nil
}

func (e *Entity) validate() error {
	errorsList := make([]string, 0)

	missingFields := make([]string, 0)
	if e.Type == "" {
		missingFields = append(missingFields, "type")
	}
	if e.Table == "" {
		missingFields = append(missingFields, "table")
	}
	if e.Collection == "" {
		missingFields = append(missingFields, "collection")
	}
	if e.NaturalKey.Column == "" {
		missingFields = append(missingFields, "naturalKey.column")
	}
	if e.NaturalKey.Template == "" {
		missingFields = append(missingFields, "naturalKey.template")
	}
	if len(e.Columns) == 0 {
		missingFields = append(missingFields, "columns")
	}
	if len(missingFields) > 0 {
		return fmt.Errorf("missing required fields: %s", strings.Join(missingFields, ", "))
	}

	if !identifierRegexp.MatchString(e.Table) {
		errorsList = append(errorsList, fmt.Sprintf("invalid table name %q", e.Table))
	}

	seenColumns := map[string]bool{
		TenantColumn:   true,
		SyncedAtColumn: true,
	}
	if !identifierRegexp.MatchString(e.NaturalKey.Column) || seenColumns[e.NaturalKey.Column] {
		errorsList = append(errorsList, fmt.Sprintf("invalid natural key column %q", e.NaturalKey.Column))
	}
	seenColumns[e.NaturalKey.Column] = true

	for _, column := range e.Columns {
		switch {
		case !identifierRegexp.MatchString(column.Name):
			errorsList = append(errorsList, fmt.Sprintf("invalid column name %q", column.Name))
		case seenColumns[column.Name]:
			errorsList = append(errorsList, fmt.Sprintf("duplicated or reserved column %q", column.Name))
		}
		seenColumns[column.Name] = true

		if (column.Field == "") == (column.Template == "") {
			errorsList = append(errorsList, fmt.Sprintf("column %q must set exactly one of field and template", column.Name))
		}

		switch column.Type {
		case ColumnString, ColumnNumber, ColumnDate, ColumnBool, ColumnTimestamp:
		default:
			errorsList = append(errorsList, fmt.Sprintf("unknown type %q for column %q", column.Type, column.Name))
		}
	}

	if len(errorsList) > 0 {
		return fmt.Errorf("invalid entity %q: %s", e.Type, strings.Join(errorsList, "; "))
	}
	return nil
}
