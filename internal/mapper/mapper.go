// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package mapper

import (
	"errors"
	"strings"
	"text/template"
	"time"

	"github.com/mia-platform/tallysync/internal/config"
	"github.com/mia-platform/tallysync/internal/mapper/functions"
)

// Mapper will define how to map an upstream record to the ordered column values of one entity.
// Identifier is the natural key of the record and is required.
type Mapper interface {
	// ApplyTemplates applies the mapper templates to the given input data and returns the mapped output.
	ApplyTemplates(input map[string]any) (output MappedData, err error)
}

var _ Mapper = &internalMapper{}

type column struct {
	name     string
	field    string
	template *template.Template
	kind     config.ColumnType
	required bool
}

// internalMapper is the default implementation of the Mapper interface.
type internalMapper struct {
	idTemplate *template.Template
	columns    []column
}

// MappedData contains the result of applying a Mapper to some input data.
// Values follow the order of the entity columns.
type MappedData struct {
	Identifier string
	Values     []any
}

// New creates a new Mapper for the natural key and columns of entity.
func New(entity config.Entity) (Mapper, error) {
	var parsingErrs error
	tmpl := template.New("main").Option("missingkey=error").Funcs(templateFunctions())
	idTemplate, err := tmpl.New("identifier").Parse(entity.NaturalKey.Template)
	if err != nil {
		parsingErrs = err
	}

	columns := make([]column, 0, len(entity.Columns))
	for _, spec := range entity.Columns {
		col := column{
			name:     spec.Name,
			field:    spec.Field,
			kind:     spec.Type,
			required: spec.Required,
		}

		if spec.Template != "" {
			col.template, err = tmpl.New(spec.Name).Parse(spec.Template)
			if err != nil {
				parsingErrs = errors.Join(parsingErrs, err)
			}
		}
		columns = append(columns, col)
	}

	if parsingErrs != nil {
		return nil, NewParsingError(parsingErrs)
	}

	return &internalMapper{
		idTemplate: idTemplate,
		columns:    columns,
	}, nil
}

// ApplyTemplates applies the mapper templates to the given input data and returns the mapped output.
func (m *internalMapper) ApplyTemplates(input map[string]any) (MappedData, error) {
	identifier, err := executeTemplate(m.idTemplate, input)
	if err != nil {
		return MappedData{}, NewMappingError("identifier", err)
	}

	identifier = strings.TrimSpace(identifier)
	if identifier == "" || identifier == "<no value>" {
		return MappedData{}, ErrEmptyIdentifier
	}

	values := make([]any, 0, len(m.columns))
	for _, col := range m.columns {
		raw, err := col.rawValue(input)
		if err != nil {
			return MappedData{}, NewMappingError(col.name, err)
		}

		value, err := convert(raw, col.kind)
		if err != nil {
			return MappedData{}, NewMappingError(col.name, err)
		}

		if value == nil && col.required {
			return MappedData{}, NewMappingError(col.name, ErrRequiredValue)
		}
		values = append(values, value)
	}

	return MappedData{
		Identifier: identifier,
		Values:     values,
	}, nil
}

func (c column) rawValue(input map[string]any) (any, error) {
	if c.template == nil {
		return input[c.field], nil
	}
	return executeTemplate(c.template, input)
}

func executeTemplate(tmpl *template.Template, input map[string]any) (string, error) {
	output := new(strings.Builder)
	if err := tmpl.Execute(output, input); err != nil {
		return "", err
	}
	return output.String(), nil
}

// convert turns a raw record value into the Go value stored for kind; blank values become nil.
func convert(raw any, kind config.ColumnType) (any, error) {
	if raw == nil {
		return nil, nil
	}
	if s, ok := raw.(string); ok && strings.TrimSpace(s) == "" {
		return nil, nil
	}

	switch kind {
	case config.ColumnNumber:
		return functions.ParseAmount(raw)
	case config.ColumnDate:
		return functions.ParseDate(raw)
	case config.ColumnBool:
		return functions.ParseBool(raw)
	case config.ColumnTimestamp:
		if s, ok := raw.(string); ok {
			if t, err := time.Parse(time.RFC3339, strings.TrimSpace(s)); err == nil {
				return t.UTC(), nil
			}
		}
		return functions.ParseDate(raw)
	default:
		return functions.Trim(raw), nil
	}
}

func templateFunctions() template.FuncMap {
	return template.FuncMap{
		"trim":    functions.Trim,
		"upper":   functions.Upper,
		"lower":   functions.Lower,
		"replace": functions.Replace,
		"trunc":   functions.Truncate,
		"get":     functions.Get,
		"default": functions.Default,
		"first":   functions.First,

		"tallyAmount": functions.ParseAmount,
		"tallyDate":   functions.TallyDate,
		"tallyBool":   functions.ParseBool,
	}
}
