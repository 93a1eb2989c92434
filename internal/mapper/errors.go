// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package mapper

import (
	"errors"
)

// Ensure ParsingError and MappingError implement the error interface.
var (
	_ error = &ParsingError{}
	_ error = &MappingError{}
)

var (
	errTemplateParsing = "mapper template parsing error"

	// ErrEmptyIdentifier is returned when a record has no natural key.
	ErrEmptyIdentifier = errors.New("empty natural key")
	// ErrRequiredValue is returned when a required column has no value.
	ErrRequiredValue = errors.New("missing required value")
)

type ParsingError struct {
	msg string
	err error
}

func NewParsingError(err error) *ParsingError {
	msg := errTemplateParsing
	if err != nil {
		msg = msg + "\n" + err.Error()
	}

	return &ParsingError{
		msg: msg,
		err: err,
	}
}

func (e *ParsingError) Error() string {
	return e.msg
}

func (e *ParsingError) Unwrap() error {
	return e.err
}

// MappingError reports the column whose value could not be produced from a record.
type MappingError struct {
	Column string
	err    error
}

func NewMappingError(column string, err error) *MappingError {
	return &MappingError{Column: column, err: err}
}

func (e *MappingError) Error() string {
	return "mapping column " + e.Column + ": " + e.err.Error()
}

func (e *MappingError) Unwrap() error {
	return e.err
}
