// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package mapper

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsingError(t *testing.T) {
	t.Parallel()

	underlyingErr := errors.New("underlying error")
	parsingErr := NewParsingError(underlyingErr)

	assert.Equal(t, "mapper template parsing error\nunderlying error", parsingErr.Error())
	assert.ErrorIs(t, parsingErr, underlyingErr)
	assert.Equal(t, errTemplateParsing, NewParsingError(nil).Error())
}

func TestMappingError(t *testing.T) {
	t.Parallel()

	mappingErr := NewMappingError("amount", ErrRequiredValue)

	assert.Equal(t, "mapping column amount: missing required value", mappingErr.Error())
	assert.ErrorIs(t, mappingErr, ErrRequiredValue)

	var target *MappingError
	assert.ErrorAs(t, error(mappingErr), &target)
	assert.Equal(t, "amount", target.Column)
}
