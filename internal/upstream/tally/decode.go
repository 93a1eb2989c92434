// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package tally

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/mia-platform/tallysync/internal/upstream"
)

var (
	errLineError = errors.New("engine reported an error")
)

// decodeResponse extracts the records under the COLLECTION element of an export response.
// A LINEERROR element anywhere in the document is reported as an error.
func decodeResponse(reader io.Reader) ([]upstream.Record, error) {
	decoder := xml.NewDecoder(reader)
	decoder.CharsetReader = charsetReader

	records := make([]upstream.Record, 0)
	insideCollection := false
	for {
		token, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		switch element := token.(type) {
		case xml.StartElement:
			switch {
			case element.Name.Local == "LINEERROR":
				var message string
				if err := decoder.DecodeElement(&message, &element); err != nil {
					return nil, err
				}
				return nil, fmt.Errorf("%w: %s", errLineError, strings.TrimSpace(message))
			case element.Name.Local == "COLLECTION" && !insideCollection:
				insideCollection = true
			case insideCollection:
				node, err := decodeNode(decoder, element)
				if err != nil {
					return nil, err
				}
				record, ok := node.(map[string]any)
				if !ok {
					record = map[string]any{element.Name.Local: node}
				}
				records = append(records, upstream.Record(record))
			}
		case xml.EndElement:
			if element.Name.Local == "COLLECTION" {
				insideCollection = false
			}
		}
	}

	return records, nil
}

// decodeNode reads element up to its end tag. Leaf elements become their
// trimmed text; elements with children become maps holding their attributes
// and children, with repeated children collected into lists.
func decodeNode(decoder *xml.Decoder, start xml.StartElement) (any, error) {
	fields := make(map[string]any)
	for _, attr := range start.Attr {
		fields[attr.Name.Local] = attr.Value
	}

	text := new(strings.Builder)
	hasChildren := false
	for {
		token, err := decoder.Token()
		if err != nil {
			return nil, err
		}

		switch element := token.(type) {
		case xml.StartElement:
			hasChildren = true
			child, err := decodeNode(decoder, element)
			if err != nil {
				return nil, err
			}
			setField(fields, element.Name.Local, child)
		case xml.CharData:
			text.Write(element)
		case xml.EndElement:
			if !hasChildren {
				if len(start.Attr) == 0 || strings.TrimSpace(text.String()) != "" {
					return strings.TrimSpace(text.String()), nil
				}
			}
			return fields, nil
		}
	}
}

func setField(fields map[string]any, name string, value any) {
	existing, ok := fields[name]
	if !ok {
		if _, isNode := value.(map[string]any); isNode {
			fields[name] = []any{value}
			return
		}
		fields[name] = value
		return
	}

	if list, isList := existing.([]any); isList {
		fields[name] = append(list, value)
		return
	}
	fields[name] = []any{existing, value}
}

func charsetReader(label string, input io.Reader) (io.Reader, error) {
	switch strings.ToLower(label) {
	case "", "utf-8", "utf8", "us-ascii", "ascii":
		return input, nil
	default:
		return nil, fmt.Errorf("unsupported charset %q", label)
	}
}
