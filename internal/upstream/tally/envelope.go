// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package tally

import (
	"encoding/xml"
	"fmt"
	"slices"
	"strings"

	"github.com/mia-platform/tallysync/internal/upstream"
)

const (
	collectionID = "TallySyncCollection"
	dateLayout   = "20060102"
)

type envelope struct {
	XMLName xml.Name `xml:"ENVELOPE"`
	Header  header   `xml:"HEADER"`
	Body    body     `xml:"BODY"`
}

type header struct {
	Version      string `xml:"VERSION"`
	TallyRequest string `xml:"TALLYREQUEST"`
	Type         string `xml:"TYPE"`
	ID           string `xml:"ID"`
}

type body struct {
	Desc desc `xml:"DESC"`
}

type desc struct {
	StaticVariables staticVariables `xml:"STATICVARIABLES"`
	TDL             tdl             `xml:"TDL"`
}

type staticVariables struct {
	ExportFormat string `xml:"SVEXPORTFORMAT"`
	Company      string `xml:"SVCURRENTCOMPANY,omitempty"`
	From         string `xml:"SVFROMDATE,omitempty"`
	To           string `xml:"SVTODATE,omitempty"`
}

type tdl struct {
	Message tdlMessage `xml:"TDLMESSAGE"`
}

type tdlMessage struct {
	Collection tdlCollection `xml:"COLLECTION"`
	Formulae   []tdlSystem   `xml:"SYSTEM"`
}

type tdlCollection struct {
	Name     string `xml:"NAME,attr"`
	IsModify string `xml:"ISMODIFY,attr"`
	Type     string `xml:"TYPE"`
	Fetch    string `xml:"FETCH,omitempty"`
	Filter   string `xml:"FILTER,omitempty"`
}

type tdlSystem struct {
	Type    string `xml:"TYPE,attr"`
	Name    string `xml:"NAME,attr"`
	Formula string `xml:",chardata"`
}

// buildEnvelope renders the export request for a query; filters are sorted
// by field name so that equal requests produce equal bodies.
func buildEnvelope(request upstream.QueryDescriptor) ([]byte, error) {
	if request.Collection == "" {
		return nil, fmt.Errorf("missing collection")
	}

	exportRequest := envelope{
		Header: header{
			Version:      "1",
			TallyRequest: "Export",
			Type:         "Collection",
			ID:           collectionID,
		},
		Body: body{
			Desc: desc{
				StaticVariables: staticVariables{
					ExportFormat: "$$SysName:XML",
					Company:      request.Company,
				},
				TDL: tdl{
					Message: tdlMessage{
						Collection: tdlCollection{
							Name:     collectionID,
							IsModify: "No",
							Type:     request.Collection,
							Fetch:    strings.Join(request.Fetch, ","),
						},
					},
				},
			},
		},
	}

	if !request.From.IsZero() {
		exportRequest.Body.Desc.StaticVariables.From = request.From.Format(dateLayout)
	}
	if !request.To.IsZero() {
		exportRequest.Body.Desc.StaticVariables.To = request.To.Format(dateLayout)
	}

	fields := make([]string, 0, len(request.Filters))
	for field := range request.Filters {
		fields = append(fields, field)
	}
	slices.Sort(fields)

	filterNames := make([]string, 0, len(fields))
	for idx, field := range fields {
		name := fmt.Sprintf("TallySyncFilter%d", idx+1)
		filterNames = append(filterNames, name)
		exportRequest.Body.Desc.TDL.Message.Formulae = append(exportRequest.Body.Desc.TDL.Message.Formulae, tdlSystem{
			Type:    "Formulae",
			Name:    name,
			Formula: fmt.Sprintf("$%s = %q", field, request.Filters[field]),
		})
	}
	exportRequest.Body.Desc.TDL.Message.Collection.Filter = strings.Join(filterNames, ",")

	return xml.Marshal(exportRequest)
}
