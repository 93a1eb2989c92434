// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package writer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/mia-platform/tallysync/internal/destination"
)

var _ destination.Upserter = &writerDestination{}

type writerDestination struct {
	writer io.Writer

	lock sync.Mutex
}

func NewDestination(w io.Writer) destination.Upserter {
	return &writerDestination{
		writer: w,
	}
}

// Upsert prints the batch and reports every row as affected.
func (d *writerDestination) Upsert(_ context.Context, batch destination.Batch) (int64, error) {
	builder := new(strings.Builder)

	builder.WriteString("Upsert batch:\n")
	builder.WriteString("\tTable: " + batch.Table + "\n")
	builder.WriteString("\tConflict Key: " + strings.Join(batch.ConflictKey, ", ") + "\n")
	builder.WriteString("\tRows: " + strconv.Itoa(len(batch.Rows)) + "\n")
	for _, record := range batch.Records() {
		builder.WriteString("\t\t")
		encoder := json.NewEncoder(builder)
		if err := encoder.Encode(record); err != nil {
			return 0, err
		}
	}
	builder.WriteString("\n")

	d.lock.Lock()
	defer d.lock.Unlock()
	if _, err := fmt.Fprint(d.writer, builder.String()); err != nil {
		return 0, err
	}
	return int64(len(batch.Rows)), nil
}
