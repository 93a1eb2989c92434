// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package tally

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/mia-platform/tallysync/internal/info"
	"github.com/mia-platform/tallysync/internal/logger"
	"github.com/mia-platform/tallysync/internal/upstream"
)

const loggerName = "tallysync:tally"

var _ upstream.Querier = &Client{}

// Client queries the engine export endpoint.
type Client struct {
	endpoint *url.URL

	client *http.Client
}

// NewClient returns a client for the engine listening at endpoint.
// Timeouts are applied per attempt from the query options, so the
// underlying http.Client has none.
func NewClient(endpoint string) (*Client, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q for engine url", parsed.Scheme)
	}

	return &Client{
		endpoint: parsed,
		client:   &http.Client{},
	}, nil
}

// Query runs an export request, retrying timeouts and connection failures as configured by opts.
func (c *Client) Query(ctx context.Context, request upstream.QueryDescriptor, opts upstream.QueryOptions) ([]upstream.Record, error) {
	op := "export " + request.Collection
	payload, err := buildEnvelope(request)
	if err != nil {
		return nil, upstream.NewError(upstream.KindProtocol, op, err)
	}

	log := logger.Named(ctx, loggerName)
	var records []upstream.Record
	err = upstream.Retry(ctx, opts, func(ctx context.Context) error {
		started := time.Now()
		exported, exportErr := c.export(ctx, op, payload)
		if exportErr != nil {
			return exportErr
		}

		log.Debug("export completed", "collection", request.Collection, "category", opts.Category, "records", len(exported), "elapsed", time.Since(started).String())
		records = exported
		return nil
	})
	if err != nil {
		return nil, err
	}

	return records, nil
}

func (c *Client) export(ctx context.Context, op string, payload []byte) ([]upstream.Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint.String(), bytes.NewReader(payload))
	if err != nil {
		return nil, upstream.NewError(upstream.KindProtocol, op, err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("User-Agent", info.UserAgent())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		statusErr := fmt.Errorf("unexpected status code %d", resp.StatusCode)
		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, upstream.NewError(upstream.KindUnreachable, op, statusErr)
		}
		return nil, upstream.NewError(upstream.KindProtocol, op, statusErr)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportError(op, err)
	}

	records, err := decodeResponse(bytes.NewReader(body))
	if err != nil {
		return nil, upstream.NewError(upstream.KindProtocol, op, err)
	}

	return records, nil
}

func classifyTransportError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return upstream.NewError(upstream.KindTimeout, op, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return upstream.NewError(upstream.KindTimeout, op, err)
	}

	return upstream.NewError(upstream.KindUnreachable, op, err)
}
