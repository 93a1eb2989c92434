// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package logger

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const (
	forwardedHostHeaderKey = "x-forwarded-host"
	forwardedForHeaderKey  = "x-forwarded-for"
	requestIDHeaderName    = "x-request-id"

	IncomingRequestMessage  = "incoming request"
	RequestCompletedMessage = "request completed"
)

// httpRequest is the shape of the request section of access log lines.
type httpRequest struct {
	Method    string `json:"method,omitempty"`
	Path      string `json:"path,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
}

// httpResponse is the shape of the response section of access log lines.
type httpResponse struct {
	StatusCode int `json:"statusCode,omitempty"`
	Bytes      int `json:"bytes,omitempty"`
}

type httpHost struct {
	Hostname      string `json:"hostname,omitempty"`
	ForwardedHost string `json:"forwardedHost,omitempty"`
	IP            string `json:"ip,omitempty"`
}

// requestID returns the caller provided request id or a freshly generated one.
func requestID(c *fiber.Ctx) string {
	if id := c.Get(requestIDHeaderName); id != "" {
		return id
	}

	return uuid.NewString()
}

func requestFields(c *fiber.Ctx) (httpRequest, httpHost) {
	return httpRequest{
			Method:    c.Method(),
			Path:      string(c.Request().URI().RequestURI()),
			UserAgent: c.Get(fiber.HeaderUserAgent),
		}, httpHost{
			Hostname:      strings.Split(string(c.Request().Host()), ":")[0],
			ForwardedHost: c.Get(forwardedHostHeaderKey),
			IP:            c.Get(forwardedForHeaderKey),
		}
}

// responseFields reads status and size, preferring the handler error when it is a *fiber.Error.
func responseFields(c *fiber.Ctx, handlerErr error) httpResponse {
	if fiberErr, ok := handlerErr.(*fiber.Error); ok {
		return httpResponse{StatusCode: fiberErr.Code, Bytes: len(fiberErr.Message)}
	}

	return httpResponse{
		StatusCode: c.Response().StatusCode(),
		Bytes:      len(c.Response().Body()),
	}
}

// RequestMiddlewareLogger is a fiber middleware to log all requests
// It logs the incoming request and when request is completed, adding latency of the request
func RequestMiddlewareLogger(logger Logger, excludedPrefix []string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		path := string(c.Request().URI().RequestURI())
		for _, prefix := range excludedPrefix {
			if strings.HasPrefix(path, prefix) {
				return c.Next()
			}
		}

		start := time.Now()
		reqLogger := logger.WithName("request").With("reqId", requestID(c))
		c.SetUserContext(WithContext(c.UserContext(), reqLogger))

		request, host := requestFields(c)
		reqLogger.Trace(IncomingRequestMessage, "request", request, "host", host)

		err := c.Next()

		reqLogger.Info(RequestCompletedMessage,
			"request", request,
			"response", responseFields(c, err),
			"host", host,
			"responseTime", float64(time.Since(start).Milliseconds()),
		)

		return err
	}
}
