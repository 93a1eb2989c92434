// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package server

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
)

type statusResponse struct {
	Status  string `json:"status"`
	Name    string `json:"name"`
	Version string `json:"version"`
}

// statusRoutes registers the liveness and readiness probes.
func statusRoutes(app fiber.Router, name, version string, readiness ReadinessChecker) {
	app.Get("/-/healthz", func(c *fiber.Ctx) error {
		return c.JSON(statusResponse{Status: "OK", Name: name, Version: version})
	})

	app.Get("/-/ready", func(c *fiber.Ctx) error {
		if readiness != nil {
			if err := readiness.Ping(c.UserContext()); err != nil {
				return c.Status(http.StatusServiceUnavailable).JSON(statusResponse{Status: "KO", Name: name, Version: version})
			}
		}
		return c.JSON(statusResponse{Status: "OK", Name: name, Version: version})
	})
}
