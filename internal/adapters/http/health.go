package http

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
)

// HealthHandler returns a basic liveness check together with the build
// version and the crop reference table the service projects with.
func HealthHandler(deps *Dependencies) fiber.Handler {
	startedAt := time.Now()
	version := buildVersion()

	return func(c *fiber.Ctx) error {
		body := fiber.Map{
			"status":  "healthy",
			"uptime":  time.Since(startedAt).Round(time.Second).String(),
			"version": version,
		}
		if deps.Crops != nil {
			body["crop_table"] = deps.Crops.TableVersion()
		}
		return c.JSON(body)
	}
}

func buildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Version == "" || info.Main.Version == "(devel)" {
		return "dev"
	}
	return info.Main.Version
}

// readinessCheck probes one backing service. required checks make the
// service unready when they fail; optional ones are reported only.
type readinessCheck struct {
	name     string
	required bool
	probe    func(ctx context.Context) string
}

func readinessChecks(deps *Dependencies) []readinessCheck {
	checks := []readinessCheck{
		{name: "database", required: true, probe: func(ctx context.Context) string {
			if deps.DB == nil {
				return "not configured"
			}
			if err := deps.DB.Pool.Ping(ctx); err != nil {
				return "error: " + err.Error()
			}
			return "ok"
		}},
		{name: "workflows", probe: func(context.Context) string {
			// Without Temporal, triangulation runs inline.
			if deps.Workflows == nil {
				return "inline"
			}
			return "ok"
		}},
	}
	if deps.NATS != nil {
		checks = append(checks, readinessCheck{name: "nats", required: true, probe: func(context.Context) string {
			if !deps.NATS.IsConnected() {
				return "disconnected"
			}
			return "ok"
		}})
	} else {
		checks = append(checks, readinessCheck{name: "nats", probe: func(context.Context) string { return "not configured" }})
	}
	if deps.Cache != nil {
		checks = append(checks, readinessCheck{name: "cache", required: true, probe: func(ctx context.Context) string {
			if err := deps.Cache.Ping(ctx); err != nil {
				return "error: " + err.Error()
			}
			return "ok"
		}})
	} else {
		checks = append(checks, readinessCheck{name: "cache", probe: func(context.Context) string { return "not configured" }})
	}
	return checks
}

// ReadyHandler checks DB, NATS, and cache connectivity in parallel.
func ReadyHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.Context(), 3*time.Second)
		defer cancel()

		checks := readinessChecks(deps)
		results := make([]string, len(checks))

		var wg sync.WaitGroup
		for i, chk := range checks {
			wg.Add(1)
			go func(i int, chk readinessCheck) {
				defer wg.Done()
				results[i] = chk.probe(ctx)
			}(i, chk)
		}
		wg.Wait()

		report := make(map[string]string, len(checks))
		allOK := true
		for i, chk := range checks {
			report[chk.name] = results[i]
			if chk.required && results[i] != "ok" {
				allOK = false
			}
		}

		status := "ready"
		code := fiber.StatusOK
		if !allOK {
			status = "not ready"
			code = fiber.StatusServiceUnavailable
		}

		return c.Status(code).JSON(fiber.Map{
			"status": status,
			"checks": report,
		})
	}
}
