package api

import (
	"github.com/mattjoyce/graphproc/internal/dispatch"
	"github.com/mattjoyce/graphproc/internal/lane"
)

// HealthzResponse is the body of GET /healthz.
type HealthzResponse struct {
	Status        string         `json:"status"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Stage         string         `json:"stage"`
	QueueDepth    int            `json:"queue_depth"`
	Workers       int            `json:"workers"`
	Dispatch      dispatch.Stats `json:"dispatch"`
}

// LanesResponse is the body of GET /lanes.
type LanesResponse struct {
	Lanes []lane.Stats `json:"lanes"`
}

// ErrorResponse is returned on failures.
type ErrorResponse struct {
	Error string `json:"error"`
}
