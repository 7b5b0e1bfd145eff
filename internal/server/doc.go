// Package server implements the HTTP API for submitting recordings and
// monitoring the service: the analysis endpoint plus health, config,
// stats, and Prometheus metrics endpoints.
package server
