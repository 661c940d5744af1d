// Package server types - request and response bodies of the HTTP API.
//
// DESIGN: Types used by the handlers for:
//   - Upload results (admitted files and intake rejections)
//   - Configuration patches (validated with go-playground/validator)
//   - Batch, stats and health responses
//
// File snapshots are served as pipeline.File; its byte fields are never
// marshalled.
package server

import (
	"github.com/compresr/shrinker/internal/intake"
	"github.com/compresr/shrinker/internal/pipeline"
	"github.com/compresr/shrinker/internal/store"
)

// Header and cookie names.
const (
	HeaderRequestID = "X-Request-ID"
	HeaderSessionID = "X-Session-ID"
	SessionCookie   = "sid"
)

const (
	// MaxRateLimitBuckets bounds the per-IP limiter map.
	MaxRateLimitBuckets = 10000

	maxIDLength = 128

	// multipart parts above this are spooled to disk
	multipartMemory = 32 << 20
)

// =============================================================================
// FILES
// =============================================================================

// UploadResponse is returned by POST /api/files.
type UploadResponse struct {
	Files      []pipeline.File    `json:"files"`
	Rejections []intake.Rejection `json:"rejections"`
}

// FilesResponse is returned by GET /api/files.
type FilesResponse struct {
	Files       []pipeline.File `json:"files"`
	Compressing bool            `json:"compressing"`
}

// PatchFileRequest changes the configuration of one file. Values are
// lowercased before validation.
type PatchFileRequest struct {
	CompressionLevel *string `json:"compressionLevel" validate:"omitempty,oneof=low medium high"`
	TargetFormat     *string `json:"targetFormat" validate:"omitempty,oneof=png jpg jpeg"`
}

// =============================================================================
// BATCH, STATS, HEALTH
// =============================================================================

// BatchResponse is returned by POST /api/batch.
type BatchResponse struct {
	Status  string `json:"status"`
	Pending int    `json:"pending"`
}

// ClearResponse is returned by DELETE /api/files.
type ClearResponse struct {
	Removed int `json:"removed"`
}

// StatsResponse is returned by GET /api/stats.
type StatsResponse struct {
	Stats  store.Stats    `json:"stats"`
	Recent []store.Record `json:"recent,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}

// errorResponse is the body of every non-2xx JSON response.
type errorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}
