// Package telemetry provides OpenTelemetry tracing utilities for the tomato client.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the client.
const (
	// HTTP attributes
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPURLKey        = "http.url"

	// Sync attributes
	SyncPhaseKey   = "sync.phase"
	SyncObjectsKey = "sync.objects"
	SyncAssetKey   = "sync.asset_id"

	// Block generation attributes
	BlockStopSetKey  = "block.stopset_id"
	BlockSlotsKey    = "block.slots"
	BlockDryCountKey = "block.dry_retries"

	// Playout attributes
	PlayoutAssetKey  = "playout.asset_id"
	PlayoutActionKey = "playout.action"

	// Shipper attributes
	ShipperBatchSizeKey = "shipper.batch_size"
	ShipperAttemptKey   = "shipper.attempt"

	// Job attributes
	JobTypeKey     = "job.type"
	JobStatusKey   = "job.status"
	JobDurationKey = "job.duration_ms"

	// Error attributes
	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// HTTPAttributes creates common HTTP span attributes.
func HTTPAttributes(method, url string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPURLKey, url),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// SyncAttributes creates sync-phase span attributes.
func SyncAttributes(phase string, objects int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(SyncPhaseKey, phase),
		attribute.Int(SyncObjectsKey, objects),
	}
}

// BlockAttributes creates block-generation span attributes.
func BlockAttributes(stopSetID int64, slots, dryRetries int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int64(BlockStopSetKey, stopSetID),
		attribute.Int(BlockSlotsKey, slots),
		attribute.Int(BlockDryCountKey, dryRetries),
	}
}

// JobAttributes creates job-related span attributes.
func JobAttributes(jobType, status string, durationMS int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(JobTypeKey, jobType),
		attribute.String(JobStatusKey, status),
		attribute.Int64(JobDurationKey, durationMS),
	}
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(_ error, errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
