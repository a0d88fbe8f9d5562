// Package config holds the unified SDK configuration. All construction
// paths (file, environment, literal struct) resolve into one Config,
// validated once at startup with defaults applied to unset fields.
package config

import (
	"time"

	akerrors "github.com/attrkit/attrkit/pkg/attrkit/errors"
)

// Defaults applied by Validate.
const (
	DefaultSessionTimeout = 30 * time.Minute
	DefaultMaxBatchSize   = 25
	DefaultMaxAttempts    = 8
	DefaultMaxQueueAge    = 7 * 24 * time.Hour
	DefaultHighWaterMark  = 50
	DefaultFlushInterval  = 30 * time.Second
	DefaultRequestTimeout = 30 * time.Second
)

// MaxBatchSizeCeiling caps the configurable batch size.
const MaxBatchSizeCeiling = 100

// Config is the single configuration surface for the SDK.
type Config struct {
	// EndpointURL is the event ingestion endpoint. Required.
	EndpointURL string `yaml:"endpointUrl" json:"endpointUrl"`

	// APIKey authenticates against the endpoint. Required.
	APIKey string `yaml:"apiKey" json:"apiKey"`

	// Template names the conversion-value template. Empty disables
	// conversion encoding.
	Template string `yaml:"template,omitempty" json:"template,omitempty"`

	// StorePath is the on-disk location of the durable store. Empty
	// selects the in-memory store.
	StorePath string `yaml:"storePath,omitempty" json:"storePath,omitempty"`

	// SessionTimeout is the inactivity window before session rotation.
	SessionTimeout time.Duration `yaml:"sessionTimeout,omitempty" json:"sessionTimeout,omitempty"`

	// MaxBatchSize is the event count ceiling per delivery request.
	MaxBatchSize int `yaml:"maxBatchSize,omitempty" json:"maxBatchSize,omitempty"`

	// MaxAttempts is the delivery attempt ceiling per queued event.
	MaxAttempts int `yaml:"maxAttempts,omitempty" json:"maxAttempts,omitempty"`

	// MaxQueueAge is the queue age ceiling per queued event.
	MaxQueueAge time.Duration `yaml:"maxQueueAge,omitempty" json:"maxQueueAge,omitempty"`

	// HighWaterMark is the queue size triggering an eager flush.
	HighWaterMark int `yaml:"highWaterMark,omitempty" json:"highWaterMark,omitempty"`

	// FlushInterval is the periodic flush cadence.
	FlushInterval time.Duration `yaml:"flushInterval,omitempty" json:"flushInterval,omitempty"`

	// RequestTimeout bounds a single delivery request.
	RequestTimeout time.Duration `yaml:"requestTimeout,omitempty" json:"requestTimeout,omitempty"`
}

// Validate checks required fields and fills defaults in place.
func (c *Config) Validate() error {
	if c.EndpointURL == "" {
		return &akerrors.ValidationError{Field: "endpointUrl", Message: "endpoint URL is required"}
	}
	if c.APIKey == "" {
		return &akerrors.ValidationError{Field: "apiKey", Message: "API key is required"}
	}
	if c.MaxBatchSize > MaxBatchSizeCeiling {
		return &akerrors.ValidationError{Field: "maxBatchSize", Message: "batch size exceeds ceiling"}
	}

	if c.SessionTimeout <= 0 {
		c.SessionTimeout = DefaultSessionTimeout
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = DefaultMaxBatchSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.MaxQueueAge <= 0 {
		c.MaxQueueAge = DefaultMaxQueueAge
	}
	if c.HighWaterMark <= 0 {
		c.HighWaterMark = DefaultHighWaterMark
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	return nil
}
