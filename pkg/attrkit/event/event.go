// Package event defines the immutable analytics event model and its
// tagged-union property values.
package event

import (
	"time"

	"github.com/attrkit/attrkit/pkg/attrkit/attribution"
	akerrors "github.com/attrkit/attrkit/pkg/attrkit/errors"
	"github.com/google/uuid"
)

// Well-known property keys.
const (
	// PropRevenue carries a revenue amount for conversion encoding.
	PropRevenue = "revenue"

	// PropCurrency carries the ISO-4217 currency code for PropRevenue.
	PropCurrency = "currency"
)

// Event is one captured analytics event. Events are immutable once
// created; the session, visitor, and attribution fields are stamped at
// enqueue time and never change afterwards.
//
// The JSON encoding is the ingestion wire format: batches are arrays of
// these objects. Timestamps serialize as ISO-8601 (RFC 3339).
type Event struct {
	ID          string             `json:"eventId"`
	Name        string             `json:"eventName"`
	Properties  Properties         `json:"eventData,omitempty"`
	Timestamp   time.Time          `json:"timestamp"`
	SessionID   string             `json:"sessionId"`
	VisitorID   string             `json:"visitorId"`
	Attribution attribution.Record `json:"attribution"`
}

// Stamp carries the identity and context attached to an event at enqueue
// time.
type Stamp struct {
	SessionID   string
	VisitorID   string
	Attribution attribution.Record
}

// New creates a validated event with a generated id and the current
// timestamp. Properties are deep-copied so later caller mutations cannot
// reach the queued event.
func New(name string, props Properties, stamp Stamp) (Event, error) {
	if err := validate(name, props); err != nil {
		return Event{}, err
	}

	return Event{
		ID:          uuid.New().String(),
		Name:        name,
		Properties:  props.Clone(),
		Timestamp:   time.Now().UTC(),
		SessionID:   stamp.SessionID,
		VisitorID:   stamp.VisitorID,
		Attribution: stamp.Attribution,
	}, nil
}

// Revenue returns the event's revenue property, if present and numeric.
func (e Event) Revenue() (float64, bool) {
	v, ok := e.Properties[PropRevenue]
	if !ok {
		return 0, false
	}
	return v.AsNumber()
}

func validate(name string, props Properties) error {
	if name == "" {
		return &akerrors.ValidationError{Field: "name", Message: "event name must not be empty"}
	}
	for k := range props {
		if k == "" {
			return &akerrors.ValidationError{Field: "properties", Message: "property keys must not be empty"}
		}
	}
	return nil
}
