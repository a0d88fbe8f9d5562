package conversion

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/attrkit/attrkit/pkg/attrkit/event"
	"github.com/attrkit/attrkit/pkg/attrkit/store"
)

// ErrTemplateLocked is returned when construction would switch an
// installation to a different template than the one already persisted.
// Templates are selected once per installation.
var ErrTemplateLocked = errors.New("conversion: template already selected for this installation")

// Coarse is the low/medium/high classification reported alongside the
// fine value on postback generations that support it.
type Coarse string

const (
	CoarseLow    Coarse = "low"
	CoarseMedium Coarse = "medium"
	CoarseHigh   Coarse = "high"
)

// coarseOf buckets a fine value into thirds of the value budget.
func coarseOf(value int) Coarse {
	switch {
	case value <= MaxValue/3:
		return CoarseLow
	case value <= 2*MaxValue/3:
		return CoarseMedium
	default:
		return CoarseHigh
	}
}

// Update is the result of an encoding step: the new fine value, its
// coarse classification, and whether the value is now locked.
type Update struct {
	Value  int    `json:"value"`
	Coarse Coarse `json:"coarse"`
	Lock   bool   `json:"lock"`
}

// Encoder tracks the current conversion value for one installation.
// The active template is fixed at construction; the value persists
// across restarts through the store.
type Encoder struct {
	mu     sync.Mutex
	tmpl   Template
	st     store.Store
	sender PostbackSender
	logger *slog.Logger

	value  int
	set    bool
	locked bool
}

// EncoderOption configures an Encoder.
type EncoderOption func(*Encoder)

// WithPostbackSender routes each update to the platform postback bridge.
func WithPostbackSender(s PostbackSender) EncoderOption {
	return func(e *Encoder) { e.sender = s }
}

// WithLogger sets the encoder logger. Nil disables logging.
func WithLogger(logger *slog.Logger) EncoderOption {
	return func(e *Encoder) { e.logger = logger }
}

// persisted is the state blob written under the conversion state key.
type persisted struct {
	Template string `json:"template"`
	Value    int    `json:"value"`
	Set      bool   `json:"set"`
	Locked   bool   `json:"locked"`
}

// NewEncoder creates an encoder bound to the given template. If the
// store already holds state for a different template the construction
// fails with ErrTemplateLocked rather than silently merging mappings.
func NewEncoder(tmpl Template, st store.Store, opts ...EncoderOption) (*Encoder, error) {
	if err := tmpl.Validate(); err != nil {
		return nil, err
	}

	e := &Encoder{tmpl: tmpl, st: st}
	for _, opt := range opts {
		opt(e)
	}

	data, err := st.LoadState(store.StateConversionValue)
	switch {
	case errors.Is(err, store.ErrNotFound):
		// Fresh installation.
	case err != nil:
		return nil, fmt.Errorf("load conversion state: %w", err)
	default:
		var p persisted
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode conversion state: %w", err)
		}
		if p.Template != "" && p.Template != tmpl.Name {
			return nil, ErrTemplateLocked
		}
		e.value = p.Value
		e.set = p.Set
		e.locked = p.Locked
	}

	return e, nil
}

// Encode applies one event to the conversion value. It returns the
// resulting update and true when the value changed. Events the template
// does not know, and any event after the value locks, leave the value
// untouched and return false.
func (e *Encoder) Encode(eventName string, props event.Properties) (Update, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.locked {
		return e.updateLocked(), false
	}

	rule, ok := e.tmpl.rule(eventName)
	if !ok {
		return e.updateLocked(), false
	}

	var code int
	if rule.tiered() {
		revenue, ok := revenueOf(props)
		if !ok {
			return e.updateLocked(), false
		}
		code = tierCode(rule.Tiers, revenue)
	} else {
		code = rule.Code
	}

	e.value = code
	e.set = true
	e.locked = rule.Lock
	e.persist()

	update := e.updateLocked()

	if e.logger != nil {
		e.logger.Debug("conversion value updated",
			slog.String("event_name", eventName),
			slog.Int("value", update.Value),
			slog.String("coarse", string(update.Coarse)),
			slog.Bool("lock", update.Lock),
		)
	}

	if e.sender != nil {
		if err := e.sender.SendPostback(update); err != nil && e.logger != nil {
			e.logger.Warn("postback dispatch failed", slog.String("error", err.Error()))
		}
	}

	return update, true
}

// Value returns the current conversion value and whether any event has
// set it yet.
func (e *Encoder) Value() (int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.value, e.set
}

// Locked reports whether the value has been locked by a terminal rule.
func (e *Encoder) Locked() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.locked
}

// TemplateName returns the name of the active template.
func (e *Encoder) TemplateName() string { return e.tmpl.Name }

func (e *Encoder) updateLocked() Update {
	return Update{Value: e.value, Coarse: coarseOf(e.value), Lock: e.locked}
}

// persist writes the state blob. A store failure degrades durability,
// not correctness, so it is logged rather than surfaced.
func (e *Encoder) persist() {
	data, err := json.Marshal(persisted{
		Template: e.tmpl.Name,
		Value:    e.value,
		Set:      e.set,
		Locked:   e.locked,
	})
	if err == nil {
		err = e.st.SaveState(store.StateConversionValue, data)
	}
	if err != nil && e.logger != nil {
		e.logger.Warn("persist conversion state failed", slog.String("error", err.Error()))
	}
}

// tierCode selects the highest tier whose lower bound does not exceed
// revenue. Revenue below every bound maps to the first tier.
func tierCode(tiers []Tier, revenue float64) int {
	code := tiers[0].Code
	for _, tier := range tiers {
		if revenue >= tier.LowerBound {
			code = tier.Code
		}
	}
	return code
}

// revenueOf extracts a numeric revenue property.
func revenueOf(props event.Properties) (float64, bool) {
	v, ok := props[event.PropRevenue]
	if !ok {
		return 0, false
	}
	return v.AsNumber()
}
