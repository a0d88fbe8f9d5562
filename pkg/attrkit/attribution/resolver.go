package attribution

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/attrkit/attrkit/pkg/attrkit/store"
)

// Record is the canonical attribution record. A value copy of it is
// stamped onto every event at enqueue time and fed to the conversion
// value encoder.
type Record struct {
	Source   string `json:"source,omitempty"`
	Medium   string `json:"medium,omitempty"`
	Campaign string `json:"campaign,omitempty"`
	Term     string `json:"term,omitempty"`
	Content  string `json:"content,omitempty"`

	// Network is the winning ad network, empty for organic installs.
	Network string `json:"network,omitempty"`

	// ClickIDs maps network name to its opaque click identifier.
	// The explicit deep-link click id is stored under "deep_link".
	ClickIDs map[string]string `json:"clickIds,omitempty"`

	DeepLink string `json:"deepLink,omitempty"`

	// InstallTime is when the first-touch record was locked.
	InstallTime time.Time `json:"installTime,omitzero"`

	// FirstTouch is true only on the locked first-touch record.
	FirstTouch bool `json:"firstTouch"`

	// Signal is the winning signal kind name ("deep_link", "utm", ...).
	Signal string `json:"signal,omitempty"`
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	out := r
	if r.ClickIDs != nil {
		out.ClickIDs = make(map[string]string, len(r.ClickIDs))
		for k, v := range r.ClickIDs {
			out.ClickIDs[k] = v
		}
	}
	return out
}

// IsOrganic reports whether the record carries no attribution signal.
func (r Record) IsOrganic() bool {
	return r.Signal == "" || r.Signal == KindOrganic.String()
}

// Resolver merges attribution signals under the precedence policy and owns
// the write-once first-touch record.
type Resolver struct {
	mu      sync.RWMutex
	st      store.Store
	logger  *slog.Logger
	now     func() time.Time
	first   *Record // locked after first resolution, nil before
	current *Record // mutable last-touch view
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithLogger sets the logger used for resolution-log entries.
func WithLogger(logger *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}

// NewResolver creates a resolver backed by the given store. A previously
// locked first-touch record is reloaded from the store so the lock
// survives restarts.
func NewResolver(st store.Store, opts ...ResolverOption) (*Resolver, error) {
	r := &Resolver{
		st:     st,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	data, err := st.LoadState(store.StateFirstTouch)
	switch {
	case errors.Is(err, store.ErrNotFound):
		// Fresh install, nothing locked yet.
	case err != nil:
		return nil, fmt.Errorf("load first-touch attribution: %w", err)
	default:
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("decode first-touch attribution: %w", err)
		}
		r.first = &rec
	}

	return r, nil
}

// Ingest resolves one or more simultaneous signals into the canonical
// record and returns the resulting last-touch view. Conflicts are resolved
// by the precedence table, deterministically for equal-precedence signals,
// and are logged rather than surfaced as errors. Signals without content
// are ignored.
func (r *Resolver) Ingest(signals ...Signal) Record {
	contentful := make([]Signal, 0, len(signals))
	for _, sig := range signals {
		if sig.hasContent() {
			contentful = append(contentful, sig)
		}
	}
	if len(contentful) == 0 {
		return r.Snapshot()
	}

	// Precedence decides; tie-break keeps equal-precedence resolution
	// independent of arrival order.
	sort.SliceStable(contentful, func(i, j int) bool {
		pi, pj := contentful[i].Kind.precedence(), contentful[j].Kind.precedence()
		if pi != pj {
			return pi > pj
		}
		return contentful[i].tieBreak() < contentful[j].tieBreak()
	})

	rec := merge(contentful)

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(contentful) > 1 {
		r.logger.Debug("attribution conflict resolved",
			slog.String("winner", contentful[0].Kind.String()),
			slog.Int("signals", len(contentful)),
		)
	}

	if r.first == nil {
		locked := rec.Clone()
		locked.FirstTouch = true
		locked.InstallTime = r.now().UTC()
		r.first = &locked
		r.persistFirstTouchLocked()
		r.logger.Info("first-touch attribution locked",
			slog.String("signal", locked.Signal),
			slog.String("source", locked.Source),
			slog.String("network", locked.Network),
		)
	}

	current := rec.Clone()
	r.current = &current

	return current.Clone()
}

// merge builds a record from signals already sorted by descending
// precedence: scalar fields take the first non-empty value, click ids
// accumulate across all signals.
func merge(sorted []Signal) Record {
	rec := Record{Signal: sorted[0].Kind.String()}

	for _, sig := range sorted {
		if rec.Source == "" {
			rec.Source = sig.Source
		}
		if rec.Medium == "" {
			rec.Medium = sig.Medium
		}
		if rec.Campaign == "" {
			rec.Campaign = sig.Campaign
		}
		if rec.Term == "" {
			rec.Term = sig.Term
		}
		if rec.Content == "" {
			rec.Content = sig.Content
		}
		if rec.Network == "" {
			rec.Network = sig.Network
		}
		if rec.DeepLink == "" {
			rec.DeepLink = sig.DeepLink
		}

		if sig.ClickID != "" {
			if rec.ClickIDs == nil {
				rec.ClickIDs = make(map[string]string)
			}
			key := sig.Network
			if sig.Kind == KindDeepLink {
				key = "deep_link"
			}
			if key != "" {
				if _, exists := rec.ClickIDs[key]; !exists {
					rec.ClickIDs[key] = sig.ClickID
				}
			}
		}
	}

	return rec
}

// persistFirstTouchLocked writes the locked record. Persistence failures
// degrade to a warning: the lock still holds in memory for this process.
func (r *Resolver) persistFirstTouchLocked() {
	data, err := json.Marshal(r.first)
	if err == nil {
		err = r.st.SaveState(store.StateFirstTouch, data)
	}
	if err != nil {
		r.logger.Warn("persist first-touch attribution failed",
			slog.String("error", err.Error()),
		)
	}
}

// FirstTouch returns the locked first-touch record, if any.
func (r *Resolver) FirstTouch() (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.first == nil {
		return Record{}, false
	}
	return r.first.Clone(), true
}

// Current returns the mutable last-touch view. Before any signal has been
// ingested it falls back to the first-touch record, then to organic.
func (r *Resolver) Current() Record {
	return r.Snapshot()
}

// Snapshot returns a point-in-time copy of the attribution state for
// stamping onto events.
func (r *Resolver) Snapshot() Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.current != nil {
		return r.current.Clone()
	}
	if r.first != nil {
		return r.first.Clone()
	}
	return Record{Signal: KindOrganic.String()}
}
