// Package conversion maps tracked events onto the 6-bit conversion value
// reported through the platform postback channel. A template describes,
// per app category, which events move the value and how revenue folds
// into tiers. Templates are static configuration: validated once, read
// from then on.
package conversion

import (
	"fmt"
	"sort"
	"sync"
)

// MaxValue is the upper bound of the postback value budget. Values are
// always in [0, MaxValue].
const MaxValue = 63

// Tier assigns a bit-code to a revenue band. The band starts at
// LowerBound (inclusive) and ends at the next tier's bound (exclusive);
// the last tier is open-ended.
type Tier struct {
	LowerBound float64 `yaml:"lowerBound" json:"lowerBound"`
	Code       int     `yaml:"code" json:"code"`
}

// Rule maps one event name to a conversion code. A rule either carries a
// static Code or a revenue Tiers ladder, not both. Lock marks the rule as
// terminal for postback generations that support locking the value.
type Rule struct {
	EventName string `yaml:"eventName" json:"eventName"`
	Code      int    `yaml:"code" json:"code"`
	Lock      bool   `yaml:"lock,omitempty" json:"lock,omitempty"`
	Tiers     []Tier `yaml:"tiers,omitempty" json:"tiers,omitempty"`
}

// tiered reports whether the rule resolves through revenue tiers.
func (r Rule) tiered() bool { return len(r.Tiers) > 0 }

// Template is an ordered set of rules for one app category.
type Template struct {
	Name  string `yaml:"name" json:"name"`
	Rules []Rule `yaml:"rules" json:"rules"`
}

// Validate checks the template for structural errors: codes within the
// value budget, tier bounds strictly ascending, no duplicate event names.
func (t Template) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("template name is required")
	}
	if len(t.Rules) == 0 {
		return fmt.Errorf("template %q has no rules", t.Name)
	}

	seen := make(map[string]bool, len(t.Rules))
	for _, rule := range t.Rules {
		if rule.EventName == "" {
			return fmt.Errorf("template %q: rule with empty event name", t.Name)
		}
		if seen[rule.EventName] {
			return fmt.Errorf("template %q: duplicate rule for event %q", t.Name, rule.EventName)
		}
		seen[rule.EventName] = true

		if rule.tiered() {
			for i, tier := range rule.Tiers {
				if tier.Code < 0 || tier.Code > MaxValue {
					return fmt.Errorf("template %q: event %q tier %d code %d out of range [0, %d]",
						t.Name, rule.EventName, i, tier.Code, MaxValue)
				}
				if i > 0 && tier.LowerBound <= rule.Tiers[i-1].LowerBound {
					return fmt.Errorf("template %q: event %q tier bounds must be strictly ascending",
						t.Name, rule.EventName)
				}
			}
			continue
		}

		if rule.Code < 0 || rule.Code > MaxValue {
			return fmt.Errorf("template %q: event %q code %d out of range [0, %d]",
				t.Name, rule.EventName, rule.Code, MaxValue)
		}
	}
	return nil
}

// rule returns the rule for an event name, if any.
func (t Template) rule(eventName string) (Rule, bool) {
	for _, r := range t.Rules {
		if r.EventName == eventName {
			return r, true
		}
	}
	return Rule{}, false
}

// Registry holds named templates. The built-in templates are registered
// on construction; applications may add their own before selecting one.
type Registry struct {
	mu        sync.RWMutex
	templates map[string]Template
}

// NewRegistry returns a registry pre-populated with the built-in
// templates.
func NewRegistry() *Registry {
	r := &Registry{templates: make(map[string]Template)}
	for _, t := range builtinTemplates() {
		r.templates[t.Name] = t
	}
	return r
}

// Register validates and adds a template. Re-registering an existing
// name is an error; templates are immutable once published.
func (r *Registry) Register(t Template) error {
	if err := t.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.templates[t.Name]; ok {
		return fmt.Errorf("template %q is already registered", t.Name)
	}
	r.templates[t.Name] = t
	return nil
}

// Get looks up a template by name.
func (r *Registry) Get(name string) (Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templates[name]
	return t, ok
}

// Names returns registered template names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.templates))
	for name := range r.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Built-in template names.
const (
	TemplateEcommerce    = "ecommerce"
	TemplateGaming       = "gaming"
	TemplateSubscription = "subscription"
)

func builtinTemplates() []Template {
	return []Template{
		{
			Name: TemplateEcommerce,
			Rules: []Rule{
				{EventName: "signup", Code: 2},
				{EventName: "add_to_cart", Code: 4},
				{EventName: "begin_checkout", Code: 8},
				{EventName: "purchase", Lock: true, Tiers: []Tier{
					{LowerBound: 0, Code: 16},
					{LowerBound: 5, Code: 20},
					{LowerBound: 15, Code: 24},
					{LowerBound: 35, Code: 28},
					{LowerBound: 75, Code: 32},
					{LowerBound: 150, Code: 40},
					{LowerBound: 300, Code: 48},
				}},
			},
		},
		{
			Name: TemplateGaming,
			Rules: []Rule{
				{EventName: "tutorial_complete", Code: 2},
				{EventName: "level_up", Code: 6},
				{EventName: "ad_impression", Code: 10},
				{EventName: "iap_purchase", Lock: true, Tiers: []Tier{
					{LowerBound: 0, Code: 24},
					{LowerBound: 1, Code: 28},
					{LowerBound: 5, Code: 36},
					{LowerBound: 10, Code: 44},
					{LowerBound: 25, Code: 52},
					{LowerBound: 50, Code: 60},
				}},
			},
		},
		{
			Name: TemplateSubscription,
			Rules: []Rule{
				{EventName: "cancel", Code: 1},
				{EventName: "trial_start", Code: 8},
				{EventName: "subscribe", Lock: true, Tiers: []Tier{
					{LowerBound: 0, Code: 32},
					{LowerBound: 10, Code: 40},
					{LowerBound: 30, Code: 48},
					{LowerBound: 60, Code: 56},
				}},
			},
		},
	}
}
