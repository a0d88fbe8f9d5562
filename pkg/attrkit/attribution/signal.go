// Package attribution merges attribution signals from multiple sources
// into one canonical record.
//
// Signals arrive from deep links, paid-network click identifiers, Apple
// Search Ads responses, install referrers, SKAdNetwork/AdAttributionKit
// postback metadata, and plain UTM parameters. Conflicts are resolved by a
// strict precedence table, never by arrival order. The first successful
// resolution after install is locked as the immutable first-touch record;
// later signals only update a mutable last-touch view.
package attribution

import (
	"net/url"
	"strings"
	"time"
)

// SignalKind identifies the source class of an attribution signal.
type SignalKind int

const (
	// KindOrganic is the absence of any paid or tagged signal.
	KindOrganic SignalKind = iota

	// KindUTM carries utm_* query parameters.
	KindUTM

	// KindPostback carries SKAdNetwork/AdAttributionKit postback metadata.
	KindPostback

	// KindSearchAds carries an Apple Search Ads attribution response.
	KindSearchAds

	// KindNetworkClick carries a paid-network click identifier
	// (gclid, fbclid, ttclid, ...).
	KindNetworkClick

	// KindDeepLink carries an explicit deep-link click identifier.
	KindDeepLink
)

// String returns the signal kind name.
func (k SignalKind) String() string {
	switch k {
	case KindOrganic:
		return "organic"
	case KindUTM:
		return "utm"
	case KindPostback:
		return "postback"
	case KindSearchAds:
		return "search_ads"
	case KindNetworkClick:
		return "network_click"
	case KindDeepLink:
		return "deep_link"
	default:
		return "unknown"
	}
}

// precedence returns the resolution rank of a signal kind.
// Higher wins. Deep-link click ids outrank paid-network click ids,
// which outrank Apple Search Ads, which outrank postback metadata,
// which outrank UTM parameters; organic ranks last.
func (k SignalKind) precedence() int {
	switch k {
	case KindDeepLink:
		return 50
	case KindNetworkClick:
		return 40
	case KindSearchAds:
		return 30
	case KindPostback:
		return 20
	case KindUTM:
		return 10
	default:
		return 0
	}
}

// Signal is one typed attribution input. Use the constructors below;
// a zero Signal is treated as organic.
type Signal struct {
	Kind SignalKind

	// UTM fields, set for KindUTM and optionally alongside other kinds
	// when the carrying URL was tagged.
	Source   string
	Medium   string
	Campaign string
	Term     string
	Content  string

	// Network is the ad network name for click and postback signals.
	Network string

	// ClickID is the opaque per-network click identifier.
	ClickID string

	// DeepLink is the full deep-link URL for KindDeepLink.
	DeepLink string

	// ReceivedAt is when the signal was observed. Zero means "now" at
	// ingest time.
	ReceivedAt time.Time
}

// UTMSignal builds a signal from plain UTM parameters.
func UTMSignal(source, medium, campaign, term, content string) Signal {
	return Signal{
		Kind:     KindUTM,
		Source:   source,
		Medium:   medium,
		Campaign: campaign,
		Term:     term,
		Content:  content,
	}
}

// NetworkClickSignal builds a signal from a paid-network click identifier.
func NetworkClickSignal(network, clickID string) Signal {
	return Signal{Kind: KindNetworkClick, Network: network, ClickID: clickID}
}

// DeepLinkSignal builds a signal from an explicit deep-link click.
func DeepLinkSignal(deepLink, clickID string) Signal {
	return Signal{Kind: KindDeepLink, DeepLink: deepLink, ClickID: clickID}
}

// SearchAdsSignal builds a signal from an Apple Search Ads attribution
// response.
func SearchAdsSignal(campaign, source string) Signal {
	return Signal{Kind: KindSearchAds, Network: "apple_search_ads", Source: source, Campaign: campaign}
}

// PostbackSignal builds a signal from SKAdNetwork/AdAttributionKit
// postback metadata.
func PostbackSignal(network, campaign string) Signal {
	return Signal{Kind: KindPostback, Network: network, Campaign: campaign}
}

// clickParams maps known click-id query parameters to their network names.
var clickParams = map[string]string{
	"gclid":   "google",
	"gbraid":  "google",
	"wbraid":  "google",
	"fbclid":  "meta",
	"msclkid": "microsoft",
	"ttclid":  "tiktok",
	"twclid":  "twitter",
	"epik":    "pinterest",
}

// ParseURL extracts attribution signals from an opened URL (deep link or
// referrer). It returns one signal per recognized source: an explicit
// deep-link click id (the "click_id" parameter), per-network click ids,
// and UTM parameters. Unrecognized URLs yield no signals, not an error.
func ParseURL(raw string) ([]Signal, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	q := u.Query()

	var signals []Signal
	if clickID := q.Get("click_id"); clickID != "" {
		signals = append(signals, DeepLinkSignal(raw, clickID))
	}
	return append(signals, signalsFromQuery(q)...), nil
}

// ParseReferrer extracts attribution signals from an install referrer
// payload, the bare query string app stores hand to the app on first
// launch ("utm_source=google&utm_medium=cpc&gclid=abc"). It recognizes
// the same per-network click ids and UTM parameters as ParseURL.
func ParseReferrer(referrer string) ([]Signal, error) {
	q, err := url.ParseQuery(referrer)
	if err != nil {
		return nil, err
	}
	return signalsFromQuery(q), nil
}

// signalsFromQuery extracts per-network click-id and UTM signals from
// parsed query parameters.
func signalsFromQuery(q url.Values) []Signal {
	var signals []Signal

	for param, network := range clickParams {
		if id := q.Get(param); id != "" {
			signals = append(signals, NetworkClickSignal(network, id))
		}
	}

	if src := q.Get("utm_source"); src != "" {
		signals = append(signals, UTMSignal(
			src,
			q.Get("utm_medium"),
			q.Get("utm_campaign"),
			q.Get("utm_term"),
			q.Get("utm_content"),
		))
	}

	return signals
}

// hasContent reports whether the signal carries any attribution data.
func (s Signal) hasContent() bool {
	if s.Kind == KindOrganic {
		return false
	}
	return s.Source != "" || s.ClickID != "" || s.Campaign != "" || s.DeepLink != "" || s.Network != ""
}

// tieBreak provides a deterministic comparison key for signals of equal
// precedence, so simultaneous conflicting signals always resolve the same
// way regardless of slice order.
func (s Signal) tieBreak() string {
	return strings.Join([]string{s.Network, s.ClickID, s.Source, s.Campaign, s.DeepLink}, "\x00")
}
