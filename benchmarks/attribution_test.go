package benchmarks

import (
	"testing"

	"github.com/attrkit/attrkit/pkg/attrkit/attribution"
	"github.com/attrkit/attrkit/pkg/attrkit/conversion"
	"github.com/attrkit/attrkit/pkg/attrkit/event"
	"github.com/attrkit/attrkit/pkg/attrkit/store"
)

// BenchmarkIngest measures multi-signal resolution.
func BenchmarkIngest(b *testing.B) {
	resolver, err := attribution.NewResolver(store.NewMemoryStore())
	if err != nil {
		b.Fatal(err)
	}

	signals := []attribution.Signal{
		attribution.UTMSignal("google", "cpc", "brand", "", ""),
		attribution.NetworkClickSignal("meta", "fb-123"),
		attribution.DeepLinkSignal("myapp://offer/42", "click-X"),
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		resolver.Ingest(signals...)
	}
}

// BenchmarkParseURL measures signal extraction from a landing URL.
func BenchmarkParseURL(b *testing.B) {
	raw := "https://shop.example.com/landing?utm_source=newsletter&utm_medium=email&utm_campaign=spring&gclid=abc123"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := attribution.ParseURL(raw); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkEncode measures a tiered conversion value encoding.
func BenchmarkEncode(b *testing.B) {
	registry := conversion.NewRegistry()
	tmpl, _ := registry.Get(conversion.TemplateGaming)

	enc, err := conversion.NewEncoder(tmpl, store.NewMemoryStore())
	if err != nil {
		b.Fatal(err)
	}
	props := event.Properties{event.PropRevenue: event.Number(4.99)}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		enc.Encode("level_up", props)
	}
}
