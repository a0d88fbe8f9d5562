package conversion_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attrkit/attrkit/pkg/attrkit/conversion"
	"github.com/attrkit/attrkit/pkg/attrkit/event"
	"github.com/attrkit/attrkit/pkg/attrkit/store"
)

func ecommerceTemplate(t *testing.T) conversion.Template {
	t.Helper()
	tmpl, ok := conversion.NewRegistry().Get(conversion.TemplateEcommerce)
	require.True(t, ok)
	return tmpl
}

func revenueProps(amount float64) event.Properties {
	return event.Properties{
		event.PropRevenue:  event.Number(amount),
		event.PropCurrency: event.String("USD"),
	}
}

func TestEncodeStaticCode(t *testing.T) {
	enc, err := conversion.NewEncoder(ecommerceTemplate(t), store.NewMemoryStore())
	require.NoError(t, err)

	update, changed := enc.Encode("add_to_cart", nil)
	require.True(t, changed)
	assert.Equal(t, 4, update.Value)
	assert.Equal(t, conversion.CoarseLow, update.Coarse)
	assert.False(t, update.Lock)
}

// encodePurchase runs one purchase against a fresh installation; the
// purchase rule locks the value, so each revenue needs its own encoder.
func encodePurchase(t *testing.T, revenue float64) conversion.Update {
	t.Helper()
	enc, err := conversion.NewEncoder(ecommerceTemplate(t), store.NewMemoryStore())
	require.NoError(t, err)

	update, changed := enc.Encode("purchase", revenueProps(revenue))
	require.True(t, changed)
	return update
}

func TestEncodeRevenueTiers(t *testing.T) {
	// All revenues in [75, 150) land in the same tier.
	var codes []int
	for _, revenue := range []float64{75.00, 89.97, 120.50, 149.99} {
		codes = append(codes, encodePurchase(t, revenue).Value)
	}
	for _, code := range codes {
		assert.Equal(t, codes[0], code)
	}
}

func TestEncodeLowestTier(t *testing.T) {
	tmpl := ecommerceTemplate(t)
	update := encodePurchase(t, 0.5)

	purchase := tmpl.Rules[len(tmpl.Rules)-1]
	assert.Equal(t, purchase.Tiers[0].Code, update.Value)
}

func TestEncodeTierBoundaries(t *testing.T) {
	below := encodePurchase(t, 74.99)
	at := encodePurchase(t, 75.00)
	above := encodePurchase(t, 150.00)

	assert.NotEqual(t, below.Value, at.Value)
	assert.NotEqual(t, at.Value, above.Value)
}

func TestUnknownEventIsNoop(t *testing.T) {
	enc, err := conversion.NewEncoder(ecommerceTemplate(t), store.NewMemoryStore())
	require.NoError(t, err)

	_, changed := enc.Encode("begin_checkout", nil)
	require.True(t, changed)
	before, _ := enc.Value()

	_, changed = enc.Encode("mystery_event", nil)
	assert.False(t, changed)

	after, _ := enc.Value()
	assert.Equal(t, before, after)
}

func TestLockStopsFurtherUpdates(t *testing.T) {
	enc, err := conversion.NewEncoder(ecommerceTemplate(t), store.NewMemoryStore())
	require.NoError(t, err)

	update, changed := enc.Encode("purchase", revenueProps(20))
	require.True(t, changed)
	require.True(t, update.Lock)
	require.True(t, enc.Locked())

	locked := update.Value
	_, changed = enc.Encode("add_to_cart", nil)
	assert.False(t, changed)

	value, set := enc.Value()
	assert.True(t, set)
	assert.Equal(t, locked, value)
}

func TestValueSurvivesRestart(t *testing.T) {
	st := store.NewMemoryStore()

	enc1, err := conversion.NewEncoder(ecommerceTemplate(t), st)
	require.NoError(t, err)
	update, changed := enc1.Encode("begin_checkout", nil)
	require.True(t, changed)

	enc2, err := conversion.NewEncoder(ecommerceTemplate(t), st)
	require.NoError(t, err)

	value, set := enc2.Value()
	assert.True(t, set)
	assert.Equal(t, update.Value, value)
}

func TestTemplateSwitchRejected(t *testing.T) {
	st := store.NewMemoryStore()
	registry := conversion.NewRegistry()

	ecommerce, _ := registry.Get(conversion.TemplateEcommerce)
	gaming, _ := registry.Get(conversion.TemplateGaming)

	enc, err := conversion.NewEncoder(ecommerce, st)
	require.NoError(t, err)
	_, changed := enc.Encode("signup", nil)
	require.True(t, changed)

	_, err = conversion.NewEncoder(gaming, st)
	assert.ErrorIs(t, err, conversion.ErrTemplateLocked)
}

func TestPostbackSenderReceivesUpdates(t *testing.T) {
	var got []conversion.Update
	sender := conversion.PostbackFunc(func(u conversion.Update) error {
		got = append(got, u)
		return nil
	})

	enc, err := conversion.NewEncoder(ecommerceTemplate(t), store.NewMemoryStore(),
		conversion.WithPostbackSender(sender))
	require.NoError(t, err)

	enc.Encode("add_to_cart", nil)
	enc.Encode("mystery_event", nil) // no-op, no postback
	enc.Encode("purchase", revenueProps(200))

	require.Len(t, got, 2)
	assert.Equal(t, 4, got[0].Value)
	assert.True(t, got[1].Lock)
}

func TestCoarseClassification(t *testing.T) {
	enc, err := conversion.NewEncoder(ecommerceTemplate(t), store.NewMemoryStore())
	require.NoError(t, err)

	low, _ := enc.Encode("signup", nil) // code 2
	assert.Equal(t, conversion.CoarseLow, low.Coarse)

	medium, _ := enc.Encode("purchase", revenueProps(100)) // code 32
	assert.Equal(t, conversion.CoarseMedium, medium.Coarse)
}
