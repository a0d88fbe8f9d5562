package conversion

// PostbackSender is the bridge to the OS postback API. The encoder never
// transmits the conversion value over its own network channel; the host
// application supplies a sender backed by the platform call.
type PostbackSender interface {
	SendPostback(update Update) error
}

// PostbackFunc adapts a function to the PostbackSender interface.
type PostbackFunc func(update Update) error

func (f PostbackFunc) SendPostback(update Update) error { return f(update) }

// NoopSender discards updates. Useful on platforms without a postback
// channel and in tests.
type NoopSender struct{}

func (NoopSender) SendPostback(Update) error { return nil }
