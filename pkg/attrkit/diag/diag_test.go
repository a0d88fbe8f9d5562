package diag_test

import (
	"sync"
	"testing"
	"time"

	"github.com/attrkit/attrkit/pkg/attrkit/diag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifier_FanOut(t *testing.T) {
	n := diag.NewNotifier(diag.NotifierConfig{})
	defer n.Close()

	var mu sync.Mutex
	var got []diag.Notice
	done := make(chan struct{}, 2)

	for i := 0; i < 2; i++ {
		n.Subscribe(func(notice diag.Notice) {
			mu.Lock()
			got = append(got, notice)
			mu.Unlock()
			done <- struct{}{}
		})
	}

	n.Publish(diag.Notice{Kind: diag.KindItemDropped, EventID: "evt-1", Message: "max attempts exceeded"})

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for notice delivery")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	assert.Equal(t, diag.KindItemDropped, got[0].Kind)
	assert.Equal(t, "evt-1", got[0].EventID)
	assert.False(t, got[0].Timestamp.IsZero())
}

func TestNotifier_PublishNeverBlocks(t *testing.T) {
	n := diag.NewNotifier(diag.NotifierConfig{BufferSize: 1})
	defer n.Close()

	block := make(chan struct{})
	n.Subscribe(func(diag.Notice) {
		<-block // stall the subscriber
	})

	// Flood well past the buffer; Publish must return promptly anyway.
	for i := 0; i < 50; i++ {
		n.Publish(diag.Notice{Kind: diag.KindDeliveryFailed})
	}
	close(block)

	assert.Greater(t, n.Dropped(), int64(0))
}

func TestNotifier_Cancel(t *testing.T) {
	n := diag.NewNotifier(diag.NotifierConfig{})
	defer n.Close()

	received := make(chan diag.Notice, 8)
	cancel := n.Subscribe(func(notice diag.Notice) {
		received <- notice
	})

	cancel()
	cancel() // idempotent

	n.Publish(diag.Notice{Kind: diag.KindStorageDegraded})

	select {
	case <-received:
		t.Fatal("cancelled subscriber received a notice")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNotifier_PublishAfterClose(t *testing.T) {
	n := diag.NewNotifier(diag.NotifierConfig{})
	n.Close()
	n.Close() // idempotent

	// Must not panic.
	n.Publish(diag.Notice{Kind: diag.KindItemDropped})
	assert.Equal(t, int64(0), n.Dropped())
}
