package broadcast

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNotifierCallsInOrder(t *testing.T) {
	var n Notifier
	var calls []string
	n.Subscribe(func() { calls = append(calls, "a") })
	n.Subscribe(func() { calls = append(calls, "b") })

	n.Notify()
	assert.Equal(t, []string{"a", "b"}, calls)
}

func TestNotifierCancel(t *testing.T) {
	var n Notifier
	count := 0
	cancel := n.Subscribe(func() { count++ })
	n.Notify()
	cancel()
	cancel()
	n.Notify()

	assert.Equal(t, 1, count)
	assert.Equal(t, 0, n.Len())
}

func TestNotifierListenerMayUnsubscribeItself(t *testing.T) {
	var n Notifier
	var cancel func()
	count := 0
	cancel = n.Subscribe(func() {
		count++
		cancel()
	})

	n.Notify()
	n.Notify()
	assert.Equal(t, 1, count)
}
