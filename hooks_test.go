package ircd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHookBusFireFirstNonPassthru(t *testing.T) {
	bus := NewHookBus()
	bus.Subscribe(EventPreJoin, "a", Priority{Kind: PriorityLast}, func(any) Verdict { return Passthru })
	bus.Subscribe(EventPreJoin, "b", Priority{Kind: PriorityLast}, func(any) Verdict { return Deny })
	bus.Subscribe(EventPreJoin, "c", Priority{Kind: PriorityLast}, func(any) Verdict { return Allow })

	assert.Equal(t, Deny, bus.Fire(EventPreJoin, nil))
}

func TestHookBusFirePassthruWhenNoneDecide(t *testing.T) {
	bus := NewHookBus()
	bus.Subscribe(EventPreJoin, "a", Priority{Kind: PriorityLast}, func(any) Verdict { return Passthru })

	assert.Equal(t, Passthru, bus.Fire(EventPreJoin, nil))
}

func TestHookBusFireAllRunsEveryListener(t *testing.T) {
	bus := NewHookBus()
	var calls []string
	bus.Subscribe(EventUserQuit, "a", Priority{Kind: PriorityLast}, func(any) Verdict {
		calls = append(calls, "a")
		return Deny
	})
	bus.Subscribe(EventUserQuit, "b", Priority{Kind: PriorityLast}, func(any) Verdict {
		calls = append(calls, "b")
		return Passthru
	})

	bus.FireAll(EventUserQuit, nil)
	assert.ElementsMatch(t, []string{"a", "b"}, calls)
}

func TestHookBusPriorityFirst(t *testing.T) {
	bus := NewHookBus()
	var order []string
	bus.Subscribe(EventPostJoin, "later", Priority{Kind: PriorityLast}, func(any) Verdict {
		order = append(order, "later")
		return Passthru
	})
	bus.Subscribe(EventPostJoin, "earlier", Priority{Kind: PriorityFirst}, func(any) Verdict {
		order = append(order, "earlier")
		return Passthru
	})

	bus.FireAll(EventPostJoin, nil)
	assert.Equal(t, []string{"earlier", "later"}, order)
}

func TestHookBusUnsubscribe(t *testing.T) {
	bus := NewHookBus()
	called := false
	bus.Subscribe(EventPreJoin, "a", Priority{Kind: PriorityLast}, func(any) Verdict {
		called = true
		return Passthru
	})
	bus.Unsubscribe(EventPreJoin, "a")
	bus.FireAll(EventPreJoin, nil)

	assert.False(t, called)
}
