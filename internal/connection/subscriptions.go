package connection

import "github.com/rickgao/tokenfeed/internal/frame"

// subscription is one channel the stream should be subscribed to.
type subscription struct {
	channel string
	params  frame.Params
}

// subscriptionTable keeps subscriptions in registration order. Owned by the
// manager loop; not safe for concurrent use.
type subscriptionTable struct {
	order []string
	index map[string]frame.Params
}

func newSubscriptionTable() *subscriptionTable {
	return &subscriptionTable{index: make(map[string]frame.Params)}
}

// put records channel. A channel that is already present keeps its
// original position and takes the new params.
func (t *subscriptionTable) put(channel string, params frame.Params) {
	if _, ok := t.index[channel]; !ok {
		t.order = append(t.order, channel)
	}
	t.index[channel] = params
}

// remove deletes channel and reports whether it was present.
func (t *subscriptionTable) remove(channel string) bool {
	if _, ok := t.index[channel]; !ok {
		return false
	}
	delete(t.index, channel)
	for i, ch := range t.order {
		if ch == channel {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return true
}

func (t *subscriptionTable) len() int {
	return len(t.order)
}

// all returns subscriptions in registration order.
func (t *subscriptionTable) all() []subscription {
	out := make([]subscription, 0, len(t.order))
	for _, ch := range t.order {
		out = append(out, subscription{channel: ch, params: t.index[ch]})
	}
	return out
}
