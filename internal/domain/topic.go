package domain

// Topic identifies one of the fixed data categories the proxy caches and
// broadcasts. The set is closed: each topic maps to exactly one upstream
// endpoint and one cache slot.
type Topic string

const (
	TopicPositions Topic = "positions"
	TopicBalance   Topic = "balance"
	TopicTrades    Topic = "trades"
	TopicOrders    Topic = "orders"
)

// Topics lists every cached topic in snapshot order.
var Topics = []Topic{TopicPositions, TopicBalance, TopicTrades, TopicOrders}

func (t Topic) String() string {
	return string(t)
}

// Valid reports whether t is one of the known topics.
func (t Topic) Valid() bool {
	switch t {
	case TopicPositions, TopicBalance, TopicTrades, TopicOrders:
		return true
	}
	return false
}
