package db

import "time"

// Status is a pending_covenants row's lifecycle stage. Transitions are
// monotonic: Pending -> TransactionFound -> Claimed; nothing moves
// backward.
type Status int

const (
	Pending          Status = 0
	TransactionFound Status = 1
	Claimed          Status = 2
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case TransactionFound:
		return "transaction_found"
	case Claimed:
		return "claimed"
	default:
		return "unknown"
	}
}

// Covenant is one pending_covenants row: a registered claim the Claimer
// watches for and the Constructor eventually spends.
type Covenant struct {
	OutputScript []byte
	Status       Status
	InternalKey  []byte
	Preimage     []byte
	SwapTree     string
	Address      []byte
	BlindingKey  []byte // nil when the covenant output is explicit
	TxID         []byte
	TxTime       *time.Time
	CreatedAt    time.Time
	SwapID       string
}
