package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// UnitEventKind names an event emitted by the execution unit.
type UnitEventKind string

const (
	EventArbitrageExecuted  UnitEventKind = "ArbitrageExecuted"
	EventArbitrageFailed    UnitEventKind = "ArbitrageFailed"
	EventVenueAdded         UnitEventKind = "VenueAdded"
	EventVenueStatusChanged UnitEventKind = "VenueStatusChanged"
)

// UnitEvent is a single event emitted by the execution unit.
type UnitEvent struct {
	Kind      UnitEventKind  `json:"kind"`
	TokenA    common.Address `json:"token_a,omitempty"`
	TokenB    common.Address `json:"token_b,omitempty"`
	AmountIn  *big.Int       `json:"amount_in,omitempty"`
	Profit    *big.Int       `json:"profit,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Venue     VenueID        `json:"venue,omitempty"`
	Active    bool           `json:"active,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// EventSink receives unit events after they are committed.
type EventSink interface {
	Emit(ev UnitEvent)
}

// Signal bus channels shared by the orchestrator, server and hub.
const (
	ChannelExecutions = "executions"
	ChannelCandidates = "candidates"
	ChannelRisk       = "risk"
	ChannelUnitEvents = "unit_events"
)
