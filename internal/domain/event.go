package domain

import "time"

// Signal bus channels.
const (
	ChannelPools       = "pools"
	ChannelSettlements = "settlements"
	// StreamEvents is the capped stream every published event is appended
	// to.
	StreamEvents = "events"
)

// Event names shared by the audit log, the signal bus and notifications.
const (
	EventPoolCreated     = "pool_created"
	EventStakeUpdated    = "stake_updated"
	EventPoolJoined      = "pool_joined"
	EventOutcomeRecorded = "outcome_recorded"
	EventPoolSettled     = "pool_settled"
	EventArchive         = "archive.settlements"
)

// PoolEvent is the JSON payload published on the signal bus.
type PoolEvent struct {
	Event        string    `json:"event"`
	PoolID       uint64    `json:"pool_id"`
	Round        uint64    `json:"round"`
	State        string    `json:"state"`
	Stake        string    `json:"stake"`
	Participants []string  `json:"participants"`
	Winner       string    `json:"winner,omitempty"`
	IsDraw       bool      `json:"is_draw,omitempty"`
	Caller       string    `json:"caller,omitempty"`
	SettlementID string    `json:"settlement_id,omitempty"`
	At           time.Time `json:"at"`
}
