package controller

import "time"

// StartCycleRequest begins a group's rotation.
type StartCycleRequest struct {
	FirstCycleDate time.Time `json:"first_cycle_date" validate:"required"`
	Frequency      string    `json:"frequency" validate:"required,oneof=daily weekly biweekly monthly"`
}

// PauseGroupRequest pauses a group.
type PauseGroupRequest struct {
	Reason string `json:"reason" validate:"required,oneof=payment_failures all_paid admin subscription"`
}

// GroupStateResponse is the admin read view of a group.
type GroupStateResponse struct {
	GroupID       string      `json:"group_id"`
	Status        string      `json:"status"`
	PauseReason   string      `json:"pause_reason,omitempty"`
	CycleStarted  bool        `json:"cycle_started"`
	CurrentCycle  int         `json:"current_cycle"`
	NextCycleDate *time.Time  `json:"next_cycle_date,omitempty"`
	FutureCycles  []time.Time `json:"future_cycles"`
	TotalDebited  string      `json:"total_debited"`
	TotalPending  string      `json:"total_pending"`
	TotalSuccess  string      `json:"total_success"`
}

// StatusResponse acknowledges a control operation.
type StatusResponse struct {
	Status string `json:"status"`
}
