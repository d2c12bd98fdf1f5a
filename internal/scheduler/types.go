// Package scheduler implements the periodic allowance reset.
//
// This file defines the payload shared by the cmd/resetter Lambda handler
// and the HTTP cron trigger. The TaskType constant determines which job the
// handler runs.
package scheduler

import "time"

// TaskType identifies which scheduled job a payload requests.
type TaskType string

const (
	TaskResetCredits TaskType = "reset_credits"
)

// MaintenancePayload is the JSON payload sent by the schedule rule to the
// resetter Lambda:
//
//	{
//	  "task": "reset_credits",
//	  "reference_time": "2026-02-06T03:00:00Z"  // optional
//	}
type MaintenancePayload struct {
	Task TaskType `json:"task"`
	// ReferenceTime overrides "now" for manual invocation and backfills.
	// If nil, the current UTC time is used.
	ReferenceTime *time.Time `json:"reference_time,omitempty"`
}
