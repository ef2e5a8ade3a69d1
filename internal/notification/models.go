package notification

import (
	"time"

	"github.com/google/uuid"
)

// Category classifies a notification by what part of the system produced it.
type Category string

const (
	CategoryPresence  Category = "presence"
	CategoryIssuance  Category = "issuance"
	CategoryLifecycle Category = "lifecycle"
	CategorySystem    Category = "system"
	CategorySignIn    Category = "signin"
)

// Priority orders notifications for display and escalation.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// rank orders priorities for threshold comparisons.
var rank = map[Priority]int{
	PriorityLow:    0,
	PriorityMedium: 1,
	PriorityHigh:   2,
	PriorityUrgent: 3,
}

// AtLeast reports whether p meets or exceeds the threshold priority.
func (p Priority) AtLeast(threshold Priority) bool {
	return rank[p] >= rank[threshold]
}

// Record is one entry in the notification feed. Created by classification,
// mutated only by read-state transitions, removed by explicit clear or
// time-based eviction. Persistent records survive both bounding and
// retention and are only removed by explicit user action.
type Record struct {
	ID         uuid.UUID `json:"id"`
	Category   Category  `json:"category"`
	Priority   Priority  `json:"priority"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
	Read       bool      `json:"read"`
	ActionRef  string    `json:"action_ref,omitempty"`
	Persistent bool      `json:"persistent"`
}

// classification is one row of the static event-to-record table.
type classification struct {
	Category Category
	Priority Priority
}

// classifications maps lifecycle actions and alert severities to their
// category and priority. Redemptions are always presence/medium; rotation is
// an issuance event since it mints the next credential.
var (
	redemptionClass = classification{CategoryPresence, PriorityMedium}

	lifecycleClasses = map[string]classification{
		"started": {CategoryLifecycle, PriorityMedium},
		"rotated": {CategoryIssuance, PriorityLow},
		"stopped": {CategoryLifecycle, PriorityMedium},
	}

	alertClasses = map[string]classification{
		"info":     {CategorySystem, PriorityLow},
		"warning":  {CategorySystem, PriorityHigh},
		"critical": {CategorySystem, PriorityUrgent},
	}

	// defaultAlertClass covers unknown severities; an alert the table does
	// not recognize still deserves attention.
	defaultAlertClass = classification{CategorySystem, PriorityHigh}

	signInClass = classification{CategorySignIn, PriorityLow}
)
