package audit

import (
	"time"

	"github.com/google/uuid"
)

type Action string

const (
	ActionCreateVisit        Action = "CREATE_VISIT"
	ActionUpdateTestStatus   Action = "UPDATE_TEST_STATUS"
	ActionEnterResults       Action = "ENTER_RESULTS"
	ActionApproveResults     Action = "APPROVE_RESULTS"
	ActionEditApprovedReport Action = "EDIT_APPROVED_REPORT"
	ActionCollectDuePayment  Action = "COLLECT_DUE_PAYMENT"
	ActionManageUsers        Action = "MANAGE_USERS"
	ActionManageRoles        Action = "MANAGE_ROLES"
	ActionManageTests        Action = "MANAGE_TESTS"
	ActionManagePrices       Action = "MANAGE_PRICES"
	ActionManageB2B          Action = "MANAGE_B2B"
	ActionManageAntibiotics  Action = "MANAGE_ANTIBIOTICS"
	ActionManageDoctors      Action = "MANAGE_DOCTORS"
)

// Entry is one immutable audit log row.
type Entry struct {
	ID         uuid.UUID  `json:"id"`
	Timestamp  time.Time  `json:"timestamp"`
	UserID     *uuid.UUID `json:"user_id,omitempty"`
	Username   string     `json:"username"`
	Action     Action     `json:"action"`
	EntityType string     `json:"entity_type,omitempty"`
	EntityID   string     `json:"entity_id,omitempty"`
	Details    string     `json:"details"`
}

// Filter narrows the admin viewer. Zero values match everything.
type Filter struct {
	Username string
	Action   Action
	EntityID string
	From     *time.Time
	To       *time.Time
}
