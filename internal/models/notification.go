package models

import (
	"time"

	"github.com/noah-isme/demande-api/internal/workflow"
)

// Notification is one entry of a viewer's derived feed.
type Notification struct {
	DemandeID     string            `json:"demande_id"`
	Description   string            `json:"description"`
	RequesterName string            `json:"requester_name"`
	Department    string            `json:"department"`
	Status        workflow.Status   `json:"status"`
	Label         string            `json:"label"`
	Severity      workflow.Severity `json:"severity"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// StatusChangedEvent is pushed to realtime subscribers after a transition.
type StatusChangedEvent struct {
	Type        string          `json:"type"`
	DemandeID   string          `json:"demande_id"`
	RequesterID string          `json:"requester_id"`
	Department  string          `json:"department"`
	From        workflow.Status `json:"from"`
	To          workflow.Status `json:"to"`
	Label       string          `json:"label"`
	ActorRole   workflow.Role   `json:"actor_role"`
	OccurredAt  time.Time       `json:"occurred_at"`
}
