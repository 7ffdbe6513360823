package models

import (
	"time"

	"github.com/noah-isme/demande-api/internal/workflow"
)

// Demande is a purchase request moving through the approval workflow.
type Demande struct {
	ID                    string          `db:"id" json:"id"`
	Description           string          `db:"description" json:"description"`
	Justification         string          `db:"justification" json:"justification"`
	AttachmentKey         *string         `db:"attachment_key" json:"-"`
	AttachmentName        *string         `db:"attachment_name" json:"attachment_name,omitempty"`
	AttachmentContentType *string         `db:"attachment_content_type" json:"attachment_content_type,omitempty"`
	RequesterID           string          `db:"requester_id" json:"requester_id"`
	RequesterName         string          `db:"requester_name" json:"requester_name"`
	Department            string          `db:"department" json:"department"`
	Status                workflow.Status `db:"status" json:"status"`
	ValidatedBy           *workflow.Role  `db:"validated_by" json:"validated_by,omitempty"`
	RejectedBy            *workflow.Role  `db:"rejected_by" json:"rejected_by,omitempty"`
	RejectionReason       *string         `db:"rejection_reason" json:"rejection_reason,omitempty"`
	CreatedAt             time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time       `db:"updated_at" json:"updated_at"`
	Items                 []LineItem      `db:"-" json:"items"`
}

// HasAttachment reports whether a file was uploaded for the request.
func (d Demande) HasAttachment() bool {
	return d.AttachmentKey != nil && *d.AttachmentKey != ""
}

// LineItem is a requested product line. The product name is free text.
type LineItem struct {
	ID          string `db:"id" json:"id"`
	DemandeID   string `db:"demande_id" json:"-"`
	Position    int    `db:"position" json:"position"`
	ProductName string `db:"product_name" json:"product_name"`
	Quantity    int    `db:"quantity" json:"quantity"`
}

// DemandeTransition records one approve or reject decision.
type DemandeTransition struct {
	ID         string          `db:"id" json:"id"`
	DemandeID  string          `db:"demande_id" json:"demande_id"`
	Action     workflow.Action `db:"action" json:"action"`
	FromStatus workflow.Status `db:"from_status" json:"from_status"`
	ToStatus   workflow.Status `db:"to_status" json:"to_status"`
	ActorID    string          `db:"actor_id" json:"actor_id"`
	ActorRole  workflow.Role   `db:"actor_role" json:"actor_role"`
	Reason     *string         `db:"reason" json:"reason,omitempty"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}

// DemandeFilter constrains listing queries. Empty fields do not filter.
type DemandeFilter struct {
	RequesterID string
	Department  string
	Statuses    []workflow.Status
	Search      string
	Page        int
	PageSize    int
}

// StatusChange is the conditional update applied by a transition: it only
// takes effect while the request is still in From. ValidatedBy is set on
// approvals only; a nil value keeps the last approver.
type StatusChange struct {
	DemandeID       string
	From            workflow.Status
	To              workflow.Status
	Action          workflow.Action
	ActorID         string
	ActorRole       workflow.Role
	ValidatedBy     *workflow.Role
	RejectedBy      *workflow.Role
	RejectionReason *string
	At              time.Time
}

// DemandeChanges carries the editable fields of a pending request.
type DemandeChanges struct {
	Description   *string
	Justification *string
	Items         []LineItem
}

// AttachmentRef points at a stored attachment object.
type AttachmentRef struct {
	Key         string
	Name        string
	ContentType string
}

// StatusCount is one row of a per-status aggregate.
type StatusCount struct {
	Status workflow.Status `db:"status"`
	Count  int             `db:"count"`
}
