package dto

import "github.com/noah-isme/demande-api/internal/workflow"

// LineItemRequest is one requested product line.
type LineItemRequest struct {
	ProductName string `json:"product_name" validate:"required,max=255"`
	Quantity    int    `json:"quantity" validate:"required,min=1"`
}

// CreateDemandeRequest payload for submitting a purchase request.
type CreateDemandeRequest struct {
	Description   string            `json:"description" validate:"required,max=4000"`
	Justification string            `json:"justification" validate:"required,max=4000"`
	Items         []LineItemRequest `json:"items" validate:"required,min=1,dive"`
}

// UpdateDemandeRequest payload for editing a pending request. Omitted fields
// are left untouched; a non-nil Items replaces every line.
type UpdateDemandeRequest struct {
	Description   *string           `json:"description" validate:"omitempty,min=1,max=4000"`
	Justification *string           `json:"justification" validate:"omitempty,min=1,max=4000"`
	Items         []LineItemRequest `json:"items" validate:"omitempty,min=1,dive"`
}

// TransitionRequest is the body of approve and reject calls. ExpectedStatus
// pins the state the caller last saw; when empty the current state is used.
type TransitionRequest struct {
	ExpectedStatus workflow.Status `json:"expected_status"`
	Reason         string          `json:"reason" validate:"max=2000"`
}

// DemandeScope selects which requests a listing returns.
type DemandeScope string

const (
	DemandeScopeMine       DemandeScope = "mine"
	DemandeScopeDepartment DemandeScope = "department"
	DemandeScopeAll        DemandeScope = "all"
)

// DemandeQuery mirrors supported listing filters.
type DemandeQuery struct {
	Scope    DemandeScope
	Status   []workflow.Status
	Search   string
	Page     int
	PageSize int
}

// AttachmentLinkResponse returns a signed download URL.
type AttachmentLinkResponse struct {
	URL       string `json:"url"`
	ExpiresAt string `json:"expires_at"`
}
