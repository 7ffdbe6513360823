package models

import (
	"encoding/json"
	"time"
)

// Audited actions. Transitions are recorded as approve or reject; the
// detailed from/to pair lives in demande_transitions.
const (
	AuditActionLogin          = "LOGIN"
	AuditActionLogout         = "LOGOUT"
	AuditActionUserCreate     = "USER_CREATE"
	AuditActionUserUpdate     = "USER_UPDATE"
	AuditActionUserDelete     = "USER_DELETE"
	AuditActionPasswordChange = "PASSWORD_CHANGE"

	AuditActionDemandeCreate    = "DEMANDE_CREATE"
	AuditActionDemandeUpdate    = "DEMANDE_UPDATE"
	AuditActionDemandeDelete    = "DEMANDE_DELETE"
	AuditActionDemandeApprove   = "DEMANDE_APPROVE"
	AuditActionDemandeReject    = "DEMANDE_REJECT"
	AuditActionAttachmentUpload = "ATTACHMENT_UPLOAD"
	AuditActionStockMovement    = "STOCK_MOVEMENT"
	AuditActionCatalogWrite     = "CATALOG_WRITE"
	AuditActionExport           = "EXPORT"
)

// AuditLog is one row of audit_logs. Old and new values are JSON documents.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	UserID     *string   `db:"user_id" json:"user_id,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resource_id,omitempty"`
	OldValues  []byte    `db:"old_values" json:"old_values,omitempty"`
	NewValues  []byte    `db:"new_values" json:"new_values,omitempty"`
	IPAddress  string    `db:"ip_address" json:"ip_address"`
	UserAgent  string    `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// NewAuditLog starts an entry for actorID acting on resource/resourceID.
// Empty ids are stored as NULL.
func NewAuditLog(actorID, action, resource, resourceID string) *AuditLog {
	return &AuditLog{
		UserID:     optionalID(actorID),
		Action:     action,
		Resource:   resource,
		ResourceID: optionalID(resourceID),
	}
}

// Change sets the before and after documents. Nil values, including typed
// nil maps and pointers, are left empty.
func (l *AuditLog) Change(before, after interface{}) *AuditLog {
	l.OldValues = auditJSON(before)
	l.NewValues = auditJSON(after)
	return l
}

// Origin records where the action came from: a client address and user
// agent for HTTP callers, or "system" and the component name otherwise.
func (l *AuditLog) Origin(ip, userAgent string) *AuditLog {
	l.IPAddress = ip
	l.UserAgent = userAgent
	return l
}

func optionalID(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}

func auditJSON(value interface{}) []byte {
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		return v
	case string:
		if v == "" {
			return nil
		}
		return []byte(v)
	}
	raw, err := json.Marshal(value)
	if err != nil || string(raw) == "null" {
		return nil
	}
	return raw
}
