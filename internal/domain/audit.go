package domain

import "time"

// Audit event types recorded by these scripts.
const (
	AuditUpdateService          = "update_service"
	AuditUpdateServiceStatus    = "update_service_status"
	AuditSetFrameworkResult     = "set_framework_result"
	AuditSnapshotFrameworkStats = "snapshot_framework_stats"
	AuditSendClarificationQ     = "send_clarification_question"
)

// SuspensionActor is the audit user string attributed to automatic service
// suspension. The unsuspension pass trusts this string to find its own
// work; operator-issued suspensions carry a different actor and are never
// auto-reversed.
const SuspensionActor = "Suspend services script"

// AuditEvent is an immutable record of who caused what change when. The
// audit trail is the authoritative record of provenance.
type AuditEvent struct {
	ID           int            `json:"id"`
	Type         string         `json:"type"`
	User         string         `json:"user"`
	CreatedAt    time.Time      `json:"createdAt"`
	ObjectType   string         `json:"objectType,omitempty"`
	ObjectID     string         `json:"objectId,omitempty"`
	Data         map[string]any `json:"data"`
	Acknowledged bool           `json:"acknowledged"`
}

func (e AuditEvent) Validate() error {
	if e.ID == 0 {
		return &MalformedEntityError{Kind: "auditEvent", Field: "id", Reason: "missing"}
	}
	if e.Type == "" {
		return &MalformedEntityError{Kind: "auditEvent", ID: itoa(e.ID), Field: "type", Reason: "empty"}
	}
	return nil
}
