package domain

import (
	"fmt"
	"time"
)

// Agreement statuses. The progression is monotonic; on-hold is a siding
// that requires human review and never auto-transitions.
const (
	AgreementDraft         = "draft"
	AgreementSigned        = "signed"
	AgreementOnHold        = "on-hold"
	AgreementApproved      = "approved"
	AgreementCountersigned = "countersigned"
)

// SupplierFramework joins one supplier to one framework.
//
// OnFramework is tri-state: nil means undecided, true passed, false failed.
// It is only ever set once the framework has reached standstill.
type SupplierFramework struct {
	SupplierID              int          `json:"supplierId"`
	SupplierName            string       `json:"supplierName,omitempty"`
	FrameworkSlug           string       `json:"frameworkSlug"`
	CompanyDetailsConfirmed bool         `json:"applicationCompanyDetailsConfirmed"`
	Declaration             Declaration  `json:"declaration"`
	OnFramework             *bool        `json:"onFramework"`
	AgreementID             *int         `json:"agreementId,omitempty"`
	AgreementReturned       bool         `json:"agreementReturned"`
	AgreementReturnedAt     *time.Time   `json:"agreementReturnedAt,omitempty"`
	AgreementStatus         string       `json:"agreementStatus,omitempty"`
	CountersignedPath       string       `json:"countersignedPath,omitempty"`
	CountersignedAt         *time.Time   `json:"countersignedAt,omitempty"`
	AgreementDetails        DeclaredLots `json:"agreementDetails,omitempty"`
}

// DeclaredLots carries signer details captured with an e-signature return.
type DeclaredLots struct {
	SignerName         string `json:"signerName,omitempty"`
	SignerRole         string `json:"signerRole,omitempty"`
	UploaderUserID     int    `json:"uploaderUserId,omitempty"`
	FrameworkAgreement string `json:"frameworkAgreementVersion,omitempty"`
}

func (sf SupplierFramework) Validate() error {
	id := fmt.Sprintf("%d/%s", sf.SupplierID, sf.FrameworkSlug)
	if sf.SupplierID == 0 || sf.FrameworkSlug == "" {
		return &MalformedEntityError{Kind: "supplierFramework", ID: id, Field: "key", Reason: "missing supplierId or frameworkSlug"}
	}
	if sf.AgreementReturned && (sf.OnFramework == nil || !*sf.OnFramework) {
		return &MalformedEntityError{Kind: "supplierFramework", ID: id, Field: "agreementReturned", Reason: "agreement returned but supplier not on framework"}
	}
	switch sf.AgreementStatus {
	case "", AgreementDraft, AgreementSigned, AgreementOnHold, AgreementApproved, AgreementCountersigned:
	default:
		return &MalformedEntityError{Kind: "supplierFramework", ID: id, Field: "agreementStatus", Reason: fmt.Sprintf("unknown status %q", sf.AgreementStatus)}
	}
	if sf.AgreementStatus == AgreementCountersigned && (sf.CountersignedPath == "" || sf.CountersignedAt == nil) {
		return &MalformedEntityError{Kind: "supplierFramework", ID: id, Field: "countersignedPath", Reason: "countersigned without path or timestamp"}
	}
	return nil
}

// Awarded reports whether the supplier has been decided onto the framework.
func (sf SupplierFramework) Awarded() bool {
	return sf.OnFramework != nil && *sf.OnFramework
}

// Undecided reports whether no adjudication result has been recorded yet.
func (sf SupplierFramework) Undecided() bool {
	return sf.OnFramework == nil
}

// SupplierFrameworkPatch is applied by the Data API, never in memory.
type SupplierFrameworkPatch struct {
	OnFramework             *bool   `json:"onFramework,omitempty"`
	CompanyDetailsConfirmed *bool   `json:"applicationCompanyDetailsConfirmed,omitempty"`
	CountersignedPath       *string `json:"countersignedPath,omitempty"`
}

// FrameworkAgreement is the legal document binding one supplier to a
// framework, exclusively owned by its SupplierFramework.
type FrameworkAgreement struct {
	ID                         int        `json:"id"`
	SupplierID                 int        `json:"supplierId"`
	FrameworkSlug              string     `json:"frameworkSlug"`
	Status                     string     `json:"status"`
	SignedAgreementPath        string     `json:"signedAgreementPath,omitempty"`
	SignedAgreementReturnedAt  *time.Time `json:"signedAgreementReturnedAt,omitempty"`
	CountersignedAgreementPath string     `json:"countersignedAgreementPath,omitempty"`
	CountersignedAt            *time.Time `json:"countersignedAgreementReturnedAt,omitempty"`
}

func (a FrameworkAgreement) Validate() error {
	if a.ID == 0 {
		return &MalformedEntityError{Kind: "agreement", Field: "id", Reason: "missing"}
	}
	switch a.Status {
	case AgreementDraft, AgreementSigned, AgreementOnHold, AgreementApproved, AgreementCountersigned:
	default:
		return &MalformedEntityError{Kind: "agreement", ID: itoa(a.ID), Field: "status", Reason: fmt.Sprintf("unknown status %q", a.Status)}
	}
	if a.Status == AgreementCountersigned && (a.CountersignedAgreementPath == "" || a.CountersignedAt == nil) {
		return &MalformedEntityError{Kind: "agreement", ID: itoa(a.ID), Field: "countersignedAgreementPath", Reason: "countersigned without path or timestamp"}
	}
	return nil
}

// EnsureAgreementTransition guards the monotonic agreement progression.
// on-hold accepts no automatic exits; a human moves it to approved.
func EnsureAgreementTransition(oldStatus, newStatus string) error {
	switch oldStatus {
	case AgreementDraft:
		if newStatus == AgreementSigned {
			return nil
		}
	case AgreementSigned:
		if newStatus == AgreementOnHold || newStatus == AgreementApproved {
			return nil
		}
	case AgreementOnHold:
		if newStatus == AgreementApproved {
			return nil
		}
	case AgreementApproved:
		if newStatus == AgreementCountersigned {
			return nil
		}
	}
	return fmt.Errorf("invalid agreement status transition %s -> %s", oldStatus, newStatus)
}
