package domain

import "strconv"

// Supplier is an organisation offering services.
type Supplier struct {
	ID                   int                  `json:"id"`
	Name                 string               `json:"name"`
	RegisteredName       string               `json:"registeredName,omitempty"`
	DUNSNumber           string               `json:"dunsNumber,omitempty"`
	CompaniesHouseNumber string               `json:"companiesHouseNumber,omitempty"`
	OrganisationSize     string               `json:"organisationSize,omitempty"`
	RegisteredCountry    string               `json:"registrationCountry,omitempty"`
	ContactInformation   []ContactInformation `json:"contactInformation,omitempty"`
}

// ContactInformation is a supplier-owned contact record.
type ContactInformation struct {
	ID                  int    `json:"id"`
	ContactName         string `json:"contactName,omitempty"`
	Email               string `json:"email,omitempty"`
	PhoneNumber         string `json:"phoneNumber,omitempty"`
	Address1            string `json:"address1,omitempty"`
	City                string `json:"city,omitempty"`
	Postcode            string `json:"postcode,omitempty"`
	Country             string `json:"country,omitempty"`
	PersonalDataRemoved bool   `json:"personalDataRemoved,omitempty"`
}

func (s Supplier) Validate() error {
	if s.ID == 0 {
		return &MalformedEntityError{Kind: "supplier", Field: "id", Reason: "missing"}
	}
	if s.Name == "" && s.RegisteredName == "" {
		return &MalformedEntityError{Kind: "supplier", ID: itoa(s.ID), Field: "name", Reason: "empty"}
	}
	return nil
}

// SupplierPatch carries mutable supplier fields. The server enforces DUNS
// uniqueness; swaps must stage through a free placeholder value.
type SupplierPatch struct {
	Name             *string `json:"name,omitempty"`
	DUNSNumber       *string `json:"dunsNumber,omitempty"`
	OrganisationSize *string `json:"organisationSize,omitempty"`
}

// User is a person with an email address, optionally tied to a supplier.
type User struct {
	ID                  int    `json:"id"`
	Name                string `json:"name"`
	EmailAddress        string `json:"emailAddress"`
	Role                string `json:"role"`
	Active              bool   `json:"active"`
	SupplierID          int    `json:"supplierId,omitempty"`
	LoggedInAt          string `json:"loggedInAt,omitempty"`
	PersonalDataRemoved bool   `json:"personalDataRemoved"`
}

func (u User) Validate() error {
	if u.ID == 0 {
		return &MalformedEntityError{Kind: "user", Field: "id", Reason: "missing"}
	}
	// A scrubbed user keeps its id but loses identifying fields; it must
	// not be used for further processing, so a blank address is legal.
	if !u.PersonalDataRemoved && u.EmailAddress == "" {
		return &MalformedEntityError{Kind: "user", ID: itoa(u.ID), Field: "emailAddress", Reason: "empty"}
	}
	return nil
}

func itoa(n int) string { return strconv.Itoa(n) }
