// Package ldapsync reconciles an external LDAP directory into the tenant
// identity store: users, groups, avatars and access rights.
package ldapsync

import (
	"fmt"
	"strings"
)

// OperationKind selects what a run does with the computed diff
type OperationKind int

const (
	// Save persists the settings and applies the diff
	Save OperationKind = iota
	// SaveTest validates and probes the settings and records the diff only
	SaveTest
	// Sync applies the diff using previously persisted settings
	Sync
	// SyncTest records the diff using previously persisted settings
	SyncTest
)

var operationNames = map[OperationKind]string{
	Save:     "Save",
	SaveTest: "SaveTest",
	Sync:     "Sync",
	SyncTest: "SyncTest",
}

func (k OperationKind) String() string {
	if name, ok := operationNames[k]; ok {
		return name
	}
	return fmt.Sprintf("OperationKind(%d)", int(k))
}

// IsTest reports whether the run must leave every store untouched
func (k OperationKind) IsTest() bool {
	return k == SaveTest || k == SyncTest
}

// IsSave reports whether the run validates against the live directory first
func (k OperationKind) IsSave() bool {
	return k == Save || k == SaveTest
}

// Valid reports whether k is one of the four known kinds
func (k OperationKind) Valid() bool {
	_, ok := operationNames[k]
	return ok
}

// MarshalText encodes the kind by name
func (k OperationKind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("unknown operation kind %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind name, case-insensitively
func (k *OperationKind) UnmarshalText(text []byte) error {
	parsed, err := ParseOperationKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseOperationKind parses "save", "SaveTest", "sync" or "synctest"
func ParseOperationKind(s string) (OperationKind, error) {
	for kind, name := range operationNames {
		if strings.EqualFold(name, strings.TrimSpace(s)) {
			return kind, nil
		}
	}
	return 0, fmt.Errorf("unknown operation kind %q", s)
}

// AccessRight is an elevated product role that can be granted through a directory group
type AccessRight string

const (
	RightFullAccess AccessRight = "FullAccess"
	RightDocuments  AccessRight = "Documents"
	RightProjects   AccessRight = "Projects"
	RightCRM        AccessRight = "CRM"
	RightCommunity  AccessRight = "Community"
	RightPeople     AccessRight = "People"
	RightMail       AccessRight = "Mail"
)

// AllRights lists every access right in a stable order
var AllRights = []AccessRight{
	RightFullAccess,
	RightDocuments,
	RightProjects,
	RightCRM,
	RightCommunity,
	RightPeople,
	RightMail,
}

// UserStatus is the lifecycle state of a local user
type UserStatus string

const (
	UserActive     UserStatus = "active"
	UserTerminated UserStatus = "terminated"
)

// DirectoryUser is the directory's view of a user, fetched fresh on every run
type DirectoryUser struct {
	SID         string
	DN          string
	Login       string
	FirstName   string
	LastName    string
	Email       string
	Title       string
	MobilePhone string
	Disabled    bool
	// Raw attribute values as returned by the directory, keyed by attribute name
	Attributes map[string][][]byte
}

// DisplayName returns "First Last", falling back to the login
func (u DirectoryUser) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Login
	}
	return name
}

// Attribute returns the first raw value of an attribute, matched case-insensitively
func (u DirectoryUser) Attribute(name string) ([]byte, bool) {
	for key, values := range u.Attributes {
		if strings.EqualFold(key, name) && len(values) > 0 {
			return values[0], true
		}
	}
	return nil, false
}

// DirectoryGroup is the directory's view of a group
type DirectoryGroup struct {
	SID  string
	DN   string
	Name string
}

// LocalUser is a user record in the identity store
type LocalUser struct {
	ID          string     `json:"id"`
	SID         string     `json:"sid,omitempty" validate:"max=256"`
	UserName    string     `json:"user_name" validate:"required,max=255"`
	FirstName   string     `json:"first_name,omitempty" validate:"max=64"`
	LastName    string     `json:"last_name,omitempty" validate:"max=64"`
	Email       string     `json:"email,omitempty" validate:"omitempty,email,max=255"`
	Title       string     `json:"title,omitempty" validate:"max=128"`
	MobilePhone string     `json:"mobile_phone,omitempty" validate:"max=32"`
	Status      UserStatus `json:"status"`
	IsGuest     bool       `json:"is_guest,omitempty"`
	// DirectoryContacts marks contact fields as owned by the directory
	DirectoryContacts bool `json:"directory_contacts,omitempty"`
}

// DisplayName returns "First Last", falling back to the user name
func (u LocalUser) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.UserName
	}
	return name
}

// Linked reports whether the user is bound to a directory entry
func (u LocalUser) Linked() bool {
	return u.SID != ""
}

// detach unbinds the user from the directory and makes its contacts ordinary
func (u LocalUser) detach() LocalUser {
	u.SID = ""
	u.DirectoryContacts = false
	return u
}

// LocalGroup is a group record in the identity store
type LocalGroup struct {
	ID   string `json:"id"`
	SID  string `json:"sid,omitempty"`
	Name string `json:"name"`
}

// Tenant is the portal that owns the identity store
type Tenant struct {
	ID      int
	Name    string
	OwnerID string
}

// IsOwner reports whether userID is the tenant owner
func (t Tenant) IsOwner(userID string) bool {
	return t.OwnerID != "" && t.OwnerID == userID
}

// ProbeStatus is the outcome of checking settings against the live directory
type ProbeStatus int

const (
	ProbeOK ProbeStatus = iota
	ProbeWrongServerOrPort
	ProbeWrongUserDN
	ProbeIncorrectLDAPFilter
	ProbeUsersNotFound
	ProbeWrongLoginAttribute
	ProbeWrongGroupDN
	ProbeIncorrectGroupLDAPFilter
	ProbeGroupsNotFound
	ProbeWrongGroupAttribute
	ProbeWrongUserAttribute
	ProbeWrongGroupNameAttribute
	ProbeCredentialsNotValid
	ProbeConnectError
	ProbeStrongAuthRequired
	ProbeWrongSidAttribute
	ProbeTLSNotSupported
	ProbeDomainNotFound
	ProbeCertificateRequest
)

var probeNames = [...]string{
	"Ok",
	"WrongServerOrPort",
	"WrongUserDn",
	"IncorrectLDAPFilter",
	"UsersNotFound",
	"WrongLoginAttribute",
	"WrongGroupDn",
	"IncorrectGroupLDAPFilter",
	"GroupsNotFound",
	"WrongGroupAttribute",
	"WrongUserAttribute",
	"WrongGroupNameAttribute",
	"CredentialsNotValid",
	"ConnectError",
	"StrongAuthRequired",
	"WrongSidAttribute",
	"TlsNotSupported",
	"DomainNotFound",
	"CertificateRequest",
}

func (s ProbeStatus) String() string {
	if s >= 0 && int(s) < len(probeNames) {
		return probeNames[s]
	}
	return fmt.Sprintf("ProbeStatus(%d)", int(s))
}

// ProbeResult carries the probe status and, for ProbeCertificateRequest,
// the certificate the administrator has to confirm.
type ProbeResult struct {
	Status      ProbeStatus
	Certificate *CertificateRequest
}

// CertificateRequest describes an untrusted server certificate awaiting confirmation
type CertificateRequest struct {
	SerialNumber string   `json:"serial_number"`
	IssuerName   string   `json:"issuer_name"`
	SubjectName  string   `json:"subject_name"`
	ValidFrom    string   `json:"valid_from"`
	ValidUntil   string   `json:"valid_until"`
	Hash         string   `json:"hash"`
	Errors       []string `json:"errors,omitempty"`
	Approved     bool     `json:"approved"`
	Requested    bool     `json:"requested"`
}

// CertificateRequestError is returned by a directory client when the server
// presents a certificate that has not been accepted yet.
type CertificateRequestError struct {
	Request *CertificateRequest
}

func (e *CertificateRequestError) Error() string {
	if e.Request == nil {
		return "ldap server certificate requires confirmation"
	}
	return fmt.Sprintf("ldap server certificate %s requires confirmation", e.Request.Hash)
}
