package ldapsync

import (
	"fmt"
	"strings"

	"github.com/creasty/defaults"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// Keys of the settings blobs owned by the sync engine
const (
	SettingsKey      = "ldap.settings"
	CurrentPhotosKey = "ldap.current_photos"
	CurrentRightsKey = "ldap.current_access_rights"
	CurrentDomainKey = "ldap.current_domain"
	CronSettingsKey  = "ldap.cron"
	ldapServerPrefix = "LDAP://"
)

// DirectorySettings configures how a tenant's directory is read and mapped
type DirectorySettings struct {
	EnableLdapAuthentication bool `json:"enable_ldap_authentication"`
	StartTLS                 bool `json:"start_tls"`
	SSL                      bool `json:"ssl"`
	SendWelcomeEmail         bool `json:"send_welcome_email"`

	Server     string `json:"server"`
	UserDN     string `json:"user_dn"`
	PortNumber int    `json:"port_number" default:"389"`
	UserFilter string `json:"user_filter" default:"(uid=*)"`

	LoginAttribute       string `json:"login_attribute" default:"uid"`
	FirstNameAttribute   string `json:"first_name_attribute" default:"givenName"`
	SecondNameAttribute  string `json:"second_name_attribute" default:"sn"`
	MailAttribute        string `json:"mail_attribute" default:"mail"`
	TitleAttribute       string `json:"title_attribute" default:"title"`
	MobilePhoneAttribute string `json:"mobile_phone_attribute" default:"mobile"`
	// AvatarAttribute names a binary photo attribute; empty disables avatar sync
	AvatarAttribute string `json:"avatar_attribute,omitempty"`
	SidAttribute    string `json:"sid_attribute" default:"entryUUID"`

	GroupMembership    bool   `json:"group_membership"`
	GroupDN            string `json:"group_dn"`
	GroupNameAttribute string `json:"group_name_attribute" default:"cn"`
	GroupFilter        string `json:"group_filter" default:"(objectClass=posixGroup)"`
	GroupAttribute     string `json:"group_attribute" default:"memberUid"`
	UserAttribute      string `json:"user_attribute" default:"uid"`

	Authentication bool   `json:"authentication" default:"true"`
	Login          string `json:"login"`
	Password       string `json:"password,omitempty"`
	PasswordBytes  []byte `json:"password_bytes,omitempty"`

	AcceptCertificate     bool   `json:"accept_certificate"`
	AcceptCertificateHash string `json:"accept_certificate_hash,omitempty"`

	// AccessRights maps a right to a comma separated list of directory group names
	AccessRights map[AccessRight]string `json:"access_rights,omitempty"`

	IsDefault bool `json:"is_default"`
}

// DefaultSettings returns the settings a tenant starts with
func DefaultSettings() DirectorySettings {
	var s DirectorySettings
	if err := defaults.Set(&s); err != nil {
		// Only malformed tags can fail here
		panic(fmt.Sprintf("ldapsync: invalid settings defaults: %v", err))
	}
	return s
}

// IsDefaultValue reports whether s is structurally equal to DefaultSettings,
// ignoring secrets and certificate bookkeeping.
func (s DirectorySettings) IsDefaultValue() bool {
	return cmp.Equal(s, DefaultSettings(),
		cmpopts.IgnoreFields(DirectorySettings{},
			"Password", "PasswordBytes", "IsDefault", "AcceptCertificate", "AcceptCertificateHash"),
		cmpopts.EquateEmpty(),
	)
}

// PasswordEncoder turns a plaintext bind password into its stored form
type PasswordEncoder interface {
	EncodePassword(plain string) ([]byte, error)
}

// SettingsError reports why settings were rejected
type SettingsError struct {
	Field  string
	Reason string
}

func (e *SettingsError) Error() string {
	return fmt.Sprintf("invalid ldap settings: %s: %s", e.Field, e.Reason)
}

func required(field string) error {
	return &SettingsError{Field: field, Reason: "is null or empty"}
}

// Validate checks and normalizes settings. It returns a normalized copy with
// the plaintext password cleared, or the zero value and a *SettingsError.
// The input is never modified.
func Validate(in DirectorySettings, enc PasswordEncoder) (DirectorySettings, error) {
	s := in
	s.PasswordBytes = append([]byte(nil), in.PasswordBytes...)
	s.AccessRights = copyRights(in.AccessRights)
	s.Password = ""

	if !s.EnableLdapAuthentication {
		return s, nil
	}

	var ok bool
	if s.Server, ok = trimRequired(s.Server); !ok {
		return DirectorySettings{}, required("server")
	}
	if !strings.HasPrefix(strings.ToUpper(s.Server), ldapServerPrefix) && !strings.Contains(s.Server, "://") {
		s.Server = ldapServerPrefix + s.Server
	}
	if s.UserDN, ok = trimRequired(s.UserDN); !ok {
		return DirectorySettings{}, required("user_dn")
	}
	if s.LoginAttribute, ok = trimRequired(s.LoginAttribute); !ok {
		return DirectorySettings{}, required("login_attribute")
	}

	s.UserFilter = strings.TrimSpace(s.UserFilter)
	s.FirstNameAttribute = strings.TrimSpace(s.FirstNameAttribute)
	s.SecondNameAttribute = strings.TrimSpace(s.SecondNameAttribute)
	s.MailAttribute = strings.TrimSpace(s.MailAttribute)
	s.TitleAttribute = strings.TrimSpace(s.TitleAttribute)
	s.MobilePhoneAttribute = strings.TrimSpace(s.MobilePhoneAttribute)
	s.AvatarAttribute = strings.TrimSpace(s.AvatarAttribute)
	s.SidAttribute = strings.TrimSpace(s.SidAttribute)

	if s.GroupMembership {
		if s.GroupDN, ok = trimRequired(s.GroupDN); !ok {
			return DirectorySettings{}, required("group_dn")
		}
		s.GroupFilter = strings.TrimSpace(s.GroupFilter)
		if s.GroupAttribute, ok = trimRequired(s.GroupAttribute); !ok {
			return DirectorySettings{}, required("group_attribute")
		}
		if s.UserAttribute, ok = trimRequired(s.UserAttribute); !ok {
			return DirectorySettings{}, required("user_attribute")
		}
	}

	if !s.Authentication {
		return s, nil
	}

	if s.Login, ok = trimRequired(s.Login); !ok {
		return DirectorySettings{}, required("login")
	}

	if len(s.PasswordBytes) == 0 {
		if in.Password == "" {
			return DirectorySettings{}, required("password")
		}
		encoded, err := enc.EncodePassword(in.Password)
		if err != nil || len(encoded) == 0 {
			return DirectorySettings{}, &SettingsError{Field: "password_bytes", Reason: "cannot encode password"}
		}
		s.PasswordBytes = encoded
	}

	return s, nil
}

func trimRequired(v string) (string, bool) {
	v = strings.TrimSpace(v)
	return v, v != ""
}

func copyRights(in map[AccessRight]string) map[AccessRight]string {
	if in == nil {
		return nil
	}
	out := make(map[AccessRight]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// CurrentPhotos tracks the hash of every avatar imported from the directory, by local user ID
type CurrentPhotos struct {
	Photos map[string]string `json:"current_photos"`
}

// AccessRightsSnapshot records which local users hold which right through the directory
type AccessRightsSnapshot struct {
	Rights map[AccessRight][]string `json:"current_access_rights"`
}

// CurrentDomain remembers the directory domain the tenant was last synced from
type CurrentDomain struct {
	Domain string `json:"current_domain"`
}

// CronSettings holds the auto-sync schedule of a tenant; empty disables it
type CronSettings struct {
	Cron string `json:"cron"`
}
