package directory

import (
	"strconv"
	"strings"

	"github.com/bwmarrin/go-objectsid"
	"github.com/go-ldap/ldap/v3"
	"github.com/google/uuid"

	"github.com/evgeniy-antonyuk/DocSpace-server-sub000/internal/ldapsync"
)

const (
	attrObjectSid          = "objectSid"
	attrObjectGUID         = "objectGUID"
	attrUserAccountControl = "userAccountControl"

	// ACCOUNTDISABLE bit of userAccountControl
	uacAccountDisable = 0x2
)

// attributeValues returns the raw values of name, matched case-insensitively
func attributeValues(entry *ldap.Entry, name string) [][]byte {
	if name == "" {
		return nil
	}
	for _, attr := range entry.Attributes {
		if strings.EqualFold(attr.Name, name) {
			return attr.ByteValues
		}
	}
	return nil
}

// attributeValue returns the first string value of name
func attributeValue(entry *ldap.Entry, name string) string {
	values := attributeValues(entry, name)
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(string(values[0]))
}

func hasAttribute(entry *ldap.Entry, name string) bool {
	return len(attributeValues(entry, name)) > 0
}

// entrySID reads the stable identifier of an entry. Active Directory's binary
// objectSid and objectGUID are rendered in their textual forms; any other
// attribute is used as is.
func entrySID(entry *ldap.Entry, attr string) string {
	values := attributeValues(entry, attr)
	if len(values) == 0 || len(values[0]) == 0 {
		return ""
	}
	raw := values[0]

	switch {
	case strings.EqualFold(attr, attrObjectSid):
		if strings.HasPrefix(string(raw), "S-") {
			return string(raw)
		}
		return objectsid.Decode(raw).String()
	case strings.EqualFold(attr, attrObjectGUID) && len(raw) == 16:
		return guidString(raw)
	default:
		return strings.TrimSpace(string(raw))
	}
}

// guidString converts Active Directory's mixed-endian GUID bytes to the
// canonical hyphenated form
func guidString(raw []byte) string {
	b := make([]byte, 16)
	copy(b, raw)
	b[0], b[1], b[2], b[3] = raw[3], raw[2], raw[1], raw[0]
	b[4], b[5] = raw[5], raw[4]
	b[6], b[7] = raw[7], raw[6]
	id, err := uuid.FromBytes(b)
	if err != nil {
		return ""
	}
	return id.String()
}

// accountDisabled reads the ACCOUNTDISABLE flag; directories without
// userAccountControl report every account as enabled
func accountDisabled(entry *ldap.Entry) bool {
	v := attributeValue(entry, attrUserAccountControl)
	if v == "" {
		return false
	}
	flags, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return false
	}
	return flags&uacAccountDisable != 0
}

// userAttributes lists the attributes requested for user searches
func userAttributes(s ldapsync.DirectorySettings) []string {
	attrs := []string{attrUserAccountControl}
	seen := map[string]struct{}{strings.ToLower(attrUserAccountControl): {}}
	for _, a := range []string{
		s.SidAttribute,
		s.LoginAttribute,
		s.FirstNameAttribute,
		s.SecondNameAttribute,
		s.MailAttribute,
		s.TitleAttribute,
		s.MobilePhoneAttribute,
		s.AvatarAttribute,
		s.UserAttribute,
	} {
		key := strings.ToLower(a)
		if a == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		attrs = append(attrs, a)
	}
	return attrs
}

func groupAttributes(s ldapsync.DirectorySettings) []string {
	attrs := []string{s.GroupNameAttribute, s.GroupAttribute}
	if s.SidAttribute != "" {
		attrs = append(attrs, s.SidAttribute)
	}
	return attrs
}

// mapUser converts a user entry using the configured attribute names
func mapUser(entry *ldap.Entry, s ldapsync.DirectorySettings) ldapsync.DirectoryUser {
	u := ldapsync.DirectoryUser{
		SID:         entrySID(entry, s.SidAttribute),
		DN:          entry.DN,
		Login:       attributeValue(entry, s.LoginAttribute),
		FirstName:   attributeValue(entry, s.FirstNameAttribute),
		LastName:    attributeValue(entry, s.SecondNameAttribute),
		Email:       attributeValue(entry, s.MailAttribute),
		Title:       attributeValue(entry, s.TitleAttribute),
		MobilePhone: attributeValue(entry, s.MobilePhoneAttribute),
		Disabled:    accountDisabled(entry),
		Attributes:  make(map[string][][]byte, len(entry.Attributes)),
	}
	for _, attr := range entry.Attributes {
		u.Attributes[attr.Name] = attr.ByteValues
	}
	return u
}

// mapGroup converts a group entry; groups without a SID attribute value fall
// back to their DN
func mapGroup(entry *ldap.Entry, s ldapsync.DirectorySettings) ldapsync.DirectoryGroup {
	sid := entrySID(entry, s.SidAttribute)
	if sid == "" {
		sid = entry.DN
	}
	return ldapsync.DirectoryGroup{
		SID:  sid,
		DN:   entry.DN,
		Name: attributeValue(entry, s.GroupNameAttribute),
	}
}

// domainFromDN joins the dc components of dn, e.g. "dc=example,dc=com"
// becomes "example.com"
func domainFromDN(dn string) string {
	parsed, err := ldap.ParseDN(dn)
	if err != nil {
		return ""
	}
	var parts []string
	for _, rdn := range parsed.RDNs {
		for _, atv := range rdn.Attributes {
			if strings.EqualFold(atv.Type, "dc") && atv.Value != "" {
				parts = append(parts, strings.ToLower(atv.Value))
			}
		}
	}
	return strings.Join(parts, ".")
}
