package directory

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"go.uber.org/zap"

	"github.com/evgeniy-antonyuk/DocSpace-server-sub000/internal/ldapsync"
)

// Probe connects, binds and checks every configured DN, filter and
// attribute against live data. Problems with the settings are reported in
// the result; only cancellation is returned as an error.
func (c *Client) Probe(ctx context.Context) (ldapsync.ProbeResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	status, err := c.probe(ctx)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ldapsync.ProbeResult{}, ctxErr
	}

	result := ldapsync.ProbeResult{Status: status}
	var certErr *ldapsync.CertificateRequestError
	if errors.As(err, &certErr) {
		result.Certificate = certErr.Request
	}
	if status != ldapsync.ProbeOK {
		c.logger.Info("Directory settings check failed",
			zap.String("status", status.String()),
			zap.Error(err))
	}
	return result, nil
}

func (c *Client) probe(ctx context.Context) (ldapsync.ProbeStatus, error) {
	cn, err := c.connect(ctx)
	if err != nil {
		return connectStatus(err), err
	}

	if err := baseExists(cn, c.settings.UserDN); err != nil {
		return searchBaseStatus(err, ldapsync.ProbeWrongUserDN), err
	}
	if _, err := ldap.CompileFilter(c.userFilter()); err != nil {
		return ldapsync.ProbeIncorrectLDAPFilter, err
	}
	users, err := c.loadUsers(ctx)
	if err != nil {
		return searchStatus(err, ldapsync.ProbeIncorrectLDAPFilter), err
	}
	if len(users) == 0 {
		return ldapsync.ProbeUsersNotFound, nil
	}
	if !anyHas(users, c.settings.LoginAttribute) {
		return ldapsync.ProbeWrongLoginAttribute, nil
	}
	if c.settings.SidAttribute != "" && !anyHas(users, c.settings.SidAttribute) {
		return ldapsync.ProbeWrongSidAttribute, nil
	}

	if c.settings.GroupMembership {
		if err := baseExists(cn, c.settings.GroupDN); err != nil {
			return searchBaseStatus(err, ldapsync.ProbeWrongGroupDN), err
		}
		if _, err := ldap.CompileFilter(c.groupFilter()); err != nil {
			return ldapsync.ProbeIncorrectGroupLDAPFilter, err
		}
		groups, err := c.loadGroups(ctx)
		if err != nil {
			return searchStatus(err, ldapsync.ProbeIncorrectGroupLDAPFilter), err
		}
		if len(groups) == 0 {
			return ldapsync.ProbeGroupsNotFound, nil
		}
		if !anyHas(groups, c.settings.GroupNameAttribute) {
			return ldapsync.ProbeWrongGroupNameAttribute, nil
		}
		if !anyHas(groups, c.settings.GroupAttribute) {
			return ldapsync.ProbeWrongGroupAttribute, nil
		}
		if !isDNAttribute(c.settings.UserAttribute) && !anyHas(users, c.settings.UserAttribute) {
			return ldapsync.ProbeWrongUserAttribute, nil
		}
	}

	if c.Domain() == "" {
		return ldapsync.ProbeDomainNotFound, nil
	}
	return ldapsync.ProbeOK, nil
}

func anyHas(entries []*ldap.Entry, attr string) bool {
	for _, e := range entries {
		if hasAttribute(e, attr) {
			return true
		}
	}
	return false
}

func isDNAttribute(attr string) bool {
	return strings.EqualFold(attr, "dn") || strings.EqualFold(attr, "distinguishedName")
}

// connectStatus classifies a dial or bind failure
func connectStatus(err error) ldapsync.ProbeStatus {
	var certErr *ldapsync.CertificateRequestError
	var opErr *net.OpError
	switch {
	case errors.As(err, &certErr):
		return ldapsync.ProbeCertificateRequest
	case errors.Is(err, errStartTLS):
		return ldapsync.ProbeTLSNotSupported
	case ldap.IsErrorWithCode(err, ldap.LDAPResultInvalidCredentials):
		return ldapsync.ProbeCredentialsNotValid
	case ldap.IsErrorWithCode(err, ldap.LDAPResultStrongAuthRequired),
		ldap.IsErrorWithCode(err, ldap.LDAPResultConfidentialityRequired):
		return ldapsync.ProbeStrongAuthRequired
	case isNetworkError(err), errors.As(err, &opErr):
		return ldapsync.ProbeWrongServerOrPort
	default:
		return ldapsync.ProbeConnectError
	}
}

// searchBaseStatus classifies a failed base DN lookup
func searchBaseStatus(err error, wrongDN ldapsync.ProbeStatus) ldapsync.ProbeStatus {
	if ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject) ||
		ldap.IsErrorWithCode(err, ldap.LDAPResultInvalidDNSyntax) {
		return wrongDN
	}
	return ldapsync.ProbeConnectError
}

// searchStatus classifies a failed subtree search
func searchStatus(err error, badFilter ldapsync.ProbeStatus) ldapsync.ProbeStatus {
	var le *ldap.Error
	if errors.As(err, &le) && le.ResultCode == ldap.ErrorFilterCompile {
		return badFilter
	}
	if ldap.IsErrorWithCode(err, ldap.LDAPResultProtocolError) {
		return badFilter
	}
	return ldapsync.ProbeConnectError
}
