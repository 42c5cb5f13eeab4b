package ldapsync

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// MessageKey identifies a user-facing status, error or warning text
type MessageKey string

// Progress statuses
const (
	StatusCheckingSettings        MessageKey = "LdapSettingsStatusCheckingLdapSettings"
	StatusLoadingBaseInfo         MessageKey = "LdapSettingsStatusLoadingBaseInfo"
	StatusSavingSettings          MessageKey = "LdapSettingsStatusSavingSettings"
	StatusModifyingUsers          MessageKey = "LdapSettingsModifyLdapUsers"
	StatusGettingUsers            MessageKey = "LdapSettingsStatusGettingUsersFromLdap"
	StatusGettingGroups           MessageKey = "LdapSettingsStatusGettingGroupsFromLdap"
	StatusRemovingOldUsers        MessageKey = "LdapSettingsStatusRemovingOldUsers"
	StatusSavingUsers             MessageKey = "LdapSettingsStatusSavingUsers"
	StatusSyncingUsers            MessageKey = "LdapSettingsStatusSyncingUsers"
	StatusSavingGroups            MessageKey = "LdapSettingsStatusSavingGroups"
	StatusRemovingOldGroups       MessageKey = "LdapSettingsStatusRemovingOldGroups"
	StatusAddingGroupUser         MessageKey = "LdapSettingsStatusAddingGroupUser"
	StatusRemovingGroupUser       MessageKey = "LdapSettingsStatusRemovingGroupUser"
	StatusUpdatingUserPhotos      MessageKey = "LdapSettingsStatusUpdatingUserPhotos"
	StatusSavingUserPhoto         MessageKey = "LdapSettingsStatusSavingUserPhoto"
	StatusUpdatingAccessRights    MessageKey = "LdapSettingsStatusUpdatingAccessRights"
	StatusRemovingOldRights       MessageKey = "LdapSettingsStatusRemovingOldRights"
	StatusGivingRights            MessageKey = "LdapSettingsStatusGivingRights"
	StatusDisconnecting           MessageKey = "LdapSettingsStatusDisconnecting"
	StatusCertificateVerification MessageKey = "LdapSettingsStatusCertificateVerification"
)

// Run errors
const (
	ErrorCantGetSettings   MessageKey = "LdapSettingsErrorCantGetLdapSettings"
	ErrorCantSaveSettings  MessageKey = "LdapSettingsErrorCantSaveLdapSettings"
	ErrorAccessDenied      MessageKey = "ErrorAccessDenied"
	ErrorTenantQuota       MessageKey = "LdapSettingsTenantQuotaSettled"
	ErrorCantCreateUsers   MessageKey = "LdapSettingsErrorCantCreateUsers"
	ErrorInternalServer    MessageKey = "LdapSettingsInternalServerError"
	ErrorUsersNotFound     MessageKey = "LdapSettingsErrorUsersNotFound"
	ErrorGroupsNotFound    MessageKey = "LdapSettingsErrorGroupsNotFound"
	ErrorUnknown           MessageKey = "LdapSettingsErrorUnknownError"
	ErrorWrongServerOrPort MessageKey = "LdapSettingsErrorWrongServerOrPort"
	ErrorWrongUserDN       MessageKey = "LdapSettingsErrorWrongUserDn"
	ErrorIncorrectFilter   MessageKey = "LdapSettingsErrorIncorrectLdapFilter"
	ErrorWrongLoginAttr    MessageKey = "LdapSettingsErrorWrongLoginAttribute"
	ErrorWrongGroupDN      MessageKey = "LdapSettingsErrorWrongGroupDn"
	ErrorWrongGroupFilter  MessageKey = "LdapSettingsErrorWrongGroupFilter"
	ErrorWrongGroupAttr    MessageKey = "LdapSettingsErrorWrongGroupAttribute"
	ErrorWrongUserAttr     MessageKey = "LdapSettingsErrorWrongUserAttribute"
	ErrorWrongGroupName    MessageKey = "LdapSettingsErrorWrongGroupNameAttribute"
	ErrorBadCredentials    MessageKey = "LdapSettingsErrorCredentialsNotValid"
	ErrorConnect           MessageKey = "LdapSettingsConnectError"
	ErrorStrongAuth        MessageKey = "LdapSettingsStrongAuthRequired"
	ErrorWrongSidAttr      MessageKey = "LdapSettingsWrongSidAttribute"
	ErrorTLSNotSupported   MessageKey = "LdapSettingsTlsNotSupported"
	ErrorDomainNotFound    MessageKey = "LdapSettingsErrorDomainNotFound"
)

// Run warnings
const (
	WarningRemovedYourself MessageKey = "LdapSettingsErrorRemovedYourself"
	WarningLostRights      MessageKey = "LdapSettingsErrorLostRights"
)

// probeErrors is total over ProbeStatus; unknown statuses map to ErrorUnknown
var probeErrors = map[ProbeStatus]MessageKey{
	ProbeWrongServerOrPort:        ErrorWrongServerOrPort,
	ProbeWrongUserDN:              ErrorWrongUserDN,
	ProbeIncorrectLDAPFilter:      ErrorIncorrectFilter,
	ProbeUsersNotFound:            ErrorUsersNotFound,
	ProbeWrongLoginAttribute:      ErrorWrongLoginAttr,
	ProbeWrongGroupDN:             ErrorWrongGroupDN,
	ProbeIncorrectGroupLDAPFilter: ErrorWrongGroupFilter,
	ProbeGroupsNotFound:           ErrorGroupsNotFound,
	ProbeWrongGroupAttribute:      ErrorWrongGroupAttr,
	ProbeWrongUserAttribute:       ErrorWrongUserAttr,
	ProbeWrongGroupNameAttribute:  ErrorWrongGroupName,
	ProbeCredentialsNotValid:      ErrorBadCredentials,
	ProbeConnectError:             ErrorConnect,
	ProbeStrongAuthRequired:       ErrorStrongAuth,
	ProbeWrongSidAttribute:        ErrorWrongSidAttr,
	ProbeTLSNotSupported:          ErrorTLSNotSupported,
	ProbeDomainNotFound:           ErrorDomainNotFound,
	ProbeCertificateRequest:       StatusCertificateVerification,
}

// ProbeError returns the message for a failed probe. ProbeOK has no message.
func ProbeError(status ProbeStatus) MessageKey {
	if status == ProbeOK {
		return ""
	}
	if key, ok := probeErrors[status]; ok {
		return key
	}
	return ErrorUnknown
}

// Localizer renders message keys for one run
type Localizer interface {
	Text(key MessageKey, args ...interface{}) string
}

var englishMessages = map[MessageKey]string{
	StatusCheckingSettings:        "Checking LDAP settings",
	StatusLoadingBaseInfo:         "Loading LDAP base info",
	StatusSavingSettings:          "Saving LDAP settings",
	StatusModifyingUsers:          "Converting LDAP users to portal users",
	StatusGettingUsers:            "Getting users from LDAP",
	StatusGettingGroups:           "Getting groups from LDAP",
	StatusRemovingOldUsers:        "Removing outdated users",
	StatusSavingUsers:             "Saving users",
	StatusSyncingUsers:            "Syncing users",
	StatusSavingGroups:            "Saving groups",
	StatusRemovingOldGroups:       "Removing outdated groups",
	StatusAddingGroupUser:         "adding user",
	StatusRemovingGroupUser:       "removing user",
	StatusUpdatingUserPhotos:      "Updating user photos",
	StatusSavingUserPhoto:         "Saving photo",
	StatusUpdatingAccessRights:    "Updating access rights",
	StatusRemovingOldRights:       "Removing outdated access rights",
	StatusGivingRights:            "Granting %[2]s rights to %[1]s",
	StatusDisconnecting:           "Disconnecting from LDAP",
	StatusCertificateVerification: "The LDAP server certificate must be confirmed",

	ErrorCantGetSettings:   "Cannot get LDAP settings",
	ErrorCantSaveSettings:  "Cannot save LDAP settings",
	ErrorAccessDenied:      "Access denied",
	ErrorTenantQuota:       "The user quota of the portal has been reached",
	ErrorCantCreateUsers:   "Cannot create users: some LDAP attributes have an invalid format",
	ErrorInternalServer:    "Internal server error",
	ErrorUsersNotFound:     "No users found in LDAP with the specified settings",
	ErrorGroupsNotFound:    "No groups found in LDAP with the specified settings",
	ErrorUnknown:           "Unknown error",
	ErrorWrongServerOrPort: "Unable to connect to the LDAP server: check the server address and port",
	ErrorWrongUserDN:       "Incorrect user DN",
	ErrorIncorrectFilter:   "Incorrect user filter",
	ErrorWrongLoginAttr:    "Users do not have the specified login attribute",
	ErrorWrongGroupDN:      "Incorrect group DN",
	ErrorWrongGroupFilter:  "Incorrect group filter",
	ErrorWrongGroupAttr:    "Groups do not have the specified member attribute",
	ErrorWrongUserAttr:     "Users do not have the specified membership attribute",
	ErrorWrongGroupName:    "Groups do not have the specified name attribute",
	ErrorBadCredentials:    "Incorrect login or password",
	ErrorConnect:           "Unable to connect to the LDAP server",
	ErrorStrongAuth:        "The LDAP server requires a secure connection",
	ErrorWrongSidAttr:      "Users do not have the specified SID attribute",
	ErrorTLSNotSupported:   "The LDAP server does not support StartTLS",
	ErrorDomainNotFound:    "LDAP domain not found",

	WarningRemovedYourself: "You were removed from LDAP, but your account was kept active",
	WarningLostRights:      "Your administrator rights are not granted by any LDAP group and were kept only for this session",
}

var russianMessages = map[MessageKey]string{
	StatusCheckingSettings:     "Проверка настроек LDAP",
	StatusLoadingBaseInfo:      "Загрузка базовой информации LDAP",
	StatusSavingSettings:       "Сохранение настроек LDAP",
	StatusGettingUsers:         "Получение пользователей из LDAP",
	StatusGettingGroups:        "Получение групп из LDAP",
	StatusSavingUsers:          "Сохранение пользователей",
	StatusSyncingUsers:         "Синхронизация пользователей",
	StatusSavingGroups:         "Сохранение групп",
	StatusUpdatingUserPhotos:   "Обновление фотографий пользователей",
	StatusUpdatingAccessRights: "Обновление прав доступа",
	StatusDisconnecting:        "Отключение от LDAP",
	ErrorCantGetSettings:       "Не удалось получить настройки LDAP",
	ErrorInternalServer:        "Внутренняя ошибка сервера",
	ErrorUsersNotFound:         "Пользователи LDAP не найдены",
	ErrorGroupsNotFound:        "Группы LDAP не найдены",
}

// Catalog holds the message bundles of every supported language
type Catalog struct {
	cat     *catalog.Builder
	tags    []language.Tag
	matcher language.Matcher
}

// NewCatalog builds the catalog with the bundled languages; English is the fallback
func NewCatalog() *Catalog {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for key, msg := range englishMessages {
		_ = b.SetString(language.English, string(key), msg)
	}
	for key, msg := range englishMessages {
		if ru, ok := russianMessages[key]; ok {
			msg = ru
		}
		_ = b.SetString(language.Russian, string(key), msg)
	}
	tags := []language.Tag{language.English, language.Russian}
	return &Catalog{cat: b, tags: tags, matcher: language.NewMatcher(tags)}
}

// Localizer returns a localizer for the best match of lang, e.g. "ru-RU"
func (c *Catalog) Localizer(lang string) Localizer {
	tag := language.English
	if _, idx, conf := c.matcher.Match(language.Make(lang)); conf != language.No {
		tag = c.tags[idx]
	}
	return printerLocalizer{p: message.NewPrinter(tag, message.Catalog(c.cat))}
}

type printerLocalizer struct {
	p *message.Printer
}

func (l printerLocalizer) Text(key MessageKey, args ...interface{}) string {
	return l.p.Sprintf(string(key), args...)
}
