package ldapsync

import (
	"context"
)

// DirectoryClient reads users and groups from one configured directory.
// Implementations connect lazily on first use.
type DirectoryClient interface {
	// Domain returns the directory domain, e.g. "example.com"
	Domain() string
	// Probe binds and runs minimal searches to validate the settings
	Probe(ctx context.Context) (ProbeResult, error)
	DiscoverUsers(ctx context.Context) ([]DirectoryUser, error)
	DiscoverGroups(ctx context.Context) ([]DirectoryGroup, error)
	GroupMembers(ctx context.Context, group DirectoryGroup) ([]DirectoryUser, error)
	// FindGroupsByName returns groups whose name attribute matches one of names,
	// ignoring case and surrounding whitespace
	FindGroupsByName(ctx context.Context, names []string) ([]DirectoryGroup, error)
	Close() error
}

// DirectoryFactory opens directory clients for validated settings
type DirectoryFactory interface {
	PasswordEncoder
	Open(settings DirectorySettings) (DirectoryClient, error)
}

// IdentityStore is the tenant-scoped user and group store. Every call expects
// a context returned by Principal.AuthenticateSystem.
type IdentityStore interface {
	GetTenant(ctx context.Context) (Tenant, error)

	ListLinkedUsers(ctx context.Context) ([]LocalUser, error)
	GetUserBySID(ctx context.Context, sid string) (LocalUser, bool, error)
	// FindUnlinkedUser finds a user without SID by user name or e-mail
	FindUnlinkedUser(ctx context.Context, userName, email string) (LocalUser, bool, error)
	CreateUser(ctx context.Context, user LocalUser) (LocalUser, error)
	UpdateUser(ctx context.Context, user LocalUser) error

	ListLinkedGroups(ctx context.Context) ([]LocalGroup, error)
	GetGroupBySID(ctx context.Context, sid string) (LocalGroup, bool, error)
	CreateGroup(ctx context.Context, group LocalGroup) (LocalGroup, error)
	UpdateGroup(ctx context.Context, group LocalGroup) error
	DeleteGroup(ctx context.Context, groupID string) error
	GroupMembers(ctx context.Context, groupID string) ([]LocalUser, error)
	AddGroupMember(ctx context.Context, groupID, userID string) error
	RemoveGroupMember(ctx context.Context, groupID, userID string) error

	IsAdministrator(ctx context.Context, userID string) (bool, error)
	UserRights(ctx context.Context, userID string) ([]AccessRight, error)
	GrantRight(ctx context.Context, userID string, right AccessRight) error
	RevokeRight(ctx context.Context, userID string, right AccessRight) error
}

// SettingsStore loads and saves typed JSON blobs per tenant
type SettingsStore interface {
	// LoadSettings decodes the blob stored under key into v. It reports false
	// and leaves v untouched when nothing is stored.
	LoadSettings(ctx context.Context, key string, v interface{}) (bool, error)
	SaveSettings(ctx context.Context, key string, v interface{}) error
}

// PhotoStore stores user avatars
type PhotoStore interface {
	SyncPhoto(ctx context.Context, userID string, data []byte) error
	RemovePhoto(ctx context.Context, userID string) error
	ResetThumbnails(ctx context.Context, userID string) error
}

// Principal opens and closes the system session a run executes under
type Principal interface {
	AuthenticateSystem(ctx context.Context, tenantID int) (context.Context, error)
	Logout(ctx context.Context) error
}

// Publisher delivers progress snapshots to whoever tracks the run
type Publisher interface {
	Publish(ctx context.Context, info TaskInfo) error
}
