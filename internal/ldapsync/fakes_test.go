package ldapsync

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	apperrors "github.com/evgeniy-antonyuk/DocSpace-server-sub000/internal/common/errors"
)

// memoryStore is an in-memory identity, settings and photo store that
// records every mutating call
type memoryStore struct {
	mu sync.Mutex

	tenant   Tenant
	users    map[string]LocalUser
	groups   map[string]LocalGroup
	members  map[string]map[string]bool // group ID -> user IDs
	admins   map[string]bool
	rights   map[string]map[AccessRight]bool
	settings map[string][]byte
	photos   map[string][]byte

	userQuota int
	photoErr  error
	nextID    int
	mutations []string
	saves     []string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		tenant:   Tenant{ID: 1, Name: "acme", OwnerID: "owner"},
		users:    make(map[string]LocalUser),
		groups:   make(map[string]LocalGroup),
		members:  make(map[string]map[string]bool),
		admins:   make(map[string]bool),
		rights:   make(map[string]map[AccessRight]bool),
		settings: make(map[string][]byte),
		photos:   make(map[string][]byte),
	}
}

func (s *memoryStore) record(format string, args ...interface{}) {
	s.mutations = append(s.mutations, fmt.Sprintf(format, args...))
}

func (s *memoryStore) id(prefix string) string {
	s.nextID++
	return fmt.Sprintf("%s-%d", prefix, s.nextID)
}

// Mutations returns the recorded identity mutations
func (s *memoryStore) Mutations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.mutations...)
}

func (s *memoryStore) resetLog() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mutations = nil
	s.saves = nil
}

func (s *memoryStore) addUser(u LocalUser) LocalUser {
	if u.ID == "" {
		u.ID = s.id("user")
	}
	if u.Status == "" {
		u.Status = UserActive
	}
	s.users[u.ID] = u
	return u
}

func (s *memoryStore) addGroup(g LocalGroup, memberIDs ...string) LocalGroup {
	if g.ID == "" {
		g.ID = s.id("group")
	}
	s.groups[g.ID] = g
	s.members[g.ID] = make(map[string]bool)
	for _, id := range memberIDs {
		s.members[g.ID][id] = true
	}
	return g
}

func (s *memoryStore) userBySIDLocked(sid string) (LocalUser, bool) {
	for _, u := range s.users {
		if u.SID != "" && u.SID == sid {
			return u, true
		}
	}
	return LocalUser{}, false
}

func (s *memoryStore) GetTenant(context.Context) (Tenant, error) {
	return s.tenant, nil
}

func (s *memoryStore) ListLinkedUsers(context.Context) ([]LocalUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []LocalUser
	for _, u := range s.users {
		if u.Linked() {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserName < out[j].UserName })
	return out, nil
}

func (s *memoryStore) GetUserBySID(_ context.Context, sid string) (LocalUser, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.userBySIDLocked(sid)
	return u, ok, nil
}

func (s *memoryStore) FindUnlinkedUser(_ context.Context, userName, email string) (LocalUser, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Linked() {
			continue
		}
		if strings.EqualFold(u.UserName, userName) || (email != "" && strings.EqualFold(u.Email, email)) {
			return u, true, nil
		}
	}
	return LocalUser{}, false, nil
}

func (s *memoryStore) CreateUser(_ context.Context, u LocalUser) (LocalUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.userQuota > 0 && len(s.users) >= s.userQuota {
		return LocalUser{}, apperrors.QuotaExceeded("users", s.userQuota)
	}
	u.ID = s.id("user")
	s.users[u.ID] = u
	s.record("CreateUser %s", u.UserName)
	return u, nil
}

func (s *memoryStore) UpdateUser(_ context.Context, u LocalUser) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; !ok {
		return apperrors.UserNotFound(u.ID)
	}
	s.users[u.ID] = u
	s.record("UpdateUser %s", u.UserName)
	return nil
}

func (s *memoryStore) ListLinkedGroups(context.Context) ([]LocalGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []LocalGroup
	for _, g := range s.groups {
		if g.SID != "" {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *memoryStore) GetGroupBySID(_ context.Context, sid string) (LocalGroup, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.groups {
		if g.SID == sid {
			return g, true, nil
		}
	}
	return LocalGroup{}, false, nil
}

func (s *memoryStore) CreateGroup(_ context.Context, g LocalGroup) (LocalGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g.ID = s.id("group")
	s.groups[g.ID] = g
	s.members[g.ID] = make(map[string]bool)
	s.record("CreateGroup %s", g.Name)
	return g, nil
}

func (s *memoryStore) UpdateGroup(_ context.Context, g LocalGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[g.ID] = g
	s.record("UpdateGroup %s", g.Name)
	return nil
}

func (s *memoryStore) DeleteGroup(_ context.Context, groupID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := s.groups[groupID].Name
	delete(s.groups, groupID)
	delete(s.members, groupID)
	s.record("DeleteGroup %s", name)
	return nil
}

func (s *memoryStore) GroupMembers(_ context.Context, groupID string) ([]LocalUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []LocalUser
	for id := range s.members[groupID] {
		out = append(out, s.users[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserName < out[j].UserName })
	return out, nil
}

func (s *memoryStore) AddGroupMember(_ context.Context, groupID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[groupID][userID] = true
	s.record("AddGroupMember %s %s", s.groups[groupID].Name, s.users[userID].UserName)
	return nil
}

func (s *memoryStore) RemoveGroupMember(_ context.Context, groupID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.members[groupID], userID)
	s.record("RemoveGroupMember %s %s", s.groups[groupID].Name, s.users[userID].UserName)
	return nil
}

func (s *memoryStore) IsAdministrator(_ context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.admins[userID], nil
}

func (s *memoryStore) UserRights(_ context.Context, userID string) ([]AccessRight, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []AccessRight
	for r := range s.rights[userID] {
		out = append(out, r)
	}
	sortRights(out)
	return out, nil
}

func (s *memoryStore) GrantRight(_ context.Context, userID string, right AccessRight) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rights[userID] == nil {
		s.rights[userID] = make(map[AccessRight]bool)
	}
	s.rights[userID][right] = true
	s.record("GrantRight %s %s", userID, right)
	return nil
}

func (s *memoryStore) RevokeRight(_ context.Context, userID string, right AccessRight) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rights[userID], right)
	s.record("RevokeRight %s %s", userID, right)
	return nil
}

func (s *memoryStore) hasRight(userID string, right AccessRight) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rights[userID][right]
}

func (s *memoryStore) LoadSettings(_ context.Context, key string, v interface{}) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.settings[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(data, v)
}

func (s *memoryStore) SaveSettings(_ context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[key] = data
	s.saves = append(s.saves, key)
	return nil
}

func (s *memoryStore) Saves() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.saves...)
}

func (s *memoryStore) putSettings(key string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	s.settings[key] = data
}

func (s *memoryStore) SyncPhoto(_ context.Context, userID string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.photoErr != nil {
		return s.photoErr
	}
	s.photos[userID] = data
	s.record("SyncPhoto %s", userID)
	return nil
}

func (s *memoryStore) RemovePhoto(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.photos, userID)
	s.record("RemovePhoto %s", userID)
	return nil
}

func (s *memoryStore) ResetThumbnails(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("ResetThumbnails %s", userID)
	return nil
}

func (s *memoryStore) userByName(name string) (LocalUser, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.UserName == name {
			return u, true
		}
	}
	return LocalUser{}, false
}

func (s *memoryStore) groupBySID(sid string) (LocalGroup, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.groups {
		if g.SID == sid {
			return g, true
		}
	}
	return LocalGroup{}, false
}

func (s *memoryStore) memberNames(groupID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for id := range s.members[groupID] {
		out = append(out, s.users[id].UserName)
	}
	sort.Strings(out)
	return out
}

// fakePrincipal records the system sessions it opens
type fakePrincipal struct {
	authErr   error
	logoutErr error
	logins    int
	logouts   int
}

func (p *fakePrincipal) AuthenticateSystem(ctx context.Context, _ int) (context.Context, error) {
	if p.authErr != nil {
		return nil, p.authErr
	}
	p.logins++
	return ctx, nil
}

func (p *fakePrincipal) Logout(context.Context) error {
	p.logouts++
	return p.logoutErr
}

// recordingPublisher keeps every published snapshot
type recordingPublisher struct {
	mu    sync.Mutex
	infos []TaskInfo
}

func (p *recordingPublisher) Publish(_ context.Context, info TaskInfo) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.infos = append(p.infos, info)
	return nil
}

func (p *recordingPublisher) Snapshots() []TaskInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]TaskInfo(nil), p.infos...)
}

func (p *recordingPublisher) Sources() []string {
	var out []string
	for _, info := range p.Snapshots() {
		if info.Source != "" {
			out = append(out, info.Source)
		}
	}
	return out
}

// fakeDirectory serves a fixed directory
type fakeDirectory struct {
	domain  string
	users   []DirectoryUser
	groups  []DirectoryGroup
	members map[string][]DirectoryUser // group SID -> members
	probe   ProbeResult
	err     error
	opened  int
	closed  int
}

func (d *fakeDirectory) EncodePassword(plain string) ([]byte, error) {
	return []byte("enc:" + plain), nil
}

func (d *fakeDirectory) Open(DirectorySettings) (DirectoryClient, error) {
	d.opened++
	return d, nil
}

func (d *fakeDirectory) Domain() string { return d.domain }

func (d *fakeDirectory) Probe(context.Context) (ProbeResult, error) {
	return d.probe, nil
}

func (d *fakeDirectory) DiscoverUsers(context.Context) ([]DirectoryUser, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.users, nil
}

func (d *fakeDirectory) DiscoverGroups(context.Context) ([]DirectoryGroup, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.groups, nil
}

func (d *fakeDirectory) GroupMembers(_ context.Context, g DirectoryGroup) ([]DirectoryUser, error) {
	return d.members[g.SID], nil
}

func (d *fakeDirectory) FindGroupsByName(_ context.Context, names []string) ([]DirectoryGroup, error) {
	var out []DirectoryGroup
	for _, g := range d.groups {
		for _, n := range names {
			if strings.EqualFold(strings.TrimSpace(n), g.Name) {
				out = append(out, g)
				break
			}
		}
	}
	return out, nil
}

func (d *fakeDirectory) Close() error {
	d.closed++
	return nil
}

func dirUser(login string) DirectoryUser {
	return DirectoryUser{
		SID:       "sid-" + login,
		DN:        "uid=" + login + ",ou=people,dc=example,dc=com",
		Login:     login,
		FirstName: strings.ToUpper(login[:1]) + login[1:],
		LastName:  "Doe",
		Email:     login + "@example.com",
	}
}
