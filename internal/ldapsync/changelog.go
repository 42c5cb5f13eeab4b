package ldapsync

import (
	"encoding/json"
)

// ChangeType names one kind of planned identity change
type ChangeType string

const (
	ChangeAddUser            ChangeType = "AddUser"
	ChangeUpdateUser         ChangeType = "UpdateUser"
	ChangeSaveAsPortalUser   ChangeType = "SaveAsPortalUser"
	ChangeAddGroup           ChangeType = "AddGroup"
	ChangeUpdateGroup        ChangeType = "UpdateGroup"
	ChangeRemoveGroupMembers ChangeType = "RemoveGroupMembers"
	ChangeAddGroupMembers    ChangeType = "AddGroupMembers"
	ChangeSkipGroup          ChangeType = "SkipGroup"
	ChangeRemoveGroup        ChangeType = "RemoveGroup"
	ChangeResetSnapshot      ChangeType = "ResetSnapshot"
)

// FieldChange is one attribute difference of an updated user
type FieldChange struct {
	Field  string `json:"field"`
	Before string `json:"before"`
	After  string `json:"after"`
}

// Member is a user reference inside a group change
type Member struct {
	ID   string `json:"id,omitempty"`
	SID  string `json:"sid,omitempty"`
	Name string `json:"name"`
}

// Change is one entry of the diff a test run would have applied
type Change struct {
	Type    ChangeType    `json:"type"`
	ID      string        `json:"id,omitempty"`
	SID     string        `json:"sid,omitempty"`
	Name    string        `json:"name"`
	Email   string        `json:"email,omitempty"`
	Fields  []FieldChange `json:"fields,omitempty"`
	Members []Member      `json:"members,omitempty"`
}

// ChangeLog accumulates the changes of a test run in order
type ChangeLog struct {
	changes []Change
}

func (l *ChangeLog) add(c Change) {
	l.changes = append(l.changes, c)
}

// AddUser records a user that would be created
func (l *ChangeLog) AddUser(u LocalUser) {
	l.add(Change{Type: ChangeAddUser, SID: u.SID, Name: u.DisplayName(), Email: u.Email})
}

// UpdateUser records a user whose attributes would change
func (l *ChangeLog) UpdateUser(u LocalUser, fields []FieldChange) {
	l.add(Change{Type: ChangeUpdateUser, ID: u.ID, SID: u.SID, Name: u.DisplayName(), Email: u.Email, Fields: fields})
}

// SaveAsPortalUser records a user that would be unlinked from the directory
func (l *ChangeLog) SaveAsPortalUser(u LocalUser) {
	l.add(Change{Type: ChangeSaveAsPortalUser, ID: u.ID, SID: u.SID, Name: u.DisplayName(), Email: u.Email})
}

// AddGroup records a group that would be created
func (l *ChangeLog) AddGroup(g LocalGroup) {
	l.add(groupChange(ChangeAddGroup, g, nil))
}

// UpdateGroup records a group that would be renamed or relinked
func (l *ChangeLog) UpdateGroup(g LocalGroup) {
	l.add(groupChange(ChangeUpdateGroup, g, nil))
}

// RemoveGroupMembers records members that would leave a group
func (l *ChangeLog) RemoveGroupMembers(g LocalGroup, users []LocalUser) {
	l.add(groupChange(ChangeRemoveGroupMembers, g, users))
}

// AddGroupMembers records members that would join a group
func (l *ChangeLog) AddGroupMembers(g LocalGroup, users []LocalUser) {
	l.add(groupChange(ChangeAddGroupMembers, g, users))
}

// SkipGroup records a directory group that would not be created
func (l *ChangeLog) SkipGroup(g LocalGroup) {
	l.add(groupChange(ChangeSkipGroup, g, nil))
}

// RemoveGroup records a group that would be deleted
func (l *ChangeLog) RemoveGroup(g LocalGroup) {
	l.add(groupChange(ChangeRemoveGroup, g, nil))
}

// ResetSnapshot records a stored snapshot that would be cleared
func (l *ChangeLog) ResetSnapshot(key string) {
	l.add(Change{Type: ChangeResetSnapshot, Name: key})
}

func groupChange(t ChangeType, g LocalGroup, users []LocalUser) Change {
	c := Change{Type: t, ID: g.ID, SID: g.SID, Name: g.Name}
	for _, u := range users {
		c.Members = append(c.Members, Member{ID: u.ID, SID: u.SID, Name: u.DisplayName()})
	}
	return c
}

// Changes returns a copy of the recorded changes
func (l *ChangeLog) Changes() []Change {
	out := make([]Change, len(l.changes))
	copy(out, l.changes)
	return out
}

// Len returns the number of recorded changes
func (l *ChangeLog) Len() int {
	return len(l.changes)
}

// Count returns how many changes of type t were recorded
func (l *ChangeLog) Count(t ChangeType) int {
	n := 0
	for _, c := range l.changes {
		if c.Type == t {
			n++
		}
	}
	return n
}

// MarshalJSON encodes the log as a JSON array, "[]" when empty
func (l *ChangeLog) MarshalJSON() ([]byte, error) {
	if l.changes == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l.changes)
}

// String returns the JSON form used as the result of test runs
func (l *ChangeLog) String() string {
	data, err := l.MarshalJSON()
	if err != nil {
		return "[]"
	}
	return string(data)
}
