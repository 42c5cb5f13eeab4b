package ldapsync

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperationKind(t *testing.T) {
	assert.True(t, SaveTest.IsTest())
	assert.True(t, SyncTest.IsTest())
	assert.False(t, Sync.IsTest())
	assert.True(t, Save.IsSave())
	assert.False(t, SyncTest.IsSave())
	assert.False(t, OperationKind(9).Valid())
	assert.Equal(t, "OperationKind(9)", OperationKind(9).String())
}

func TestParseOperationKind(t *testing.T) {
	kind, err := ParseOperationKind(" synctest ")
	require.NoError(t, err)
	assert.Equal(t, SyncTest, kind)

	_, err = ParseOperationKind("delete")
	assert.Error(t, err)
}

func TestOperationKind_JSON(t *testing.T) {
	data, err := json.Marshal(TaskInfo{OperationType: SaveTest})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"operation_type":"SaveTest"`)

	var info TaskInfo
	require.NoError(t, json.Unmarshal(data, &info))
	assert.Equal(t, SaveTest, info.OperationType)
}

func TestDirectoryUser_Attribute(t *testing.T) {
	u := DirectoryUser{Login: "anna", Attributes: map[string][][]byte{"jpegPhoto": {[]byte{0xff, 0xd8}}}}

	data, ok := u.Attribute("JPEGPHOTO")
	assert.True(t, ok)
	assert.Equal(t, []byte{0xff, 0xd8}, data)

	_, ok = u.Attribute("thumbnailPhoto")
	assert.False(t, ok)
	assert.Equal(t, "anna", u.DisplayName())
}

func TestTenant_IsOwner(t *testing.T) {
	assert.True(t, Tenant{OwnerID: "u-1"}.IsOwner("u-1"))
	assert.False(t, Tenant{}.IsOwner(""))
}
