package settings_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rolectl/internal/settings"
)

var sampleValues = []uint32{0, 1, 2, 5, 16, 0x2a, 0xffff, 0x80000000, 0xffffffff}

func TestSetFlag_HasFlag(t *testing.T) {
	for _, v := range sampleValues {
		for i := 0; i < 32; i++ {
			bit := uint32(1) << i
			assert.True(t, settings.HasFlag(settings.SetFlag(v, bit), bit), "v=%#x bit=%#x", v, bit)
		}
	}
}

func TestClearFlag_AfterSetFlag(t *testing.T) {
	for _, v := range sampleValues {
		for i := 0; i < 32; i++ {
			bit := uint32(1) << i
			got := settings.ClearFlag(settings.SetFlag(v, bit), bit)
			assert.Equal(t, v&^bit, got, "v=%#x bit=%#x", v, bit)
			assert.False(t, settings.HasFlag(got, bit))
		}
	}
}

func TestToggle(t *testing.T) {
	assert.Equal(t, uint32(0b10110), settings.Toggle(0b00110, 16, true))
	assert.Equal(t, uint32(0b00010), settings.Toggle(0b00110, 4, false))
	assert.Equal(t, uint32(0b00110), settings.Toggle(0b00110, 4, true), "setting a set bit is idempotent")
	assert.Equal(t, uint32(0b00110), settings.Toggle(0b00110, 8, false), "clearing a clear bit is idempotent")
}

func TestEnumerate(t *testing.T) {
	entries := settings.Enumerate(settings.RolePermissions, 2|16)

	require.Len(t, entries, len(settings.RolePermissions))
	for i, e := range entries {
		assert.Equal(t, settings.RolePermissions[i].Key, e.Key, "entries keep definition order")
	}

	granted := map[string]bool{}
	for _, e := range entries {
		granted[e.Key] = e.HasPerm
	}
	assert.Equal(t, map[string]bool{
		"ADMIN":           false,
		"SEND_MESSAGE":    true,
		"MANAGE_ROLES":    false,
		"MANAGE_CHANNELS": false,
		"KICK":            true,
		"BAN":             false,
	}, granted)
}

func TestEnumerate_EmptySet(t *testing.T) {
	assert.Empty(t, settings.Enumerate(nil, 0xff))
}

func TestPermissionSet_MaskContains(t *testing.T) {
	set := settings.RolePermissions
	assert.Equal(t, uint32(63), set.Mask())
	assert.True(t, set.Contains(0))
	assert.True(t, set.Contains(1|32))
	assert.False(t, set.Contains(64))

	assert.Equal(t, uint32(3), settings.ChannelPermissions.Mask())
	assert.False(t, settings.ChannelPermissions.Contains(4))
}

func TestPermissionSet_Lookup(t *testing.T) {
	def, ok := settings.RolePermissions.Lookup("kick")
	require.True(t, ok)
	assert.Equal(t, uint32(16), def.Bit)

	def, ok = settings.RolePermissions.Lookup("Manage Roles")
	require.True(t, ok)
	assert.Equal(t, "MANAGE_ROLES", def.Key)

	_, ok = settings.RolePermissions.Lookup("FLY")
	assert.False(t, ok)
}

func TestPermissionSet_Validate(t *testing.T) {
	t.Run("static sets are valid", func(t *testing.T) {
		assert.NoError(t, settings.RolePermissions.Validate())
		assert.NoError(t, settings.ChannelPermissions.Validate())
	})

	t.Run("multi-bit value", func(t *testing.T) {
		set := settings.PermissionSet{{Key: "A", Bit: 3}}
		assert.Error(t, set.Validate())
	})

	t.Run("zero bit", func(t *testing.T) {
		set := settings.PermissionSet{{Key: "A", Bit: 0}}
		assert.Error(t, set.Validate())
	})

	t.Run("overlapping bits", func(t *testing.T) {
		set := settings.PermissionSet{{Key: "A", Bit: 4}, {Key: "B", Bit: 4}}
		assert.Error(t, set.Validate())
	})
}

func TestPermissionSetForScope(t *testing.T) {
	set, err := settings.PermissionSetForScope("channel")
	require.NoError(t, err)
	assert.Len(t, set, 2)

	set, err = settings.PermissionSetForScope("")
	require.NoError(t, err)
	assert.Len(t, set, 6)

	_, err = settings.PermissionSetForScope("guild")
	assert.ErrorIs(t, err, settings.ErrUnknownScope)
}

func TestPermissionSet_Defines(t *testing.T) {
	assert.True(t, settings.RolePermissions.Defines(16))
	assert.False(t, settings.RolePermissions.Defines(3))
	assert.False(t, settings.RolePermissions.Defines(0))
	assert.False(t, settings.ChannelPermissions.Defines(4))
}
