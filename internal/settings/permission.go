package settings

import (
	"errors"
	"fmt"
	"math/bits"
	"strings"
)

// PermissionDefinition describes one toggleable permission. Bit must be a
// single power of two, unique within its set.
type PermissionDefinition struct {
	Key         string // stable identifier, e.g. "MANAGE_ROLES"
	Bit         uint32
	Name        string
	Description string
	Icon        string
}

// PermissionSet is an ordered list of definitions. Order is display order.
type PermissionSet []PermissionDefinition

// PermissionEntry pairs a definition with whether a bitmask grants it.
type PermissionEntry struct {
	PermissionDefinition
	HasPerm bool
}

// HasFlag reports whether bit is set in value.
func HasFlag(value, bit uint32) bool {
	return value&bit != 0
}

// SetFlag returns value with bit set.
func SetFlag(value, bit uint32) uint32 {
	return value | bit
}

// ClearFlag returns value with bit cleared.
func ClearFlag(value, bit uint32) uint32 {
	return value &^ bit
}

// Toggle sets bit when checked is true and clears it otherwise.
func Toggle(value, bit uint32, checked bool) uint32 {
	if checked {
		return SetFlag(value, bit)
	}
	return ClearFlag(value, bit)
}

// Enumerate returns one entry per definition, in definition order.
func Enumerate(defs PermissionSet, value uint32) []PermissionEntry {
	entries := make([]PermissionEntry, len(defs))
	for i, def := range defs {
		entries[i] = PermissionEntry{
			PermissionDefinition: def,
			HasPerm:              HasFlag(value, def.Bit),
		}
	}
	return entries
}

// Mask returns the union of every bit in the set.
func (s PermissionSet) Mask() uint32 {
	var mask uint32
	for _, def := range s {
		mask |= def.Bit
	}
	return mask
}

// Contains reports whether every bit set in value belongs to the set.
func (s PermissionSet) Contains(value uint32) bool {
	return value&^s.Mask() == 0
}

// Defines reports whether bit is exactly one of the set's flags.
func (s PermissionSet) Defines(bit uint32) bool {
	for _, def := range s {
		if def.Bit == bit {
			return true
		}
	}
	return false
}

// Lookup finds a definition by key or display name, ignoring case.
func (s PermissionSet) Lookup(name string) (PermissionDefinition, bool) {
	for _, def := range s {
		if strings.EqualFold(def.Key, name) || strings.EqualFold(def.Name, name) {
			return def, true
		}
	}
	return PermissionDefinition{}, false
}

// Validate checks that every bit is a single power of two and that no two
// definitions share a bit.
func (s PermissionSet) Validate() error {
	var seen uint32
	for _, def := range s {
		if bits.OnesCount32(def.Bit) != 1 {
			return fmt.Errorf("permission %q: bit %#x is not a single flag", def.Key, def.Bit)
		}
		if seen&def.Bit != 0 {
			return fmt.Errorf("permission %q: bit %#x already assigned", def.Key, def.Bit)
		}
		seen |= def.Bit
	}
	return nil
}

// Permission scopes.
const (
	ScopeRole    = "role"
	ScopeChannel = "channel"
)

// RolePermissions are the permissions a server role can grant.
var RolePermissions = PermissionSet{
	{Key: "ADMIN", Bit: 1, Name: "Administrator", Description: "Gives every permission", Icon: "mail"},
	{Key: "SEND_MESSAGE", Bit: 2, Name: "Send Messages", Description: "Allow sending messages", Icon: "mail"},
	{Key: "MANAGE_ROLES", Bit: 4, Name: "Manage Roles", Description: "Allow creating, updating and deleting roles", Icon: "leaderboard"},
	{Key: "MANAGE_CHANNELS", Bit: 8, Name: "Manage Channels", Description: "Allow creating, updating and deleting channels", Icon: "storage"},
	{Key: "KICK", Bit: 16, Name: "Kick", Description: "Allow kicking members", Icon: "exit_to_app"},
	{Key: "BAN", Bit: 32, Name: "Ban", Description: "Allow banning members", Icon: "block"},
}

// ChannelPermissions are the permissions that apply to a single channel.
var ChannelPermissions = PermissionSet{
	{Key: "PRIVATE_CHANNEL", Bit: 1, Name: "Private Channel", Description: "Disable access to the channel. Server admins can still access the channel.", Icon: "lock"},
	{Key: "SEND_MESSAGE", Bit: 2, Name: "Send Message", Description: "Enable sending messages in this channel. Server admins can still send messages.", Icon: "mail"},
}

// ErrUnknownScope is returned for a permission scope that has no set.
var ErrUnknownScope = errors.New("unknown permission scope")

// PermissionSetForScope returns the static set for a scope name.
func PermissionSetForScope(scope string) (PermissionSet, error) {
	switch scope {
	case ScopeRole, "":
		return RolePermissions, nil
	case ScopeChannel:
		return ChannelPermissions, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownScope, scope)
	}
}
