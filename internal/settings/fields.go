package settings

import (
	"fmt"

	"rolectl/internal/model"
)

// Field names an editable entity field.
type Field string

// Editable role fields.
const (
	FieldName        Field = "name"
	FieldHexColor    Field = "hexColor"
	FieldPermissions Field = "permissions"
	FieldHideRole    Field = "hideRole"
)

// RoleFields is the editable schema of a role, in display order.
var RoleFields = []Field{FieldName, FieldHexColor, FieldPermissions, FieldHideRole}

// Values used for a role that cannot be resolved.
const (
	DefaultHexColor = "#fff"
)

// Snapshot maps fields to values at a point in time.
type Snapshot map[Field]any

// Patch holds only the fields whose draft value differs from the baseline.
type Patch map[Field]any

// Clone returns a shallow copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	c := make(Snapshot, len(s))
	for k, v := range s {
		c[k] = v
	}
	return c
}

// Fields returns the patched keys in schema order.
func (p Patch) Fields(schema []Field) []Field {
	out := make([]Field, 0, len(p))
	for _, f := range schema {
		if _, ok := p[f]; ok {
			out = append(out, f)
		}
	}
	return out
}

// StringKeys returns the patch as a plain string-keyed map.
func (p Patch) StringKeys() map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[string(k)] = v
	}
	return out
}

// SnapshotOf derives a snapshot from a role. A nil role yields the
// defaults shown for an unresolved role.
func SnapshotOf(r *model.Role) Snapshot {
	if r == nil {
		return Snapshot{
			FieldName:        "",
			FieldHexColor:    DefaultHexColor,
			FieldPermissions: uint32(0),
			FieldHideRole:    false,
		}
	}
	color := r.HexColor
	if color == "" {
		color = DefaultHexColor
	}
	return Snapshot{
		FieldName:        r.Name,
		FieldHexColor:    color,
		FieldPermissions: r.Permissions,
		FieldHideRole:    r.HideRole,
	}
}

// Merge returns base with every patched field overwritten.
func Merge(base Snapshot, patch Patch) Snapshot {
	merged := base.Clone()
	for k, v := range patch {
		merged[k] = v
	}
	return merged
}

// ApplyPatch returns a copy of the role with the patch applied.
func ApplyPatch(r *model.Role, patch Patch) (*model.Role, error) {
	if r == nil {
		return nil, ErrEntityNotFound
	}
	out := r.Clone()
	for k, v := range patch {
		if err := checkFieldValue(k, v); err != nil {
			return nil, err
		}
		switch k {
		case FieldName:
			out.Name = v.(string)
		case FieldHexColor:
			out.HexColor = v.(string)
		case FieldPermissions:
			out.Permissions = v.(uint32)
		case FieldHideRole:
			out.HideRole = v.(bool)
		}
	}
	return out, nil
}

// checkFieldValue verifies that v has the Go type the field stores. Only
// comparable scalar kinds are accepted, so shallow equality is always safe.
func checkFieldValue(f Field, v any) error {
	var ok bool
	switch f {
	case FieldName, FieldHexColor:
		_, ok = v.(string)
	case FieldPermissions:
		_, ok = v.(uint32)
	case FieldHideRole:
		_, ok = v.(bool)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownField, f)
	}
	if !ok {
		return fmt.Errorf("%w: %q got %T", ErrFieldType, f, v)
	}
	return nil
}
