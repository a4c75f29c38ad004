package settings

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"rolectl/internal/model"
)

//go:embed patch.schema.json
var patchSchemaJSON string

var (
	patchSchemaOnce sync.Once
	patchSchema     *jsonschema.Schema
	patchSchemaErr  error
)

func compiledPatchSchema() (*jsonschema.Schema, error) {
	patchSchemaOnce.Do(func() {
		patchSchema, patchSchemaErr = jsonschema.CompileString("patch.schema.json", patchSchemaJSON)
	})
	return patchSchema, patchSchemaErr
}

// PatchDocument is a file-based description of role edits. Absent fields
// are left untouched; Grant and Revoke name permissions by key or display
// name and are applied after Permissions.
type PatchDocument struct {
	Name        *string  `json:"name,omitempty" yaml:"name,omitempty"`
	HexColor    *string  `json:"hexColor,omitempty" yaml:"hexColor,omitempty"`
	Permissions *uint32  `json:"permissions,omitempty" yaml:"permissions,omitempty"`
	HideRole    *bool    `json:"hideRole,omitempty" yaml:"hideRole,omitempty"`
	Grant       []string `json:"grant,omitempty" yaml:"grant,omitempty"`
	Revoke      []string `json:"revoke,omitempty" yaml:"revoke,omitempty"`
}

// ParsePatchDocument decodes and validates a patch document. format is
// "json" or "yaml"; YAML documents are normalised to JSON before validation.
func ParsePatchDocument(data []byte, format string) (*PatchDocument, error) {
	switch strings.ToLower(format) {
	case "yaml", "yml":
		var raw any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("decoding yaml patch: %w", err)
		}
		converted, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("converting yaml patch: %w", err)
		}
		data = converted
	case "json", "":
	default:
		return nil, fmt.Errorf("unsupported patch format: %q", format)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var instance any
	if err := dec.Decode(&instance); err != nil {
		return nil, fmt.Errorf("decoding patch: %w", err)
	}

	schema, err := compiledPatchSchema()
	if err != nil {
		return nil, fmt.Errorf("compiling patch schema: %w", err)
	}
	if err := schema.Validate(instance); err != nil {
		return nil, fmt.Errorf("invalid patch: %w", err)
	}

	var doc PatchDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding patch: %w", err)
	}
	return &doc, nil
}

// Apply replays the document onto the editor's draft.
func (d *PatchDocument) Apply(e *RoleEditor) error {
	if d.Name != nil {
		if err := e.SetName(*d.Name); err != nil {
			return err
		}
	}
	if d.HexColor != nil {
		if err := e.SetHexColor(*d.HexColor); err != nil {
			return err
		}
	}
	if d.HideRole != nil {
		if err := e.SetHideRole(*d.HideRole); err != nil {
			return err
		}
	}
	if d.Permissions != nil {
		if err := e.setField(FieldPermissions, *d.Permissions); err != nil {
			return err
		}
	}
	perms := e.PermissionSet()
	for _, name := range d.Grant {
		def, ok := perms.Lookup(name)
		if !ok {
			return fmt.Errorf("unknown permission: %q", name)
		}
		if err := e.TogglePermission(def.Bit, true); err != nil {
			return err
		}
	}
	for _, name := range d.Revoke {
		def, ok := perms.Lookup(name)
		if !ok {
			return fmt.Errorf("unknown permission: %q", name)
		}
		if err := e.TogglePermission(def.Bit, false); err != nil {
			return err
		}
	}
	return nil
}

// Patch returns what the document changes on base, for callers that have
// no editor open, such as role creation. base may be nil.
func (d *PatchDocument) Patch(base *model.Role, perms PermissionSet) (Patch, error) {
	t := NewDiffTracker(RoleFields)
	if err := t.Rebaseline(SnapshotOf(base)); err != nil {
		return nil, err
	}

	if d.Name != nil {
		if err := t.SetField(FieldName, *d.Name); err != nil {
			return nil, err
		}
	}
	if d.HexColor != nil {
		if err := t.SetField(FieldHexColor, *d.HexColor); err != nil {
			return nil, err
		}
	}
	if d.HideRole != nil {
		if err := t.SetField(FieldHideRole, *d.HideRole); err != nil {
			return nil, err
		}
	}

	value := t.Field(FieldPermissions).(uint32)
	if d.Permissions != nil {
		if !perms.Contains(*d.Permissions &^ value) {
			return nil, fmt.Errorf("permissions %#x include bits outside this scope", *d.Permissions)
		}
		value = *d.Permissions
	}
	for _, name := range d.Grant {
		def, ok := perms.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("unknown permission: %q", name)
		}
		value = SetFlag(value, def.Bit)
	}
	for _, name := range d.Revoke {
		def, ok := perms.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("unknown permission: %q", name)
		}
		value = ClearFlag(value, def.Bit)
	}
	if err := t.SetField(FieldPermissions, value); err != nil {
		return nil, err
	}
	return t.Diff(), nil
}
