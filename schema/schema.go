// Package schema validates a request payload against the JSON Schema
// registered for its action before the planner touches anything. This
// is the mechanism behind the "input errors produce no side effects"
// rule: validation happens before a single external command runs.
//
// Modeled on lima-vm-lima's jsonschemautil package, which compiles and
// validates with santhosh-tekuri/jsonschema; adapted here to validate
// in-memory payloads read from stdin rather than a file on disk, and
// to hold one schema per recognised action rather than one global
// schema.
package schema

import (
	"embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

var compiled = map[string]*jsonschema.Schema{}

func init() {
	compiler := jsonschema.NewCompiler()
	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		panic(fmt.Sprintf("schema: read embedded schemas: %v", err))
	}
	for _, entry := range entries {
		name := entry.Name()
		data, err := schemaFS.ReadFile("schemas/" + name)
		if err != nil {
			panic(fmt.Sprintf("schema: read %s: %v", name, err))
		}
		var doc any
		if err := json.Unmarshal(data, &doc); err != nil {
			panic(fmt.Sprintf("schema: parse %s: %v", name, err))
		}
		if err := compiler.AddResource(name, doc); err != nil {
			panic(fmt.Sprintf("schema: register %s: %v", name, err))
		}
	}
	for action := range actionFileNames() {
		s, err := compiler.Compile(action + ".json")
		if err != nil {
			panic(fmt.Sprintf("schema: compile %s: %v", action, err))
		}
		compiled[action] = s
	}
}

func actionFileNames() map[string]struct{} {
	return map[string]struct{}{
		"wipe_device":             {},
		"create_partition_table":  {},
		"create_partition":        {},
		"delete_partition":        {},
		"format_partition":        {},
		"check_partition":         {},
		"resize_partition":        {},
		"move_partition":          {},
		"copy_partition":          {},
		"set_label_uuid":          {},
		"preflight_check":         {},
		"force_unmount":           {},
		"apfs_list_volumes":       {},
		"apfs_add_volume":         {},
		"apfs_delete_volume":      {},
		"flash_image":             {},
		"get_journal":             {},
		"clear_journal":           {},
	}
}

// ErrUnknownAction is returned by Validate when action has no
// registered schema.
type ErrUnknownAction string

func (e ErrUnknownAction) Error() string { return fmt.Sprintf("unknown action: %s", string(e)) }

// Validate checks payload (already decoded into a generic JSON value)
// against the schema registered for action.
func Validate(action string, payload any) error {
	s, ok := compiled[action]
	if !ok {
		return ErrUnknownAction(action)
	}
	if err := s.Validate(payload); err != nil {
		return fmt.Errorf("invalid payload for %s: %w", action, err)
	}
	return nil
}

// KnownAction reports whether action has a registered schema.
func KnownAction(action string) bool {
	_, ok := compiled[action]
	return ok
}
