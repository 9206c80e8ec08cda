package scim

import (
	"strings"
)

// PatchOp is one operation of an RFC 7644 PatchOp request, as submitted.
// Values are parsed into closed types immediately; raw maps never travel
// past this file.
type PatchOp struct {
	Op    string  `json:"op"`
	Path  *string `json:"path,omitempty"`
	Value any     `json:"value,omitempty"`
}

// PatchRequest is the body of a SCIM PATCH request.
type PatchRequest struct {
	Schemas    []string  `json:"schemas"`
	Operations []PatchOp `json:"Operations"`
}

// patchOpSchema is the required schemas URN for PATCH requests.
const patchOpSchema = "urn:ietf:params:scim:api:messages:2.0:PatchOp"

// ValidatePatchSchemas rejects PATCH bodies that declare schemas without the
// PatchOp URN. An empty schemas list is tolerated; several IdPs omit it.
func ValidatePatchSchemas(req *PatchRequest) error {
	if len(req.Schemas) == 0 {
		return nil
	}
	for _, s := range req.Schemas {
		if s == patchOpSchema {
			return nil
		}
	}
	return E(KindInvalidPatch, "missing %s schema", patchOpSchema)
}

// ============================================================
// User patch
// ============================================================

// UserPatch is the typed, additive result of parsing user patch operations.
// Nil fields were not touched by the request.
type UserPatch struct {
	Active *bool
	Name   *string
}

// ParseUserPatch normalizes user patch operations. Users accept only add and
// replace: deactivation is expressed as active:false, never as a remove op.
// Supported paths are `active`, `name.formatted`, and the pathless
// object-value idiom some IdPs emit.
func ParseUserPatch(ops []PatchOp) (UserPatch, error) {
	var result UserPatch
	for _, op := range ops {
		switch strings.ToLower(op.Op) {
		case "add", "replace":
		case "remove":
			return UserPatch{}, E(KindInvalidPatch, "user patch does not support remove; send active:false to deactivate")
		default:
			return UserPatch{}, E(KindInvalidPatch, "unsupported patch op %q", op.Op)
		}

		if op.Path == nil || *op.Path == "" {
			if err := mergeUserValue(&result, op.Value); err != nil {
				return UserPatch{}, err
			}
			continue
		}

		switch *op.Path {
		case "active":
			active, ok := boolValue(op.Value)
			if !ok {
				return UserPatch{}, E(KindInvalidPatch, "active requires a boolean value")
			}
			result.Active = &active
		case "name.formatted":
			name, ok := op.Value.(string)
			if !ok {
				return UserPatch{}, E(KindInvalidPatch, "name.formatted requires a string value")
			}
			result.Name = &name
		default:
			return UserPatch{}, E(KindInvalidPatch, "unsupported patch path %q", *op.Path)
		}
	}
	return result, nil
}

// mergeUserValue handles the pathless `{op:"replace", value:{...}}` idiom,
// merging any recognized sub-keys and ignoring the rest.
func mergeUserValue(result *UserPatch, value any) error {
	obj, ok := value.(map[string]any)
	if !ok {
		return E(KindInvalidPatch, "patch value without path must be an object")
	}
	if raw, ok := obj["active"]; ok {
		active, ok := boolValue(raw)
		if !ok {
			return E(KindInvalidPatch, "active requires a boolean value")
		}
		result.Active = &active
	}
	if raw, ok := obj["name"]; ok {
		nameObj, ok := raw.(map[string]any)
		if !ok {
			return E(KindInvalidPatch, "name requires an object value")
		}
		if formatted, ok := nameObj["formatted"].(string); ok {
			result.Name = &formatted
		}
	}
	return nil
}

// boolValue accepts JSON booleans and the "True"/"False" strings some IdPs
// send for boolean attributes.
func boolValue(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		switch strings.ToLower(b) {
		case "true":
			return true, true
		case "false":
			return false, true
		}
	}
	return false, false
}

// ============================================================
// Group patch
// ============================================================

// MemberActionOp distinguishes membership additions from removals.
type MemberActionOp string

const (
	ActionAdd    MemberActionOp = "add"
	ActionRemove MemberActionOp = "remove"
)

// MemberAction is one parsed membership delta. Actions apply in submission
// order; the reconciler re-reads rows so later actions on the same user win.
type MemberAction struct {
	Op     MemberActionOp
	UserID string
}

// ParseGroupPatch normalizes group patch operations into an ordered action
// list. Accepted shapes: add/remove with path "members" and a value array of
// {value: userId} objects, and the single-member bracket-filter path
// `members[value eq "<id>"]` for remove only. An op that carries both a
// bracket filter and a value array is ambiguous and rejected.
func ParseGroupPatch(ops []PatchOp) ([]MemberAction, error) {
	var actions []MemberAction
	for _, op := range ops {
		var actionOp MemberActionOp
		switch strings.ToLower(op.Op) {
		case "add":
			actionOp = ActionAdd
		case "remove":
			actionOp = ActionRemove
		default:
			return nil, E(KindInvalidPatch, "unsupported group patch op %q", op.Op)
		}

		path := ""
		if op.Path != nil {
			path = *op.Path
		}

		if userID, ok, err := bracketMemberID(path); err != nil {
			return nil, err
		} else if ok {
			if actionOp != ActionRemove {
				return nil, E(KindInvalidPatch, "filter path %q is only supported for remove", path)
			}
			if op.Value != nil {
				return nil, E(KindInvalidPatch, "ambiguous remove: both a filter path and a value were given")
			}
			actions = append(actions, MemberAction{Op: ActionRemove, UserID: userID})
			continue
		}

		if path != "members" {
			return nil, E(KindInvalidPatch, "unsupported group patch path %q", path)
		}

		userIDs, err := memberValues(op.Value)
		if err != nil {
			return nil, err
		}
		for _, id := range userIDs {
			actions = append(actions, MemberAction{Op: actionOp, UserID: id})
		}
	}
	return actions, nil
}

// bracketMemberID parses the `members[value eq "<id>"]` path idiom. Returns
// ok=false when the path is not bracket-form at all; an error only when it
// starts as bracket-form but is malformed.
func bracketMemberID(path string) (string, bool, error) {
	if !strings.HasPrefix(path, "members[") {
		return "", false, nil
	}
	if !strings.HasSuffix(path, "]") {
		return "", false, E(KindInvalidPatch, "malformed filter path %q", path)
	}
	inner := strings.TrimSpace(path[len("members[") : len(path)-1])
	rest, ok := strings.CutPrefix(inner, "value")
	if !ok {
		return "", false, E(KindInvalidPatch, "unsupported filter path %q", path)
	}
	rest = strings.TrimSpace(rest)
	rest, ok = strings.CutPrefix(rest, "eq")
	if !ok {
		return "", false, E(KindInvalidPatch, "unsupported filter path %q", path)
	}
	rest = strings.TrimSpace(rest)
	if len(rest) < 2 || rest[0] != '"' || rest[len(rest)-1] != '"' {
		return "", false, E(KindInvalidPatch, "malformed filter path %q", path)
	}
	id := rest[1 : len(rest)-1]
	if id == "" {
		return "", false, E(KindInvalidPatch, "empty member id in filter path %q", path)
	}
	return id, true, nil
}

// memberValues extracts user ids from a members value array. Both the
// canonical {value: id} object form and bare string entries are accepted.
func memberValues(value any) ([]string, error) {
	arr, ok := value.([]any)
	if !ok {
		return nil, E(KindInvalidPatch, "members value must be an array")
	}
	var ids []string
	for _, item := range arr {
		switch v := item.(type) {
		case string:
			if v == "" {
				return nil, E(KindInvalidPatch, "empty member id in value array")
			}
			ids = append(ids, v)
		case map[string]any:
			id, ok := v["value"].(string)
			if !ok || id == "" {
				return nil, E(KindInvalidPatch, "member entries require a string value field")
			}
			ids = append(ids, id)
		default:
			return nil, E(KindInvalidPatch, "unsupported member entry type")
		}
	}
	return ids, nil
}
