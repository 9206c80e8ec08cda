package scim

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ngc-shj/passwd-sso-sub002/internal/directory"
)

// SCIM schema URNs and the media type for all responses.
const (
	SchemaUser          = "urn:ietf:params:scim:schemas:core:2.0:User"
	SchemaGroup         = "urn:ietf:params:scim:schemas:core:2.0:Group"
	SchemaListResponse  = "urn:ietf:params:scim:api:messages:2.0:ListResponse"
	SchemaError         = "urn:ietf:params:scim:api:messages:2.0:Error"
	SchemaServiceConfig = "urn:ietf:params:scim:schemas:core:2.0:ServiceProviderConfig"

	ContentType = "application/scim+json"
)

// roleGroupNamespaceV1 is the UUID namespace for deterministic role-group
// ids. Group ids are derived, not stored: the same (scope, role) pair must
// hash to the same id across requests, instances, and releases. Changing
// this constant would orphan every group id an IdP has already cached, so
// it must never change. Bump the name to a new constant if a v2 scheme is
// ever introduced.
var roleGroupNamespaceV1 = uuid.MustParse("5f1dbe20-7c6a-4bb7-9f6e-3e1a2b8d4c90")

// GroupID derives the stable id of a scope's role-group.
func GroupID(scopeID string, role directory.Role) string {
	return uuid.NewSHA1(roleGroupNamespaceV1, []byte(scopeID+":"+string(role))).String()
}

// ResolveGroupID finds which role a group id refers to within a scope, by
// deriving each role's id and comparing. The role set is small and fixed.
func ResolveGroupID(scopeID, groupID string) (directory.Role, bool) {
	for _, role := range directory.Roles {
		if GroupID(scopeID, role) == groupID {
			return role, true
		}
	}
	return "", false
}

// Meta is the common resource metadata block.
type Meta struct {
	ResourceType string `json:"resourceType"`
	Location     string `json:"location,omitempty"`
}

// UserName is the SCIM name complex attribute. Only formatted is served.
type UserName struct {
	Formatted string `json:"formatted"`
}

// User is a serialized SCIM user resource.
type User struct {
	Schemas    []string `json:"schemas"`
	ID         string   `json:"id"`
	ExternalID string   `json:"externalId,omitempty"`
	UserName   string   `json:"userName"`
	Name       UserName `json:"name"`
	Active     bool     `json:"active"`
	Meta       Meta     `json:"meta"`
}

// UserResource serializes a membership row as a SCIM user. externalID may be
// empty when no mapping exists; the attribute is then omitted entirely.
func UserResource(m *directory.Member, externalID, baseURL string) User {
	return User{
		Schemas:    []string{SchemaUser},
		ID:         m.UserID,
		ExternalID: externalID,
		UserName:   strings.ToLower(m.Email),
		Name:       UserName{Formatted: m.DisplayName},
		Active:     m.Active(),
		Meta: Meta{
			ResourceType: "User",
			Location:     resourceURL(baseURL, "Users", m.UserID),
		},
	}
}

// GroupMember is one entry of a group's members list.
type GroupMember struct {
	Value   string `json:"value"`
	Display string `json:"display,omitempty"`
	Ref     string `json:"$ref,omitempty"`
}

// Group is a serialized SCIM role-group.
type Group struct {
	Schemas     []string      `json:"schemas"`
	ID          string        `json:"id"`
	DisplayName string        `json:"displayName"`
	Members     []GroupMember `json:"members"`
	Meta        Meta          `json:"meta"`
}

// GroupResource serializes one role-group of a scope. The display name is
// "{slug}:{role}" when the scope has a slug, the bare role name otherwise.
// Members is always a non-nil slice so empty groups serialize as [].
func GroupResource(scope *directory.Scope, role directory.Role, members []directory.Member, baseURL string) Group {
	displayName := string(role)
	if scope.Slug != "" {
		displayName = scope.Slug + ":" + string(role)
	}
	id := GroupID(scope.ID, role)
	out := Group{
		Schemas:     []string{SchemaGroup},
		ID:          id,
		DisplayName: displayName,
		Members:     make([]GroupMember, 0, len(members)),
		Meta: Meta{
			ResourceType: "Group",
			Location:     resourceURL(baseURL, "Groups", id),
		},
	}
	for i := range members {
		m := &members[i]
		out.Members = append(out.Members, GroupMember{
			Value:   m.UserID,
			Display: m.DisplayName,
			Ref:     resourceURL(baseURL, "Users", m.UserID),
		})
	}
	return out
}

func resourceURL(baseURL, resourceType, id string) string {
	if baseURL == "" {
		return ""
	}
	return strings.TrimSuffix(baseURL, "/") + "/scim/v2/" + resourceType + "/" + id
}

// ============================================================
// Envelopes
// ============================================================

// ListResponse is the SCIM paged list envelope. Resources is always non-nil.
type ListResponse struct {
	Schemas      []string `json:"schemas"`
	TotalResults int      `json:"totalResults"`
	StartIndex   int      `json:"startIndex"`
	ItemsPerPage int      `json:"itemsPerPage"`
	Resources    []any    `json:"Resources"`
}

// NewListResponse wraps a result page. startIndex is 1-based per RFC 7644.
func NewListResponse(resources []any, total, startIndex, itemsPerPage int) ListResponse {
	if resources == nil {
		resources = []any{}
	}
	if startIndex < 1 {
		startIndex = 1
	}
	return ListResponse{
		Schemas:      []string{SchemaListResponse},
		TotalResults: total,
		StartIndex:   startIndex,
		ItemsPerPage: itemsPerPage,
		Resources:    resources,
	}
}

// ErrorResponse is the SCIM error envelope. Status is a string per RFC 7644.
type ErrorResponse struct {
	Schemas  []string `json:"schemas"`
	Status   string   `json:"status"`
	ScimType string   `json:"scimType,omitempty"`
	Detail   string   `json:"detail,omitempty"`
}

// NewErrorResponse builds the envelope for a domain error.
func NewErrorResponse(err error) (int, ErrorResponse) {
	kind := KindOf(err)
	status := kind.HTTPStatus()
	return status, ErrorResponse{
		Schemas:  []string{SchemaError},
		Status:   fmt.Sprintf("%d", status),
		ScimType: kind.scimType(),
		Detail:   Detail(err),
	}
}

// ServiceProviderConfig is the static capabilities document served at
// /scim/v2/ServiceProviderConfig.
type ServiceProviderConfig struct {
	Schemas               []string      `json:"schemas"`
	Patch                 supported     `json:"patch"`
	Bulk                  bulkSupport   `json:"bulk"`
	Filter                filterSupport `json:"filter"`
	ChangePassword        supported     `json:"changePassword"`
	Sort                  supported     `json:"sort"`
	ETag                  supported     `json:"etag"`
	AuthenticationSchemes []authScheme  `json:"authenticationSchemes"`
}

type supported struct {
	Supported bool `json:"supported"`
}

type bulkSupport struct {
	Supported      bool `json:"supported"`
	MaxOperations  int  `json:"maxOperations"`
	MaxPayloadSize int  `json:"maxPayloadSize"`
}

type filterSupport struct {
	Supported  bool `json:"supported"`
	MaxResults int  `json:"maxResults"`
}

type authScheme struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// NewServiceProviderConfig returns the fixed capabilities document.
func NewServiceProviderConfig() ServiceProviderConfig {
	return ServiceProviderConfig{
		Schemas:        []string{SchemaServiceConfig},
		Patch:          supported{Supported: true},
		Bulk:           bulkSupport{Supported: false},
		Filter:         filterSupport{Supported: true, MaxResults: 200},
		ChangePassword: supported{Supported: false},
		Sort:           supported{Supported: false},
		ETag:           supported{Supported: false},
		AuthenticationSchemes: []authScheme{{
			Type:        "oauthbearertoken",
			Name:        "Bearer Token",
			Description: "Provisioning token issued per tenant",
		}},
	}
}
