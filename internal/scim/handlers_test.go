package scim

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ngc-shj/passwd-sso-sub002/internal/auth"
	"github.com/ngc-shj/passwd-sso-sub002/internal/directory"
	"github.com/ngc-shj/passwd-sso-sub002/internal/ratelimit"
)

const testToken = "test-provisioning-token"

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string) (bool, error) { return false, nil }

type allowLimiter struct{}

func (allowLimiter) Allow(context.Context, string) (bool, error) { return true, nil }

func newTestRouter(t *testing.T, limiter ratelimit.Limiter) (*gin.Engine, *directory.MemoryStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	svc, store, _ := newTestService(t)
	resolver := auth.NewStaticResolver(map[string]auth.Context{
		testToken: *testAuthContext(),
	})
	handler := NewHandler(svc, resolver, limiter, zap.NewNop())

	router := gin.New()
	handler.RegisterRoutes(router)
	return router, store
}

func doRequest(router *gin.Engine, method, path, body string, authorized bool) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if authorized {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestAuthRequired(t *testing.T) {
	router, _ := newTestRouter(t, allowLimiter{})

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic abc"},
		{"unknown token", "Bearer wrong-token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/scim/v2/Users", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Contains(t, w.Header().Get("Content-Type"), "application/scim+json")

			var envelope ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
			assert.Equal(t, []string{SchemaError}, envelope.Schemas)
			assert.Equal(t, "401", envelope.Status)
		})
	}
}

func TestRateLimited(t *testing.T) {
	router, _ := newTestRouter(t, denyLimiter{})

	w := doRequest(router, http.MethodGet, "/scim/v2/Users", "", true)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	var envelope ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, "429", envelope.Status)
}

func TestListUsersEndpoint(t *testing.T) {
	router, _ := newTestRouter(t, allowLimiter{})

	w := doRequest(router, http.MethodGet, "/scim/v2/Users?count=2", "", true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/scim+json")

	var resp struct {
		Schemas      []string `json:"schemas"`
		TotalResults int      `json:"totalResults"`
		Resources    []User   `json:"Resources"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []string{SchemaListResponse}, resp.Schemas)
	assert.Equal(t, 3, resp.TotalResults)
	assert.Len(t, resp.Resources, 2)
}

func TestListUsersEndpointWithFilter(t *testing.T) {
	router, _ := newTestRouter(t, allowLimiter{})

	w := doRequest(router, http.MethodGet,
		"/scim/v2/Users?filter="+`userName+eq+%22admin%40example.com%22`, "", true)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Resources []User `json:"Resources"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Resources, 1)
	assert.Equal(t, "admin-1", resp.Resources[0].ID)
}

func TestInvalidFilterEndpoint(t *testing.T) {
	router, _ := newTestRouter(t, allowLimiter{})

	w := doRequest(router, http.MethodGet, "/scim/v2/Users?filter=displayName+eq+%22x%22", "", true)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var envelope ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, "invalidFilter", envelope.ScimType)
}

func TestGetUserEndpoint(t *testing.T) {
	router, _ := newTestRouter(t, allowLimiter{})

	w := doRequest(router, http.MethodGet, "/scim/v2/Users/admin-1", "", true)
	require.Equal(t, http.StatusOK, w.Code)

	var user User
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &user))
	assert.Equal(t, "admin-1", user.ID)

	w = doRequest(router, http.MethodGet, "/scim/v2/Users/nobody", "", true)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPatchUserEndpoint(t *testing.T) {
	router, store := newTestRouter(t, allowLimiter{})

	body := `{
		"schemas": ["urn:ietf:params:scim:api:messages:2.0:PatchOp"],
		"Operations": [{"op": "replace", "path": "active", "value": false}]
	}`
	w := doRequest(router, http.MethodPatch, "/scim/v2/Users/member-1", body, true)
	require.Equal(t, http.StatusOK, w.Code)

	var user User
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &user))
	assert.False(t, user.Active)

	m, err := store.Member(context.Background(), "team-1", "member-1")
	require.NoError(t, err)
	assert.False(t, m.Active())
}

func TestDeleteUserDeactivates(t *testing.T) {
	router, store := newTestRouter(t, allowLimiter{})

	w := doRequest(router, http.MethodDelete, "/scim/v2/Users/member-1", "", true)
	assert.Equal(t, http.StatusNoContent, w.Code)

	m, err := store.Member(context.Background(), "team-1", "member-1")
	require.NoError(t, err)
	assert.False(t, m.Active())
}

func TestPostUsersNotAllowed(t *testing.T) {
	router, _ := newTestRouter(t, allowLimiter{})

	w := doRequest(router, http.MethodPost, "/scim/v2/Users", `{"userName":"x@y.z"}`, true)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestGroupEndpoints(t *testing.T) {
	router, _ := newTestRouter(t, allowLimiter{})

	w := doRequest(router, http.MethodGet, "/scim/v2/Groups", "", true)
	require.Equal(t, http.StatusOK, w.Code)

	var list struct {
		TotalResults int     `json:"totalResults"`
		Resources    []Group `json:"Resources"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 4, list.TotalResults)

	adminID := GroupID("team-1", directory.RoleAdmin)
	w = doRequest(router, http.MethodGet, "/scim/v2/Groups/"+adminID, "", true)
	require.Equal(t, http.StatusOK, w.Code)

	var group Group
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &group))
	assert.Equal(t, "platform:ADMIN", group.DisplayName)
}

func TestPutGroupEndpoint(t *testing.T) {
	router, store := newTestRouter(t, allowLimiter{})

	adminID := GroupID("team-1", directory.RoleAdmin)
	body := `{
		"displayName": "platform:ADMIN",
		"members": [{"value": "new-user"}]
	}`
	w := doRequest(router, http.MethodPut, "/scim/v2/Groups/"+adminID, body, true)
	require.Equal(t, http.StatusOK, w.Code)

	var group Group
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &group))
	require.Len(t, group.Members, 1)
	assert.Equal(t, "new-user", group.Members[0].Value)

	demoted, err := store.Member(context.Background(), "team-1", "admin-1")
	require.NoError(t, err)
	assert.Equal(t, directory.DefaultRole, demoted.Role)
}

func TestPatchGroupEndpointBracketRemove(t *testing.T) {
	router, store := newTestRouter(t, allowLimiter{})

	adminID := GroupID("team-1", directory.RoleAdmin)
	body := `{
		"schemas": ["urn:ietf:params:scim:api:messages:2.0:PatchOp"],
		"Operations": [{"op": "remove", "path": "members[value eq \"admin-1\"]"}]
	}`
	w := doRequest(router, http.MethodPatch, "/scim/v2/Groups/"+adminID, body, true)
	require.Equal(t, http.StatusOK, w.Code)

	var group Group
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &group))
	assert.Len(t, group.Members, 0)

	m, err := store.Member(context.Background(), "team-1", "admin-1")
	require.NoError(t, err)
	assert.Equal(t, directory.DefaultRole, m.Role)
}

func TestPutOwnerGroupForbidden(t *testing.T) {
	router, _ := newTestRouter(t, allowLimiter{})

	ownerID := GroupID("team-1", directory.RoleOwner)
	w := doRequest(router, http.MethodPut, "/scim/v2/Groups/"+ownerID, `{"members": []}`, true)
	assert.Equal(t, http.StatusForbidden, w.Code)

	var envelope ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, "mutability", envelope.ScimType)
}

func TestPatchGroupUnknownMember(t *testing.T) {
	router, _ := newTestRouter(t, allowLimiter{})

	adminID := GroupID("team-1", directory.RoleAdmin)
	body := `{
		"Operations": [{"op": "add", "path": "members", "value": [{"value": "no-such-user"}]}]
	}`
	w := doRequest(router, http.MethodPatch, "/scim/v2/Groups/"+adminID, body, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var envelope ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, "Referenced member does not exist", envelope.Detail)
}

func TestGroupMutationMethodsNotAllowed(t *testing.T) {
	router, _ := newTestRouter(t, allowLimiter{})

	w := doRequest(router, http.MethodPost, "/scim/v2/Groups", `{"displayName":"x"}`, true)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	adminID := GroupID("team-1", directory.RoleAdmin)
	w = doRequest(router, http.MethodDelete, "/scim/v2/Groups/"+adminID, "", true)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestMalformedJSONBody(t *testing.T) {
	router, _ := newTestRouter(t, allowLimiter{})

	w := doRequest(router, http.MethodPatch, "/scim/v2/Users/member-1", `{not json`, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var envelope ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, "invalidSyntax", envelope.ScimType)
}

func TestServiceProviderConfigEndpoint(t *testing.T) {
	router, _ := newTestRouter(t, allowLimiter{})

	w := doRequest(router, http.MethodGet, "/scim/v2/ServiceProviderConfig", "", true)
	require.Equal(t, http.StatusOK, w.Code)

	var cfg ServiceProviderConfig
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cfg))
	assert.Equal(t, []string{SchemaServiceConfig}, cfg.Schemas)
	assert.True(t, cfg.Patch.Supported)
	assert.False(t, cfg.Bulk.Supported)
}
