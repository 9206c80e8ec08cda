package scim

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ngc-shj/passwd-sso-sub002/internal/auth"
	"github.com/ngc-shj/passwd-sso-sub002/internal/metrics"
	"github.com/ngc-shj/passwd-sso-sub002/internal/ratelimit"
)

// authContextKey is the gin context key holding the resolved *auth.Context.
const authContextKey = "scim.authContext"

// Handler exposes the SCIM endpoints. Every route runs behind token
// resolution and the per-scope rate limiter, in that order.
type Handler struct {
	service  *Service
	resolver auth.Resolver
	limiter  ratelimit.Limiter
	logger   *zap.Logger
}

// NewHandler wires the HTTP surface.
func NewHandler(service *Service, resolver auth.Resolver, limiter ratelimit.Limiter, logger *zap.Logger) *Handler {
	return &Handler{
		service:  service,
		resolver: resolver,
		limiter:  limiter,
		logger:   logger.With(zap.String("component", "scim_http")),
	}
}

// RegisterRoutes mounts the SCIM surface under /scim/v2.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	g := r.Group("/scim/v2")
	g.Use(h.authenticate(), h.throttle())

	g.GET("/ServiceProviderConfig", h.serviceProviderConfig)

	g.GET("/Users", h.track("User", "list", h.listUsers))
	g.POST("/Users", h.methodNotAllowed("account creation is not provisioned through this endpoint"))
	g.GET("/Users/:id", h.track("User", "get", h.getUser))
	g.PUT("/Users/:id", h.track("User", "replace", h.putUser))
	g.PATCH("/Users/:id", h.track("User", "patch", h.patchUser))
	g.DELETE("/Users/:id", h.track("User", "delete", h.deleteUser))

	g.GET("/Groups", h.track("Group", "list", h.listGroups))
	g.POST("/Groups", h.methodNotAllowed("role groups are derived and cannot be created"))
	g.GET("/Groups/:id", h.track("Group", "get", h.getGroup))
	g.PUT("/Groups/:id", h.track("Group", "replace", h.putGroup))
	g.PATCH("/Groups/:id", h.track("Group", "patch", h.patchGroup))
	g.DELETE("/Groups/:id", h.methodNotAllowed("role groups are derived and cannot be deleted"))
}

// track records the per-operation outcome counter after the handler runs.
func (h *Handler) track(resource, operation string, fn gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		fn(c)
		outcome := "success"
		if c.Writer.Status() >= http.StatusBadRequest {
			outcome = "error"
		}
		metrics.RecordProvisioningOp(resource, operation, outcome)
	}
}

// ============================================================
// Middleware
// ============================================================

func (h *Handler) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			h.abortError(c, E(KindAuthInvalid, "missing bearer token"))
			return
		}
		ac, err := h.resolver.Resolve(c.Request.Context(), token)
		if err != nil {
			h.abortError(c, E(KindAuthInvalid, "invalid provisioning token"))
			return
		}
		c.Set(authContextKey, ac)
		c.Next()
	}
}

func (h *Handler) throttle() gin.HandlerFunc {
	return func(c *gin.Context) {
		ac := authContext(c)
		allowed, err := h.limiter.Allow(c.Request.Context(), "scim:"+ac.ScopeID)
		if err != nil {
			h.logger.Warn("rate limiter error", zap.Error(err))
			allowed = true
		}
		if !allowed {
			h.abortError(c, E(KindRateLimited, "Rate limit exceeded"))
			return
		}
		c.Next()
	}
}

func authContext(c *gin.Context) *auth.Context {
	return c.MustGet(authContextKey).(*auth.Context)
}

// ============================================================
// Users
// ============================================================

func (h *Handler) listUsers(c *gin.Context) {
	startIndex := intQuery(c, "startIndex", 1)
	count := intQuery(c, "count", defaultPageSize)

	resp, err := h.service.ListUsers(c.Request.Context(), authContext(c), c.Query("filter"), startIndex, count)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.respond(c, http.StatusOK, resp)
}

func (h *Handler) getUser(c *gin.Context) {
	user, err := h.service.GetUser(c.Request.Context(), authContext(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.respond(c, http.StatusOK, user)
}

// putUserRequest is the subset of a PUT body this engine honors. Everything
// else in the document is IdP bookkeeping and ignored.
type putUserRequest struct {
	Active *bool `json:"active"`
	Name   *struct {
		Formatted *string `json:"formatted"`
	} `json:"name"`
}

func (h *Handler) putUser(c *gin.Context) {
	var body putUserRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		h.writeError(c, E(KindInvalidRequest, "malformed request body"))
		return
	}
	patch := UserPatch{Active: body.Active}
	if body.Name != nil && body.Name.Formatted != nil {
		patch.Name = body.Name.Formatted
	}

	user, err := h.service.UpdateUser(c.Request.Context(), authContext(c), c.Param("id"), patch)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.respond(c, http.StatusOK, user)
}

func (h *Handler) patchUser(c *gin.Context) {
	ops, ok := h.bindPatch(c)
	if !ok {
		return
	}
	patch, err := ParseUserPatch(ops)
	if err != nil {
		h.writeError(c, err)
		return
	}

	user, err := h.service.UpdateUser(c.Request.Context(), authContext(c), c.Param("id"), patch)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.respond(c, http.StatusOK, user)
}

func (h *Handler) deleteUser(c *gin.Context) {
	if err := h.service.DeactivateUser(c.Request.Context(), authContext(c), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ============================================================
// Groups
// ============================================================

func (h *Handler) listGroups(c *gin.Context) {
	resp, err := h.service.ListGroups(c.Request.Context(), authContext(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.respond(c, http.StatusOK, resp)
}

func (h *Handler) getGroup(c *gin.Context) {
	group, err := h.service.GetGroup(c.Request.Context(), authContext(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.respond(c, http.StatusOK, group)
}

type putGroupRequest struct {
	DisplayName string        `json:"displayName"`
	Members     []GroupMember `json:"members"`
}

func (h *Handler) putGroup(c *gin.Context) {
	var body putGroupRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		h.writeError(c, E(KindInvalidRequest, "malformed request body"))
		return
	}
	requested := make([]string, 0, len(body.Members))
	for _, m := range body.Members {
		if m.Value == "" {
			h.writeError(c, E(KindInvalidRequest, "member entries require a value"))
			return
		}
		requested = append(requested, m.Value)
	}

	group, err := h.service.ReplaceGroupMembers(c.Request.Context(), authContext(c), c.Param("id"), body.DisplayName, requested)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.respond(c, http.StatusOK, group)
}

func (h *Handler) patchGroup(c *gin.Context) {
	ops, ok := h.bindPatch(c)
	if !ok {
		return
	}
	actions, err := ParseGroupPatch(ops)
	if err != nil {
		h.writeError(c, err)
		return
	}

	group, err := h.service.ApplyGroupActions(c.Request.Context(), authContext(c), c.Param("id"), actions)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.respond(c, http.StatusOK, group)
}

// ============================================================
// Misc
// ============================================================

func (h *Handler) serviceProviderConfig(c *gin.Context) {
	h.respond(c, http.StatusOK, NewServiceProviderConfig())
}

func (h *Handler) methodNotAllowed(detail string) gin.HandlerFunc {
	return func(c *gin.Context) {
		h.writeError(c, E(KindMethodNotAllowed, "%s", detail))
	}
}

func (h *Handler) bindPatch(c *gin.Context) ([]PatchOp, bool) {
	var req PatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, E(KindInvalidRequest, "malformed request body"))
		return nil, false
	}
	if err := ValidatePatchSchemas(&req); err != nil {
		h.writeError(c, err)
		return nil, false
	}
	if len(req.Operations) == 0 {
		h.writeError(c, E(KindInvalidRequest, "patch request has no operations"))
		return nil, false
	}
	return req.Operations, true
}

// respond writes a success body with the SCIM media type. The header is set
// before c.JSON so gin keeps it instead of application/json.
func (h *Handler) respond(c *gin.Context, status int, body any) {
	c.Header("Content-Type", ContentType)
	c.JSON(status, body)
}

func (h *Handler) writeError(c *gin.Context, err error) {
	status, envelope := NewErrorResponse(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("method", c.Request.Method),
			zap.Error(err))
	}
	c.Header("Content-Type", ContentType)
	c.JSON(status, envelope)
}

func (h *Handler) abortError(c *gin.Context, err error) {
	status, envelope := NewErrorResponse(err)
	c.Header("Content-Type", ContentType)
	c.AbortWithStatusJSON(status, envelope)
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
