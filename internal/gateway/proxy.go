package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noteforge/noteforge/internal/authclient"
	"github.com/noteforge/noteforge/internal/models"
	"github.com/noteforge/noteforge/pkg/config"
	appErrors "github.com/noteforge/noteforge/pkg/errors"
	"github.com/noteforge/noteforge/pkg/middleware/requestid"
	"github.com/noteforge/noteforge/pkg/response"
)

// Identity headers injected for downstream services. Inbound values are
// always stripped first: only the gateway may assert identity.
const (
	HeaderUserID    = "X-Auth-User-Id"
	HeaderUserEmail = "X-Auth-User-Email"
	HeaderUserRole  = "X-Auth-User-Role"
)

type backend struct {
	prefix string
	proxy  *httputil.ReverseProxy
}

// Proxy is the single entry point of the platform: it terminates client
// traffic, enforces authentication on protected routes, and forwards requests
// to the owning service with the validated identity attached.
type Proxy struct {
	validator authclient.Validator
	backends  []backend
	public    []string
	logger    *zap.Logger
}

// New builds the gateway from the static route table. Backends with an empty
// URL are left unrouted.
func New(cfg config.GatewayConfig, validator authclient.Validator, logger *zap.Logger) (*Proxy, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	table := []struct {
		prefix string
		raw    string
	}{
		{"/auth", cfg.AuthServiceURL},
		{"/users", cfg.UserServiceURL},
		{"/notes", cfg.NotesServiceURL},
		{"/tags", cfg.TagsServiceURL},
	}

	p := &Proxy{validator: validator, public: cfg.PublicRoutes, logger: logger}
	for _, entry := range table {
		if entry.raw == "" {
			continue
		}
		target, err := url.Parse(entry.raw)
		if err != nil {
			return nil, err
		}
		rp := httputil.NewSingleHostReverseProxy(target)
		rp.ErrorHandler = p.upstreamError(entry.prefix)
		p.backends = append(p.backends, backend{prefix: entry.prefix, proxy: rp})
	}
	return p, nil
}

// Handler returns the gin handler that routes and forwards requests. It is
// mounted with a wildcard so the gateway owns the whole path space.
func (p *Proxy) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		stripIdentityHeaders(c.Request)

		target := p.route(c.Request.URL.Path)
		if target == nil {
			response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "no route for path"))
			return
		}

		if !p.isPublic(c.Request.URL.Path) {
			principal, err := p.authenticate(c)
			if err != nil {
				response.Error(c, err)
				return
			}
			injectIdentity(c.Request, principal)
		}

		if rid := requestid.Value(c); rid != "" {
			c.Request.Header.Set(requestid.Header, rid)
		}

		target.proxy.ServeHTTP(c.Writer, c.Request)
	}
}

func (p *Proxy) authenticate(c *gin.Context) (*models.Principal, error) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "missing authorization header")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid authorization header")
	}
	return p.validator.Validate(parts[1])
}

func (p *Proxy) route(path string) *backend {
	for i := range p.backends {
		b := &p.backends[i]
		if path == b.prefix || strings.HasPrefix(path, b.prefix+"/") {
			return b
		}
	}
	return nil
}

func (p *Proxy) isPublic(path string) bool {
	for _, route := range p.public {
		if path == route || strings.HasPrefix(path, route+"/") {
			return true
		}
	}
	return false
}

func (p *Proxy) upstreamError(prefix string) func(http.ResponseWriter, *http.Request, error) {
	return func(w http.ResponseWriter, r *http.Request, err error) {
		p.logger.Error("upstream request failed",
			zap.String("prefix", prefix),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		appErr := appErrors.Clone(appErrors.ErrUnavailable, "upstream service unavailable")
		_ = json.NewEncoder(w).Encode(response.Envelope{Error: appErr})
	}
}

func injectIdentity(r *http.Request, principal *models.Principal) {
	r.Header.Set(HeaderUserID, principal.UserID)
	r.Header.Set(HeaderUserEmail, principal.Email)
	r.Header.Set(HeaderUserRole, string(principal.Role))
}

func stripIdentityHeaders(r *http.Request) {
	r.Header.Del(HeaderUserID)
	r.Header.Del(HeaderUserEmail)
	r.Header.Del(HeaderUserRole)
}
