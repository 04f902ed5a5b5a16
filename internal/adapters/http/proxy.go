package http

import (
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/melih/lighthouse/internal/core/domain"
	"github.com/melih/lighthouse/internal/core/ports"
)

// ProxyHandler manages reverse proxying for subdomains.
type ProxyHandler struct {
	service ports.ContainerService
	suffix  string
}

// NewProxyHandler creates a new proxy handler serving <name>.<baseDomain>.
func NewProxyHandler(service ports.ContainerService, baseDomain string) *ProxyHandler {
	if baseDomain == "" {
		baseDomain = "localhost"
	}
	return &ProxyHandler{service: service, suffix: "." + strings.ToLower(baseDomain)}
}

// ProxyRequest intercepts requests to subdomains (e.g., speakcheck.localhost)
// and routes them to the port the named service was launched on.
func (h *ProxyHandler) ProxyRequest(c *fiber.Ctx) error {
	host := strings.ToLower(c.Hostname())
	if hostOnly, _, err := net.SplitHostPort(host); err == nil {
		host = hostOnly
	}

	// 1. Extract Subdomain
	if !strings.HasSuffix(host, h.suffix) {
		return c.Next()
	}
	subdomain := strings.Split(strings.TrimSuffix(host, h.suffix), ".")[0]

	// Skip common subdomains or empty ones
	if subdomain == "www" || subdomain == "" {
		return c.Next()
	}

	// 2. Find Container by Name (Subdomain)
	containers, err := h.service.ListContainers(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).SendString("Failed to list containers")
	}

	target := findTarget(containers, subdomain)
	if target == "" {
		return c.Status(fiber.StatusNotFound).SendString(fmt.Sprintf("App '%s' not found or not running", subdomain))
	}

	// 3. Proxy the Request
	remote, err := url.Parse("http://" + target)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).SendString("Invalid target URL")
	}

	proxy := httputil.NewSingleHostReverseProxy(remote)

	// Rewrite Host so the service sees the address it is bound to.
	originalDirector := proxy.Director
	proxy.Director = func(req *http.Request) {
		originalDirector(req)
		req.Host = remote.Host
		req.URL.Host = remote.Host
		req.URL.Scheme = remote.Scheme
	}

	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(fmt.Sprintf("Proxy Info: target=%s error=%v", target, err)))
	}

	// Fiber <-> Net/HTTP Adaptor
	return adaptor.HTTPHandler(proxy)(c)
}

// findTarget returns host:port of the running container named name. The
// container network address is preferred; the published host port is the
// fallback.
func findTarget(containers []domain.Container, name string) string {
	for _, container := range containers {
		if container.Name != name || container.State != "running" {
			continue
		}
		port := container.Port
		if port == 0 {
			port = domain.DefaultPort
		}
		ip := container.IPAddress
		if ip == "" {
			ip = "127.0.0.1"
		}
		return net.JoinHostPort(ip, strconv.Itoa(port))
	}
	return ""
}
