package router

import (
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberutils "github.com/gofiber/fiber/v2/utils"
	"github.com/localnerve/jam-build-sitehost/internal/blob"
	"github.com/localnerve/jam-build-sitehost/internal/config"
	"github.com/localnerve/jam-build-sitehost/internal/middleware"
	"github.com/localnerve/jam-build-sitehost/internal/models"
	"github.com/localnerve/jam-build-sitehost/internal/registry"
	"github.com/localnerve/jam-build-sitehost/internal/types"
	gocache "github.com/patrickmn/go-cache"
	"gorm.io/gorm"
)

// Content cache TTLs. Entries are keyed by version id + path and version
// content is immutable, so expiry is purely a memory bound, never a
// correctness concern.
const (
	cacheExpiration      = 10 * time.Minute
	cacheCleanupInterval = 30 * time.Minute
)

type prefixRule struct {
	prefix string
	app    string
}

// Table resolves a request's host and path to an application. Host matches
// win over prefix matches; prefix matches are longest-first.
type Table struct {
	hosts    map[string]string
	prefixes []prefixRule
}

func NewTable(rules []config.RouteRule) *Table {
	t := &Table{hosts: make(map[string]string)}
	for _, r := range rules {
		if strings.HasPrefix(r.Match, "/") {
			t.prefixes = append(t.prefixes, prefixRule{
				prefix: strings.TrimSuffix(r.Match, "/"),
				app:    r.App,
			})
		} else {
			t.hosts[strings.ToLower(r.Match)] = r.App
		}
	}
	// Longest prefix first so /docs/api beats /docs.
	for i := 1; i < len(t.prefixes); i++ {
		for j := i; j > 0 && len(t.prefixes[j].prefix) > len(t.prefixes[j-1].prefix); j-- {
			t.prefixes[j], t.prefixes[j-1] = t.prefixes[j-1], t.prefixes[j]
		}
	}
	return t
}

// Resolve maps host+path to an application name and the path relative to
// the application root.
func (t *Table) Resolve(host, reqPath string) (string, string, bool) {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if app, ok := t.hosts[strings.ToLower(host)]; ok {
		return app, reqPath, true
	}
	for _, rule := range t.prefixes {
		if reqPath == rule.prefix || strings.HasPrefix(reqPath, rule.prefix+"/") {
			return rule.app, strings.TrimPrefix(reqPath, rule.prefix), true
		}
	}
	return "", "", false
}

// Router serves static content for the resolved application's active (or
// pinned) version. The read path takes no locks: version resolution is a
// plain registry read and content lookups hit the immutable cache or the
// store.
type Router struct {
	DB          *gorm.DB
	Store       *blob.Store
	Table       *Table
	FallbackDoc string
	MaxAge      int

	cache *gocache.Cache
}

func New(db *gorm.DB, store *blob.Store, table *Table, fallbackDoc string, maxAge int) *Router {
	return &Router{
		DB:          db,
		Store:       store,
		Table:       table,
		FallbackDoc: fallbackDoc,
		MaxAge:      maxAge,
		cache:       gocache.New(cacheExpiration, cacheCleanupInterval),
	}
}

// Serve handles the serving surface: arbitrary GET/HEAD resolved through
// the routing table. Failures are deliberately generic 404/400, never
// internal detail.
func (rt *Router) Serve(c *fiber.Ctx) error {
	if c.Method() != fiber.MethodGet && c.Method() != fiber.MethodHead {
		return c.SendStatus(fiber.StatusMethodNotAllowed)
	}

	appName, rel, ok := rt.Table.Resolve(c.Hostname(), c.Path())
	if !ok {
		return c.SendStatus(fiber.StatusNotFound)
	}

	version, err := rt.resolveVersion(c, appName)
	if err != nil || version == nil {
		return c.SendStatus(fiber.StatusNotFound)
	}

	rel = strings.TrimPrefix(rel, "/")
	if rel == "" {
		rel = rt.FallbackDoc
	}

	data, served, err := rt.lookup(version, rel)
	if err != nil {
		if types.IsCode(err, types.CodeInvalidPath) {
			return c.SendStatus(fiber.StatusBadRequest)
		}
		return c.SendStatus(fiber.StatusNotFound)
	}

	// Cache headers keyed by the resolved version, not the request path:
	// activating a new version changes the ETag and invalidates client
	// caches deterministically.
	etag := `"` + version.VersionID + `-` + served + `"`
	c.Set(fiber.HeaderETag, etag)
	c.Set(fiber.HeaderCacheControl, fmt.Sprintf("public, max-age=%d", rt.MaxAge))
	c.Set(middleware.PinHeader, version.VersionID)
	if etagMatches(c.Get(fiber.HeaderIfNoneMatch), etag) {
		return c.SendStatus(fiber.StatusNotModified)
	}

	ext := strings.TrimPrefix(filepath.Ext(served), ".")
	if mime := fiberutils.GetMIME(ext); mime != "" {
		c.Set(fiber.HeaderContentType, mime)
	}
	return c.Send(data)
}

// etagMatches implements the If-None-Match weak comparison: the header is a
// comma-separated candidate list, each optionally a weak validator, and any
// candidate matching the current ETag means not modified.
func etagMatches(header, etag string) bool {
	if header == "" {
		return false
	}
	if header == "*" {
		return true
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimPrefix(strings.TrimSpace(candidate), "W/")
		if candidate == etag {
			return true
		}
	}
	return false
}

// resolveVersion returns the pinned version when the request carries a pin
// header (validated to belong to the application), otherwise the active
// version. nil without error means no active version exists.
func (rt *Router) resolveVersion(c *fiber.Ctx, appName string) (*models.Version, error) {
	if pin, ok := c.Locals(middleware.PinnedVersionKey).(string); ok && pin != "" {
		return registry.GetVersion(rt.DB, appName, pin)
	}
	return registry.GetActive(rt.DB, appName)
}

// lookup fetches a file from the version's tree, consulting the immutable
// content cache first and falling back to the configured index document for
// unresolvable paths (single-page-application routing). It returns the path
// actually served.
func (rt *Router) lookup(version *models.Version, rel string) ([]byte, string, error) {
	data, err := rt.cachedGet(version, rel)
	if err == nil {
		return data, rel, nil
	}
	if types.IsCode(err, types.CodeNotFound) && rel != rt.FallbackDoc {
		data, ferr := rt.cachedGet(version, rt.FallbackDoc)
		if ferr == nil {
			return data, rt.FallbackDoc, nil
		}
	}
	return nil, "", err
}

func (rt *Router) cachedGet(version *models.Version, rel string) ([]byte, error) {
	clean, err := blob.CleanPath(rel)
	if err != nil {
		return nil, err
	}
	key := version.VersionID + ":" + clean
	if cached, ok := rt.cache.Get(key); ok {
		if data, ok := cached.([]byte); ok {
			return data, nil
		}
	}
	data, err := rt.Store.Get(version.ContentHash, clean)
	if err != nil {
		return nil, err
	}
	rt.cache.SetDefault(key, data)
	return data, nil
}
