package offline

import (
	"net/http"
	"path"
	"regexp"
	"strings"
)

// RequestClass selects the caching strategy for a fetch event.
type RequestClass string

const (
	ClassPassthrough RequestClass = "passthrough"
	ClassNavigation  RequestClass = "navigation"
	ClassItem        RequestClass = "item"
	ClassCollection  RequestClass = "collection"
	ClassImage       RequestClass = "image"
	ClassAsset       RequestClass = "asset"
)

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".svg":  true,
	".webp": true,
	".ico":  true,
	".avif": true,
}

// Intercepts reports whether a request is eligible for caching at all: only
// idempotent reads over http(s).
func Intercepts(req *http.Request) bool {
	if req == nil || req.URL == nil {
		return false
	}
	if req.Method != http.MethodGet && req.Method != "" {
		return false
	}
	scheme := strings.ToLower(req.URL.Scheme)
	return scheme == "http" || scheme == "https"
}

// router recognizes the question API shapes under a configurable prefix.
type router struct {
	prefix     string
	item       *regexp.Regexp
	collection *regexp.Regexp
}

func newRouter(apiPrefix string) router {
	prefix := "/" + strings.Trim(apiPrefix, "/")
	if prefix == "/" {
		prefix = ""
	}
	quoted := regexp.QuoteMeta(prefix)
	return router{
		prefix:     prefix,
		item:       regexp.MustCompile("^" + quoted + "/questions/([^/]+)/?$"),
		collection: regexp.MustCompile("^" + quoted + "/questions/?$"),
	}
}

// itemID extracts the question id from a per-item API path.
func (r router) itemID(p string) (string, bool) {
	m := r.item.FindStringSubmatch(p)
	if m == nil {
		return "", false
	}
	return m[1], true
}

func (r router) classify(req *http.Request) RequestClass {
	if !Intercepts(req) {
		return ClassPassthrough
	}
	if IsNavigation(req) {
		return ClassNavigation
	}
	if _, ok := r.itemID(req.URL.Path); ok {
		return ClassItem
	}
	if r.collection.MatchString(req.URL.Path) {
		return ClassCollection
	}
	if isImage(req) {
		return ClassImage
	}
	return ClassAsset
}

// itemKey is the canonical cache key of a per-item request: the path form without
// query, so the ?questionId= retry shares the entry with the plain lookup.
func (r router) itemKey(req *http.Request, id string) string {
	u := *req.URL
	u.Path = r.prefix + "/questions/" + id
	u.RawPath = ""
	u.RawQuery = ""
	return http.MethodGet + " " + NormalizeURL(&u)
}

// IsNavigation reports whether req loads a page rather than a subresource.
func IsNavigation(req *http.Request) bool {
	if mode := req.Header.Get("Sec-Fetch-Mode"); mode != "" {
		return strings.EqualFold(mode, "navigate")
	}
	accept := req.Header.Get("Accept")
	return strings.Contains(accept, "text/html")
}

func isImage(req *http.Request) bool {
	if strings.EqualFold(req.Header.Get("Sec-Fetch-Dest"), "image") {
		return true
	}
	if strings.HasPrefix(req.Header.Get("Accept"), "image/") {
		return true
	}
	return imageExtensions[strings.ToLower(path.Ext(req.URL.Path))]
}
