package offline

import (
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// NormalizeURL lowercases scheme and host, drops the fragment and sorts the query so
// equivalent URLs share a cache entry.
func NormalizeURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	out := *u
	out.Scheme = strings.ToLower(out.Scheme)
	out.Host = strings.ToLower(out.Host)
	out.Fragment = ""
	out.RawFragment = ""

	query := out.Query()
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sorted strings.Builder
	for _, k := range keys {
		values := append([]string(nil), query[k]...)
		sort.Strings(values)
		for _, v := range values {
			if sorted.Len() > 0 {
				sorted.WriteByte('&')
			}
			sorted.WriteString(url.QueryEscape(k))
			sorted.WriteByte('=')
			sorted.WriteString(url.QueryEscape(v))
		}
	}
	out.RawQuery = sorted.String()
	out.ForceQuery = false
	return out.String()
}

// RequestKey identifies a cache entry by method and normalized URL.
func RequestKey(req *http.Request) string {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	return method + " " + NormalizeURL(req.URL)
}

// URLKey is RequestKey for a GET of rawURL.
func URLKey(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	return http.MethodGet + " " + NormalizeURL(u), nil
}
