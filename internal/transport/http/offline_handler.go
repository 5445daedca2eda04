package http

import (
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"quiz-offline-service/internal/offline"
)

// ClientCookie identifies a page to the offline host across requests.
const ClientCookie = "quiz_client"

var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// OfflineHandler forwards browser requests through the offline host: API paths go
// to the API origin, everything else to the app shell origin.
type OfflineHandler struct {
	host      *offline.Host
	shell     *url.URL
	api       *url.URL
	apiPrefix string
	logger    *zap.Logger
}

func NewOfflineHandler(host *offline.Host, shellOrigin, apiOrigin, apiPrefix string, logger *zap.Logger) (*OfflineHandler, error) {
	shell, err := url.Parse(shellOrigin)
	if err != nil {
		return nil, err
	}
	api := shell
	if apiOrigin != "" {
		if api, err = url.Parse(apiOrigin); err != nil {
			return nil, err
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix := "/" + strings.Trim(apiPrefix, "/")
	return &OfflineHandler{host: host, shell: shell, api: api, apiPrefix: prefix, logger: logger}, nil
}

// Register mounts the status routes and the catch-all proxy on mux.
func (h *OfflineHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /offline/status", h.status)
	mux.HandleFunc("POST /offline/release", h.release)
	mux.Handle("/", h)
}

func (h *OfflineHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientID := h.clientID(w, r)

	out, err := http.NewRequestWithContext(r.Context(), r.Method, h.target(r), r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorPayload{Message: err.Error()})
		return
	}
	out.Header = r.Header.Clone()
	for _, name := range hopHeaders {
		out.Header.Del(name)
	}

	resp, err := h.host.Fetch(r.Context(), clientID, out)
	if err != nil {
		h.logger.Warn("offline fetch failed", zap.String("url", out.URL.String()), zap.Error(err))
		writeJSON(w, http.StatusBadGateway, errorPayload{Message: "upstream unavailable"})
		return
	}
	defer resp.Body.Close()

	for name, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		h.logger.Debug("copy response body", zap.Error(err))
	}
}

func (h *OfflineHandler) target(r *http.Request) string {
	origin := h.shell
	if h.apiPrefix != "/" && (r.URL.Path == h.apiPrefix || strings.HasPrefix(r.URL.Path, h.apiPrefix+"/")) {
		origin = h.api
	}
	u := *origin
	u.Path = strings.TrimSuffix(origin.Path, "/") + r.URL.Path
	u.RawPath = ""
	u.RawQuery = r.URL.RawQuery
	return u.String()
}

// clientID reads the page id cookie, issuing one on first contact. Only a page
// navigation is tracked before the cookie comes back; other cookieless requests
// (API calls, scripts, health checks) are fetched anonymously so they never pile
// up as controlled clients.
func (h *OfflineHandler) clientID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(ClientCookie); err == nil && c.Value != "" {
		return c.Value
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     ClientCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	if !offline.IsNavigation(r) {
		return ""
	}
	return id
}

type workerStatus struct {
	Namespace string `json:"namespace"`
	State     string `json:"state"`
}

type statusResponse struct {
	Active     *workerStatus `json:"active"`
	Waiting    *workerStatus `json:"waiting"`
	Controlled bool          `json:"controlled"`
}

func describe(w *offline.Worker) *workerStatus {
	if w == nil {
		return nil
	}
	return &workerStatus{Namespace: w.Namespace(), State: string(w.State())}
}

func (h *OfflineHandler) status(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Active:  describe(h.host.Active()),
		Waiting: describe(h.host.Waiting()),
	}
	if c, err := r.Cookie(ClientCookie); err == nil {
		resp.Controlled = h.host.Controller(c.Value) != nil
	}
	writeJSON(w, http.StatusOK, resp)
}

// release is sent by a page being closed so a waiting version can take over.
func (h *OfflineHandler) release(w http.ResponseWriter, r *http.Request) {
	c, err := r.Cookie(ClientCookie)
	if err != nil || c.Value == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err := h.host.Release(r.Context(), c.Value); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
