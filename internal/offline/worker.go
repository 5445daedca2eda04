package offline

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"quiz-offline-service/internal/metrics"
)

// State is a worker's position in its lifecycle.
type State string

const (
	StateUninstalled State = "uninstalled"
	StateInstalling  State = "installing"
	StateInstalled   State = "installed"
	StateActivating  State = "activating"
	StateActive      State = "active"
	StateRedundant   State = "redundant"
)

var allStates = []string{
	string(StateUninstalled),
	string(StateInstalling),
	string(StateInstalled),
	string(StateActivating),
	string(StateActive),
	string(StateRedundant),
}

// SourceHeader tells clients where a response came from.
const SourceHeader = "X-Offline-Source"

const (
	SourceNetwork     = "network"
	SourceCache       = "cache"
	SourceAppShell    = "app-shell"
	SourceOffline     = "offline"
	SourcePlaceholder = "placeholder"
	SourcePassthrough = "passthrough"
	SourceNone        = "none"
)

// Scope is the host side a worker talks back to during its lifecycle.
type Scope interface {
	// SkipWaiting asks the host to activate the worker without waiting for the
	// clients of the current version to go away.
	SkipWaiting()
	// Claim makes the worker the controller of every known client.
	Claim(ctx context.Context) error
}

// Options configures a Worker. URLs are absolute.
type Options struct {
	Namespace      string
	Precache       []string
	AppShellURL    string
	OfflineURL     string
	PlaceholderURL string
	APIPrefix      string
	// CacheNavigations stores successful navigation responses in the namespace.
	CacheNavigations bool
	// NavigationTimeout bounds the network attempt of a navigation before falling
	// back to the cache. Zero means no bound.
	NavigationTimeout   time.Duration
	PrecacheConcurrency int
	// WaitForClients keeps an installed worker waiting until the previous version
	// controls no clients, instead of asking to skip the waiting phase.
	WaitForClients bool
}

// InstallReport lists what the install step managed to pre-cache.
type InstallReport struct {
	Namespace string
	Cached    []string
	Failed    []string
}

// ActivateReport lists the stale namespaces removed at activation.
type ActivateReport struct {
	Namespace string
	Deleted   []string
}

// Worker is one version of the offline cache manager. Its three event handlers are
// invoked by a Host, or directly in tests.
type Worker struct {
	opts    Options
	storage Storage
	network Fetcher
	router  router
	logger  *zap.Logger
	metrics *metrics.Recorder
	clock   func() time.Time

	mu          sync.RWMutex
	state       State
	scope       Scope
	skipWaiting bool
}

func NewWorker(storage Storage, network Fetcher, opts Options, logger *zap.Logger, rec *metrics.Recorder) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.PrecacheConcurrency <= 0 {
		opts.PrecacheConcurrency = 4
	}
	opts.Precache = precacheList(opts)
	w := &Worker{
		opts:    opts,
		storage: storage,
		network: network,
		router:  newRouter(opts.APIPrefix),
		logger:  logger.With(zap.String("namespace", opts.Namespace)),
		metrics: rec,
		clock:   time.Now,
		state:   StateUninstalled,
	}
	rec.SetWorkerState(opts.Namespace, string(StateUninstalled), allStates)
	return w
}

// precacheList appends the fallback resources to the asset list, without duplicates.
func precacheList(opts Options) []string {
	seen := make(map[string]bool)
	out := make([]string, 0, len(opts.Precache)+3)
	for _, raw := range append(append([]string(nil), opts.Precache...), opts.AppShellURL, opts.OfflineURL, opts.PlaceholderURL) {
		raw = strings.TrimSpace(raw)
		if raw == "" || seen[raw] {
			continue
		}
		seen[raw] = true
		out = append(out, raw)
	}
	return out
}

// Namespace is the cache generation this worker owns.
func (w *Worker) Namespace() string {
	return w.opts.Namespace
}

func (w *Worker) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
	w.metrics.SetWorkerState(w.opts.Namespace, string(s), allStates)
	w.logger.Debug("worker state", zap.String("state", string(s)))
}

// Attach binds the worker to its host.
func (w *Worker) Attach(scope Scope) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.scope = scope
}

func (w *Worker) currentScope() Scope {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.scope
}

// SkipWaitingRequested reports whether install asked for immediate activation.
func (w *Worker) SkipWaitingRequested() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.skipWaiting
}

// Classify exposes the strategy the worker would pick for req.
func (w *Worker) Classify(req *http.Request) RequestClass {
	return w.router.classify(req)
}

// OnInstall opens the current namespace and pre-caches the asset list. A failed
// asset is logged and skipped; only cancellation of ctx fails the install.
func (w *Worker) OnInstall(ctx context.Context) (InstallReport, error) {
	w.setState(StateInstalling)
	report := InstallReport{Namespace: w.opts.Namespace}

	cache, err := w.storage.Open(ctx, w.opts.Namespace)
	if err != nil {
		w.logger.Warn("open cache namespace failed, nothing pre-cached", zap.Error(err))
		report.Failed = append(report.Failed, w.opts.Precache...)
	} else {
		var mu sync.Mutex
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(w.opts.PrecacheConcurrency)
		for _, asset := range w.opts.Precache {
			asset := asset
			g.Go(func() error {
				ok := w.precacheOne(gctx, cache, asset)
				w.metrics.ObservePrecache(ok)
				mu.Lock()
				if ok {
					report.Cached = append(report.Cached, asset)
				} else {
					report.Failed = append(report.Failed, asset)
				}
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
	}

	if err := ctx.Err(); err != nil {
		w.setState(StateRedundant)
		return report, fmt.Errorf("install %s: %w", w.opts.Namespace, err)
	}

	w.logger.Info("worker installed",
		zap.Int("cached", len(report.Cached)),
		zap.Int("failed", len(report.Failed)))
	w.setState(StateInstalled)
	if w.opts.WaitForClients {
		return report, nil
	}

	w.mu.Lock()
	w.skipWaiting = true
	scope := w.scope
	w.mu.Unlock()
	if scope != nil {
		scope.SkipWaiting()
	}
	return report, nil
}

func (w *Worker) precacheOne(ctx context.Context, cache Cache, asset string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, asset, nil)
	if err != nil {
		w.logger.Warn("pre-cache: bad asset url", zap.String("url", asset), zap.Error(err))
		return false
	}
	resp, err := w.network.Do(req)
	if err != nil {
		w.logger.Warn("pre-cache: fetch failed", zap.String("url", asset), zap.Error(err))
		return false
	}
	snap, err := NewSnapshot(req, resp, w.clock())
	if err != nil {
		w.logger.Warn("pre-cache: read failed", zap.String("url", asset), zap.Error(err))
		return false
	}
	if !snap.OK() {
		w.logger.Warn("pre-cache: unexpected status", zap.String("url", asset), zap.Int("status", snap.Status))
		return false
	}
	if err := cache.Put(ctx, RequestKey(req), snap); err != nil {
		w.logger.Warn("pre-cache: store failed", zap.String("url", asset), zap.Error(err))
		return false
	}
	return true
}

// OnActivate deletes every namespace other than the current one and claims all
// clients. Delete failures are logged; the stale generation will be retried on the
// next activation.
func (w *Worker) OnActivate(ctx context.Context) (ActivateReport, error) {
	w.setState(StateActivating)
	report := ActivateReport{Namespace: w.opts.Namespace}

	names, err := w.storage.Keys(ctx)
	if err != nil {
		w.logger.Warn("list cache namespaces failed", zap.Error(err))
	}
	for _, name := range names {
		if name == w.opts.Namespace {
			continue
		}
		deleted, err := w.storage.Delete(ctx, name)
		if err != nil {
			w.logger.Warn("delete stale namespace failed", zap.String("stale", name), zap.Error(err))
			continue
		}
		if deleted {
			report.Deleted = append(report.Deleted, name)
			w.metrics.ObserveNamespaceDeleted()
			w.logger.Info("deleted stale namespace", zap.String("stale", name))
		}
	}
	if _, err := w.storage.Open(ctx, w.opts.Namespace); err != nil {
		w.logger.Warn("open current namespace failed", zap.Error(err))
	}

	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("activate %s: %w", w.opts.Namespace, err)
	}

	if scope := w.currentScope(); scope != nil {
		if err := scope.Claim(ctx); err != nil {
			w.logger.Warn("claim clients failed", zap.Error(err))
		}
	}
	w.setState(StateActive)
	return report, nil
}

// OnFetch answers one request. Errors are only returned for passthrough requests;
// everything else resolves to some response through the fallback chain.
func (w *Worker) OnFetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	class := w.router.classify(req)
	var (
		resp   *http.Response
		source string
		err    error
	)
	switch class {
	case ClassPassthrough:
		resp, err = w.network.Do(req.WithContext(ctx))
		source = SourcePassthrough
	case ClassNavigation:
		resp, source = w.networkFirst(ctx, req)
	case ClassItem:
		id, _ := w.router.itemID(req.URL.Path)
		resp, source = w.cacheFirst(ctx, req, w.router.itemKey(req, id), false)
	case ClassImage:
		resp, source = w.cacheFirst(ctx, req, RequestKey(req), true)
	default:
		resp, source = w.cacheFirst(ctx, req, RequestKey(req), false)
	}
	w.metrics.ObserveFetch(string(class), source)
	if err != nil {
		return nil, err
	}
	resp.Header.Set(SourceHeader, source)
	return resp, nil
}

func (w *Worker) networkFirst(ctx context.Context, req *http.Request) (*http.Response, string) {
	snap, err := w.fetchSnapshot(ctx, req)
	if err == nil {
		if w.opts.CacheNavigations && snap.OK() {
			w.store(ctx, RequestKey(req), snap)
		}
		return snap.Response(req), SourceNetwork
	}
	w.logger.Debug("navigation network failure", zap.String("url", req.URL.String()), zap.Error(err))

	if resp, ok := w.matchURL(ctx, req, w.opts.AppShellURL); ok {
		return resp, SourceAppShell
	}
	return w.offlineFallback(ctx, req, false)
}

func (w *Worker) fetchSnapshot(ctx context.Context, req *http.Request) (Snapshot, error) {
	if w.opts.NavigationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.opts.NavigationTimeout)
		defer cancel()
	}
	resp, err := w.network.Do(req.WithContext(ctx))
	if err != nil {
		return Snapshot{}, err
	}
	return NewSnapshot(req, resp, w.clock())
}

func (w *Worker) cacheFirst(ctx context.Context, req *http.Request, key string, image bool) (*http.Response, string) {
	if resp, ok := w.match(ctx, req, key); ok {
		return resp, SourceCache
	}

	resp, err := w.network.Do(req.WithContext(ctx))
	if err != nil {
		w.logger.Debug("resource network failure", zap.String("url", req.URL.String()), zap.Error(err))
		return w.offlineFallback(ctx, req, image)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, SourceNetwork
	}
	snap, err := NewSnapshot(req, resp, w.clock())
	if err != nil {
		w.logger.Debug("resource read failure", zap.String("url", req.URL.String()), zap.Error(err))
		return w.offlineFallback(ctx, req, image)
	}
	w.store(ctx, key, snap)
	return snap.Response(req), SourceNetwork
}

func (w *Worker) offlineFallback(ctx context.Context, req *http.Request, image bool) (*http.Response, string) {
	if image {
		if resp, ok := w.matchURL(ctx, req, w.opts.PlaceholderURL); ok {
			return resp, SourcePlaceholder
		}
	}
	if resp, ok := w.matchURL(ctx, req, w.opts.OfflineURL); ok {
		return resp, SourceOffline
	}
	return unavailable(req), SourceNone
}

func (w *Worker) matchURL(ctx context.Context, req *http.Request, rawURL string) (*http.Response, bool) {
	if rawURL == "" {
		return nil, false
	}
	key, err := URLKey(rawURL)
	if err != nil {
		return nil, false
	}
	return w.match(ctx, req, key)
}

func (w *Worker) match(ctx context.Context, req *http.Request, key string) (*http.Response, bool) {
	cache, err := w.storage.Open(ctx, w.opts.Namespace)
	if err != nil {
		w.logger.Warn("open cache namespace failed", zap.Error(err))
		return nil, false
	}
	snap, ok, err := cache.Match(ctx, key)
	if err != nil {
		w.logger.Warn("cache match failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	return snap.Response(req), true
}

// store writes snap under key. Failures never reach the caller.
func (w *Worker) store(ctx context.Context, key string, snap Snapshot) {
	cache, err := w.storage.Open(ctx, w.opts.Namespace)
	if err == nil {
		err = cache.Put(ctx, key, snap)
	}
	w.metrics.ObserveCacheWrite(err == nil)
	if err != nil {
		w.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}

const unavailablePage = `<!doctype html><html><head><title>Offline</title></head>` +
	`<body><h1>You are offline</h1><p>This page is not available offline yet.</p></body></html>`

func unavailable(req *http.Request) *http.Response {
	snap := Snapshot{
		Status: http.StatusServiceUnavailable,
		Header: http.Header{"Content-Type": []string{"text/html; charset=utf-8"}},
		Body:   []byte(unavailablePage),
	}
	return snap.Response(req)
}
