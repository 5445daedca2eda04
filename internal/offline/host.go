package offline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrNoController is returned by Fetch when a passthrough request fails and no
// worker controls the client.
var ErrNoController = errors.New("no controlling worker")

// Host drives worker lifecycles and dispatches fetch events, the role a browser
// plays for a service worker. Clients are page ids; a client is controlled by the
// worker that was active when it first appeared, or by whichever worker claims it.
type Host struct {
	network Fetcher
	logger  *zap.Logger
	idle    time.Duration
	now     func() time.Time

	mu      sync.Mutex
	active  *Worker
	waiting *Worker
	clients map[string]*client
	pruned  time.Time
}

type client struct {
	controller *Worker
	seen       time.Time
}

// HostOption customizes a Host.
type HostOption func(*Host)

// WithClientIdleTimeout forgets clients that made no request for d, as if they had
// been released. Zero keeps clients until Release.
func WithClientIdleTimeout(d time.Duration) HostOption {
	return func(h *Host) { h.idle = d }
}

// WithHostClock is test-only.
func WithHostClock(now func() time.Time) HostOption {
	return func(h *Host) { h.now = now }
}

func NewHost(network Fetcher, logger *zap.Logger, opts ...HostOption) *Host {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Host{
		network: network,
		logger:  logger,
		now:     time.Now,
		clients: make(map[string]*client),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// registration is the Scope handed to a worker.
type registration struct {
	host   *Host
	worker *Worker
}

func (r *registration) SkipWaiting() {}

func (r *registration) Claim(ctx context.Context) error {
	return r.host.claim(ctx, r.worker)
}

// Register installs w and activates it when nothing is active or when it asked to
// skip waiting. Otherwise w waits until the active worker controls no clients.
// Install and activation are awaited before Register returns.
func (h *Host) Register(ctx context.Context, w *Worker) error {
	w.Attach(&registration{host: h, worker: w})

	if _, err := w.OnInstall(ctx); err != nil {
		return err
	}

	h.mu.Lock()
	if h.active != nil && !w.SkipWaitingRequested() {
		if h.waiting != nil && h.waiting != w {
			h.waiting.setState(StateRedundant)
		}
		h.waiting = w
		h.mu.Unlock()
		h.logger.Info("worker waiting", zap.String("namespace", w.Namespace()))
		return h.promoteIfIdle(ctx)
	}
	h.mu.Unlock()
	return h.activate(ctx, w)
}

func (h *Host) activate(ctx context.Context, w *Worker) error {
	h.mu.Lock()
	prev := h.active
	h.active = w
	if h.waiting == w {
		h.waiting = nil
	}
	h.mu.Unlock()

	if prev != nil && prev != w {
		prev.setState(StateRedundant)
	}
	if _, err := w.OnActivate(ctx); err != nil {
		return err
	}
	h.logger.Info("worker active", zap.String("namespace", w.Namespace()))
	return nil
}

// promoteIfIdle activates the waiting worker once no client is controlled by the
// active one.
func (h *Host) promoteIfIdle(ctx context.Context) error {
	h.mu.Lock()
	waiting := h.waiting
	if waiting == nil {
		h.mu.Unlock()
		return nil
	}
	for _, c := range h.clients {
		if c.controller != nil && c.controller == h.active {
			h.mu.Unlock()
			return nil
		}
	}
	h.mu.Unlock()
	return h.activate(ctx, waiting)
}

func (h *Host) claim(_ context.Context, w *Worker) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.clients {
		c.controller = w
	}
	return nil
}

// Fetch dispatches req on behalf of clientID. An empty clientID is an anonymous,
// untracked page controlled by the active worker.
func (h *Host) Fetch(ctx context.Context, clientID string, req *http.Request) (*http.Response, error) {
	now := h.now()
	h.mu.Lock()
	expired := h.pruneLocked(now)
	h.mu.Unlock()
	if expired > 0 {
		h.logger.Debug("idle clients forgotten", zap.Int("count", expired))
		if err := h.promoteIfIdle(ctx); err != nil {
			h.logger.Warn("activate waiting worker", zap.Error(err))
		}
	}

	h.mu.Lock()
	controller := h.active
	if clientID != "" {
		c, known := h.clients[clientID]
		if !known {
			c = &client{controller: h.active}
			h.clients[clientID] = c
		}
		c.seen = now
		controller = c.controller
	}
	h.mu.Unlock()

	if controller == nil {
		resp, err := h.network.Do(req.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoController, err)
		}
		resp.Header.Set(SourceHeader, SourcePassthrough)
		return resp, nil
	}
	return controller.OnFetch(ctx, req)
}

// pruneLocked drops clients idle for longer than the idle timeout, scanning at
// most twice per timeout. h.mu must be held.
func (h *Host) pruneLocked(now time.Time) int {
	if h.idle <= 0 || now.Sub(h.pruned) < h.idle/2 {
		return 0
	}
	h.pruned = now
	n := 0
	for id, c := range h.clients {
		if now.Sub(c.seen) > h.idle {
			delete(h.clients, id)
			n++
		}
	}
	return n
}

// Release forgets a client page, which may let a waiting worker activate.
func (h *Host) Release(ctx context.Context, clientID string) error {
	h.mu.Lock()
	delete(h.clients, clientID)
	h.mu.Unlock()
	return h.promoteIfIdle(ctx)
}

func (h *Host) Active() *Worker {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.active
}

func (h *Host) Waiting() *Worker {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.waiting
}

// Controller returns the worker controlling clientID, nil when uncontrolled.
func (h *Host) Controller(clientID string) *Worker {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[clientID]; ok {
		return c.controller
	}
	return nil
}

// Clients returns the number of tracked client pages.
func (h *Host) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ClientFetcher exposes a host as a Fetcher for in-process consumers, so their
// requests take the same cache path as a client page's.
type ClientFetcher struct {
	Host     *Host
	ClientID string
}

func (f ClientFetcher) Do(req *http.Request) (*http.Response, error) {
	return f.Host.Fetch(req.Context(), f.ClientID, req)
}
