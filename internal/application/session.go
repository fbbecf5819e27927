package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/paulmach/orb"

	"github.com/jobrunner/cuenca/internal/domain"
	"github.com/jobrunner/cuenca/internal/ports/input"
	"github.com/jobrunner/cuenca/internal/ports/output"
)

// Session defaults.
const (
	DefaultZoom          = 11
	DefaultRetryInterval = time.Minute
)

// DefaultCenter is the map center of the Río Chili watershed.
var DefaultCenter = orb.Point{-71.54, -16.42}

// SessionConfig holds configuration for the session manager.
type SessionConfig struct {
	RetryInterval time.Duration // 0 disables background re-open
	Center        orb.Point     // zero keeps the study-area centroid
	Zoom          int
}

// SessionManager owns the process-scoped session: it initializes the remote
// backend, loads the study area and publishes both as one immutable value.
type SessionManager struct {
	mu      sync.RWMutex
	state   domain.SessionState
	session *domain.Session
	lastErr error

	openMu  sync.Mutex
	backend output.ComputeBackend
	source  output.StudyAreaSource
	metrics output.MetricsCollector
	logger  *slog.Logger
	config  SessionConfig

	hooksMu sync.Mutex
	onOpen  []func(context.Context)

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewSessionManager creates a closed session manager.
func NewSessionManager(
	backend output.ComputeBackend,
	source output.StudyAreaSource,
	metrics output.MetricsCollector,
	logger *slog.Logger,
	cfg SessionConfig,
) *SessionManager {
	if cfg.Zoom == 0 {
		cfg.Zoom = DefaultZoom
	}
	return &SessionManager{
		state:   domain.SessionClosed,
		backend: backend,
		source:  source,
		metrics: metrics,
		logger:  logger,
		config:  cfg,
		stopCh:  make(chan struct{}),
	}
}

// Open initializes the backend and loads the study area. On failure the
// cause is recorded and every operation reports it until a later Open
// succeeds.
func (m *SessionManager) Open(ctx context.Context) error {
	m.openMu.Lock()
	defer m.openMu.Unlock()

	m.setState(domain.SessionOpening)
	m.logger.Info("opening session", "source", m.source.Describe())

	if err := m.backend.Initialize(ctx); err != nil {
		if !errors.Is(err, domain.ErrRemoteInitialization) {
			err = fmt.Errorf("%w: %w", domain.ErrRemoteInitialization, err)
		}
		m.fail(err)
		return err
	}

	area, err := m.loadArea(ctx)
	if err != nil {
		m.fail(err)
		return err
	}

	m.publish(&domain.Session{Area: area, OpenedAt: time.Now()})
	m.logger.Info("session open",
		"study_area", area.String(),
		"fingerprint", area.Fingerprint,
	)

	m.hooksMu.Lock()
	hooks := append([]func(context.Context){}, m.onOpen...)
	m.hooksMu.Unlock()
	for _, fn := range hooks {
		fn(ctx)
	}
	return nil
}

// OnOpen registers fn to run after every successful Open, including opens
// by the background retry loop. fn runs on the opening goroutine and must not
// call Open or Reload.
func (m *SessionManager) OnOpen(fn func(ctx context.Context)) {
	m.hooksMu.Lock()
	defer m.hooksMu.Unlock()
	m.onOpen = append(m.onOpen, fn)
}

// Reload reloads the study area of an open session. A failed reload keeps
// the previous study area.
func (m *SessionManager) Reload(ctx context.Context) error {
	m.openMu.Lock()
	defer m.openMu.Unlock()

	current, err := m.Current()
	if err != nil {
		return err
	}

	area, err := m.loadArea(ctx)
	if err != nil {
		m.mu.Lock()
		m.lastErr = err
		m.mu.Unlock()
		m.logger.Warn("study area reload failed, keeping previous", "error", err)
		return err
	}

	m.publish(&domain.Session{Area: area, OpenedAt: current.OpenedAt})
	m.logger.Info("study area reloaded",
		"study_area", area.String(),
		"fingerprint", area.Fingerprint,
		"changed", area.Fingerprint != current.Area.Fingerprint,
	)
	return nil
}

// Current implements input.SessionManager.
func (m *SessionManager) Current() (*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.state == domain.SessionOpen && m.session != nil {
		return m.session, nil
	}
	if m.lastErr != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrNotReady, m.lastErr)
	}
	return nil, fmt.Errorf("%w: session %s", domain.ErrNotReady, m.state)
}

// Status implements input.SessionManager.
func (m *SessionManager) Status() input.SessionStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := input.SessionStatus{
		State:  m.state,
		Source: m.source.Describe(),
	}
	if m.session != nil {
		st.StudyArea = m.session.Area.String()
		st.OpenedAt = m.session.OpenedAt
	}
	if m.lastErr != nil {
		st.LastError = m.lastErr.Error()
	}
	return st
}

// Close tears the session down.
func (m *SessionManager) Close() {
	m.mu.Lock()
	m.state = domain.SessionClosed
	m.session = nil
	m.mu.Unlock()
	m.metrics.SetSessionReady(false)
	m.logger.Info("session closed")
}

// Start re-opens a failed session every retry interval until Stop.
func (m *SessionManager) Start(ctx context.Context) {
	if m.config.RetryInterval <= 0 {
		return
	}

	m.wg.Add(1)
	go m.run(ctx)
}

func (m *SessionManager) run(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			if m.Status().State != domain.SessionFailed {
				continue
			}
			m.logger.Info("retrying session open")
			if err := m.Open(ctx); err != nil {
				m.logger.Warn("session open failed", "error", err)
			}
		}
	}
}

// Stop ends the background retry loop.
func (m *SessionManager) Stop() {
	select {
	case <-m.stopCh:
	default:
		close(m.stopCh)
	}
	m.wg.Wait()
}

func (m *SessionManager) loadArea(ctx context.Context) (*domain.StudyArea, error) {
	area, err := m.source.Load(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrStudyAreaUnavailable) {
			err = &domain.StudyAreaError{Source: m.source.Describe(), Err: err}
		}
		return nil, err
	}

	if m.config.Center != (orb.Point{}) {
		area.Center = m.config.Center
	}
	area.Zoom = m.config.Zoom
	return area, nil
}

func (m *SessionManager) publish(s *domain.Session) {
	m.mu.Lock()
	m.session = s
	m.state = domain.SessionOpen
	m.lastErr = nil
	m.mu.Unlock()
	m.metrics.SetSessionReady(true)
}

func (m *SessionManager) fail(err error) {
	m.mu.Lock()
	m.session = nil
	m.state = domain.SessionFailed
	m.lastErr = err
	m.mu.Unlock()
	m.metrics.SetSessionReady(false)
	m.logger.Error("session failed", "error", err)
}

func (m *SessionManager) setState(state domain.SessionState) {
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()
}
