// Package session owns the single realtime voice session: connection
// lifecycle, upstream event routing, transcript projection and handoffs.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/voxlink/internal/bus"
	"github.com/soyeahso/voxlink/internal/config"
	"github.com/soyeahso/voxlink/internal/credential"
	"github.com/soyeahso/voxlink/internal/domain"
	"github.com/soyeahso/voxlink/internal/handoff"
	"github.com/soyeahso/voxlink/internal/lifecycle"
	"github.com/soyeahso/voxlink/internal/logging"
	"github.com/soyeahso/voxlink/internal/metrics"
	"github.com/soyeahso/voxlink/internal/realtime"
	"github.com/soyeahso/voxlink/internal/transcript"
	"github.com/soyeahso/voxlink/internal/transport"
	"github.com/soyeahso/voxlink/internal/turndetect"
)

const archiveTimeout = 5 * time.Second

// Config is the connection profile of a session.
type Config struct {
	Model              string
	Codec              realtime.Codec
	Voice              string
	TranscriptionModel string
	ConnectTimeout     time.Duration
	TurnDetection      turndetect.Settings
	PlaybackEnabled    bool
}

// ConfigFrom derives a session Config from the loaded configuration.
func ConfigFrom(cfg config.Config) Config {
	codec, err := realtime.ParseCodec(cfg.Realtime.Codec)
	if err != nil {
		codec = realtime.CodecPCM16
	}
	mode, err := turndetect.ParseMode(cfg.TurnDetection.Mode)
	if err != nil {
		mode = turndetect.ModeServerVAD
	}
	return Config{
		Model:              cfg.Realtime.Model,
		Codec:              codec,
		Voice:              cfg.Realtime.Voice,
		TranscriptionModel: cfg.Realtime.TranscriptionModel,
		ConnectTimeout:     cfg.Realtime.ConnectTimeout,
		TurnDetection: turndetect.Settings{
			PushToTalk:        cfg.TurnDetection.PushToTalk,
			Mode:              mode,
			Threshold:         cfg.TurnDetection.Threshold,
			SilenceDurationMs: cfg.TurnDetection.SilenceDurationMs,
			Eagerness:         cfg.TurnDetection.Eagerness,
		},
		PlaybackEnabled: cfg.Audio.Playback(),
	}
}

// Scenario returns the agent set of a configured scenario. An empty name
// selects the default scenario.
func Scenario(cfg config.Config, name string) (domain.AgentSet, error) {
	if name == "" {
		name = cfg.Agents.DefaultScenario
	}
	entries, ok := cfg.Agents.Scenarios[name]
	if !ok {
		return nil, fmt.Errorf("unknown scenario %q", name)
	}
	agents := make(domain.AgentSet, 0, len(entries))
	for _, e := range entries {
		a := domain.Agent{
			Name:         e.Name,
			Voice:        e.Voice,
			Instructions: e.Instructions,
			Handoffs:     append([]string(nil), e.Handoffs...),
		}
		for _, t := range e.Tools {
			a.Tools = append(a.Tools, domain.Tool{Name: t.Name, Description: t.Description, Parameters: t.Parameters})
		}
		agents = append(agents, a)
	}
	return agents, nil
}

// Preferences persists user choices. Implemented by *prefs.Store.
type Preferences interface {
	Set(ctx context.Context, key, value string) error
}

// Archive stores finished transcripts. Implemented by store.Store.
type Archive interface {
	SaveTranscript(ctx context.Context, rec domain.SessionRecord, items []transcript.Item) error
}

// Deps are the collaborators of a Session. Dialer is required; the rest
// fall back to no-op or private defaults.
type Deps struct {
	Bus       *bus.Bus
	Dialer    transport.Dialer
	Resources *lifecycle.Manager
	Prefs     Preferences
	Archive   Archive
	Metrics   *metrics.Metrics
	Log       *logging.Logger
}

// Option configures a Session.
type Option func(*Session)

// WithClock replaces time.Now for the session and its transcript.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithReplayWindow sets how long upstream event ids are remembered for
// dedupe.
func WithReplayWindow(d time.Duration) Option {
	return func(s *Session) { s.replayWindow = d }
}

// Session is the explicitly constructed service container for one voice
// connection at a time. All methods are safe for concurrent use.
type Session struct {
	bus       *bus.Bus
	dialer    transport.Dialer
	resources *lifecycle.Manager
	prefs     Preferences
	archive   Archive
	metrics   *metrics.Metrics
	log       *logging.Logger

	projector    *transcript.Projector
	router       *handoff.Router
	turns        *turndetect.Configurator
	now          func() time.Time
	replayWindow time.Duration

	mu          sync.Mutex
	cfg         Config
	machine     statusMachine
	conn        transport.Conn
	sessionID   string
	scenario    string
	agents      domain.AgentSet
	active      string
	muted       bool
	responding  bool
	bargeIn     bool
	startedAt   time.Time
	connectedAt time.Time
}

// New creates a disconnected Session.
func New(cfg Config, deps Deps, opts ...Option) *Session {
	log := deps.Log
	if log == nil {
		log = logging.New(nil, "silent")
	}
	s := &Session{
		bus:       deps.Bus,
		dialer:    deps.Dialer,
		resources: deps.Resources,
		prefs:     deps.Prefs,
		archive:   deps.Archive,
		metrics:   deps.Metrics,
		log:       log.Sub("session"),
		router:    handoff.NewRouter(log),
		turns:     turndetect.New(cfg.TurnDetection),
		now:       time.Now,
		cfg:       cfg,
		muted:     !cfg.PlaybackEnabled,
	}
	for _, o := range opts {
		o(s)
	}
	if s.bus == nil {
		s.bus = bus.New(log)
	}
	if s.resources == nil {
		s.resources = lifecycle.NewManager(nil, log)
	}
	s.resources.SetPlayback(cfg.PlaybackEnabled)

	popts := []transcript.Option{transcript.WithClock(s.now)}
	if s.replayWindow > 0 {
		popts = append(popts, transcript.WithReplayWindow(s.replayWindow))
	}
	s.projector = transcript.NewProjector(log, popts...)
	s.metrics.RecordStatus(domain.StatusDisconnected)
	return s
}

// Bus returns the event bus the session publishes on.
func (s *Session) Bus() *bus.Bus { return s.bus }

// ConnectRequest is the input of Connect.
type ConnectRequest struct {
	Credential credential.Provider
	Agents     domain.AgentSet
	// SelectedAgent is moved to the front of Agents and becomes root.
	SelectedAgent string
	Scenario      string
}

// Connect fetches a credential, negotiates the transport and moves the
// session to CONNECTED. It is only accepted from DISCONNECTED; otherwise it
// returns ErrSessionActive without side effects. Any failure returns the
// session to DISCONNECTED, publishes session:error and is returned. A
// Disconnect that overtakes the attempt makes it return ErrConnectCancelled.
func (s *Session) Connect(ctx context.Context, req ConnectRequest) error {
	if req.Credential == nil {
		return errors.New("session: no credential provider")
	}
	agents := req.Agents.WithRoot(req.SelectedAgent)
	root, ok := agents.Root()
	if !ok {
		return ErrNoAgents
	}

	s.mu.Lock()
	timeout := s.cfg.ConnectTimeout
	s.mu.Unlock()
	if _, ok := ctx.Deadline(); !ok && timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	epoch, err := s.machine.begin(cancel)
	if err != nil {
		s.mu.Unlock()
		s.log.Warn().Err(err).Msg("connect ignored")
		s.metrics.RecordConnect("duplicate", 0)
		return err
	}
	id := uuid.NewString()
	s.sessionID = id
	s.scenario = req.Scenario
	s.agents = agents
	s.active = root.Name
	s.responding, s.bargeIn = false, false
	s.startedAt = s.now()
	cfg := s.cfg
	// The previous transcript stays readable until the next session starts.
	s.projector.Reset()
	s.mu.Unlock()

	started := time.Now()
	s.log.Info().Str("session", id).Str("agent", root.Name).Str("codec", string(cfg.Codec)).Msg("connecting")
	s.metrics.SetTranscriptItems(0)
	s.publishStatus(id, domain.StatusConnecting)

	token, err := req.Credential.Credential(ctx)
	if err == nil && strings.TrimSpace(token) == "" {
		err = credential.ErrEmptyCredential
	}
	if err != nil {
		return s.failConnect(epoch, id, &CredentialError{Err: err}, "credential_error")
	}

	s.mu.Lock()
	still := s.machine.attempting(epoch)
	muted := s.muted
	s.mu.Unlock()
	if !still {
		s.metrics.RecordConnect("cancelled", 0)
		return ErrConnectCancelled
	}

	conn, err := s.dialer.Dial(ctx, s.dialRequest(cfg, token, root, muted))
	if err != nil {
		return s.failConnect(epoch, id, &TransportNegotiationError{Err: err}, "negotiation_error")
	}

	s.mu.Lock()
	if !s.machine.commit(epoch) {
		s.mu.Unlock()
		_ = conn.Close()
		s.metrics.RecordConnect("cancelled", 0)
		return ErrConnectCancelled
	}
	s.conn = conn
	s.connectedAt = s.now()
	muted = s.muted
	s.mu.Unlock()

	// A mute issued before or during connect never reached this transport.
	if err := s.applyMute(ctx, conn, muted); err != nil {
		s.log.Warn().Err(err).Msg("re-applying mute after connect")
	}
	s.activateResources(ctx, epoch, id, cfg.Codec)

	s.mu.Lock()
	live := s.machine.live(epoch)
	s.mu.Unlock()
	if !live {
		s.metrics.RecordConnect("cancelled", 0)
		return ErrConnectCancelled
	}

	s.metrics.RecordConnect("ok", time.Since(started))
	s.metrics.RecordStatus(domain.StatusConnected)
	s.log.Info().Str("session", id).Dur("took", time.Since(started)).Msg("connected")
	s.publishStatus(id, domain.StatusConnected)
	s.publish(bus.Event{Kind: bus.KindConnected, SessionID: id, Status: domain.StatusConnected})

	go s.dispatch(conn, epoch, id)
	return nil
}

// activateResources acquires audio resources for a connected session. A
// failure is reported but does not end the session.
func (s *Session) activateResources(ctx context.Context, epoch uint64, id string, codec realtime.Codec) {
	if err := s.resources.Activate(ctx, id, lifecycle.FormatFor(codec)); err != nil {
		s.log.Warn().Err(err).Msg("audio resources unavailable")
		s.publish(bus.Event{Kind: bus.KindError, SessionID: id, Status: domain.StatusConnected, Err: err})
		return
	}
	s.mu.Lock()
	live := s.machine.live(epoch)
	s.mu.Unlock()
	if !live {
		// Disconnect ran while resources were being acquired.
		_ = s.resources.Deactivate()
	}
}

func (s *Session) failConnect(epoch uint64, id string, err error, result string) error {
	s.mu.Lock()
	if !s.machine.attempting(epoch) {
		s.mu.Unlock()
		s.metrics.RecordConnect("cancelled", 0)
		return ErrConnectCancelled
	}
	s.machine.reset()
	s.mu.Unlock()

	s.log.Error().Err(err).Str("session", id).Msg("connect failed")
	s.metrics.RecordConnect(result, 0)
	s.metrics.RecordStatus(domain.StatusDisconnected)
	s.publishStatus(id, domain.StatusDisconnected)
	s.publish(bus.Event{Kind: bus.KindError, SessionID: id, Status: domain.StatusDisconnected, Err: err})
	return err
}

func (s *Session) dialRequest(cfg Config, token string, root domain.Agent, muted bool) transport.DialRequest {
	sc := agentSession(root, s.turns.Payload())
	sc.Voice = cfg.Voice
	if sc.Voice == "" {
		sc.Voice = root.Voice
	}
	sc.Modalities = modalities(muted)
	if cfg.TranscriptionModel != "" {
		sc.InputAudioTranscription = &realtime.Transcription{Model: cfg.TranscriptionModel}
	}

	codec := cfg.Codec
	return transport.DialRequest{
		Credential: token,
		Model:      cfg.Model,
		Session:    sc,
		Setup: func(c *realtime.SessionConfig) {
			codec.Apply(c)
			s.log.Debug().Str("codec", string(codec)).Bool("wideband", codec.Wideband()).Msg("codec injected")
		},
	}
}

// agentSession is the session.update body that makes agent the speaker.
func agentSession(agent domain.Agent, td *realtime.TurnDetection) realtime.SessionConfig {
	sc := realtime.SessionConfig{
		Instructions:  agent.Instructions,
		TurnDetection: realtime.EncodeTurnDetection(td),
	}
	for _, t := range append(append([]domain.Tool(nil), agent.Tools...), handoff.Tools(agent)...) {
		sc.Tools = append(sc.Tools, realtime.Tool{
			Type:        "function",
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	if len(sc.Tools) > 0 {
		sc.ToolChoice = "auto"
	}
	return sc
}

func modalities(muted bool) []string {
	if muted {
		return []string{"text"}
	}
	return []string{"text", "audio"}
}

// Disconnect ends the session from any state, cancelling an in-flight
// connect. It releases the transport and audio resources, archives the
// transcript and publishes session:disconnected. Calling it while already
// disconnected only logs a warning.
func (s *Session) Disconnect() {
	if !s.teardown(0, false, nil) {
		s.log.Warn().Msg("disconnect ignored: not connected")
	}
}

// teardown drives the session to DISCONNECTED. With onlyEpoch set it only
// acts if epoch is still the live session. It reports whether it acted.
func (s *Session) teardown(epoch uint64, onlyEpoch bool, cause error) bool {
	s.mu.Lock()
	if onlyEpoch && !s.machine.live(epoch) {
		s.mu.Unlock()
		return false
	}
	if s.machine.current() == domain.StatusDisconnected {
		s.mu.Unlock()
		return false
	}
	prev, cancel := s.machine.reset()
	conn := s.conn
	s.conn = nil
	id := s.sessionID
	rec := domain.SessionRecord{
		ID:        id,
		Scenario:  s.scenario,
		RootAgent: rootName(s.agents),
		StartedAt: s.startedAt,
		EndedAt:   s.now(),
	}
	connectedAt := s.connectedAt
	var items []transcript.Item
	if prev == domain.StatusConnected {
		items = s.projector.Snapshot()
	}
	s.responding, s.bargeIn = false, false
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			s.log.Warn().Err(err).Msg("closing transport")
		}
	}
	if err := s.resources.Deactivate(); err != nil {
		s.log.Warn().Err(err).Msg("releasing audio resources")
	}
	if prev == domain.StatusConnected {
		s.metrics.RecordSessionEnd(rec.EndedAt.Sub(connectedAt))
		s.archiveTranscript(rec, items)
	}

	s.metrics.RecordStatus(domain.StatusDisconnected)
	s.log.Info().Str("session", id).Str("from", prev.String()).Msg("disconnected")
	if cause != nil {
		s.publish(bus.Event{Kind: bus.KindError, SessionID: id, Status: domain.StatusDisconnected, Err: cause})
	}
	s.publishStatus(id, domain.StatusDisconnected)
	s.publish(bus.Event{Kind: bus.KindDisconnected, SessionID: id, Status: domain.StatusDisconnected})
	return true
}

func (s *Session) archiveTranscript(rec domain.SessionRecord, items []transcript.Item) {
	if s.archive == nil || len(items) == 0 {
		return
	}
	rec.Items = len(items)
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()
	if err := s.archive.SaveTranscript(ctx, rec, items); err != nil {
		s.log.Warn().Err(err).Str("session", rec.ID).Msg("archiving transcript failed")
	}
}

func rootName(agents domain.AgentSet) string {
	if root, ok := agents.Root(); ok {
		return root.Name
	}
	return ""
}

func (s *Session) publish(ev bus.Event) {
	ev.At = s.now()
	s.bus.Emit(context.Background(), ev)
}

func (s *Session) publishStatus(id string, st domain.SessionStatus) {
	s.publish(bus.Event{Kind: bus.KindStatusChanged, SessionID: id, Status: st})
}

func (s *Session) publishChanges(id string, changes []transcript.Change) {
	if len(changes) == 0 {
		return
	}
	status := s.Status()
	for _, c := range changes {
		item := c.Item
		kind := bus.KindItemUpdated
		if c.Added {
			kind = bus.KindItemAdded
		}
		s.publish(bus.Event{Kind: kind, SessionID: id, Status: status, Item: &item})
	}
	s.metrics.SetTranscriptItems(s.projector.Len())
}

// Status returns the connection status.
func (s *Session) Status() domain.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.current()
}

// SessionID returns the id of the current or last session.
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// ActiveAgent returns the name of the agent currently speaking for the system.
func (s *Session) ActiveAgent() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Agents returns a copy of the current agent set, root first.
func (s *Session) Agents() domain.AgentSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append(domain.AgentSet(nil), s.agents...)
}

// Scenario returns the name of the current scenario.
func (s *Session) Scenario() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scenario
}

// Muted reports the requested mute state.
func (s *Session) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

// Config returns the current connection profile.
func (s *Session) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg := s.cfg
	cfg.TurnDetection = s.turns.Settings()
	return cfg
}

// TurnDetection returns the current turn detection settings.
func (s *Session) TurnDetection() turndetect.Settings {
	return s.turns.Settings()
}

// Transcript returns a snapshot of the transcript in order.
func (s *Session) Transcript() []transcript.Item {
	return s.projector.Snapshot()
}

// ToggleExpanded flips the expanded flag of an item and publishes the update.
func (s *Session) ToggleExpanded(itemID string) (transcript.Item, bool) {
	c, ok := s.projector.ToggleExpanded(itemID)
	if !ok {
		return transcript.Item{}, false
	}
	s.publishChanges(s.SessionID(), []transcript.Change{c})
	return c.Item, true
}
