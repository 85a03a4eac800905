package cli

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/soyeahso/voxlink/internal/bus"
	"github.com/soyeahso/voxlink/internal/config"
	"github.com/soyeahso/voxlink/internal/credential"
	"github.com/soyeahso/voxlink/internal/domain"
	"github.com/soyeahso/voxlink/internal/lifecycle"
	"github.com/soyeahso/voxlink/internal/logging"
	"github.com/soyeahso/voxlink/internal/metrics"
	"github.com/soyeahso/voxlink/internal/prefs"
	"github.com/soyeahso/voxlink/internal/session"
	"github.com/soyeahso/voxlink/internal/store"
	"github.com/soyeahso/voxlink/internal/transport"
	"github.com/soyeahso/voxlink/internal/turndetect"
)

// app is the wired process: config, store, preferences and one session.
type app struct {
	log      *logging.Logger
	logClose io.Closer
	store    store.Store
	prefs    *prefs.Store
	events   *bus.Bus
	metrics  *metrics.Metrics
	session  *session.Session

	mu    sync.Mutex
	cfg   config.Config
	saved prefs.Prefs
}

// loadConfig reads and validates the config file.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(paths.Config)
	if err != nil {
		return cfg, err
	}
	if issues := config.Validate(&cfg); len(issues) > 0 {
		for _, issue := range issues {
			log.Error().Str("path", issue.Path).Msg(issue.Message)
		}
		return cfg, fmt.Errorf("config validation failed with %d issue(s)", len(issues))
	}
	return cfg, nil
}

// openLogger opens the configured root logger. --log-level wins over the
// file.
func openLogger(cfg config.Config) (*logging.Logger, io.Closer, error) {
	opts := logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Style,
		File:   cfg.Logging.File,
	}
	if logLevel != "" {
		opts.Level = logLevel
	}
	return logging.Open(opts)
}

func openStore(cfg config.Config, l *logging.Logger) (store.Store, error) {
	if err := paths.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("creating data dirs: %w", err)
	}
	st, err := store.New(cfg.Store.Driver, paths.StorePath(cfg.Store), l)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return st, nil
}

// newResources builds the audio side of a session from the audio section.
func newResources(cfg config.AudioConfig, l *logging.Logger) *lifecycle.Manager {
	var sink lifecycle.Sink = &lifecycle.NullSink{}
	if cfg.Player != "" {
		sink = lifecycle.NewCommandSink(cfg.Player, l)
	}
	var opts []lifecycle.Option
	if cfg.RecordDir != "" {
		opts = append(opts, lifecycle.WithRecorder(lifecycle.NewWAVRecorder(cfg.RecordDir)))
	}
	if cfg.WakeLock {
		opts = append(opts, lifecycle.WithWakeLock(lifecycle.NewWakeLock(l)))
	}
	return lifecycle.NewManager(sink, l, opts...)
}

func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	l, closer, err := openLogger(cfg)
	if err != nil {
		return nil, err
	}
	st, err := openStore(cfg, l)
	if err != nil {
		closer.Close()
		return nil, err
	}

	ps := prefs.New(st, l)
	saved, err := ps.Load(ctx)
	if err != nil {
		l.Warn().Err(err).Msg("preferences unavailable, using config file only")
	}
	saved.Overlay(&cfg)

	a := &app{
		log:      l,
		logClose: closer,
		store:    st,
		prefs:    ps,
		events:   bus.New(l),
		cfg:      cfg,
		saved:    saved,
	}
	if cfg.Metrics.On() {
		a.metrics = metrics.New()
	}
	a.session = session.New(session.ConfigFrom(cfg), session.Deps{
		Bus:       a.events,
		Dialer:    transport.NewWebSocketDialer(cfg.Realtime.URL, l),
		Resources: newResources(cfg.Audio, l),
		Prefs:     ps,
		Archive:   st,
		Metrics:   a.metrics,
		Log:       l,
	})
	return a, nil
}

func (a *app) Close() {
	a.session.Disconnect()
	if err := a.store.Close(); err != nil {
		a.log.Warn().Err(err).Msg("closing store")
	}
	a.logClose.Close()
}

func (a *app) config() config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// scenario resolves a scenario against the current config.
func (a *app) scenario(name string) (domain.AgentSet, error) {
	return session.Scenario(a.config(), name)
}

// connectRequest assembles a ConnectRequest. Empty agent falls back to the
// stored selection.
func (a *app) connectRequest(ctx context.Context, scenario, agent string) (session.ConnectRequest, error) {
	cfg := a.config()
	cred, err := credential.FromConfig(ctx, cfg)
	if err != nil {
		return session.ConnectRequest{}, err
	}
	agents, err := session.Scenario(cfg, scenario)
	if err != nil {
		return session.ConnectRequest{}, err
	}
	if agent == "" {
		a.mu.Lock()
		agent = a.saved.SelectedAgent
		a.mu.Unlock()
	}
	if scenario == "" {
		scenario = cfg.Agents.DefaultScenario
	}
	return session.ConnectRequest{
		Credential:    cred,
		Agents:        agents,
		SelectedAgent: agent,
		Scenario:      scenario,
	}, nil
}

// reload takes a freshly parsed config file, re-applies the stored
// preferences and pushes turn detection changes to the live session.
func (a *app) reload(ctx context.Context, cfg config.Config) {
	saved, err := a.prefs.Load(ctx)
	if err != nil {
		a.log.Warn().Err(err).Msg("reload: preferences unavailable")
	}
	saved.Overlay(&cfg)

	a.mu.Lock()
	a.cfg = cfg
	a.saved = saved
	a.mu.Unlock()

	if logLevel == "" && cfg.Logging.Level != a.log.Level() {
		a.log.SetLevel(cfg.Logging.Level)
		a.log.Info().Str("level", a.log.Level()).Msg("log level changed")
	}

	settings, err := a.session.UpdateTurnDetection(ctx, turnUpdate(cfg.TurnDetection))
	if err != nil {
		a.log.Warn().Err(err).Msg("reload: turn detection rejected")
		return
	}
	a.log.Info().
		Bool("ptt", settings.PushToTalk).
		Str("mode", string(settings.Mode)).
		Msg("config reloaded")
}

// turnUpdate converts the config section into a full update.
func turnUpdate(td config.TurnDetectionConfig) turndetect.Update {
	mode := turndetect.Mode(td.Mode)
	if mode == "" {
		mode = turndetect.ModeServerVAD
	}
	u := turndetect.Update{
		PushToTalk: &td.PushToTalk,
		Mode:       &mode,
	}
	if td.Threshold != 0 {
		u.Threshold = &td.Threshold
	}
	if td.SilenceDurationMs != 0 {
		u.SilenceDurationMs = &td.SilenceDurationMs
	}
	if td.Eagerness != "" {
		u.Eagerness = &td.Eagerness
	}
	return u
}
