package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/soyeahso/voxlink/internal/handoff"
	"github.com/soyeahso/voxlink/internal/session"
	"github.com/soyeahso/voxlink/internal/transcript"
	"github.com/soyeahso/voxlink/internal/turndetect"
)

const rpcTimeout = 10 * time.Second

func (s *Server) registerHTTPRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	mux.HandleFunc("/", handleNotFound)
}

func (s *Server) registerRPCHandlers() {
	s.Handle("health", s.rpcHealth)
	s.Handle("session.status", s.rpcStatus)
	s.Handle("session.connect", s.rpcConnect)
	s.Handle("session.disconnect", s.rpcDisconnect)
	s.Handle("session.interrupt", s.rpcInterrupt)
	s.Handle("chat.send", s.rpcChatSend)
	s.Handle("ptt.start", s.rpcPTTStart)
	s.Handle("ptt.stop", s.rpcPTTStop)
	s.Handle("audio.playback", s.rpcPlayback)
	s.Handle("audio.mute", s.rpcMute)
	s.Handle("turn.update", s.rpcTurnUpdate)
	s.Handle("voice.set", s.rpcVoiceSet)
	s.Handle("agent.select", s.rpcAgentSelect)
	s.Handle("transcript.get", s.rpcTranscriptGet)
	s.Handle("transcript.toggle", s.rpcTranscriptToggle)
}

func (s *Server) statusReply() StatusReply {
	if s.session == nil {
		return StatusReply{Agents: []string{}}
	}
	return StatusReply{
		Status:        s.session.Status(),
		SessionID:     s.session.SessionID(),
		ActiveAgent:   s.session.ActiveAgent(),
		Agents:        s.session.Agents().Names(),
		Scenario:      s.session.Scenario(),
		Muted:         s.session.Muted(),
		TurnDetection: s.session.TurnDetection(),
	}
}

// errorCode maps session errors onto protocol error codes.
func errorCode(err error) string {
	var (
		credErr *session.CredentialError
		negErr  *session.TransportNegotiationError
		hoErr   *handoff.UnknownTargetError
	)
	switch {
	case errors.Is(err, session.ErrNotConnected):
		return "not_connected"
	case errors.Is(err, session.ErrSessionActive):
		return "session_active"
	case errors.Is(err, session.ErrConnectCancelled):
		return "cancelled"
	case errors.Is(err, session.ErrVoiceLocked):
		return "voice_locked"
	case errors.Is(err, session.ErrNoAgents), errors.As(err, &hoErr):
		return "invalid_params"
	case errors.As(err, &credErr):
		return "credential_error"
	case errors.As(err, &negErr):
		return "negotiation_failed"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "session_error"
	}
}

// call runs a session command with a bounded context and answers with the
// session status.
func (s *Server) call(c *Call, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(s.context(), rpcTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		c.fail(err)
		return
	}
	c.Respond(s.statusReply())
}

func (s *Server) rpcHealth(c *Call) {
	s.mu.Lock()
	started := s.startedAt
	s.mu.Unlock()

	resp := HealthReply{
		Status:        "ok",
		Version:       s.version,
		Clients:       s.clients.Count(),
		SessionStatus: s.statusReply().Status.String(),
	}
	if !started.IsZero() {
		resp.UptimeMs = time.Since(started).Milliseconds()
	}
	c.Respond(resp)
}

func (s *Server) rpcStatus(c *Call) {
	c.Respond(s.statusReply())
}

// rpcConnect starts the voice session. Negotiation can take seconds, so it
// runs off the read loop and answers when it settles; the client can send
// session.disconnect meanwhile.
func (s *Server) rpcConnect(c *Call) {
	var p SessionConnectParams
	if !c.Bind(&p) {
		return
	}
	if s.credential == nil || s.scenarios == nil {
		c.RespondError("unavailable", "no credential or agents configured")
		return
	}
	agents, err := s.scenarios(p.Scenario)
	if err != nil {
		c.RespondError("invalid_params", err.Error())
		return
	}

	req := session.ConnectRequest{
		Credential:    s.credential,
		Agents:        agents,
		SelectedAgent: p.Agent,
		Scenario:      p.Scenario,
	}
	go func() {
		if err := s.session.Connect(s.context(), req); err != nil {
			c.fail(err)
			return
		}
		c.Respond(s.statusReply())
	}()
}

func (s *Server) rpcDisconnect(c *Call) {
	s.session.Disconnect()
	c.Respond(s.statusReply())
}

func (s *Server) rpcInterrupt(c *Call) {
	s.call(c, s.session.Interrupt)
}

func (s *Server) rpcChatSend(c *Call) {
	var p ChatSendParams
	if !c.Bind(&p) {
		return
	}
	if strings.TrimSpace(p.Message) == "" {
		c.RespondError("invalid_params", "message is required")
		return
	}
	s.call(c, func(ctx context.Context) error { return s.session.SendUserText(ctx, p.Message) })
}

func (s *Server) rpcPTTStart(c *Call) {
	s.call(c, s.session.StartTalking)
}

func (s *Server) rpcPTTStop(c *Call) {
	s.call(c, s.session.StopTalking)
}

func (s *Server) rpcPlayback(c *Call) {
	var p PlaybackParams
	if !c.Bind(&p) {
		return
	}
	s.call(c, func(ctx context.Context) error { return s.session.SetAudioPlayback(ctx, p.Enabled) })
}

func (s *Server) rpcMute(c *Call) {
	var p MuteParams
	if !c.Bind(&p) {
		return
	}
	s.call(c, func(ctx context.Context) error { return s.session.Mute(ctx, p.Muted) })
}

func (s *Server) rpcTurnUpdate(c *Call) {
	var u turndetect.Update
	if !c.Bind(&u) {
		return
	}
	ctx, cancel := context.WithTimeout(s.context(), rpcTimeout)
	defer cancel()
	settings, err := s.session.UpdateTurnDetection(ctx, u)
	if err != nil {
		if errors.Is(err, session.ErrNotConnected) {
			c.fail(err)
			return
		}
		c.RespondError("invalid_params", err.Error())
		return
	}
	c.Respond(map[string]any{
		"turnDetection": settings,
		"payload":       turndetect.Compute(settings),
	})
}

func (s *Server) rpcVoiceSet(c *Call) {
	var p VoiceParams
	if !c.Bind(&p) {
		return
	}
	s.call(c, func(ctx context.Context) error { return s.session.SetVoice(ctx, p.Voice) })
}

func (s *Server) rpcAgentSelect(c *Call) {
	var p AgentSelectParams
	if !c.Bind(&p) {
		return
	}
	if p.Agent == "" {
		c.RespondError("invalid_params", "agent is required")
		return
	}

	agents := s.session.Agents()
	if p.Scenario != "" || len(agents) == 0 {
		if s.scenarios == nil {
			c.RespondError("unavailable", "no agents configured")
			return
		}
		var err error
		if agents, err = s.scenarios(p.Scenario); err != nil {
			c.RespondError("invalid_params", err.Error())
			return
		}
	}
	if _, ok := agents.Find(p.Agent); !ok {
		c.RespondError("not_found", "unknown agent: "+p.Agent)
		return
	}
	s.call(c, func(ctx context.Context) error {
		return s.session.SwitchAgents(ctx, agents, p.Agent, p.Scenario)
	})
}

func (s *Server) rpcTranscriptGet(c *Call) {
	items := s.session.Transcript()
	if items == nil {
		items = []transcript.Item{}
	}
	c.Respond(TranscriptReply{Items: items})
}

func (s *Server) rpcTranscriptToggle(c *Call) {
	var p ToggleParams
	if !c.Bind(&p) {
		return
	}
	item, ok := s.session.ToggleExpanded(p.ItemID)
	if !ok {
		c.RespondError("not_found", "unknown item: "+p.ItemID)
		return
	}
	c.Respond(item)
}
