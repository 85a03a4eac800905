package session

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/soyeahso/voxlink/internal/bus"
	"github.com/soyeahso/voxlink/internal/domain"
	"github.com/soyeahso/voxlink/internal/prefs"
	"github.com/soyeahso/voxlink/internal/realtime"
	"github.com/soyeahso/voxlink/internal/transcript"
	"github.com/soyeahso/voxlink/internal/transport"
	"github.com/soyeahso/voxlink/internal/turndetect"
)

const greeting = "hi"

// liveConn returns the transport of a CONNECTED session.
func (s *Session) liveConn() (transport.Conn, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.machine.current() != domain.StatusConnected || s.conn == nil {
		return nil, "", ErrNotConnected
	}
	return s.conn, s.sessionID, nil
}

// SendEvent sends a raw protocol message. It requires CONNECTED.
func (s *Session) SendEvent(ctx context.Context, ev realtime.ClientEvent) error {
	conn, _, err := s.liveConn()
	if err != nil {
		return err
	}
	if ev.EventID == "" {
		ev.EventID = realtime.NewEventID()
	}
	return conn.Send(ctx, ev)
}

// SendUserText interrupts any response in flight, appends the text to the
// transcript and asks for a response. It requires CONNECTED.
func (s *Session) SendUserText(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("session: empty message")
	}
	conn, id, err := s.liveConn()
	if err != nil {
		return err
	}
	if err := s.interrupt(ctx, conn); err != nil {
		return err
	}
	return s.sendUserItem(ctx, conn, id, text, false)
}

func (s *Session) sendUserItem(ctx context.Context, conn transport.Conn, id, text string, hidden bool) error {
	itemID := realtime.NewItemID()
	s.publishChanges(id, []transcript.Change{s.projector.AddMessage(itemID, transcript.RoleUser, text, hidden)})
	if err := conn.Send(ctx, realtime.UserText(itemID, text)); err != nil {
		return err
	}
	return conn.Send(ctx, realtime.ResponseCreate())
}

// Interrupt cancels the response in flight and drops its remaining audio.
// It requires CONNECTED and is a no-op when nothing is being generated.
func (s *Session) Interrupt(ctx context.Context) error {
	conn, _, err := s.liveConn()
	if err != nil {
		return err
	}
	return s.interrupt(ctx, conn)
}

func (s *Session) interrupt(ctx context.Context, conn transport.Conn) error {
	s.mu.Lock()
	responding := s.responding
	s.responding = false
	if responding {
		s.bargeIn = true
	}
	s.mu.Unlock()

	if !responding {
		return nil
	}
	s.log.Debug().Msg("interrupting response")
	return conn.Send(ctx, realtime.ResponseCancel())
}

// Mute gates remote audio locally and asks upstream for text-only output.
// It is idempotent and may be called before a session exists; the state is
// applied on the next connect.
func (s *Session) Mute(ctx context.Context, muted bool) error {
	s.mu.Lock()
	changed := s.muted != muted
	s.muted = muted
	var conn transport.Conn
	if s.machine.current() == domain.StatusConnected {
		conn = s.conn
	}
	id, status := s.sessionID, s.machine.current()
	s.mu.Unlock()

	s.resources.SetMuted(muted)
	if !changed {
		return nil
	}

	var err error
	if conn != nil {
		err = s.applyMute(ctx, conn, muted)
	}
	s.publish(bus.Event{Kind: bus.KindMuteChanged, SessionID: id, Status: status, Muted: muted})
	return err
}

func (s *Session) applyMute(ctx context.Context, conn transport.Conn, muted bool) error {
	conn.SetMuted(muted)
	return conn.Send(ctx, realtime.SessionUpdate(realtime.SessionConfig{Modalities: modalities(muted)}))
}

// SetAudioPlayback turns local playback on or off. Off pauses and mutes the
// sink and mutes the transport; on resumes both. The choice is persisted.
func (s *Session) SetAudioPlayback(ctx context.Context, enabled bool) error {
	s.mu.Lock()
	s.cfg.PlaybackEnabled = enabled
	s.mu.Unlock()

	s.resources.SetPlayback(enabled)
	s.persist(ctx, prefs.KeyAudioPlayback, strconv.FormatBool(enabled))
	return s.Mute(ctx, !enabled)
}

// StartTalking begins a push-to-talk turn: it interrupts the agent and
// clears the input buffer.
func (s *Session) StartTalking(ctx context.Context) error {
	conn, _, err := s.liveConn()
	if err != nil {
		return err
	}
	if err := s.interrupt(ctx, conn); err != nil {
		return err
	}
	return conn.Send(ctx, realtime.InputAudioClear())
}

// StopTalking ends a push-to-talk turn: it commits the input buffer and asks
// for a response.
func (s *Session) StopTalking(ctx context.Context) error {
	conn, _, err := s.liveConn()
	if err != nil {
		return err
	}
	if err := conn.Send(ctx, realtime.InputAudioCommit()); err != nil {
		return err
	}
	return conn.Send(ctx, realtime.ResponseCreate())
}

// AppendAudio streams a chunk of microphone audio in the session codec.
func (s *Session) AppendAudio(ctx context.Context, chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}
	conn, _, err := s.liveConn()
	if err != nil {
		return err
	}
	s.metrics.RecordAudio("in", len(chunk))
	return conn.Send(ctx, realtime.InputAudioAppend(chunk))
}

// UpdateTurnDetection merges u into the settings. When anything changed on
// a CONNECTED session the new turn detection block is sent right away;
// otherwise it applies from the next connect.
func (s *Session) UpdateTurnDetection(ctx context.Context, u turndetect.Update) (turndetect.Settings, error) {
	settings, changed, err := s.turns.Apply(u)
	if err != nil {
		return settings, err
	}
	if u.PushToTalk != nil {
		s.persist(ctx, prefs.KeyPushToTalk, strconv.FormatBool(settings.PushToTalk))
	}
	if u.Mode != nil {
		s.persist(ctx, prefs.KeyVADMode, string(settings.Mode))
	}
	if !changed {
		return settings, nil
	}

	conn, _, err := s.liveConn()
	if errors.Is(err, ErrNotConnected) {
		return settings, nil
	}
	td := turndetect.Compute(settings)
	s.log.Debug().Bool("ptt", settings.PushToTalk).Str("mode", string(settings.Mode)).Bool("disabled", td == nil).Msg("turn detection updated")
	return settings, conn.Send(ctx, realtime.SessionUpdate(realtime.SessionConfig{
		TurnDetection: realtime.EncodeTurnDetection(td),
	}))
}

// SetVoice changes the voice of the next connection. Voice is fixed for the
// lifetime of a connection, so this fails with ErrVoiceLocked unless
// DISCONNECTED.
func (s *Session) SetVoice(ctx context.Context, voice string) error {
	voice = strings.TrimSpace(voice)
	if voice == "" {
		return errors.New("session: empty voice")
	}
	s.mu.Lock()
	if s.machine.current() != domain.StatusDisconnected {
		s.mu.Unlock()
		return ErrVoiceLocked
	}
	s.cfg.Voice = voice
	s.mu.Unlock()

	s.persist(ctx, prefs.KeyVoice, voice)
	return nil
}

// SetCodec changes the codec of the next connection.
func (s *Session) SetCodec(ctx context.Context, codec realtime.Codec) error {
	c, err := realtime.ParseCodec(string(codec))
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.cfg.Codec = c
	s.mu.Unlock()

	s.persist(ctx, prefs.KeyCodec, string(c))
	return nil
}

// SwitchAgents replaces the agent set with selected as root. On a CONNECTED
// session the new root takes over the same connection and greets the user.
// Otherwise the set is remembered for display and the choice persisted.
func (s *Session) SwitchAgents(ctx context.Context, agents domain.AgentSet, selected, scenario string) error {
	agents = agents.WithRoot(selected)
	root, ok := agents.Root()
	if !ok {
		return ErrNoAgents
	}

	s.mu.Lock()
	from := s.active
	s.agents = agents
	s.active = root.Name
	if scenario != "" {
		s.scenario = scenario
	}
	var conn transport.Conn
	if s.machine.current() == domain.StatusConnected {
		conn = s.conn
	}
	id := s.sessionID
	s.mu.Unlock()

	s.persist(ctx, prefs.KeySelectedAgent, root.Name)
	if scenario != "" {
		s.persist(ctx, prefs.KeyScenario, scenario)
	}
	if conn == nil {
		return nil
	}
	return s.switchTo(ctx, conn, id, from, root, false, "")
}

// switchTo makes agent the speaker on the live connection, records a
// breadcrumb and publishes session:agent_handoff. A handoff answers the
// pending tool call; a manual switch greets instead.
func (s *Session) switchTo(ctx context.Context, conn transport.Conn, id, from string, agent domain.Agent, byHandoff bool, callID string) error {
	plan := s.turns.PlanAgentSwitch(byHandoff)

	data := map[string]any{"from": from, "to": agent.Name}
	if byHandoff {
		data["call_id"] = callID
	} else {
		data["manual"] = true
	}
	s.publishChanges(id, []transcript.Change{s.projector.AddBreadcrumb("Agent: "+agent.Name, data)})
	s.publish(bus.Event{
		Kind:      bus.KindAgentHandoff,
		SessionID: id,
		Status:    domain.StatusConnected,
		Handoff:   &bus.Handoff{From: from, To: agent.Name, Manual: !byHandoff},
	})

	if err := conn.Send(ctx, realtime.SessionUpdate(agentSession(agent, plan.TurnDetection))); err != nil {
		return err
	}
	if byHandoff {
		out := `{"transferred_to":` + strconv.Quote(agent.Name) + `}`
		if err := conn.Send(ctx, realtime.FunctionCallOutput(callID, out)); err != nil {
			return err
		}
		return conn.Send(ctx, realtime.ResponseCreate())
	}
	if plan.Greet {
		return s.sendUserItem(ctx, conn, id, greeting, true)
	}
	return nil
}

func (s *Session) persist(ctx context.Context, key prefs.Key, value string) {
	if s.prefs == nil {
		return
	}
	if err := s.prefs.Set(ctx, string(key), value); err != nil {
		s.log.Warn().Err(err).Str("key", string(key)).Msg("saving preference")
	}
}
