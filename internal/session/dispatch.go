package session

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/soyeahso/voxlink/internal/bus"
	"github.com/soyeahso/voxlink/internal/domain"
	"github.com/soyeahso/voxlink/internal/handoff"
	"github.com/soyeahso/voxlink/internal/realtime"
	"github.com/soyeahso/voxlink/internal/transcript"
	"github.com/soyeahso/voxlink/internal/transport"
)

// dispatch routes inbound events of one connection until it closes. Events
// arriving after the session moved on are dropped.
func (s *Session) dispatch(conn transport.Conn, epoch uint64, id string) {
	for ev := range conn.Events() {
		if !s.isLive(epoch) {
			return
		}
		s.handle(conn, epoch, id, ev)
	}
	if s.teardown(epoch, true, &ConnectionLostError{Err: conn.Err()}) {
		s.log.Warn().Err(conn.Err()).Str("session", id).Msg("transport closed")
	}
}

func (s *Session) isLive(epoch uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.live(epoch)
}

func (s *Session) handle(conn transport.Conn, epoch uint64, id string, ev realtime.ServerEvent) {
	class := realtime.Classify(ev.Type)
	s.metrics.RecordUpstreamEvent(class.String())
	if s.projector.Seen(ev.EventID) {
		s.log.Debug().Str("event", ev.Type).Str("event_id", ev.EventID).Msg("replayed event dropped")
		return
	}

	switch class {
	case realtime.ClassTranscript, realtime.ClassGuardrail:
		s.publishChanges(id, s.projector.Fold(ev))
	case realtime.ClassToolCall:
		s.handleToolCall(conn, epoch, id, ev)
	case realtime.ClassAudio:
		s.handleAudio(ev)
	case realtime.ClassSpeech:
		s.handleSpeech(id, ev)
	case realtime.ClassError:
		s.handleUpstreamError(id, ev)
	case realtime.ClassLifecycle:
		s.handleLifecycle(ev)
		s.publishUpstream(id, ev)
	default:
		s.log.Debug().Str("event", ev.Type).Msg("unhandled upstream event")
		s.publishUpstream(id, ev)
	}
}

func (s *Session) publishUpstream(id string, ev realtime.ServerEvent) {
	s.publish(bus.Event{Kind: bus.KindUpstream, SessionID: id, Status: domain.StatusConnected, Upstream: &ev})
}

func (s *Session) handleLifecycle(ev realtime.ServerEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch ev.Type {
	case realtime.EventResponseCreated:
		s.responding = true
		s.bargeIn = false
	case realtime.EventResponseDone:
		s.responding = false
	}
}

func (s *Session) handleSpeech(id string, ev realtime.ServerEvent) {
	kind := bus.KindSpeechStopped
	if ev.Type == realtime.EventSpeechStarted {
		kind = bus.KindSpeechStarted
		// Barge-in: audio still arriving for the current response is dropped.
		s.mu.Lock()
		s.bargeIn = true
		s.mu.Unlock()
	}
	s.publish(bus.Event{Kind: kind, SessionID: id, Status: domain.StatusConnected})
}

func (s *Session) handleAudio(ev realtime.ServerEvent) {
	s.mu.Lock()
	drop := s.bargeIn
	s.mu.Unlock()
	if drop {
		return
	}

	var ad realtime.AudioDeltaEvent
	if err := ev.Into(&ad); err != nil {
		s.log.Warn().Err(err).Msg("malformed audio delta")
		return
	}
	pcm, err := ad.PCM()
	if err != nil {
		s.log.Warn().Err(err).Msg("undecodable audio delta")
		return
	}
	s.metrics.RecordAudio("out", len(pcm))
	s.resources.HandleAudio(pcm)
}

func (s *Session) handleUpstreamError(id string, ev realtime.ServerEvent) {
	var ee realtime.ErrorEvent
	if err := ev.Into(&ee); err != nil {
		ee.Error.Type = "unknown"
		ee.Error.Message = string(ev.Raw)
	}
	perr := &UpstreamProtocolError{Detail: ee.Error}
	s.log.Error().Err(perr).Str("session", id).Msg("upstream error")

	data := map[string]any{"type": ee.Error.Type, "message": ee.Error.Message}
	if ee.Error.Code != "" {
		data["code"] = ee.Error.Code
	}
	s.publishChanges(id, []transcript.Change{s.projector.AddBreadcrumb("error: "+ee.Error.Message, data)})
	s.publish(bus.Event{Kind: bus.KindError, SessionID: id, Status: domain.StatusConnected, Err: perr})
}

func (s *Session) handleToolCall(conn transport.Conn, epoch uint64, id string, ev realtime.ServerEvent) {
	var fc realtime.FunctionCallEvent
	if err := ev.Into(&fc); err != nil || fc.Name == "" {
		s.log.Warn().Err(err).Msg("malformed function call")
		return
	}
	transfer := handoff.IsTransfer(fc.Name)
	if !s.projector.NoteCall(fc.CallID, fc.Name, transfer) {
		s.log.Debug().Str("call_id", fc.CallID).Msg("repeated function call dropped")
		return
	}

	if !transfer {
		s.publishChanges(id, []transcript.Change{s.projector.AddBreadcrumb("function call: "+fc.Name, callData(fc))})
		return
	}

	s.mu.Lock()
	agents, from := s.agents, s.active
	s.mu.Unlock()

	h, err := s.router.Resolve(fc.Name, fc.CallID, agents, from)
	if err != nil {
		s.metrics.RecordHandoff("rejected")
		// The model still expects an answer to its call.
		out := `{"error":` + strconv.Quote(err.Error()) + `}`
		if err := conn.Send(context.Background(), realtime.FunctionCallOutput(fc.CallID, out)); err != nil {
			s.log.Warn().Err(err).Msg("answering rejected transfer")
		}
		return
	}

	s.mu.Lock()
	if !s.machine.live(epoch) {
		s.mu.Unlock()
		return
	}
	s.active = h.To.Name
	s.mu.Unlock()

	s.metrics.RecordHandoff("ok")
	if err := s.switchTo(context.Background(), conn, id, h.From, h.To, true, h.CallID); err != nil {
		s.log.Warn().Err(err).Str("to", h.To.Name).Msg("handoff continuation failed")
	}
}

func callData(fc realtime.FunctionCallEvent) map[string]any {
	data := map[string]any{"call_id": fc.CallID}
	var args any
	if fc.Arguments != "" && json.Unmarshal([]byte(fc.Arguments), &args) == nil {
		data["arguments"] = args
	} else if fc.Arguments != "" {
		data["arguments"] = fc.Arguments
	}
	return data
}
