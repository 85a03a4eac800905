package realtime

// Class is the routing category of a server event.
type Class int

const (
	ClassLogOnly Class = iota
	ClassLifecycle
	ClassTranscript
	ClassToolCall
	ClassGuardrail
	ClassAudio
	ClassSpeech
	ClassError
)

func (c Class) String() string {
	switch c {
	case ClassLifecycle:
		return "lifecycle"
	case ClassTranscript:
		return "transcript"
	case ClassToolCall:
		return "tool_call"
	case ClassGuardrail:
		return "guardrail"
	case ClassAudio:
		return "audio"
	case ClassSpeech:
		return "speech"
	case ClassError:
		return "error"
	default:
		return "log_only"
	}
}

var classes = map[string]Class{
	EventSessionCreated:              ClassLifecycle,
	EventSessionUpdated:              ClassLifecycle,
	EventResponseCreated:             ClassLifecycle,
	EventResponseDone:                ClassLifecycle,
	EventItemCreated:                 ClassTranscript,
	EventItemAdded:                   ClassTranscript,
	EventInputTranscriptionDelta:     ClassTranscript,
	EventInputTranscriptionCompleted: ClassTranscript,
	EventAudioTranscriptDelta:        ClassTranscript,
	EventAudioTranscriptDone:         ClassTranscript,
	EventOutputTranscriptDelta:       ClassTranscript,
	EventOutputTranscriptDone:        ClassTranscript,
	EventTextDelta:                   ClassTranscript,
	EventTextDone:                    ClassTranscript,
	EventFunctionCallArgumentsDone:   ClassToolCall,
	EventGuardrailTripped:            ClassGuardrail,
	EventAudioDelta:                  ClassAudio,
	EventOutputAudioDelta:            ClassAudio,
	EventSpeechStarted:               ClassSpeech,
	EventSpeechStopped:               ClassSpeech,
	EventError:                       ClassError,
}

// Classify routes an event type. Unknown types are log-only.
func Classify(eventType string) Class {
	return classes[eventType]
}
