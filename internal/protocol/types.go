package protocol

import (
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Session status values carried inside TranscriptionSession.
const (
	StatusRecording  = "Recording"
	StatusProcessing = "Processing"
	StatusCompleted  = "Completed"
	StatusFailed     = "Failed"
)

// SessionStatus is the wire form of a session's lifecycle state. Failed
// carries a reason; the other states are bare tags.
type SessionStatus struct {
	State  string
	Reason string
}

// Failed builds a failure status with the given reason.
func Failed(reason string) SessionStatus {
	return SessionStatus{State: StatusFailed, Reason: reason}
}

var (
	_ msgpack.CustomEncoder = (*SessionStatus)(nil)
	_ msgpack.CustomDecoder = (*SessionStatus)(nil)
)

// EncodeMsgpack encodes the status as an externally tagged enum value.
func (s SessionStatus) EncodeMsgpack(enc *msgpack.Encoder) error {
	if s.State == StatusFailed {
		if err := enc.EncodeMapLen(1); err != nil {
			return err
		}
		if err := enc.EncodeString(StatusFailed); err != nil {
			return err
		}
		return enc.EncodeString(s.Reason)
	}
	return enc.EncodeString(s.State)
}

// DecodeMsgpack decodes either a bare state tag or a {Failed: reason} map.
func (s *SessionStatus) DecodeMsgpack(dec *msgpack.Decoder) error {
	tag, payload, err := decodeVariantTag(dec)
	if err != nil {
		return err
	}
	s.State = tag
	s.Reason = ""
	if payload {
		reason, err := dec.DecodeString()
		if err != nil {
			return err
		}
		s.Reason = reason
	}
	return nil
}

// AudioChunk is a timestamped slice of captured samples for one session.
// It doubles as the StreamAudio client message payload.
type AudioChunk struct {
	SessionID  string    `msgpack:"session_id"`
	Samples    []float32 `msgpack:"samples"`
	SampleRate uint32    `msgpack:"sample_rate"`
	Channels   uint16    `msgpack:"channels"`
	Timestamp  time.Time `msgpack:"timestamp"`
}

// TranscriptionSession is the wire form of a finished (or failing) session.
type TranscriptionSession struct {
	ID         string        `msgpack:"id"`
	Status     SessionStatus `msgpack:"status"`
	Text       string        `msgpack:"text"`
	Confidence *float32      `msgpack:"confidence"`
	CreatedAt  time.Time     `msgpack:"created_at"`
}

// DaemonStatus is the read-only snapshot returned for GetStatus.
type DaemonStatus struct {
	ModelLoaded    bool          `msgpack:"model_loaded"`
	ActiveSessions []string      `msgpack:"active_sessions"`
	Uptime         time.Duration `msgpack:"uptime"`
	AudioDevice    string        `msgpack:"audio_device"`
	BufferSize     int           `msgpack:"buffer_size"`
	VADSensitivity float32       `msgpack:"vad_sensitivity"`
}

// ClientMessage is the closed set of messages a client may send.
type ClientMessage interface {
	clientTag() string
}

// StartRecording opens a new session and warms the model.
type StartRecording struct{}

// StopRecording finalizes all active sessions.
type StopRecording struct{}

// GetStatus requests a DaemonStatus snapshot.
type GetStatus struct{}

// ClearSession discards all buffered sessions without transcribing.
type ClearSession struct{}

// SetSensitivity adjusts the voice-detection sensitivity (0.0-1.0).
type SetSensitivity struct {
	Value float32
}

// Shutdown terminates the daemon process.
type Shutdown struct{}

func (StartRecording) clientTag() string { return "StartRecording" }
func (StopRecording) clientTag() string  { return "StopRecording" }
func (AudioChunk) clientTag() string     { return "StreamAudio" }
func (GetStatus) clientTag() string      { return "GetStatus" }
func (ClearSession) clientTag() string   { return "ClearSession" }
func (SetSensitivity) clientTag() string { return "SetSensitivity" }
func (Shutdown) clientTag() string       { return "Shutdown" }

// DaemonMessage is the closed set of messages the daemon may send.
type DaemonMessage interface {
	daemonTag() string
}

// RecordingStarted acknowledges StartRecording with the new session id.
type RecordingStarted struct {
	SessionID string
}

// RecordingStopped acknowledges StopRecording when no transcript resulted.
type RecordingStopped struct{}

// TranscriptionUpdate acknowledges streamed audio or carries partial text.
type TranscriptionUpdate struct {
	SessionID   string `msgpack:"session_id"`
	PartialText string `msgpack:"partial_text"`
	IsFinal     bool   `msgpack:"is_final"`
}

// AudioLevel reports the current input level (0.0-1.0).
type AudioLevel struct {
	Level float32
}

// VoiceActivityDetected signals that speech processing is about to start.
type VoiceActivityDetected struct{}

// VoiceActivityEnded signals that the current speech segment is finishing.
type VoiceActivityEnded struct{}

// ProcessingStarted signals that transcription of buffered audio began.
type ProcessingStarted struct{}

// ProcessingComplete signals that transcription of buffered audio finished.
type ProcessingComplete struct{}

// SessionCleared acknowledges ClearSession.
type SessionCleared struct{}

// Error reports a domain failure to the requesting client. It implements
// the error interface so clients can surface it directly.
type Error struct {
	Message string
}

func (e Error) Error() string { return e.Message }

func (RecordingStarted) daemonTag() string      { return "RecordingStarted" }
func (RecordingStopped) daemonTag() string      { return "RecordingStopped" }
func (TranscriptionUpdate) daemonTag() string   { return "TranscriptionUpdate" }
func (TranscriptionSession) daemonTag() string  { return "TranscriptionComplete" }
func (AudioLevel) daemonTag() string            { return "AudioLevel" }
func (VoiceActivityDetected) daemonTag() string { return "VoiceActivityDetected" }
func (VoiceActivityEnded) daemonTag() string    { return "VoiceActivityEnded" }
func (ProcessingStarted) daemonTag() string     { return "ProcessingStarted" }
func (ProcessingComplete) daemonTag() string    { return "ProcessingComplete" }
func (SessionCleared) daemonTag() string        { return "SessionCleared" }
func (Error) daemonTag() string                 { return "Error" }
func (DaemonStatus) daemonTag() string          { return "Status" }
