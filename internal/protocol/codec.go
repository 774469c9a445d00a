package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

// MaxFrameSize caps the declared payload length of a single frame. The
// original protocol read unbounded lengths; the cap bounds memory against a
// misbehaving peer while still fitting many minutes of raw audio.
const MaxFrameSize = 64 << 20

var (
	// ErrTruncated reports a stream that closed before a full frame arrived.
	ErrTruncated = errors.New("protocol: truncated frame")
	// ErrMalformed reports a complete frame whose payload failed to decode.
	ErrMalformed = errors.New("protocol: malformed payload")
	// ErrFrameTooLarge reports a declared length above MaxFrameSize.
	ErrFrameTooLarge = errors.New("protocol: frame exceeds size limit")
)

// WriteClient encodes one client message as a length-prefixed frame.
func WriteClient(w io.Writer, msg ClientMessage) error {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := encodeClient(enc, msg); err != nil {
		return fmt.Errorf("encode %s: %w", msg.clientTag(), err)
	}
	return writeFrame(w, buf.Bytes())
}

// WriteDaemon encodes one daemon message as a length-prefixed frame.
func WriteDaemon(w io.Writer, msg DaemonMessage) error {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := encodeDaemon(enc, msg); err != nil {
		return fmt.Errorf("encode %s: %w", msg.daemonTag(), err)
	}
	return writeFrame(w, buf.Bytes())
}

// ReadClient reads exactly one frame and decodes a client message from it.
// A clean close before the length prefix is reported as io.EOF.
func ReadClient(r io.Reader) (ClientMessage, error) {
	payload, err := readFrame(r)
	if err != nil {
		return nil, err
	}
	return decodeClient(payload)
}

// ReadDaemon reads exactly one frame and decodes a daemon message from it.
func ReadDaemon(r io.Reader) (DaemonMessage, error) {
	payload, err := readFrame(r)
	if err != nil {
		return nil, err
	}
	return decodeDaemon(payload)
}

func writeFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}
	var prefix [4]byte
	binary.LittleEndian.PutUint32(prefix[:], uint32(len(payload)))
	if _, err := w.Write(prefix[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	length := binary.LittleEndian.Uint32(prefix[:])
	if length > MaxFrameSize {
		return nil, fmt.Errorf("%w: declared %d bytes", ErrFrameTooLarge, length)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	return payload, nil
}

func encodeClient(enc *msgpack.Encoder, msg ClientMessage) error {
	switch m := msg.(type) {
	case StartRecording, StopRecording, GetStatus, ClearSession, Shutdown:
		return enc.EncodeString(msg.clientTag())
	case AudioChunk:
		return encodeTagged(enc, m.clientTag(), &m)
	case SetSensitivity:
		return encodeTagged(enc, m.clientTag(), m.Value)
	default:
		return fmt.Errorf("unsupported client message %T", msg)
	}
}

func encodeDaemon(enc *msgpack.Encoder, msg DaemonMessage) error {
	switch m := msg.(type) {
	case RecordingStopped, VoiceActivityDetected, VoiceActivityEnded,
		ProcessingStarted, ProcessingComplete, SessionCleared:
		return enc.EncodeString(msg.daemonTag())
	case RecordingStarted:
		return encodeTagged(enc, m.daemonTag(), m.SessionID)
	case TranscriptionUpdate:
		return encodeTagged(enc, m.daemonTag(), &m)
	case TranscriptionSession:
		return encodeTagged(enc, m.daemonTag(), &m)
	case AudioLevel:
		return encodeTagged(enc, m.daemonTag(), m.Level)
	case Error:
		return encodeTagged(enc, m.daemonTag(), m.Message)
	case DaemonStatus:
		return encodeTagged(enc, m.daemonTag(), &m)
	default:
		return fmt.Errorf("unsupported daemon message %T", msg)
	}
}

func encodeTagged(enc *msgpack.Encoder, tag string, payload any) error {
	if err := enc.EncodeMapLen(1); err != nil {
		return err
	}
	if err := enc.EncodeString(tag); err != nil {
		return err
	}
	return enc.Encode(payload)
}

func decodeClient(payload []byte) (ClientMessage, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(payload))
	tag, tagged, err := decodeVariantTag(dec)
	if err != nil {
		return nil, malformed(err)
	}
	switch tag {
	case "StartRecording":
		return StartRecording{}, expectUnit(tag, tagged)
	case "StopRecording":
		return StopRecording{}, expectUnit(tag, tagged)
	case "GetStatus":
		return GetStatus{}, expectUnit(tag, tagged)
	case "ClearSession":
		return ClearSession{}, expectUnit(tag, tagged)
	case "Shutdown":
		return Shutdown{}, expectUnit(tag, tagged)
	case "StreamAudio":
		var chunk AudioChunk
		if err := decodePayload(dec, tag, tagged, &chunk); err != nil {
			return nil, err
		}
		return chunk, nil
	case "SetSensitivity":
		var value float32
		if err := decodePayload(dec, tag, tagged, &value); err != nil {
			return nil, err
		}
		return SetSensitivity{Value: value}, nil
	default:
		return nil, malformed(fmt.Errorf("unknown client tag %q", tag))
	}
}

func decodeDaemon(payload []byte) (DaemonMessage, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(payload))
	tag, tagged, err := decodeVariantTag(dec)
	if err != nil {
		return nil, malformed(err)
	}
	switch tag {
	case "RecordingStopped":
		return RecordingStopped{}, expectUnit(tag, tagged)
	case "VoiceActivityDetected":
		return VoiceActivityDetected{}, expectUnit(tag, tagged)
	case "VoiceActivityEnded":
		return VoiceActivityEnded{}, expectUnit(tag, tagged)
	case "ProcessingStarted":
		return ProcessingStarted{}, expectUnit(tag, tagged)
	case "ProcessingComplete":
		return ProcessingComplete{}, expectUnit(tag, tagged)
	case "SessionCleared":
		return SessionCleared{}, expectUnit(tag, tagged)
	case "RecordingStarted":
		var id string
		if err := decodePayload(dec, tag, tagged, &id); err != nil {
			return nil, err
		}
		return RecordingStarted{SessionID: id}, nil
	case "TranscriptionUpdate":
		var update TranscriptionUpdate
		if err := decodePayload(dec, tag, tagged, &update); err != nil {
			return nil, err
		}
		return update, nil
	case "TranscriptionComplete":
		var session TranscriptionSession
		if err := decodePayload(dec, tag, tagged, &session); err != nil {
			return nil, err
		}
		return session, nil
	case "AudioLevel":
		var level float32
		if err := decodePayload(dec, tag, tagged, &level); err != nil {
			return nil, err
		}
		return AudioLevel{Level: level}, nil
	case "Error":
		var message string
		if err := decodePayload(dec, tag, tagged, &message); err != nil {
			return nil, err
		}
		return Error{Message: message}, nil
	case "Status":
		var status DaemonStatus
		if err := decodePayload(dec, tag, tagged, &status); err != nil {
			return nil, err
		}
		return status, nil
	default:
		return nil, malformed(fmt.Errorf("unknown daemon tag %q", tag))
	}
}

// decodeVariantTag reads the head of an externally tagged value: either a
// bare tag string or the key of a single-entry map whose value follows.
func decodeVariantTag(dec *msgpack.Decoder) (tag string, tagged bool, err error) {
	code, err := dec.PeekCode()
	if err != nil {
		return "", false, err
	}
	switch {
	case msgpcode.IsString(code):
		tag, err = dec.DecodeString()
		return tag, false, err
	case msgpcode.IsFixedMap(code) || code == msgpcode.Map16 || code == msgpcode.Map32:
		n, err := dec.DecodeMapLen()
		if err != nil {
			return "", false, err
		}
		if n != 1 {
			return "", false, fmt.Errorf("variant map has %d entries", n)
		}
		tag, err = dec.DecodeString()
		return tag, true, err
	default:
		return "", false, fmt.Errorf("unexpected code 0x%02x at variant head", code)
	}
}

func decodePayload(dec *msgpack.Decoder, tag string, tagged bool, dst any) error {
	if !tagged {
		return malformed(fmt.Errorf("variant %q requires a payload", tag))
	}
	if err := dec.Decode(dst); err != nil {
		return malformed(fmt.Errorf("variant %q payload: %v", tag, err))
	}
	return nil
}

func expectUnit(tag string, tagged bool) error {
	if tagged {
		return malformed(fmt.Errorf("variant %q carries an unexpected payload", tag))
	}
	return nil
}

func malformed(err error) error {
	return fmt.Errorf("%w: %v", ErrMalformed, err)
}
