package ipc

import (
	"fmt"
	"net"
	"time"

	"murmur/internal/protocol"
)

// Client is a typed wrapper over one daemon connection. It is not safe for
// concurrent use; the CLI opens one client per command.
type Client struct {
	conn net.Conn
}

// Dial connects to the daemon socket.
func Dial(path string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, timeout)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon at %s: %w", path, err)
	}
	return &Client{conn: conn}, nil
}

// Close releases the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// roundTrip sends one message and reads frames until the reply, discarding
// interleaved notifications (audio levels, voice activity, processing
// phases).
func (c *Client) roundTrip(msg protocol.ClientMessage) (protocol.DaemonMessage, error) {
	if err := protocol.WriteClient(c.conn, msg); err != nil {
		return nil, err
	}
	for {
		frame, err := protocol.ReadDaemon(c.conn)
		if err != nil {
			return nil, err
		}
		if isNotification(frame) {
			continue
		}
		return frame, nil
	}
}

func isNotification(msg protocol.DaemonMessage) bool {
	switch msg.(type) {
	case protocol.AudioLevel, protocol.VoiceActivityDetected, protocol.VoiceActivityEnded,
		protocol.ProcessingStarted, protocol.ProcessingComplete:
		return true
	default:
		return false
	}
}

// StartRecording opens a session and returns its identifier.
func (c *Client) StartRecording() (string, error) {
	reply, err := c.roundTrip(protocol.StartRecording{})
	if err != nil {
		return "", err
	}
	switch m := reply.(type) {
	case protocol.RecordingStarted:
		return m.SessionID, nil
	case protocol.Error:
		return "", m
	default:
		return "", fmt.Errorf("unexpected reply %T", reply)
	}
}

// StreamAudio sends one chunk of samples and waits for the acknowledgement.
func (c *Client) StreamAudio(chunk protocol.AudioChunk) (protocol.TranscriptionUpdate, error) {
	reply, err := c.roundTrip(chunk)
	if err != nil {
		return protocol.TranscriptionUpdate{}, err
	}
	switch m := reply.(type) {
	case protocol.TranscriptionUpdate:
		return m, nil
	case protocol.Error:
		return protocol.TranscriptionUpdate{}, m
	default:
		return protocol.TranscriptionUpdate{}, fmt.Errorf("unexpected reply %T", reply)
	}
}

// StopRecording finalizes all sessions. The result is non-nil when exactly
// one session produced a transcript.
func (c *Client) StopRecording() (*protocol.TranscriptionSession, error) {
	reply, err := c.roundTrip(protocol.StopRecording{})
	if err != nil {
		return nil, err
	}
	switch m := reply.(type) {
	case protocol.TranscriptionSession:
		return &m, nil
	case protocol.RecordingStopped:
		return nil, nil
	case protocol.Error:
		return nil, m
	default:
		return nil, fmt.Errorf("unexpected reply %T", reply)
	}
}

// Status fetches a daemon status snapshot.
func (c *Client) Status() (protocol.DaemonStatus, error) {
	reply, err := c.roundTrip(protocol.GetStatus{})
	if err != nil {
		return protocol.DaemonStatus{}, err
	}
	switch m := reply.(type) {
	case protocol.DaemonStatus:
		return m, nil
	case protocol.Error:
		return protocol.DaemonStatus{}, m
	default:
		return protocol.DaemonStatus{}, fmt.Errorf("unexpected reply %T", reply)
	}
}

// ClearSession discards all buffered sessions without transcription.
func (c *Client) ClearSession() error {
	reply, err := c.roundTrip(protocol.ClearSession{})
	if err != nil {
		return err
	}
	switch m := reply.(type) {
	case protocol.SessionCleared:
		return nil
	case protocol.Error:
		return m
	default:
		return fmt.Errorf("unexpected reply %T", reply)
	}
}

// SetSensitivity updates the voice-detection threshold and returns the
// resulting status snapshot.
func (c *Client) SetSensitivity(value float32) (protocol.DaemonStatus, error) {
	reply, err := c.roundTrip(protocol.SetSensitivity{Value: value})
	if err != nil {
		return protocol.DaemonStatus{}, err
	}
	switch m := reply.(type) {
	case protocol.DaemonStatus:
		return m, nil
	case protocol.Error:
		return protocol.DaemonStatus{}, m
	default:
		return protocol.DaemonStatus{}, fmt.Errorf("unexpected reply %T", reply)
	}
}

// Shutdown asks the daemon to terminate. No reply is expected; the daemon
// closes the connection as it exits.
func (c *Client) Shutdown() error {
	return protocol.WriteClient(c.conn, protocol.Shutdown{})
}
