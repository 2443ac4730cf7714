package session

import (
	"bytes"
	"fmt"

	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/api/schemas"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// EncodeFrame serializes v as one line-delimited JSON frame.
func EncodeFrame(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return append(b, '\n'), nil
}

// SplitFrames returns the non-empty lines of a websocket message. A single
// message may carry several frames.
func SplitFrames(message []byte) [][]byte {
	var frames [][]byte
	for _, line := range bytes.Split(message, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			frames = append(frames, line)
		}
	}
	return frames
}

// FrameType extracts the "type" member of a frame without decoding the rest.
func FrameType(frame []byte) string {
	return json.Get(frame, "type").ToString()
}

// IsControlFrame reports whether frame is a heartbeat or the controller's
// greeting; neither expects a reply.
func IsControlFrame(frame []byte) bool {
	if json.Get(frame, "command_id").ValueType() != jsoniter.InvalidValue {
		return false
	}
	switch schemas.FrameType(FrameType(frame)) {
	case schemas.FrameHeartbeat, schemas.FrameConnected:
		return true
	}
	return false
}

// DecodeCommand parses a command frame.
func DecodeCommand(frame []byte) (schemas.Command, error) {
	var cmd schemas.Command
	if err := json.Unmarshal(frame, &cmd); err != nil {
		return schemas.Command{}, fmt.Errorf("malformed command frame: %w", err)
	}
	return cmd, nil
}
