package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DecodeInbound parses one client frame. Unknown fields are ignored, a
// missing type is an error.
func DecodeInbound(data []byte) (InboundFrame, error) {
	var frame InboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return InboundFrame{}, fmt.Errorf("decode frame: %w", err)
	}
	if frame.Type == "" {
		return InboundFrame{}, fmt.Errorf("decode frame: missing type")
	}
	if bytes.Equal(frame.Payload, []byte("null")) {
		frame.Payload = nil
	}
	return frame, nil
}

func EncodeInbound(frame InboundFrame) ([]byte, error) {
	return json.Marshal(frame)
}

func DecodeOutbound(data []byte) (OutboundFrame, error) {
	var frame OutboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return OutboundFrame{}, fmt.Errorf("decode frame: %w", err)
	}
	return frame, nil
}

func EncodeOutbound(frame OutboundFrame) ([]byte, error) {
	return json.Marshal(frame)
}
