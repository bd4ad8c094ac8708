package ipc

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	serviceName = "voiceqa.control.v1.Control"
	methodDo    = "/" + serviceName + "/Do"
)

type Request struct {
	Command string `json:"command"`
}

type Response struct {
	OK            bool            `json:"ok"`
	State         string          `json:"state,omitempty"`
	Listening     bool            `json:"listening,omitempty"`
	Message       string          `json:"message,omitempty"`
	Error         string          `json:"error,omitempty"`
	InteractionID string          `json:"interaction_id,omitempty"`
	Result        json.RawMessage `json:"result,omitempty"`
}

// toStruct converts a JSON-tagged value into the protobuf wire message.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	msg := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, msg); err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return msg, nil
}

// fromStruct decodes a protobuf wire message into a JSON-tagged value.
func fromStruct(msg *structpb.Struct, v any) error {
	if msg == nil {
		msg = &structpb.Struct{}
	}
	raw, err := protojson.Marshal(msg)
	if err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	return nil
}
