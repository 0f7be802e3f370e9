package models

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrUnknownKind    = errors.New("unknown event type")
)

// WebSocketMessage is the frame envelope used in both directions:
//
//	{"type": "group_chat_message", "data": {...}}
type WebSocketMessage struct {
	Type Kind `json:"type"`
	Data any  `json:"data"`
}

// DecodeRequest parses a client text frame into a validated request.
func DecodeRequest(frame []byte) (Request, error) {
	if !gjson.ValidBytes(frame) {
		return nil, ErrMalformedFrame
	}

	kind := gjson.GetBytes(frame, "type")
	if kind.Type != gjson.String {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}
	data := gjson.GetBytes(frame, "data")
	if !data.IsObject() {
		return nil, fmt.Errorf("%w: missing data object", ErrMalformedFrame)
	}
	raw := []byte(data.Raw)

	var (
		req Request
		err error
	)
	switch Kind(kind.Str) {
	case KindDirectChat:
		req, err = decodeAs[DirectChatMessageRequest](raw)
	case KindGroupChat:
		req, err = decodeAs[GroupChatMessageRequest](raw)
	case KindAddItems:
		req, err = decodeAs[AddItemsRequest](raw)
	case KindRemoveItems:
		req, err = decodeAs[RemoveItemsMessage](raw)
	case KindJoinGroup:
		req, err = decodeAs[JoinGroupRequest](raw)
	case KindApproveJoin:
		req, err = decodeAs[ApproveJoin](raw)
	case KindCreateGroup:
		req, err = decodeAs[CreateGroupRequest](raw)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind.Str)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return req, nil
}

func decodeAs[T Request](raw []byte) (Request, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// EncodeResponse serializes a response into an outbound frame.
func EncodeResponse(resp Response) ([]byte, error) {
	return json.Marshal(WebSocketMessage{Type: resp.Kind(), Data: resp})
}

// EncodeRequest serializes a request frame, as a client would send it.
func EncodeRequest(req Request) ([]byte, error) {
	return json.Marshal(WebSocketMessage{Type: req.Kind(), Data: req})
}
