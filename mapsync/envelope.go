package mapsync

import (
	"encoding/json"
	"fmt"

	"github.com/oklog/ulid/v2"
)

// Id identifies one feature across all clients. Ids are allocated by
// the client session that creates the feature and are immutable after
// that.
type Id string

// ulids are sortable by create time, which makes logs of concurrent
// sessions easy to follow
func NewId() Id {
	return Id(ulid.Make().String())
}

func (self Id) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(self))
}

// some peers encode ids as json numbers. Accept both.
func (self *Id) UnmarshalJSON(src []byte) error {
	if len(src) == 0 {
		return fmt.Errorf("empty id")
	}
	if src[0] == '"' {
		var idStr string
		if err := json.Unmarshal(src, &idStr); err != nil {
			return err
		}
		*self = Id(idStr)
		return nil
	}
	var idNumber json.Number
	if err := json.Unmarshal(src, &idNumber); err != nil {
		return fmt.Errorf("cannot parse id %s", string(src))
	}
	*self = Id(idNumber.String())
	return nil
}

type MessageType string

const (
	MessageTypeAdd     MessageType = "add"
	MessageTypeModify  MessageType = "modify"
	MessageTypeRemove  MessageType = "remove"
	MessageTypeBulkAdd MessageType = "bulkAdd"
)

// Envelope is the wire message carried on the broadcast channel.
// The body is always utf-8 json.
type Envelope struct {
	Type MessageType     `json:"type"`
	Id   Id              `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

func NewEnvelope(messageType MessageType, data any, id Id) (*Envelope, error) {
	envelope := &Envelope{
		Type: messageType,
	}
	switch messageType {
	case MessageTypeAdd:
		feature, ok := data.(*Feature)
		if !ok {
			return nil, fmt.Errorf("add data must be a feature: %T", data)
		}
		dataBytes, err := json.Marshal(feature)
		if err != nil {
			return nil, err
		}
		envelope.Data = dataBytes
	case MessageTypeModify:
		feature, ok := data.(*Feature)
		if !ok {
			return nil, fmt.Errorf("modify data must be a feature: %T", data)
		}
		if id == "" {
			id = feature.Id
		}
		dataBytes, err := json.Marshal(feature)
		if err != nil {
			return nil, err
		}
		envelope.Id = id
		envelope.Data = dataBytes
	case MessageTypeRemove:
		if id == "" {
			return nil, fmt.Errorf("remove requires an id")
		}
		envelope.Id = id
	case MessageTypeBulkAdd:
		features, ok := data.([]*Feature)
		if !ok {
			return nil, fmt.Errorf("bulkAdd data must be an array of features: %T", data)
		}
		if features == nil {
			features = []*Feature{}
		}
		dataBytes, err := json.Marshal(features)
		if err != nil {
			return nil, err
		}
		envelope.Data = dataBytes
	default:
		return nil, fmt.Errorf("unknown message type: %s", messageType)
	}
	return envelope, nil
}

func EncodeEnvelope(messageType MessageType, data any, id Id) ([]byte, error) {
	envelope, err := NewEnvelope(messageType, data, id)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope)
}

func DecodeEnvelope(envelopeBytes []byte) (*Envelope, error) {
	envelope := &Envelope{}
	if err := json.Unmarshal(envelopeBytes, envelope); err != nil {
		return nil, err
	}
	switch envelope.Type {
	case MessageTypeAdd, MessageTypeModify, MessageTypeRemove, MessageTypeBulkAdd:
	default:
		return nil, fmt.Errorf("unknown message type: %s", envelope.Type)
	}
	return envelope, nil
}

// json null unmarshals into slices and structs as a no-op,
// so the payload shape has to be checked before decoding
func leadingJsonByte(data json.RawMessage) byte {
	for _, b := range data {
		switch b {
		case ' ', '\t', '\r', '\n':
		default:
			return b
		}
	}
	return 0
}

// Feature decodes the payload of an add or modify envelope.
// A payload that is not an object is an error, never a zero feature.
func (self *Envelope) Feature() (*Feature, error) {
	if len(self.Data) == 0 {
		return nil, fmt.Errorf("%s envelope has no data", self.Type)
	}
	if leadingJsonByte(self.Data) != '{' {
		return nil, fmt.Errorf("%s data must be an object", self.Type)
	}
	feature := &Feature{}
	if err := json.Unmarshal(self.Data, feature); err != nil {
		return nil, err
	}
	return feature, nil
}

// Features decodes the payload of a bulkAdd envelope.
// A payload that is not an array is an error, never a partial result.
func (self *Envelope) Features() ([]*Feature, error) {
	if len(self.Data) == 0 {
		return nil, fmt.Errorf("%s envelope has no data", self.Type)
	}
	if leadingJsonByte(self.Data) != '[' {
		return nil, fmt.Errorf("%s data must be an array", self.Type)
	}
	features := []*Feature{}
	if err := json.Unmarshal(self.Data, &features); err != nil {
		return nil, err
	}
	return features, nil
}
