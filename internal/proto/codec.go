package proto

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// ProtocolError wraps any failure to decode an inbound envelope. Upper
// layers never see a raw protowire parse error, only this type.
type ProtocolError struct {
	msg string
	err error
}

func (e *ProtocolError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("proto: %s: %v", e.msg, e.err)
	}
	return fmt.Sprintf("proto: %s", e.msg)
}

func (e *ProtocolError) Unwrap() error { return e.err }

func newProtocolError(msg string, err error) *ProtocolError {
	return &ProtocolError{msg: msg, err: err}
}

var errTruncated = errors.New("truncated field")

// EncodeMessage serializes a Message to its wire bytes.
func EncodeMessage(msg *Message) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(msg.Type))
	if msg.Request != nil {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalRequest(msg.Request))
	}
	if msg.Response != nil {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalResponse(msg.Response))
	}
	return b
}

// DecodeMessage deserializes wire bytes into a Message.
//
// Empty input decodes to a default KEEPALIVE envelope without allocating
// a Request or Response; that is the wire idiom for the empty envelope.
func DecodeMessage(data []byte) (*Message, error) {
	if len(data) == 0 {
		return &Message{Type: MessageKeepalive}, nil
	}
	msg := &Message{}
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, newProtocolError("bad tag", protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, newProtocolError("bad Message.type", protowire.ParseError(n))
			}
			msg.Type = MessageType(v)
			b = b[n:]
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, newProtocolError("bad Message.request", protowire.ParseError(n))
			}
			req, err := unmarshalRequest(v)
			if err != nil {
				return nil, newProtocolError("bad Message.request", err)
			}
			msg.Request = req
			b = b[n:]
		case num == 3 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, newProtocolError("bad Message.response", protowire.ParseError(n))
			}
			resp, err := unmarshalResponse(v)
			if err != nil {
				return nil, newProtocolError("bad Message.response", err)
			}
			msg.Response = resp
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, newProtocolError("bad unknown field", protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return msg, nil
}

// BuildKeepalive returns the serialized KEEPALIVE envelope.
func BuildKeepalive() []byte {
	return EncodeMessage(&Message{Type: MessageKeepalive})
}

// BuildRequest serializes a REQUEST envelope carrying the given id, type,
// and payload (payload may be nil for GET_SETTINGS, which has no body).
func BuildRequest(id uint32, typ RequestType, req *Request) []byte {
	if req == nil {
		req = &Request{}
	}
	req.ID = id
	req.Type = typ
	return EncodeMessage(&Message{Type: MessageRequest, Request: req})
}

// ExtractResponse returns the Response payload of msg, or nil if msg is
// not a RESPONSE envelope.
func ExtractResponse(msg *Message) *Response {
	if msg.Type == MessageResponse {
		return msg.Response
	}
	return nil
}

// ExtractRequest returns the Request payload of msg, or nil if msg is not
// a REQUEST envelope (used to recognize server-initiated push events).
func ExtractRequest(msg *Message) *Request {
	if msg.Type == MessageRequest {
		return msg.Request
	}
	return nil
}

// ---------------------------------------------------------------------
// Request / Response
// ---------------------------------------------------------------------

func marshalRequest(r *Request) []byte {
	var b []byte
	b = appendVarintField(b, 1, uint64(r.ID))
	b = appendVarintField(b, 2, uint64(r.Type))
	if r.GetStatus != nil {
		b = appendBytesField(b, 10, marshalGetStatus(r.GetStatus))
	}
	if r.GetSensorData != nil {
		b = appendBytesField(b, 11, marshalGetSensorData(r.GetSensorData))
	}
	if r.GetControl != nil {
		b = appendBytesField(b, 12, marshalGetControl(r.GetControl))
	}
	if r.Settings != nil {
		b = appendBytesField(b, 13, marshalSettings(r.Settings))
	}
	if r.Control != nil {
		b = appendBytesField(b, 14, marshalControl(r.Control))
	}
	if r.Streaming != nil {
		b = appendBytesField(b, 15, marshalStreaming(r.Streaming))
	}
	for _, sd := range r.SensorData {
		b = appendBytesField(b, 16, marshalSensorData(sd))
	}
	if r.Status != nil {
		b = appendBytesField(b, 17, marshalStatus(r.Status))
	}
	return b
}

func unmarshalRequest(data []byte) (*Request, error) {
	r := &Request{}
	return r, consumeFields(data, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1:
			n, err := consumeVarintValue(typ, v)
			if err != nil {
				return err
			}
			r.ID = uint32(n)
		case 2:
			n, err := consumeVarintValue(typ, v)
			if err != nil {
				return err
			}
			r.Type = RequestType(n)
		case 10:
			sub, err := consumeBytesValue(typ, v)
			if err != nil {
				return err
			}
			r.GetStatus, err = unmarshalGetStatus(sub)
			return err
		case 11:
			sub, err := consumeBytesValue(typ, v)
			if err != nil {
				return err
			}
			r.GetSensorData, err = unmarshalGetSensorData(sub)
			return err
		case 12:
			sub, err := consumeBytesValue(typ, v)
			if err != nil {
				return err
			}
			r.GetControl, err = unmarshalGetControl(sub)
			return err
		case 13:
			sub, err := consumeBytesValue(typ, v)
			if err != nil {
				return err
			}
			r.Settings, err = unmarshalSettings(sub)
			return err
		case 14:
			sub, err := consumeBytesValue(typ, v)
			if err != nil {
				return err
			}
			r.Control, err = unmarshalControl(sub)
			return err
		case 15:
			sub, err := consumeBytesValue(typ, v)
			if err != nil {
				return err
			}
			r.Streaming, err = unmarshalStreaming(sub)
			return err
		case 16:
			sub, err := consumeBytesValue(typ, v)
			if err != nil {
				return err
			}
			sd, err := unmarshalSensorData(sub)
			if err != nil {
				return err
			}
			r.SensorData = append(r.SensorData, sd)
		case 17:
			sub, err := consumeBytesValue(typ, v)
			if err != nil {
				return err
			}
			r.Status, err = unmarshalStatus(sub)
			return err
		}
		return nil
	})
}

func marshalResponse(r *Response) []byte {
	var b []byte
	b = appendVarintField(b, 1, uint64(r.RequestID))
	b = appendVarintField(b, 2, uint64(r.RequestType))
	b = appendZigzagField(b, 3, int64(r.StatusCode))
	if r.Status != nil {
		b = appendBytesField(b, 10, marshalStatus(r.Status))
	}
	if r.Settings != nil {
		b = appendBytesField(b, 11, marshalSettings(r.Settings))
	}
	if r.Control != nil {
		b = appendBytesField(b, 12, marshalControl(r.Control))
	}
	for _, sd := range r.SensorData {
		b = appendBytesField(b, 13, marshalSensorData(sd))
	}
	return b
}

func unmarshalResponse(data []byte) (*Response, error) {
	r := &Response{}
	return r, consumeFields(data, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1:
			n, err := consumeVarintValue(typ, v)
			if err != nil {
				return err
			}
			r.RequestID = uint32(n)
		case 2:
			n, err := consumeVarintValue(typ, v)
			if err != nil {
				return err
			}
			r.RequestType = RequestType(n)
		case 3:
			n, err := consumeVarintValue(typ, v)
			if err != nil {
				return err
			}
			r.StatusCode = int32(protowire.DecodeZigZag(n))
		case 10:
			sub, err := consumeBytesValue(typ, v)
			if err != nil {
				return err
			}
			r.Status, err = unmarshalStatus(sub)
			return err
		case 11:
			sub, err := consumeBytesValue(typ, v)
			if err != nil {
				return err
			}
			r.Settings, err = unmarshalSettings(sub)
			return err
		case 12:
			sub, err := consumeBytesValue(typ, v)
			if err != nil {
				return err
			}
			r.Control, err = unmarshalControl(sub)
			return err
		case 13:
			sub, err := consumeBytesValue(typ, v)
			if err != nil {
				return err
			}
			sd, err := unmarshalSensorData(sub)
			if err != nil {
				return err
			}
			r.SensorData = append(r.SensorData, sd)
		}
		return nil
	})
}

// ---------------------------------------------------------------------
// Leaf message types
// ---------------------------------------------------------------------

func marshalGetStatus(v *GetStatus) []byte {
	var b []byte
	b = appendBoolField(b, 1, v.All)
	return b
}

func unmarshalGetStatus(data []byte) (*GetStatus, error) {
	v := &GetStatus{}
	return v, consumeFields(data, func(num protowire.Number, typ protowire.Type, raw []byte) error {
		if num == 1 {
			n, err := consumeVarintValue(typ, raw)
			if err != nil {
				return err
			}
			v.All = n != 0
		}
		return nil
	})
}

func marshalGetSensorData(v *GetSensorData) []byte {
	var b []byte
	b = appendBoolField(b, 1, v.All)
	return b
}

func unmarshalGetSensorData(data []byte) (*GetSensorData, error) {
	v := &GetSensorData{}
	return v, consumeFields(data, func(num protowire.Number, typ protowire.Type, raw []byte) error {
		if num == 1 {
			n, err := consumeVarintValue(typ, raw)
			if err != nil {
				return err
			}
			v.All = n != 0
		}
		return nil
	})
}

func marshalGetControl(v *GetControl) []byte {
	var b []byte
	b = appendBoolField(b, 1, v.NightLight)
	return b
}

func unmarshalGetControl(data []byte) (*GetControl, error) {
	v := &GetControl{}
	return v, consumeFields(data, func(num protowire.Number, typ protowire.Type, raw []byte) error {
		if num == 1 {
			n, err := consumeVarintValue(typ, raw)
			if err != nil {
				return err
			}
			v.NightLight = n != 0
		}
		return nil
	})
}

func marshalControlSensorDataTransfer(v *ControlSensorDataTransfer) []byte {
	var b []byte
	b = appendBoolField(b, 1, v.Sound)
	b = appendBoolField(b, 2, v.Motion)
	b = appendBoolField(b, 3, v.Temperature)
	b = appendBoolField(b, 4, v.Humidity)
	b = appendBoolField(b, 5, v.Light)
	b = appendBoolField(b, 6, v.Night)
	return b
}

func unmarshalControlSensorDataTransfer(data []byte) (*ControlSensorDataTransfer, error) {
	v := &ControlSensorDataTransfer{}
	return v, consumeFields(data, func(num protowire.Number, typ protowire.Type, raw []byte) error {
		n, err := consumeVarintValue(typ, raw)
		if err != nil {
			return err
		}
		set := n != 0
		switch num {
		case 1:
			v.Sound = set
		case 2:
			v.Motion = set
		case 3:
			v.Temperature = set
		case 4:
			v.Humidity = set
		case 5:
			v.Light = set
		case 6:
			v.Night = set
		}
		return nil
	})
}

func marshalControl(v *Control) []byte {
	var b []byte
	if v.NightLight != nil {
		b = appendZigzagField(b, 1, int64(*v.NightLight))
	}
	if v.NightLightTimeout != nil {
		b = appendZigzagField(b, 2, int64(*v.NightLightTimeout))
	}
	if v.SensorDataTransfer != nil {
		b = appendBytesField(b, 3, marshalControlSensorDataTransfer(v.SensorDataTransfer))
	}
	return b
}

func unmarshalControl(data []byte) (*Control, error) {
	v := &Control{}
	return v, consumeFields(data, func(num protowire.Number, typ protowire.Type, raw []byte) error {
		switch num {
		case 1:
			n, err := consumeVarintValue(typ, raw)
			if err != nil {
				return err
			}
			x := int32(protowire.DecodeZigZag(n))
			v.NightLight = &x
		case 2:
			n, err := consumeVarintValue(typ, raw)
			if err != nil {
				return err
			}
			x := int32(protowire.DecodeZigZag(n))
			v.NightLightTimeout = &x
		case 3:
			sub, err := consumeBytesValue(typ, raw)
			if err != nil {
				return err
			}
			sdt, err := unmarshalControlSensorDataTransfer(sub)
			if err != nil {
				return err
			}
			v.SensorDataTransfer = sdt
		}
		return nil
	})
}

func marshalSettings(v *Settings) []byte {
	var b []byte
	if v.NightVision != nil {
		b = appendBoolField(b, 1, *v.NightVision)
	}
	if v.Volume != nil {
		b = appendZigzagField(b, 2, int64(*v.Volume))
	}
	if v.SleepMode != nil {
		b = appendBoolField(b, 3, *v.SleepMode)
	}
	if v.StatusLightOn != nil {
		b = appendBoolField(b, 4, *v.StatusLightOn)
	}
	if v.MicMuteOn != nil {
		b = appendBoolField(b, 5, *v.MicMuteOn)
	}
	if v.WifiBand != nil {
		b = appendZigzagField(b, 6, int64(*v.WifiBand))
	}
	if v.MountingMode != nil {
		b = appendZigzagField(b, 7, int64(*v.MountingMode))
	}
	return b
}

func unmarshalSettings(data []byte) (*Settings, error) {
	v := &Settings{}
	return v, consumeFields(data, func(num protowire.Number, typ protowire.Type, raw []byte) error {
		switch num {
		case 1:
			n, err := consumeVarintValue(typ, raw)
			if err != nil {
				return err
			}
			x := n != 0
			v.NightVision = &x
		case 2:
			n, err := consumeVarintValue(typ, raw)
			if err != nil {
				return err
			}
			x := int32(protowire.DecodeZigZag(n))
			v.Volume = &x
		case 3:
			n, err := consumeVarintValue(typ, raw)
			if err != nil {
				return err
			}
			x := n != 0
			v.SleepMode = &x
		case 4:
			n, err := consumeVarintValue(typ, raw)
			if err != nil {
				return err
			}
			x := n != 0
			v.StatusLightOn = &x
		case 5:
			n, err := consumeVarintValue(typ, raw)
			if err != nil {
				return err
			}
			x := n != 0
			v.MicMuteOn = &x
		case 6:
			n, err := consumeVarintValue(typ, raw)
			if err != nil {
				return err
			}
			x := int32(protowire.DecodeZigZag(n))
			v.WifiBand = &x
		case 7:
			n, err := consumeVarintValue(typ, raw)
			if err != nil {
				return err
			}
			x := int32(protowire.DecodeZigZag(n))
			v.MountingMode = &x
		}
		return nil
	})
}

func marshalStatus(v *Status) []byte {
	var b []byte
	if v.ConnectionToServer != nil {
		b = appendZigzagField(b, 1, int64(*v.ConnectionToServer))
	}
	if v.CurrentVersion != nil {
		b = appendStringField(b, 2, *v.CurrentVersion)
	}
	if v.HardwareVersion != nil {
		b = appendStringField(b, 3, *v.HardwareVersion)
	}
	if v.Mode != nil {
		b = appendZigzagField(b, 4, int64(*v.Mode))
	}
	return b
}

func unmarshalStatus(data []byte) (*Status, error) {
	v := &Status{}
	return v, consumeFields(data, func(num protowire.Number, typ protowire.Type, raw []byte) error {
		switch num {
		case 1:
			n, err := consumeVarintValue(typ, raw)
			if err != nil {
				return err
			}
			x := int32(protowire.DecodeZigZag(n))
			v.ConnectionToServer = &x
		case 2:
			s, err := consumeStringValue(typ, raw)
			if err != nil {
				return err
			}
			v.CurrentVersion = &s
		case 3:
			s, err := consumeStringValue(typ, raw)
			if err != nil {
				return err
			}
			v.HardwareVersion = &s
		case 4:
			n, err := consumeVarintValue(typ, raw)
			if err != nil {
				return err
			}
			x := int32(protowire.DecodeZigZag(n))
			v.Mode = &x
		}
		return nil
	})
}

func marshalSensorData(v *SensorData) []byte {
	var b []byte
	b = appendVarintField(b, 1, uint64(v.SensorType))
	if v.Value != nil {
		b = appendZigzagField(b, 2, int64(*v.Value))
	}
	if v.ValueMilli != nil {
		b = appendZigzagField(b, 3, int64(*v.ValueMilli))
	}
	if v.IsAlert != nil {
		b = appendBoolField(b, 4, *v.IsAlert)
	}
	return b
}

func unmarshalSensorData(data []byte) (*SensorData, error) {
	v := &SensorData{}
	return v, consumeFields(data, func(num protowire.Number, typ protowire.Type, raw []byte) error {
		switch num {
		case 1:
			n, err := consumeVarintValue(typ, raw)
			if err != nil {
				return err
			}
			v.SensorType = SensorType(n)
		case 2:
			n, err := consumeVarintValue(typ, raw)
			if err != nil {
				return err
			}
			x := int32(protowire.DecodeZigZag(n))
			v.Value = &x
		case 3:
			n, err := consumeVarintValue(typ, raw)
			if err != nil {
				return err
			}
			x := int32(protowire.DecodeZigZag(n))
			v.ValueMilli = &x
		case 4:
			n, err := consumeVarintValue(typ, raw)
			if err != nil {
				return err
			}
			x := n != 0
			v.IsAlert = &x
		}
		return nil
	})
}

func marshalStreaming(v *Streaming) []byte {
	var b []byte
	b = appendVarintField(b, 1, uint64(v.ID))
	b = appendVarintField(b, 2, uint64(v.Status))
	b = appendStringField(b, 3, v.RtmpURL)
	return b
}

func unmarshalStreaming(data []byte) (*Streaming, error) {
	v := &Streaming{}
	return v, consumeFields(data, func(num protowire.Number, typ protowire.Type, raw []byte) error {
		switch num {
		case 1:
			n, err := consumeVarintValue(typ, raw)
			if err != nil {
				return err
			}
			v.ID = int32(n)
		case 2:
			n, err := consumeVarintValue(typ, raw)
			if err != nil {
				return err
			}
			v.Status = int32(n)
		case 3:
			s, err := consumeStringValue(typ, raw)
			if err != nil {
				return err
			}
			v.RtmpURL = s
		}
		return nil
	})
}

// ---------------------------------------------------------------------
// protowire helpers
// ---------------------------------------------------------------------

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendZigzagField(b []byte, num protowire.Number, v int64) []byte {
	return appendVarintField(b, num, protowire.EncodeZigZag(v))
}

func appendBoolField(b []byte, num protowire.Number, v bool) []byte {
	var n uint64
	if v {
		n = 1
	}
	return appendVarintField(b, num, n)
}

func appendStringField(b []byte, num protowire.Number, v string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

// consumeFields walks every top-level field in data, invoking fn with
// the field's raw encoded value bytes (not including the tag). Unknown
// field numbers are passed through fn, which is free to ignore them.
func consumeFields(data []byte, fn func(num protowire.Number, typ protowire.Type, raw []byte) error) error {
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		valLen := protowire.ConsumeFieldValue(num, typ, b)
		if valLen < 0 {
			return protowire.ParseError(valLen)
		}
		if err := fn(num, typ, b[:valLen]); err != nil {
			return err
		}
		b = b[valLen:]
	}
	return nil
}

func consumeVarintValue(typ protowire.Type, raw []byte) (uint64, error) {
	if typ != protowire.VarintType {
		return 0, errTruncated
	}
	v, n := protowire.ConsumeVarint(raw)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	return v, nil
}

func consumeBytesValue(typ protowire.Type, raw []byte) ([]byte, error) {
	if typ != protowire.BytesType {
		return nil, errTruncated
	}
	v, n := protowire.ConsumeBytes(raw)
	if n < 0 {
		return nil, protowire.ParseError(n)
	}
	return v, nil
}

func consumeStringValue(typ protowire.Type, raw []byte) (string, error) {
	v, err := consumeBytesValue(typ, raw)
	if err != nil {
		return "", err
	}
	return string(v), nil
}
