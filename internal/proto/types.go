// Package proto implements the binary envelope used on the Nanit camera
// WebSocket channel: a Message carrying either a KEEPALIVE marker, a
// REQUEST, or a RESPONSE, with request/response payloads that vary by
// request type.
//
// No .proto schema ships with this project, so the wire format below is
// encoded and decoded by hand with protowire rather than generated by
// protoc. Field numbers are assigned here and are stable within this
// codec; they are not guaranteed to match the camera's real wire schema
// bit-for-bit (see DESIGN.md).
package proto

// MessageType is the Message.type discriminator.
type MessageType int32

const (
	MessageKeepalive MessageType = 0
	MessageRequest   MessageType = 1
	MessageResponse  MessageType = 2
)

// RequestType identifies the payload carried by a Request or mirrored in
// a Response.
type RequestType int32

const (
	RequestGetStatus     RequestType = 0
	RequestGetSettings   RequestType = 1
	RequestGetControl    RequestType = 2
	RequestGetSensorData RequestType = 3
	RequestPutStatus     RequestType = 4
	RequestPutSettings   RequestType = 5
	RequestPutControl    RequestType = 6
	RequestPutSensorData RequestType = 7
	RequestPutStreaming  RequestType = 8
)

var requestTypeNames = map[RequestType]string{
	RequestGetStatus:     "GET_STATUS",
	RequestGetSettings:   "GET_SETTINGS",
	RequestGetControl:    "GET_CONTROL",
	RequestGetSensorData: "GET_SENSOR_DATA",
	RequestPutStatus:     "PUT_STATUS",
	RequestPutSettings:   "PUT_SETTINGS",
	RequestPutControl:    "PUT_CONTROL",
	RequestPutSensorData: "PUT_SENSOR_DATA",
	RequestPutStreaming:  "PUT_STREAMING",
}

func (t RequestType) String() string {
	if name, ok := requestTypeNames[t]; ok {
		return name
	}
	return "UNKNOWN"
}

// SensorType identifies which sensor a SensorData entry reports on.
type SensorType int32

const (
	SensorSound       SensorType = 0
	SensorMotion      SensorType = 1
	SensorTemperature SensorType = 2
	SensorHumidity    SensorType = 3
	SensorLight       SensorType = 4
	SensorNight       SensorType = 5
)

// Night-light and mounting-mode enums mirrored on the wire as int32.
const (
	NightLightOff int32 = 0
	NightLightOn  int32 = 1
)

const (
	WifiBandAny   int32 = 0
	WifiBand24GHz int32 = 1
	WifiBand5GHz  int32 = 2
)

const (
	MountingStand  int32 = 0
	MountingTravel int32 = 1
	MountingSwitch int32 = 2
)

const (
	ConnectionDisconnected int32 = 0
	ConnectionConnected    int32 = 1
)

const (
	StreamIdentifierMobile int32 = 0
)

const (
	StreamingStarted int32 = 0
	StreamingStopped int32 = 1
	StreamingPaused  int32 = 2
)

// GetStatus is the GET_STATUS request payload.
type GetStatus struct {
	All bool
}

// GetSensorData is the GET_SENSOR_DATA request payload.
type GetSensorData struct {
	All bool
}

// GetControl is the GET_CONTROL request payload.
type GetControl struct {
	NightLight bool
}

// ControlSensorDataTransfer enables or disables push delivery per sensor.
type ControlSensorDataTransfer struct {
	Sound       bool
	Motion      bool
	Temperature bool
	Humidity    bool
	Light       bool
	Night       bool
}

// Control is the PUT_CONTROL/GET_CONTROL payload.
type Control struct {
	NightLight         *int32
	NightLightTimeout  *int32
	SensorDataTransfer *ControlSensorDataTransfer
}

// Settings is the PUT_SETTINGS/GET_SETTINGS payload. Every field is a
// pointer so absence on the wire is distinguishable from a false/zero
// value, matching the "any field may be absent" data model.
type Settings struct {
	NightVision   *bool
	Volume        *int32
	SleepMode     *bool
	StatusLightOn *bool
	MicMuteOn     *bool
	WifiBand      *int32
	MountingMode  *int32
}

// Status is the PUT_STATUS/GET_STATUS payload.
type Status struct {
	ConnectionToServer *int32
	CurrentVersion     *string
	HardwareVersion    *string
	Mode               *int32
}

// SensorData is one entry in a GET_SENSOR_DATA response or PUT_SENSOR_DATA
// push, describing a single sensor reading.
type SensorData struct {
	SensorType SensorType
	Value      *int32
	ValueMilli *int32
	IsAlert    *bool
}

// Streaming is the PUT_STREAMING payload.
type Streaming struct {
	ID      int32
	Status  int32
	RtmpURL string
}

// Request is the payload of a REQUEST envelope, either an outbound
// command or an inbound push from the camera.
type Request struct {
	ID   uint32
	Type RequestType

	GetStatus     *GetStatus
	GetSensorData *GetSensorData
	GetControl    *GetControl
	Settings      *Settings
	Control       *Control
	Streaming     *Streaming
	SensorData    []*SensorData
	Status        *Status
}

// Response is the payload of a RESPONSE envelope, mirroring the request
// type it answers.
type Response struct {
	RequestID   uint32
	RequestType RequestType
	StatusCode  int32

	Status     *Status
	Settings   *Settings
	Control    *Control
	SensorData []*SensorData
}

// Message is the top-level envelope exchanged in both directions over
// the WebSocket.
type Message struct {
	Type     MessageType
	Request  *Request
	Response *Response
}
