package camera

import (
	"time"

	"nanit/internal/proto"
	"nanit/internal/transport"
)

// NightLightState mirrors the camera's night light on/off setting.
type NightLightState int

const (
	NightLightUnknown NightLightState = iota
	NightLightOn
	NightLightOff
)

func (s NightLightState) String() string {
	switch s {
	case NightLightOn:
		return "on"
	case NightLightOff:
		return "off"
	default:
		return "unknown"
	}
}

// SensorState is the last-known reading of every onboard sensor. Fields
// left nil/zero have never been reported.
type SensorState struct {
	Temperature *float64 // Celsius
	Humidity    *float64 // percent
	Light       *int32   // lux
	SoundAlert  bool
	MotionAlert bool
	Night       bool
}

// SettingsState mirrors the camera's user-configurable settings.
type SettingsState struct {
	NightVision   *bool
	Volume        *int32
	SleepMode     *bool
	StatusLightOn *bool
	MicMuteOn     *bool
	WifiBand      *string // "any", "2.4ghz", "5ghz"
	MountingMode  *string // "stand", "travel", "switch"
}

// ControlState mirrors the camera's control-channel state.
type ControlState struct {
	NightLight                *NightLightState
	NightLightTimeout         *int32
	SensorDataTransferEnabled *bool
}

// StatusState mirrors the camera's self-reported connectivity/firmware
// status (distinct from ConnectionInfo, which is our own transport's
// view of the link).
type StatusState struct {
	ConnectedToServer *bool
	FirmwareVersion   *string
	HardwareVersion   *string
	MountingMode      *string
}

// ConnectionInfo is our own transport's view of the link to the camera.
type ConnectionInfo struct {
	State             transport.State
	Transport         transport.Kind
	LastSeen          *time.Time
	LastError         string
	ReconnectAttempts int
}

// CameraState is a complete snapshot of everything known about one camera.
type CameraState struct {
	Connection ConnectionInfo
	Sensors    SensorState
	Settings   SettingsState
	Control    ControlState
	Status     StatusState
}

// CameraEventKind discriminates what changed in a CameraEvent.
type CameraEventKind int

const (
	EventSensorUpdate CameraEventKind = iota
	EventSettingsUpdate
	EventControlUpdate
	EventStatusUpdate
	EventConnectionChange
)

func (k CameraEventKind) String() string {
	switch k {
	case EventSensorUpdate:
		return "sensor_update"
	case EventSettingsUpdate:
		return "settings_update"
	case EventControlUpdate:
		return "control_update"
	case EventStatusUpdate:
		return "status_update"
	case EventConnectionChange:
		return "connection_change"
	default:
		return "unknown"
	}
}

// CameraEvent is delivered to subscribers on every state change, always
// carrying the full state snapshot as of that event.
type CameraEvent struct {
	Kind  CameraEventKind
	State CameraState
}

// ---------------------------------------------------------------------
// Parsers: translate wire payloads into the CameraState sub-models.
// ---------------------------------------------------------------------

// parseSensorData merges a batch of sensor readings onto prior, leaving
// any sensor not mentioned in data untouched.
func parseSensorData(data []*proto.SensorData, prior SensorState) SensorState {
	result := prior
	for _, sd := range data {
		switch sd.SensorType {
		case proto.SensorTemperature:
			if c, ok := milliOrValue(sd); ok {
				result.Temperature = &c
			}
		case proto.SensorHumidity:
			if c, ok := milliOrValue(sd); ok {
				result.Humidity = &c
			}
		case proto.SensorLight:
			if sd.Value != nil {
				v := *sd.Value
				result.Light = &v
			}
		case proto.SensorSound:
			if sd.IsAlert != nil {
				result.SoundAlert = *sd.IsAlert
			}
		case proto.SensorMotion:
			if sd.IsAlert != nil {
				result.MotionAlert = *sd.IsAlert
			}
		case proto.SensorNight:
			if sd.Value != nil {
				result.Night = *sd.Value != 0
			}
		}
	}
	return result
}

// milliOrValue prefers ValueMilli/1000.0 and falls back to Value; the
// camera reports temperature/humidity in whichever precision it has.
func milliOrValue(sd *proto.SensorData) (float64, bool) {
	if sd.ValueMilli != nil {
		return float64(*sd.ValueMilli) / 1000.0, true
	}
	if sd.Value != nil {
		return float64(*sd.Value), true
	}
	return 0, false
}

var wifiBandNames = map[int32]string{
	proto.WifiBandAny:   "any",
	proto.WifiBand24GHz: "2.4ghz",
	proto.WifiBand5GHz:  "5ghz",
}

var mountingModeNames = map[int32]string{
	proto.MountingStand:  "stand",
	proto.MountingTravel: "travel",
	proto.MountingSwitch: "switch",
}

// parseStatus extracts StatusState from a Response's Status payload. A
// response with no Status payload yields the zero StatusState.
func parseStatus(resp *proto.Response) StatusState {
	if resp == nil || resp.Status == nil {
		return StatusState{}
	}
	return parseStatusFromProto(resp.Status)
}

func parseStatusFromProto(s *proto.Status) StatusState {
	if s == nil {
		return StatusState{}
	}
	var result StatusState
	if s.ConnectionToServer != nil {
		connected := *s.ConnectionToServer == proto.ConnectionConnected
		result.ConnectedToServer = &connected
	}
	if s.CurrentVersion != nil {
		v := *s.CurrentVersion
		result.FirmwareVersion = &v
	}
	if s.HardwareVersion != nil {
		v := *s.HardwareVersion
		result.HardwareVersion = &v
	}
	if s.Mode != nil {
		if name, ok := mountingModeNames[*s.Mode]; ok {
			result.MountingMode = &name
		}
	}
	return result
}

// parseSettings extracts SettingsState from a Response's Settings payload.
func parseSettings(resp *proto.Response) SettingsState {
	if resp == nil || resp.Settings == nil {
		return SettingsState{}
	}
	return parseSettingsFromProto(resp.Settings)
}

func parseSettingsFromProto(s *proto.Settings) SettingsState {
	if s == nil {
		return SettingsState{}
	}
	result := SettingsState{
		NightVision:   s.NightVision,
		Volume:        s.Volume,
		SleepMode:     s.SleepMode,
		StatusLightOn: s.StatusLightOn,
		MicMuteOn:     s.MicMuteOn,
	}
	if s.WifiBand != nil {
		if name, ok := wifiBandNames[*s.WifiBand]; ok {
			result.WifiBand = &name
		}
	}
	if s.MountingMode != nil {
		if name, ok := mountingModeNames[*s.MountingMode]; ok {
			result.MountingMode = &name
		}
	}
	return result
}

// parseControl extracts ControlState from a Response's Control payload.
func parseControl(resp *proto.Response) ControlState {
	if resp == nil || resp.Control == nil {
		return ControlState{}
	}
	return parseControlFromProto(resp.Control)
}

func parseControlFromProto(c *proto.Control) ControlState {
	if c == nil {
		return ControlState{}
	}
	var result ControlState
	if c.NightLight != nil {
		nl := NightLightOff
		if *c.NightLight == proto.NightLightOn {
			nl = NightLightOn
		}
		result.NightLight = &nl
	}
	if c.NightLightTimeout != nil {
		v := *c.NightLightTimeout
		result.NightLightTimeout = &v
	}
	if c.SensorDataTransfer != nil {
		t := c.SensorDataTransfer
		enabled := t.Sound || t.Motion || t.Temperature || t.Humidity || t.Light || t.Night
		result.SensorDataTransferEnabled = &enabled
	}
	return result
}
