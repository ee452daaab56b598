package proto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmptyInputDecodesToKeepalive(t *testing.T) {
	msg, err := DecodeMessage(nil)
	require.NoError(t, err)
	require.Equal(t, MessageKeepalive, msg.Type)
	require.Nil(t, msg.Request)
	require.Nil(t, msg.Response)
}

func TestBuildKeepaliveRoundTrip(t *testing.T) {
	data := BuildKeepalive()
	msg, err := DecodeMessage(data)
	require.NoError(t, err)
	require.Equal(t, MessageKeepalive, msg.Type)
}

func TestBuildRequestRoundTrip(t *testing.T) {
	data := BuildRequest(7, RequestGetStatus, &Request{
		GetStatus: &GetStatus{All: true},
	})
	msg, err := DecodeMessage(data)
	require.NoError(t, err)
	require.Equal(t, MessageRequest, msg.Type)

	req := ExtractRequest(msg)
	require.NotNil(t, req)
	require.Equal(t, uint32(7), req.ID)
	require.Equal(t, RequestGetStatus, req.Type)
	require.NotNil(t, req.GetStatus)
	require.True(t, req.GetStatus.All)
	require.Nil(t, ExtractResponse(msg))
}

func TestResponseRoundTripWithOptionalFields(t *testing.T) {
	volume := int32(42)
	msg := &Message{
		Type: MessageResponse,
		Response: &Response{
			RequestID:   3,
			RequestType: RequestGetSettings,
			StatusCode:  0,
			Settings: &Settings{
				Volume: &volume,
			},
		},
	}
	data := EncodeMessage(msg)

	decoded, err := DecodeMessage(data)
	require.NoError(t, err)

	resp := ExtractResponse(decoded)
	require.NotNil(t, resp)
	require.Equal(t, uint32(3), resp.RequestID)
	require.Equal(t, RequestGetSettings, resp.RequestType)
	require.NotNil(t, resp.Settings.Volume)
	require.Equal(t, int32(42), *resp.Settings.Volume)
	require.Nil(t, resp.Settings.NightVision)
}

func TestSensorDataMilliPrecedence(t *testing.T) {
	milli := int32(23500)
	sd := &SensorData{SensorType: SensorTemperature, ValueMilli: &milli}
	data := marshalSensorData(sd)
	decoded, err := unmarshalSensorData(data)
	require.NoError(t, err)
	require.NotNil(t, decoded.ValueMilli)
	require.Equal(t, int32(23500), *decoded.ValueMilli)
	require.Nil(t, decoded.Value)
}

func TestNegativeZigzagFieldRoundTrips(t *testing.T) {
	timeout := int32(-30)
	c := &Control{NightLightTimeout: &timeout}
	data := marshalControl(c)
	decoded, err := unmarshalControl(data)
	require.NoError(t, err)
	require.NotNil(t, decoded.NightLightTimeout)
	require.Equal(t, int32(-30), *decoded.NightLightTimeout)
}

func TestDecodeMalformedBytesReturnsProtocolError(t *testing.T) {
	_, err := DecodeMessage([]byte{0x08}) // varint tag with no value byte
	require.Error(t, err)
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
}

func TestRepeatedSensorDataPreservesOrder(t *testing.T) {
	req := &Request{
		SensorData: []*SensorData{
			{SensorType: SensorSound},
			{SensorType: SensorMotion},
			{SensorType: SensorTemperature},
		},
	}
	data := marshalRequest(req)
	decoded, err := unmarshalRequest(data)
	require.NoError(t, err)
	require.Len(t, decoded.SensorData, 3)
	require.Equal(t, SensorSound, decoded.SensorData[0].SensorType)
	require.Equal(t, SensorMotion, decoded.SensorData[1].SensorType)
	require.Equal(t, SensorTemperature, decoded.SensorData[2].SensorType)
}
