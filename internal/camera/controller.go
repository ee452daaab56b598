// Package camera implements the high-level per-camera API: connection
// lifecycle (cloud or LAN-local, with automatic local promotion),
// request/response commands, push-event state aggregation, and a
// subscriber model for state changes.
package camera

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"nanit/internal/auth"
	"nanit/internal/pending"
	"nanit/internal/proto"
	"nanit/internal/rest"
	"nanit/internal/transport"
)

const (
	defaultRequestTimeout = 10 * time.Second
	localProbeInterval    = 5 * time.Minute
	localProbeTimeout     = 5 * time.Second
	minTokenTTL           = time.Minute
)

var errConnectionLost = transport.NewTransportError("Connection lost")

type subscriber struct {
	id int
	fn func(CameraEvent)
}

// Controller owns one camera's connection, state, and command surface.
// One instance per camera/baby, created by client.Client.
type Controller struct {
	uid         string
	babyUID     string
	tokenMgr    *auth.TokenManager
	rest        *rest.Client
	preferLocal bool
	localIP     string
	logger      *log.Logger

	pending   *pending.Table
	transport *transport.Transport

	mu          sync.Mutex
	state       CameraState
	subscribers []subscriber
	nextSubID   int
	stopped     bool

	probeCancel context.CancelFunc
	probeDone   chan struct{}
}

// Options configures a Controller at construction.
type Options struct {
	PreferLocal bool
	LocalIP     string
	Logger      *log.Logger
}

// New creates a Controller for one camera. It does not connect; call
// Start.
func New(uid, babyUID string, tokenMgr *auth.TokenManager, restClient *rest.Client, opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "[camera] ", log.LstdFlags)
	}
	c := &Controller{
		uid:         uid,
		babyUID:     babyUID,
		tokenMgr:    tokenMgr,
		rest:        restClient,
		preferLocal: opts.PreferLocal,
		localIP:     opts.LocalIP,
		logger:      logger,
		pending:     pending.New(),
	}
	c.transport = transport.New(c.onWSMessage, c.onConnectionChange, logger)
	return c
}

// UID returns the camera's UID.
func (c *Controller) UID() string { return c.uid }

// BabyUID returns the associated baby's UID.
func (c *Controller) BabyUID() string { return c.babyUID }

// State returns a snapshot of everything currently known about the camera.
func (c *Controller) State() CameraState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connected reports whether the transport is currently connected.
func (c *Controller) Connected() bool {
	return c.transport.Connected()
}

// ---------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------

// Start connects to the camera (local-first if configured, else cloud),
// requests its initial state, enables sensor push, and, if it landed on
// cloud with a local IP configured, starts a background probe that
// promotes to local once reachable.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	c.stopped = false
	c.mu.Unlock()

	connected := false

	if c.preferLocal && c.localIP != "" {
		token, err := c.tokenMgr.GetAccessToken(ctx, minTokenTTL)
		if err == nil {
			if err := c.transport.ConnectLocal(c.localIP, token, nil); err == nil {
				connected = true
			} else {
				c.logger.Printf("local connection to %s failed (%v), falling back to cloud", c.localIP, err)
			}
		}
	}

	if !connected {
		token, err := c.tokenMgr.GetAccessToken(ctx, minTokenTTL)
		if err != nil {
			return &CameraUnavailableError{UID: c.uid, Err: err}
		}
		if err := c.transport.ConnectCloud(c.uid, token); err != nil {
			return &CameraUnavailableError{UID: c.uid, Err: err}
		}
	}

	c.requestInitialState(ctx)
	c.enableSensorPush(ctx)

	if c.transport.Kind() == transport.KindCloud && c.localIP != "" {
		c.startLocalProbe()
	}
	return nil
}

// Stop cancels the local probe, drains pending requests, and closes the
// transport. Idempotent.
func (c *Controller) Stop() error {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()

	c.cancelLocalProbe()
	c.pending.CancelAll(nil)
	return c.transport.Close()
}

// ---------------------------------------------------------------------
// Subscriptions
// ---------------------------------------------------------------------

// Subscribe registers fn to be called on every state change. The
// returned function unsubscribes it.
func (c *Controller) Subscribe(fn func(CameraEvent)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSubID
	c.nextSubID++
	c.subscribers = append(c.subscribers, subscriber{id: id, fn: fn})

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, sub := range c.subscribers {
			if sub.id == id {
				c.subscribers = append(c.subscribers[:i], c.subscribers[i+1:]...)
				return
			}
		}
	}
}

func (c *Controller) notifySubscribers(kind CameraEventKind) {
	c.mu.Lock()
	event := CameraEvent{Kind: kind, State: c.state}
	subs := make([]subscriber, len(c.subscribers))
	copy(subs, c.subscribers)
	c.mu.Unlock()

	for _, sub := range subs {
		c.callSubscriber(sub, event)
	}
}

// callSubscriber isolates one callback invocation: a panicking subscriber
// is logged and skipped, never allowed to take down the delivery loop or
// starve the subscribers after it.
func (c *Controller) callSubscriber(sub subscriber, event CameraEvent) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Printf("subscriber %d panicked on %s: %v", sub.id, event.Kind, r)
		}
	}()
	sub.fn(event)
}

// ---------------------------------------------------------------------
// Commands: GET
// ---------------------------------------------------------------------

// GetStatus issues a GET_STATUS request and updates state from the reply.
func (c *Controller) GetStatus(ctx context.Context) (StatusState, error) {
	req := &proto.Request{GetStatus: &proto.GetStatus{All: true}}
	resp, err := c.sendRequest(ctx, proto.RequestGetStatus, req, defaultRequestTimeout)
	if err != nil {
		return StatusState{}, err
	}
	status := parseStatus(resp)
	c.applyState(EventStatusUpdate, func(s *CameraState) { s.Status = status })
	return status, nil
}

// GetSettings issues a GET_SETTINGS request and updates state from the reply.
func (c *Controller) GetSettings(ctx context.Context) (SettingsState, error) {
	resp, err := c.sendRequest(ctx, proto.RequestGetSettings, &proto.Request{}, defaultRequestTimeout)
	if err != nil {
		return SettingsState{}, err
	}
	settings := parseSettings(resp)
	c.applyState(EventSettingsUpdate, func(s *CameraState) { s.Settings = settings })
	return settings, nil
}

// GetControl issues a GET_CONTROL request and updates state from the reply.
func (c *Controller) GetControl(ctx context.Context) (ControlState, error) {
	req := &proto.Request{GetControl: &proto.GetControl{NightLight: true}}
	resp, err := c.sendRequest(ctx, proto.RequestGetControl, req, defaultRequestTimeout)
	if err != nil {
		return ControlState{}, err
	}
	control := parseControl(resp)
	c.applyState(EventControlUpdate, func(s *CameraState) { s.Control = control })
	return control, nil
}

// GetSensorData issues a GET_SENSOR_DATA request (all sensors) and
// merges the reply onto current sensor state.
func (c *Controller) GetSensorData(ctx context.Context) (SensorState, error) {
	req := &proto.Request{GetSensorData: &proto.GetSensorData{All: true}}
	resp, err := c.sendRequest(ctx, proto.RequestGetSensorData, req, defaultRequestTimeout)
	if err != nil {
		return SensorState{}, err
	}
	var sensors SensorState
	c.applyState(EventSensorUpdate, func(s *CameraState) {
		sensors = parseSensorData(resp.SensorData, s.Sensors)
		s.Sensors = sensors
	})
	return sensors, nil
}

// ---------------------------------------------------------------------
// Commands: SET
// ---------------------------------------------------------------------

// SettingsUpdate carries only the settings fields to change; nil fields
// are left untouched on the camera.
type SettingsUpdate struct {
	NightVision   *bool
	Volume        *int32
	SleepMode     *bool
	StatusLightOn *bool
	MicMuteOn     *bool
}

// SetSettings issues a PUT_SETTINGS request with only the provided fields.
func (c *Controller) SetSettings(ctx context.Context, u SettingsUpdate) (SettingsState, error) {
	req := &proto.Request{Settings: &proto.Settings{
		NightVision:   u.NightVision,
		Volume:        u.Volume,
		SleepMode:     u.SleepMode,
		StatusLightOn: u.StatusLightOn,
		MicMuteOn:     u.MicMuteOn,
	}}
	resp, err := c.sendRequest(ctx, proto.RequestPutSettings, req, defaultRequestTimeout)
	if err != nil {
		return SettingsState{}, err
	}
	settings := parseSettings(resp)
	c.applyState(EventSettingsUpdate, func(s *CameraState) { s.Settings = settings })
	return settings, nil
}

// SetControl issues a PUT_CONTROL request changing the night light
// and/or its timeout. Pass nil for fields that shouldn't change.
func (c *Controller) SetControl(ctx context.Context, nightLight *NightLightState, nightLightTimeout *int32) (ControlState, error) {
	protoControl := &proto.Control{NightLightTimeout: nightLightTimeout}
	if nightLight != nil {
		v := proto.NightLightOff
		if *nightLight == NightLightOn {
			v = proto.NightLightOn
		}
		protoControl.NightLight = &v
	}
	req := &proto.Request{Control: protoControl}
	resp, err := c.sendRequest(ctx, proto.RequestPutControl, req, defaultRequestTimeout)
	if err != nil {
		return ControlState{}, err
	}
	control := parseControl(resp)
	c.applyState(EventControlUpdate, func(s *CameraState) { s.Control = control })
	return control, nil
}

// ---------------------------------------------------------------------
// Streaming
// ---------------------------------------------------------------------

// GetStreamRTMPSURL builds the RTMPS playback URL with a fresh token.
func (c *Controller) GetStreamRTMPSURL(ctx context.Context) (string, error) {
	token, err := c.tokenMgr.GetAccessToken(ctx, minTokenTTL)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("rtmps://media-secured.nanit.com/nanit/%s.%s", c.babyUID, token), nil
}

// StartStreaming tells the camera to begin publishing RTMPS to this client.
func (c *Controller) StartStreaming(ctx context.Context) error {
	url, err := c.GetStreamRTMPSURL(ctx)
	if err != nil {
		return err
	}
	req := &proto.Request{Streaming: &proto.Streaming{
		ID:      proto.StreamIdentifierMobile,
		Status:  proto.StreamingStarted,
		RtmpURL: url,
	}}
	_, err = c.sendRequest(ctx, proto.RequestPutStreaming, req, defaultRequestTimeout)
	return err
}

// StopStreaming tells the camera to stop publishing RTMPS to this client.
func (c *Controller) StopStreaming(ctx context.Context) error {
	req := &proto.Request{Streaming: &proto.Streaming{
		ID:     proto.StreamIdentifierMobile,
		Status: proto.StreamingStopped,
	}}
	_, err := c.sendRequest(ctx, proto.RequestPutStreaming, req, defaultRequestTimeout)
	return err
}

// ---------------------------------------------------------------------
// Snapshot
// ---------------------------------------------------------------------

// GetSnapshot fetches a JPEG snapshot over REST. Returns (nil, nil) on
// any failure; no live camera is worth failing a UI render over.
func (c *Controller) GetSnapshot(ctx context.Context) ([]byte, error) {
	token, err := c.tokenMgr.GetAccessToken(ctx, minTokenTTL)
	if err != nil {
		c.logger.Printf("snapshot: token fetch failed: %v", err)
		return nil, nil
	}
	return c.rest.GetSnapshot(ctx, token, c.babyUID)
}

// ---------------------------------------------------------------------
// Internal: WebSocket message handling
// ---------------------------------------------------------------------

func (c *Controller) onWSMessage(data []byte) {
	msg, err := proto.DecodeMessage(data)
	if err != nil {
		c.logger.Printf("decode failed: %v", err)
		return
	}

	if response := proto.ExtractResponse(msg); response != nil {
		if !c.pending.Resolve(response.RequestID, response) {
			c.logger.Printf("response for unknown request %d", response.RequestID)
		}
		return
	}

	if request := proto.ExtractRequest(msg); request != nil {
		c.handlePushEvent(request)
		return
	}
	// KEEPALIVE: nothing to do; the transport handles ping/pong.
}

func (c *Controller) handlePushEvent(req *proto.Request) {
	switch req.Type {
	case proto.RequestPutSensorData:
		c.applyState(EventSensorUpdate, func(s *CameraState) {
			s.Sensors = parseSensorData(req.SensorData, s.Sensors)
		})
	case proto.RequestPutStatus:
		if req.Status != nil {
			status := parseStatusFromProto(req.Status)
			c.applyState(EventStatusUpdate, func(s *CameraState) { s.Status = status })
		}
	case proto.RequestPutSettings:
		if req.Settings != nil {
			settings := parseSettingsFromProto(req.Settings)
			c.applyState(EventSettingsUpdate, func(s *CameraState) { s.Settings = settings })
		}
	case proto.RequestPutControl:
		if req.Control != nil {
			control := parseControlFromProto(req.Control)
			c.applyState(EventControlUpdate, func(s *CameraState) { s.Control = control })
		}
	default:
		c.logger.Printf("unhandled push request type: %s", req.Type)
	}
}

// ---------------------------------------------------------------------
// Internal: connection change
// ---------------------------------------------------------------------

func (c *Controller) onConnectionChange(state transport.State, kind transport.Kind, err error) {
	now := time.Now()

	c.mu.Lock()
	old := c.state.Connection
	lastSeen := old.LastSeen
	if state == transport.StateConnected {
		lastSeen = &now
	}
	attempts := old.ReconnectAttempts
	switch state {
	case transport.StateReconnecting:
		attempts++
	case transport.StateConnected:
		attempts = 0
	}
	lastErr := ""
	if err != nil {
		lastErr = err.Error()
	}
	c.state.Connection = ConnectionInfo{
		State:             state,
		Transport:         kind,
		LastSeen:          lastSeen,
		LastError:         lastErr,
		ReconnectAttempts: attempts,
	}
	c.mu.Unlock()

	// While the link is down, gone for good or mid-reconnect,
	// no tracked request can ever be answered, so unblock every awaiter.
	if state == transport.StateDisconnected || state == transport.StateReconnecting {
		c.pending.CancelAll(errConnectionLost)
	}

	c.notifySubscribers(EventConnectionChange)
}

// ---------------------------------------------------------------------
// Internal: state management
// ---------------------------------------------------------------------

func (c *Controller) applyState(kind CameraEventKind, mutate func(*CameraState)) {
	c.mu.Lock()
	mutate(&c.state)
	c.mu.Unlock()
	c.notifySubscribers(kind)
}

// ---------------------------------------------------------------------
// Internal: request/response
// ---------------------------------------------------------------------

func (c *Controller) sendRequest(ctx context.Context, reqType proto.RequestType, req *proto.Request, timeout time.Duration) (*proto.Response, error) {
	id := c.pending.NextID()
	entry, err := c.pending.Track(id)
	if err != nil {
		return nil, err
	}

	data := proto.BuildRequest(id, reqType, req)
	if err := c.transport.Send(data); err != nil {
		c.pending.Forget(id)
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case result := <-entry.Chan():
		if result.Err != nil {
			return nil, result.Err
		}
		if result.Response == nil {
			// Cancelled without an error (e.g. by Stop draining the table).
			return nil, transport.NewTransportError("request cancelled")
		}
		return result.Response, nil
	case <-timer.C:
		c.pending.Forget(id)
		return nil, &RequestTimeoutError{RequestType: reqType, RequestID: id, Timeout: timeout}
	case <-ctx.Done():
		c.pending.Forget(id)
		return nil, ctx.Err()
	}
}

// ---------------------------------------------------------------------
// Internal: initial state + sensor push
// ---------------------------------------------------------------------

func (c *Controller) requestInitialState(ctx context.Context) {
	if _, err := c.GetStatus(ctx); err != nil {
		c.logger.Printf("initial GET_STATUS failed: %v", err)
	}
	if _, err := c.GetSettings(ctx); err != nil {
		c.logger.Printf("initial GET_SETTINGS failed: %v", err)
	}
	if _, err := c.GetSensorData(ctx); err != nil {
		c.logger.Printf("initial GET_SENSOR_DATA failed: %v", err)
	}
	if _, err := c.GetControl(ctx); err != nil {
		c.logger.Printf("initial GET_CONTROL failed: %v", err)
	}
}

func (c *Controller) enableSensorPush(ctx context.Context) {
	req := &proto.Request{Control: &proto.Control{
		SensorDataTransfer: &proto.ControlSensorDataTransfer{
			Sound: true, Motion: true, Temperature: true,
			Humidity: true, Light: true, Night: true,
		},
	}}
	if _, err := c.sendRequest(ctx, proto.RequestPutControl, req, defaultRequestTimeout); err != nil {
		c.logger.Printf("enable sensor push failed: %v", err)
	}
}

// ---------------------------------------------------------------------
// Internal: local probe
// ---------------------------------------------------------------------

func (c *Controller) startLocalProbe() {
	c.cancelLocalProbe()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.probeCancel = cancel
	c.probeDone = done
	go c.localProbeLoop(ctx, done)
}

func (c *Controller) cancelLocalProbe() {
	if c.probeCancel != nil {
		c.probeCancel()
		<-c.probeDone
		c.probeCancel = nil
		c.probeDone = nil
	}
}

func (c *Controller) localProbeLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(localProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		stopped := c.stopped
		c.mu.Unlock()
		if stopped {
			return
		}
		if c.transport.Kind() == transport.KindLocal {
			return
		}
		if c.localIP == "" {
			return
		}

		probeCtx, probeCancel := context.WithTimeout(ctx, localProbeTimeout)
		token, err := c.tokenMgr.GetAccessToken(probeCtx, minTokenTTL)
		if err != nil {
			probeCancel()
			continue
		}

		probe := transport.NewWithHandshakeTimeout(func([]byte) {}, func(transport.State, transport.Kind, error) {}, c.logger, localProbeTimeout)
		if err := probe.ConnectLocal(c.localIP, token, nil); err != nil {
			probeCancel()
			c.logger.Printf("local probe failed, staying on cloud: %v", err)
			continue
		}
		_ = probe.Close()
		probeCancel()

		c.logger.Printf("local camera reachable, promoting from cloud to local")
		// A command racing the promotion loses: its awaiter fails with the
		// same connection-lost error a disconnect would produce, and the
		// caller retries on the new transport if it cares.
		c.pending.CancelAll(errConnectionLost)
		_ = c.transport.Close()
		if err := c.transport.ConnectLocal(c.localIP, token, nil); err != nil {
			c.logger.Printf("promotion to local failed: %v", err)
			return
		}
		c.requestInitialState(ctx)
		c.enableSensorPush(ctx)
		return
	}
}
