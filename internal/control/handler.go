// Package control is the MQTT control plane: remote pause, resume, status and
// shutdown commands for a running camera.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/e7canasta/orion-care-sensor/modules/event-capture/internal/retry"
)

// Command represents a control plane command
type Command struct {
	Command string         `json:"command"`
	Params  map[string]any `json:"params,omitempty"`
}

// Response represents a command response
type Response struct {
	CommandAck string         `json:"command_ack"`
	Status     string         `json:"status"`
	Data       map[string]any `json:"data,omitempty"`
	Error      string         `json:"error,omitempty"`
	Timestamp  string         `json:"timestamp"`
}

// Callbacks are invoked on the handler goroutine. A nil callback makes the
// command answer "not implemented". The handler keeps no run state of its own:
// the camera may also be paused by other means, so get_status reports whatever
// OnGetStatus returns.
type Callbacks struct {
	OnGetStatus func() map[string]any
	OnPause     func() error
	OnResume    func() error
	OnShutdown  func() error
}

// Config configures the control plane
type Config struct {
	Broker         string // host:port (required)
	Topic          string // command topic (required)
	ResponseTopic  string // default Topic + "/responses"
	ClientID       string
	QoS            byte
	ConnectTimeout time.Duration
	Retry          retry.Config
}

// Handler subscribes to the command topic and publishes one response per command.
type Handler struct {
	cfg       Config
	callbacks Callbacks
	client    mqtt.Client
	retries   retry.State

	commands chan Command
	wg       sync.WaitGroup

	mu      sync.Mutex
	started bool
}

// NewHandler validates cfg and creates a stopped handler.
func NewHandler(cfg Config, callbacks Callbacks) (*Handler, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("control: broker is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("control: topic is required")
	}
	if cfg.QoS > 2 {
		return nil, fmt.Errorf("control: invalid QoS %d", cfg.QoS)
	}
	if cfg.ResponseTopic == "" {
		cfg.ResponseTopic = cfg.Topic + "/responses"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "event-capture-control"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.Retry.MaxRetryDelay <= 0 {
		cfg.Retry = retry.DefaultConfig()
	}

	return &Handler{
		cfg:       cfg,
		callbacks: callbacks,
		commands:  make(chan Command, 10),
	}, nil
}

// Start connects, subscribes to the command topic and processes commands
// until ctx is done or Stop is called.
func (h *Handler) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return fmt.Errorf("control: already started")
	}
	h.started = true
	h.mu.Unlock()

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", h.cfg.Broker))
	opts.SetClientID(h.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(h.cfg.Retry.MaxRetryDelay)
	opts.OnConnect = func(c mqtt.Client) {
		token := c.Subscribe(h.cfg.Topic, h.cfg.QoS, h.messageHandler)
		go func() {
			if token.WaitTimeout(h.cfg.ConnectTimeout) && token.Error() != nil {
				slog.Error("control: subscribe failed", "topic", h.cfg.Topic, "error", token.Error())
			}
		}()
		slog.Info("control: subscribed", "topic", h.cfg.Topic, "qos", h.cfg.QoS)
	}
	h.client = mqtt.NewClient(opts)

	connect := func(ctx context.Context) error {
		token := h.client.Connect()
		if !token.WaitTimeout(h.cfg.ConnectTimeout) {
			return fmt.Errorf("connection timeout after %v", h.cfg.ConnectTimeout)
		}
		return token.Error()
	}
	if err := retry.Do(ctx, "control: connect "+h.cfg.Broker, connect, h.cfg.Retry, &h.retries); err != nil {
		h.mu.Lock()
		h.started = false
		h.mu.Unlock()
		return fmt.Errorf("control: failed to connect: %w", err)
	}

	h.wg.Add(1)
	go h.processCommands(ctx)

	slog.Info("control: handler started", "topic", h.cfg.Topic)
	return nil
}

// Stop unsubscribes, disconnects and waits for the command goroutine.
func (h *Handler) Stop() error {
	h.mu.Lock()
	if !h.started {
		h.mu.Unlock()
		return nil
	}
	h.started = false
	h.mu.Unlock()

	if h.client != nil && h.client.IsConnected() {
		token := h.client.Unsubscribe(h.cfg.Topic)
		token.WaitTimeout(h.cfg.ConnectTimeout)
		h.client.Disconnect(250)
	}
	close(h.commands)
	h.wg.Wait()

	slog.Info("control: handler stopped")
	return nil
}

func (h *Handler) messageHandler(_ mqtt.Client, msg mqtt.Message) {
	cmd, err := ParseCommand(msg.Payload())
	if err != nil {
		slog.Error("control: failed to parse command", "error", err)
		h.publish(Response{CommandAck: "unknown", Status: "error", Error: "invalid JSON"})
		return
	}

	slog.Info("control: command received", "command", cmd.Command)

	select {
	case h.commands <- cmd:
	default:
		slog.Warn("control: command queue full, dropping command", "command", cmd.Command)
	}
}

func (h *Handler) processCommands(ctx context.Context) {
	defer h.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-h.commands:
			if !ok {
				return
			}
			h.publish(h.Handle(cmd))
		}
	}
}

// ParseCommand decodes a JSON command payload.
func ParseCommand(payload []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return Command{}, fmt.Errorf("control: invalid command: %w", err)
	}
	if cmd.Command == "" {
		return Command{}, fmt.Errorf("control: missing command name")
	}
	return cmd, nil
}

// Handle executes cmd against the callbacks and builds the response.
func (h *Handler) Handle(cmd Command) Response {
	resp := Response{
		CommandAck: cmd.Command,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}

	switch cmd.Command {
	case "get_status":
		if h.callbacks.OnGetStatus == nil {
			return notImplemented(resp)
		}
		resp.Status = "success"
		resp.Data = h.callbacks.OnGetStatus()

	case "pause":
		if h.callbacks.OnPause == nil {
			return notImplemented(resp)
		}
		if err := h.callbacks.OnPause(); err != nil {
			return failed(resp, err)
		}
		resp.Status = "paused"

	case "resume":
		if h.callbacks.OnResume == nil {
			return notImplemented(resp)
		}
		if err := h.callbacks.OnResume(); err != nil {
			return failed(resp, err)
		}
		resp.Status = "running"

	case "shutdown":
		if h.callbacks.OnShutdown == nil {
			return notImplemented(resp)
		}
		if err := h.callbacks.OnShutdown(); err != nil {
			return failed(resp, err)
		}
		resp.Status = "shutting_down"

	default:
		resp.Status = "error"
		resp.Error = fmt.Sprintf("unknown command: %s", cmd.Command)
	}
	return resp
}

func notImplemented(resp Response) Response {
	resp.Status = "error"
	resp.Error = resp.CommandAck + " not implemented"
	return resp
}

func failed(resp Response, err error) Response {
	resp.Status = "error"
	resp.Error = err.Error()
	return resp
}

func (h *Handler) publish(resp Response) {
	if resp.Timestamp == "" {
		resp.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	data, err := json.Marshal(resp)
	if err != nil {
		slog.Error("control: failed to marshal response", "error", err)
		return
	}
	if h.client == nil || !h.client.IsConnected() {
		slog.Warn("control: not connected, response dropped", "command", resp.CommandAck)
		return
	}
	token := h.client.Publish(h.cfg.ResponseTopic, h.cfg.QoS, false, data)
	go func() {
		if token.WaitTimeout(h.cfg.ConnectTimeout) && token.Error() != nil {
			slog.Error("control: failed to publish response", "error", token.Error())
		}
	}()
}
