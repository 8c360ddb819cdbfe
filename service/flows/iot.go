package flows

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"nlu-agent/model"
	"nlu-agent/utils"
)

var ErrDeviceNotFound = errors.New("no matching device")

type DeviceType string

const (
	DeviceLight      DeviceType = "light"
	DeviceThermostat DeviceType = "thermostat"
	DeviceLock       DeviceType = "lock"
	DeviceCamera     DeviceType = "camera"
	DeviceSwitch     DeviceType = "switch"
)

// Device actions.
const (
	ActionOn     = "on"
	ActionOff    = "off"
	ActionToggle = "toggle"
	ActionSet    = "set"
)

type Device struct {
	ID     int        `json:"id"`
	Name   string     `json:"name"`
	Type   DeviceType `json:"type"`
	Status bool       `json:"status"`
	Value  int        `json:"value"` // brightness for lights, degrees for the thermostat
	Color  string     `json:"color,omitempty"`
}

func (d Device) toMap() map[string]any {
	return map[string]any{
		"id":     d.ID,
		"name":   d.Name,
		"type":   string(d.Type),
		"status": d.Status,
		"value":  d.Value,
		"color":  d.Color,
	}
}

var defaultDevices = []Device{
	{ID: 1, Name: "Living Room Lights", Type: DeviceLight, Status: true, Value: 80},
	{ID: 2, Name: "Bedroom Lights", Type: DeviceLight, Status: false, Value: 60},
	{ID: 3, Name: "Kitchen Lights", Type: DeviceLight, Status: true, Value: 100},
	{ID: 4, Name: "Thermostat", Type: DeviceThermostat, Status: true, Value: 72},
	{ID: 5, Name: "Front Door Lock", Type: DeviceLock, Status: true},
	{ID: 6, Name: "Back Door Lock", Type: DeviceLock, Status: true},
	{ID: 7, Name: "Security Camera", Type: DeviceCamera, Status: true},
}

// DeviceCommand is one control request. Value and Color only apply to set.
type DeviceCommand struct {
	DeviceName string
	Action     string
	Value      *int
	Color      string
}

type DeviceChange struct {
	Device    string `json:"device"`
	Action    string `json:"action"`
	OldStatus bool   `json:"old_status"`
	NewStatus bool   `json:"new_status"`
	Value     int    `json:"value"`
	Color     string `json:"color,omitempty"`
}

type ControlResult struct {
	Changes []DeviceChange
	Devices []Device
}

// DeviceRegistry keeps a simulated home per session, seeded with the default
// devices on first use.
type DeviceRegistry struct {
	mu    sync.Mutex
	homes map[string][]Device
}

func NewDeviceRegistry() *DeviceRegistry {
	return &DeviceRegistry{homes: make(map[string][]Device)}
}

// home must be called with mu held.
func (r *DeviceRegistry) home(sessionID string) []Device {
	devices, ok := r.homes[sessionID]
	if !ok {
		devices = append([]Device(nil), defaultDevices...)
		r.homes[sessionID] = devices
	}
	return devices
}

// Devices returns a copy of the session's devices.
func (r *DeviceRegistry) Devices(sessionID string) []Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Device(nil), r.home(sessionID)...)
}

// Forget drops the session's home.
func (r *DeviceRegistry) Forget(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.homes, sessionID)
}

// Control applies cmd to every matching device. When nothing matches it
// returns ErrDeviceNotFound together with the unchanged devices.
func (r *DeviceRegistry) Control(sessionID string, cmd DeviceCommand) (*ControlResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	devices := r.home(sessionID)
	matched := matchDevices(devices, cmd.DeviceName)
	if len(matched) == 0 {
		return &ControlResult{Devices: append([]Device(nil), devices...)},
			fmt.Errorf("%w: '%s'", ErrDeviceNotFound, cmd.DeviceName)
	}

	var changes []DeviceChange
	for _, i := range matched {
		d := &devices[i]
		old := d.Status
		switch cmd.Action {
		case ActionOn:
			d.Status = true
		case ActionOff:
			d.Status = false
		case ActionSet:
			if cmd.Value != nil {
				d.Value = *cmd.Value
				d.Status = true
			}
			if cmd.Color != "" {
				d.Color = cmd.Color
				d.Status = true
			}
		default:
			d.Status = !d.Status
		}
		changes = append(changes, DeviceChange{
			Device:    d.Name,
			Action:    cmd.Action,
			OldStatus: old,
			NewStatus: d.Status,
			Value:     d.Value,
			Color:     d.Color,
		})
	}
	return &ControlResult{Changes: changes, Devices: append([]Device(nil), devices...)}, nil
}

// matchDevices returns indexes of devices matching pattern by name or type.
// An empty pattern selects all lights.
func matchDevices(devices []Device, pattern string) []int {
	pattern = utils.NormalizeString(pattern)
	ofType := func(t DeviceType) []int {
		var out []int
		for i, d := range devices {
			if d.Type == t {
				out = append(out, i)
			}
		}
		return out
	}
	if pattern == "" {
		return ofType(DeviceLight)
	}

	var matched []int
	for i, d := range devices {
		name := utils.NormalizeString(d.Name)
		typ := string(d.Type)
		if strings.Contains(name, pattern) ||
			strings.Contains(typ, pattern) ||
			strings.Contains(pattern, name) {
			matched = append(matched, i)
		}
	}
	if len(matched) > 0 {
		return matched
	}

	switch {
	case strings.Contains(pattern, "all") && strings.Contains(pattern, "light"):
		return ofType(DeviceLight)
	case strings.Contains(pattern, "all"):
		all := make([]int, len(devices))
		for i := range devices {
			all[i] = i
		}
		return all
	case strings.Contains(pattern, "light"):
		return ofType(DeviceLight)
	case strings.Contains(pattern, "lock"):
		return ofType(DeviceLock)
	}
	return nil
}

func devicesToMaps(devices []Device) []map[string]any {
	out := make([]map[string]any, 0, len(devices))
	for _, d := range devices {
		out = append(out, d.toMap())
	}
	return out
}

// commandFor derives the device action from the intent name.
func commandFor(intent string) string {
	switch {
	case strings.Contains(intent, "lighton"), strings.Contains(intent, "wemo_on"):
		return ActionOn
	case strings.Contains(intent, "lightoff"), strings.Contains(intent, "wemo_off"):
		return ActionOff
	case strings.Contains(intent, "lightchange"):
		return ActionSet
	case strings.Contains(intent, "lightdim"):
		return ActionOff
	case strings.Contains(intent, "lightup"):
		return ActionOn
	default:
		return ActionToggle
	}
}

// intValue reads a brightness-like slot that may arrive as a number or text.
func intValue(v any) *int {
	var n int
	switch t := v.(type) {
	case int:
		n = t
	case int64:
		n = int(t)
	case float64:
		n = int(t)
	case string:
		parsed, err := strconv.Atoi(strings.TrimSuffix(strings.TrimSpace(t), "%"))
		if err != nil {
			return nil
		}
		n = parsed
	default:
		return nil
	}
	return &n
}

func controlSummary(changes []DeviceChange) string {
	switch len(changes) {
	case 0:
		return "Done! I've updated your smart home."
	case 1:
		return fmt.Sprintf("I've turned the %s %s.", changes[0].Device, onOff(changes[0].NewStatus))
	default:
		return fmt.Sprintf("I've turned %d devices %s.", len(changes), onOff(changes[0].NewStatus))
	}
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// IoTHandler serves smart-home intents against the DeviceRegistry.
type IoTHandler struct {
	devices *DeviceRegistry
	logger  *zap.Logger
}

func NewIoTHandler(devices *DeviceRegistry, logger *zap.Logger) *IoTHandler {
	if devices == nil {
		devices = NewDeviceRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IoTHandler{devices: devices, logger: logger.Named("iot-handler")}
}

func (h *IoTHandler) Handle(ctx context.Context, req model.HandlerRequest) (*model.HandlerResult, error) {
	deviceName := req.Slots.String(model.SlotDeviceName)
	if deviceName == "" {
		deviceName = req.Slots.String(model.SlotRoom)
	}
	if deviceName == "" {
		deviceName = "lights"
	}
	command := commandFor(req.Intent)

	res, err := h.devices.Control(req.SessionID, DeviceCommand{
		DeviceName: deviceName,
		Action:     command,
		Value:      intValue(req.Slots[model.SlotBrightness]),
		Color:      req.Slots.String(model.SlotColor),
	})

	var text string
	switch {
	case errors.Is(err, ErrDeviceNotFound):
		text = fmt.Sprintf("No device found matching '%s'", deviceName)
	case err != nil:
		return nil, err
	default:
		text = controlSummary(res.Changes)
	}

	h.logger.Debug("Controlled devices",
		zap.String("session_id", req.SessionID),
		zap.String("device", deviceName),
		zap.String("command", command),
		zap.Int("changed", len(res.Changes)))

	devices := devicesToMaps(res.Devices)
	return &model.HandlerResult{
		ResponseText: text,
		UIMode:       model.UIModeSmartHome,
		UIData:       map[string]any{"devices": devices},
		Action: model.IoTAction{
			Type:       "iot",
			Command:    command,
			DeviceName: deviceName,
			Room:       req.Slots.String(model.SlotRoom),
			Color:      req.Slots.String(model.SlotColor),
			Brightness: req.Slots[model.SlotBrightness],
			Devices:    devices,
		},
	}, nil
}
