package application

import (
	"context"
	"fmt"
	"log/slog"

	"voicebridge/internal/domain"
	"voicebridge/internal/metrics"
)

// Tool names in the registry. The set is closed: anything else is rejected
// with a structured error result.
const (
	ToolFetchDevices  = "fetch-devices"
	ToolControlDevice = "control-device"
)

// How many known devices a not_found result lists for the model to read back.
const maxKnownDevices = 12

// Dispatcher routes tool calls from the remote session to the device-control
// client and the resolver. It never returns an error: a broken tool call must
// not terminate the session, so every failure becomes a structured result.
type Dispatcher struct {
	devices DeviceService
	params  domain.ResolverParams
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewDispatcher(devices DeviceService, params domain.ResolverParams, m *metrics.Metrics, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		devices: devices,
		params:  params,
		metrics: m,
		logger:  logger,
	}
}

// Declarations returns the tool registry attached to every remote session.
func (d *Dispatcher) Declarations() []ToolDeclaration {
	return []ToolDeclaration{
		{
			Name:        ToolFetchDevices,
			Description: "Fetch the latest smart-home device list and on/off status from the appliance API.",
		},
		{
			Name:        ToolControlDevice,
			Description: "Turn an appliance on/off/toggle by specifying an action and a target string. The server resolves the target against the latest device list, then calls the appliance API.",
			Params: []ToolParam{
				{Name: "action", Enum: []string{"on", "off", "toggle"}, Required: true},
				{Name: "target", Description: "Examples: 'Living room TV', 'Bedroom bulb', 'Study PC', 'Bedroom AC'.", Required: true},
			},
		},
	}
}

// Dispatch runs the named tool and returns its structured result.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, args map[string]any) (result map[string]any) {
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error("tool dispatch panic", "tool", name, "panic", rec)
			result = errorResult(fmt.Sprintf("internal error running '%s'", name))
		}
		label := "error"
		if ok, _ := result["ok"].(bool); ok {
			label = "ok"
		}
		d.metrics.ToolCall(name, label)
	}()

	switch name {
	case ToolFetchDevices:
		return d.fetchDevices(ctx)
	case ToolControlDevice:
		return d.controlDevice(ctx, args)
	default:
		return errorResult(fmt.Sprintf("Unknown tool '%s'", name))
	}
}

func (d *Dispatcher) fetchDevices(ctx context.Context) map[string]any {
	snap, err := d.devices.FetchDevices(ctx)
	if err != nil {
		return map[string]any{"ok": false, "error": fmt.Sprintf("fetching devices: %v", err)}
	}
	return map[string]any{
		"ok":      true,
		"ts":      snap.FetchedAt.UnixMilli(),
		"devices": snap.Devices,
	}
}

func (d *Dispatcher) controlDevice(ctx context.Context, args map[string]any) map[string]any {
	action := domain.ParseAction(stringArg(args, "action"))
	target := stringArg(args, "target")

	snap, err := d.devices.FetchDevices(ctx)
	if err != nil {
		return errorResult(fmt.Sprintf("fetching devices: %v", err))
	}

	res := domain.Resolve(snap.Devices, target, d.params)
	switch res.Outcome {
	case domain.Ambiguous:
		options := make([]map[string]any, 0, len(res.Options))
		for _, dev := range res.Options {
			options = append(options, map[string]any{
				"type":   dev.Type,
				"id":     dev.ID,
				"name":   dev.Name,
				"room":   dev.Room,
				"status": dev.Status,
			})
		}
		return map[string]any{
			"ok":      false,
			"result":  "needs_clarification",
			"message": fmt.Sprintf("I found multiple matches for '%s'. Please pick one.", target),
			"options": options,
		}

	case domain.NotFound:
		known := make([]string, 0, maxKnownDevices)
		for _, dev := range snap.Devices {
			if len(known) == maxKnownDevices {
				break
			}
			known = append(known, dev.Describe())
		}
		return map[string]any{
			"ok":            false,
			"result":        "not_found",
			"message":       fmt.Sprintf("I couldn't find a device matching '%s'.", target),
			"known_devices": known,
		}
	}

	dev := *res.Device
	before := dev.Status
	after := action.Apply(before)

	if err := d.devices.SetDevice(ctx, dev.Type, dev.ID, after); err != nil {
		return map[string]any{
			"ok":      false,
			"result":  "error",
			"message": fmt.Sprintf("Failed to control %s via API: %v", dev.Name, err),
			"device": map[string]any{
				"type": dev.Type,
				"id":   dev.ID,
				"name": dev.Name,
				"room": dev.Room,
			},
		}
	}

	state := "OFF"
	if after {
		state = "ON"
	}
	return map[string]any{
		"ok":      true,
		"result":  "success",
		"message": fmt.Sprintf("%s is now %s.", dev.Name, state),
		"device": map[string]any{
			"type":          dev.Type,
			"id":            dev.ID,
			"name":          dev.Name,
			"room":          dev.Room,
			"status_before": before,
			"status_after":  after,
		},
	}
}

func errorResult(msg string) map[string]any {
	return map[string]any{"ok": false, "result": "error", "message": msg}
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}
