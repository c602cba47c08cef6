package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/nerrad567/devicehub-core/internal/auth"
	"github.com/nerrad567/devicehub-core/internal/device"
)

// Action is an operation on a device.
type Action string

const (
	ActionRead      Action = "read"
	ActionControl   Action = "control"
	ActionConfigure Action = "configure"
	ActionDelete    Action = "delete"
)

// permissions maps each action to the role permission it needs.
var permissions = map[Action]auth.Permission{
	ActionRead:      auth.PermDeviceRead,
	ActionControl:   auth.PermDeviceControl,
	ActionConfigure: auth.PermDeviceConfigure,
	ActionDelete:    auth.PermDeviceDelete,
}

// criticalCommands may only be sent by a SuperUser, whoever owns the device.
var criticalCommands = map[string]bool{
	"reset":           true,
	"configure":       true,
	"update_firmware": true,
	"factory_reset":   true,
}

// IsCriticalCommand reports whether a command is restricted to SuperUsers.
func IsCriticalCommand(command string) bool {
	return criticalCommands[command]
}

// ErrDenied is returned when a principal may not perform an action.
var ErrDenied = errors.New("access denied")

// Denial describes one refused request.
type Denial struct {
	Principal auth.Principal
	DeviceID  string
	Action    Action
	Command   string
	Reason    string
}

// ClientLister returns the ids of the clients assigned to a company.
type ClientLister interface {
	ListCompanyClientIDs(ctx context.Context, companyID string) ([]string, error)
}

// Controller evaluates device access decisions.
type Controller struct {
	clients ClientLister
	logger  *slog.Logger
	onDeny  func(context.Context, Denial)
}

// NewController creates a Controller.
func NewController(clients ClientLister, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{clients: clients, logger: logger}
}

// SetDenyHook registers a callback invoked after every denial is logged.
func (c *Controller) SetDenyHook(fn func(context.Context, Denial)) {
	c.onDeny = fn
}

// AuthorizeDevice returns nil if p may perform action on d, or an error
// wrapping ErrDenied. Other errors come from loading a company's clients.
func (c *Controller) AuthorizeDevice(ctx context.Context, p auth.Principal, d *device.Device, action Action) error {
	perm, ok := permissions[action]
	if !ok {
		return c.deny(ctx, Denial{Principal: p, DeviceID: d.ID, Action: action, Reason: "unknown action"})
	}

	if !auth.HasPermission(p.Role, perm) {
		return c.deny(ctx, Denial{Principal: p, DeviceID: d.ID, Action: action, Reason: "role lacks permission"})
	}

	if p.IsSuperUser() {
		return nil
	}

	owns, err := c.owns(ctx, p, d)
	if err != nil {
		return err
	}
	if !owns {
		return c.deny(ctx, Denial{Principal: p, DeviceID: d.ID, Action: action, Reason: "device not owned"})
	}
	return nil
}

// AuthorizeCommand checks a device command. Critical commands require a
// SuperUser; every other command needs control access.
func (c *Controller) AuthorizeCommand(ctx context.Context, p auth.Principal, d *device.Device, command string) error {
	if IsCriticalCommand(command) {
		if auth.HasPermission(p.Role, auth.PermCriticalCommand) {
			return nil
		}
		return c.deny(ctx, Denial{Principal: p, DeviceID: d.ID, Action: ActionControl, Command: command, Reason: "critical command"})
	}
	return c.AuthorizeDevice(ctx, p, d, ActionControl)
}

// FilterDevices returns the devices p may read. SuperUsers see all,
// Companies see their clients' devices, Clients see their own and any
// other role sees none. Filtered-out devices are not logged as denials.
func (c *Controller) FilterDevices(ctx context.Context, p auth.Principal, devices []device.Device) ([]device.Device, error) {
	switch {
	case p.IsSuperUser():
		return devices, nil
	case p.Role == auth.RoleClient:
		return filter(devices, func(d device.Device) bool { return d.ClientID != "" && d.ClientID == p.ID }), nil
	case p.Role == auth.RoleCompany:
		ids, err := c.clients.ListCompanyClientIDs(ctx, p.ID)
		if err != nil {
			return nil, fmt.Errorf("loading company clients: %w", err)
		}
		return filter(devices, func(d device.Device) bool { return d.ClientID != "" && slices.Contains(ids, d.ClientID) }), nil
	default:
		return []device.Device{}, nil
	}
}

func (c *Controller) owns(ctx context.Context, p auth.Principal, d *device.Device) (bool, error) {
	if d.ClientID == "" {
		return false, nil
	}

	switch p.Role {
	case auth.RoleClient:
		return d.ClientID == p.ID, nil
	case auth.RoleCompany:
		ids, err := c.clients.ListCompanyClientIDs(ctx, p.ID)
		if err != nil {
			return false, fmt.Errorf("loading company clients: %w", err)
		}
		return slices.Contains(ids, d.ClientID), nil
	default:
		return false, nil
	}
}

func (c *Controller) deny(ctx context.Context, d Denial) error {
	c.logger.Warn("device access denied",
		"role", string(d.Principal.Role),
		"account_id", d.Principal.ID,
		"device_id", d.DeviceID,
		"action", string(d.Action),
		"command", d.Command,
		"reason", d.Reason,
	)
	if c.onDeny != nil {
		c.onDeny(ctx, d)
	}
	return fmt.Errorf("%w: %s", ErrDenied, d.Reason)
}

func filter(devices []device.Device, keep func(device.Device) bool) []device.Device {
	out := []device.Device{}
	for _, d := range devices {
		if keep(d) {
			out = append(out, d)
		}
	}
	return out
}
