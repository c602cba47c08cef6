package access

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/nerrad567/devicehub-core/internal/auth"
	"github.com/nerrad567/devicehub-core/internal/device"
)

type fakeClients map[string][]string

func (f fakeClients) ListCompanyClientIDs(_ context.Context, companyID string) ([]string, error) {
	return f[companyID], nil
}

type failingClients struct{}

func (failingClients) ListCompanyClientIDs(context.Context, string) ([]string, error) {
	return nil, errors.New("db locked")
}

var (
	superAdmin = auth.Principal{ID: "su-1", Role: auth.RoleSuperAdmin, Kind: auth.KindSuperUser}
	admin      = auth.Principal{ID: "su-2", Role: auth.RoleAdmin, Kind: auth.KindSuperUser}
	company    = auth.Principal{ID: "cmp-1", Role: auth.RoleCompany, Kind: auth.KindCompany}
	clientA    = auth.Principal{ID: "cli-a", Role: auth.RoleClient, Kind: auth.KindClient}
	clientB    = auth.Principal{ID: "cli-b", Role: auth.RoleClient, Kind: auth.KindClient}
	stranger   = auth.Principal{ID: "x", Role: auth.Role("invitado")}

	deviceA     = &device.Device{ID: "dev-a", ClientID: "cli-a"}
	deviceOther = &device.Device{ID: "dev-z", ClientID: "cli-z"}
	deviceFree  = &device.Device{ID: "dev-free"}
)

func newTestController() *Controller {
	return NewController(fakeClients{"cmp-1": {"cli-a", "cli-b"}}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestAuthorizeDevice_Matrix(t *testing.T) {
	c := newTestController()
	ctx := context.Background()

	tests := []struct {
		name      string
		principal auth.Principal
		device    *device.Device
		action    Action
		allowed   bool
	}{
		{"superadmin delete any", superAdmin, deviceOther, ActionDelete, true},
		{"admin configure unassigned", admin, deviceFree, ActionConfigure, true},

		{"company read owned via client", company, deviceA, ActionRead, true},
		{"company control owned via client", company, deviceA, ActionControl, true},
		{"company configure owned", company, deviceA, ActionConfigure, false},
		{"company delete owned", company, deviceA, ActionDelete, false},
		{"company read foreign", company, deviceOther, ActionRead, false},
		{"company read unassigned", company, deviceFree, ActionRead, false},

		{"client read own", clientA, deviceA, ActionRead, true},
		{"client control own", clientA, deviceA, ActionControl, true},
		{"client configure own", clientA, deviceA, ActionConfigure, false},
		{"client delete own", clientA, deviceA, ActionDelete, false},
		{"client read other client's", clientB, deviceA, ActionRead, false},
		{"client control other client's", clientB, deviceA, ActionControl, false},

		{"unknown role", stranger, deviceA, ActionRead, false},
		{"unknown action", superAdmin, deviceA, Action("paint"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.AuthorizeDevice(ctx, tt.principal, tt.device, tt.action)
			if tt.allowed && err != nil {
				t.Errorf("AuthorizeDevice() error = %v, want allowed", err)
			}
			if !tt.allowed && !errors.Is(err, ErrDenied) {
				t.Errorf("AuthorizeDevice() error = %v, want ErrDenied", err)
			}
		})
	}
}

func TestAuthorizeCommand(t *testing.T) {
	c := newTestController()
	ctx := context.Background()

	tests := []struct {
		name      string
		principal auth.Principal
		device    *device.Device
		command   string
		allowed   bool
	}{
		{"superadmin factory reset", superAdmin, deviceA, "factory_reset", true},
		{"admin update firmware", admin, deviceOther, "update_firmware", true},
		{"client reset own device", clientA, deviceA, "reset", false},
		{"company configure command", company, deviceA, "configure", false},
		{"client ordinary command own", clientA, deviceA, "turn_on", true},
		{"company ordinary command owned", company, deviceA, "set_level", true},
		{"client ordinary command foreign", clientB, deviceA, "turn_on", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.AuthorizeCommand(ctx, tt.principal, tt.device, tt.command)
			if tt.allowed && err != nil {
				t.Errorf("AuthorizeCommand() error = %v, want allowed", err)
			}
			if !tt.allowed && !errors.Is(err, ErrDenied) {
				t.Errorf("AuthorizeCommand() error = %v, want ErrDenied", err)
			}
		})
	}
}

func TestFilterDevices(t *testing.T) {
	c := newTestController()
	ctx := context.Background()
	all := []device.Device{
		{ID: "d1", ClientID: "cli-a"},
		{ID: "d2", ClientID: "cli-b"},
		{ID: "d3", ClientID: "cli-z"},
		{ID: "d4"},
	}

	tests := []struct {
		name      string
		principal auth.Principal
		want      []string
	}{
		{"superadmin sees all", superAdmin, []string{"d1", "d2", "d3", "d4"}},
		{"company sees its clients", company, []string{"d1", "d2"}},
		{"client sees own", clientA, []string{"d1"}},
		{"unknown role sees none", stranger, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.FilterDevices(ctx, tt.principal, all)
			if err != nil {
				t.Fatalf("FilterDevices() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("FilterDevices() returned %d devices, want %d", len(got), len(tt.want))
			}
			for i, d := range got {
				if d.ID != tt.want[i] {
					t.Errorf("device[%d] = %s, want %s", i, d.ID, tt.want[i])
				}
			}
		})
	}
}

func TestDenialIsLoggedAndReported(t *testing.T) {
	var buf bytes.Buffer
	c := NewController(fakeClients{}, slog.New(slog.NewTextHandler(&buf, nil)))

	var got []Denial
	c.SetDenyHook(func(_ context.Context, d Denial) { got = append(got, d) })

	if err := c.AuthorizeDevice(context.Background(), clientB, deviceA, ActionControl); err == nil {
		t.Fatal("expected denial")
	}

	if len(got) != 1 {
		t.Fatalf("hook called %d times, want 1", len(got))
	}
	if got[0].Principal.ID != "cli-b" || got[0].DeviceID != "dev-a" || got[0].Action != ActionControl {
		t.Errorf("denial = %+v", got[0])
	}

	out := buf.String()
	for _, want := range []string{"role=cliente", "account_id=cli-b", "device_id=dev-a", "action=control"} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %q: %s", want, out)
		}
	}
}

func TestCompanyClientLookupFailure(t *testing.T) {
	c := NewController(failingClients{}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	err := c.AuthorizeDevice(context.Background(), company, deviceA, ActionRead)
	if err == nil || errors.Is(err, ErrDenied) {
		t.Errorf("AuthorizeDevice() error = %v, want a lookup error", err)
	}
	if _, err := c.FilterDevices(context.Background(), company, []device.Device{*deviceA}); err == nil {
		t.Error("FilterDevices() should surface the lookup error")
	}
}
