package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/muurk/sidelights/internal/config"
	"github.com/muurk/sidelights/internal/deviceclient"
	"github.com/muurk/sidelights/internal/discovery"
)

func fakeResolver(reg *config.Registry, devices ...*discovery.Device) *resolver {
	return &resolver{
		registry: reg,
		port:     80,
		find: func(ctx context.Context, name string) (*discovery.Device, error) {
			for _, d := range devices {
				if d.Name == name {
					return d, nil
				}
			}
			return nil, errors.New("controller " + name + " not found within timeout")
		},
		scan: func(ctx context.Context) ([]*discovery.Device, error) {
			return devices, nil
		},
	}
}

func TestResolve(t *testing.T) {
	porch := &discovery.Device{Name: "sidelights-porch", IP: "192.168.1.50", Port: 80}
	hall := &discovery.Device{Name: "sidelights-hall", IP: "192.168.1.51", Port: 8080}

	reg := config.NewRegistry("")
	_ = reg.SetNickname("sidelights-porch", "porch")
	reg.Seen("sidelights-garage", "192.168.1.77", 80)

	tests := []struct {
		name    string
		devices []*discovery.Device
		value   string
		want    target
		wantErr string
	}{
		{
			name:  "ip address skips discovery",
			value: "10.42.0.1",
			want:  target{IP: "10.42.0.1", Port: 80},
		},
		{
			name:    "host label",
			devices: []*discovery.Device{porch, hall},
			value:   "sidelights-hall",
			want:    target{Name: "sidelights-hall", IP: "192.168.1.51", Port: 8080},
		},
		{
			name:    "nickname",
			devices: []*discovery.Device{porch, hall},
			value:   "porch",
			want:    target{Name: "sidelights-porch", IP: "192.168.1.50", Port: 80},
		},
		{
			name:  "last known address when mDNS is silent",
			value: "sidelights-garage",
			want:  target{Name: "sidelights-garage", IP: "192.168.1.77", Port: 80},
		},
		{
			name:    "unknown name",
			value:   "sidelights-attic",
			wantErr: "not found",
		},
		{
			name:    "single controller on the network",
			devices: []*discovery.Device{hall},
			want:    target{Name: "sidelights-hall", IP: "192.168.1.51", Port: 8080},
		},
		{
			name:    "several controllers need a choice",
			devices: []*discovery.Device{porch, hall},
			wantErr: "choose one with --device",
		},
		{
			name:    "nothing on the network",
			wantErr: "no controllers found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := fakeResolver(reg, tt.devices...).Resolve(context.Background(), tt.value)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Resolve() error = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Resolve() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestResolveRecordsDiscoveredAddress(t *testing.T) {
	reg := config.NewRegistry("")
	d := &discovery.Device{Name: "sidelights", IP: "192.168.1.60", Port: 80}

	if _, err := fakeResolver(reg, d).Resolve(context.Background(), "sidelights"); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	known := reg.Lookup("sidelights")
	if known == nil || known.LastIP != "192.168.1.60" {
		t.Errorf("registry entry = %+v, want last IP recorded", known)
	}
}

func TestTargetString(t *testing.T) {
	if got := (target{IP: "fe80::1", Port: 80}).String(); got != "[fe80::1]:80" {
		t.Errorf("String() = %q", got)
	}
	if got := (target{Name: "sidelights", IP: "10.0.0.5", Port: 80}).String(); got != "sidelights (10.0.0.5:80)" {
		t.Errorf("String() = %q", got)
	}
}

func TestPlainReporter(t *testing.T) {
	var buf bytes.Buffer
	report := plainReporter(&buf)
	for sent := int64(0); sent <= 1000; sent += 50 {
		report(sent, 1000)
	}
	report(10, 0) // unknown size is ignored

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 11 {
		t.Fatalf("got %d lines, want one per tenth:\n%s", len(lines), buf.String())
	}
	if !strings.Contains(lines[10], "100%") {
		t.Errorf("last line = %q, want 100%%", lines[10])
	}
}

func TestTroubleshooting(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		want    string
		wantAPs bool
	}{
		{"update failed", &deviceclient.Error{Kind: deviceclient.KindStatus, Status: 500, Message: "OTA update failed: write failed"}, "last update error", false},
		{"never answered", &deviceclient.Error{Kind: deviceclient.KindTimeout}, "did not respond", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tips := strings.Join(troubleshooting(tt.err), "\n")
			if !strings.Contains(tips, tt.want) {
				t.Errorf("troubleshooting() = %q, want %q", tips, tt.want)
			}
			if got := strings.Contains(tips, "provisioning mode"); got != tt.wantAPs {
				t.Errorf("provisioning reminder = %v, want %v", got, tt.wantAPs)
			}
		})
	}
}
