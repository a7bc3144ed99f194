package device

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateID(t *testing.T) {
	tests := []struct {
		id      string
		wantErr bool
	}{
		{"dev-1", false},
		{"gateway.site-a:01", false},
		{"A_b", false},
		{"", true},
		{"-leading", true},
		{"has space", true},
		{"slash/id", true},
		{"hash#", true},
		{strings.Repeat("x", maxIDLength+1), true},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			err := ValidateID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateID(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidDevice) {
				t.Errorf("error %v does not wrap ErrInvalidDevice", err)
			}
		})
	}
}

func TestValidateInitialStatus(t *testing.T) {
	for _, s := range []Status{StatusIdle, StatusOffline, StatusUnknown} {
		if err := ValidateInitialStatus(s); err != nil {
			t.Errorf("ValidateInitialStatus(%s) error = %v", s, err)
		}
	}
	for _, s := range []Status{StatusBusy, "idle", ""} {
		if err := ValidateInitialStatus(s); !errors.Is(err, ErrInvalidStatus) {
			t.Errorf("ValidateInitialStatus(%q) error = %v, want ErrInvalidStatus", s, err)
		}
	}
}

func TestValidateMetadata(t *testing.T) {
	if err := ValidateMetadata(nil); err != nil {
		t.Errorf("nil metadata error = %v", err)
	}

	tooMany := Metadata{}
	for i := 0; i <= maxMetadataKeys; i++ {
		tooMany[strings.Repeat("k", i+1)] = "v"
	}
	tests := []struct {
		name string
		m    Metadata
	}{
		{"too many keys", tooMany},
		{"long key", Metadata{strings.Repeat("k", maxMetadataKeyLength+1): "v"}},
		{"long value", Metadata{"k": strings.Repeat("v", maxMetadataValueLen+1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateMetadata(tt.m); !errors.Is(err, ErrInvalidDevice) {
				t.Errorf("ValidateMetadata() error = %v, want ErrInvalidDevice", err)
			}
		})
	}
}

func TestDevice_DeepCopy(t *testing.T) {
	var nilDevice *Device
	if nilDevice.DeepCopy() != nil {
		t.Error("DeepCopy(nil) should be nil")
	}

	d := testDevice("dev-1")
	cpy := d.DeepCopy()
	cpy.Metadata["model"] = "changed"
	*cpy.LastSeen = cpy.LastSeen.Add(1)

	if d.Metadata["model"] != "gw-200" {
		t.Error("metadata shared between copies")
	}
	if d.LastSeen.Equal(*cpy.LastSeen) {
		t.Error("last_seen shared between copies")
	}
}
