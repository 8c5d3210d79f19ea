package state

import (
	"encoding/json"
	"testing"
)

func TestStatusString(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{StatusHealthy, "HEALTHY"},
		{StatusDown, "DOWN"},
		{StatusUnknown, "UNKNOWN"},
		{Status(42), "UNKNOWN"},
	}

	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("Status(%d).String() = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestParseStatus(t *testing.T) {
	for _, want := range []Status{StatusHealthy, StatusDown, StatusUnknown} {
		got, err := ParseStatus(want.String())
		if err != nil {
			t.Errorf("ParseStatus(%q): %v", want.String(), err)
		}
		if got != want {
			t.Errorf("ParseStatus(%q) = %v, want %v", want.String(), got, want)
		}
	}

	if _, err := ParseStatus("healthy"); err == nil {
		t.Error("expected error for lowercase status")
	}
	if _, err := ParseStatus(""); err == nil {
		t.Error("expected error for empty status")
	}
}

func TestStatusJSON(t *testing.T) {
	for _, status := range []Status{StatusHealthy, StatusDown, StatusUnknown} {
		b, err := json.Marshal(status)
		if err != nil {
			t.Fatalf("Marshal(%v): %v", status, err)
		}

		var back Status
		if err := json.Unmarshal(b, &back); err != nil {
			t.Fatalf("Unmarshal(%s): %v", b, err)
		}
		if back != status {
			t.Errorf("round trip changed %v to %v", status, back)
		}
	}

	var s Status
	if err := json.Unmarshal([]byte(`"FLAKY"`), &s); err == nil {
		t.Error("expected error for unknown status string")
	}
	if err := json.Unmarshal([]byte(`7`), &s); err == nil {
		t.Error("expected error for numeric status")
	}
}

func TestRolesClassify(t *testing.T) {
	roles := Roles{Primary: "db-main", Failover: "db-standby", Blocking: "db-void"}

	tests := []struct {
		name string
		want Role
	}{
		{"db-main", RolePrimary},
		{"db-standby", RoleFailover},
		{"db-void", RoleOther},
		{"reporting", RoleOther},
		{"", RoleOther},
	}

	for _, tt := range tests {
		if got := roles.Classify(tt.name); got != tt.want {
			t.Errorf("Classify(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
