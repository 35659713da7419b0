package core

import (
	"errors"
	"testing"
)

func TestStatusRecognized(t *testing.T) {
	cases := []struct {
		status Status
		want   bool
	}{
		{StatusCompleted, true},
		{StatusDelayed, true},
		{StatusOngoing, true},
		{Status(""), false},
		{Status("on-hold"), false},
		{Status("COMPLETED"), false},
	}
	for _, c := range cases {
		if got := c.status.Recognized(); got != c.want {
			t.Errorf("Recognized(%q) = %v, want %v", c.status, got, c.want)
		}
	}
}

func TestBreakdownValidate(t *testing.T) {
	valid := Breakdown{
		Name:      "Road concreting, Phase 1",
		Office:    "PEO",
		Status:    StatusOngoing,
		Allocated: Money{Centavos: 100_000_00},
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid breakdown rejected: %v", err)
	}

	cases := []struct {
		name    string
		mutate  func(*Breakdown)
		wantErr error
	}{
		{"empty name", func(b *Breakdown) { b.Name = "  " }, ErrEmptyName},
		{"empty office", func(b *Breakdown) { b.Office = "" }, ErrEmptyOffice},
		{"bad status", func(b *Breakdown) { b.Status = "paused" }, ErrInvalidStatus},
		{"negative allocated", func(b *Breakdown) { b.Allocated = Money{Centavos: -1} }, ErrInvalidAmount},
		{"negative utilized", func(b *Breakdown) { b.Utilized = Money{Centavos: -50} }, ErrInvalidAmount},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			b := valid
			c.mutate(&b)
			if err := b.Validate(); !errors.Is(err, c.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, c.wantErr)
			}
		})
	}
}

func TestProjectValidate(t *testing.T) {
	p := Project{Name: "Farm-to-market roads 2026", Budget: Money{Centavos: 5_000_000_00}}
	if err := p.Validate(); err != nil {
		t.Fatalf("valid project rejected: %v", err)
	}

	p.Name = ""
	if err := p.Validate(); !errors.Is(err, ErrEmptyName) {
		t.Errorf("empty name: Validate() = %v, want %v", err, ErrEmptyName)
	}
}

func TestBreakdownSnapshotFields(t *testing.T) {
	b := Breakdown{
		ID:        "b1",
		ProjectID: "p1",
		Name:      "Drainage works",
		Office:    "PEO",
		Status:    StatusCompleted,
		Allocated: Money{Centavos: 1234},
	}
	snap := b.Snapshot()

	if snap["projectId"] != "p1" {
		t.Errorf("snapshot projectId = %v, want p1", snap["projectId"])
	}
	if snap["status"] != "completed" {
		t.Errorf("snapshot status = %v, want completed", snap["status"])
	}
	if snap["allocated"] != int64(1234) {
		t.Errorf("snapshot allocated = %v, want 1234", snap["allocated"])
	}
}
