package web

import (
	"encoding/json"
	"testing"

	"github.com/ocotilloai/kestrel/internal/models"
	"github.com/ocotilloai/kestrel/internal/orchestrator"
)

func TestNewEventFromAPIDefaultsUnsetFields(t *testing.T) {
	ev := newEventFromAPI("", "", "", "hello")
	if ev.Type != models.EventDetail {
		t.Fatalf("Type = %q, want %q", ev.Type, models.EventDetail)
	}
	if ev.Role != models.RoleSystem {
		t.Fatalf("Role = %q, want %q", ev.Role, models.RoleSystem)
	}
	if ev.Source != models.SourceController {
		t.Fatalf("Source = %q, want %q", ev.Source, models.SourceController)
	}
	if ev.Body != "hello" {
		t.Fatalf("Body = %q, want %q", ev.Body, "hello")
	}
}

func TestNewEventFromAPIHonorsExplicitFields(t *testing.T) {
	ev := newEventFromAPI(string(models.EventError), string(models.RoleUser), string(models.SourceManager), "boom")
	if ev.Type != models.EventError {
		t.Fatalf("Type = %q, want %q", ev.Type, models.EventError)
	}
	if ev.Role != models.RoleUser {
		t.Fatalf("Role = %q, want %q", ev.Role, models.RoleUser)
	}
	if ev.Source != models.SourceManager {
		t.Fatalf("Source = %q, want %q", ev.Source, models.SourceManager)
	}
}

func TestOutboundToWireCarriesMetadataThrough(t *testing.T) {
	ob := orchestrator.Outbound{
		Type:     models.EventToolResult,
		Role:     models.RoleCoder,
		Source:   models.SourceToolRunner,
		Content:  "ok",
		Metadata: map[string]any{"tool": "read_file"},
	}
	wf := outboundToWire(ob)
	if wf.Type != ob.Type || wf.Role != ob.Role || wf.Source != ob.Source || wf.Content != ob.Content {
		t.Fatalf("outboundToWire dropped a field: %+v", wf)
	}
	if wf.Metadata["tool"] != "read_file" {
		t.Fatalf("Metadata not carried through: %+v", wf.Metadata)
	}

	data, err := json.Marshal(wf)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var round wireFrame
	if err := json.Unmarshal(data, &round); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if round.Content != "ok" {
		t.Fatalf("round-tripped Content = %q, want %q", round.Content, "ok")
	}
}

func TestWireFrameOmitsEmptyMetadata(t *testing.T) {
	wf := wireFrame{Type: models.EventSystem, Role: models.RoleSystem, Source: models.SourceController, Content: "pong"}
	data, err := json.Marshal(wf)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if _, present := raw["metadata"]; present {
		t.Fatalf("expected metadata to be omitted when nil, got %v", raw["metadata"])
	}
}
