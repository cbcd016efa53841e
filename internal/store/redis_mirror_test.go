package store

import (
	"encoding/json"
	"testing"

	"github.com/agentoven/registry-gateway/control-plane/pkg/models"
)

func TestDecodeWireEvent_RoundTripsServerSnapshot(t *testing.T) {
	srv := &models.Server{Path: "/svc/hello", Namespace: "default", Name: "hello", ProxyURL: "http://localhost:9000"}
	snap, err := json.Marshal(srv)
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}
	payload, err := json.Marshal(wireChangeEvent{
		NodeID:    "node-a",
		Kind:      models.EntityKindServer,
		Namespace: "default",
		Path:      "/svc/hello",
		Op:        models.ChangeCreated,
		Snapshot:  snap,
	})
	if err != nil {
		t.Fatalf("marshal wire event: %v", err)
	}

	ev, nodeID, err := decodeWireEvent(string(payload))
	if err != nil {
		t.Fatalf("decodeWireEvent: %v", err)
	}
	if nodeID != "node-a" {
		t.Errorf("nodeID = %q, want %q", nodeID, "node-a")
	}
	if ev.Kind != models.EntityKindServer || ev.Path != "/svc/hello" || ev.Op != models.ChangeCreated {
		t.Errorf("unexpected event %+v", ev)
	}
	got, ok := ev.Snapshot.(*models.Server)
	if !ok {
		t.Fatalf("Snapshot type = %T, want *models.Server", ev.Snapshot)
	}
	if got.Name != "hello" || got.ProxyURL != "http://localhost:9000" {
		t.Errorf("Snapshot = %+v, want restored server fields", got)
	}
}

func TestDecodeWireEvent_AgentSnapshotAndNoSnapshot(t *testing.T) {
	payload, err := json.Marshal(wireChangeEvent{
		NodeID:    "node-b",
		Kind:      models.EntityKindAgent,
		Namespace: "default",
		Path:      "/agent/foo",
		Op:        models.ChangeDeleted,
	})
	if err != nil {
		t.Fatalf("marshal wire event: %v", err)
	}

	ev, nodeID, err := decodeWireEvent(string(payload))
	if err != nil {
		t.Fatalf("decodeWireEvent: %v", err)
	}
	if nodeID != "node-b" {
		t.Errorf("nodeID = %q, want %q", nodeID, "node-b")
	}
	if ev.Snapshot != nil {
		t.Errorf("Snapshot = %+v, want nil for a delete event", ev.Snapshot)
	}
}

func TestDecodeWireEvent_InvalidJSON(t *testing.T) {
	if _, _, err := decodeWireEvent("not json"); err == nil {
		t.Error("expected an error for malformed payload")
	}
}
