package capability

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/loqa-interpreter/internal/bus"
	"github.com/loqalabs/loqa-interpreter/internal/config"
	"github.com/loqalabs/loqa-interpreter/internal/natsserver"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func connect(t *testing.T) *bus.Client {
	t.Helper()
	srv, err := natsserver.Start(config.BusConfig{Enabled: true, Embedded: true, Port: -1, StoreDir: t.TempDir()}, newLogger())
	if err != nil {
		t.Fatalf("start embedded nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)
	client, err := bus.Connect(context.Background(), config.BusConfig{Servers: []string{srv.ClientURL()}, ConnectTimeout: 2000}, newLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestDescribe(t *testing.T) {
	sttCfg := config.STTConfig{Mode: "mock", Language: "en-US", Source: "default"}
	trCfg := config.TranslateConfig{Mode: "google"}

	caps := Describe(sttCfg, true, trCfg)
	if len(caps) != 2 || caps[0].Name != NameRecognizer || caps[1].Name != NameTranslator {
		t.Fatalf("unexpected capabilities %+v", caps)
	}
	if caps[1].Attributes["targets"] != "en,es,fr,de,it,ja,ko,zh" {
		t.Fatalf("unexpected targets %q", caps[1].Attributes["targets"])
	}

	caps = Describe(sttCfg, false, trCfg)
	if len(caps) != 1 || caps[0].Name != NameTranslator {
		t.Fatalf("recognizer must be omitted when unavailable: %+v", caps)
	}
}

func TestRegistryTracksLocalAndPeers(t *testing.T) {
	client := connect(t)
	nodeCfg := config.NodeConfig{ID: "interp-a", Role: "interpreter", HeartbeatInterval: 50, HeartbeatTimeout: 500}
	local := Describe(config.STTConfig{Mode: "mock"}, true, config.TranslateConfig{Mode: "mock"})

	reg, err := NewRegistry(context.Background(), nodeCfg, local, client, newLogger())
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	t.Cleanup(reg.Close)

	if !reg.Healthy() {
		t.Fatal("expected local node healthy after announce")
	}
	if len(reg.LocalCapabilities()) != 2 {
		t.Fatalf("unexpected local capabilities %+v", reg.LocalCapabilities())
	}

	peer := announceMessage{
		NodeID:       "interp-b",
		Role:         "interpreter",
		Capabilities: []Capability{{Name: NameTranslator}},
	}
	if err := client.PublishJSON(SubjectAnnounce, peer); err != nil {
		t.Fatalf("publish announce: %v", err)
	}
	waitFor(t, "peer announce", func() bool { return len(reg.Query(nil)) == 2 })

	recognizers := reg.Query(WithCapabilityFilter(NameRecognizer))
	if len(recognizers) != 1 || recognizers[0].ID != "interp-a" {
		t.Fatalf("unexpected recognizer nodes %+v", recognizers)
	}
	all := reg.Query(nil)
	if all[0].ID != "interp-a" || all[1].ID != "interp-b" {
		t.Fatalf("expected nodes ordered by id, got %+v", all)
	}
}

func TestRegistryMarksStaleNodes(t *testing.T) {
	client := connect(t)
	nodeCfg := config.NodeConfig{ID: "interp-a", Role: "interpreter", HeartbeatInterval: 60000, HeartbeatTimeout: 1000}
	reg, err := NewRegistry(context.Background(), nodeCfg, nil, client, newLogger())
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	t.Cleanup(reg.Close)

	reg.updateNode("interp-b", "interpreter", nil, time.Now().Add(-time.Minute))
	reg.evaluateHealth()

	for _, node := range reg.Query(nil) {
		switch node.ID {
		case "interp-a":
			if !node.Healthy {
				t.Fatal("local node should still be healthy")
			}
		case "interp-b":
			if node.Healthy {
				t.Fatal("peer without heartbeat should be unhealthy")
			}
		}
	}
	known, healthy := reg.counts()
	if known != 2 || healthy != 1 {
		t.Fatalf("unexpected counts known=%d healthy=%d", known, healthy)
	}
}
