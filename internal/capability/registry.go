package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/loqa-interpreter/internal/bus"
	"github.com/loqalabs/loqa-interpreter/internal/config"
	"github.com/loqalabs/loqa-interpreter/internal/language"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	SubjectAnnounce        = "ctrl.node.announce"
	subjectHeartbeatPrefix = "ctrl.node.heartbeat."

	NameRecognizer = "speech.recognition"
	NameTranslator = "text.translation"
)

type Capability struct {
	Name       string            `json:"name"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

type NodeInfo struct {
	ID           string       `json:"id"`
	Role         string       `json:"role"`
	Capabilities []Capability `json:"capabilities"`
	LastSeen     time.Time    `json:"last_seen"`
	Healthy      bool         `json:"healthy"`
}

type announceMessage struct {
	NodeID       string       `json:"node_id"`
	Role         string       `json:"role"`
	Capabilities []Capability `json:"capabilities"`
	Timestamp    time.Time    `json:"timestamp"`
}

type heartbeatMessage struct {
	NodeID    string    `json:"node_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Describe lists what this interpreter node can do. The recognizer entry is
// only present when a recognizer was detected.
func Describe(stt config.STTConfig, recognizerAvailable bool, tr config.TranslateConfig) []Capability {
	var caps []Capability
	if recognizerAvailable {
		caps = append(caps, Capability{
			Name: NameRecognizer,
			Attributes: map[string]string{
				"mode":     stt.Mode,
				"language": stt.Language,
				"source":   stt.Source,
			},
		})
	}
	codes := make([]string, 0, len(language.All()))
	for _, lang := range language.All() {
		codes = append(codes, lang.Code)
	}
	caps = append(caps, Capability{
		Name: NameTranslator,
		Attributes: map[string]string{
			"mode":    tr.Mode,
			"targets": strings.Join(codes, ","),
		},
	})
	return caps
}

// Registry announces the local node on the bus and tracks peers from their
// announcements and heartbeats.
type Registry struct {
	cfg       config.NodeConfig
	local     []Capability
	log       *slog.Logger
	bus       *bus.Client
	mu        sync.RWMutex
	nodes     map[string]*NodeInfo
	heartbeat *time.Ticker
	cancel    context.CancelFunc
	subs      []*nats.Subscription
	now       func() time.Time
}

func NewRegistry(ctx context.Context, cfg config.NodeConfig, local []Capability, busClient *bus.Client, log *slog.Logger) (*Registry, error) {
	ctx, cancel := context.WithCancel(ctx)
	r := &Registry{
		cfg:    cfg,
		local:  local,
		log:    log.With(slog.String("component", "capability-registry")),
		bus:    busClient,
		nodes:  make(map[string]*NodeInfo),
		cancel: cancel,
		now:    time.Now,
	}

	if err := r.initMetrics(); err != nil {
		r.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}

	if err := r.subscribe(); err != nil {
		r.cancel()
		return nil, err
	}

	r.heartbeat = time.NewTicker(time.Duration(cfg.HeartbeatInterval) * time.Millisecond)
	go r.runHeartbeat(ctx)
	go r.monitorHealth(ctx)

	if err := r.announce(); err != nil {
		r.log.Warn("failed to announce node", slog.String("error", err.Error()))
	}
	return r, nil
}

func (r *Registry) Close() {
	if r.cancel != nil {
		r.cancel()
	}
	if r.heartbeat != nil {
		r.heartbeat.Stop()
	}
	for _, sub := range r.subs {
		_ = sub.Unsubscribe()
	}
}

func (r *Registry) subscribe() error {
	conn := r.bus.Conn()
	announceSub, err := conn.Subscribe(SubjectAnnounce, r.handleAnnounce)
	if err != nil {
		return fmt.Errorf("subscribe announce: %w", err)
	}
	r.subs = append(r.subs, announceSub)

	heartbeatSub, err := conn.Subscribe(subjectHeartbeatPrefix+"*", r.handleHeartbeat)
	if err != nil {
		_ = announceSub.Unsubscribe()
		return fmt.Errorf("subscribe heartbeat: %w", err)
	}
	r.subs = append(r.subs, heartbeatSub)
	return conn.Flush()
}

func (r *Registry) runHeartbeat(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.heartbeat.C:
			if err := r.publishHeartbeat(); err != nil {
				r.log.Warn("failed to publish heartbeat", slog.String("error", err.Error()))
			}
		}
	}
}

func (r *Registry) monitorHealth(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.evaluateHealth()
		}
	}
}

func (r *Registry) announce() error {
	msg := announceMessage{
		NodeID:       r.cfg.ID,
		Role:         r.cfg.Role,
		Capabilities: r.local,
		Timestamp:    r.now().UTC(),
	}
	r.updateNode(msg.NodeID, msg.Role, msg.Capabilities, msg.Timestamp)
	return r.bus.PublishJSON(SubjectAnnounce, msg)
}

func (r *Registry) publishHeartbeat() error {
	msg := heartbeatMessage{NodeID: r.cfg.ID, Timestamp: r.now().UTC()}
	r.updateNode(msg.NodeID, "", nil, msg.Timestamp)
	return r.bus.PublishJSON(subjectHeartbeatPrefix+r.cfg.ID, msg)
}

func (r *Registry) handleAnnounce(msg *nats.Msg) {
	var announcement announceMessage
	if err := json.Unmarshal(msg.Data, &announcement); err != nil {
		r.log.Warn("invalid announce message", slog.String("error", err.Error()))
		return
	}
	if announcement.NodeID == "" {
		return
	}
	if announcement.Timestamp.IsZero() {
		announcement.Timestamp = r.now().UTC()
	}
	r.updateNode(announcement.NodeID, announcement.Role, announcement.Capabilities, announcement.Timestamp)
}

func (r *Registry) handleHeartbeat(msg *nats.Msg) {
	var hb heartbeatMessage
	if err := json.Unmarshal(msg.Data, &hb); err != nil {
		r.log.Warn("invalid heartbeat message", slog.String("error", err.Error()))
		return
	}
	if hb.NodeID == "" {
		hb.NodeID = strings.TrimPrefix(msg.Subject, subjectHeartbeatPrefix)
	}
	if hb.Timestamp.IsZero() {
		hb.Timestamp = r.now().UTC()
	}
	r.updateNode(hb.NodeID, "", nil, hb.Timestamp)
}

func (r *Registry) updateNode(nodeID, role string, capabilities []Capability, seen time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[nodeID]
	if !ok {
		node = &NodeInfo{ID: nodeID}
		r.nodes[nodeID] = node
	}
	if role != "" {
		node.Role = role
	}
	if capabilities != nil {
		node.Capabilities = capabilities
	}
	if seen.After(node.LastSeen) {
		node.LastSeen = seen
	}
	node.Healthy = true
}

func (r *Registry) evaluateHealth() {
	r.mu.Lock()
	defer r.mu.Unlock()

	timeout := time.Duration(r.cfg.HeartbeatTimeout) * time.Millisecond
	now := r.now()
	for _, node := range r.nodes {
		if now.Sub(node.LastSeen) > timeout {
			node.Healthy = false
		}
	}
}

// Healthy reports whether the local node's own heartbeat is current.
func (r *Registry) Healthy() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	node, ok := r.nodes[r.cfg.ID]
	if !ok {
		return false
	}
	return node.Healthy
}

// Query returns known nodes matching filter, ordered by ID.
func (r *Registry) Query(filter func(NodeInfo) bool) []NodeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []NodeInfo
	for _, node := range r.nodes {
		info := *node
		info.Capabilities = append([]Capability(nil), node.Capabilities...)
		if filter == nil || filter(info) {
			results = append(results, info)
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })
	return results
}

func (r *Registry) LocalCapabilities() []Capability {
	return append([]Capability(nil), r.local...)
}

func WithCapabilityFilter(name string) func(NodeInfo) bool {
	return func(node NodeInfo) bool {
		for _, c := range node.Capabilities {
			if c.Name == name {
				return true
			}
		}
		return false
	}
}

func (r *Registry) initMetrics() error {
	meter := otel.Meter("github.com/loqalabs/loqa-interpreter/capability")
	nodeGauge, err := meter.Int64ObservableGauge("interp.nodes.known", metric.WithDescription("Number of known interpreter nodes"))
	if err != nil {
		return err
	}
	healthyGauge, err := meter.Int64ObservableGauge("interp.nodes.healthy", metric.WithDescription("Number of nodes with a current heartbeat"))
	if err != nil {
		return err
	}
	_, err = meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		known, healthy := r.counts()
		obs.ObserveInt64(nodeGauge, known)
		obs.ObserveInt64(healthyGauge, healthy)
		return nil
	}, nodeGauge, healthyGauge)
	return err
}

func (r *Registry) counts() (known, healthy int64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, node := range r.nodes {
		known++
		if node.Healthy {
			healthy++
		}
	}
	return known, healthy
}
