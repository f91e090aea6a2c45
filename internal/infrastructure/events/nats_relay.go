package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dflow-sh/dflow-sub003/internal/core/ports"
	"github.com/dflow-sh/dflow-sub003/internal/domain"
	"github.com/dflow-sh/dflow-sub003/internal/infrastructure/logger"
	"github.com/nats-io/nats.go"
)

// NATSRelay publishes events on NATS so every API instance can serve
// subscribers for every key. Messages received on the wildcard subject are
// handed to the local broadcaster.
type NATSRelay struct {
	nc     *nats.Conn
	sub    *nats.Subscription
	prefix string
	local  *Broadcaster
	log    *logger.Logger
}

var _ ports.EventPublisher = (*NATSRelay)(nil)

func NewNATSRelay(url, prefix string, local *Broadcaster, log *logger.Logger) (*NATSRelay, error) {
	if log == nil {
		log = logger.NewNop()
	}
	if prefix == "" {
		prefix = "dflow.events"
	}
	r := &NATSRelay{prefix: prefix, local: local, log: log}

	opts := []nats.Option{
		nats.Name("dflow-events"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warnw("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Infow("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	r.nc = nc

	sub, err := nc.Subscribe(prefix+".>", r.receive)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("subscribe %s.>: %w", prefix, err)
	}
	r.sub = sub
	return r, nil
}

// Subject maps a target key onto a NATS subject.
func (r *NATSRelay) Subject(key string) string {
	return r.prefix + "." + strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_").Replace(key)
}

func (r *NATSRelay) Publish(ctx context.Context, key string, ev domain.Event) {
	if key == "" {
		return
	}
	ev.TargetKey = key
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if r.nc == nil || r.nc.IsClosed() {
		r.local.Publish(ctx, key, ev)
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		r.log.Errorw("event_encode_failed", "key", key, "error", err)
		return
	}
	if err := r.nc.Publish(r.Subject(key), payload); err != nil {
		r.log.Warnw("nats_publish_failed", "key", key, "error", err)
		r.local.Publish(ctx, key, ev)
	}
}

func (r *NATSRelay) receive(msg *nats.Msg) {
	var ev domain.Event
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		r.log.Warnw("event_decode_failed", "subject", msg.Subject, "error", err)
		return
	}
	if ev.TargetKey == "" {
		return
	}
	r.local.Publish(context.Background(), ev.TargetKey, ev)
}

func (r *NATSRelay) Close() {
	if r.nc == nil {
		return
	}
	if err := r.nc.Drain(); err != nil {
		r.nc.Close()
	}
}
