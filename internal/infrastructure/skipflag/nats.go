package skipflag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dflow-sh/dflow-sub003/internal/core/ports"
	"github.com/nats-io/nats.go"
)

// NATSStore keeps flags in a JetStream key-value bucket shared by every API
// instance. Entries expire with the bucket TTL, so the ttl argument of
// SetIfAbsent must match the one the bucket was created with.
type NATSStore struct {
	nc  *nats.Conn
	kv  nats.KeyValue
	ttl time.Duration
}

var _ ports.SkipFlagStore = (*NATSStore)(nil)

func NewNATSStore(url, bucket string, ttl time.Duration) (*NATSStore, error) {
	nc, err := nats.Connect(url,
		nats.Name("dflow-skipflags"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	kv, err := js.KeyValue(bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket:      bucket,
			Description: "reconcile skip flags",
			TTL:         ttl,
			History:     1,
		})
	}
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("open bucket %s: %w", bucket, err)
	}
	return &NATSStore{nc: nc, kv: kv, ttl: ttl}, nil
}

// kvKey maps "reconcile:<tenant>" into the key alphabet JetStream accepts.
func kvKey(key string) string {
	return strings.ReplaceAll(key, ":", ".")
}

func (s *NATSStore) SetIfAbsent(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl != s.ttl {
		return false, fmt.Errorf("skip flag ttl %s differs from bucket ttl %s", ttl, s.ttl)
	}
	_, err := s.kv.Create(kvKey(key), []byte{1})
	if errors.Is(err, nats.ErrKeyExists) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("set skip flag %s: %w", key, err)
	}
	return true, nil
}

func (s *NATSStore) Close() {
	s.nc.Close()
}
