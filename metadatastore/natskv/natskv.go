// Package natskv provides a metadata store provider backed by a NATS JetStream
// key/value bucket. Conditional writes use the bucket's per-key revisions.
package natskv

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/nats-io/nats.go"

	"github.com/drblury/handlerflow/metadatastore"
)

const (
	// ProviderName is the name used to register this provider.
	ProviderName = "natskv"

	// DefaultBucket is used when no bucket is configured.
	DefaultBucket = "handlerflow_metadata"
)

func init() {
	metadatastore.Register(ProviderName, Build)
}

// Build connects to NATS and opens, or creates, the configured bucket.
func Build(ctx context.Context, cfg metadatastore.Config, logger watermill.LoggerAdapter) (metadatastore.Provider, error) {
	bucket := cfg.GetNATSKVBucket()
	if bucket == "" {
		bucket = DefaultBucket
	}

	nc, err := nats.Connect(cfg.GetNATSURL(), nats.Name("handlerflow-metadata"))
	if err != nil {
		return nil, fmt.Errorf("natskv: connect: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("natskv: jetstream: %w", err)
	}

	kv, err := OpenBucket(js, bucket)
	if err != nil {
		nc.Close()
		return nil, err
	}

	logger.Info("Connected metadata store", watermill.LogFields{
		"provider": ProviderName,
		"bucket":   bucket,
	})

	p := New(kv)
	p.conn = nc
	return p, nil
}

// OpenBucket returns the named bucket, creating it with a history of one when
// it does not exist.
func OpenBucket(js nats.JetStreamContext, bucket string) (nats.KeyValue, error) {
	kv, err := js.KeyValue(bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket:      bucket,
			Description: "handlerflow metadata store",
			History:     1,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("natskv: open bucket %s: %w", bucket, err)
	}
	return kv, nil
}

// Provider stores metadata in a JetStream key/value bucket.
type Provider struct {
	kv   nats.KeyValue
	conn *nats.Conn
}

// New wraps an open bucket. The caller keeps ownership of the connection.
func New(kv nats.KeyValue) *Provider {
	return &Provider{kv: kv}
}

// encodeKey maps arbitrary keys onto the bucket's restricted key alphabet.
func encodeKey(key string) string {
	return "k" + base64.RawURLEncoding.EncodeToString([]byte(key))
}

func (p *Provider) Get(_ context.Context, key string) (string, bool, error) {
	entry, err := p.get(key)
	if err != nil || entry == nil {
		return "", false, err
	}
	return string(entry.Value()), true, nil
}

func (p *Provider) Put(_ context.Context, key, value string) error {
	_, err := p.kv.Put(encodeKey(key), []byte(value))
	return err
}

func (p *Provider) CompareAndSet(_ context.Context, key string, expected *string, value string) (bool, error) {
	if expected == nil {
		_, err := p.kv.Create(encodeKey(key), []byte(value))
		if isWrongRevision(err) {
			return false, nil
		}
		return err == nil, err
	}

	entry, err := p.get(key)
	if err != nil || entry == nil {
		return false, err
	}
	if string(entry.Value()) != *expected {
		return false, nil
	}

	_, err = p.kv.Update(encodeKey(key), []byte(value), entry.Revision())
	if isWrongRevision(err) {
		return false, nil
	}
	return err == nil, err
}

func (p *Provider) Remove(ctx context.Context, key string) (string, bool, error) {
	for {
		entry, err := p.get(key)
		if err != nil || entry == nil {
			return "", false, err
		}

		err = p.kv.Delete(encodeKey(key), nats.LastRevision(entry.Revision()))
		if err == nil {
			return string(entry.Value()), true, nil
		}
		if !isWrongRevision(err) {
			return "", false, err
		}
		if err := ctx.Err(); err != nil {
			return "", false, err
		}
	}
}

// Close drains the connection when the provider created it.
func (p *Provider) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Drain()
}

func (p *Provider) get(key string) (nats.KeyValueEntry, error) {
	entry, err := p.kv.Get(encodeKey(key))
	if errors.Is(err, nats.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func isWrongRevision(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, nats.ErrKeyExists) {
		return true
	}
	var apiErr *nats.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == nats.JSErrCodeStreamWrongLastSequence
}
