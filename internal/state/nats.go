package state

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/capitalize-ai/docchat/internal/config"
	"github.com/capitalize-ai/docchat/pkg/logger"
	"github.com/capitalize-ai/docchat/pkg/metrics"
)

// NATSStore keeps the state blob in a JetStream key-value bucket so
// several machines can share one client state.
type NATSStore struct {
	conn *nats.Conn
	kv   jetstream.KeyValue
	log  *logger.Logger
}

// NewNATS connects to the configured NATS server and ensures the state
// bucket exists.
func NewNATS(ctx context.Context, cfg *config.Config, log *logger.Logger) (*NATSStore, error) {
	if log == nil {
		log = logger.Global()
	}

	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error("NATS error", "error", err)
		}),
	}

	if cfg.NATSCAFile != "" && cfg.NATSCertFile != "" && cfg.NATSKeyFile != "" {
		tlsConfig, err := createTLSConfig(cfg.NATSCAFile, cfg.NATSCertFile, cfg.NATSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("creating TLS config: %w", err)
		}
		opts = append(opts, nats.Secure(tlsConfig))
	}
	if cfg.NATSToken != "" {
		opts = append(opts, nats.Token(cfg.NATSToken))
	}

	nc, err := nats.Connect(cfg.NATSURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("creating JetStream context: %w", err)
	}

	kv, err := ensureBucket(ctx, js, cfg.NATSBucket)
	if err != nil {
		nc.Close()
		return nil, err
	}

	return &NATSStore{conn: nc, kv: kv, log: log}, nil
}

// ensureBucket opens the state bucket, creating it on first use.
func ensureBucket(ctx context.Context, js jetstream.JetStream, bucket string) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, bucket)
	if err == nil {
		return kv, nil
	}

	kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "docchat client state",
		History:     1,
		Storage:     jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("creating state bucket: %w", err)
	}
	return kv, nil
}

func (s *NATSStore) Save(ctx context.Context, data []byte) error {
	start := time.Now()

	if _, err := s.kv.Put(ctx, stateKey, data); err != nil {
		return fmt.Errorf("saving state: %w", err)
	}

	metrics.StateSaveDuration.WithLabelValues("nats").Observe(time.Since(start).Seconds())
	s.log.Debug("state saved", "backend", "nats", "bytes", len(data))
	return nil
}

func (s *NATSStore) Load(ctx context.Context) ([]byte, error) {
	entry, err := s.kv.Get(ctx, stateKey)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, ErrNoState
		}
		return nil, fmt.Errorf("loading state: %w", err)
	}
	return entry.Value(), nil
}

func (s *NATSStore) Close() error {
	if s.conn != nil {
		s.conn.Close()
	}
	return nil
}

func createTLSConfig(caFile, certFile, keyFile string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("reading CA file: %w", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, errors.New("parsing CA certificate failed")
	}

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("loading client cert: %w", err)
	}

	return &tls.Config{
		RootCAs:      caCertPool,
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}
