package store

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/docuchat/docuchat/internal/model"
)

// natsBucket is the JetStream key-value bucket holding conversations.
const natsBucket = "CONVERSATIONS"

// NATSConfig holds NATS connection configuration.
type NATSConfig struct {
	URL      string
	CAFile   string
	CertFile string
	KeyFile  string
	Token    string
}

// NATSStore persists conversations in a JetStream key-value bucket, one
// entry per conversation keyed by its ID.
type NATSStore struct {
	conn   *nats.Conn
	kv     jetstream.KeyValue
	logger *zap.Logger
}

// NewNATSStore connects to the NATS server and ensures the bucket exists.
func NewNATSStore(ctx context.Context, cfg NATSConfig, log *zap.Logger) (*NATSStore, error) {
	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error("NATS error", zap.Error(err))
		}),
	}

	if cfg.CAFile != "" && cfg.CertFile != "" && cfg.KeyFile != "" {
		tlsConfig, err := createTLSConfig(cfg.CAFile, cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("creating TLS config: %w", err)
		}
		opts = append(opts, nats.Secure(tlsConfig))
	}

	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("creating JetStream context: %w", err)
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      natsBucket,
		Description: "Conversation threads with token accounting",
		Storage:     jetstream.FileStorage,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensuring key-value bucket: %w", err)
	}

	return &NATSStore{conn: nc, kv: kv, logger: log}, nil
}

func (s *NATSStore) Create(ctx context.Context, conv *model.Conversation) error {
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("marshaling conversation: %w", err)
	}
	if _, err := s.kv.Create(ctx, conv.ID, data); err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return fmt.Errorf("conversation %s already exists", conv.ID)
		}
		return fmt.Errorf("storing conversation %s: %w", conv.ID, err)
	}
	return nil
}

func (s *NATSStore) Get(ctx context.Context, id string) (*model.Conversation, error) {
	entry, err := s.kv.Get(ctx, id)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, fmt.Errorf("conversation %s: %w", id, ErrConversationNotFound)
		}
		return nil, fmt.Errorf("fetching conversation %s: %w", id, err)
	}

	var conv model.Conversation
	if err := json.Unmarshal(entry.Value(), &conv); err != nil {
		return nil, fmt.Errorf("decoding conversation %s: %w", id, err)
	}
	return &conv, nil
}

func (s *NATSStore) Put(ctx context.Context, conv *model.Conversation) error {
	if _, err := s.kv.Get(ctx, conv.ID); err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return fmt.Errorf("conversation %s: %w", conv.ID, ErrConversationNotFound)
		}
		return fmt.Errorf("fetching conversation %s: %w", conv.ID, err)
	}

	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("marshaling conversation: %w", err)
	}
	if _, err := s.kv.Put(ctx, conv.ID, data); err != nil {
		return fmt.Errorf("storing conversation %s: %w", conv.ID, err)
	}
	return nil
}

func (s *NATSStore) List(ctx context.Context) ([]model.ConversationInfo, error) {
	lister, err := s.kv.ListKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing conversation keys: %w", err)
	}

	var infos []model.ConversationInfo
	for key := range lister.Keys() {
		conv, err := s.Get(ctx, key)
		if err != nil {
			if errors.Is(err, ErrConversationNotFound) {
				continue
			}
			return nil, err
		}
		infos = append(infos, conv.Info())
	}

	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].LastActivity.Equal(infos[j].LastActivity) {
			return infos[i].LastActivity.After(infos[j].LastActivity)
		}
		return infos[i].ID < infos[j].ID
	})
	return infos, nil
}

func (s *NATSStore) Delete(ctx context.Context, id string) error {
	if err := s.kv.Delete(ctx, id); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("deleting conversation %s: %w", id, err)
	}
	return nil
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
		return nil, fmt.Errorf("parsing CA certificate")
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
