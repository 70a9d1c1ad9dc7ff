// Package broker publishes ledger events onto NATS subjects.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/GoPolymarket/pointgate/internal/model"
	"github.com/GoPolymarket/pointgate/internal/pkg/logger"
	"github.com/nats-io/nats.go"
)

type Config struct {
	URL           string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
	Token         string
}

// conn is the part of *nats.Conn the publisher uses.
type conn interface {
	PublishMsg(m *nats.Msg) error
	FlushWithContext(ctx context.Context) error
	Close()
}

type NATSPublisher struct {
	nc     conn
	prefix string
}

// Connect dials NATS with reconnect handling. The client buffers publishes while reconnecting.
func Connect(cfg Config) (*NATSPublisher, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = 10
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	opts := []nats.Option{
		nats.Name("pointgate"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectBufSize(8 * 1024 * 1024),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err, "will_reconnect", !nc.IsClosed())
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	logger.Info("nats connected", "url", nc.ConnectedUrl())
	return newPublisher(nc, cfg.SubjectPrefix), nil
}

func newPublisher(nc conn, prefix string) *NATSPublisher {
	if prefix == "" {
		prefix = "pointgate"
	}
	return &NATSPublisher{nc: nc, prefix: prefix}
}

func (p *NATSPublisher) Name() string { return "nats" }

// Subject is <prefix>.<tenant>.<event>, e.g. pointgate.acme.points.awarded.
func (p *NATSPublisher) Subject(tenantID string, ev model.EventType) string {
	return p.prefix + "." + token(tenantID) + "." + string(ev)
}

// Deliver publishes and flushes so the relay only marks an event delivered once
// the server has it. The Nats-Msg-Id header lets JetStream drop replays.
func (p *NATSPublisher) Deliver(ctx context.Context, _ *model.Tenant, ev model.EventBody) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	msg := nats.NewMsg(p.Subject(ev.TenantID, ev.Event))
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, ev.IdempotencyKey)
	msg.Header.Set("Pointgate-Event", string(ev.Event))
	if err := p.nc.PublishMsg(msg); err != nil {
		return err
	}
	return p.nc.FlushWithContext(ctx)
}

func (p *NATSPublisher) Close() {
	p.nc.Close()
}

// token keeps tenant ids from introducing extra subject levels or wildcards.
func token(s string) string {
	return strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(s)
}
