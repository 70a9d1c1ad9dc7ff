// Package chain mirrors settled point movements onto a token contract through a
// JSON-RPC bridge. It is an outbox sink: calls are retried by the relay and never
// block a ledger commit.
package chain

import (
	"context"
	"fmt"

	"github.com/GoPolymarket/pointgate/internal/model"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
)

// Request is the single parameter of the bridge's mint and burn methods. The
// bridge deduplicates on IdempotencyKey.
type Request struct {
	TenantID       string          `json:"tenantId"`
	MemberID       string          `json:"memberId"`
	TransactionID  string          `json:"transactionId"`
	IdempotencyKey string          `json:"idempotencyKey"`
	Amount         int64           `json:"amount"`
	Contract       *common.Address `json:"contract,omitempty"`
	Wallet         *common.Address `json:"wallet,omitempty"`
}

type Adapter struct {
	client    *rpc.Client
	namespace string
}

func New(client *rpc.Client, namespace string) *Adapter {
	if namespace == "" {
		namespace = "points"
	}
	return &Adapter{client: client, namespace: namespace}
}

// Dial connects to the bridge over http(s), ws(s) or an IPC path.
func Dial(ctx context.Context, url, namespace string) (*Adapter, error) {
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial chain bridge: %w", err)
	}
	return New(client, namespace), nil
}

func (a *Adapter) Close() {
	a.client.Close()
}

func (a *Adapter) Name() string { return "chain" }

// Deliver mints when points become spendable and burns when spendable points
// leave the member. PENDING points never reached the chain, so revoking them is skipped.
func (a *Adapter) Deliver(ctx context.Context, tenant *model.Tenant, ev model.EventBody) error {
	if tenant == nil || !tenant.Chain.Enabled || ev.Amount <= 0 {
		return nil
	}

	var method string
	switch ev.Event {
	case model.EventPointsAvailable:
		method = "mint"
	case model.EventPointsRedeemed:
		method = "burn"
	case model.EventPointsRevoked:
		if from, _ := ev.Data["from"].(string); from != string(model.StateAvailable) {
			return nil
		}
		method = "burn"
	default:
		return nil
	}

	req := Request{
		TenantID:       ev.TenantID,
		MemberID:       ev.MemberID,
		TransactionID:  ev.TransactionID,
		IdempotencyKey: ev.IdempotencyKey,
		Amount:         ev.Amount,
	}
	if c := tenant.Chain.Contract; c != "" {
		if !common.IsHexAddress(c) {
			return fmt.Errorf("tenant %s has invalid contract address %q", tenant.ID, c)
		}
		addr := common.HexToAddress(c)
		req.Contract = &addr
	}
	if w, ok := ev.Data["wallet"].(string); ok && w != "" {
		if !common.IsHexAddress(w) {
			return fmt.Errorf("member %s has invalid wallet %q", ev.MemberID, w)
		}
		addr := common.HexToAddress(w)
		req.Wallet = &addr
	}

	var txHash string
	if err := a.client.CallContext(ctx, &txHash, a.namespace+"_"+method, req); err != nil {
		return fmt.Errorf("%s_%s: %w", a.namespace, method, err)
	}
	return nil
}
