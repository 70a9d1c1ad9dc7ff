package broker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/GoPolymarket/pointgate/internal/model"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	msgs     []*nats.Msg
	flushErr error
	closed   bool
}

func (f *fakeConn) PublishMsg(m *nats.Msg) error {
	f.msgs = append(f.msgs, m)
	return nil
}

func (f *fakeConn) FlushWithContext(ctx context.Context) error { return f.flushErr }

func (f *fakeConn) Close() { f.closed = true }

func TestDeliverPublishesWithMsgID(t *testing.T) {
	fc := &fakeConn{}
	p := newPublisher(fc, "loyalty")

	err := p.Deliver(context.Background(), nil, model.EventBody{
		Event: model.EventPointsRedeemed, TenantID: "acme", MemberID: "m1", Amount: 60, IdempotencyKey: "5-3",
	})
	require.NoError(t, err)
	require.Len(t, fc.msgs, 1)

	msg := fc.msgs[0]
	assert.Equal(t, "loyalty.acme.points.redeemed", msg.Subject)
	assert.Equal(t, "5-3", msg.Header.Get(nats.MsgIdHdr))

	var body model.EventBody
	require.NoError(t, json.Unmarshal(msg.Data, &body))
	assert.Equal(t, int64(60), body.Amount)
}

func TestDeliverSurfacesFlushErrors(t *testing.T) {
	fc := &fakeConn{flushErr: errors.New("no responders")}
	p := newPublisher(fc, "")
	assert.Error(t, p.Deliver(context.Background(), nil, model.EventBody{Event: model.EventPointsAwarded, TenantID: "acme"}))
}

func TestSubjectSanitizesTenant(t *testing.T) {
	p := newPublisher(&fakeConn{}, "")
	assert.Equal(t, "pointgate.a_b_.member.created", p.Subject("a.b>", model.EventMemberCreated))

	p.Close()
	assert.True(t, p.nc.(*fakeConn).closed)
}
