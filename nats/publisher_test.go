package nats_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/cheeseformice/ranking"
	"github.com/cheeseformice/ranking/nats"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type message struct {
	subject string
	data    []byte
}

type fakeConn struct {
	published []message
	drained   bool
	err       error
}

func (c *fakeConn) Publish(subject string, data []byte) error {
	if c.err != nil {
		return c.err
	}
	c.published = append(c.published, message{subject: subject, data: data})
	return nil
}

func (c *fakeConn) Drain() error {
	c.drained = true
	return nil
}

func TestPublisher_Notify(t *testing.T) {
	p := nats.NewPublisher(zaptest.NewLogger(t), "nats://127.0.0.1:4222")
	require.Contains(t, p.ClientName, "rankingd-")

	conn := &fakeConn{}
	p.WithConn(conn)

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, p.Notify(context.Background(), ranking.Event{Kind: ranking.EventUpdate, Time: at}))
	require.NoError(t, p.Notify(context.Background(), ranking.Event{Kind: ranking.EventRebuilt, Table: "player", Generation: 7, Time: at}))

	require.Len(t, conn.published, 2)
	require.Equal(t, nats.DefaultUpdateSubject, conn.published[0].subject)
	require.Equal(t, nats.DefaultRebuiltSubject, conn.published[1].subject)

	var e ranking.Event
	require.NoError(t, json.Unmarshal(conn.published[1].data, &e))
	require.Equal(t, ranking.Event{Kind: ranking.EventRebuilt, Table: "player", Generation: 7, Time: at}, e)

	require.JSONEq(t, `{"kind":"update","time":"2024-03-01T12:00:00Z"}`, string(conn.published[0].data))

	require.NoError(t, p.Close())
	require.True(t, conn.drained)
	require.ErrorIs(t, p.Notify(context.Background(), ranking.Event{Kind: ranking.EventUpdate}), nats.ErrNoNatsConnection)
}

func TestPublisher_Errors(t *testing.T) {
	p := nats.NewPublisher(zaptest.NewLogger(t), "")
	require.ErrorIs(t, p.Notify(context.Background(), ranking.Event{Kind: ranking.EventUpdate}), nats.ErrNoNatsConnection)
	require.NoError(t, p.Close())

	boom := errors.New("slow consumer")
	p.WithConn(&fakeConn{err: boom})
	require.ErrorIs(t, p.Notify(context.Background(), ranking.Event{Kind: ranking.EventRebuilt}), boom)
	require.Error(t, p.Notify(context.Background(), ranking.Event{Kind: "bogus"}))
}

func TestPublisher_CustomSubjects(t *testing.T) {
	p := nats.NewPublisher(zaptest.NewLogger(t), "")
	p.UpdateSubject = "cfm.update"
	conn := &fakeConn{}
	p.WithConn(conn)

	require.NoError(t, p.Notify(context.Background(), ranking.Event{Kind: ranking.EventUpdate}))
	require.Equal(t, "cfm.update", conn.published[0].subject)
}
