package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garvit124/AutoPO/internal/app"
	"github.com/garvit124/AutoPO/internal/domain"
)

type fakeFulfillment struct {
	mu         sync.Mutex
	processed  []string
	replies    []string
	decisions  []domain.ReplyDecision
	processErr error
	replyErr   error
}

func (f *fakeFulfillment) Process(_ context.Context, orderID string) (domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.processErr != nil {
		return domain.Order{}, f.processErr
	}
	f.processed = append(f.processed, orderID)
	return domain.Order{ID: orderID, Status: domain.StatusCompleted}, nil
}

func (f *fakeFulfillment) HandleReply(_ context.Context, ref string, decision domain.ReplyDecision) (domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.replyErr != nil {
		return domain.Order{}, f.replyErr
	}
	f.replies = append(f.replies, ref)
	f.decisions = append(f.decisions, decision)
	return domain.Order{ID: ref, Status: domain.StatusPartialCompleted}, nil
}

type fakeIntake struct {
	inputs []app.SubmitOrderInput
	status domain.OrderStatus
	err    error
}

func (f *fakeIntake) SubmitOrder(_ context.Context, in app.SubmitOrderInput) (app.SubmitOrderResult, error) {
	if f.err != nil {
		return app.SubmitOrderResult{}, f.err
	}
	f.inputs = append(f.inputs, in)
	status := f.status
	if status == "" {
		status = domain.StatusNew
	}
	return app.SubmitOrderResult{Order: domain.Order{ID: "new-order", Status: status}, Created: true}, nil
}

func message(value string) kafka.Message {
	return kafka.Message{Topic: "t", Value: []byte(value)}
}

func TestOrderHandler(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("order id is processed", func(t *testing.T) {
		ff := &fakeFulfillment{}
		h := NewOrderHandler(&fakeIntake{}, ff, nil)
		require.NoError(t, h.Handle(ctx, message(`{"order_id":"abc"}`)))
		assert.Equal(t, []string{"abc"}, ff.processed)
	})

	t.Run("full purchase order is submitted then processed", func(t *testing.T) {
		ff := &fakeFulfillment{}
		intake := &fakeIntake{}
		h := NewOrderHandler(intake, ff, nil)
		require.NoError(t, h.Handle(ctx, message(`{"po_number":"PO-9","buyer_email":"b@x.test","items":[{"product_id":"X","quantity":2,"unit_price":"1.25"}]}`)))

		require.Len(t, intake.inputs, 1)
		assert.Equal(t, "PO-9", intake.inputs[0].PONumber)
		assert.Equal(t, "1.25", intake.inputs[0].Items[0].UnitPrice.String())
		assert.Equal(t, []string{"new-order"}, ff.processed)
	})

	t.Run("resubmitted order that moved on is not processed again", func(t *testing.T) {
		ff := &fakeFulfillment{}
		h := NewOrderHandler(&fakeIntake{status: domain.StatusCompleted}, ff, nil)
		require.NoError(t, h.Handle(ctx, message(`{"po_number":"PO-9","items":[{"product_id":"X","quantity":2}]}`)))
		assert.Empty(t, ff.processed)
	})

	t.Run("invalid payloads are skipped", func(t *testing.T) {
		ff := &fakeFulfillment{}
		h := NewOrderHandler(&fakeIntake{err: domain.ErrNoLineItems}, ff, nil)
		assert.NoError(t, h.Handle(ctx, message(`not json`)))
		assert.NoError(t, h.Handle(ctx, message(`{}`)))
		assert.NoError(t, h.Handle(ctx, message(`{"po_number":"PO-1"}`)))
		assert.Empty(t, ff.processed)
	})

	t.Run("already processed is acknowledged", func(t *testing.T) {
		h := NewOrderHandler(&fakeIntake{}, &fakeFulfillment{processErr: domain.ErrInvalidTransition}, nil)
		assert.NoError(t, h.Handle(ctx, message(`{"order_id":"abc"}`)))
	})

	t.Run("storage failure is reported", func(t *testing.T) {
		h := NewOrderHandler(&fakeIntake{}, &fakeFulfillment{processErr: errors.New("db down")}, nil)
		assert.ErrorContains(t, h.Handle(ctx, message(`{"order_id":"abc"}`)), "db down")
	})
}

func TestReplyHandler(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("po number and lower case decision", func(t *testing.T) {
		ff := &fakeFulfillment{}
		h := NewReplyHandler(ff, nil)
		require.NoError(t, h.Handle(ctx, message(`{"po_number":"PO-1","decision":"approve"}`)))
		assert.Equal(t, []string{"PO-1"}, ff.replies)
		assert.Equal(t, []domain.ReplyDecision{domain.ReplyApprove}, ff.decisions)
	})

	t.Run("order id wins over po number", func(t *testing.T) {
		ff := &fakeFulfillment{}
		h := NewReplyHandler(ff, nil)
		require.NoError(t, h.Handle(ctx, message(`{"order_id":"abc","po_number":"PO-1","decision":"REJECT"}`)))
		assert.Equal(t, []string{"abc"}, ff.replies)
	})

	t.Run("invalid replies are skipped", func(t *testing.T) {
		ff := &fakeFulfillment{}
		h := NewReplyHandler(ff, nil)
		assert.NoError(t, h.Handle(ctx, message(`{"po_number":"PO-1","decision":"MAYBE"}`)))
		assert.NoError(t, h.Handle(ctx, message(`{"decision":"APPROVE"}`)))
		assert.NoError(t, h.Handle(ctx, message(`[`)))
		assert.Empty(t, ff.replies)
	})

	t.Run("late reply is acknowledged", func(t *testing.T) {
		h := NewReplyHandler(&fakeFulfillment{replyErr: domain.ErrInvalidTransition}, nil)
		assert.NoError(t, h.Handle(ctx, message(`{"po_number":"PO-1","decision":"REJECT"}`)))
	})
}

type scriptedConsumer struct {
	mu       sync.Mutex
	messages []kafka.Message
	failures int
	closed   bool
	drained  chan struct{}
}

func (c *scriptedConsumer) ReadMessage(ctx context.Context) (*kafka.Message, error) {
	c.mu.Lock()
	if c.failures > 0 {
		c.failures--
		c.mu.Unlock()
		return nil, errors.New("broker unavailable")
	}
	if len(c.messages) > 0 {
		msg := c.messages[0]
		c.messages = c.messages[1:]
		c.mu.Unlock()
		return &msg, nil
	}
	c.mu.Unlock()

	select {
	case c.drained <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (c *scriptedConsumer) Close() error {
	c.closed = true
	return nil
}

func TestConsumerService_Start(t *testing.T) {
	t.Parallel()

	consumer := &scriptedConsumer{
		messages: []kafka.Message{message(`{"order_id":"a"}`), message(`{"order_id":"b"}`)},
		failures: 1,
		drained:  make(chan struct{}, 1),
	}
	ff := &fakeFulfillment{}
	svc := NewConsumerService("orders", consumer, NewOrderHandler(&fakeIntake{}, ff, nil), nil)
	svc.errorPause = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Start(ctx) }()

	select {
	case <-consumer.drained:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not drain messages")
	}
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not stop")
	}

	ff.mu.Lock()
	assert.Equal(t, []string{"a", "b"}, ff.processed)
	ff.mu.Unlock()

	require.NoError(t, svc.Close())
	assert.True(t, consumer.closed)
}

type flakyHandler struct {
	mu       sync.Mutex
	failures map[string]int
	attempts map[string]int
	handled  []string
}

func (h *flakyHandler) Handle(_ context.Context, msg kafka.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := string(msg.Value)
	h.attempts[key]++
	if h.failures[key] > 0 {
		h.failures[key]--
		return errors.New("storage unavailable")
	}
	h.handled = append(h.handled, key)
	return nil
}

func TestConsumerService_RetriesFailedMessages(t *testing.T) {
	t.Parallel()

	consumer := &scriptedConsumer{
		messages: []kafka.Message{message("transient"), message("broken"), message("next")},
		drained:  make(chan struct{}, 1),
	}
	handler := &flakyHandler{
		failures: map[string]int{"transient": 2, "broken": 100},
		attempts: map[string]int{},
	}
	svc := NewConsumerService("orders", consumer, handler, nil)
	svc.retry = func() backoff.BackOff {
		return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 3)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Start(ctx) }()

	select {
	case <-consumer.drained:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not drain messages")
	}
	cancel()
	require.NoError(t, <-done)

	handler.mu.Lock()
	defer handler.mu.Unlock()
	assert.Equal(t, []string{"transient", "next"}, handler.handled)
	assert.Equal(t, 3, handler.attempts["transient"])
	assert.Equal(t, 4, handler.attempts["broken"])
	assert.Equal(t, 1, handler.attempts["next"])
}
