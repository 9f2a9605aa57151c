package services

import (
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hacknation/dozin/internal/models"
)

type settleRecorder struct {
	acked   bool
	nacked  bool
	requeue bool
}

func (s *settleRecorder) Ack(tag uint64, multiple bool) error {
	s.acked = true
	return nil
}

func (s *settleRecorder) Nack(tag uint64, multiple, requeue bool) error {
	s.nacked = true
	s.requeue = requeue
	return nil
}

func (s *settleRecorder) Reject(tag uint64, requeue bool) error {
	return s.Nack(tag, false, requeue)
}

func delivery(body string, redelivered bool) (amqp.Delivery, *settleRecorder) {
	rec := &settleRecorder{}
	return amqp.Delivery{
		Acknowledger: rec,
		RoutingKey:   RoutingKeyListingCreated,
		Body:         []byte(body),
		Redelivered:  redelivered,
	}, rec
}

func TestHandleDeliveryDecodesAndAcks(t *testing.T) {
	d, rec := delivery(`{"id":"abc","category":"keys","city":"زاخۆ","image_count":2}`, false)

	var got models.ListingCreatedEvent
	handleDelivery(d, func(key string, event models.ListingCreatedEvent) error {
		assert.Equal(t, RoutingKeyListingCreated, key)
		got = event
		return nil
	})

	assert.True(t, rec.acked)
	assert.Equal(t, "abc", got.ID)
	assert.Equal(t, 2, got.ImageCount)
}

func TestHandleDeliveryDropsGarbage(t *testing.T) {
	d, rec := delivery(`not json`, false)
	handleDelivery(d, func(string, models.ListingCreatedEvent) error {
		t.Fatal("handler must not run")
		return nil
	})

	require.True(t, rec.nacked)
	assert.False(t, rec.requeue)
}

func TestHandleDeliveryRequeuesOnce(t *testing.T) {
	fail := func(string, models.ListingCreatedEvent) error { return errBoom }

	d, rec := delivery(`{"id":"abc"}`, false)
	handleDelivery(d, fail)
	assert.True(t, rec.requeue)

	d, rec = delivery(`{"id":"abc"}`, true)
	handleDelivery(d, fail)
	assert.True(t, rec.nacked)
	assert.False(t, rec.requeue)
}
