// Package rabbitmq adapts an AMQP channel with publisher confirms to the
// outbox.Publisher interface. A publish only succeeds once the broker has
// acked it; a nack or a confirmation timeout surfaces as an error so the
// relay marks the event failed instead of losing it.
package rabbitmq
