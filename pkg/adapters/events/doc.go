// Package events provides the event bus and its sinks.
//
// Implementations:
//   - memory: Per-process replay buffers with fan-out to sinks
//   - webhook: HTTP POST to the webhooks registered on a process
//   - redis: Redis Streams publisher
//   - rabbitmq: RabbitMQ topic exchange publisher
//
// AsyncSink adapts a blocking publish function into a non-blocking sink
// backed by a bounded queue.
package events
