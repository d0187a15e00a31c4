// Package feed defines the row-level change events consumed by the realtime
// collaboration layer and the transports that deliver them.
//
// A transport delivers an at-least-once stream of ChangeEvent values for a
// subscribed Predicate. Predicates are registered at the transport so rows
// outside the predicate never reach the subscriber:
//
//	list_items:<listID>        every operation on one list's items
//	list_items_notifications   inserts and updates on any list
//
// Two transports are provided:
//
//   - Hub: in-process fan-out, used by tests and the single-binary demo
//   - NATSTransport: NATS core subjects of the form
//     <prefix>.list_items.<listID>.<op>, payloads msgpack framed by the
//     encoding package
//
// # Thread Safety
//
// Handlers may be invoked from transport goroutines. Each subscription
// receives its own copy of every event.
package feed
