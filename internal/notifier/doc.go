// Package notifier delivers lecture announcements to the chat transport.
//
// Delivery is asynchronous: announcements go into a bounded queue consumed by
// a small worker pool, rate-limited per second. Enqueueing never blocks the
// reminder poll loop; a full queue drops the message instead of stalling.
//
// A reminder is one announcement message followed by an attention marker
// ("@everyone" by default) so group members get pinged.
//
// # Transport
//
// The service delegates sends to a transport.Adapter implementation (the
// Telegram adapter in production, a fake in tests), so formatting and
// throttling stay platform-agnostic.
//
// # History
//
// For operator visibility, the service keeps a small in-memory history of
// recently sent messages; the optional storage layer records outcomes durably.
package notifier
