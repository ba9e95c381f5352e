// Package audit delivers venueauth security events to a Sink off the
// request path.
//
// A [Dispatcher] buffers [Event] values and hands them to the configured
// sink from a single goroutine. When the buffer is full it either drops
// the event and reports it through OnDrop or blocks the caller, depending
// on configuration. The engine decides which events exist; this package
// only moves them.
package audit
