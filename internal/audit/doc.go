// Package audit defines the audit event model and delivers events to sinks
// through a bounded asynchronous dispatcher.
//
// The package decides nothing about which events exist or when they fire;
// the engine and the flows own that. A slow or blocked sink can at worst
// make the dispatcher drop events (DropIfFull) or wait for the caller's
// context, never hold a request forever.
package audit
