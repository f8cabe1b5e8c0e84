// Package server implements the TCP-to-WebSocket bridge.
//
// TCP peers connect to the Acceptor and are tracked in a Registry. Each
// newline-delimited JSON message a peer sends is republished by the Relay to
// every WebSocket subscriber as a tcp-message event; a send-to-tcp request from
// a subscriber is written to every registered peer. The StatusPublisher emits a
// tcp-status snapshot whenever registry membership changes or a subscriber
// joins. The implementation is organized into specialized files for
// configuration, registry, peers, relays, the subscriber hub and HTTP handlers.
package server
