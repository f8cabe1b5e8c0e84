package server

import "errors"

var (
	// ErrPeerClosed is returned when writing to a peer whose connection has ended.
	ErrPeerClosed = errors.New("peer connection closed")
	// ErrSendBufferFull is returned when a peer or subscriber cannot keep up
	// with its outbound queue.
	ErrSendBufferFull = errors.New("send buffer full")
	// ErrHubStopped is returned when publishing after the hub has shut down.
	ErrHubStopped = errors.New("hub stopped")

	errFrameTooLarge = errors.New("frame exceeds maximum size")
)
