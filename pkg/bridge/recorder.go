package bridge

import "context"

// Clip is one finalized audio capture.
type Clip struct {
	// Data holds the encoded audio bytes.
	Data []byte

	// Format is the container tag understood by the server ("webm" or
	// "oggopus").
	Format string
}

// Recorder abstracts the media capture device. An implementation wraps
// whatever the embedding environment provides (a browser MediaRecorder, a
// test double).
//
// The contract: after Start, the recorder captures until Stop is called;
// finalization is asynchronous, and exactly one [Clip] per capture is then
// delivered on the Clips channel.
type Recorder interface {
	// Start begins a capture. Starting while already capturing is an error.
	Start(ctx context.Context) error

	// Stop ends the active capture and triggers finalization. Stopping
	// while not capturing is an error.
	Stop() error

	// Clips delivers each finalized capture. The channel is owned by the
	// recorder and stays open for its lifetime.
	Clips() <-chan Clip
}
