// Package merge implements the concatenating merge stage: an N-input,
// 1-output element that forwards packets of exactly one input at a time,
// in the order the inputs were linked, switching to the next input once
// the active one signals end-of-stream.
//
// Inputs may be added and removed while the stage is running. A producer
// feeds its input from its own goroutine; the stage consumes the inputs
// from the goroutine that runs Serve.
package merge
