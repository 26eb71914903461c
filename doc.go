// # Go Client Package for Real-Time Conference Sessions
//
// This repository provides a Go package for managing the lifecycle of a single audio/video conference session. It reconciles the asynchronous event stream of an underlying room transport into consistent, immutable snapshots delivered to subscribers in order, and serializes all mutating operations (join, leave, media toggles, device switches) so that at most one is in flight against the room at any time.
package conference
