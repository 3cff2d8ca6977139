// Package async runs fire-and-forget background work safely.
//
// A Runner recovers panics, bounds every task with a timeout, detaches the
// task from its caller's cancellation, and lets graceful shutdown drain
// whatever is still in flight. The PDF service uses it to archive rendered
// documents to object storage after the response has been sent.
package async
