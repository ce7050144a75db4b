// Package timer contains a reference run timer: the phase state machine, split
// index tracking, game-time pausing, and typed event subscriptions.
//
// Concurrency model:
//   - Mutations that fire events (Start, Split, SkipSplit, UndoSplit, Reset,
//     Pause, Resume) run on a single control thread guarded by a control lock.
//     Handlers are dispatched synchronously on that thread.
//   - Handlers and Do closures receive a Timer view bound to the held control
//     lock. They must mutate through that view; calling the Session's own
//     event-firing methods from inside a handler deadlocks.
//   - Game-time mutations and queries never fire events and only take the
//     state lock, so they are safe from any goroutine.
package timer
