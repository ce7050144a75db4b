// Package process supervises the external auto-splitter.
//
// At most one instance runs at a time. The Supervisor launches it from a
// configured executable path, reads newline-delimited requests from its
// stdout, and writes command tokens to its stdin through a bounded outbox so
// the caller never blocks on a slow or wedged child.
//
// Every failure mode degrades to "the integration does nothing": a missing
// executable disables the feature, send failures are reported in a
// SendResult instead of an error, and termination failures are logged and
// dropped.
package process
