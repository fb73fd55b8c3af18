// Package command implements the command orchestrator.
//
// Every operation follows one template: validate, resolve, run the adapter
// call under the action's timeout inside the radio's lane, normalize any
// failure, write exactly one audit entry, then publish either a domain
// event or a fault event. Validation failures are audited but publish
// nothing.
package command
