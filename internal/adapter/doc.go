// Package adapter defines the southbound radio adapter contract.
//
// IRadioAdapter is the only surface the orchestrator and prober talk to.
// Vendor failures crossing it are normalized into *Error values carrying
// one Code from a closed set; callers branch on that code alone.
package adapter
