// Package auth verifies bearer tokens and enforces scopes and roles.
//
// Every route except health requires "Authorization: Bearer <token>".
// A viewer may read state and subscribe to telemetry; a controller may
// additionally select radios and set power or channel.
package auth
