// Package radio implements the radio inventory and its health prober.
//
// Manager owns the mapping from radio id to adapter, loaded capabilities
// (channel index to frequency) and the active radio. Prober polls each
// adapter and moves radios between online, recovering and offline.
package radio
