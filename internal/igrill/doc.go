// Package igrill implements the Weber iGrill / Pulse / Kitchen Thermometer
// device protocol: the characteristic registry, per-model profiles, payload
// codec and the challenge/response authenticator.
//
// Everything here is transport-agnostic and, apart from Authenticator, free
// of I/O. Profiles and characteristic maps are immutable values and may be
// shared between goroutines.
package igrill
