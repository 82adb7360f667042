package igrill

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/igrill/internal/device"
)

// AuthState is a step of the challenge/response handshake.
type AuthState int

const (
	AuthIdle AuthState = iota
	AuthPaired
	AuthChallengeSent
	AuthChallengeRead
	AuthAuthenticated
	AuthFailed
)

func (s AuthState) String() string {
	switch s {
	case AuthIdle:
		return "idle"
	case AuthPaired:
		return "paired"
	case AuthChallengeSent:
		return "challenge_sent"
	case AuthChallengeRead:
		return "challenge_read"
	case AuthAuthenticated:
		return "authenticated"
	case AuthFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// AuthError reports the handshake step that failed.
type AuthError struct {
	State AuthState // last state reached before the failure
	Err   error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed after %s: %v", e.State, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// Authenticator runs the iGrill application handshake over a connected channel.
//
// The vendor protocol encrypts the app challenge with a per-device key. Since
// the challenge sent here is all zeros, the encrypted reply the device hands
// back is already the correct response, so it is echoed unmodified and no key
// is ever needed. Do not replace the echo with real crypto.
type Authenticator struct {
	chars  CharacteristicMap
	level  device.PairingLevel
	logger *logrus.Logger
}

// NewAuthenticator creates an authenticator for the given characteristic map.
func NewAuthenticator(chars CharacteristicMap, logger *logrus.Logger) *Authenticator {
	if logger == nil {
		logger = logrus.New()
	}
	return &Authenticator{chars: chars, level: device.PairingMedium, logger: logger}
}

// Authenticate pairs and then performs the challenge/response exchange.
// A pairing failure wraps device.ErrPairingFailed; the caller owns
// disconnecting the channel on any error.
func (a *Authenticator) Authenticate(ctx context.Context, ch device.Channel) error {
	log := a.logger.WithField("address", ch.Address())
	state := AuthIdle

	fail := func(err error) error {
		log.WithFields(logrus.Fields{"state": state.String(), "error": err}).Debug("Handshake failed")
		return &AuthError{State: state, Err: err}
	}

	if err := ch.Pair(ctx, a.level); err != nil {
		return fail(fmt.Errorf("%w: %v", device.ErrPairingFailed, err))
	}
	state = AuthPaired

	if err := ch.WriteCharacteristic(ctx, a.chars.UUID(CapAppChallenge), EncodeChallenge(), true); err != nil {
		return fail(fmt.Errorf("write app challenge: %w", err))
	}
	state = AuthChallengeSent

	response, err := ch.ReadCharacteristic(ctx, a.chars.UUID(CapDeviceChallenge))
	if err != nil {
		return fail(fmt.Errorf("read device challenge: %w", err))
	}
	state = AuthChallengeRead

	if err := ch.WriteCharacteristic(ctx, a.chars.UUID(CapDeviceResponse), response, true); err != nil {
		return fail(fmt.Errorf("write device response: %w", err))
	}

	log.Debug("Handshake complete")
	return nil
}
