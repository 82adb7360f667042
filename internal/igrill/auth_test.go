package igrill_test

import (
	"context"
	"errors"
	"testing"

	"github.com/srg/igrill/internal/device"
	"github.com/srg/igrill/internal/igrill"
	"github.com/srg/igrill/internal/testutils"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type AuthenticatorTestSuite struct {
	suite.Suite
	helper  *testutils.TestHelper
	profile igrill.Profile
	chars   igrill.CharacteristicMap
	auth    *igrill.Authenticator
}

func (s *AuthenticatorTestSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())
	p, err := igrill.ProfileFor("igrill_v2")
	s.Require().NoError(err)
	s.profile = p
	s.chars = igrill.CharacteristicsFor(p)
	s.auth = igrill.NewAuthenticator(s.chars, s.helper.Logger)
}

func (s *AuthenticatorTestSuite) TestEchoesDeviceChallenge() {
	// GOAL: Verify the device challenge is written back unmodified
	//
	// TEST SCENARIO: pair → write 16 zero bytes → read R → write R to device response

	response := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}

	ch := &testutils.MockChannel{}
	ch.On("Address").Return("AA:BB:CC:DD:EE:FF")
	pair := ch.On("Pair", mock.Anything, device.PairingMedium).Return(nil).Once()
	writeChallenge := ch.On("WriteCharacteristic", mock.Anything, s.chars.UUID(igrill.CapAppChallenge), make([]byte, 16), true).
		Return(nil).Once().NotBefore(pair)
	readChallenge := ch.On("ReadCharacteristic", mock.Anything, s.chars.UUID(igrill.CapDeviceChallenge)).
		Return(response, nil).Once().NotBefore(writeChallenge)
	ch.On("WriteCharacteristic", mock.Anything, s.chars.UUID(igrill.CapDeviceResponse), response, true).
		Return(nil).Once().NotBefore(readChallenge)

	s.Require().NoError(s.auth.Authenticate(context.Background(), ch))
	ch.AssertExpectations(s.T())
}

func (s *AuthenticatorTestSuite) TestChallengeAlwaysZero() {
	// GOAL: Verify the outgoing app challenge never changes across calls
	//
	// TEST SCENARIO: authenticate three times against a fake grill → every app challenge write is 16 zero bytes

	g := testutils.NewFakeGrill("AA:BB:CC:DD:EE:FF", s.profile, true)
	transport := testutils.NewFakeTransport(g)

	for i := 0; i < 3; i++ {
		ch, err := transport.Connect(context.Background(), g.Address(), nil)
		s.Require().NoError(err)
		s.Require().NoError(s.auth.Authenticate(context.Background(), ch))
		s.Require().NoError(ch.Disconnect())
	}

	appChallenge := g.UUIDFor(igrill.CapAppChallenge)
	deviceResponse := g.UUIDFor(igrill.CapDeviceResponse)
	var challenges, responses int
	for _, op := range g.OpsOf(testutils.OpWrite) {
		switch op.UUID {
		case appChallenge:
			challenges++
			s.Equal(make([]byte, 16), op.Data, "app challenge MUST be 16 zero bytes")
		case deviceResponse:
			responses++
			s.Equal(testutils.DeviceChallenge, op.Data, "device response MUST echo the challenge")
		}
	}
	s.Equal(3, challenges)
	s.Equal(3, responses)
}

func (s *AuthenticatorTestSuite) TestPairingFailure() {
	// GOAL: Verify a pairing failure stops the handshake before any GATT write
	//
	// TEST SCENARIO: pair fails → ErrPairingFailed returned → no writes recorded

	g := testutils.NewFakeGrill("AA:BB:CC:DD:EE:FF", s.profile, true)
	g.FailOn(testutils.OpPair, "", errors.New("bonding rejected"))
	ch, err := testutils.NewFakeTransport(g).Connect(context.Background(), g.Address(), nil)
	s.Require().NoError(err)

	err = s.auth.Authenticate(context.Background(), ch)
	s.Require().Error(err)
	s.ErrorIs(err, device.ErrPairingFailed, "pairing failure MUST surface as ErrPairingFailed")

	var authErr *igrill.AuthError
	s.Require().ErrorAs(err, &authErr)
	s.Equal(igrill.AuthIdle, authErr.State)
	s.Empty(g.OpsOf(testutils.OpWrite), "handshake MUST NOT write after a failed pairing")
}

func (s *AuthenticatorTestSuite) TestReadFailureReportsState() {
	g := testutils.NewFakeGrill("AA:BB:CC:DD:EE:FF", s.profile, true)
	g.FailOn(testutils.OpRead, igrill.CapDeviceChallenge, device.ErrTimeout)
	ch, err := testutils.NewFakeTransport(g).Connect(context.Background(), g.Address(), nil)
	s.Require().NoError(err)

	err = s.auth.Authenticate(context.Background(), ch)
	s.ErrorIs(err, device.ErrTimeout)

	var authErr *igrill.AuthError
	s.Require().ErrorAs(err, &authErr)
	s.Equal(igrill.AuthChallengeSent, authErr.State)
}

func TestAuthenticatorTestSuite(t *testing.T) {
	suite.Run(t, new(AuthenticatorTestSuite))
}
