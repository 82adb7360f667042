package connection_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/srg/igrill/internal/connection"
	"github.com/srg/igrill/internal/device"
	"github.com/srg/igrill/internal/igrill"
	"github.com/srg/igrill/internal/testutils"
	"github.com/stretchr/testify/suite"
)

const testAddress = "AA:BB:CC:DD:EE:FF"

type ConnectionManagerTestSuite struct {
	suite.Suite
	helper  *testutils.TestHelper
	grill   *testutils.FakeGrill
	manager *connection.Manager
}

func (s *ConnectionManagerTestSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())

	p, err := igrill.ProfileFor("igrill_v2")
	s.Require().NoError(err)

	s.grill = testutils.NewFakeGrill(testAddress, p, true)
	s.manager = s.newManager(&connection.Options{OperationTimeout: 2 * time.Second})
}

func (s *ConnectionManagerTestSuite) TearDownTest() {
	_ = s.manager.Disconnect()
}

func (s *ConnectionManagerTestSuite) newManager(opts *connection.Options) *connection.Manager {
	p, _ := igrill.ProfileFor("igrill_v2")
	auth := igrill.NewAuthenticator(igrill.CharacteristicsFor(p), s.helper.Logger)
	return connection.NewManager(testAddress, testutils.NewFakeTransport(s.grill), auth, opts, s.helper.Logger)
}

func (s *ConnectionManagerTestSuite) TestConnectAuthenticates() {
	// GOAL: Verify connect runs the transport connect and the full handshake
	//
	// TEST SCENARIO: Connect → connect, pair, write, read, write recorded → handle Authenticated

	h, err := s.manager.Connect(context.Background())
	s.Require().NoError(err)

	s.Equal(connection.Authenticated, h.State())
	s.True(h.Authenticated())
	s.NotNil(h.Channel())
	s.Equal(testAddress, h.Address())

	var kinds []string
	for _, op := range s.grill.Ops() {
		kinds = append(kinds, op.Kind)
	}
	s.Equal([]string{
		testutils.OpConnect, testutils.OpPair, testutils.OpWrite, testutils.OpRead, testutils.OpWrite,
	}, kinds, "handshake MUST run in order after connecting")
}

func (s *ConnectionManagerTestSuite) TestConnectIsIdempotent() {
	// GOAL: Verify a second connect on an authenticated handle is free
	//
	// TEST SCENARIO: Connect → Connect again → zero additional BLE ops, same handle

	first, err := s.manager.Connect(context.Background())
	s.Require().NoError(err)
	opsAfterFirst := s.grill.OpCount()

	second, err := s.manager.Connect(context.Background())
	s.Require().NoError(err)

	s.Same(first, second, "connect MUST return the existing handle")
	s.Equal(opsAfterFirst, s.grill.OpCount(), "connect on an authenticated handle MUST NOT touch the device")
	s.Equal(1, s.grill.Connects())
}

func (s *ConnectionManagerTestSuite) TestPairingFailureLeavesDisconnected() {
	// GOAL: Verify a pairing failure fails connect and drops the link
	//
	// TEST SCENARIO: pair fails → ErrPairingFailed → state Disconnected → peripheral link closed

	s.grill.FailOn(testutils.OpPair, "", errors.New("insufficient authentication"))

	h, err := s.manager.Connect(context.Background())
	s.Require().Error(err)
	s.ErrorIs(err, device.ErrPairingFailed)
	s.Equal(connection.Disconnected, h.State())
	s.Nil(h.Channel())
	s.False(s.grill.Connected(), "failed handshake MUST close the link")
}

func (s *ConnectionManagerTestSuite) TestConnectFailure() {
	s.grill.FailOn(testutils.OpConnect, "", errors.New("peripheral unreachable"))

	h, err := s.manager.Connect(context.Background())
	s.Require().Error(err)
	s.ErrorIs(err, device.ErrConnectFailed)
	s.Equal(connection.Failed, h.State())
	s.Error(h.Err())

	// recovers once the peripheral is reachable again
	s.grill.FailOn(testutils.OpConnect, "", nil)
	h, err = s.manager.Connect(context.Background())
	s.Require().NoError(err)
	s.Equal(connection.Authenticated, h.State())
}

func (s *ConnectionManagerTestSuite) TestLinkLossResetsAuthentication() {
	// GOAL: Verify link loss resets the handle and the next connect re-runs the handshake
	//
	// TEST SCENARIO: Connect → remote drop → callback fires, state Disconnected → Connect → second pairing

	lost := make(chan *connection.Handle, 1)
	remove := s.manager.OnLinkLost(func(h *connection.Handle) { lost <- h })
	defer remove()

	_, err := s.manager.Connect(context.Background())
	s.Require().NoError(err)

	s.grill.DropLink()

	select {
	case h := <-lost:
		s.Equal(connection.Disconnected, h.State())
		s.False(h.Authenticated(), "link loss MUST reset authentication")
		s.ErrorIs(h.Err(), device.ErrLinkLost)
	case <-time.After(time.Second):
		s.Fail("link loss listener MUST be notified")
	}

	h, err := s.manager.Connect(context.Background())
	s.Require().NoError(err)
	s.Equal(connection.Authenticated, h.State())
	s.Len(s.grill.OpsOf(testutils.OpPair), 2, "handshake MUST run again after link loss")
}

func (s *ConnectionManagerTestSuite) TestIntentionalDisconnectDoesNotNotify() {
	lost := make(chan struct{}, 1)
	s.manager.OnLinkLost(func(*connection.Handle) { lost <- struct{}{} })

	_, err := s.manager.Connect(context.Background())
	s.Require().NoError(err)
	s.Require().NoError(s.manager.Disconnect())

	select {
	case <-lost:
		s.Fail("intentional disconnect MUST NOT be reported as link loss")
	case <-time.After(100 * time.Millisecond):
	}
}

func (s *ConnectionManagerTestSuite) TestDisconnectIsSafeToRepeat() {
	s.NoError(s.manager.Disconnect(), "disconnect on a never-connected handle MUST succeed")

	_, err := s.manager.Connect(context.Background())
	s.Require().NoError(err)

	s.NoError(s.manager.Disconnect())
	s.NoError(s.manager.Disconnect())
	s.Equal(connection.Disconnected, s.manager.Handle().State())
	s.Len(s.grill.OpsOf(testutils.OpDisconnect), 1)
}

func (s *ConnectionManagerTestSuite) TestOperationTimeout() {
	// GOAL: Verify an unresponsive device is bounded by the operation timeout
	//
	// TEST SCENARIO: peripheral stalls every op → Connect returns ErrTimeout within the bound

	manager := s.newManager(&connection.Options{OperationTimeout: 50 * time.Millisecond})
	release := s.grill.Hold()
	defer release()

	start := time.Now()
	h, err := manager.Connect(context.Background())
	s.Require().Error(err)
	s.ErrorIs(err, device.ErrTimeout)
	s.Less(time.Since(start), time.Second)
	s.NotEqual(connection.Authenticated, h.State())
}

func TestConnectionManagerTestSuite(t *testing.T) {
	suite.Run(t, new(ConnectionManagerTestSuite))
}

func TestStateString(t *testing.T) {
	for s, want := range map[connection.State]string{
		connection.Disconnected:  "disconnected",
		connection.Connecting:    "connecting",
		connection.Connected:     "connected",
		connection.Authenticated: "authenticated",
		connection.Failed:        "failed",
		connection.State(99):     "unknown",
	} {
		if s.String() != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), s.String(), want)
		}
	}
}
