package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/srg/igrill/internal/device"
	grill "github.com/srg/igrill/internal/igrill"
	"github.com/srg/igrill/internal/testutils"
	"github.com/srg/igrill/pkg/config"
	"github.com/stretchr/testify/suite"
	"gopkg.in/yaml.v3"
)

// Test device addresses for consistent fake device identification
const (
	TestGrillAddress = "AA:BB:CC:DD:EE:FF"
	TestPulseAddress = "11:22:33:44:55:66"
)

type fakeAdvertisement struct {
	name        string
	addr        string
	rssi        int
	connectable bool
}

func (a fakeAdvertisement) LocalName() string        { return a.name }
func (a fakeAdvertisement) ManufacturerData() []byte { return nil }
func (a fakeAdvertisement) Services() []string       { return nil }
func (a fakeAdvertisement) Connectable() bool        { return a.connectable }
func (a fakeAdvertisement) RSSI() int                { return a.rssi }
func (a fakeAdvertisement) Addr() string             { return a.addr }

// replayScanner replays advertisements then blocks until ctx is done.
type replayScanner struct {
	advs []device.Advertisement
}

func (r *replayScanner) Scan(ctx context.Context, _ bool, handler func(device.Advertisement)) error {
	for _, a := range r.advs {
		handler(a)
	}
	<-ctx.Done()
	return ctx.Err()
}

// fakeTransport serves FakeGrills and a replayed advertisement stream.
type fakeTransport struct {
	*testutils.FakeTransport
	scanner *replayScanner
}

func (t *fakeTransport) Scanner() (device.ScanningDevice, error) {
	return t.scanner, nil
}

// CommandTestSuite runs commands against fake thermometers injected through
// TransportFactory. All cmd/igrill suites embed it.
type CommandTestSuite struct {
	suite.Suite
	Grill     *testutils.FakeGrill
	Pulse     *testutils.FakeGrill
	Transport *fakeTransport

	// Config is written to ConfigPath by WriteConfig.
	Config     *config.Config
	ConfigPath string

	originalFactory func(*config.Config, *logrus.Logger) (Transport, error)
	originalNoColor bool
}

func (s *CommandTestSuite) SetupSuite() {
	s.originalFactory = TransportFactory
	s.originalNoColor = color.NoColor
	color.NoColor = true
}

func (s *CommandTestSuite) TearDownSuite() {
	TransportFactory = s.originalFactory
	color.NoColor = s.originalNoColor
}

func (s *CommandTestSuite) SetupTest() {
	resetFlags(rootCmd)

	v2, err := grill.ProfileFor("igrill_v2")
	s.Require().NoError(err)
	pulse, err := grill.ProfileFor("pulse_2000")
	s.Require().NoError(err)

	s.Grill = testutils.NewFakeGrill(TestGrillAddress, v2, false)
	s.Pulse = testutils.NewFakeGrill(TestPulseAddress, pulse, true)
	s.Transport = &fakeTransport{
		FakeTransport: testutils.NewFakeTransport(s.Grill, s.Pulse),
		scanner:       &replayScanner{},
	}
	TransportFactory = func(*config.Config, *logrus.Logger) (Transport, error) {
		return s.Transport, nil
	}

	s.Config = config.DefaultConfig()
	s.Config.LogLevel = "error"
	s.Config.Mode = "active"
	s.Config.ConnectRetries = 0
	s.Config.Devices = []config.DeviceConfig{{Address: TestGrillAddress, Model: "igrill_v2"}}
	s.ConfigPath = filepath.Join(s.T().TempDir(), "config.yaml")
}

// WriteConfig stores s.Config as YAML at s.ConfigPath.
func (s *CommandTestSuite) WriteConfig() {
	data, err := yaml.Marshal(s.Config)
	s.Require().NoError(err)
	s.Require().NoError(os.WriteFile(s.ConfigPath, data, 0o600), "config write MUST succeed")
}

// ExecuteCommand runs the root command with args and returns its combined
// output.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, error) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	defer func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	}()
	err := rootCmd.ExecuteContext(context.Background())
	return buf.String(), err
}

// Lines splits output into non-empty lines.
func (s *CommandTestSuite) Lines(out string) []string {
	var lines []string
	for _, l := range strings.Split(out, "\n") {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

// resetFlags restores every flag of cmd and its subcommands to its default
// so one test's flags do not leak into the next.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}
