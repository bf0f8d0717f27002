package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/goleak"

	"github.com/octodash/dashconf/internal/filesys"
	"github.com/octodash/dashconf/internal/metrics"
	"github.com/octodash/dashconf/internal/store"
	"github.com/octodash/dashconf/pkg/api"
	"github.com/octodash/dashconf/pkg/dashconfig"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// failingStore loads fine but refuses every save.
type failingStore struct {
	store.Store
	err error
}

func (f failingStore) Save(dashconfig.Config) error { return f.err }

type EngineTestSuite struct {
	suite.Suite
	path   string
	engine *Engine
	ctx    context.Context
	cancel context.CancelFunc
}

func (s *EngineTestSuite) SetupTest() {
	s.path = filepath.Join(s.T().TempDir(), "config.json")
	s.ctx, s.cancel = context.WithTimeout(context.Background(), 5*time.Second)
	s.start(store.New(filesys.OS(), s.path))
}

func (s *EngineTestSuite) TearDownTest() {
	s.engine.Close()
	s.cancel()
}

func (s *EngineTestSuite) start(st store.Store) {
	s.engine = New(st)
	s.engine.Run(s.ctx)
}

// sync waits until every command queued so far has been handled.
func (s *EngineTestSuite) sync() {
	_, err := s.engine.Check(s.ctx, dashconfig.Default())
	s.Require().NoError(err)
}

func (s *EngineTestSuite) requireNoEvent(ch <-chan api.Event) {
	select {
	case ev := <-ch:
		s.FailNow("unexpected event", "kind %s", ev.Kind)
	default:
	}
}

func validConfig() dashconfig.Config {
	cfg := dashconfig.Default()
	cfg.Octoprint.AccessToken = "0123456789ABCDEF"
	return cfg
}

func (s *EngineTestSuite) TestReadSeedsDefaults() {
	ev, err := s.engine.Read(s.ctx)

	s.Require().NoError(err)
	s.Equal(api.KindConfigRead, ev.Kind)
	s.Require().NotNil(ev.Config)
	s.True(dashconfig.Equal(dashconfig.Default(), *ev.Config))
	s.FileExists(s.path)
}

func (s *EngineTestSuite) TestCheck() {
	testCases := []struct {
		name     string
		cfg      func() dashconfig.Config
		kind     api.Kind
		problems []string
	}{
		{
			name: "valid document",
			cfg:  validConfig,
			kind: api.KindConfigPass,
		},
		{
			name:     "defaults lack an access token",
			cfg:      dashconfig.Default,
			kind:     api.KindConfigFail,
			problems: []string{"octoprint.accessToken must not be empty"},
		},
	}

	for _, tc := range testCases {
		s.Run(tc.name, func() {
			ev, err := s.engine.Check(s.ctx, tc.cfg())

			s.Require().NoError(err)
			s.Equal(tc.kind, ev.Kind)
			s.Equal(tc.problems, ev.Errors)
		})
	}
}

func (s *EngineTestSuite) TestSaveNotifiesOtherSubscribers() {
	originID, origin, cancelOrigin := s.engine.Subscribe()
	defer cancelOrigin()
	_, other, cancelOther := s.engine.Subscribe()
	defer cancelOther()
	s.Equal(2, s.engine.Subscribers())

	writes := testutil.ToFloat64(metrics.DocumentWrites.WithLabelValues("ok"))

	cfg := validConfig()
	cfg.Printer.Name = "Ender 3"
	ev, err := s.engine.Save(s.ctx, cfg, originID)

	s.Require().NoError(err)
	s.Equal(api.KindConfigSaved, ev.Kind)
	s.Equal("Ender 3", ev.Config.Printer.Name)
	s.Equal(writes+1, testutil.ToFloat64(metrics.DocumentWrites.WithLabelValues("ok")))

	select {
	case got := <-other:
		s.Equal(api.KindConfigSaved, got.Kind)
		s.Equal(ev.ID, got.ID)
	default:
		s.Fail("other subscriber was not notified")
	}
	s.requireNoEvent(origin)

	read, err := s.engine.Read(s.ctx)
	s.Require().NoError(err)
	s.Equal("Ender 3", read.Config.Printer.Name)
}

func (s *EngineTestSuite) TestSaveDoesNotValidate() {
	ev, err := s.engine.Save(s.ctx, dashconfig.Config{}, "")

	s.Require().NoError(err)
	s.Equal(api.KindConfigSaved, ev.Kind)
}

func (s *EngineTestSuite) TestSaveFailure() {
	s.engine.Close()
	saveErr := errors.New("disk full")
	s.start(failingStore{Store: store.New(filesys.OS(), s.path), err: saveErr})

	_, sub, cancelSub := s.engine.Subscribe()
	defer cancelSub()
	failures := testutil.ToFloat64(metrics.DocumentWrites.WithLabelValues("error"))

	ev, err := s.engine.Save(s.ctx, validConfig(), "")

	s.Require().NoError(err)
	s.Equal(api.KindConfigError, ev.Kind)
	s.Equal("disk full", ev.Error)
	s.Nil(ev.Config)
	s.Equal(failures+1, testutil.ToFloat64(metrics.DocumentWrites.WithLabelValues("error")))
	s.requireNoEvent(sub)
}

func (s *EngineTestSuite) TestOwnWriteIsNotReannounced() {
	_, sub, cancelSub := s.engine.Subscribe()
	defer cancelSub()

	_, err := s.engine.Save(s.ctx, validConfig(), "")
	s.Require().NoError(err)
	<-sub // configSaved

	reloads := testutil.ToFloat64(metrics.ExternalReloads)
	s.engine.DocumentChanged()
	s.sync()

	s.requireNoEvent(sub)
	s.Equal(reloads, testutil.ToFloat64(metrics.ExternalReloads))
}

func (s *EngineTestSuite) TestExternalEditIsBroadcast() {
	_, sub, cancelSub := s.engine.Subscribe()
	defer cancelSub()

	edited := validConfig()
	edited.Printer.Name = "Voron 2.4"
	s.Require().NoError(store.New(filesys.OS(), s.path).Save(edited))

	reloads := testutil.ToFloat64(metrics.ExternalReloads)
	s.engine.DocumentChanged()
	s.sync()

	select {
	case ev := <-sub:
		s.Equal(api.KindConfigRead, ev.Kind)
		s.Equal("Voron 2.4", ev.Config.Printer.Name)
	default:
		s.Fail("subscriber was not told about the external edit")
	}
	s.Equal(reloads+1, testutil.ToFloat64(metrics.ExternalReloads))
}

func (s *EngineTestSuite) TestCorruptEditIsBroadcastAsError() {
	_, sub, cancelSub := s.engine.Subscribe()
	defer cancelSub()

	s.Require().NoError(os.WriteFile(s.path, []byte(`{"version":`), 0o644))
	s.engine.DocumentChanged()
	s.sync()

	select {
	case ev := <-sub:
		s.Equal(api.KindConfigError, ev.Kind)
		s.Contains(ev.Error, "decoding document")
	default:
		s.Fail("subscriber was not told about the broken document")
	}
}

func (s *EngineTestSuite) TestNotifyUpdate() {
	_, sub, cancelSub := s.engine.Subscribe()
	defer cancelSub()
	s.False(s.engine.UpdateAvailable())

	s.Require().NoError(s.engine.NotifyUpdate(s.ctx))
	s.Require().NoError(s.engine.NotifyUpdate(s.ctx))
	s.sync()

	s.True(s.engine.UpdateAvailable())
	for i := 0; i < 2; i++ {
		select {
		case ev := <-sub:
			s.Equal(api.KindUpdateAvailable, ev.Kind)
		default:
			s.Fail("missing updateAvailable event")
		}
	}
}

func (s *EngineTestSuite) TestRequestsAfterClose() {
	s.engine.Close()

	_, err := s.engine.Read(s.ctx)

	s.ErrorIs(err, ErrClosed)
}

func (s *EngineTestSuite) TestRequestHonorsContext() {
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()

	// Fill the queue so the request cannot be enqueued.
	s.engine.Close()
	blocked := New(store.New(filesys.OS(), s.path))
	for i := 0; i < _commandBufferSize; i++ {
		blocked.DocumentChanged()
	}

	_, err := blocked.Read(ctx)

	s.ErrorIs(err, context.Canceled)
}

func (s *EngineTestSuite) TestDocumentPath() {
	s.Equal(s.path, s.engine.DocumentPath())
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineTestSuite))
}
