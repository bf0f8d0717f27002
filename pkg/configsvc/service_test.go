package configsvc

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/atomic"
	"go.uber.org/goleak"

	"github.com/octodash/dashconf/pkg/api"
	"github.com/octodash/dashconf/pkg/dashconfig"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var errConnReset = errors.New("connection reset")

// fakeBackend stands in for dashconfd: it keeps one document, validates
// with dashconfig, and lets tests push events onto the stream.
type fakeBackend struct {
	mu         sync.Mutex
	doc        dashconfig.Config
	readErr    string
	saveErr    string
	checkErr   error
	subErr     error
	stream     chan api.Event
	checked    []dashconfig.Config
	subscribes atomic.Int64
	reads      atomic.Int64

	// readFails and checkFails count upcoming requests that fail with
	// errConnReset.
	readFails  atomic.Int64
	checkFails atomic.Int64

	// blockChecks makes CheckConfig wait for its context, after signalling
	// on blocked.
	blockChecks atomic.Bool
	blocked     chan struct{}
}

func newFakeBackend(doc dashconfig.Config) *fakeBackend {
	return &fakeBackend{doc: doc, blocked: make(chan struct{}, 1)}
}

func (b *fakeBackend) ReadConfig(context.Context) (api.Event, error) {
	b.reads.Inc()
	if b.readFails.Dec() >= 0 {
		return api.Event{}, errConnReset
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.readErr != "" {
		return api.ErrorEvent(errors.New(b.readErr)), nil
	}
	return api.ConfigEvent(api.KindConfigRead, b.doc), nil
}

func (b *fakeBackend) CheckConfig(ctx context.Context, cfg dashconfig.Config) (api.Event, error) {
	if b.blockChecks.Load() {
		select {
		case b.blocked <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return api.Event{}, ctx.Err()
	}
	if b.checkFails.Dec() >= 0 {
		return api.Event{}, errConnReset
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.checkErr != nil {
		return api.Event{}, b.checkErr
	}
	b.checked = append(b.checked, cfg)
	return api.CheckEvent(dashconfig.Problems(cfg.Validate())), nil
}

func (b *fakeBackend) SaveConfig(_ context.Context, cfg dashconfig.Config) (api.Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.saveErr != "" {
		return api.ErrorEvent(errors.New(b.saveErr)), nil
	}
	b.doc = cfg
	return api.ConfigEvent(api.KindConfigSaved, cfg), nil
}

func (b *fakeBackend) Subscribe(ctx context.Context) (<-chan api.Event, error) {
	b.subscribes.Inc()
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subErr != nil {
		return nil, b.subErr
	}
	ch := make(chan api.Event)
	b.stream = ch
	return ch, nil
}

func (b *fakeBackend) push(ev api.Event) {
	b.mu.Lock()
	ch := b.stream
	b.mu.Unlock()
	ch <- ev
}

func (b *fakeBackend) dropStream() {
	b.mu.Lock()
	defer b.mu.Unlock()
	close(b.stream)
	b.stream = nil
}

func (b *fakeBackend) checks() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.checked)
}

type notification struct {
	message, hint string
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []notification
}

func (n *recordingNotifier) SetError(message, hint string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notification{message, hint})
}

func (n *recordingNotifier) all() []notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notification(nil), n.calls...)
}

func validConfig() dashconfig.Config {
	cfg := dashconfig.Default()
	cfg.Octoprint.URL = "http://octopi.local/"
	cfg.Octoprint.AccessToken = "3F2504E04F8911D39A0C0305E82C3301"
	return cfg
}

type ServiceTestSuite struct {
	suite.Suite
	backend  *fakeBackend
	notifier *recordingNotifier
	svc      *Service
	ctx      context.Context
	cancel   context.CancelFunc
}

func (s *ServiceTestSuite) SetupTest() {
	s.ctx, s.cancel = context.WithTimeout(context.Background(), 5*time.Second)
	s.backend = newFakeBackend(validConfig())
	s.notifier = &recordingNotifier{}
	s.svc = New(s.backend,
		WithNotifier(s.notifier),
		WithRequestTimeout(time.Second),
		WithRetryInterval(10*time.Millisecond),
	)
}

func (s *ServiceTestSuite) TearDownTest() {
	s.svc.Close()
	s.cancel()
}

func (s *ServiceTestSuite) start() {
	s.Require().NoError(s.svc.Start(s.ctx))
	s.Require().NoError(s.svc.WaitInitialized(s.ctx))
}

func (s *ServiceTestSuite) TestStartWithValidDocument() {
	s.start()

	s.True(s.svc.IsLoaded())
	s.True(s.svc.IsInitialized())
	s.True(s.svc.IsValid())
	s.Empty(s.svc.Errors())
	s.Equal(1, s.backend.checks())

	h := s.svc.HTTPHeaders()
	s.Equal("3F2504E04F8911D39A0C0305E82C3301", h.Get("x-api-key"))
	s.Equal("no-cache", h.Get("Cache-Control"))
	s.Equal("no-cache", h.Get("Pragma"))
	s.Equal("0", h.Get("Expires"))
}

func (s *ServiceTestSuite) TestStartWithInvalidDocument() {
	s.backend.doc = dashconfig.Default()

	s.start()

	s.True(s.svc.IsInitialized())
	s.False(s.svc.IsValid())
	s.Equal([]string{"octoprint.accessToken must not be empty"}, s.svc.Errors())
	s.Nil(s.svc.HTTPHeaders(), "headers are built only for a valid document")
	s.True(s.svc.IsLoaded(), "an invalid document is still cached")
}

func (s *ServiceTestSuite) TestReadErrorNotifies() {
	s.backend.readErr = "open /etc/dashconf/config.json: permission denied"

	s.Require().NoError(s.svc.Start(s.ctx))

	s.Equal([]notification{{
		message: "open /etc/dashconf/config.json: permission denied",
		hint:    RestartHint,
	}}, s.notifier.all())
	s.False(s.svc.IsLoaded())
	s.False(s.svc.IsInitialized())
}

func (s *ServiceTestSuite) TestCheckTransportErrorRecovers() {
	s.backend.checkFails.Store(1)

	s.Require().NoError(s.svc.Start(s.ctx))
	s.Require().NoError(s.svc.WaitInitialized(s.ctx))

	s.True(s.svc.IsValid())
	s.Equal(int64(2), s.backend.reads.Load(), "the document is re-read after a failed check")
	s.Require().Len(s.notifier.all(), 1)
	s.Contains(s.notifier.all()[0].message, "connection reset")
	s.Equal(RestartHint, s.notifier.all()[0].hint)
}

func (s *ServiceTestSuite) TestCheckTransportErrorNotifiesOnce() {
	s.backend.checkErr = errConnReset

	s.Require().NoError(s.svc.Start(s.ctx))
	s.Eventually(func() bool { return s.backend.reads.Load() >= 3 }, time.Second, 5*time.Millisecond)

	s.True(s.svc.IsLoaded())
	s.False(s.svc.IsInitialized())
	s.Len(s.notifier.all(), 1, "a run of failures is reported once")
}

func (s *ServiceTestSuite) TestStartAfterFailedRead() {
	s.backend.readFails.Store(1)

	err := s.svc.Start(s.ctx)

	s.ErrorIs(err, errConnReset)
	s.False(s.svc.IsLoaded())

	s.start()
	s.True(s.svc.IsValid())
	s.Equal(int64(2), s.backend.subscribes.Load())
}

func (s *ServiceTestSuite) TestCloseDuringCheckIsSilent() {
	s.start()
	s.backend.blockChecks.Store(true)
	s.backend.push(api.ConfigEvent(api.KindConfigRead, validConfig()))

	select {
	case <-s.backend.blocked:
	case <-s.ctx.Done():
		s.FailNow("check was never requested")
	}
	s.svc.Close()

	s.Empty(s.notifier.all())
}

func (s *ServiceTestSuite) TestStartSubscribeFailure() {
	s.backend.subErr = errors.New("daemon not running")

	err := s.svc.Start(s.ctx)

	s.ErrorContains(err, "daemon not running")
	s.Zero(s.backend.reads.Load())
}

func (s *ServiceTestSuite) TestStartTwice() {
	s.start()
	s.ErrorIs(s.svc.Start(s.ctx), ErrAlreadyStarted)
}

func (s *ServiceTestSuite) TestWaitInitializedHonorsContext() {
	ctx, cancel := context.WithTimeout(s.ctx, 20*time.Millisecond)
	defer cancel()

	s.ErrorIs(s.svc.WaitInitialized(ctx), context.DeadlineExceeded)
}

func (s *ServiceTestSuite) TestGettersBeforeLoad() {
	s.False(s.svc.IsLoaded())
	s.Zero(s.svc.APIPollingInterval())
	s.Empty(s.svc.PrinterName())
	s.Nil(s.svc.CustomActions())
	s.Empty(s.svc.APIURL("job"))
	s.Nil(s.svc.HTTPHeaders())
	s.False(s.svc.IsEqualToCurrentConfig(dashconfig.Config{}))

	_, err := s.svc.CurrentConfig()
	s.ErrorIs(err, ErrNotLoaded)
}

func (s *ServiceTestSuite) TestGetters() {
	doc := validConfig()
	doc.Printer.Name = "Ender 3 V2"
	doc.Printer.XYSpeed = 120
	doc.Printer.ZSpeed = 4
	doc.Printer.DisableExtruderGCode = "M18 E0"
	doc.Printer.ZBabystepGCode = "M290 Z"
	doc.Printer.DefaultTemperatureFanSpeed = dashconfig.DefaultTemperatureFanSpeed{Hotend: 215, Heatbed: 65, Fan: 80}
	doc.Filament = dashconfig.Filament{
		Thickness: 2.85, Density: 1.24, FeedLength: 470, FeedSpeed: 30,
		FeedSpeedSlow: 5, PurgeDistance: 25, UseM600: true,
	}
	doc.Plugins.Enclosure = dashconfig.EnclosurePlugin{Enabled: true, AmbientSensorID: 3}
	doc.Plugins.PreheatButton.Enabled = true
	doc.Plugins.FilamentManager.Enabled = true
	doc.Plugins.TPLinkSmartPlug = dashconfig.TPLinkSmartPlugPlugin{Enabled: true, SmartPlugIP: "192.168.1.40"}
	doc.OctoDash.PollingInterval = 1500
	doc.OctoDash.Touchscreen = false
	doc.OctoDash.TurnScreenOffWhileSleeping = true
	doc.OctoDash.TurnOnPrinterWhenExitingSleep = true
	doc.OctoDash.PreferPreviewWhilePrinting = true
	doc.OctoDash.PreviewProgressCircle = true
	doc.OctoDash.FileSorting = dashconfig.FileSorting{Attribute: dashconfig.SortByDate, Order: dashconfig.OrderDsc}
	doc.OctoDash.ScreenSleepCommand = "vcgencmd display_power 0"
	doc.OctoDash.ScreenWakeupCommand = "vcgencmd display_power 1"
	s.backend.doc = doc

	s.start()

	s.Equal(1500*time.Millisecond, s.svc.APIPollingInterval())
	s.Equal("Ender 3 V2", s.svc.PrinterName())
	s.Equal(120, s.svc.XYSpeed())
	s.Equal(4, s.svc.ZSpeed())
	s.False(s.svc.IsTouchscreen())
	s.Equal(3, s.svc.AmbientTemperatureSensorName())
	s.True(s.svc.AutomaticScreenSleep())
	s.True(s.svc.AutomaticPrinterPowerOn())
	s.True(s.svc.UseTPLinkSmartPlug())
	s.Equal("192.168.1.40", s.svc.SmartPlugIP())
	s.Equal(2.85, s.svc.FilamentThickness())
	s.Equal(1.24, s.svc.FilamentDensity())
	s.Equal(dashconfig.SortByDate, s.svc.DefaultSortingAttribute())
	s.Equal(dashconfig.OrderDsc, s.svc.DefaultSortingOrder())
	s.Equal(215, s.svc.DefaultHotendTemperature())
	s.Equal(65, s.svc.DefaultHeatbedTemperature())
	s.Equal(80, s.svc.DefaultFanSpeed())
	s.True(s.svc.IsPreheatPluginEnabled())
	s.True(s.svc.IsFilamentManagerEnabled())
	s.Equal(470, s.svc.FeedLength())
	s.Equal(30, s.svc.FeedSpeed())
	s.Equal(5, s.svc.FeedSpeedSlow())
	s.Equal(25, s.svc.PurgeDistance())
	s.True(s.svc.UseM600())
	s.True(s.svc.ShowThumbnailByDefault())
	s.Equal("3F2504E04F8911D39A0C0305E82C3301", s.svc.AccessKey())
	s.Equal("M18 E0", s.svc.DisableExtruderGCode())
	s.Equal("M290 Z", s.svc.ZBabystepGCode())
	s.True(s.svc.PreviewProgressCircle())
	s.Equal("vcgencmd display_power 0", s.svc.ScreenSleepCommand())
	s.Equal("vcgencmd display_power 1", s.svc.ScreenWakeupCommand())

	s.Equal("http://octopi.local/api/job", s.svc.APIURL("job"))
	s.Equal("http://octopi.local/plugin/enclosure/inputs", s.svc.URL("plugin/enclosure/inputs"))
}

func (s *ServiceTestSuite) TestCopiesAreDetached() {
	s.start()

	cfg, err := s.svc.CurrentConfig()
	s.Require().NoError(err)
	cfg.OctoDash.CustomActions[0].Command = "M112"
	actions := s.svc.CustomActions()
	actions[1].Command = "M112"
	h := s.svc.HTTPHeaders()
	h.Set("x-api-key", "leaked")

	fresh, err := s.svc.CurrentConfig()
	s.Require().NoError(err)
	s.Equal("G28", fresh.OctoDash.CustomActions[0].Command)
	s.Equal("G29", fresh.OctoDash.CustomActions[1].Command)
	s.Equal("3F2504E04F8911D39A0C0305E82C3301", s.svc.HTTPHeaders().Get("x-api-key"))
}

func (s *ServiceTestSuite) TestIsEqualToCurrentConfig() {
	s.start()

	same := validConfig()
	s.True(s.svc.IsEqualToCurrentConfig(same))

	changed := validConfig()
	changed.Printer.Name = "Other"
	s.False(s.svc.IsEqualToCurrentConfig(changed))
}

func (s *ServiceTestSuite) TestValidateGiven() {
	s.True(s.svc.ValidateGiven(validConfig()))
	s.False(s.svc.ValidateGiven(dashconfig.Default()))
}

func (s *ServiceTestSuite) TestSaveConfigRechecks() {
	s.backend.doc = dashconfig.Default()
	s.start()
	s.False(s.svc.IsValid())

	s.Require().NoError(s.svc.SaveConfig(s.ctx, validConfig()))

	s.True(s.svc.IsValid())
	s.Empty(s.svc.Errors(), "errors from the failed check are cleared")
	s.True(s.svc.IsEqualToCurrentConfig(validConfig()))
	s.Equal(2, s.backend.checks())
}

func (s *ServiceTestSuite) TestSaveConfigFailure() {
	s.start()
	s.backend.saveErr = "read-only file system"

	err := s.svc.SaveConfig(s.ctx, dashconfig.Default())

	s.ErrorIs(err, ErrSaveFailed)
	s.ErrorContains(err, "read-only file system")
	s.Equal([]notification{{message: "read-only file system", hint: RestartHint}}, s.notifier.all())
	s.True(s.svc.IsValid(), "the cached document is unchanged")
}

func (s *ServiceTestSuite) TestPushedEvents() {
	s.start()

	external := validConfig()
	external.Printer.Name = "Edited by hand"
	s.backend.push(api.ConfigEvent(api.KindConfigRead, external))
	s.Eventually(func() bool { return s.svc.PrinterName() == "Edited by hand" }, time.Second, 5*time.Millisecond)
	s.Eventually(func() bool { return s.backend.checks() == 2 }, time.Second, 5*time.Millisecond)

	s.False(s.svc.IsUpdate())
	s.backend.push(api.NewEvent(api.KindUpdateAvailable))
	s.Eventually(s.svc.IsUpdate, time.Second, 5*time.Millisecond)

	s.backend.push(api.ErrorEvent(errors.New("decoding document: unexpected EOF")))
	s.Eventually(func() bool { return len(s.notifier.all()) == 1 }, time.Second, 5*time.Millisecond)
	s.Equal("decoding document: unexpected EOF", s.notifier.all()[0].message)
	s.True(s.svc.IsUpdate(), "update flag is never cleared")
}

func (s *ServiceTestSuite) TestSetUpdate() {
	s.svc.SetUpdate()
	s.True(s.svc.IsUpdate())
}

func (s *ServiceTestSuite) TestReconnectRereads() {
	s.start()
	s.Equal(int64(1), s.backend.reads.Load())

	s.backend.dropStream()

	s.Eventually(func() bool {
		return s.backend.subscribes.Load() == 2 && s.backend.reads.Load() == 2
	}, time.Second, 5*time.Millisecond)
}

func (s *ServiceTestSuite) TestURLHelpers() {
	split, err := s.svc.SplitOctoprintURL("http://octopi.local:5000/")
	s.Require().NoError(err)
	s.Equal(dashconfig.URLSplit{Host: "octopi.local", Port: 5000}, split)
	s.Equal("http://octopi.local:5000/", s.svc.MergeOctoprintURL(split))

	in := validConfig()
	in.Octoprint.URLSplit = &dashconfig.URLSplit{Host: "192.168.1.20", Port: 80}
	out := s.svc.CreateConfigFromInput(in)
	s.Equal("http://192.168.1.20:80/", out.Octoprint.URL)
	s.Nil(out.Octoprint.URLSplit)
	s.NotNil(in.Octoprint.URLSplit)
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceTestSuite))
}
