// Package orchestrator brings the core up and down as an atomic unit: it
// owns every component's lifecycle, wires the callbacks between them,
// drives the adaptive channel-hop tick, and guarantees the monitor-mode
// interface is restored on every exit path. Grounded on the teacher's
// cmd/pible/main.go top-level wiring (signalContext, ordered component
// bring-up, deferred teardown) and on
// original_source/src/scan_orchestrator.py for the exact component
// ordering and non-critical-vs-critical failure policy (§4.6/§7).
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"pible/internal/capture"
	"pible/internal/channelhop"
	"pible/internal/config"
	"pible/internal/fingerprint"
	"pible/internal/gpsservice"
	"pible/internal/ids"
	"pible/internal/logging"
	"pible/internal/netiface"
	"pible/internal/poller"
	"pible/internal/power"
	"pible/internal/store"
	"pible/internal/util"
)

// Sentinel errors surfaced to the CLI's exit-code mapping (§6.6).
var (
	ErrConfigInvalid          = errors.New("orchestrator: invalid config")
	ErrStoreFatal             = errors.New("orchestrator: store initialization failed")
	ErrInterfaceRestoreFailed = errors.New("orchestrator: interface restore failed")
)

const tickInterval = 10 * time.Second

// Orchestrator owns every core component's lifecycle for one scan
// session.
type Orchestrator struct {
	cfg       config.Config
	sessionID string

	store    *store.Store
	gps      *gpsservice.Service
	poller   *poller.Poller
	hop      *channelhop.Policy
	engine   *fingerprint.Engine
	powerMon *power.Monitor
	cap      *capture.Capture
	restorer *netiface.Restorer
	resolver *ids.Resolver
	log      *logging.Logger

	cancel context.CancelFunc
	tasks  sync.WaitGroup

	quit       chan struct{}
	stopOnce   sync.Once
	started    bool
	stopResult error

	wifiCount atomic.Int64
	btCount   atomic.Int64
}

var (
	activeMu sync.Mutex
	active   *Orchestrator
)

// New constructs an Orchestrator and its components from cfg without
// starting anything. A session id is assigned immediately (stable once
// assigned, per §3's ScanSession invariant). logOut is the destination
// for the leveled log trail (general.log_level); a nil logOut discards
// it, leaving only the colored console narration.
func New(cfg config.Config, sessionID string, logOut io.Writer) (*Orchestrator, error) {
	if strings.TrimSpace(cfg.General.NodeID) == "" {
		return nil, fmt.Errorf("%w: general.node_id is required", ErrConfigInvalid)
	}
	if logOut == nil {
		logOut = io.Discard
	}

	o := &Orchestrator{
		cfg:       cfg,
		sessionID: sessionID,
		hop: channelhop.New(cfg.ChannelHopping.FastRate, cfg.ChannelHopping.SlowRate),
		restorer: netiface.NewRestorer(),
		log:      logging.New(logOut, logging.ParseLevel(cfg.General.LogLevel), false),
		quit:     make(chan struct{}),
	}

	o.gps = gpsservice.New(gpsservice.Config{
		Mode:          cfg.GPS.Mode,
		GPSDAddr:      fmt.Sprintf("%s:%d", cfg.GPS.Host, cfg.GPS.Port),
		SerialDev:     cfg.GPS.SerialDevice,
		SerialBaud:    cfg.GPS.SerialBaud,
		MinHDOP:       cfg.GPS.MinHDOP,
		MinSatellites: cfg.GPS.MinSatellites,
		HistorySize:   cfg.GPS.HistorySize,
	})

	o.poller = poller.New(poller.Config{
		Host:         cfg.Kismet.Host,
		Port:         cfg.Kismet.Port,
		User:         cfg.Kismet.User,
		Pass:         cfg.Kismet.Pass,
		PollInterval: durationFromSeconds(cfg.Kismet.PollInterval),
	})

	resolver, err := ids.Load(ids.LoadConfig{DataDir: cfg.General.DataDir})
	if err != nil {
		util.Linef("[IDS]", util.ColorYellow, "vendor/UUID data unavailable: %v", err)
	}
	o.resolver = resolver

	o.engine = fingerprint.New(gpsAdapter{o.gps}, nil, false)

	if cfg.Power.MonitorEnabled {
		src, err := voltageSourceFor(cfg.Power)
		if err != nil {
			util.Linef("[POWER]", util.ColorYellow, "disabling power monitor: %v", err)
		} else {
			o.powerMon = power.New(src, durationFromSeconds(cfg.Power.PollInterval), power.Thresholds{
				Warning:  cfg.Power.Warn,
				Critical: cfg.Power.Critical,
				Shutdown: cfg.Power.Shutdown,
			})
		}
	}

	return o, nil
}

// gpsAdapter bridges gpsservice.Service's (lat, lon, alt, ts) tuple shape
// to the fingerprint engine's (lat, lon, valid, ts) PositionSource
// contract.
type gpsAdapter struct{ svc *gpsservice.Service }

func (a gpsAdapter) CurrentTuple() (lat, lon float64, valid bool, ts time.Time) {
	lat, lon, _, ts = a.svc.CurrentTuple()
	return lat, lon, a.svc.HasFix(), ts
}

func durationFromSeconds(s float64) time.Duration {
	if s <= 0 {
		return time.Second
	}
	return time.Duration(s * float64(time.Second))
}

func voltageSourceFor(cfg config.Power) (power.VoltageSource, error) {
	switch strings.ToLower(cfg.VoltageSource) {
	case "", "sysfs":
		return power.SysfsSource{Path: cfg.SourcePath}, nil
	case "i2c":
		return nil, fmt.Errorf("i2c voltage source requires bus/address configuration not present in this config shape")
	case "upower":
		return power.UPowerSource{ObjectPath: cfg.SourcePath, NominalV: 3.7}, nil
	default:
		return nil, fmt.Errorf("unknown voltage_source %q", cfg.VoltageSource)
	}
}

// Start brings up every component in the order specified by §4.6:
// Store -> GPS -> Upstream Poller -> Channel Hop -> Fingerprint Engine ->
// Power Monitor -> external capture tool. The Store is critical: failure
// aborts start. Everything else is non-critical: failure is logged and
// the orchestrator continues.
func (o *Orchestrator) Start(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	o.cancel = cancel

	// Store (critical).
	st, err := store.Open(ctx, store.Config{
		Path:              o.cfg.Database.Path,
		BackupDir:         o.cfg.Database.BackupDir,
		EncryptionEnabled: o.cfg.Database.EncryptionEnabled,
		MaxRetries:        o.cfg.Database.MaxRetries,
	})
	if err != nil {
		cancel()
		return fmt.Errorf("%w: %v", ErrStoreFatal, err)
	}
	o.store = st

	if err := o.store.CreateSession(ctx, o.sessionID, "", o.cfg.General.NodeID); err != nil {
		cancel()
		_ = o.store.Close()
		return fmt.Errorf("%w: create session: %v", ErrStoreFatal, err)
	}
	_ = o.store.SetSessionStatus(ctx, o.sessionID, "running")

	setActive(o)

	// GPS (non-critical).
	if err := o.gps.Connect(ctx); err != nil {
		util.Linef("[GPS]", util.ColorYellow, "gps unavailable at startup: %v", err)
	}
	if err := o.gps.Start(ctx); err != nil {
		util.Linef("[GPS]", util.ColorYellow, "gps failed to start: %v", err)
	}
	o.gps.Subscribe(func(p gpsservice.Position) {
		if !p.Valid {
			return
		}
		speed := p.SpeedMS
		track := p.HeadingDeg
		hdop := p.HDOP
		_ = o.store.InsertGPSPoint(ctx, o.sessionID, p.Timestamp.UTC().Format("2006-01-02 15:04:05"),
			p.Lat, p.Lon, p.Alt, &speed, &track, &hdop, p.Satellites, string(p.FixQuality))
	})

	// Upstream Poller (non-critical).
	if !o.poller.CheckConnection(ctx) {
		util.Line("[POLLER]", util.ColorYellow, "upstream capture daemon unreachable at startup")
	}
	o.poller.OnNew(o.handleDeviceRecord)
	o.poller.OnUpdate(o.handleDeviceRecord)
	o.runTask(func() { o.poller.Start(ctx) })

	// Channel-Hop Policy.
	if err := o.hop.SetMode(channelhop.Mode(o.cfg.ChannelHopping.DefaultMode)); err != nil {
		util.Linef("[HOP]", util.ColorYellow, "invalid default_mode, keeping slow: %v", err)
	}

	// Fingerprint Engine: no I/O of its own, wire the signature sink.
	o.engine.OnSignature(o.handleSignature)

	// Power Monitor (non-critical).
	if o.powerMon != nil {
		o.powerMon.OnWarning(func(v float64) {
			util.Linef("[POWER]", util.ColorYellow, "battery warning: %.2fV", v)
		})
		o.powerMon.OnCritical(func(v float64) {
			util.Linef("[POWER]", util.ColorYellow, "battery critical: %.2fV, flushing store", v)
			if err := o.store.Flush(ctx); err != nil {
				o.log.Error("store flush on critical power failed: %v", err)
			}
		})
		o.powerMon.OnShutdown(func(v float64) {
			util.Linef("[POWER]", util.ColorYellow, "battery shutdown threshold reached: %.2fV", v)
			go o.Stop(context.Background())
		})
		o.runTask(func() { o.powerMon.Start(ctx) })
	}

	// External capture tool (non-critical).
	if o.cfg.Capture.Enabled {
		o.cap = capture.New(capture.Config{
			Interface:     o.cfg.Capture.Interface,
			OutputDir:     pcapDir(o.cfg.General.DataDir),
			MaxFileSizeKB: o.cfg.Capture.MaxFileSizeMB * 1024,
			FilesToKeep:   o.cfg.Capture.FilesToKeep,
			Filter:        o.cfg.Capture.Filter,
			SessionID:     o.sessionID,
		}, o.store)
		if err := o.cap.Start(ctx); err != nil {
			util.Linef("[CAPTURE]", util.ColorYellow, "capture tool spawn failed, capture disabled: %v", err)
			o.cap = nil
		}
	}

	o.started = true
	return nil
}

func pcapDir(dataDir string) string {
	if dataDir == "" {
		dataDir = "."
	}
	return dataDir + "/pcap"
}

// runTask launches fn in a goroutine tracked by the shutdown WaitGroup.
func (o *Orchestrator) runTask(fn func()) {
	o.tasks.Add(1)
	go func() {
		defer o.tasks.Done()
		fn()
	}()
}

// handleDeviceRecord is the poller new/update callback: it fingerprints
// the observation, stamps it with the current GPS position, and upserts
// it into the store (§4.6 callback wiring).
func (o *Orchestrator) handleDeviceRecord(rec poller.DeviceRecord) {
	hash := o.engine.OnExternalDevice(rec)
	var hashPtr *string
	if hash != "" {
		hashPtr = &hash
	}

	lat, lon, alt, _ := o.gps.CurrentTuple()
	geoValid := o.gps.HasFix()

	deviceKey := rec.DeviceKey
	if deviceKey == "" {
		deviceKey = rec.MAC
	}
	ts := rec.LastSeen
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	timestamp := ts.UTC().Format("2006-01-02 15:04:05")

	manuf := rec.Manuf
	if manuf == "" {
		manuf = o.resolver.VendorForMAC(rec.MAC)
	}

	ctx := context.Background()
	switch rec.Kind {
	case poller.KindWifi:
		o.wifiCount.Add(1)
		params := store.WifiDeviceParams{
			SessionID: o.sessionID,
			DeviceKey: deviceKey,
			BSSID:     rec.MAC,
			SignalDBM: intPtr(rec.RSSI),
			Channel:   intPtrNonZero(rec.Channel),
			FreqMHz:   intPtrNonZero(rec.FreqMHz),
			PacketsTotal: intPtr(rec.Packets),
			Lat: lat, Lon: lon, Alt: alt, GeoValid: geoValid,
			FingerprintHash: hashPtr,
			Timestamp:       timestamp,
		}
		if rec.SSID != "" {
			params.ESSID = strPtr(rec.SSID)
		}
		if rec.Encryption != "" {
			params.Encryption = strPtr(rec.Encryption)
		}
		if manuf != "" {
			params.Manuf = strPtr(manuf)
		}
		if rec.WifiType != "" {
			params.DeviceClass = strPtr(rec.WifiType)
		}
		if err := o.store.InsertWifiDevice(ctx, params); err != nil {
			o.log.Error("insert wifi device %s: %v", deviceKey, err)
		}
	case poller.KindBluetooth:
		o.btCount.Add(1)
		params := store.BtDeviceParams{
			SessionID: o.sessionID,
			DeviceKey: deviceKey,
			MAC:       rec.MAC,
			RSSI:      intPtr(rec.RSSI),
			Lat: lat, Lon: lon, Alt: alt, GeoValid: geoValid,
			FingerprintHash: hashPtr,
			Timestamp:       timestamp,
		}
		if rec.Name != "" {
			// Some upstream records report the device's own MAC as its
			// name when none was advertised; fold that case to "Unknown"
			// rather than storing a MAC string in the name column.
			params.Name = strPtr(util.SafeName(rec.Name))
		}
		if manuf != "" {
			params.Manuf = strPtr(manuf)
		}
		if rec.BtType != "" {
			params.DeviceClass = strPtr(string(rec.BtType))
		}
		if err := o.store.InsertBtDevice(ctx, params); err != nil {
			o.log.Error("insert bt device %s: %v", deviceKey, err)
		}
	default:
		// Unknown-kind records are fingerprinted nowhere and stored
		// nowhere; they are still counted as observed by the poller.
	}
}

// handleSignature logs every emitted fingerprint and persists the
// signature row, incrementing times_seen on repeats (§4.5.3). For
// Bluetooth signatures the observed service UUIDs are annotated with
// Bluetooth SIG names via the resolver loaded at startup.
func (o *Orchestrator) handleSignature(sig fingerprint.Signature) {
	util.Linef("[FINGERPRINT]", util.ColorCyan, "%s %s type=%s hash=%s", sig.Kind, sig.MAC, sig.DeviceType, sig.Hash)
	confidence := 0.5
	identifiers := o.signatureIdentifiers(sig)
	if err := o.store.InsertSignature(context.Background(), sig.Hash, sig.DeviceType, confidence, identifiers); err != nil {
		o.log.Error("insert signature %s: %v", sig.Hash, err)
	}
}

// signatureIdentifiers builds the fingerprint_signatures.identifiers JSON
// blob. For Bluetooth it maps each observed service UUID to its resolved
// Bluetooth SIG name (when known), the one consumer of
// internal/ids.Resolver's UUID-name half (VendorForMAC is wired
// separately, into Manuf backfill).
func (o *Orchestrator) signatureIdentifiers(sig fingerprint.Signature) string {
	if sig.Kind != fingerprint.KindBluetooth || sig.BtData == nil || o.resolver == nil {
		return "{}"
	}
	uuids := sig.BtData.Capabilities.ServiceUUIDs
	if len(uuids) == 0 {
		return "{}"
	}
	names := make(map[string]string, len(uuids))
	for _, u := range uuids {
		canon, err := ids.NormalizeUUID(u)
		if err != nil {
			continue
		}
		if name := o.resolver.ServiceName(canon); name != "" {
			names[u] = name
		}
	}
	if len(names) == 0 {
		return "{}"
	}
	b, err := json.Marshal(map[string]any{"service_uuids": names})
	if err != nil {
		return "{}"
	}
	return string(b)
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }
func intPtrNonZero(i int) *int {
	if i == 0 {
		return nil
	}
	return &i
}

// Tick drives the adaptive channel-hop rate and periodic stats, called
// from Run's main loop at tickInterval, matching §5's ≈10s orchestrator
// tick.
func (o *Orchestrator) tick() {
	speed, _ := o.gps.Velocity()
	o.hop.Tick(speed)
	if err := o.store.RefreshSessionCounts(context.Background(), o.sessionID); err != nil {
		o.log.Warning("refresh session counts: %v", err)
	}
	wifi, bt, total := o.poller.Count()
	util.Linef("[STATS]", util.ColorGray, "wifi=%d bt=%d poller_total=%d hop_mode=%s hop_rate=%.2f",
		wifi, bt, total, o.hop.Mode(), o.hop.Rate())
}

// Run drives the orchestrator's main loop. duration<=0 means unbounded:
// the call blocks until Stop is invoked (via signal or otherwise).
// duration>0 bounds the run: it returns after duration elapses or an
// earlier stop. It always returns the exit code to use (§6.6).
func (o *Orchestrator) Run(ctx context.Context, duration time.Duration) int {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	var deadline <-chan time.Time
	if duration > 0 {
		timer := time.NewTimer(duration)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			o.Stop(context.Background())
			return o.exitCode()
		case <-o.quit:
			return o.exitCode()
		case <-deadline:
			o.Stop(context.Background())
			return o.exitCode()
		case <-ticker.C:
			o.tick()
		}
	}
}

func (o *Orchestrator) exitCode() int {
	if o.stopResult == nil {
		return 0
	}
	if errors.Is(o.stopResult, ErrInterfaceRestoreFailed) {
		return 3
	}
	return 0
}

// Stop performs the reverse-order shutdown (§4.6): it is safe to call
// concurrently and more than once (the exit-hook/signal-handler race
// noted in §9) — only the first call does any work.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.stopOnce.Do(func() {
		o.stopResult = o.doStop(ctx)
		close(o.quit)
	})
	return o.stopResult
}

func (o *Orchestrator) doStop(ctx context.Context) error {
	if !o.started {
		// Never started: still attempt interface restore, per the
		// exit-hook contract in §9.
		return o.restoreInterface(ctx)
	}

	if o.store != nil {
		_ = o.store.SetSessionStatus(ctx, o.sessionID, "stopping")
	}

	if o.cancel != nil {
		o.cancel()
	}

	if o.cap != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 6*time.Second)
		_ = o.cap.Stop(stopCtx)
		cancel()
	}

	o.gps.Stop()

	joined := make(chan struct{})
	go func() {
		o.tasks.Wait()
		close(joined)
	}()
	select {
	case <-joined:
	case <-time.After(5 * time.Second):
		o.log.Warning("tasks did not join within shutdown budget, abandoning")
	}

	var ifaceErr error
	if o.store != nil {
		if err := o.store.DrainBuffer(context.Background()); err != nil {
			o.log.Error("flush write buffer: %v", err)
		}
		if err := o.store.RefreshSessionCounts(context.Background(), o.sessionID); err != nil {
			o.log.Warning("refresh session counts on stop: %v", err)
		}
		if err := o.store.SetSessionStatus(context.Background(), o.sessionID, "stopped"); err != nil {
			o.log.Error("set session stopped: %v", err)
		}
		if err := o.store.Close(); err != nil {
			o.log.Error("close store: %v", err)
		}
	}

	ifaceErr = o.restoreInterface(context.Background())

	clearActive(o)
	return ifaceErr
}

func (o *Orchestrator) restoreInterface(ctx context.Context) error {
	restorer := o.restorer
	if restorer == nil {
		restorer = netiface.NewRestorer()
	}
	if err := restorer.RestoreManagedMode(ctx); err != nil {
		util.Linef("[NETIFACE]", util.ColorYellow, "interface restore failed: %v", err)
		return fmt.Errorf("%w: %v", ErrInterfaceRestoreFailed, err)
	}
	if err := netiface.RestartNetworkManager(ctx); err != nil {
		o.log.Warning("restart network manager: %v", err)
	}
	return nil
}

func setActive(o *Orchestrator) {
	activeMu.Lock()
	active = o
	activeMu.Unlock()
}

func clearActive(o *Orchestrator) {
	activeMu.Lock()
	if active == o {
		active = nil
	}
	activeMu.Unlock()
}

// StopActive invokes Stop on whichever Orchestrator is currently the
// process-scoped active instance, if any. It is the exit-hook
// counterpart to a global atexit callback (§9): main registers it to run
// on every exit path, and it is a no-op if no orchestrator ever started.
func StopActive() {
	activeMu.Lock()
	o := active
	activeMu.Unlock()
	if o == nil {
		return
	}
	o.Stop(context.Background())
}

// SignalContext returns a context canceled on SIGINT/SIGTERM, the same
// shape as the teacher's cmd/pible/main.go signalContext helper,
// generalized into a reusable package function.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
		}
		select {
		case <-ch:
		default:
		}
	}()
	return ctx, cancel
}
