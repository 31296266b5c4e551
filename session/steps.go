package session

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"beamsh"
	"beamsh/archive"
	"beamsh/camcfg"
	"beamsh/config"
	"beamsh/daq"
	"beamsh/device"
	"beamsh/devdb"
	"beamsh/elog"
	"beamsh/engine"
	"beamsh/health"
	"beamsh/internal/logging"
	"beamsh/objconf"
	"beamsh/presets"
	"beamsh/sim"
	"beamsh/userload"
)

// Facility service defaults, overridable through Deps.
const (
	defaultElogURL    = "https://pswww.slac.stanford.edu"
	defaultArchiveURL = "https://pswww.slac.stanford.edu/archiver"
)

// steps returns the load sequence in its fixed order.
func (st *state) steps() []step {
	needHutch := func(st *state) (string, bool) {
		if st.cfg.Hutch == "" {
			return "no hutch configured", true
		}
		return "", false
	}
	needExperiment := func(st *state) (string, bool) {
		if st.experiment == "" {
			return "no experiment known", true
		}
		return "", false
	}

	return []step{
		{name: "debug tools", run: stepDebugTools},
		{name: "options", run: stepOptions},
		{name: "logs", run: stepLogs},
		{name: "clock check", run: stepClockCheck},
		{name: "run engine", run: stepRunEngine},
		{name: "daq", run: stepDAQ, skip: func(st *state) (string, bool) {
			if st.cfg.DAQType == config.DAQTypeNone {
				return "daq_type is nodaq", true
			}
			return "", false
		}},
		{name: "plans", run: stepPlans},
		{name: "scan pvs", run: stepScanPVs, skip: needHutch},
		{name: "experiment resolution", run: stepResolveExperiment},
		{name: "elog", run: stepElog, skip: needHutch},
		{name: "facility signals", run: stepFacilitySignals},
		{name: "database", run: stepDatabase, skip: func(st *state) (string, bool) {
			if st.cfg.DB == "" {
				return "no device database configured", true
			}
			return "", false
		}},
		{name: "archiver", run: stepArchiver},
		{name: "camviewer config", run: stepCameras, skip: func(st *state) (string, bool) {
			if reason, skip := needHutch(st); skip {
				return reason, true
			}
			if st.cfg.CamCfg == "" {
				return "no camera config", true
			}
			return "", false
		}},
		{name: "simulated hardware", run: stepSimHardware},
		{name: "questionnaire", run: stepQuestionnaire, skip: needExperiment},
		{name: "user modules", run: stepUserModules, fatal: true, skip: func(st *state) (string, bool) {
			if len(st.cfg.Load) == 0 {
				return "no modules configured", true
			}
			return "", false
		}},
		{name: "experiment file", run: stepExperimentFile, fatal: true, skip: needExperiment},
		{name: "default groups", run: stepDefaultGroups},
		{name: "position presets", run: stepPresets, skip: func(st *state) (string, bool) {
			if st.cfg.Dir == "" {
				return "no deployment directory", true
			}
			return "", false
		}},
		{name: "object config", run: stepObjectConfig, skip: func(st *state) (string, bool) {
			if st.cfg.ObjConfig == "" {
				return "no object config", true
			}
			return "", false
		}},
		{name: "manifest", run: stepManifest, skip: func(st *state) (string, bool) {
			if st.cfg.Dir == "" {
				return "no deployment directory", true
			}
			return "", false
		}},
	}
}

// DebugTools are the interactive debugging helpers exposed as the
// debug namespace.
type DebugTools struct {
	pipeline pipelineControls
}

// pipelineControls is the slice of the logging pipeline the debug and
// logs namespaces use; nil-safe when logging was not configured.
type pipelineControls interface {
	SetDebugMode(bool)
	DebugMode() bool
	ConsoleLevelName() string
	SessionLogFile() string
	LogObjects(level slog.Level, names ...string)
	LogObjectsOff()
}

// DebugMode toggles DEBUG output on the console.
func (d *DebugTools) DebugMode(on bool) {
	if d.pipeline != nil {
		d.pipeline.SetDebugMode(on)
	}
}

// Status describes the current console logging state.
func (d *DebugTools) Status() string {
	if d.pipeline == nil {
		return "logging pipeline not configured"
	}
	return fmt.Sprintf("console level %s, session log %s",
		d.pipeline.ConsoleLevelName(), d.pipeline.SessionLogFile())
}

func stepDebugTools(_ context.Context, st *state) error {
	tools := &DebugTools{}
	if st.deps.Pipeline != nil {
		tools.pipeline = st.deps.Pipeline
	}
	st.add("debug", tools, "session debugging helpers")
	return nil
}

// SessionOptions are operator-adjustable toggles stored in the
// namespace as options.
type SessionOptions struct {
	// Engineering enables expert-only device surfaces.
	Engineering bool
	// AutoElog posts run summaries to the logbook automatically.
	AutoElog bool
}

func stepOptions(_ context.Context, st *state) error {
	st.add("options", &SessionOptions{AutoElog: true}, "session behavior toggles")
	return nil
}

// LogControls is the logs namespace: focus control over the object
// filters plus level toggles.
type LogControls struct {
	pipeline pipelineControls
}

// Objects focuses the session's log output on the named sources at
// DEBUG level.
func (l *LogControls) Objects(names ...string) {
	if l.pipeline != nil {
		l.pipeline.LogObjects(slog.LevelDebug, names...)
	}
}

// ObjectsAt focuses on the named sources at the given level name.
func (l *LogControls) ObjectsAt(level string, names ...string) error {
	if l.pipeline == nil {
		return nil
	}
	lvl, err := logging.ParseLevel(level)
	if err != nil {
		return err
	}
	l.pipeline.LogObjects(lvl, names...)
	return nil
}

// Off returns log filtering to its defaults.
func (l *LogControls) Off() {
	if l.pipeline != nil {
		l.pipeline.LogObjectsOff()
	}
}

func stepLogs(_ context.Context, st *state) error {
	controls := &LogControls{}
	if st.deps.Pipeline != nil {
		controls.pipeline = st.deps.Pipeline
	}
	st.add("logs", controls, "log focus and level controls")
	return nil
}

func stepClockCheck(_ context.Context, st *state) error {
	check := &health.ClockCheck{Server: st.deps.NTPServer, QueryFunc: st.deps.NTPQuery}
	status := check.Check()
	switch {
	case status.Error != "":
		st.log.Warn("Could not check the console clock.", "err", status.Error)
	case !status.Healthy:
		st.log.Warn("Console clock drifts from facility time.",
			"offset", status.Offset.Round(time.Millisecond))
	}
	st.add("clock", check, "console clock drift probe")
	return nil
}

func stepRunEngine(_ context.Context, st *state) error {
	st.parts.re = engine.New()
	st.add("RE", st.parts.re, "the run engine")
	return nil
}

func stepDAQ(ctx context.Context, st *state) error {
	host := st.hostname()
	platform, isDefault := st.cfg.DAQPlatform.Select(host)
	st.parts.matchedHost = !isDefault

	dialer := st.deps.DAQDialer
	if dialer == nil {
		if st.opts.Sim || st.cfg.DAQType == config.DAQTypeSim {
			dialer = &daq.SimDialer{}
		} else {
			addr := st.cfg.DAQHost
			if addr == "" {
				addr = host
			}
			dialer = daq.TCPDialer{Addr: fmt.Sprintf("%s:%d", addr, 10150+platform)}
		}
	}

	client := daq.New(dialer, platform)
	if err := client.Connect(ctx); err != nil {
		return err
	}
	if st.parts.re != nil {
		client.AttachEngine(st.parts.re)
	}
	st.parts.daq = client
	st.add("daq", client, fmt.Sprintf("data acquisition, platform %d", platform))
	return nil
}

func stepPlans(_ context.Context, st *state) error {
	st.add("bp", engine.Plans{}, "full measurement plans")
	st.add("bps", engine.Stubs{}, "single-step plan primitives")
	st.add("bpp", engine.Preprocessors{}, "plan wrappers")

	if st.parts.re == nil {
		return errors.New("run engine not loaded")
	}
	var recorder engine.Recorder
	if st.parts.daq != nil {
		recorder = st.parts.daq
	}
	st.add("re", engine.NewWrappers(st.parts.re, recorder), "quick-run plan registry")
	return nil
}

func stepScanPVs(_ context.Context, st *state) error {
	hutch := strings.ToUpper(st.cfg.Hutch)
	ns := beamsh.NewNamespace()
	for _, suffix := range []string{"ISSCAN", "SCANVAR00", "SCANVAR01", "SCANVAR02"} {
		name := strings.ToLower(suffix)
		sig := device.NewSignal(name, fmt.Sprintf("%s:SCAN:%s", hutch, suffix))
		ns.Set(name, sig)
		ns.SetDoc(name, sig.Describe())
	}
	st.add("scan_pvs", ns, "scan status variables")
	return nil
}

func stepElog(_ context.Context, st *state) error {
	base := st.deps.ElogURL
	if base == "" {
		base = defaultElogURL
	}
	station := elog.SelectStation(st.parts.matchedHost)
	client, err := elog.New(base, st.cfg.Hutch, st.experiment, station)
	if err != nil {
		return err
	}
	st.add("elog", client, fmt.Sprintf("logbook for %s, station %d", st.cfg.Hutch, station))
	return nil
}

func stepFacilitySignals(_ context.Context, st *state) error {
	ns := beamsh.NewNamespace()
	for name, prefix := range map[string]string{
		"beam_current":  "SIOC:SYS0:ML00:AO551",
		"beam_energy":   "SIOC:SYS0:ML00:AO627",
		"beam_rate":     "EVNT:SYS0:1:LCLSBEAMRATE",
		"ring_current":  "SIOC:SYS0:ML00:AO513",
		"photon_energy": "SIOC:SYS0:ML00:AO541",
	} {
		sig := device.NewSignal(name, prefix)
		ns.Set(name, sig)
		ns.SetDoc(name, sig.Describe())
	}
	st.add("facility", ns, "shared accelerator signals")
	return nil
}

func stepDatabase(_ context.Context, st *state) error {
	store, err := devdb.Open(st.cfg.DBPath())
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.Search(st.cfg.Hutch)
	if err != nil {
		return err
	}
	devices, err := devdb.LoadDevices(store, devdb.Builtin(), st.cfg.Hutch, devdb.Options{
		Exclude: st.cfg.ExcludeDevices,
		Level:   st.cfg.LoadLevel,
		Log:     st.log,
	})
	if err != nil {
		return err
	}

	for _, dev := range devices {
		st.add(dev.Name(), dev, dev.Describe())
	}
	if len(devices) > 0 {
		st.add("beampath", devdb.NewBeampath(st.cfg.Hutch, devices, records),
			"loaded devices in beam order")
	}
	return nil
}

func stepArchiver(_ context.Context, st *state) error {
	base := st.deps.ArchiveURL
	if base == "" {
		base = defaultArchiveURL
	}
	client, err := archive.New(base)
	if err != nil {
		return err
	}
	st.add("archiver", client, "historical PV data")
	return nil
}

func stepCameras(ctx context.Context, st *state) error {
	specs, err := camcfg.Read(st.cfg.CamCfgPath(), st.log)
	if err != nil {
		return err
	}
	cameras := camcfg.Build(ctx, specs, nil, st.log)

	ns := beamsh.NewNamespace()
	for _, name := range sortedKeys(cameras) {
		ns.Set(name, cameras[name])
		ns.SetDoc(name, cameras[name].Describe())
	}
	st.add("cameras", ns, fmt.Sprintf("%d beamline cameras", ns.Len()))
	return nil
}

func sortedKeys(m map[string]beamsh.Device) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func stepSimHardware(_ context.Context, st *state) error {
	st.add("sim", sim.Hardware(), "simulated hardware")
	return nil
}

func stepResolveExperiment(_ context.Context, st *state) error {
	if st.opts.Experiment != "" {
		st.experiment = st.opts.Experiment
		st.log.Info("Using the experiment from the command line.", "experiment", st.experiment)
		return nil
	}
	if st.cfg.Experiment != "" {
		st.experiment = st.cfg.Experiment
		st.log.Info("Using the experiment from the configuration.", "experiment", st.experiment)
		return nil
	}
	// Best effort: the deployment tracks the current experiment in a
	// plain file updated by facility tooling.
	data, err := os.ReadFile(filepath.Join(st.cfg.Dir, "experiments", "current"))
	if err != nil {
		st.log.Info("No current experiment on file.")
		return nil
	}
	st.experiment = strings.TrimSpace(string(data))
	st.log.Info("Found the current experiment.", "experiment", st.experiment)
	return nil
}

func stepQuestionnaire(_ context.Context, st *state) error {
	path := filepath.Join(st.cfg.Dir, "experiments", st.experiment+".yml")
	records, err := readQuestionnaire(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			st.log.Info("No questionnaire data for the experiment.", "experiment", st.experiment)
			return nil
		}
		return err
	}

	reg := devdb.Builtin()
	ns := beamsh.NewNamespace()
	for _, rec := range records {
		dev, err := buildQuestionnaireDevice(reg, rec)
		if err != nil {
			st.log.Error("Could not create questionnaire device.", "device", rec.Name, "err", err)
			continue
		}
		ns.Set(dev.Name(), dev)
		ns.SetDoc(dev.Name(), dev.Describe())
	}
	st.add("xq", ns, fmt.Sprintf("questionnaire objects for %s", st.experiment))
	return nil
}

func stepUserModules(_ context.Context, st *state) error {
	return userload.LoadModules(st.cfg.Dir, st.cfg.Load, st.ns, st.deps.Prompt, st.log)
}

func stepExperimentFile(_ context.Context, st *state) error {
	path := userload.ExperimentFile(st.cfg.Dir, st.experiment)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		st.log.Info("No experiment file, skipping.", "experiment", st.experiment)
		return nil
	}

	loaded, err := userload.LoadFile(path, st.ns)
	if err != nil {
		st.log.Error("Could not load the experiment file.", "experiment", st.experiment, "err", err)
		if st.deps.Prompt != nil && !st.deps.Prompt.Confirm(
			fmt.Sprintf("Experiment %s failed to load. Continue anyway?", st.experiment)) {
			return fmt.Errorf("experiment %s: %w", st.experiment, userload.ErrDeclined)
		}
		return nil
	}

	loaded.Walk(func(name string, obj any) {
		st.add(name, obj, loaded.Doc(name))
	})
	st.add("user", loaded, fmt.Sprintf("objects from the %s experiment file", st.experiment))
	st.add("x", loaded, "alias for user")
	return nil
}

func stepDefaultGroups(_ context.Context, st *state) error {
	groups := []struct {
		name  string
		alias string
		cat   beamsh.Category
	}{
		{"motors", "m", beamsh.CategoryMotor},
		{"slits", "s", beamsh.CategorySlit},
		{"detectors", "d", beamsh.CategoryDetector},
	}
	for _, g := range groups {
		ns := st.ns.ByCategory(g.cat)
		if ns.Len() == 0 {
			continue
		}
		st.add(g.name, ns, fmt.Sprintf("all %s", g.name))
		st.add(g.alias, ns, "alias for "+g.name)
	}

	all := beamsh.NewNamespace()
	st.ns.Walk(func(name string, obj any) {
		if dev, ok := obj.(beamsh.Device); ok {
			all.Set(name, dev)
			all.SetDoc(name, dev.Describe())
		}
	})
	if all.Len() > 0 {
		st.add("all_objects", all, "every loaded device")
		st.add("a", all, "alias for all_objects")
	}
	return nil
}

func stepPresets(_ context.Context, st *state) error {
	paths, err := presets.Setup(st.cfg.Dir, st.experiment)
	if err != nil {
		return err
	}
	st.add("presets", paths, "position preset directories")
	return nil
}

func stepObjectConfig(_ context.Context, st *state) error {
	settings, err := objconf.Read(st.cfg.ObjConfigPath())
	if err != nil {
		return err
	}
	mute := func(name string) {
		if st.deps.Pipeline == nil {
			return
		}
		for _, handler := range []string{logging.HandlerConsole, logging.HandlerDebug} {
			if f := st.deps.Pipeline.Filter(handler); f != nil {
				f.Blacklist(name)
			}
		}
	}
	objconf.Apply(st.ns, settings, mute, st.log)
	return nil
}

func stepManifest(_ context.Context, st *state) error {
	if err := writeManifest(st); err != nil {
		st.log.Warn("Could not write the session manifest.", "err", err)
	}
	return nil
}
