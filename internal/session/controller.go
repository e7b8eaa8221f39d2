package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/crtsession/internal/domain"
	"github.com/eliteGoblin/focusd/crtsession/internal/infra"
	"github.com/eliteGoblin/focusd/crtsession/internal/usecase"
)

// ManifestLoader validates a manifest file.
// Implementation: manifest.Loader.
type ManifestLoader interface {
	Load(path string) (*domain.Manifest, error)
}

// Config holds session settings.
type Config struct {
	Watcher      WatcherConfig
	GraceWindow  time.Duration // second interrupt within this escalates to shutdown
	KeepAttempts int           // restored backup attempts kept after pruning
	Attach       bool          // attach to an already running primary
}

// Deps are the collaborators a session drives.
type Deps struct {
	Lock        domain.SessionLock
	StopFlag    domain.StopFlag
	Loader      ManifestLoader
	OpenJournal func() (domain.Journal, error)
	OpenAttempt usecase.AttemptOpener
	Prune       func(keep int) ([]int, error)
	Dispatcher  usecase.PatchDispatcher
	Launcher    domain.Launcher
	Processes   domain.ProcessManager
	Windows     domain.WindowSystem
	Latch       *InterruptLatch
	Clock       func() time.Time
}

// Result summarizes a finished session.
type Result struct {
	SessionID  string
	Manifest   *domain.Manifest
	Attempt    int
	BackupDir  string
	PrimaryPID int
	Attached   bool
	Reason     string
	Release    ReleaseReport
	Restore    domain.RestoreReport
}

// Controller orders one session: lock, load, patch, launch, watch, unwind.
type Controller struct {
	config Config
	deps   Deps
	logger *zap.Logger
}

// NewController creates a session controller.
func NewController(config Config, deps Deps, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Latch == nil {
		deps.Latch = NewInterruptLatch()
	}
	return &Controller{config: config, deps: deps, logger: logger}
}

// Run executes a full session for the manifest at manifestPath and blocks
// until teardown is complete. Cancelling ctx is treated as a terminate
// signal. Once patches are committed, windows are sent home and every
// target is restored on every return path.
func (c *Controller) Run(ctx context.Context, manifestPath, sessionID string) (res *Result, err error) {
	res = &Result{SessionID: sessionID}
	log := c.logger.With(zap.String("session", sessionID))

	token := domain.LockToken{
		PID:       c.deps.Processes.GetCurrentPID(),
		SessionID: sessionID,
		Host:      hostname(),
		Manifest:  manifestPath,
		StartedAt: c.deps.Clock(),
	}
	if err := c.deps.Lock.Acquire(token); err != nil {
		return res, err
	}
	log.Info("session lock acquired", zap.String("lock", c.deps.Lock.Path()))
	defer func() {
		if rerr := c.deps.Lock.Release(token); rerr != nil {
			log.Error("failed to release session lock", zap.Error(rerr))
			return
		}
		log.Info("session lock released")
	}()

	j := c.openJournal(log, token)
	outcome := domain.OutcomeCompleted
	defer func() {
		if ferr := j.journal.FinishSession(context.Background(), sessionID, outcome, res.Attempt); ferr != nil {
			log.Debug("failed to journal session end", zap.Error(ferr))
		}
		j.journal.Close()
	}()

	m, err := c.deps.Loader.Load(manifestPath)
	if err != nil {
		outcome = domain.OutcomeInvalidManifest
		j.event("manifest-invalid", err.Error())
		return res, err
	}
	res.Manifest = m

	running, err := c.deps.Processes.FindByNames(m.Primary.ProcessNames)
	if err != nil {
		outcome = domain.OutcomeRefused
		return res, fmt.Errorf("failed to check for a running primary: %w", err)
	}
	if len(running) > 0 && !c.config.Attach {
		outcome = domain.OutcomeRefused
		return res, fmt.Errorf("%w: %s (pid %d), use --attach",
			domain.ErrPrimaryRunning, m.Primary.Slug, running[0])
	}

	if removed, cerr := c.deps.StopFlag.Clear(); cerr != nil {
		log.Warn("failed to clear stale stop flag", zap.Error(cerr))
	} else if removed {
		log.Info("stale stop flag removed", zap.String("path", c.deps.StopFlag.Path()))
	}

	attempt, err := c.deps.OpenAttempt(sessionID)
	if err != nil {
		outcome = domain.OutcomePatchFailed
		return res, fmt.Errorf("failed to open backup attempt: %w", err)
	}
	res.Attempt = attempt.Number()
	res.BackupDir = attempt.Dir()

	engine := usecase.NewPatchEngine(attempt, c.deps.Dispatcher, log)
	records, err := engine.ApplyAll(m.Patches)
	if err != nil {
		outcome = domain.OutcomePatchFailed
		j.event("patch-failed", err.Error())
		var perr *domain.PatchApplyError
		if errors.As(err, &perr) {
			res.Restore = perr.Restore
			if !perr.Restore.OK() {
				outcome = domain.OutcomeRestoreIncomplete
				j.restoreFailures(perr.Restore)
			} else if merr := attempt.MarkRestored(); merr != nil {
				log.Warn("failed to mark attempt restored", zap.Error(merr))
			}
		}
		return res, err
	}
	j.event("patches-applied", fmt.Sprintf("%d spec(s), %d file(s) in attempt %d",
		len(m.Patches), len(records), attempt.Number()))

	// From here on, teardown runs on every path out of Run
	var watcher *WindowWatcher
	defer func() {
		report := c.teardown(log, j, watcher, engine, attempt, records, res)
		if rerr := domain.NewRestoreError(report); rerr != nil {
			outcome = domain.OutcomeRestoreIncomplete
			err = errors.Join(err, rerr)
		}
	}()

	lc := NewLifecycle(c.config.GraceWindow)

	// A signal that arrived while patching ends the session before the
	// primary is launched
	if ctx.Err() != nil {
		c.deps.Latch.Post(EventTerminate)
	}
	for _, sig := range c.deps.Latch.Drain() {
		c.handle(lc, nil, j, log, sig.Event, sig.At)
	}
	if lc.Phase() == domain.PhaseShuttingDown {
		log.Info("session ended before launch", zap.String("reason", lc.Reason()))
		res.Reason = lc.Reason()
		lc.Terminate()
		return res, nil
	}

	primary, err := c.startPrimary(ctx, m.Primary, running, res)
	if err != nil {
		outcome = domain.OutcomeLaunchFailed
		j.event("launch-failed", err.Error())
		return res, err
	}

	watcher = NewWindowWatcher(c.config.Watcher, m.Watch, c.deps.Windows, c.deps.Processes, c.deps.Clock(), log)
	watcher.OnEvent(j.event)

	// Anything that arrived while launching counts as an interrupt during
	// start
	for _, sig := range c.deps.Latch.Drain() {
		c.handle(lc, watcher, j, log, sig.Event, sig.At)
	}
	lc.Handle(EventStarted, c.deps.Clock())
	log.Info("session started",
		zap.String("primary", m.Primary.Slug),
		zap.Int("pid", primary.PID()),
		zap.Int("watch_profiles", len(m.Watch)))

	monitor := newPrimaryMonitor(primary, m.Primary.ProcessNames, c.deps.Processes, log)
	c.loop(ctx, lc, watcher, monitor, j, log)

	res.Reason = lc.Reason()
	lc.Terminate()
	return res, nil
}

// loop polls until the lifecycle reaches shutting-down. Queued signals are
// consumed only at the top of each iteration; the sleep is the sole
// suspension point.
func (c *Controller) loop(ctx context.Context, lc *Lifecycle, watcher *WindowWatcher, primary *primaryMonitor, j *sessionJournal, log *zap.Logger) {
	for {
		for _, sig := range c.deps.Latch.Drain() {
			c.handle(lc, watcher, j, log, sig.Event, sig.At)
		}
		if lc.Phase() == domain.PhaseShuttingDown {
			return
		}

		if !primary.Alive() {
			c.handle(lc, watcher, j, log, EventPrimaryExited, c.deps.Clock())
			return
		}

		watcher.Tick(c.deps.Clock())

		timer := time.NewTimer(watcher.NextWake(c.deps.Clock()))
		select {
		case <-ctx.Done():
			c.deps.Latch.Post(EventTerminate)
		case <-c.deps.Latch.Wake():
		case <-primary.Exited():
		case <-timer.C:
		}
		timer.Stop()
	}
}

func (c *Controller) handle(lc *Lifecycle, watcher *WindowWatcher, j *sessionJournal, log *zap.Logger, ev Event, at time.Time) {
	from := lc.Phase()
	switch lc.Handle(ev, at) {
	case ActionSoftStop:
		moved := 0
		if watcher != nil {
			moved = watcher.PauseAll()
		}
		log.Info("soft stop: windows released, patches kept",
			zap.Int("moved", moved),
			zap.Duration("grace", c.config.GraceWindow))
		j.event("soft-stop", fmt.Sprintf("%d window(s) moved to handoff", moved))
		if moved > 0 {
			c.writeStopFlag(log)
		}
	case ActionShutdown:
		log.Info("shutting down",
			zap.String("reason", lc.Reason()),
			zap.String("from", string(from)))
		j.event("shutdown", lc.Reason())
	default:
		log.Debug("event ignored",
			zap.Stringer("event", ev),
			zap.String("phase", string(from)))
	}
}

// teardown sends windows home, raises the stop flag, stops the watcher and
// restores every patched file, in that order. It never gives up early.
func (c *Controller) teardown(
	log *zap.Logger,
	j *sessionJournal,
	watcher *WindowWatcher,
	engine *usecase.PatchEngine,
	attempt usecase.Attempt,
	records []domain.BackupRecord,
	res *Result,
) domain.RestoreReport {
	if watcher != nil {
		res.Release = watcher.ReleaseAll()
		for _, slug := range res.Release.Missing {
			j.event("window-missing", slug+": no window to send home")
		}
		for slug, err := range res.Release.Failed {
			j.event("window-move-failed", fmt.Sprintf("%s: %v", slug, err))
		}
	}

	c.writeStopFlag(log)

	if watcher != nil {
		watcher.Stop()
	}

	report := engine.Restore(records)
	res.Restore = report
	if !report.OK() {
		j.restoreFailures(report)
		log.Error("restore incomplete, backup kept",
			zap.String("dir", attempt.Dir()),
			zap.Int("failures", len(report.Failures)))
		return report
	}
	j.event("restored", fmt.Sprintf("%d file(s)", len(report.Restored)))

	if err := attempt.MarkRestored(); err != nil {
		log.Warn("failed to mark attempt restored", zap.Error(err))
	}
	if c.deps.Prune != nil {
		if pruned, err := c.deps.Prune(c.config.KeepAttempts); err != nil {
			log.Warn("failed to prune old backups", zap.Error(err))
		} else if len(pruned) > 0 {
			log.Info("old backups pruned", zap.Ints("attempts", pruned))
		}
	}
	return report
}

func (c *Controller) startPrimary(ctx context.Context, p domain.PrimaryProfile, running []int, res *Result) (domain.PrimaryProcess, error) {
	if len(running) > 0 {
		c.logger.Info("attaching to running primary",
			zap.String("primary", p.Slug),
			zap.Int("pid", running[0]))
		res.PrimaryPID = running[0]
		res.Attached = true
		return infra.Attach(running[0]), nil
	}

	proc, err := c.deps.Launcher.Launch(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("failed to launch primary %s: %w", p.Slug, err)
	}
	res.PrimaryPID = proc.PID()
	return proc, nil
}

func (c *Controller) writeStopFlag(log *zap.Logger) {
	if err := c.deps.StopFlag.Write(); err != nil {
		log.Warn("failed to write stop flag",
			zap.String("path", c.deps.StopFlag.Path()),
			zap.Error(err))
	}
}

func (c *Controller) openJournal(log *zap.Logger, token domain.LockToken) *sessionJournal {
	var journal domain.Journal = infra.NopJournal{}
	if c.deps.OpenJournal != nil {
		opened, err := c.deps.OpenJournal()
		if err != nil {
			log.Warn("journal unavailable, continuing without history", zap.Error(err))
		} else {
			journal = opened
		}
	}

	j := &sessionJournal{journal: journal, id: token.SessionID, logger: log}
	rec := domain.SessionRecord{
		ID:        token.SessionID,
		Manifest:  token.Manifest,
		PID:       token.PID,
		StartedAt: token.StartedAt,
	}
	if err := journal.BeginSession(context.Background(), rec); err != nil {
		log.Debug("failed to journal session start", zap.Error(err))
	}
	return j
}

// sessionJournal stamps events with the session ID. Journal failures never
// affect the session.
type sessionJournal struct {
	journal domain.Journal
	id      string
	logger  *zap.Logger
}

func (j *sessionJournal) event(kind, detail string) {
	if err := j.journal.Event(context.Background(), j.id, kind, detail); err != nil {
		j.logger.Debug("failed to journal event",
			zap.String("kind", kind),
			zap.Error(err))
	}
}

func (j *sessionJournal) restoreFailures(report domain.RestoreReport) {
	for _, f := range report.Failures {
		j.event("restore-failed", fmt.Sprintf("%s: %s (manual: %s)", f.Original, f.Reason, f.ManualHint))
	}
}

// primaryMonitor decides whether the primary is still alive. A spawned
// child is watched through its exit channel; once it is gone, or when the
// primary was attached, the primary's process names are polled so a
// launcher that re-execs is followed.
type primaryMonitor struct {
	proc      domain.PrimaryProcess
	names     []string
	procs     domain.ProcessManager
	pid       int
	childGone bool
	logger    *zap.Logger
}

func newPrimaryMonitor(proc domain.PrimaryProcess, names []string, procs domain.ProcessManager, logger *zap.Logger) *primaryMonitor {
	return &primaryMonitor{
		proc:   proc,
		names:  names,
		procs:  procs,
		pid:    proc.PID(),
		logger: logger,
	}
}

// Exited fires when the spawned child exits. Nil after that, and for
// attached primaries.
func (m *primaryMonitor) Exited() <-chan struct{} {
	if m.childGone {
		return nil
	}
	return m.proc.Exited()
}

// Alive reports whether the primary is running.
func (m *primaryMonitor) Alive() bool {
	if !m.childGone {
		if ch := m.proc.Exited(); ch != nil {
			select {
			case <-ch:
				m.childGone = true
			default:
				return true
			}
		} else if m.procs.IsRunning(m.pid) {
			return true
		}
	}

	pids, err := m.procs.FindByNames(m.names)
	if err != nil {
		m.logger.Warn("cannot check primary liveness", zap.Error(err))
		return true
	}
	if len(pids) == 0 {
		m.logger.Info("primary process gone", zap.Int("last_pid", m.pid))
		return false
	}
	if pids[0] != m.pid {
		m.logger.Info("primary continues under a new process",
			zap.Int("old_pid", m.pid),
			zap.Int("pid", pids[0]))
		m.pid = pids[0]
	}
	m.childGone = true
	return true
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
