//go:build integration

package integration

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/crtsession/internal/domain"
	"github.com/eliteGoblin/focusd/crtsession/internal/infra"
	"github.com/eliteGoblin/focusd/crtsession/internal/manifest"
	"github.com/eliteGoblin/focusd/crtsession/internal/patch"
	"github.com/eliteGoblin/focusd/crtsession/internal/session"
	"github.com/eliteGoblin/focusd/crtsession/internal/usecase"
	"github.com/eliteGoblin/focusd/crtsession/test/fixtures"
)

var (
	handoff  = domain.Rect{X: 100, Y: 100, Width: 1280, Height: 720}
	openRect = domain.Rect{X: 300, Y: 200, Width: 800, Height: 600}
	crtRect  = domain.Rect{X: -1211, Y: 43, Width: 1057, Height: 835}
)

type runOutcome struct {
	res *session.Result
	err error
}

// harness wires a controller to real files, lock, vault and journal, with
// fake windows and processes.
type harness struct {
	data     string
	fe       *fixtures.FakeFrontEnd
	original map[string]string
	windows  *fixtures.FakeWindows
	procs    *fixtures.FakeProcesses
	lock     *infra.FileLock
	flag     *infra.FlagFile
	vault    *infra.BackupVault
}

func newHarness() *harness {
	root, err := os.MkdirTemp("", "crtsession-integration-*")
	Expect(err).NotTo(HaveOccurred())
	DeferCleanup(os.RemoveAll, root)

	data := filepath.Join(root, "data")
	fe := fixtures.NewFakeFrontEnd(filepath.Join(root, "frontend"))
	Expect(fe.Create()).To(Succeed())

	h := &harness{
		data:    data,
		fe:      fe,
		windows: fixtures.NewFakeWindows(),
		procs:   fixtures.NewFakeProcesses(os.Getpid()),
		lock:    infra.NewFileLock(filepath.Join(data, ".session.lock")),
		flag:    infra.NewFlagFile(filepath.Join(data, "wrapper_stop_enforce.flag")),
		vault:   infra.NewBackupVault(filepath.Join(data, "backups"), zap.NewNop()),
	}
	h.original = h.snapshot()
	return h
}

func (h *harness) snapshot() map[string]string {
	snap, err := h.fe.Snapshot()
	Expect(err).NotTo(HaveOccurred())
	return snap
}

func (h *harness) read(rel string) string {
	data, err := os.ReadFile(h.fe.Path(rel))
	Expect(err).NotTo(HaveOccurred())
	return string(data)
}

func (h *harness) controller(latch *session.InterruptLatch, launcher domain.Launcher) *session.Controller {
	registry := patch.NewRegistry()
	cfg := session.Config{
		Watcher: session.WatcherConfig{
			Handoff:        handoff,
			PollInterval:   20 * time.Millisecond,
			AcquireTimeout: 5 * time.Second,
			Tolerance:      1,
		},
		GraceWindow:  2 * time.Second,
		KeepAttempts: 10,
	}
	return session.NewController(cfg, session.Deps{
		Lock:     h.lock,
		StopFlag: h.flag,
		Loader:   manifest.NewLoader(registry, zap.NewNop()),
		OpenJournal: func() (domain.Journal, error) {
			j, err := infra.OpenJournal(filepath.Join(h.data, "journal.db"))
			if err != nil {
				return nil, err
			}
			return j, nil
		},
		OpenAttempt: func(sessionID string) (usecase.Attempt, error) {
			return h.vault.NewAttempt(sessionID)
		},
		Prune:      h.vault.Prune,
		Dispatcher: registry,
		Launcher:   launcher,
		Processes:  h.procs,
		Windows:    h.windows,
		Latch:      latch,
	}, zap.NewNop())
}

func (h *harness) start(c *session.Controller, manifestPath, sessionID string) <-chan runOutcome {
	done := make(chan runOutcome, 1)
	go func() {
		defer GinkgoRecover()
		res, err := c.Run(context.Background(), manifestPath, sessionID)
		done <- runOutcome{res: res, err: err}
	}()
	return done
}

// splitPatches splits a patches section into its top-level list items.
func splitPatches(section string) []string {
	parts := strings.Split(strings.TrimRight(section, "\n"), "\n  - ")
	out := make([]string, 0, len(parts))
	for _, p := range parts[1:] {
		out = append(out, "\n  - "+p)
	}
	return out
}

func joinPatches(items []string) string {
	return strings.Join(items, "") + "\n"
}

// writeScenario writes the single-patch, single-window manifest.
func (h *harness) writeScenario() string {
	files := map[string]string{
		"profiles/target.yaml": "process_name: target.exe\nx: -1211\ny: 43\nw: 1057\nh: 835\npoll_slow: 0.02\n",
		"scenario.yaml": `schema_version: 1
primary: {profile: profiles/bigbox.json}
watch:
  - profile: profiles/target.yaml
patches:
  - type: keyvalue
    path: LaunchBox/Emulators/Game/game.cfg
    set_values: {fullscreen: "false"}
`,
	}
	for rel, content := range files {
		Expect(os.WriteFile(h.fe.Path(rel), []byte(content), 0644)).To(Succeed())
	}
	h.original = h.snapshot()
	return h.fe.Path("scenario.yaml")
}

var _ = Describe("Session", func() {
	var (
		h        *harness
		latch    *session.InterruptLatch
		launcher *fixtures.FakeLauncher
	)

	BeforeEach(func() {
		h = newHarness()
		latch = session.NewInterruptLatch()
		launcher = &fixtures.FakeLauncher{Procs: h.procs, PID: 5000}
	})

	Describe("single patch, single window", func() {
		It("patches, pins, soft stops, then restores on the second interrupt", func() {
			path := h.writeScenario()
			done := h.start(h.controller(latch, launcher), path, "scenario")

			Eventually(launcher.Launches).Should(Equal(1))
			Expect(h.read("LaunchBox/Emulators/Game/game.cfg")).To(Equal("fullscreen=false\n"))

			h.procs.Start(5100, "target.exe")
			h.windows.Open(1, 5100, "TargetClass", "Target", openRect)
			Eventually(func() domain.Rect { return h.windows.RectOf(1) }).
				WithTimeout(time.Second).
				Should(Equal(crtRect))

			latch.Post(session.EventInterrupt)
			Eventually(func() domain.Rect { return h.windows.RectOf(1) }).Should(Equal(handoff))
			Expect(h.read("LaunchBox/Emulators/Game/game.cfg")).To(Equal("fullscreen=false\n"))
			Expect(h.flag.Exists()).To(BeTrue())

			latch.Post(session.EventInterrupt)
			var out runOutcome
			Eventually(done).WithTimeout(3 * time.Second).Should(Receive(&out))
			Expect(out.err).NotTo(HaveOccurred())
			Expect(out.res.Reason).To(Equal("second interrupt"))

			Expect(h.read("LaunchBox/Emulators/Game/game.cfg")).To(Equal("fullscreen=true\n"))
			Expect(h.snapshot()).To(Equal(h.original))

			holder, err := h.lock.Holder()
			Expect(err).NotTo(HaveOccurred())
			Expect(holder).To(BeNil())

			journal, err := infra.OpenJournal(filepath.Join(h.data, "journal.db"))
			Expect(err).NotTo(HaveOccurred())
			defer journal.Close()
			recent, err := journal.Recent(context.Background(), 5)
			Expect(err).NotTo(HaveOccurred())
			Expect(recent).To(HaveLen(1))
			Expect(recent[0].Outcome).To(Equal(domain.OutcomeCompleted))
		})
	})

	Describe("the full front-end manifest", func() {
		It("leaves every target byte-identical after a session", func() {
			done := h.start(h.controller(latch, launcher), h.fe.Path("session.yaml"), "full")

			Eventually(launcher.Launches).Should(Equal(1))
			Expect(h.read("LaunchBox/Data/Emulators.xml")).To(ContainSubstring("dolphin_crt.bat"))
			Expect(h.read("LaunchBox/Data/Emulators.xml")).NotTo(ContainSubstring("Dolphin.Display.Fullscreen"))
			Expect(h.read("LaunchBox/Emulators/RetroArch/retroarch.cfg")).To(ContainSubstring(`video_fullscreen = "false"`))

			launcher.Exit()
			var out runOutcome
			Eventually(done).WithTimeout(3 * time.Second).Should(Receive(&out))
			Expect(out.err).NotTo(HaveOccurred())
			Expect(out.res.Reason).To(Equal("primary exited"))
			Expect(out.res.Restore.Restored).To(HaveLen(len(h.fe.Targets())))
			Expect(h.snapshot()).To(Equal(h.original))
		})
	})

	Describe("two concurrent session starts", func() {
		It("fails the second with LockHeldError and no writes", func() {
			first := h.start(h.controller(latch, launcher), h.fe.Path("session.yaml"), "first")
			Eventually(launcher.Launches).Should(Equal(1))

			patched := h.snapshot()
			attemptsBefore, err := h.vault.Attempts()
			Expect(err).NotTo(HaveOccurred())

			secondLauncher := &fixtures.FakeLauncher{Procs: h.procs, PID: 6000}
			second := h.controller(session.NewInterruptLatch(), secondLauncher)
			_, err = second.Run(context.Background(), h.fe.Path("session.yaml"), "second")

			var held *domain.LockHeldError
			Expect(errors.As(err, &held)).To(BeTrue())
			Expect(held.Holder.SessionID).To(Equal("first"))
			Expect(secondLauncher.Launches()).To(BeZero())
			Expect(h.snapshot()).To(Equal(patched))

			attemptsAfter, err := h.vault.Attempts()
			Expect(err).NotTo(HaveOccurred())
			Expect(attemptsAfter).To(Equal(attemptsBefore))

			latch.Post(session.EventTerminate)
			Eventually(first).WithTimeout(3 * time.Second).Should(Receive())
			Expect(h.snapshot()).To(Equal(h.original))
		})
	})

	Describe("rollback law", func() {
		failing := `
  - type: xml_attributes
    path: LaunchBox/Data/Emulators.xml
    element: Emulator
    key_field: Title
    key: NoSuchEmulator
    set: {ApplicationPath: x.bat}
`
		for k := 0; k <= 4; k++ {
			k := k
			It(fmt.Sprintf("reverts everything when spec %d fails", k), func() {
				specs := splitPatches(h.fe.DefaultPatches())
				withFailure := append(append(append([]string{}, specs[:k]...), splitPatches(failing)...), specs[k:]...)
				path, err := h.fe.WriteManifest("rollback.yaml", joinPatches(withFailure))
				Expect(err).NotTo(HaveOccurred())
				h.original = h.snapshot()

				_, err = h.controller(latch, launcher).Run(context.Background(), path, "rollback")

				var perr *domain.PatchApplyError
				Expect(errors.As(err, &perr)).To(BeTrue())
				Expect(perr.Index).To(Equal(k))
				Expect(perr.Restore.OK()).To(BeTrue())
				Expect(launcher.Launches()).To(BeZero())
				Expect(h.snapshot()).To(Equal(h.original))
			})
		}
	})

	Describe("validation dry run", func() {
		It("leaves every target byte-identical", func() {
			registry := patch.NewRegistry()
			m, err := manifest.NewLoader(registry, zap.NewNop()).Load(h.fe.Path("session.yaml"))
			Expect(err).NotTo(HaveOccurred())

			validator := usecase.NewValidator(func(sessionID string) (usecase.Attempt, error) {
				return h.vault.NewAttempt(sessionID)
			}, registry, infra.FileSHA256, zap.NewNop())

			report, err := validator.DryRun(m, "validate", false)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.OK()).To(BeTrue())
			Expect(report.Targets).To(HaveLen(len(h.fe.Targets())))
			Expect(h.snapshot()).To(Equal(h.original))
		})
	})
})
