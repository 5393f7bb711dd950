// Package visualizer owns the external spectrum-analyzer subprocess and
// decodes its raw binary frame stream.
package visualizer

import (
	"context"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bardplayer/bard/internal/domain"
)

// restartDelay spaces restart attempts so a crash loop does not spin
const restartDelay = 500 * time.Millisecond

// analyzerProcess abstracts the running subprocess for testability
type analyzerProcess interface {
	// Output is the raw frame byte stream
	Output() io.Reader
	// Wait blocks until the process exits and reaps it
	Wait() error
	// Kill terminates the process; Wait still must be called
	Kill()
}

// spawnFunc starts one analyzer subprocess reading the given config
type spawnFunc func(configPath string) (analyzerProcess, error)

// Feed supervises the spectrum analyzer and exposes its latest frame.
// The frame cell is a bounded single slot with overwrite semantics:
// a lagging consumer costs nothing, readers never block.
type Feed struct {
	logger *zap.Logger
	cfg    domain.Config
	spawn  spawnFunc

	installed bool
	confPath  string
	delay     time.Duration

	mu    sync.RWMutex
	state domain.VisualizerFeedState
	frame domain.VisualizerFrame

	// timestamps of unexpected exits inside the restart window
	exits []time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewFeed creates the feed. The analyzer binary is looked up exactly
// once; when missing the feed stays NotInstalled for the session and the
// UI simply hides the visualizer.
func NewFeed(logger *zap.Logger, cfg domain.Config) *Feed {
	f := &Feed{
		logger: logger,
		cfg:    cfg,
		state:  domain.FeedStopped,
		delay:  restartDelay,
	}

	binary, err := exec.LookPath(cfg.CavaPath())
	if err != nil {
		logger.Info("Spectrum analyzer not installed, visualizer disabled",
			zap.String("tool", cfg.CavaPath()))
		f.state = domain.FeedNotInstalled
		return f
	}

	f.installed = true
	f.spawn = func(configPath string) (analyzerProcess, error) {
		return spawnCava(binary, configPath)
	}
	return f
}

// Start writes the merged analyzer config and launches the supervisor.
// Returns immediately; a NotInstalled feed is a no-op.
func (f *Feed) Start(_ context.Context) error {
	if !f.installed {
		return nil
	}

	confPath, err := writeTempConfig(f.cfg.VisualizerBarCount(), f.cfg.VisualizerFramerate())
	if err != nil {
		return err
	}
	f.confPath = confPath

	runCtx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	f.done = make(chan struct{})
	f.setState(domain.FeedStarting)

	go f.supervise(runCtx)
	return nil
}

// Stop terminates and reaps the subprocess and removes the temp config.
func (f *Feed) Stop(ctx context.Context) error {
	if f.cancel == nil {
		return nil
	}
	f.cancel()

	select {
	case <-f.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if f.confPath != "" {
		_ = os.Remove(f.confPath)
	}
	return nil
}

// Frame returns the most recent fully decoded frame, or a zeroed frame
// when none has been decoded yet. Never blocks.
func (f *Feed) Frame() domain.VisualizerFrame {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.frame.Bars == nil {
		return domain.VisualizerFrame{Bars: make([]byte, f.cfg.VisualizerBarCount())}
	}
	return f.frame.Clone()
}

// State reports the current feed lifecycle state
func (f *Feed) State() domain.VisualizerFeedState {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state
}

func (f *Feed) setState(s domain.VisualizerFeedState) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}

func (f *Feed) publish(frame []byte) {
	f.mu.Lock()
	f.frame = domain.VisualizerFrame{Bars: frame}
	f.mu.Unlock()
}

// supervise runs the spawn/read/restart loop until the context is done
// or the restart budget is exhausted.
func (f *Feed) supervise(ctx context.Context) {
	defer close(f.done)

	splitter := newFrameSplitter(f.cfg.VisualizerBarCount())

	for {
		proc, err := f.spawn(f.confPath)
		if err != nil {
			f.logger.Warn("Failed to spawn spectrum analyzer", zap.Error(err))
			if !f.shouldRestart(ctx) {
				return
			}
			continue
		}

		f.setState(domain.FeedRunning)

		readerDone := make(chan struct{})
		go func() {
			f.readLoop(proc.Output(), splitter)
			close(readerDone)
		}()

		exited := make(chan error, 1)
		go func() { exited <- proc.Wait() }()

		select {
		case <-ctx.Done():
			proc.Kill()
			<-exited
			<-readerDone
			f.setState(domain.FeedStopped)
			return

		case err := <-exited:
			<-readerDone
			// the next process starts at a fresh frame boundary
			if n := splitter.Resync(); n > 0 {
				f.logger.Warn("Discarding partial frame after analyzer exit",
					zap.Int("bytes", n))
			}

			if ctx.Err() != nil {
				f.setState(domain.FeedStopped)
				return
			}
			if err == nil {
				f.logger.Info("Spectrum analyzer exited cleanly")
				f.setState(domain.FeedStopped)
				return
			}
			f.logger.Warn("Spectrum analyzer exited unexpectedly", zap.Error(err))
			if !f.shouldRestart(ctx) {
				return
			}
			select {
			case <-time.After(f.delay):
			case <-ctx.Done():
				f.setState(domain.FeedStopped)
				return
			}
		}
	}
}

// shouldRestart applies the bounded sliding-window restart policy.
// Returns false once the feed is terminally Failed or stopping.
func (f *Feed) shouldRestart(ctx context.Context) bool {
	if ctx.Err() != nil {
		f.setState(domain.FeedStopped)
		return false
	}

	now := time.Now()
	window := time.Duration(f.cfg.VisualizerRestartWindow()) * time.Second

	kept := f.exits[:0]
	for _, t := range f.exits {
		if now.Sub(t) < window {
			kept = append(kept, t)
		}
	}
	f.exits = append(kept, now)

	if len(f.exits) >= f.cfg.VisualizerMaxRestarts() {
		f.logger.Error("Spectrum analyzer keeps crashing, visualizer disabled for this session",
			zap.Int("exits", len(f.exits)),
			zap.Duration("window", window))
		f.setState(domain.FeedFailed)
		return false
	}

	f.setState(domain.FeedRestarting)
	return true
}

// readLoop decodes the raw byte stream until it ends. Only the newest
// frame of each batch is published; older ones are already stale.
func (f *Feed) readLoop(r io.Reader, splitter *frameSplitter) {
	buf := make([]byte, 8*f.cfg.VisualizerBarCount())

	for {
		n, err := r.Read(buf)
		if n > 0 {
			if frames := splitter.Feed(buf[:n]); len(frames) > 0 {
				f.publish(frames[len(frames)-1])
			}
		}
		if err != nil {
			return
		}
	}
}

// cavaProcess wraps a real cava subprocess
type cavaProcess struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
}

func spawnCava(binary, configPath string) (analyzerProcess, error) {
	cmd := exec.Command(binary, "-p", configPath)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &cavaProcess{cmd: cmd, stdout: stdout}, nil
}

func (p *cavaProcess) Output() io.Reader { return p.stdout }
func (p *cavaProcess) Wait() error       { return p.cmd.Wait() }
func (p *cavaProcess) Kill() {
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
}
