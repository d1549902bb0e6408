package camera

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/zanzhit/pitch_recorder/internal/config"
	"github.com/zanzhit/pitch_recorder/internal/domain/errs"
	"github.com/zanzhit/pitch_recorder/internal/lib/sl"
)

const (
	TierRpicam = "rpicam-vid"
	TierFFmpeg = "ffmpeg-v4l2"
	TierGst    = "gst-v4l2src"
)

var tierOrder = []string{TierRpicam, TierFFmpeg, TierGst}

// startGrace is how long a capture process gets to fail fast before the
// recording is considered started.
const startGrace = 500 * time.Millisecond

type Handle struct {
	Tier   string
	Width  int
	Height int
	FPS    int

	cmd       *exec.Cmd
	done      chan struct{}
	waitErr   error
	recording bool
	filePath  string
}

func (h *Handle) IsRecording() bool {
	return h.recording
}

func (h *Handle) FilePath() string {
	return h.filePath
}

type Camera struct {
	log      *slog.Logger
	cfg      config.Camera
	selected string
	handle   *Handle
}

func New(log *slog.Logger, cfg config.Camera) *Camera {
	return &Camera{
		log: log,
		cfg: cfg,
	}
}

// Acquire walks the capture tiers in order and returns a handle on the first
// tier whose probe produces a frame. The selected tier is cached and retried
// first on later acquisitions. At most one handle is live at a time.
func (c *Camera) Acquire(ctx context.Context) (*Handle, error) {
	const op = "camera.Acquire"

	log := c.log.With(
		slog.String("op", op),
		slog.String("device", c.cfg.DevicePath),
	)

	if c.handle != nil {
		return nil, fmt.Errorf("%s: %w", op, errs.ErrResourceBusy)
	}

	for _, tier := range c.tierCandidates() {
		if err := c.probe(ctx, tier); err != nil {
			log.Warn("capture tier probe failed", slog.String("tier", tier), sl.Err(err))

			continue
		}

		log.Info("camera acquired", slog.String("tier", tier))

		c.selected = tier
		c.handle = &Handle{
			Tier:   tier,
			Width:  c.cfg.Width,
			Height: c.cfg.Height,
			FPS:    c.cfg.FPS,
		}

		return c.handle, nil
	}

	log.Error("all capture tiers failed")

	return nil, fmt.Errorf("%s: %w", op, errs.ErrAcquisitionFailed)
}

func (c *Camera) StartRecording(ctx context.Context, h *Handle, path string, maxDuration time.Duration) error {
	const op = "camera.StartRecording"

	log := c.log.With(
		slog.String("op", op),
		slog.String("tier", h.Tier),
		slog.String("file_path", path),
	)

	if h.recording {
		return fmt.Errorf("%s: %w", op, errs.ErrResourceBusy)
	}

	parametres, err := recordCommand(h.Tier, c.cfg, path, maxDuration)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	cmd := exec.Command(parametres[0], parametres[1:]...)
	if err := cmd.Start(); err != nil {
		log.Error("failed to start capture process", sl.Err(err))

		return fmt.Errorf("%s: %w: %s", op, errs.ErrRecordingIO, err)
	}

	h.cmd = cmd
	h.done = make(chan struct{})
	h.filePath = path

	go func() {
		h.waitErr = cmd.Wait()
		close(h.done)
	}()

	// A capture process that dies within the grace window never produced
	// usable output, so the start itself fails.
	select {
	case <-h.done:
		log.Error("capture process exited immediately", sl.Err(exitError(h.waitErr)))

		return fmt.Errorf("%s: %w: %s", op, errs.ErrRecordingIO, exitError(h.waitErr))
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-h.done

		return fmt.Errorf("%s: %w", op, ctx.Err())
	case <-time.After(startGrace):
	}

	h.recording = true

	log.Info("recording started")

	return nil
}

// StopRecording signals the capture process to finish, waits up to the stop
// timeout and escalates to a kill. Stopping a handle that is not recording is
// a no-op.
func (c *Camera) StopRecording(ctx context.Context, h *Handle) error {
	const op = "camera.StopRecording"

	log := c.log.With(
		slog.String("op", op),
		slog.String("tier", h.Tier),
	)

	if !h.recording {
		return nil
	}

	h.recording = false

	select {
	case <-h.done:
		log.Info("capture process already exited")

		return nil
	default:
	}

	if err := h.cmd.Process.Signal(os.Interrupt); err != nil {
		log.Error("failed to signal capture process", sl.Err(err))

		if err := h.cmd.Process.Kill(); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		<-h.done

		return nil
	}

	select {
	case <-h.done:
	case <-time.After(c.cfg.StopTimeout):
		log.Warn("capture process ignored stop signal, killing")

		if err := h.cmd.Process.Kill(); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		<-h.done
	case <-ctx.Done():
		_ = h.cmd.Process.Kill()
		<-h.done

		return fmt.Errorf("%s: %w", op, ctx.Err())
	}

	log.Info("recording stopped")

	return nil
}

func (c *Camera) Release(h *Handle) {
	const op = "camera.Release"

	if h == nil {
		return
	}

	if h.recording {
		h.recording = false
		_ = h.cmd.Process.Kill()
		<-h.done
	}

	if c.handle == h {
		c.handle = nil
	}

	c.log.Info("camera released", slog.String("op", op), slog.String("tier", h.Tier))
}

// HealthCheck reports whether the handle is still usable. While recording it
// verifies the capture process is alive; while idle it re-probes a frame.
func (c *Camera) HealthCheck(ctx context.Context, h *Handle) bool {
	const op = "camera.HealthCheck"

	if h == nil {
		return false
	}

	if h.recording {
		select {
		case <-h.done:
			return false
		default:
			return true
		}
	}

	if err := c.probe(ctx, h.Tier); err != nil {
		c.log.Warn("idle probe failed", slog.String("op", op), slog.String("tier", h.Tier), sl.Err(err))

		return false
	}

	return true
}

func (c *Camera) tierCandidates() []string {
	if c.selected == "" {
		return tierOrder
	}

	candidates := []string{c.selected}
	for _, tier := range tierOrder {
		if tier != c.selected {
			candidates = append(candidates, tier)
		}
	}

	return candidates
}

func (c *Camera) probe(ctx context.Context, tier string) error {
	parametres, err := probeCommand(tier, c.cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, parametres[0], parametres[1:]...)
	if err := cmd.Run(); err != nil {
		return err
	}

	return nil
}

func probeCommand(tier string, cfg config.Camera) ([]string, error) {
	var parametres string
	switch tier {
	case TierRpicam:
		parametres = "rpicam-vid -t 500 --nopreview -o /dev/null"
	case TierFFmpeg:
		parametres = fmt.Sprintf("ffmpeg -hide_banner -loglevel error -f v4l2 -i %s -frames:v 1 -f null -",
			cfg.DevicePath)
	case TierGst:
		parametres = fmt.Sprintf("gst-launch-1.0 v4l2src device=%s num-buffers=1 ! fakesink",
			cfg.DevicePath)
	default:
		return nil, fmt.Errorf("unknown capture tier: %s", tier)
	}

	return strings.Split(parametres, " "), nil
}

func recordCommand(tier string, cfg config.Camera, filePath string, maxDuration time.Duration) ([]string, error) {
	var parametres string
	switch tier {
	case TierRpicam:
		parametres = fmt.Sprintf("rpicam-vid -t %d --width %d --height %d --framerate %d --bitrate %d --codec libav --libav-format mp4 --nopreview -o %s",
			maxDuration.Milliseconds(), cfg.Width, cfg.Height, cfg.FPS, cfg.BitrateKbps*1000, filePath)
	case TierFFmpeg:
		parametres = fmt.Sprintf("ffmpeg -hide_banner -loglevel error -f v4l2 -framerate %d -video_size %dx%d -i %s -t %d -c:v h264_v4l2m2m -b:v %dk -y %s",
			cfg.FPS, cfg.Width, cfg.Height, cfg.DevicePath, int(maxDuration.Seconds()), cfg.BitrateKbps, filePath)
	case TierGst:
		parametres = fmt.Sprintf("gst-launch-1.0 -e v4l2src device=%s num-buffers=%d ! video/x-raw,width=%d,height=%d,framerate=%d/1 ! videoconvert ! x264enc bitrate=%d ! h264parse ! mp4mux ! filesink location=%s",
			cfg.DevicePath, cfg.FPS*int(maxDuration.Seconds()), cfg.Width, cfg.Height, cfg.FPS, cfg.BitrateKbps, filePath)
	default:
		return nil, fmt.Errorf("unknown capture tier: %s", tier)
	}

	return strings.Split(parametres, " "), nil
}

func exitError(err error) error {
	if err == nil {
		return fmt.Errorf("process exited without error")
	}

	return err
}
