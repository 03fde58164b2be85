// Package video writes rendered frames out, either streamed into ffmpeg or
// as a numbered PNG sequence.
package video

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"io"
	"os"
	"os/exec"
	"path/filepath"
)

// ErrClosed is returned when a frame is written after Close.
var ErrClosed = errors.New("encoder closed")

// FrameWriter accepts frames of one fixed size in presentation order.
type FrameWriter interface {
	WriteFrame(img image.Image) error
	Close() error
}

// Options describes an ffmpeg encode.
type Options struct {
	FFmpeg        string // binary, "ffmpeg" if empty
	Width, Height int
	FPS           int
	Encoder       string // libx264, h264_nvenc, h264_videotoolbox
	Quality       int
	Output        string
}

// FFmpegEncoder pipes raw RGBA frames to an ffmpeg process.
type FFmpegEncoder struct {
	opts   Options
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr bytes.Buffer
	frames int
	closed bool
}

// StartFFmpeg launches ffmpeg. The process is killed if ctx is cancelled
// before Close.
func StartFFmpeg(ctx context.Context, opts Options) (*FFmpegEncoder, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", opts.Width, opts.Height)
	}
	if opts.FPS <= 0 {
		opts.FPS = 30
	}
	if opts.FFmpeg == "" {
		opts.FFmpeg = "ffmpeg"
	}
	if opts.Encoder == "" {
		opts.Encoder = "libx264"
	}
	if err := os.MkdirAll(filepath.Dir(opts.Output), 0o755); err != nil {
		return nil, fmt.Errorf("output dir: %w", err)
	}

	e := &FFmpegEncoder{opts: opts}
	e.cmd = exec.CommandContext(ctx, opts.FFmpeg, buildFFmpegArgs(opts)...)
	e.cmd.Stderr = &e.stderr

	stdin, err := e.cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe error: %w", err)
	}
	e.stdin = stdin

	if err := e.cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg start error: %w", err)
	}
	return e, nil
}

func buildFFmpegArgs(opts Options) []string {
	args := []string{
		"-y",
		"-f", "rawvideo",
		"-pixel_format", "rgba",
		"-video_size", fmt.Sprintf("%dx%d", opts.Width, opts.Height),
		"-framerate", fmt.Sprintf("%d", opts.FPS),
		"-i", "-",
		"-pix_fmt", "yuv420p",
		"-c:v", opts.Encoder,
	}
	args = append(args, qualityArgs(opts.Encoder, opts.Quality)...)
	args = append(args, opts.Output)
	return args
}

func qualityArgs(encoder string, quality int) []string {
	// Качество в зависимости от энкодера
	switch encoder {
	case "h264_videotoolbox":
		// кбит/с: 75 -> 7.5 Мбит/с
		return []string{"-b:v", fmt.Sprintf("%dk", quality*100)}
	case "h264_nvenc":
		return []string{"-cq", fmt.Sprintf("%d", quality)}
	default: // libx264
		return []string{"-crf", fmt.Sprintf("%d", quality), "-preset", "medium"}
	}
}

// WriteFrame sends one frame. Frames of the wrong size are rejected.
func (e *FFmpegEncoder) WriteFrame(img image.Image) error {
	if e.closed {
		return ErrClosed
	}
	b := img.Bounds()
	if b.Dx() != e.opts.Width || b.Dy() != e.opts.Height {
		return fmt.Errorf("frame %d is %dx%d, want %dx%d", e.frames, b.Dx(), b.Dy(), e.opts.Width, e.opts.Height)
	}
	if err := writeRawRGBA(e.stdin, img); err != nil {
		return fmt.Errorf("write raw error: %w", err)
	}
	e.frames++
	return nil
}

// Frames is the number of frames written so far.
func (e *FFmpegEncoder) Frames() int { return e.frames }

// Close flushes stdin and waits for ffmpeg to finish the file.
func (e *FFmpegEncoder) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	e.stdin.Close()
	if err := e.cmd.Wait(); err != nil {
		return fmt.Errorf("ffmpeg wait error: %v, output: %s", err, e.stderr.String())
	}
	return nil
}

func writeRawRGBA(w io.Writer, img image.Image) error {
	bounds := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Stride != bounds.Dx()*4 || rgba.Rect.Min.X != 0 || rgba.Rect.Min.Y != 0 {
		rgba = image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
		draw.Draw(rgba, rgba.Rect, img, bounds.Min, draw.Src)
	}
	_, err := w.Write(rgba.Pix)
	return err
}

// PNGSequence writes frame_000000.png, frame_000001.png, ... into Dir.
type PNGSequence struct {
	Dir    string
	frames int
	enc    png.Encoder
}

// NewPNGSequence creates dir if needed.
func NewPNGSequence(dir string) (*PNGSequence, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &PNGSequence{Dir: dir, enc: png.Encoder{CompressionLevel: png.BestSpeed}}, nil
}

// FramePath is the file frame i is written to.
func (s *PNGSequence) FramePath(i int) string {
	return filepath.Join(s.Dir, fmt.Sprintf("frame_%06d.png", i))
}

func (s *PNGSequence) WriteFrame(img image.Image) error {
	f, err := os.Create(s.FramePath(s.frames))
	if err != nil {
		return err
	}
	if err := s.enc.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encode frame %d: %w", s.frames, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	s.frames++
	return nil
}

// Frames is the number of frames written so far.
func (s *PNGSequence) Frames() int { return s.frames }

func (s *PNGSequence) Close() error { return nil }

// SavePNG writes a single image.
func SavePNG(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
