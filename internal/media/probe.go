// Package media measures images and videos and renders tiny previews using
// the standard image decoders and the ffmpeg tool suite.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"os/exec"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	_ "golang.org/x/image/webp"

	"github.com/feedmeta/harvester/pkg/config"
)

// Kind classifies a media path by its extension.
type Kind int

const (
	KindUnknown Kind = iota
	KindImage
	KindVideo
)

var (
	imageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".webp"}
	videoExtensions = []string{".webm", ".mp4"}

	streamSizePattern = regexp.MustCompile(`Stream.* ([0-9]+)x([0-9]+)`)
)

// ErrNoStreamSize is returned when ffprobe output contains no stream size.
var ErrNoStreamSize = errors.New("no stream size in probe output")

// Classify returns the kind of media stored at p.
func Classify(p string) Kind {
	ext := strings.ToLower(path.Ext(p))
	for _, e := range imageExtensions {
		if ext == e {
			return KindImage
		}
	}
	for _, e := range videoExtensions {
		if ext == e {
			return KindVideo
		}
	}
	return KindUnknown
}

// DecodeImageSize reads the dimensions from an image header. data may be a
// truncated file as long as the header is complete.
func DecodeImageSize(data []byte) (int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("decode image header: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}

// Prober runs ffprobe and ffmpeg with a bounded runtime.
type Prober struct {
	ffprobe string
	ffmpeg  string
	timeout time.Duration
}

// NewProber creates a prober from cfg, falling back to the tools on PATH.
func NewProber(cfg *config.ProbeConfig) *Prober {
	p := &Prober{ffprobe: "ffprobe", ffmpeg: "ffmpeg", timeout: 30 * time.Second}
	if cfg == nil {
		return p
	}
	if cfg.FFprobePath != "" {
		p.ffprobe = cfg.FFprobePath
	}
	if cfg.FFmpegPath != "" {
		p.ffmpeg = cfg.FFmpegPath
	}
	if cfg.Timeout > 0 {
		p.timeout = cfg.Timeout
	}
	return p
}

// VideoSize pipes the start of a video file into ffprobe and parses the
// first stream size it reports. ffprobe usually exits non-zero on truncated
// input, so only the output is inspected.
func (p *Prober) VideoSize(ctx context.Context, prefix []byte) (int, int, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.ffprobe, "-")
	cmd.Stdin = bytes.NewReader(prefix)
	output, runErr := cmd.CombinedOutput()
	if ctx.Err() != nil {
		return 0, 0, fmt.Errorf("ffprobe: %w", ctx.Err())
	}

	width, height, err := ParseStreamSize(output)
	if err != nil && runErr != nil {
		return 0, 0, fmt.Errorf("ffprobe: %w", errors.Join(runErr, err))
	}
	return width, height, err
}

// ParseStreamSize extracts WIDTHxHEIGHT from ffprobe output.
func ParseStreamSize(output []byte) (int, int, error) {
	match := streamSizePattern.FindSubmatch(output)
	if match == nil {
		return 0, 0, ErrNoStreamSize
	}
	width, err := strconv.Atoi(string(match[1]))
	if err != nil {
		return 0, 0, err
	}
	height, err := strconv.Atoi(string(match[2]))
	if err != nil {
		return 0, 0, err
	}
	return width, height, nil
}

// Preview is a tiny RGB565 rendition of the first frame of a media file.
type Preview struct {
	Width  int
	Height int
	Pixels []byte
}

// RenderPreview asks ffmpeg for the first frame of url scaled to 8 pixels
// wide and packs it into RGB565.
func (p *Prober) RenderPreview(ctx context.Context, url string) (*Preview, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.ffmpeg,
		"-loglevel", "panic", "-y", "-i", url,
		"-vf", "scale=8:-1", "-frames", "1",
		"-f", "image2", "-vcodec", "png", "-")

	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg: %w", err)
	}

	img, err := png.Decode(&stdout)
	if err != nil {
		return nil, fmt.Errorf("decode preview: %w", err)
	}

	bounds := img.Bounds()
	return &Preview{
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
		Pixels: PackRGB565(img),
	}, nil
}

// PackRGB565 packs every pixel, row by row, into two bytes laid out as
// rrrrrggg gggbbbbb. The layout matches previews already stored by earlier
// harvester versions and must not change.
func PackRGB565(img image.Image) []byte {
	bounds := img.Bounds()
	out := make([]byte, 0, 2*bounds.Dx()*bounds.Dy())

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r16, g16, b16, _ := img.At(x, y).RGBA()
			r, g, b := byte(r16>>8), byte(g16>>8), byte(b16>>8)

			out = append(out,
				(r&0xf8)|(g>>5),
				((g>>2)&0x7)|(b>>3))
		}
	}
	return out
}
