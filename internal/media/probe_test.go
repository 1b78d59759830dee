package media

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		path     string
		expected Kind
	}{
		{"2024/01/01/abc.jpg", KindImage},
		{"2024/01/01/abc.JPEG", KindImage},
		{"abc.png", KindImage},
		{"abc.gif", KindImage},
		{"abc.webp", KindImage},
		{"abc.webm", KindVideo},
		{"abc.MP4", KindVideo},
		{"abc.mov", KindUnknown},
		{"noext", KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := Classify(tt.path); got != tt.expected {
				t.Errorf("Classify(%q) = %v, want %v", tt.path, got, tt.expected)
			}
		})
	}
}

func TestDecodeImageSize(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 320, 200))

	var pngBuf bytes.Buffer
	if err := png.Encode(&pngBuf, img); err != nil {
		t.Fatal(err)
	}
	var gifBuf bytes.Buffer
	if err := gif.Encode(&gifBuf, img, nil); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		data    []byte
		wantErr bool
	}{
		{"png", pngBuf.Bytes(), false},
		{"truncated png header", pngBuf.Bytes()[:64], false},
		{"gif", gifBuf.Bytes(), false},
		{"garbage", []byte("definitely not an image"), true},
		{"too short", pngBuf.Bytes()[:8], true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			width, height, err := DecodeImageSize(tt.data)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got %dx%d", width, height)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeImageSize() error = %v", err)
			}
			if width != 320 || height != 200 {
				t.Errorf("got %dx%d, want 320x200", width, height)
			}
		})
	}
}

func TestParseStreamSize(t *testing.T) {
	output := []byte(`Input #0, matroska,webm, from 'pipe:':
  Duration: N/A, start: 0.000000, bitrate: N/A
    Stream #0:0: Video: vp8, yuv420p, 460x258, SAR 1:1 DAR 230:129, 30 fps
    Stream #0:1: Audio: vorbis, 44100 Hz, stereo, fltp`)

	width, height, err := ParseStreamSize(output)
	if err != nil {
		t.Fatalf("ParseStreamSize() error = %v", err)
	}
	if width != 460 || height != 258 {
		t.Errorf("got %dx%d, want 460x258", width, height)
	}

	if _, _, err := ParseStreamSize([]byte("pipe:: Invalid data found when processing input")); !errors.Is(err, ErrNoStreamSize) {
		t.Errorf("expected ErrNoStreamSize, got %v", err)
	}
}

func TestPackRGB565(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff})
	img.Set(1, 0, color.RGBA{R: 0x80, G: 0x44, B: 0x10, A: 0xff})

	got := PackRGB565(img)
	want := []byte{
		0xff, 0x1f,
		// r=0x80 g=0x44 b=0x10: (0x80|0x02), ((0x11&7)|0x02)
		0x82, 0x03,
	}
	if !bytes.Equal(got, want) {
		t.Errorf("PackRGB565() = %x, want %x", got, want)
	}
}

func TestNewProberDefaults(t *testing.T) {
	p := NewProber(nil)
	if p.ffprobe != "ffprobe" || p.ffmpeg != "ffmpeg" || p.timeout <= 0 {
		t.Errorf("unexpected defaults: %+v", p)
	}
}
