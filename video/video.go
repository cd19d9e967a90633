//go:build screen

package video

import (
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"log"
	"os"

	"github.com/d21d3q/framebuffer"
	"github.com/fogleman/gg"
	"golang.org/x/image/draw"
)

const fontPath = "/usr/share/fonts/truetype/dejavu/DejaVuSans-Bold.ttf"

// ScreenSupported returns whether screen support is compiled in.
func ScreenSupported() bool {
	return true
}

var (
	bgReady    = color.RGBA{0x00, 0x40, 0x20, 0xff}
	bgWorking  = color.RGBA{0x00, 0x30, 0x80, 0xff}
	bgPlaying  = color.RGBA{0x00, 0xb0, 0x00, 0xff}
	bgFailed   = color.RGBA{0xb0, 0x00, 0x00, 0xff}
	bgLost     = color.RGBA{0x80, 0x50, 0x00, 0xff}
	bgVolume   = color.RGBA{0x00, 0x00, 0x50, 0xff}
	fgDefault  = color.White
	fgSubtitle = color.RGBA{0xff, 0xff, 0x00, 0xff}
)

// Video is a status screen on a 16bpp framebuffer.
type Video struct {
	dc              *gg.Context
	pixBuffer       []byte
	backBuffer      []byte
	rgbaImage       *image.RGBA
	width           int
	height          int
	lineLengthBytes int
	initialized     bool
}

// New opens /dev/fb0.
func New() (*Video, error) {
	v := &Video{}
	if err := v.init(); err != nil {
		return nil, err
	}
	return v, nil
}

func (v *Video) init() error {
	fb, err := framebuffer.OpenFrameBuffer("/dev/fb0", os.O_RDWR)
	if err != nil {
		return fmt.Errorf("open framebuffer: %w", err)
	}

	varInfo, err := fb.VarScreenInfo()
	if err != nil {
		return fmt.Errorf("get variable screen info: %w", err)
	}
	fixedInfo, err := fb.FixScreenInfo()
	if err != nil {
		return fmt.Errorf("get fixed screen info: %w", err)
	}

	v.pixBuffer, err = fb.Pixels()
	if err != nil {
		return fmt.Errorf("get pixel data: %w", err)
	}

	v.width = int(varInfo.XRes)
	v.height = int(varInfo.YRes)
	v.lineLengthBytes = int(fixedInfo.LineLength)
	v.backBuffer = make([]byte, v.height*v.lineLengthBytes)

	log.Printf("Video: framebuffer %dx%d, %d bpp, stride %d bytes",
		v.width, v.height, varInfo.BitsPerPixel, v.lineLengthBytes)

	v.rgbaImage = image.NewRGBA(image.Rect(0, 0, v.width, v.height))
	v.dc = gg.NewContextForRGBA(v.rgbaImage)
	v.initialized = true

	v.clear()
	return nil
}

func (v *Video) clear() {
	for i := range v.pixBuffer {
		v.pixBuffer[i] = 0
	}
}

// update converts the RGBA canvas to RGB565 and flips it onto the screen.
func (v *Video) update() {
	if !v.initialized {
		return
	}
	for y := 0; y < v.height; y++ {
		for x := 0; x < v.width; x++ {
			px := v.rgbaImage.RGBAAt(x, y)
			pixel16 := uint16(px.R>>3)<<11 | uint16(px.G>>2)<<5 | uint16(px.B>>3)
			fbIdx := (y * v.lineLengthBytes) + (x * 2)
			if fbIdx+1 < len(v.backBuffer) {
				binary.LittleEndian.PutUint16(v.backBuffer[fbIdx:], pixel16)
			}
		}
	}
	copy(v.pixBuffer, v.backBuffer)
}

func (v *Video) setFontSize(size int) {
	if err := v.dc.LoadFontFace(fontPath, float64(size)); err != nil {
		log.Printf("Video: failed to load font: %v", err)
	}
}

func (v *Video) drawCentered(text string, y float64, c color.Color) {
	v.dc.SetColor(c)
	v.dc.DrawStringAnchored(text, float64(v.width/2), y, 0.5, 0.5)
}

// line is one row of text on a panel.
type line struct {
	text string
	size int
	fg   color.Color
}

// panel fills the screen with bg and stacks lines around the middle.
func (v *Video) panel(bg color.Color, lines ...line) {
	if !v.initialized {
		return
	}
	draw.Draw(v.rgbaImage, v.rgbaImage.Bounds(), image.NewUniform(bg), image.Point{}, draw.Src)

	total := 0
	for _, l := range lines {
		total += l.size + l.size/4
	}
	y := float64(v.height-total) / 2
	for _, l := range lines {
		if l.text == "" {
			continue
		}
		v.setFontSize(l.size)
		y += float64(l.size) / 2
		v.drawCentered(fit(v.dc, l.text, float64(v.width)*0.9), y, l.fg)
		y += float64(l.size)/2 + float64(l.size)/4
	}
	v.update()
}

// fit shortens s with an ellipsis until it is narrower than w.
func fit(dc *gg.Context, s string, w float64) string {
	r := []rune(s)
	for len(r) > 1 {
		if tw, _ := dc.MeasureString(string(r)); tw <= w {
			return string(r)
		}
		r = append(r[:len(r)-2], '…')
	}
	return string(r)
}

// Idle shows the ready screen.
func (v *Video) Idle() {
	v.panel(bgReady, line{"Ready", 64, fgDefault})
}

// Working shows the tag text while it is being dispatched.
func (v *Video) Working(text string) {
	v.panel(bgWorking,
		line{"Working...", 56, fgDefault},
		line{text, 32, fgSubtitle},
	)
}

// Playing shows the service and room after a successful dispatch.
func (v *Video) Playing(service, room, text string) {
	v.panel(bgPlaying,
		line{service, 64, fgDefault},
		line{room, 48, fgDefault},
		line{text, 28, fgSubtitle},
	)
}

// Failed shows why a dispatch failed.
func (v *Video) Failed(text, reason string) {
	v.panel(bgFailed,
		line{"Failed", 64, fgDefault},
		line{text, 32, fgDefault},
		line{reason, 24, fgSubtitle},
	)
}

// ConnectionLost shows the broker connection warning.
func (v *Video) ConnectionLost() {
	v.panel(bgLost, line{"Connection Lost", 64, fgDefault})
}

// DisplayVolume shows a volume step from the rotary knob.
func (v *Video) DisplayVolume(step string) {
	v.panel(bgVolume,
		line{"Volume", 48, fgDefault},
		line{step, 128, fgDefault},
	)
}

// Shutdown blanks the screen.
func (v *Video) Shutdown() {
	if !v.initialized {
		return
	}
	v.clear()
}

// Release blanks the screen and stops drawing.
func (v *Video) Release() error {
	v.clear()
	v.initialized = false
	return nil
}
