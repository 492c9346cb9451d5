package imagegen

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/lox/planti/internal/models"
)

// Card dimensions follow the Open Graph aspect ratio at half size.
const (
	CardWidth  = 600
	CardHeight = 315

	// SparklinePoints is how many recent scores the card plots.
	SparklinePoints = 30
)

var (
	colorBackgroundTop    = color.RGBA{0x0F, 0x2A, 0x1D, 0xFF}
	colorBackgroundBottom = color.RGBA{0x37, 0x55, 0x34, 0xFF}
	colorText             = color.RGBA{0xFF, 0xFF, 0xFF, 0xFF}
	colorMuted            = color.RGBA{0xE3, 0xEE, 0xD4, 0xFF}
	colorSparkline        = color.RGBA{0xAE, 0xC3, 0xB0, 0xFF}
)

// CardData is what a plant card shows.
type CardData struct {
	Name    string
	Species string
	Score   *int
	Trend   models.Trend
	History []int // oldest first
}

// GeneratePlantCard renders a PNG summary card for one plant.
func GeneratePlantCard(data CardData) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, CardWidth, CardHeight))
	drawBackground(img)

	drawScaledText(img, truncate(data.Name, 22), 30, 30, 3, colorText)
	drawScaledText(img, truncate(data.Species, 36), 30, 80, 2, colorMuted)

	score := "--"
	scoreColor := colorMuted
	if data.Score != nil {
		score = fmt.Sprintf("%d", *data.Score)
		scoreColor = ScoreColor(*data.Score)
	}
	drawScaledText(img, score, 30, 130, 7, scoreColor)
	drawScaledText(img, "health  "+trendLabel(data.Trend), 30, 235, 2, colorMuted)

	drawSparkline(img, lastN(data.History, SparklinePoints), image.Rect(300, 140, 570, 250))

	drawScaledText(img, "planti", 30, CardHeight-35, 2, colorSparkline)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode plant card: %w", err)
	}
	return buf.Bytes(), nil
}

// ScoreColor maps a score to a traffic-light colour.
func ScoreColor(score int) color.RGBA {
	switch {
	case score >= 70:
		return color.RGBA{0x8B, 0xD1, 0x7C, 0xFF}
	case score >= 40:
		return color.RGBA{0xF2, 0xC1, 0x4E, 0xFF}
	default:
		return color.RGBA{0xE5, 0x6B, 0x5D, 0xFF}
	}
}

func trendLabel(t models.Trend) string {
	switch t {
	case models.TrendUp:
		return "^ up"
	case models.TrendDown:
		return "v down"
	default:
		return "- stable"
	}
}

func drawBackground(img *image.RGBA) {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		p := float64(y) / float64(b.Dy())
		c := color.RGBA{
			R: lerp(colorBackgroundTop.R, colorBackgroundBottom.R, p),
			G: lerp(colorBackgroundTop.G, colorBackgroundBottom.G, p),
			B: lerp(colorBackgroundTop.B, colorBackgroundBottom.B, p),
			A: 0xFF,
		}
		for x := b.Min.X; x < b.Max.X; x++ {
			img.SetRGBA(x, y, c)
		}
	}
}

func lerp(a, b uint8, p float64) uint8 {
	return uint8(float64(a) + (float64(b)-float64(a))*p)
}

// drawScaledText draws text with the 7x13 bitmap face enlarged by an
// integer factor. (x, y) is the top-left corner of the text box.
func drawScaledText(dst *image.RGBA, text string, x, y, scale int, col color.Color) {
	face := basicfont.Face7x13
	w := font.MeasureString(face, text).Ceil()
	h := face.Height
	if w == 0 {
		return
	}

	src := image.NewAlpha(image.Rect(0, 0, w, h))
	d := &font.Drawer{
		Dst:  src,
		Src:  image.Opaque,
		Face: face,
		Dot:  fixed.P(0, face.Ascent),
	}
	d.DrawString(text)

	// nearest-neighbour upscale, using the glyph alpha as a mask
	fill := image.NewUniform(col)
	for sy := 0; sy < h; sy++ {
		for sx := 0; sx < w; sx++ {
			a := src.AlphaAt(sx, sy).A
			if a == 0 {
				continue
			}
			r := image.Rect(x+sx*scale, y+sy*scale, x+(sx+1)*scale, y+(sy+1)*scale)
			draw.DrawMask(dst, r, fill, image.Point{}, image.NewUniform(color.Alpha{A: a}), image.Point{}, draw.Over)
		}
	}
}

func drawSparkline(img *image.RGBA, scores []int, box image.Rectangle) {
	if len(scores) == 0 {
		return
	}
	if len(scores) == 1 {
		scores = []int{scores[0], scores[0]}
	}

	point := func(i int) image.Point {
		x := box.Min.X + i*(box.Dx()-1)/(len(scores)-1)
		y := box.Max.Y - 1 - clampScore(scores[i])*(box.Dy()-1)/100
		return image.Pt(x, y)
	}

	prev := point(0)
	for i := 1; i < len(scores); i++ {
		cur := point(i)
		drawLine(img, prev, cur, colorSparkline)
		prev = cur
	}

	last := prev
	dot := ScoreColor(scores[len(scores)-1])
	draw.Draw(img, image.Rect(last.X-3, last.Y-3, last.X+4, last.Y+4), image.NewUniform(dot), image.Point{}, draw.Src)
}

// drawLine is Bresenham with a 2px pen.
func drawLine(img *image.RGBA, a, b image.Point, c color.RGBA) {
	dx, dy := abs(b.X-a.X), -abs(b.Y-a.Y)
	sx, sy := 1, 1
	if a.X > b.X {
		sx = -1
	}
	if a.Y > b.Y {
		sy = -1
	}
	err := dx + dy
	x, y := a.X, a.Y
	for {
		img.SetRGBA(x, y, c)
		img.SetRGBA(x, y+1, c)
		if x == b.X && y == b.Y {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x += sx
		}
		if e2 <= dx {
			err += dx
			y += sy
		}
	}
}

func clampScore(s int) int {
	return max(0, min(100, s))
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func lastN(s []int, n int) []int {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "~"
}
