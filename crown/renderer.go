package crown

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math"
	"os"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// nrgbaToRGBA converts color.NRGBA to color.RGBA by premultiplying alpha
// This is needed for the canvas library which expects premultiplied RGBA
func nrgbaToRGBA(c color.NRGBA) color.RGBA {
	if c.A == 0 {
		return color.RGBA{0, 0, 0, 0}
	}
	if c.A == 255 {
		return color.RGBA{c.R, c.G, c.B, 255}
	}
	alpha32 := uint32(c.A)
	return color.RGBA{
		R: uint8((uint32(c.R) * alpha32) / 255),
		G: uint8((uint32(c.G) * alpha32) / 255),
		B: uint8((uint32(c.B) * alpha32) / 255),
		A: c.A,
	}
}

// CrownMapRenderer draws crown outlines coloured by height class.
type CrownMapRenderer struct {
	Records    []CrownRecord
	Scheme     HeightClassScheme
	Scale      float64           // millimetres of canvas per map unit
	Padding    float64           // in map units
	Resolution canvas.Resolution // PNG only
	Labels     bool              // tree ID labels, PNG only
}

// NewCrownMapRenderer creates a renderer with default settings
func NewCrownMapRenderer(records []CrownRecord, scheme HeightClassScheme) *CrownMapRenderer {
	return &CrownMapRenderer{
		Records:    records,
		Scheme:     scheme,
		Scale:      10,
		Padding:    1,
		Resolution: canvas.DPI(300),
		Labels:     true,
	}
}

// canvasRenderer is an interface that both svg and rasterizer renderers implement
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// bounds returns the extent of every crown.
func (r *CrownMapRenderer) bounds() (orb.Bound, error) {
	var b orb.Bound
	found := false
	for _, rec := range r.Records {
		if len(rec.Polygon) == 0 {
			continue
		}
		pb := rec.Polygon.Bound()
		if !found {
			b, found = pb, true
			continue
		}
		b = b.Union(pb)
	}
	if !found {
		return b, fmt.Errorf("no crowns to render")
	}
	return b, nil
}

// RenderToSVG writes the crown map as an SVG to the provided writer
func (r *CrownMapRenderer) RenderToSVG(w io.Writer) error {
	b, err := r.bounds()
	if err != nil {
		return err
	}
	width, height := r.canvasSize(b)

	svgRenderer := svg.New(w, width, height, nil)
	r.renderToCanvas(svgRenderer, b, width, height)
	return svgRenderer.Close()
}

// RenderToPNG writes the crown map as a PNG to the provided writer
func (r *CrownMapRenderer) RenderToPNG(w io.Writer) error {
	b, err := r.bounds()
	if err != nil {
		return err
	}
	width, height := r.canvasSize(b)

	rast := rasterizer.New(width, height, r.Resolution, canvas.DefaultColorSpace)
	r.renderToCanvas(rast, b, width, height)
	if r.Labels {
		r.drawLabels(rast, b, width, height)
	}
	return png.Encode(w, rast)
}

// RenderToFile renders to path in the given format (svg or png).
func (r *CrownMapRenderer) RenderToFile(path, format string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	switch format {
	case "png":
		err = r.RenderToPNG(f)
	case "svg", "":
		err = r.RenderToSVG(f)
	default:
		err = fmt.Errorf("unsupported render format %q", format)
	}
	if err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (r *CrownMapRenderer) canvasSize(b orb.Bound) (float64, float64) {
	w := (b.Max[0] - b.Min[0] + 2*r.Padding) * r.Scale
	h := (b.Max[1] - b.Min[1] + 2*r.Padding) * r.Scale
	return math.Max(w, 1), math.Max(h, 1)
}

// toCanvas maps a map coordinate onto the canvas, whose origin is the
// bottom-left corner.
func (r *CrownMapRenderer) toCanvas(b orb.Bound, p orb.Point) (float64, float64) {
	return (p[0] - b.Min[0] + r.Padding) * r.Scale, (p[1] - b.Min[1] + r.Padding) * r.Scale
}

func (r *CrownMapRenderer) fillColor(height float64) color.NRGBA {
	if c, ok := r.Scheme.Classify(height); ok {
		return c.Color
	}
	return unclassifiedColor
}

func (r *CrownMapRenderer) renderToCanvas(renderer canvasRenderer, b orb.Bound, width, height float64) {
	// Draw white background
	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: canvas.White}
	renderer.RenderPath(canvas.Rectangle(width, height), bgStyle, canvas.Identity)

	for _, rec := range r.Records {
		if len(rec.Polygon) == 0 {
			continue
		}
		style := canvas.DefaultStyle
		fill := r.fillColor(rec.Metrics.Height)
		fill.A = 200
		style.Fill = canvas.Paint{Color: nrgbaToRGBA(fill)}
		style.Stroke = canvas.Paint{Color: canvas.Black}
		style.StrokeWidth = 0.2

		cp := &canvas.Path{}
		for _, ring := range rec.Polygon {
			for i, pt := range ring {
				cx, cy := r.toCanvas(b, pt)
				if i == 0 {
					cp.MoveTo(cx, cy)
				} else {
					cp.LineTo(cx, cy)
				}
			}
			cp.Close()
		}
		renderer.RenderPath(cp, style, canvas.Identity)
	}
}

// drawLabels writes tree IDs at crown centres onto the raster.
func (r *CrownMapRenderer) drawLabels(img draw.Image, b orb.Bound, width, height float64) {
	px := img.Bounds()
	sx := float64(px.Dx()) / width
	sy := float64(px.Dy()) / height

	for _, rec := range r.Records {
		if len(rec.Polygon) == 0 {
			continue
		}
		cx, cy := r.toCanvas(b, rec.Polygon.Bound().Center())
		label := strconv.FormatInt(int64(rec.TreeID), 10)
		x := int(cx*sx) - len(label)*7/2
		y := px.Dy() - int(cy*sy) + 6
		drawText(img, x, y, label, color.RGBA{0, 0, 0, 255})
	}
}

func drawText(img draw.Image, x, y int, text string, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}
