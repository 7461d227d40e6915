package exporter

import (
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"catpipe/internal/errors"
	"catpipe/pkg/contracts/domain"
)

// Confusion matrix titles, one per partition
const (
	TitleTraining   = "training_data"
	TitleEvaluation = "evaluation_data"
	TitleTest       = "test_data"
)

// MatrixTitle maps a partition name to its confusion matrix title
func MatrixTitle(partition string) string {
	switch partition {
	case domain.PartitionTrain:
		return TitleTraining
	case domain.PartitionEval:
		return TitleEvaluation
	default:
		return TitleTest
	}
}

var (
	white     = color.RGBA{0xff, 0xff, 0xff, 0xff}
	ink       = color.RGBA{0x20, 0x20, 0x20, 0xff}
	edgeColor = color.RGBA{0x80, 0x80, 0x80, 0xff}
	leafFill  = color.RGBA{0xe8, 0xf1, 0xfa, 0xff}
	ruleFill  = color.RGBA{0xfb, 0xee, 0xd9, 0xff}
)

const (
	lineHeight = 15
	boxPadding = 6
	levelGap   = 46
	nodeGap    = 14
	margin     = 20
	cellSize   = 72
)

// Renderer draws PNG images into the images directory. An existing file of
// the same name is removed before the new one is written.
type Renderer struct {
	dir    string
	labels []string
	face   font.Face
	logger *slog.Logger
}

// NewRenderer creates a renderer writing to dir. labels are the display
// names of the classes in label order, e.g. k0 and k1.
func NewRenderer(dir string, labels []string, logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{
		dir:    dir,
		labels: labels,
		face:   basicfont.Face7x13,
		logger: logger.With(slog.String("component", "renderer")),
	}
}

// TreeFileName returns tree_with_depth_<depth>.png
func TreeFileName(depth int) string {
	return "tree_with_depth_" + strconv.Itoa(depth) + ".png"
}

// MatrixFileName returns confusion_matrix_<title>.png
func MatrixFileName(title string) string {
	return "confusion_matrix_" + title + ".png"
}

// RenderTree draws tree and writes it to tree_with_depth_<depth>.png
func (r *Renderer) RenderTree(tree *domain.TreeNode, depth int) (string, error) {
	if tree == nil {
		return "", errors.NewRenderError("no tree to render", nil)
	}

	layout := r.layoutTree(tree)
	img := canvas(layout.width, layout.height)
	r.drawTree(img, layout.root)

	return r.save(TreeFileName(depth), img)
}

// RenderConfusionMatrix draws m with the given title and writes it to
// confusion_matrix_<title>.png
func (r *Renderer) RenderConfusionMatrix(m domain.ConfusionMatrix, title string) (string, error) {
	n := len(m.Labels)
	if n == 0 {
		return "", errors.NewRenderError("confusion matrix has no labels", nil).WithContext("title", title)
	}
	ticks := r.displayLabels(m.Labels)

	tickWidth := 0
	for _, t := range ticks {
		tickWidth = max(tickWidth, r.textWidth(t))
	}
	left := margin + lineHeight + tickWidth + boxPadding
	top := margin + 2*lineHeight
	width := left + n*cellSize + margin
	height := top + n*cellSize + 3*lineHeight + margin

	img := canvas(width, height)
	r.text(img, title, (width-r.textWidth(title))/2, margin+lineHeight-3, ink)

	peak := 0
	for _, row := range m.Counts {
		for _, c := range row {
			peak = max(peak, c)
		}
	}

	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			count := 0
			if i < len(m.Counts) && j < len(m.Counts[i]) {
				count = m.Counts[i][j]
			}
			cell := image.Rect(left+j*cellSize, top+i*cellSize, left+(j+1)*cellSize, top+(i+1)*cellSize)
			fill := shade(count, peak)
			draw.Draw(img, cell, image.NewUniform(fill), image.Point{}, draw.Src)
			outline(img, cell, edgeColor)

			label := strconv.Itoa(count)
			fg := ink
			if luminance(fill) < 0x80 {
				fg = white
			}
			r.text(img, label, cell.Min.X+(cellSize-r.textWidth(label))/2, cell.Min.Y+cellSize/2+4, fg)
		}

		r.text(img, ticks[i], left-boxPadding-r.textWidth(ticks[i]), top+i*cellSize+cellSize/2+4, ink)
		r.text(img, ticks[i], left+i*cellSize+(cellSize-r.textWidth(ticks[i]))/2, top+n*cellSize+lineHeight, ink)
	}

	axis := "Predicted label"
	r.text(img, axis, left+(n*cellSize-r.textWidth(axis))/2, top+n*cellSize+2*lineHeight+4, ink)
	r.text(img, "True", margin, top-4, ink)

	return r.save(MatrixFileName(title), img)
}

// displayLabels uses the configured names when there is one per class
func (r *Renderer) displayLabels(raw []string) []string {
	if len(r.labels) == len(raw) {
		return r.labels
	}
	return raw
}

func (r *Renderer) save(name string, img image.Image) (string, error) {
	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return "", errors.NewRenderError("failed to create images directory", err).WithContext("dir", r.dir)
	}

	path := filepath.Join(r.dir, name)
	if _, err := os.Stat(path); err == nil {
		if err := os.Remove(path); err != nil {
			return "", errors.NewRenderError("failed to remove old image", err).WithContext("path", path)
		}
		r.logger.Debug("old_image_removed", slog.String("path", path))
	}

	f, err := os.Create(path)
	if err != nil {
		return "", errors.NewRenderError("failed to create image", err).WithContext("path", path)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return "", errors.NewRenderError("failed to encode png", err).WithContext("path", path)
	}
	if err := f.Close(); err != nil {
		return "", errors.NewRenderError("failed to close image", err).WithContext("path", path)
	}

	r.logger.Info("image_saved", slog.String("path", path))
	return path, nil
}

// placed is a tree node with its box position
type placed struct {
	node     *domain.TreeNode
	lines    []string
	box      image.Rectangle
	children []*placed
}

type treeLayout struct {
	root          *placed
	width, height int
}

// layoutTree assigns leaves consecutive slots from left to right and centers
// every parent over its children
func (r *Renderer) layoutTree(root *domain.TreeNode) treeLayout {
	slot, maxLines := 0, maxLineCount(root)
	for _, l := range r.collectLines(root) {
		slot = max(slot, r.textWidth(l))
	}
	slot += 2*boxPadding + nodeGap

	boxHeight := maxLines*lineHeight + 2*boxPadding

	next := 0
	var place func(n *domain.TreeNode, level int) *placed
	place = func(n *domain.TreeNode, level int) *placed {
		p := &placed{node: n, lines: nodeLines(n)}
		var center int
		if n.IsLeaf() {
			center = margin + next*slot + slot/2
			next++
		} else {
			for _, c := range n.Children {
				p.children = append(p.children, place(c, level+1))
			}
			first, last := p.children[0].box, p.children[len(p.children)-1].box
			center = (first.Min.X + first.Max.X + last.Min.X + last.Max.X) / 4
		}

		w := 0
		for _, l := range p.lines {
			w = max(w, r.textWidth(l))
		}
		w += 2 * boxPadding
		y := margin + level*(boxHeight+levelGap)
		p.box = image.Rect(center-w/2, y, center-w/2+w, y+boxHeight)
		return p
	}
	top := place(root, 0)

	levels := root.Depth()
	return treeLayout{
		root:   top,
		width:  2*margin + max(next, 1)*slot,
		height: 2*margin + levels*boxHeight + (levels-1)*levelGap,
	}
}

func maxLineCount(n *domain.TreeNode) int {
	count := len(nodeLines(n))
	for _, c := range n.Children {
		count = max(count, maxLineCount(c))
	}
	return count
}

func (r *Renderer) collectLines(n *domain.TreeNode) []string {
	lines := nodeLines(n)
	for _, c := range n.Children {
		lines = append(lines, r.collectLines(c)...)
		lines = append(lines, c.Value)
	}
	return lines
}

// nodeLines are the text rows of a tree box
func nodeLines(n *domain.TreeNode) []string {
	var lines []string
	if n.Feature != "" {
		lines = append(lines, "split: "+n.Feature)
	}
	lines = append(lines,
		"samples = "+strconv.Itoa(n.Samples()),
		"value = "+distribution(n.Distribution),
		"class = "+n.Class,
	)
	if n.Truncated {
		lines = append(lines, "(...)")
	}
	return lines
}

func distribution(dist map[string]int) string {
	keys := make([]string, 0, len(dist))
	for k := range dist {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = strconv.Itoa(dist[k])
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func (r *Renderer) drawTree(img *image.RGBA, p *placed) {
	for _, c := range p.children {
		from := image.Pt((p.box.Min.X+p.box.Max.X)/2, p.box.Max.Y)
		to := image.Pt((c.box.Min.X+c.box.Max.X)/2, c.box.Min.Y)
		line(img, from, to, edgeColor)

		mid := image.Pt((from.X+to.X)/2, (from.Y+to.Y)/2)
		r.text(img, c.node.Value, mid.X+4, mid.Y+4, ink)
		r.drawTree(img, c)
	}

	fill := ruleFill
	if p.node.IsLeaf() {
		fill = leafFill
	}
	draw.Draw(img, p.box, image.NewUniform(fill), image.Point{}, draw.Src)
	outline(img, p.box, ink)
	for i, l := range p.lines {
		r.text(img, l, p.box.Min.X+boxPadding, p.box.Min.Y+boxPadding+(i+1)*lineHeight-3, ink)
	}
}

func (r *Renderer) text(img *image.RGBA, s string, x, y int, c color.Color) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: r.face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

func (r *Renderer) textWidth(s string) int {
	return font.MeasureString(r.face, s).Ceil()
}

func canvas(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(white), image.Point{}, draw.Src)
	return img
}

func outline(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	for x := r.Min.X; x < r.Max.X; x++ {
		img.SetRGBA(x, r.Min.Y, c)
		img.SetRGBA(x, r.Max.Y-1, c)
	}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		img.SetRGBA(r.Min.X, y, c)
		img.SetRGBA(r.Max.X-1, y, c)
	}
}

// line draws a segment with Bresenham's algorithm
func line(img *image.RGBA, a, b image.Point, c color.RGBA) {
	dx, dy := abs(b.X-a.X), -abs(b.Y-a.Y)
	sx, sy := 1, 1
	if a.X > b.X {
		sx = -1
	}
	if a.Y > b.Y {
		sy = -1
	}
	e := dx + dy
	for {
		img.SetRGBA(a.X, a.Y, c)
		if a == b {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			a.X += sx
		}
		if e2 <= dx {
			e += dx
			a.Y += sy
		}
	}
}

// shade maps a count onto a white-to-blue ramp
func shade(count, peak int) color.RGBA {
	if peak == 0 {
		return white
	}
	t := float64(count) / float64(peak)
	return color.RGBA{
		R: uint8(0xf7 - t*(0xf7-0x08)),
		G: uint8(0xfb - t*(0xfb-0x30)),
		B: uint8(0xff - t*(0xff-0x6b)),
		A: 0xff,
	}
}

func luminance(c color.RGBA) uint8 {
	return uint8((299*int(c.R) + 587*int(c.G) + 114*int(c.B)) / 1000)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
