package evaluation

import (
	"fmt"
	"image/color"
	"strconv"

	"github.com/pkg/errors"
	"github.com/sharnoff/forestseg/metrics"
	"github.com/spf13/afero"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette/brewer"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

// CurvesFile is the name of the training curves figure.
const CurvesFile = "training_curves.png"

var (
	trainColor = color.RGBA{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff}
	valColor   = color.RGBA{R: 0xff, G: 0x7f, B: 0x0e, A: 0xff}
	bestColor  = color.RGBA{R: 0xd6, G: 0x27, B: 0x28, A: 0xff}
)

func line(xs, ys []float64, c color.Color) (*plotter.Line, error) {
	pts := make(plotter.XYs, len(xs))
	for i := range xs {
		pts[i].X, pts[i].Y = xs[i], ys[i]
	}

	l, err := plotter.NewLine(pts)
	if err != nil {
		return nil, err
	}
	l.LineStyle.Color = c
	l.LineStyle.Width = vg.Points(1.5)
	return l, nil
}

func dashed(xs, ys []float64) (*plotter.Line, error) {
	l, err := line(xs, ys, color.Gray{Y: 0x40})
	if err != nil {
		return nil, err
	}
	l.LineStyle.Width = vg.Points(1)
	l.LineStyle.Dashes = []vg.Length{vg.Points(4), vg.Points(3)}
	return l, nil
}

func save(fs afero.Fs, path string, p *plot.Plot) error {
	w, err := p.WriterTo(6*vg.Inch, 5*vg.Inch, "png")
	if err != nil {
		return errors.Wrapf(err, "Failed to render %q", path)
	}

	f, err := fs.Create(path)
	if err != nil {
		return errors.Wrapf(err, "Failed to create %q", path)
	}
	defer f.Close()

	_, err = w.WriteTo(f)
	return errors.Wrapf(err, "Failed to write %q", path)
}

// PlotROC draws the ROC curve with the chance diagonal.
func PlotROC(fs afero.Fs, path string, c metrics.Curves) error {
	p := plot.New()
	p.Title.Text = "ROC Curve"
	p.X.Label.Text = "False Positive Rate"
	p.Y.Label.Text = "True Positive Rate"
	p.X.Min, p.X.Max = 0, 1
	p.Y.Min, p.Y.Max = 0, 1
	p.Add(plotter.NewGrid())

	roc, err := line(c.FPR, c.TPR, trainColor)
	if err != nil {
		return errors.Wrap(err, "Can't plot ROC curve")
	}
	chance, err := dashed([]float64{0, 1}, []float64{0, 1})
	if err != nil {
		return errors.Wrap(err, "Can't plot ROC curve")
	}

	p.Add(roc, chance)
	p.Legend.Add(fmt.Sprintf("ROC (AUC = %.2f)", c.AUC), roc)
	p.Legend.Left = false
	p.Legend.Top = false

	return save(fs, path, p)
}

// PlotPR draws precision against recall.
func PlotPR(fs afero.Fs, path string, c metrics.Curves) error {
	p := plot.New()
	p.Title.Text = "Precision-Recall Curve"
	p.X.Label.Text = "Recall"
	p.Y.Label.Text = "Precision"
	p.X.Min, p.X.Max = 0, 1
	p.Y.Min, p.Y.Max = 0, 1
	p.Add(plotter.NewGrid())

	pr, err := line(c.Recall(), c.Precision, trainColor)
	if err != nil {
		return errors.Wrap(err, "Can't plot precision-recall curve")
	}

	p.Add(pr)
	p.Legend.Add(fmt.Sprintf("AP = %.2f", c.AP), pr)
	p.Legend.Top = false

	return save(fs, path, p)
}

// confusionGrid lays the counts out with predictions along X and actual classes along Y,
// Background on the top row.
type confusionGrid metrics.Confusion

func (g confusionGrid) Dims() (c, r int) { return 2, 2 }
func (g confusionGrid) X(c int) float64  { return float64(c) }
func (g confusionGrid) Y(r int) float64  { return float64(r) }

func (g confusionGrid) Z(c, r int) float64 {
	predForest, forest := c == 1, r == 0
	switch {
	case forest && predForest:
		return float64(g.TP)
	case forest:
		return float64(g.FN)
	case predForest:
		return float64(g.FP)
	default:
		return float64(g.TN)
	}
}

// PlotConfusion draws the confusion matrix as a heat map with the count in each cell.
func PlotConfusion(fs afero.Fs, path string, c metrics.Confusion) error {
	pal, err := brewer.GetPalette(brewer.TypeSequential, "Blues", 9)
	if err != nil {
		return errors.Wrap(err, "Can't plot confusion matrix")
	}

	g := confusionGrid(c)
	hm := plotter.NewHeatMap(g, pal)
	if hm.Max == hm.Min {
		hm.Max = hm.Min + 1
	}

	var counts plotter.XYLabels
	for col := 0; col < 2; col++ {
		for row := 0; row < 2; row++ {
			counts.XYs = append(counts.XYs, plotter.XY{X: g.X(col), Y: g.Y(row)})
			counts.Labels = append(counts.Labels, strconv.FormatInt(int64(g.Z(col, row)), 10))
		}
	}
	labels, err := plotter.NewLabels(counts)
	if err != nil {
		return errors.Wrap(err, "Can't plot confusion matrix")
	}

	p := plot.New()
	p.Title.Text = "Confusion Matrix"
	p.X.Label.Text = "Predicted"
	p.Y.Label.Text = "Actual"
	p.X.Tick.Marker = plot.ConstantTicks{{Value: 0, Label: "Background"}, {Value: 1, Label: "Forest"}}
	p.Y.Tick.Marker = plot.ConstantTicks{{Value: 0, Label: "Forest"}, {Value: 1, Label: "Background"}}
	p.Add(hm, labels)

	return save(fs, path, p)
}

// PlotTraining draws one panel per metric, loss first, with the train and validation values of
// each epoch. The best validation epoch of each panel is marked: the lowest loss, or the highest
// of any other metric.
func PlotTraining(fs afero.Fs, path, title string, train, val []metrics.Summary) error {
	if len(train) == 0 || len(train) != len(val) {
		return errors.Errorf("Can't plot training curves of %d train and %d validation epochs", len(train), len(val))
	}

	names := append([]string{"loss"}, metrics.Names...)
	epochs := make([]float64, len(train))
	for i := range epochs {
		epochs[i] = float64(i + 1)
	}

	rows := make([][]*plot.Plot, len(names))
	for r, name := range names {
		p, err := metricPanel(name, epochs, train, val)
		if err != nil {
			return errors.Wrapf(err, "Can't plot %s", name)
		}
		if r == 0 && title != "" {
			p.Title.Text = title
		}
		if r == len(names)-1 {
			p.X.Label.Text = "Epochs"
		}
		rows[r] = []*plot.Plot{p}
	}

	width, height := 8*vg.Inch, vg.Length(len(names))*2*vg.Inch
	img := vgimg.New(width, height)
	dc := draw.New(img)

	tiles := draw.Tiles{
		Rows: len(names), Cols: 1,
		PadX: vg.Millimeter, PadY: 2 * vg.Millimeter,
		PadTop: 2 * vg.Millimeter, PadBottom: 2 * vg.Millimeter,
		PadLeft: 2 * vg.Millimeter, PadRight: 2 * vg.Millimeter,
	}

	canvases := plot.Align(rows, tiles, dc)
	for r := range rows {
		rows[r][0].Draw(canvases[r][0])
	}

	f, err := fs.Create(path)
	if err != nil {
		return errors.Wrapf(err, "Failed to create %q", path)
	}
	defer f.Close()

	_, err = vgimg.PngCanvas{Canvas: img}.WriteTo(f)
	return errors.Wrapf(err, "Failed to write %q", path)
}

func metricPanel(name string, epochs []float64, train, val []metrics.Summary) (*plot.Plot, error) {
	tv := make([]float64, len(train))
	vv := make([]float64, len(val))
	for i := range train {
		tv[i], _ = train[i].Get(name)
		vv[i], _ = val[i].Get(name)
	}

	p := plot.New()
	p.Y.Label.Text = name
	p.X.Tick.Marker = plot.TickerFunc(integerTicks)
	p.Add(plotter.NewGrid())

	tl, err := line(epochs, tv, trainColor)
	if err != nil {
		return nil, err
	}
	vl, err := line(epochs, vv, valColor)
	if err != nil {
		return nil, err
	}

	best := 0
	for i, v := range vv {
		if (name == "loss" && v < vv[best]) || (name != "loss" && v > vv[best]) {
			best = i
		}
	}

	lo, hi := bounds(tv, vv)
	marker, err := dashed([]float64{epochs[best], epochs[best]}, []float64{lo, hi})
	if err != nil {
		return nil, err
	}
	marker.LineStyle.Color = bestColor

	pt, err := plotter.NewScatter(plotter.XYs{{X: epochs[best], Y: vv[best]}})
	if err != nil {
		return nil, err
	}
	pt.GlyphStyle.Color = bestColor
	pt.GlyphStyle.Shape = draw.CircleGlyph{}
	pt.GlyphStyle.Radius = vg.Points(3)

	label, err := plotter.NewLabels(plotter.XYLabels{
		XYs:    []plotter.XY{{X: epochs[best], Y: vv[best]}},
		Labels: []string{fmt.Sprintf("%.3f", vv[best])},
	})
	if err != nil {
		return nil, err
	}
	label.Offset = vg.Point{X: vg.Points(6), Y: vg.Points(4)}

	p.Add(tl, vl, marker, pt, label)

	kind := "max"
	if name == "loss" {
		kind = "min"
	}
	p.Legend.Add(fmt.Sprintf("Train (%s: %.3f)", kind, extreme(tv, name == "loss")), tl)
	p.Legend.Add(fmt.Sprintf("Val (%s: %.3f)", kind, extreme(vv, name == "loss")), vl)
	p.Legend.Top = name == "loss"

	return p, nil
}

func bounds(series ...[]float64) (lo, hi float64) {
	first := true
	for _, s := range series {
		for _, v := range s {
			if first || v < lo {
				lo = v
			}
			if first || v > hi {
				hi = v
			}
			first = false
		}
	}
	return lo, hi
}

func extreme(xs []float64, min bool) float64 {
	e := xs[0]
	for _, x := range xs[1:] {
		if (min && x < e) || (!min && x > e) {
			e = x
		}
	}
	return e
}

// integerTicks labels whole epochs only.
func integerTicks(min, max float64) []plot.Tick {
	var ticks []plot.Tick
	step := 1
	if n := int(max - min); n > 10 {
		step = (n + 9) / 10
	}

	for e := int(min); float64(e) <= max; e += step {
		if float64(e) >= min {
			ticks = append(ticks, plot.Tick{Value: float64(e), Label: fmt.Sprint(e)})
		}
	}
	return ticks
}
