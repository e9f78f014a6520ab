package visual

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"

	"cerro/internal/analysis/indicator"
	"cerro/internal/market"
)

// Marker 在 K 线图上标记一次成交；Index 为 K 线下标。
type Marker struct {
	Index int
	Price float64
	Kind  string // open_long/close_long/open_short/close_short
}

// EquityPoint 为资金曲线上的一个点。
type EquityPoint struct {
	TS       int64
	Equity   float64
	Drawdown float64
}

// RunPageInput 描述一张回测结果页所需的全部数据。
type RunPageInput struct {
	Title      string
	Subtitle   string
	Candles    []market.Candle
	Indicators indicator.Report
	Markers    []Marker
	Equity     []EquityPoint
}

// ImageResult 为 PNG 渲染产物。
type ImageResult struct {
	Bytes       []byte `json:"-"`
	Base64      string `json:"base64"`
	Filename    string `json:"filename"`
	Description string `json:"description"`
}

func (r *ImageResult) DataURI() string {
	if r == nil {
		return ""
	}
	if r.Base64 == "" && len(r.Bytes) > 0 {
		r.Base64 = base64.StdEncoding.EncodeToString(r.Bytes)
	}
	if r.Base64 == "" {
		return ""
	}
	return "data:image/png;base64," + r.Base64
}

const (
	colorBackground    = "#060c1b"
	colorTextPrimary   = "#eceff4"
	colorTextSecondary = "#9ca3af"
	colorBull          = "#34d399"
	colorBear          = "#f87171"
	colorSMA           = "#3b82f6"
	colorEMA           = "#fbbf24"
	colorEquity        = "#22d3ee"
	colorDrawdown      = "#fb7185"
	colorOpenMarker    = "#facc15"
	colorCloseMarker   = "#a78bfa"

	chartWidthPx    = 1600
	klineHeightPx   = 600
	equityHeightPx  = 320
	minPageHeightPx = 520
)

// BuildRunPage 生成回测结果 HTML：K 线 + 均线 + 成交标记 + 资金曲线。
func BuildRunPage(input RunPageInput) ([]byte, error) {
	if len(input.Candles) == 0 {
		return nil, fmt.Errorf("no candles to render")
	}
	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)

	xAxis := buildXAxis(input.Candles)
	page.AddCharts(buildKlineChart(input, xAxis))
	if len(input.Equity) > 0 {
		page.AddCharts(buildEquityChart(input, xAxis))
	}

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RenderRunPNG 将结果页渲染为 PNG 截图（依赖 headless Chrome）。
func RenderRunPNG(ctx context.Context, input RunPageInput) (ImageResult, error) {
	if err := EnsureHeadlessAvailable(ctx); err != nil {
		return ImageResult{}, err
	}
	html, err := BuildRunPage(input)
	if err != nil {
		return ImageResult{}, err
	}
	height := klineHeightPx + equityHeightPx
	if height < minPageHeightPx {
		height = minPageHeightPx
	}
	png, err := renderHTMLToPNG(ctx, html, chartWidthPx, height)
	if err != nil {
		return ImageResult{}, err
	}
	return ImageResult{
		Bytes:       png,
		Base64:      base64.StdEncoding.EncodeToString(png),
		Filename:    fmt.Sprintf("%s_run.png", strings.ToLower(strings.ReplaceAll(input.Title, " ", "_"))),
		Description: input.Subtitle,
	}, nil
}

var (
	headlessOnce sync.Once
	headlessErr  error
)

func EnsureHeadlessAvailable(ctx context.Context) error {
	headlessOnce.Do(func() {
		targetCtx := ctx
		if targetCtx == nil {
			targetCtx = context.Background()
		}
		parent, cancel := chromedp.NewContext(targetCtx)
		if cancel != nil {
			defer cancel()
		}
		headlessErr = chromedp.Run(parent)
	})
	return headlessErr
}

func buildKlineChart(input RunPageInput, xAxis []string) *charts.Kline {
	candles := input.Candles
	minPrice, maxPrice := priceBounds(candles)
	padding := (maxPrice - minPrice) * 0.05
	if padding <= 0 {
		padding = math.Max(1, math.Abs(maxPrice)*0.01)
	}

	kline := charts.NewKLine()
	kline.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", klineHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), TextStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithTitleOpts(opts.Title{
			Title:         input.Title,
			Subtitle:      input.Subtitle,
			Left:          "left",
			Top:           "10",
			TitleStyle:    &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
			SubtitleStyle: &opts.TextStyle{Color: colorTextSecondary},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(false)},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			Min:       round(minPrice-padding, 4),
			Max:       round(maxPrice+padding, 4),
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.2)}},
		}),
	)
	kline.SetSeriesOptions(
		charts.WithItemStyleOpts(opts.ItemStyle{
			Color:        colorBull,
			Color0:       colorBear,
			BorderColor:  colorBull,
			BorderColor0: colorBear,
		}),
	)

	klineData := make([]opts.KlineData, 0, len(candles))
	for _, c := range candles {
		klineData = append(klineData, opts.KlineData{Value: [4]float64{c.Open, c.Close, c.Low, c.High}})
	}
	kline.SetXAxis(xAxis)
	kline.AddSeries("Price", klineData)

	if overlay := buildOverlayLine(input.Indicators, len(candles)); overlay != nil {
		overlay.SetXAxis(xAxis)
		kline.Overlap(overlay)
	}
	if markers := buildMarkerScatter(input.Markers, len(candles)); markers != nil {
		markers.SetXAxis(xAxis)
		kline.Overlap(markers)
	}
	return kline
}

func buildOverlayLine(rep indicator.Report, length int) *charts.Line {
	sma := rep.Values["sma"]
	ema := rep.Values["ema"]
	if len(sma.Series) == 0 && len(ema.Series) == 0 {
		return nil
	}
	line := charts.NewLine()
	line.SetSeriesOptions(
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
	)
	if len(sma.Series) > 0 {
		line.AddSeries(legendLabel(sma.Note, "SMA"), toLineData(sma.Series, length),
			charts.WithLineStyleOpts(opts.LineStyle{Color: colorSMA, Width: 2}))
	}
	if len(ema.Series) > 0 {
		line.AddSeries(legendLabel(ema.Note, "EMA"), toLineData(ema.Series, length),
			charts.WithLineStyleOpts(opts.LineStyle{Color: colorEMA, Width: 2}))
	}
	return line
}

func buildMarkerScatter(markers []Marker, length int) *charts.Scatter {
	if len(markers) == 0 {
		return nil
	}
	opens := make([]opts.ScatterData, length)
	closes := make([]opts.ScatterData, length)
	hasOpen, hasClose := false, false
	for _, m := range markers {
		if m.Index < 0 || m.Index >= length {
			continue
		}
		point := opts.ScatterData{Value: round(m.Price, 4), Symbol: "triangle", SymbolSize: 12}
		if strings.HasPrefix(m.Kind, "close") {
			point.SymbolRotate = 180
			closes[m.Index] = point
			hasClose = true
		} else {
			opens[m.Index] = point
			hasOpen = true
		}
	}
	scatter := charts.NewScatter()
	if hasOpen {
		scatter.AddSeries("Entry", opens, charts.WithItemStyleOpts(opts.ItemStyle{Color: colorOpenMarker}))
	}
	if hasClose {
		scatter.AddSeries("Exit", closes, charts.WithItemStyleOpts(opts.ItemStyle{Color: colorCloseMarker}))
	}
	return scatter
}

func buildEquityChart(input RunPageInput, xAxis []string) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", equityHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{Title: "Equity", Left: "left", TitleStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), TextStyle: &opts.TextStyle{Color: colorTextSecondary}}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{AxisLabel: &opts.AxisLabel{Show: opts.Bool(false)}}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Show: opts.Bool(true), Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.15)}},
		}),
	)
	line.SetSeriesOptions(
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
	)

	equity := make([]float64, len(input.Equity))
	drawdown := make([]float64, len(input.Equity))
	for i, p := range input.Equity {
		equity[i] = p.Equity
		drawdown[i] = -p.Drawdown * 100
	}
	line.SetXAxis(xAxis)
	line.AddSeries("Equity", toLineData(equity, len(xAxis)),
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorEquity, Width: 2}))
	line.AddSeries("Drawdown %", toLineData(drawdown, len(xAxis)),
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorDrawdown, Width: 1}))
	return line
}

func legendLabel(note, fallback string) string {
	note = strings.TrimSpace(note)
	if note != "" {
		fields := strings.Fields(note)
		if len(fields) > 0 && fields[0] != "" {
			return fields[0]
		}
	}
	return fallback
}

func buildXAxis(candles []market.Candle) []string {
	x := make([]string, len(candles))
	for i, c := range candles {
		x[i] = time.UnixMilli(c.CloseTime).UTC().Format("01-02 15:04")
	}
	return x
}

func toLineData(series []float64, length int) []opts.LineData {
	line := make([]opts.LineData, length)
	offset := length - len(series)
	if offset < 0 {
		offset = 0
	}
	for i := 0; i < offset; i++ {
		line[i] = opts.LineData{Value: nil}
	}
	for i := 0; i < len(series) && offset+i < length; i++ {
		val := series[i]
		if math.IsNaN(val) {
			line[offset+i] = opts.LineData{Value: nil}
		} else {
			line[offset+i] = opts.LineData{Value: round(val, 4)}
		}
	}
	return line
}

func round(val float64, decimals int) float64 {
	if decimals <= 0 {
		return math.Round(val)
	}
	scale := math.Pow10(decimals)
	return math.Round(val*scale) / scale
}

func priceBounds(candles []market.Candle) (minVal, maxVal float64) {
	if len(candles) == 0 {
		return 0, 0
	}
	minVal = candles[0].Low
	maxVal = candles[0].High
	for _, c := range candles {
		if c.Low < minVal {
			minVal = c.Low
		}
		if c.High > maxVal {
			maxVal = c.High
		}
	}
	return minVal, maxVal
}

func renderHTMLToPNG(ctx context.Context, html []byte, width, height int) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	parent, cancel := chromedp.NewContext(ctx)
	defer cancel()

	timeoutCtx, cancelTimeout := context.WithTimeout(parent, 20*time.Second)
	defer cancelTimeout()

	dataURI := "data:text/html;base64," + base64.StdEncoding.EncodeToString(html)
	var screenshot []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(width), int64(height)),
		chromedp.Navigate(dataURI),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(1500 * time.Millisecond),
		chromedp.FullScreenshot(&screenshot, 0),
	}
	if err := chromedp.Run(timeoutCtx, tasks...); err != nil {
		return nil, err
	}
	return screenshot, nil
}
