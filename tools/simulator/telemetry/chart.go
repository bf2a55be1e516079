package telemetry

import (
	"fmt"
	"math/big"
	"net/http"
	"os"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	echartstypes "github.com/go-echarts/go-echarts/v2/types"
)

// SummaryChart serves the settlement payment charts over http.
func (c *SettlementCollector) SummaryChart() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		_ = c.buildChartPage().Render(w)
	}
}

// RenderChartsToFile writes the settlement payment charts as a standalone
// html page.
func (c *SettlementCollector) RenderChartsToFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	defer f.Close()

	return c.buildChartPage().Render(f)
}

func (c *SettlementCollector) buildChartPage() *components.Page {
	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)

	blocks, payments, premiums := c.paymentsPerBlock()

	labels := make([]string, len(blocks))
	for idx, block := range blocks {
		labels[idx] = fmt.Sprintf("%d", block)
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Theme: echartstypes.ThemeWesteros}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Settlement Payments per Block",
			Subtitle: "total debits and committee premium, token smallest unit",
		}),
		charts.WithXAxisOpts(opts.XAxis{Name: "block", Type: "category"}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", AxisLabel: &opts.AxisLabel{Rotate: 90}}),
		charts.WithToolboxOpts(opts.Toolbox{Show: true}),
		charts.WithLegendOpts(opts.Legend{Left: "center", Top: "top"}))

	line.SetXAxis(labels).
		AddSeries("total payment", generateLineItems(payments)).
		AddSeries("premium", generateLineItems(premiums), charts.WithLineStyleOpts(opts.LineStyle{Color: "red"})).
		SetSeriesOptions(charts.WithLineChartOpts(opts.LineChart{Smooth: true}))

	page.AddCharts(line)

	return page
}

func generateLineItems(values []*big.Int) []opts.LineData {
	items := make([]opts.LineData, len(values))
	for i, value := range values {
		asFloat, _ := new(big.Float).SetInt(value).Float64()
		items[i] = opts.LineData{Value: asFloat, XAxisIndex: i}
	}

	return items
}
