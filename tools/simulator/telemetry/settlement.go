package telemetry

import (
	"fmt"
	"io/fs"
	"math/big"
	"os"
	"sort"
	"sync"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goccy/go-json"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/smartcontractkit/chainlink-automation-registry/pkg/types"
)

// ReportCollector receives settlement results as reports are transmitted.
type ReportCollector interface {
	CollectReport(block *big.Int, transmitter common.Address, results []types.UpkeepResult)
}

// SettlementCollector accumulates every settled report entry for the run and
// renders per-upkeep summaries once the simulation completes.
type SettlementCollector struct {
	mu       sync.Mutex
	filePath string
	verbose  bool
	points   []settlementPoint
}

type settlementPoint struct {
	Block        uint64 `json:"block"`
	Transmitter  string `json:"transmitter"`
	UpkeepID     string `json:"upkeepID"`
	Outcome      string `json:"outcome"`
	Success      bool   `json:"success"`
	GasUsed      uint64 `json:"gasUsed"`
	GasOverhead  uint64 `json:"gasOverhead"`
	GasCharge    string `json:"gasCharge"`
	Premium      string `json:"premium"`
	TotalPayment string `json:"totalPayment"`
}

func NewSettlementCollector(path string, verbose bool) *SettlementCollector {
	if verbose {
		err := os.MkdirAll(path, 0750)
		if err != nil && !os.IsExist(err) {
			panic(err)
		}
	}

	return &SettlementCollector{
		filePath: path,
		verbose:  verbose,
		points:   make([]settlementPoint, 0, 1000),
	}
}

func (c *SettlementCollector) CollectReport(block *big.Int, transmitter common.Address, results []types.UpkeepResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, result := range results {
		c.points = append(c.points, settlementPoint{
			Block:        block.Uint64(),
			Transmitter:  transmitter.Hex(),
			UpkeepID:     result.UpkeepID.String(),
			Outcome:      result.Outcome.String(),
			Success:      result.Success,
			GasUsed:      result.GasUsed,
			GasOverhead:  result.GasOverhead,
			GasCharge:    bigString(result.GasCharge),
			Premium:      bigString(result.Premium),
			TotalPayment: bigString(result.TotalPayment),
		})
	}
}

// WriteResults dumps the raw settlement points as JSON. A no-op unless
// verbose output is on.
func (c *SettlementCollector) WriteResults() error {
	if !c.verbose {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	b, err := json.Marshal(c.points)
	if err != nil {
		return err
	}

	return c.writeDataToFile(fmt.Sprintf("%s/settlement_telemetry.json", c.filePath), b)
}

func (c *SettlementCollector) writeDataToFile(path string, data []byte) error {
	var perms fs.FileMode = 0666
	flag := os.O_RDWR | os.O_CREATE | os.O_TRUNC

	f, err := os.OpenFile(path, flag, perms)
	if err != nil {
		return err
	}

	defer f.Close()

	_, err = f.Write(data)
	return err
}

// PrintTabularResults renders a per-upkeep settlement summary.
func (c *SettlementCollector) PrintTabularResults() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	tw := table.NewWriter()
	tw.SetTitle("Settlement Summary per Upkeep")
	tw.AppendHeader(table.Row{
		"ID",
		"Performed",
		"Stale",
		"Reorged",
		"Cancelled",
		"Gas Used",
		"Gas Charge",
		"Premium",
		"Total Payment",
	})

	summaries := c.collapseData()

	ids := make([]string, 0, len(summaries))
	for id := range summaries {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	totals := newUpkeepSummary("total")

	for _, id := range ids {
		summary := summaries[id]

		tw.AppendRow(table.Row{
			shorten(summary.ID, 8),
			summary.Performed,
			summary.Stale,
			summary.Reorged,
			summary.Cancelled,
			summary.GasUsed,
			summary.GasCharge,
			summary.Premium,
			summary.TotalPayment,
		})

		totals.merge(summary)
	}

	tw.AppendFooter(table.Row{
		totals.ID,
		totals.Performed,
		totals.Stale,
		totals.Reorged,
		totals.Cancelled,
		totals.GasUsed,
		totals.GasCharge,
		totals.Premium,
		totals.TotalPayment,
	})

	return tw.Render()
}

func (c *SettlementCollector) collapseData() map[string]*upkeepSummary {
	mapper := make(map[string]*upkeepSummary)

	for _, point := range c.points {
		summary, exists := mapper[point.UpkeepID]
		if !exists {
			summary = newUpkeepSummary(point.UpkeepID)
			mapper[point.UpkeepID] = summary
		}

		summary.add(point)
	}

	return mapper
}

// paymentsPerBlock aggregates charged totals and premiums by block number for
// chart rendering. Blocks are returned in ascending order.
func (c *SettlementCollector) paymentsPerBlock() ([]uint64, []*big.Int, []*big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	byBlock := make(map[uint64]*upkeepSummary)

	for _, point := range c.points {
		summary, exists := byBlock[point.Block]
		if !exists {
			summary = newUpkeepSummary("")
			byBlock[point.Block] = summary
		}

		summary.add(point)
	}

	blocks := make([]uint64, 0, len(byBlock))
	for block := range byBlock {
		blocks = append(blocks, block)
	}

	sort.Slice(blocks, func(i, j int) bool { return blocks[i] < blocks[j] })

	payments := make([]*big.Int, len(blocks))
	premiums := make([]*big.Int, len(blocks))

	for idx, block := range blocks {
		payments[idx] = byBlock[block].TotalPayment
		premiums[idx] = byBlock[block].Premium
	}

	return blocks, payments, premiums
}

func newUpkeepSummary(id string) *upkeepSummary {
	return &upkeepSummary{
		ID:           id,
		GasCharge:    big.NewInt(0),
		Premium:      big.NewInt(0),
		TotalPayment: big.NewInt(0),
	}
}

type upkeepSummary struct {
	ID           string
	Performed    int
	Stale        int
	Reorged      int
	Cancelled    int
	GasUsed      uint64
	GasCharge    *big.Int
	Premium      *big.Int
	TotalPayment *big.Int
}

func (s *upkeepSummary) add(point settlementPoint) {
	switch point.Outcome {
	case types.OutcomePerformed.String():
		s.Performed++
	case types.OutcomeStale.String():
		s.Stale++
	case types.OutcomeReorged.String():
		s.Reorged++
	case types.OutcomeCancelled.String():
		s.Cancelled++
	}

	s.GasUsed += point.GasUsed
	s.GasCharge.Add(s.GasCharge, bigFromString(point.GasCharge))
	s.Premium.Add(s.Premium, bigFromString(point.Premium))
	s.TotalPayment.Add(s.TotalPayment, bigFromString(point.TotalPayment))
}

func (s *upkeepSummary) merge(other *upkeepSummary) {
	s.Performed += other.Performed
	s.Stale += other.Stale
	s.Reorged += other.Reorged
	s.Cancelled += other.Cancelled
	s.GasUsed += other.GasUsed
	s.GasCharge.Add(s.GasCharge, other.GasCharge)
	s.Premium.Add(s.Premium, other.Premium)
	s.TotalPayment.Add(s.TotalPayment, other.TotalPayment)
}

func bigString(value *big.Int) string {
	if value == nil {
		return "0"
	}

	return value.String()
}

func bigFromString(value string) *big.Int {
	parsed, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return big.NewInt(0)
	}

	return parsed
}

func shorten(full string, outLen int) string {
	if utf8.RuneCountInString(full) < outLen {
		return full
	}

	return string([]byte(full)[:outLen])
}
