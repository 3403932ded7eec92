// Replay tool for checking a carsim deployment against recorded simulations.
//
// Usage:
//
//	go run ./cmd/replay -csv /path/to/simulations.csv -url http://localhost:8080
//
// This tool:
//  1. Reads recorded simulation requests with their expected outcome
//  2. Sends each request to POST /simulations
//  3. Compares the returned result code and price with the recorded ones
//  4. Prints an outcome matrix, price drift and latency figures
package main

import (
	"bytes"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"

	"github.com/opensource-finance/carsim/internal/domain"
)

// Case is one recorded simulation.
type Case struct {
	Line     int
	Request  domain.SimulationRequest
	Expected domain.ResultCode
	// Price is the recorded estimated price; nil when none was recorded.
	Price *float64
}

// Outcome is what the server answered for a case.
type Outcome struct {
	Case   Case
	Result domain.ResultCode
	Price  *float64
	Err    error
}

// Metrics tracks replay results.
type Metrics struct {
	mu sync.Mutex
	// matrix[expected][actual]
	matrix map[domain.ResultCode]map[domain.ResultCode]int64

	TotalProcessed int64
	TotalErrors    int64
	PriceMismatch  int64
	MaxPriceDrift  float64

	ProcessingTimeMs int64
}

func newMetrics() *Metrics {
	return &Metrics{matrix: make(map[domain.ResultCode]map[domain.ResultCode]int64)}
}

// Record tallies one outcome. Prices count as matching within tolerance.
func (m *Metrics) Record(o Outcome, tolerance float64) {
	atomic.AddInt64(&m.TotalProcessed, 1)
	if o.Err != nil {
		atomic.AddInt64(&m.TotalErrors, 1)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.matrix[o.Case.Expected]
	if !ok {
		row = make(map[domain.ResultCode]int64)
		m.matrix[o.Case.Expected] = row
	}
	row[o.Result]++

	if o.Case.Price == nil || o.Price == nil {
		return
	}
	drift := math.Abs(*o.Price - *o.Case.Price)
	if drift > m.MaxPriceDrift {
		m.MaxPriceDrift = drift
	}
	if drift > tolerance {
		m.PriceMismatch++
	}
}

// Matches returns the number of cases whose result code was reproduced.
func (m *Metrics) Matches() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for code, row := range m.matrix {
		n += row[code]
	}
	return n
}

func main() {
	csvPath := flag.String("csv", "", "Path to recorded simulations CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Carsim base URL")
	locale := flag.String("locale", "en", "Message locale for requests")
	limit := flag.Int("limit", 0, "Maximum simulations to replay (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	tolerance := flag.Float64("tolerance", 0.01, "Accepted price difference in EUR")
	verbose := flag.Bool("verbose", false, "Print each simulation result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: replay -csv /path/to/simulations.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║            CARSIM REPLAY - Recorded Simulations               ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Carsim URL:  %s\n", *baseURL)
	fmt.Printf("Locale:      %s\n", *locale)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Tolerance:   %.2f\n", *tolerance)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: carsim not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure carsim is running:")
		fmt.Println("  go run ./cmd/carsim")
		os.Exit(1)
	}
	fmt.Println("✓ carsim is healthy")

	file, err := os.Open(*csvPath)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
	cases, err := readCases(file, *limit)
	file.Close()
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %d simulations\n", len(cases))

	fmt.Printf("\nReplaying with %d workers...\n", *workers)
	startTime := time.Now()
	api := &apiClient{http: &http.Client{Timeout: 60 * time.Second}, baseURL: *baseURL, locale: *locale}
	metrics := replay(cases, api.simulate, *workers, *tolerance, *verbose)
	duration := time.Since(startTime)

	printResults(metrics, duration)
	if metrics.TotalErrors > 0 || metrics.Matches() != metrics.TotalProcessed || metrics.PriceMismatch > 0 {
		os.Exit(2)
	}
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

var requiredColumns = []string{"brandid", "fueltypeid", "km", "firstregisteredat", "expectedresult"}

// readCases parses the recorded simulations. Columns are matched by header
// name, case-insensitively. Malformed rows fail the whole file.
func readCases(r io.Reader, limit int) ([]Case, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, col := range requiredColumns {
		if _, ok := colIndex[col]; !ok {
			return nil, fmt.Errorf("missing column %q", col)
		}
	}

	get := func(record []string, col string) string {
		i, ok := colIndex[col]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}
	optional := func(record []string, col string) *string {
		if v := get(record, col); v != "" {
			return &v
		}
		return nil
	}

	var cases []Case
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		km, err := strconv.Atoi(get(record, "km"))
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid km: %w", line, err)
		}
		registered, err := domain.ParseDate(get(record, "firstregisteredat"))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		c := Case{
			Line: line,
			Request: domain.SimulationRequest{
				BrandID:            get(record, "brandid"),
				FuelTypeID:         get(record, "fueltypeid"),
				CarTypeID:          optional(record, "cartypeid"),
				CarTypeOther:       optional(record, "cartypeother"),
				Km:                 km,
				FirstRegisteredAt:  registered,
				IsVan:              get(record, "isvan") == "true",
				HubID:              optional(record, "hubid"),
				TownID:             optional(record, "townid"),
				SimulationRegionID: optional(record, "simulationregionid"),
			},
			Expected: domain.ResultCode(strings.ToUpper(get(record, "expectedresult"))),
		}
		if raw := get(record, "expectedprice"); raw != "" {
			price, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid expectedPrice: %w", line, err)
			}
			c.Price = &price
		}

		cases = append(cases, c)
		if limit > 0 && len(cases) >= limit {
			break
		}
	}

	return cases, nil
}

type simulateFunc func(c Case) Outcome

func replay(cases []Case, simulate simulateFunc, numWorkers int, tolerance float64, verbose bool) *Metrics {
	metrics := newMetrics()

	work := make(chan Case, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range work {
				start := time.Now()
				o := simulate(c)
				atomic.AddInt64(&metrics.ProcessingTimeMs, time.Since(start).Milliseconds())
				metrics.Record(o, tolerance)

				if verbose {
					printOutcome(o)
				}
			}
		}()
	}

	for _, c := range cases {
		work <- c
	}
	close(work)

	wg.Wait()
	return metrics
}

func printOutcome(o Outcome) {
	if o.Err != nil {
		fmt.Printf("ERROR: line %d -> %v\n", o.Case.Line, o.Err)
		return
	}
	status := "✓"
	if o.Result != o.Case.Expected {
		status = "✗"
	}
	price := "-"
	if o.Price != nil {
		price = strconv.FormatFloat(*o.Price, 'f', 2, 64)
	}
	fmt.Printf("%s line %-5d | Km: %7d | Registered: %s | Expected: %-13s | Carsim: %-13s | Price: %s\n",
		status, o.Case.Line, o.Case.Request.Km, o.Case.Request.FirstRegisteredAt,
		o.Case.Expected, o.Result, price)
}

type apiClient struct {
	http    *http.Client
	baseURL string
	locale  string
}

func (c *apiClient) simulate(rc Case) Outcome {
	out := Outcome{Case: rc}

	body, err := json.Marshal(rc.Request)
	if err != nil {
		out.Err = err
		return out
	}

	httpReq, err := http.NewRequest(http.MethodPost, c.baseURL+"/simulations", bytes.NewReader(body))
	if err != nil {
		out.Err = err
		return out
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept-Language", c.locale)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		out.Err = err
		return out
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		out.Err = fmt.Errorf("status %d", resp.StatusCode)
		return out
	}

	var sim domain.Simulation
	if err := json.NewDecoder(resp.Body).Decode(&sim); err != nil {
		out.Err = err
		return out
	}
	out.Result = sim.ResultCode
	out.Price = sim.EstimatedPrice
	return out
}

var resultCodes = []domain.ResultCode{domain.ResultOK, domain.ResultNotOK, domain.ResultManualReview}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                       REPLAY RESULTS                          ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\nDATASET\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\nOUTCOME MATRIX (rows expected, columns carsim)\n")
	fmt.Printf("   %-15s", "")
	for _, code := range resultCodes {
		fmt.Printf("%15s", code)
	}
	fmt.Println()
	m.mu.Lock()
	for _, expected := range resultCodes {
		fmt.Printf("   %-15s", expected)
		for _, actual := range resultCodes {
			fmt.Printf("%15d", m.matrix[expected][actual])
		}
		fmt.Println()
	}
	m.mu.Unlock()

	fmt.Printf("\nPRICES\n")
	fmt.Printf("   Result matches:   %d / %d\n", m.Matches(), m.TotalProcessed-m.TotalErrors)
	fmt.Printf("   Price mismatches: %d\n", m.PriceMismatch)
	fmt.Printf("   Max drift:        %.2f EUR\n", m.MaxPriceDrift)

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		sps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f sim/sec\n", sps)
	}
	fmt.Println()
}
