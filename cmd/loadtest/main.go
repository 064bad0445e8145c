// Command loadtest гоняет конкурентное оформление заказов на один товар через gRPC
// и проверяет, что списанный сток сходится с числом принятых заказов.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	storefrontv1 "github.com/vladislavdragonenkov/quickart/api/storefront/v1"
)

const (
	idempotencyHeader = "idempotency-key"
	defaultPrice      = int64(1000)
	statusConfirmed   = "confirmed"
)

type loadMode string

const (
	modePlace        loadMode = "place"
	modePlaceDeliver loadMode = "place-deliver"
)

type config struct {
	addr        string
	httpAddr    string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	connections int
	timeout     time.Duration
	mode        loadMode
	itemID      string
	storeID     string
	priceMinor  int64
	quantity    int
	seedStock   int
	customerTag string
	outputPath  string
}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type methodReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

// stockCheck сверяет остаток товара с числом принятых заказов.
type stockCheck struct {
	ItemID       string `json:"item_id"`
	Initial      int    `json:"initial"`
	Remaining    int    `json:"remaining"`
	PlacedOrders int64  `json:"placed_orders"`
	Quantity     int    `json:"quantity"`
	Consistent   bool   `json:"consistent"`
}

type report struct {
	StartedAt         time.Time               `json:"started_at"`
	DurationSeconds   float64                 `json:"duration_seconds"`
	TotalScenarios    int64                   `json:"total_scenarios"`
	SuccessScenarios  int64                   `json:"success_scenarios"`
	FailedScenarios   int64                   `json:"failed_scenarios"`
	ErrorRate         float64                 `json:"error_rate"`
	RPS               float64                 `json:"rps"`
	ScenarioLatencyMs latencySummary          `json:"scenario_latency_ms"`
	PlacedOrders      int64                   `json:"placed_orders"`
	SoldOut           int64                   `json:"sold_out"`
	Methods           map[string]methodReport `json:"methods"`
	Stock             *stockCheck             `json:"stock,omitempty"`
}

type methodStats struct {
	calls     int64
	success   int64
	failed    int64
	codes     map[string]int64
	latencies []float64
}

type collector struct {
	mu      sync.Mutex
	methods map[string]*methodStats
}

func newCollector() *collector {
	return &collector{
		methods: make(map[string]*methodStats),
	}
}

func (c *collector) record(method string, latency time.Duration, code codes.Code) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.methods[method]
	if !ok {
		stats = &methodStats{
			codes: make(map[string]int64),
		}
		c.methods[method] = stats
	}

	stats.calls++
	if code == codes.OK {
		stats.success++
	} else {
		stats.failed++
	}
	stats.codes[code.String()]++
	stats.latencies = append(stats.latencies, float64(latency.Microseconds())/1000.0)
}

func (c *collector) snapshot(name string) (methodReport, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.methods[name]
	if !ok {
		return methodReport{}, false
	}

	codesCopy := make(map[string]int64, len(stats.codes))
	for code, count := range stats.codes {
		codesCopy[code] = count
	}

	return methodReport{
		Calls:     stats.calls,
		Success:   stats.success,
		Failed:    stats.failed,
		ErrorRate: ratio(stats.failed, stats.calls),
		Codes:     codesCopy,
		LatencyMs: buildLatencySummary(stats.latencies),
	}, true
}

func (c *collector) buildReport(startedAt time.Time, duration time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: duration.Seconds(),
		Methods:         make(map[string]methodReport, len(c.methods)),
	}

	scenarioStats := c.methods["scenario"]
	if scenarioStats != nil {
		result.TotalScenarios = scenarioStats.calls
		result.SuccessScenarios = scenarioStats.success
		result.FailedScenarios = scenarioStats.failed
		result.ErrorRate = ratio(scenarioStats.failed, scenarioStats.calls)
		result.ScenarioLatencyMs = buildLatencySummary(scenarioStats.latencies)
	}
	if duration > 0 {
		result.RPS = float64(result.TotalScenarios) / duration.Seconds()
	}

	for name, stats := range c.methods {
		codesCopy := make(map[string]int64, len(stats.codes))
		for code, count := range stats.codes {
			codesCopy[code] = count
		}
		result.Methods[name] = methodReport{
			Calls:     stats.calls,
			Success:   stats.success,
			Failed:    stats.failed,
			ErrorRate: ratio(stats.failed, stats.calls),
			Codes:     codesCopy,
			LatencyMs: buildLatencySummary(stats.latencies),
		}
	}

	return result
}

func parseConfig() (config, error) {
	var cfg config
	var modeValue string
	var timeoutValue string
	var durationValue string

	flag.StringVar(&cfg.addr, "addr", "localhost:50051", "gRPC target address")
	flag.StringVar(&cfg.httpAddr, "http", "http://localhost:8080", "HTTP API base URL used to seed and check the item")
	flag.IntVar(&cfg.total, "total", 400, "total scenarios to execute in count mode; in duration mode only used when explicitly set")
	flag.StringVar(&durationValue, "duration", "0s", "optional time-based run duration (e.g. 10m, 15m)")
	flag.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	flag.IntVar(&cfg.connections, "connections", 20, "number of gRPC client connections")
	flag.StringVar(&timeoutValue, "timeout", "5s", "per-RPC timeout")
	flag.StringVar(&modeValue, "mode", string(modePlace), "load mode: place | place-deliver")
	flag.StringVar(&cfg.itemID, "item", "", "existing item id; when empty a new item is seeded with -seed-stock")
	flag.StringVar(&cfg.storeID, "store", "store-load", "store id of the ordered item")
	flag.Int64Var(&cfg.priceMinor, "price-minor", defaultPrice, "item price in minor units")
	flag.IntVar(&cfg.quantity, "quantity", 1, "quantity per order")
	flag.IntVar(&cfg.seedStock, "seed-stock", 100, "stock of the seeded item")
	flag.StringVar(&cfg.customerTag, "customer-tag", "load", "customer id prefix")
	flag.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	flag.Parse()

	timeout, err := time.ParseDuration(strings.TrimSpace(timeoutValue))
	if err != nil {
		return cfg, fmt.Errorf("parse timeout: %w", err)
	}
	cfg.timeout = timeout

	duration, err := time.ParseDuration(strings.TrimSpace(durationValue))
	if err != nil {
		return cfg, fmt.Errorf("parse duration: %w", err)
	}
	cfg.duration = duration

	flag.CommandLine.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode

	if cfg.duration < 0 {
		return cfg, errors.New("duration must be >= 0")
	}
	if cfg.duration == 0 && cfg.total <= 0 {
		return cfg, errors.New("total must be > 0 when duration is not set")
	}
	if cfg.duration > 0 && cfg.totalSet && cfg.total <= 0 {
		return cfg, errors.New("total must be > 0 when explicitly set with duration")
	}
	if cfg.concurrency <= 0 {
		return cfg, errors.New("concurrency must be > 0")
	}
	if cfg.connections <= 0 {
		return cfg, errors.New("connections must be > 0")
	}
	if cfg.timeout <= 0 {
		return cfg, errors.New("timeout must be > 0")
	}
	if cfg.priceMinor <= 0 {
		return cfg, errors.New("price-minor must be > 0")
	}
	if cfg.quantity <= 0 {
		return cfg, errors.New("quantity must be > 0")
	}
	if strings.TrimSpace(cfg.itemID) == "" && cfg.seedStock <= 0 {
		return cfg, errors.New("either item or seed-stock > 0 is required")
	}
	if strings.TrimSpace(cfg.storeID) == "" {
		return cfg, errors.New("store is required")
	}
	if strings.TrimSpace(cfg.customerTag) == "" {
		return cfg, errors.New("customer-tag is required")
	}

	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch loadMode(strings.TrimSpace(value)) {
	case modePlace:
		return modePlace, nil
	case modePlaceDeliver:
		return modePlaceDeliver, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := parseConfig()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		return 1
	}

	catalog := &catalogClient{baseURL: strings.TrimRight(cfg.httpAddr, "/"), http: &http.Client{Timeout: cfg.timeout}}
	initialStock := -1
	if strings.TrimSpace(cfg.itemID) == "" {
		item, seedErr := catalog.seedItem(cfg)
		if seedErr != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to seed item: %v\n", seedErr)
			return 1
		}
		cfg.itemID = item.ID
		initialStock = item.Stock
	}

	conns := make([]*grpc.ClientConn, 0, cfg.connections)
	clients := make([]storefrontv1.StorefrontServiceClient, 0, cfg.connections)
	defer func() {
		for _, conn := range conns {
			_ = conn.Close()
		}
	}()
	for i := 0; i < cfg.connections; i++ {
		conn, dialErr := grpc.NewClient(cfg.addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if dialErr != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to create grpc client connection: %v\n", dialErr)
			return 1
		}
		conns = append(conns, conn)
		clients = append(clients, storefrontv1.NewStorefrontServiceClient(conn))
	}

	startedAt := time.Now()
	runID := fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid())
	col := newCollector()
	var outcomes scenarioOutcomes

	jobs := make(chan int, cfg.concurrency*2)
	var failures int64
	var wg sync.WaitGroup

	for workerID := 0; workerID < cfg.concurrency; workerID++ {
		wg.Add(1)
		client := clients[workerID%len(clients)]
		go func(cli storefrontv1.StorefrontServiceClient) {
			defer wg.Done()
			for id := range jobs {
				if runErr := runScenario(cli, cfg, id, runID, col, &outcomes); runErr != nil {
					atomic.AddInt64(&failures, 1)
				}
			}
		}(client)
	}

	dispatchJobs(jobs, cfg)
	wg.Wait()

	duration := time.Since(startedAt)
	result := col.buildReport(startedAt, duration)
	result.PlacedOrders = atomic.LoadInt64(&outcomes.placed)
	result.SoldOut = atomic.LoadInt64(&outcomes.soldOut)
	if result.FailedScenarios == 0 && failures > 0 {
		result.FailedScenarios = failures
		result.ErrorRate = ratio(result.FailedScenarios, result.TotalScenarios)
	}

	if initialStock >= 0 {
		item, getErr := catalog.getItem(cfg.itemID)
		if getErr != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to read item after run: %v\n", getErr)
			return 1
		}
		result.Stock = checkStock(cfg.itemID, initialStock, item.Stock, result.PlacedOrders, cfg.quantity)
	}

	printReport(result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			return 1
		}
	}

	if result.FailedScenarios > 0 || (result.Stock != nil && !result.Stock.Consistent) {
		return 1
	}
	return 0
}

func dispatchJobs(jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := 0; i < cfg.total; i++ {
			jobs <- i
		}
		return
	}

	timer := time.NewTimer(cfg.duration)
	defer timer.Stop()

	for i := 0; ; i++ {
		if cfg.totalSet && i >= cfg.total {
			return
		}

		select {
		case <-timer.C:
			return
		case jobs <- i:
		}
	}
}

type scenarioOutcomes struct {
	placed  int64
	soldOut int64
}

// runScenario оформляет заказ; отказ по остатку (FailedPrecondition) считается ожидаемым исходом.
func runScenario(
	client storefrontv1.StorefrontServiceClient,
	cfg config,
	index int,
	runID string,
	col *collector,
	outcomes *scenarioOutcomes,
) error {
	scenarioStart := time.Now()
	scenarioCode := codes.OK
	defer func() {
		col.record("scenario", time.Since(scenarioStart), scenarioCode)
	}()

	req := &storefrontv1.PlaceOrderRequest{
		Lines: []*storefrontv1.CartLine{{
			ItemID:     cfg.itemID,
			Name:       "load item",
			PriceMinor: cfg.priceMinor,
			Quantity:   int32(cfg.quantity),
			StoreID:    cfg.storeID,
		}},
		TotalMinor:      cfg.priceMinor * int64(cfg.quantity),
		DeliveryAddress: "Load street 1",
		Phone:           "+10000000000",
		Requester:       &storefrontv1.Requester{ID: fmt.Sprintf("%s-%s-%d", cfg.customerTag, runID, index)},
	}

	placeKey := fmt.Sprintf("lt-place-%s-%d", runID, index)
	resp, err := callPlaceOrder(client, cfg.timeout, req, placeKey, col)
	if status.Code(err) == codes.FailedPrecondition {
		atomic.AddInt64(&outcomes.soldOut, 1)
		return nil
	}
	if err != nil {
		scenarioCode = grpcCode(err)
		return err
	}
	orderID := resp.GetOrderID()
	if orderID == "" {
		scenarioCode = codes.Internal
		return errors.New("place response returned empty order id")
	}
	atomic.AddInt64(&outcomes.placed, 1)

	if cfg.mode == modePlace {
		return nil
	}

	if err := deliverOrder(client, cfg.timeout, orderID, col); err != nil {
		scenarioCode = grpcCode(err)
		return err
	}
	return nil
}

func callPlaceOrder(
	client storefrontv1.StorefrontServiceClient,
	timeout time.Duration,
	req *storefrontv1.PlaceOrderRequest,
	key string,
	col *collector,
) (*storefrontv1.PlaceOrderResponse, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	ctx = metadata.AppendToOutgoingContext(ctx, idempotencyHeader, key)

	resp, err := client.PlaceOrder(ctx, req)
	col.record("PlaceOrder", time.Since(start), grpcCode(err))
	return resp, err
}

// deliverOrder проводит заказ по всей цепочке статусов до delivered.
func deliverOrder(client storefrontv1.StorefrontServiceClient, timeout time.Duration, orderID string, col *collector) error {
	timed := func(method string, call func(ctx context.Context) error) error {
		start := time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		err := call(ctx)
		col.record(method, time.Since(start), grpcCode(err))
		return err
	}

	var otp string
	if err := timed("GetOrder", func(ctx context.Context) error {
		resp, err := client.GetOrder(ctx, &storefrontv1.GetOrderRequest{OrderID: orderID})
		if err != nil {
			return err
		}
		if resp.Order == nil || resp.Order.OTP == "" {
			return status.Error(codes.Internal, "order has no otp")
		}
		otp = resp.Order.OTP
		return nil
	}); err != nil {
		return err
	}

	if err := timed("UpdateOrderStatus", func(ctx context.Context) error {
		_, err := client.UpdateOrderStatus(ctx, &storefrontv1.UpdateOrderStatusRequest{OrderID: orderID, Status: statusConfirmed})
		return err
	}); err != nil {
		return err
	}

	if err := timed("AssignDeliveryPerson", func(ctx context.Context) error {
		_, err := client.AssignDeliveryPerson(ctx, &storefrontv1.AssignDeliveryPersonRequest{
			OrderID:            orderID,
			DeliveryPersonID:   "courier-load",
			DeliveryPersonName: "Load Courier",
		})
		return err
	}); err != nil {
		return err
	}

	return timed("VerifyDeliveryOtp", func(ctx context.Context) error {
		_, err := client.VerifyDeliveryOtp(ctx, &storefrontv1.VerifyDeliveryOtpRequest{OrderID: orderID, OTP: otp})
		return err
	})
}

func checkStock(itemID string, initial, remaining int, placed int64, quantity int) *stockCheck {
	expected := initial - int(placed)*quantity
	return &stockCheck{
		ItemID:       itemID,
		Initial:      initial,
		Remaining:    remaining,
		PlacedOrders: placed,
		Quantity:     quantity,
		Consistent:   remaining >= 0 && remaining == expected,
	}
}

type catalogItem struct {
	ID    string `json:"id"`
	Stock int    `json:"stock"`
}

// catalogClient работает с товарами через HTTP API: в gRPC их нет.
type catalogClient struct {
	baseURL string
	http    *http.Client
}

func (c *catalogClient) seedItem(cfg config) (catalogItem, error) {
	body, err := json.Marshal(map[string]any{
		"name":        "load item",
		"description": "seeded by loadtest",
		"category":    "load",
		"price_minor": cfg.priceMinor,
		"stock":       cfg.seedStock,
		"store_id":    cfg.storeID,
	})
	if err != nil {
		return catalogItem{}, err
	}
	resp, err := c.http.Post(c.baseURL+"/v1/items", "application/json", bytes.NewReader(body))
	if err != nil {
		return catalogItem{}, err
	}
	return decodeItem(resp, http.StatusCreated)
}

func (c *catalogClient) getItem(id string) (catalogItem, error) {
	resp, err := c.http.Get(c.baseURL + "/v1/items/" + id)
	if err != nil {
		return catalogItem{}, err
	}
	return decodeItem(resp, http.StatusOK)
}

func decodeItem(resp *http.Response, want int) (catalogItem, error) {
	defer resp.Body.Close()
	if resp.StatusCode != want {
		return catalogItem{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var item catalogItem
	if err := json.NewDecoder(resp.Body).Decode(&item); err != nil {
		return catalogItem{}, fmt.Errorf("decode item: %w", err)
	}
	if item.ID == "" {
		return catalogItem{}, errors.New("item response has empty id")
	}
	return item, nil
}

func grpcCode(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	return status.Code(err)
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	// #nosec G304 -- path is an explicit CLI output parameter for local load-test reports.
	file, err := os.Create(cleanPath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func printReport(result report, cfg config) {
	fmt.Println("Load test summary")
	fmt.Printf("mode=%s run=%s total=%d success=%d failed=%d error_rate=%.4f\n",
		cfg.mode,
		runTarget(cfg),
		result.TotalScenarios,
		result.SuccessScenarios,
		result.FailedScenarios,
		result.ErrorRate,
	)
	fmt.Printf("duration=%.2fs rps=%.2f placed=%d sold_out=%d\n", result.DurationSeconds, result.RPS, result.PlacedOrders, result.SoldOut)
	if result.Stock != nil {
		fmt.Printf("stock item=%s initial=%d remaining=%d consistent=%t\n",
			result.Stock.ItemID, result.Stock.Initial, result.Stock.Remaining, result.Stock.Consistent)
	}
	fmt.Printf("scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		result.ScenarioLatencyMs.Min,
		result.ScenarioLatencyMs.Avg,
		result.ScenarioLatencyMs.P50,
		result.ScenarioLatencyMs.P95,
		result.ScenarioLatencyMs.P99,
		result.ScenarioLatencyMs.Max,
	)

	methodNames := make([]string, 0, len(result.Methods))
	for name := range result.Methods {
		if name == "scenario" {
			continue
		}
		methodNames = append(methodNames, name)
	}
	sort.Strings(methodNames)
	for _, name := range methodNames {
		stats := result.Methods[name]
		fmt.Printf(
			"%s: calls=%d success=%d failed=%d error_rate=%.4f p95=%.2fms\n",
			name,
			stats.Calls,
			stats.Success,
			stats.Failed,
			stats.ErrorRate,
			stats.LatencyMs.P95,
		)
	}
}

func runTarget(cfg config) string {
	if cfg.duration <= 0 {
		return fmt.Sprintf("count:%d", cfg.total)
	}
	if cfg.totalSet {
		return fmt.Sprintf("duration:%s,max-total:%d", cfg.duration, cfg.total)
	}
	return fmt.Sprintf("duration:%s", cfg.duration)
}

func buildLatencySummary(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, value := range sorted {
		sum += value
	}

	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := (p / 100.0) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}

	weight := rank - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*weight
}

func ratio(failed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(failed) / float64(total)
}
