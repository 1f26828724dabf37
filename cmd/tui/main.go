// Command tui is a small terminal menu for inspecting and editing a runner config
// and launching the backtest or paper binaries against it.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"quantbot-go/internal/config"
)

func main() {
	configPath := flag.String("config", "configs/paper.yaml", "Path to YAML config")
	flag.Parse()
	path := filepath.Clean(*configPath)

	reader := bufio.NewReader(os.Stdin)

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	for {
		fmt.Printf("\n=== QuantBot Control (%s) ===\n", path)
		fmt.Println("1) Show configuration summary")
		fmt.Println("2) Edit cash and risk knobs")
		fmt.Println("3) Edit strategy settings")
		fmt.Println("4) Save config")
		fmt.Println("5) Launch backtest")
		fmt.Println("6) Launch paper trader")
		fmt.Println("7) Reload config from disk")
		fmt.Println("0) Exit")
		fmt.Print("Select option: ")

		input, _ := reader.ReadString('\n')
		choice := strings.TrimSpace(input)

		switch choice {
		case "1":
			printSummary(cfg)
		case "2":
			editRisk(reader, cfg)
		case "3":
			editStrategy(reader, cfg)
		case "4":
			if err := cfg.Validate(); err != nil {
				fmt.Fprintf(os.Stderr, "not saved: %v\n", err)
			} else if err := config.Save(path, cfg); err != nil {
				fmt.Fprintf(os.Stderr, "save failed: %v\n", err)
			} else {
				fmt.Println("config saved")
			}
		case "5":
			launch(reader, "./cmd/backtest", path)
		case "6":
			launch(reader, "./cmd/paper", path)
		case "7":
			reloaded, err := config.Load(path)
			if err != nil {
				fmt.Fprintf(os.Stderr, "reload failed: %v\n", err)
			} else {
				cfg = reloaded
				fmt.Println("config reloaded")
			}
		case "0":
			return
		default:
			fmt.Println("unknown option")
		}
	}
}

func printSummary(cfg *config.Config) {
	fmt.Println("\n--- Configuration Summary ---")
	fmt.Printf("Strategy: %s on %s\n", cfg.Strategy.Mode, strings.Join(cfg.InstrumentIDs(), ", "))
	for ccy, amt := range cfg.Paper.StartingCash {
		fmt.Printf("Starting cash: %.2f %s\n", amt, ccy)
	}
	if cfg.Paper.StartingCashFromExchange {
		fmt.Println("Starting cash: taken from exchange balances")
	}
	fmt.Printf("Fee rate: %.4f%%\n", cfg.Paper.FeeRate*100)
	fmt.Printf("Per-trade notional cap: %.2f\n", cfg.Risk.MaxNotionalPerTrade)
	fmt.Printf("Max position value: %.2f\n", cfg.Risk.MaxPositionValue)
	switch cfg.Strategy.Mode {
	case "funding_arb":
		f := cfg.Strategy.Funding
		fmt.Printf("Funding: open >= %.6f, close <= %.6f, check every %ds\n", f.MinFundingRate, f.CloseFundingRate, f.CheckIntervalSecs)
		fmt.Printf("Funding size: qty %.6f or %.2f quote\n", f.TargetQty, f.PositionSizeQuote)
	default:
		s := cfg.Strategy.SMA
		fmt.Printf("SMA: %d/%d, %.2f quote per trade\n", s.ShortWindow, s.LongWindow, s.QuotePerTrade)
	}
	fmt.Printf("Feed: %s | fill wait %s | on transient: %s\n", cfg.Feed.Source, cfg.Engine.FillWait(), cfg.Engine.OnTransient)
}

func editRisk(reader *bufio.Reader, cfg *config.Config) {
	fmt.Println("\n--- Edit Cash / Risk ---")
	if cfg.Paper.StartingCash == nil {
		cfg.Paper.StartingCash = make(map[string]float64)
	}
	for ccy, amt := range cfg.Paper.StartingCash {
		cfg.Paper.StartingCash[ccy] = promptFloat(reader, "Starting cash "+ccy, amt)
	}
	cfg.Paper.FeeRate = promptPercent(reader, "Fee rate (%)", cfg.Paper.FeeRate)
	cfg.Risk.MaxNotionalPerTrade = promptFloat(reader, "Max notional per trade", cfg.Risk.MaxNotionalPerTrade)
	cfg.Risk.MaxPositionValue = promptFloat(reader, "Max position value (0 disables)", cfg.Risk.MaxPositionValue)
}

func editStrategy(reader *bufio.Reader, cfg *config.Config) {
	fmt.Println("\n--- Edit Strategy ---")
	fmt.Printf("Mode [%s] (sma_cross/funding_arb): ", cfg.Strategy.Mode)
	if line, _ := reader.ReadString('\n'); strings.TrimSpace(line) != "" {
		cfg.Strategy.Mode = strings.TrimSpace(line)
	}
	switch cfg.Strategy.Mode {
	case "funding_arb":
		f := &cfg.Strategy.Funding
		f.MinFundingRate = promptFloat(reader, "Min funding rate to open", f.MinFundingRate)
		f.CloseFundingRate = promptFloat(reader, "Funding rate to close at", f.CloseFundingRate)
		f.TargetQty = promptFloat(reader, "Target base quantity", f.TargetQty)
		f.PositionSizeQuote = promptFloat(reader, "Position size in quote (used when qty is 0)", f.PositionSizeQuote)
		f.CheckIntervalSecs = int(promptFloat(reader, "Rate check interval (s)", float64(f.CheckIntervalSecs)))
	default:
		s := &cfg.Strategy.SMA
		s.ShortWindow = int(promptFloat(reader, "Short window", float64(s.ShortWindow)))
		s.LongWindow = int(promptFloat(reader, "Long window", float64(s.LongWindow)))
		s.QuotePerTrade = promptFloat(reader, "Quote per trade", s.QuotePerTrade)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("warning: %v\n", err)
	}
}

func launch(reader *bufio.Reader, pkg, configPath string) {
	fmt.Printf("Launching %s (Ctrl+C to stop)...\n", pkg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := exec.CommandContext(ctx, "go", "run", pkg, "-config", configPath)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin

	if err := cmd.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start %s: %v\n", pkg, err)
		return
	}

	go func() {
		_ = cmd.Wait()
		cancel()
	}()

	fmt.Print("\nPress ENTER to stop and return to menu...")
	_, _ = reader.ReadString('\n')
	cancel()
	time.Sleep(500 * time.Millisecond)
}

func promptFloat(reader *bufio.Reader, label string, current float64) float64 {
	fmt.Printf("%s [%g]: ", label, current)
	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return current
	}
	val, err := strconv.ParseFloat(line, 64)
	if err != nil {
		fmt.Printf("invalid number, keeping %g\n", current)
		return current
	}
	return val
}

func promptPercent(reader *bufio.Reader, label string, current float64) float64 {
	pct := promptFloat(reader, label, current*100)
	return pct / 100
}
