// Command kestrel-sample draws an audit sample from a ledger CSV without a server.
//
// Usage:
//
//	kestrel-sample -ledger gl.csv -job job.yaml [-config kestrel.yaml] [-items=false]
//
// The job file names the ledger, the standard-account mapping, the population
// scope and the sampling parameters. The resulting run is printed as JSON.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/ledger"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/sampling"
	"github.com/opensource-finance/kestrel/internal/selector"
)

const offlineTenant = "offline"

func main() {
	ledgerPath := flag.String("ledger", "", "Path to the ledger CSV export")
	jobPath := flag.String("job", "", "Path to the YAML sampling job")
	configPath := flag.String("config", "", "Optional Kestrel config for factors, weights and high-risk rules")
	withItems := flag.Bool("items", true, "Include sampled items in the output")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	if *ledgerPath == "" || *jobPath == "" {
		fmt.Fprintln(os.Stderr, "Usage: kestrel-sample -ledger gl.csv -job job.yaml [-config kestrel.yaml] [-items=false]")
		os.Exit(2)
	}

	if err := run(*ledgerPath, *jobPath, *configPath, *withItems, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "kestrel-sample: %v\n", err)
		if errors.Is(err, domain.ErrInvalidParameters) || errors.Is(err, domain.ErrInvalidInput) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(ledgerPath, jobPath, configPath string, withItems bool, out io.Writer) error {
	cfg := domain.DefaultConfig()
	if configPath != "" {
		loaded, err := domain.LoadConfig(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	job, err := ledger.LoadJob(jobPath)
	if err != nil {
		return err
	}
	params, err := domain.NewSamplingParameters(job.Parameters)
	if err != nil {
		return err
	}

	txs, err := readLedger(ledgerPath)
	if err != nil {
		return err
	}

	var matcher selector.HighRiskMatcher
	if len(cfg.Sampling.HighRiskRules) > 0 {
		ruleEngine, err := rules.NewEngine()
		if err != nil {
			return err
		}
		defer ruleEngine.Close()
		if err := ruleEngine.LoadRules(cfg.Sampling.HighRiskRules); err != nil {
			return err
		}
		matcher = ruleEngine
	}

	engine, err := sampling.NewEngineFromConfig(cfg.Sampling, matcher)
	if err != nil {
		return err
	}

	result, err := engine.Run(sampling.Request{
		TenantID:     offlineTenant,
		Ledger:       job.Key(),
		DataVersion:  1,
		Transactions: txs,
		Scope:        job.Scope,
		Resolver:     job.Resolver(),
		Params:       params,
	})
	if err != nil {
		return err
	}
	if !withItems {
		result.Items = nil
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func readLedger(path string) ([]domain.Transaction, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	defer file.Close()

	reqs, err := ledger.ReadCSV(file)
	if err != nil {
		return nil, err
	}

	txs := make([]domain.Transaction, 0, len(reqs))
	seen := make(map[string]struct{}, len(reqs))
	for i := range reqs {
		tx, err := reqs[i].ToTransaction()
		if err != nil {
			return nil, err
		}
		if _, dup := seen[tx.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate transaction id %s", domain.ErrInvalidInput, tx.ID)
		}
		seen[tx.ID] = struct{}{}
		txs = append(txs, tx)
	}
	return txs, nil
}
