package ledger

import (
	"fmt"
	"os"

	"github.com/opensource-finance/kestrel/internal/domain"
	"gopkg.in/yaml.v3"
)

// Job describes one offline sampling run.
type Job struct {
	Ledger     JobLedger              `yaml:"ledger"`
	Mappings   []JobMapping           `yaml:"mappings"`
	Scope      domain.PopulationScope `yaml:"scope"`
	Parameters domain.ParameterSpec   `yaml:"parameters"`
}

// JobLedger names the ledger being sampled.
type JobLedger struct {
	ClientID   string `yaml:"clientId"`
	FiscalYear int    `yaml:"fiscalYear"`
}

// JobMapping is one standard-account line.
type JobMapping struct {
	StandardNumber string   `yaml:"standardNumber"`
	Accounts       []string `yaml:"accounts"`
}

// LoadJob reads a YAML job file.
func LoadJob(path string) (*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read job: %w", err)
	}
	return ParseJob(data)
}

// ParseJob decodes a YAML job.
func ParseJob(data []byte) (*Job, error) {
	var job Job
	if err := yaml.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("%w: parse job: %v", domain.ErrInvalidInput, err)
	}
	if len(job.Scope.IncludedStandardNumbers) == 0 {
		return nil, fmt.Errorf("%w: job scope must include at least one standard number", domain.ErrInvalidInput)
	}
	return &job, nil
}

// Key returns the job's ledger key.
func (j *Job) Key() domain.LedgerKey {
	return domain.LedgerKey{ClientID: j.Ledger.ClientID, FiscalYear: j.Ledger.FiscalYear}
}

// Resolver returns the job's account mapping, or nil when it has none so that
// standard numbers select accounts directly.
func (j *Job) Resolver() domain.AccountResolver {
	if len(j.Mappings) == 0 {
		return nil
	}
	m := make(domain.StandardAccountMap, len(j.Mappings))
	for _, mapping := range j.Mappings {
		m[mapping.StandardNumber] = append(m[mapping.StandardNumber], mapping.Accounts...)
	}
	return m
}
