package app

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/kilianp07/organlink/config"
	"github.com/kilianp07/organlink/core/model"
	"github.com/kilianp07/organlink/core/store"
	"github.com/kilianp07/organlink/infra/collab"
	"github.com/kilianp07/organlink/infra/logger"
)

// Seed is the content of a memory backend seed file.
type Seed struct {
	Recipients []model.Recipient `json:"recipients"`
	Organs     []model.Organ     `json:"organs"`
	LabReports []model.LabReport `json:"labReports"`
	Drivers    []model.Driver    `json:"drivers"`
	Matches    []model.Match     `json:"matches"`
}

// LoadSeed reads a seed file.
func LoadSeed(path string) (Seed, error) {
	var s Seed
	data, err := os.ReadFile(path)
	if err != nil {
		return s, fmt.Errorf("read seed: %w", err)
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("decode seed %s: %w", path, err)
	}
	return s, nil
}

// Apply loads s into m.
func (s Seed) Apply(m *store.Memory) {
	for _, r := range s.Recipients {
		m.PutRecipient(r)
	}
	for _, o := range s.Organs {
		m.PutOrgan(o)
	}
	for _, l := range s.LabReports {
		m.PutLabReport(l)
	}
	for _, d := range s.Drivers {
		m.PutDriver(d)
	}
	for _, x := range s.Matches {
		m.PutMatch(x)
	}
}

func buildStores(cfg config.StoresConfig, log logger.Logger) (store.Stores, error) {
	if cfg.Backend == "http" {
		return collab.New(cfg.HTTP, log), nil
	}
	mem := store.NewMemory()
	if cfg.SeedFile != "" {
		seed, err := LoadSeed(cfg.SeedFile)
		if err != nil {
			return store.Stores{}, err
		}
		seed.Apply(mem)
		log.Infof("memory stores seeded with %d recipients, %d organs, %d drivers",
			len(seed.Recipients), len(seed.Organs), len(seed.Drivers))
	}
	return mem.Stores(), nil
}
