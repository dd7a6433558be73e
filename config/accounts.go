package config

import (
	"fmt"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/use-agent/affsync/models"
)

// AccountsFile is the on-disk layout of the accounts table.
//
//	accounts:
//	  - store_id: mula09a-20
//	    tracking_ids: [mula09a-20]
type AccountsFile struct {
	Accounts []models.AccountConfig `yaml:"accounts" json:"accounts"`
}

// DefaultAccounts returns the built-in account table.
func DefaultAccounts() []models.AccountConfig {
	return []models.AccountConfig{
		{StoreID: "mula09a-20", TrackingIDs: []string{"mula09a-20"}},
		{StoreID: "bm01f-20", TrackingIDs: []string{"mula07-20"}},
		{StoreID: "tag0d1d-20", TrackingIDs: []string{
			"twsmm-20", "stylcasterm-20", "defpenm-20", "swimworldm-20", "britcom03-20", "on3m-20",
		}},
		{StoreID: "usmagazine05-20", TrackingIDs: []string{"mula0f-20"}},
	}
}

// LoadAccounts reads the accounts table from path, or returns the built-in
// table when path is empty.
func LoadAccounts(path string) ([]models.AccountConfig, error) {
	if path == "" {
		return DefaultAccounts(), nil
	}

	var f AccountsFile
	if err := cleanenv.ReadConfig(path, &f); err != nil {
		return nil, models.NewSyncError(models.ErrCodeInvalidInput, "failed to read accounts file "+path, err)
	}
	if err := ValidateAccounts(f.Accounts); err != nil {
		return nil, err
	}
	return f.Accounts, nil
}

// ValidateAccounts checks that every account has a store ID and at least one
// tracking ID, and that store IDs are unique.
func ValidateAccounts(accounts []models.AccountConfig) error {
	if len(accounts) == 0 {
		return models.NewSyncError(models.ErrCodeInvalidInput, "no accounts configured", nil)
	}
	seen := make(map[string]struct{}, len(accounts))
	for i, a := range accounts {
		if strings.TrimSpace(a.StoreID) == "" {
			return models.NewSyncError(models.ErrCodeInvalidInput, fmt.Sprintf("account %d: store_id is empty", i), nil)
		}
		if len(a.TrackingIDs) == 0 {
			return models.NewSyncError(models.ErrCodeInvalidInput, fmt.Sprintf("account %s: no tracking_ids", a.StoreID), nil)
		}
		if _, dup := seen[a.StoreID]; dup {
			return models.NewSyncError(models.ErrCodeInvalidInput, fmt.Sprintf("account %s: duplicate store_id", a.StoreID), nil)
		}
		seen[a.StoreID] = struct{}{}
	}
	return nil
}

// SelectAccounts narrows accounts to storeID. An empty storeID returns all
// accounts unchanged.
func SelectAccounts(accounts []models.AccountConfig, storeID string) ([]models.AccountConfig, error) {
	if storeID == "" {
		return accounts, nil
	}
	available := make([]string, 0, len(accounts))
	for _, a := range accounts {
		if a.StoreID == storeID {
			return []models.AccountConfig{a}, nil
		}
		available = append(available, a.StoreID)
	}
	return nil, models.NewSyncError(models.ErrCodeInvalidInput,
		fmt.Sprintf("unknown store %q (available: %s)", storeID, strings.Join(available, ", ")), nil)
}
