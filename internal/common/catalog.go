package common

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"escrow-engine-go/internal/models"
	"escrow-engine-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

// Amounts are strings in the file so they never pass through float64.

type CryptocurrencyConfig struct {
	Symbol                string `yaml:"symbol"`
	Name                  string `yaml:"name"`
	Network               string `yaml:"network"`
	RequiredConfirmations int    `yaml:"required_confirmations"`
	Disabled              bool   `yaml:"disabled"`
}

type PaymentMethodConfig struct {
	Id            string `yaml:"id"`
	Symbol        string `yaml:"symbol"`
	Network       string `yaml:"network"`
	WalletAddress string `yaml:"wallet_address"`
	MinAmount     string `yaml:"min_amount"`
	MaxAmount     string `yaml:"max_amount"`
	Disabled      bool   `yaml:"disabled"`
}

type WithdrawalFeeConfig struct {
	Asset   string `yaml:"asset"`
	Flat    string `yaml:"flat"`
	Percent string `yaml:"percent"`
}

type CatalogConfig struct {
	Cryptocurrencies []CryptocurrencyConfig `yaml:"cryptocurrencies"`
	PaymentMethods   []PaymentMethodConfig  `yaml:"payment_methods"`
	WithdrawalFees   []WithdrawalFeeConfig  `yaml:"withdrawal_fees"`
}

// Catalog is the parsed, validated form of a catalog file
type Catalog struct {
	Cryptocurrencies []models.Cryptocurrency
	PaymentMethods   []models.PaymentMethod
	WithdrawalFees   []models.WithdrawalFee
}

func LoadCatalog(catalogFile string) (*Catalog, error) {
	var catalogPath string
	if filepath.IsAbs(catalogFile) {
		catalogPath = catalogFile
	} else {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		catalogPath = filepath.Join(wd, catalogFile)
	}

	data, err := os.ReadFile(catalogPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", catalogFile, err)
	}

	return ParseCatalog(data)
}

func ParseCatalog(data []byte) (*Catalog, error) {
	var config CatalogConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("unable to parse catalog: %w", err)
	}

	catalog := &Catalog{}
	symbols := make(map[string]bool)

	for i, c := range config.Cryptocurrencies {
		if c.Symbol == "" {
			return nil, fmt.Errorf("cryptocurrency at index %d missing symbol", i)
		}
		if c.Network == "" {
			return nil, fmt.Errorf("cryptocurrency at index %d missing network", i)
		}
		confirmations := c.RequiredConfirmations
		if confirmations < 1 {
			confirmations = 1
		}
		symbols[c.Symbol] = true
		catalog.Cryptocurrencies = append(catalog.Cryptocurrencies, models.Cryptocurrency{
			Symbol:                c.Symbol,
			Name:                  c.Name,
			Network:               c.Network,
			RequiredConfirmations: confirmations,
			Active:                !c.Disabled,
		})
	}

	for i, m := range config.PaymentMethods {
		if m.Id == "" {
			return nil, fmt.Errorf("payment method at index %d missing id", i)
		}
		if !symbols[m.Symbol] {
			return nil, fmt.Errorf("payment method %s references unknown cryptocurrency %q", m.Id, m.Symbol)
		}
		minAmount, err := parseAmount(m.MinAmount)
		if err != nil {
			return nil, fmt.Errorf("payment method %s min_amount: %w", m.Id, err)
		}
		maxAmount, err := parseAmount(m.MaxAmount)
		if err != nil {
			return nil, fmt.Errorf("payment method %s max_amount: %w", m.Id, err)
		}
		if maxAmount.IsPositive() && maxAmount.LessThan(minAmount) {
			return nil, fmt.Errorf("payment method %s has max_amount below min_amount", m.Id)
		}
		catalog.PaymentMethods = append(catalog.PaymentMethods, models.PaymentMethod{
			Id:            m.Id,
			Symbol:        m.Symbol,
			Network:       m.Network,
			WalletAddress: m.WalletAddress,
			MinAmount:     minAmount,
			MaxAmount:     maxAmount,
			Active:        !m.Disabled,
		})
	}

	for i, f := range config.WithdrawalFees {
		if f.Asset == "" {
			return nil, fmt.Errorf("withdrawal fee at index %d missing asset", i)
		}
		flat, err := parseAmount(f.Flat)
		if err != nil {
			return nil, fmt.Errorf("withdrawal fee %s flat: %w", f.Asset, err)
		}
		percent, err := parseAmount(f.Percent)
		if err != nil {
			return nil, fmt.Errorf("withdrawal fee %s percent: %w", f.Asset, err)
		}
		catalog.WithdrawalFees = append(catalog.WithdrawalFees, models.WithdrawalFee{
			Asset:   f.Asset,
			Flat:    flat,
			Percent: percent,
		})
	}

	return catalog, nil
}

// SeedCatalog upserts every catalog entry into the store.
func SeedCatalog(ctx context.Context, catalogStore store.CatalogStore, catalog *Catalog) error {
	for _, c := range catalog.Cryptocurrencies {
		if err := catalogStore.UpsertCryptocurrency(ctx, c); err != nil {
			return err
		}
	}
	for _, m := range catalog.PaymentMethods {
		if err := catalogStore.UpsertPaymentMethod(ctx, m); err != nil {
			return err
		}
	}
	for _, f := range catalog.WithdrawalFees {
		if err := catalogStore.UpsertWithdrawalFee(ctx, f); err != nil {
			return err
		}
	}

	zap.L().Info("Catalog seeded",
		zap.Int("cryptocurrencies", len(catalog.Cryptocurrencies)),
		zap.Int("payment_methods", len(catalog.PaymentMethods)),
		zap.Int("withdrawal_fees", len(catalog.WithdrawalFees)))
	return nil
}

func parseAmount(value string) (decimal.Decimal, error) {
	if value == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, err
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("amount cannot be negative: %s", value)
	}
	return d, nil
}
