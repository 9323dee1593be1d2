package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// PricingConfig is the hot-reloadable part of the configuration: credit
// price, supported billing currencies and per-country checkout defaults.
type PricingConfig struct {
	CreditsPerUSD         float64             `mapstructure:"credits_per_usd"`
	Currencies            []Currency          `mapstructure:"currencies"`
	CountryCurrency       map[string]string   `mapstructure:"country_currency"`
	DefaultPaymentMethods []string            `mapstructure:"default_payment_methods"`
	CountryPaymentMethods map[string][]string `mapstructure:"country_payment_methods"`
}

// Currency describes a billing currency with the fallback USD rate used when
// live rates are unavailable.
type Currency struct {
	Code      string  `mapstructure:"code" json:"code"`
	Symbol    string  `mapstructure:"symbol" json:"symbol"`
	Name      string  `mapstructure:"name" json:"name"`
	Rate      float64 `mapstructure:"rate" json:"rate"`
	MinAmount float64 `mapstructure:"min_amount" json:"min_amount"`
}

func DefaultPricingConfig() PricingConfig {
	return PricingConfig{
		CreditsPerUSD: 10,
		Currencies: []Currency{
			{Code: "USD", Symbol: "$", Name: "US Dollar", Rate: 1, MinAmount: 0.5},
			{Code: "INR", Symbol: "₹", Name: "Indian Rupee", Rate: 83, MinAmount: 40},
			{Code: "EUR", Symbol: "€", Name: "Euro", Rate: 0.92, MinAmount: 0.5},
			{Code: "GBP", Symbol: "£", Name: "British Pound", Rate: 0.79, MinAmount: 0.5},
			{Code: "CAD", Symbol: "C$", Name: "Canadian Dollar", Rate: 1.35, MinAmount: 0.5},
			{Code: "AUD", Symbol: "A$", Name: "Australian Dollar", Rate: 1.52, MinAmount: 0.5},
			{Code: "JPY", Symbol: "¥", Name: "Japanese Yen", Rate: 149, MinAmount: 50},
			{Code: "SGD", Symbol: "S$", Name: "Singapore Dollar", Rate: 1.34, MinAmount: 1},
			{Code: "AED", Symbol: "د.إ", Name: "UAE Dirham", Rate: 3.67, MinAmount: 2},
		},
		CountryCurrency: map[string]string{
			"IN": "INR",
			"GB": "GBP",
			"CA": "CAD",
			"AU": "AUD",
			"EU": "EUR",
			"DE": "EUR",
			"FR": "EUR",
			"IT": "EUR",
			"ES": "EUR",
			"NL": "EUR",
			"JP": "JPY",
			"SG": "SGD",
			"AE": "AED",
		},
		DefaultPaymentMethods: []string{"credit", "debit"},
		CountryPaymentMethods: map[string][]string{
			"IN": {"upi_collect", "upi_intent", "credit", "debit"},
		},
	}
}

// CurrencyForCountry maps an ISO country code to its billing currency, USD
// when unknown.
func (c PricingConfig) CurrencyForCountry(country string) string {
	if code, ok := c.CountryCurrency[strings.ToUpper(strings.TrimSpace(country))]; ok && code != "" {
		return code
	}
	return "USD"
}

func (c PricingConfig) PaymentMethodsForCountry(country string) []string {
	if methods, ok := c.CountryPaymentMethods[strings.ToUpper(strings.TrimSpace(country))]; ok && len(methods) > 0 {
		return append([]string(nil), methods...)
	}
	return append([]string(nil), c.DefaultPaymentMethods...)
}

func (c PricingConfig) Currency(code string) (Currency, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	for _, cur := range c.Currencies {
		if cur.Code == code {
			return cur, true
		}
	}
	return Currency{}, false
}

type PricingHolder struct {
	current atomic.Value // holds PricingConfig
}

// NewStaticPricingHolder returns a holder that never reloads.
func NewStaticPricingHolder(cfg PricingConfig) *PricingHolder {
	holder := &PricingHolder{}
	holder.current.Store(normalizePricing(cfg))
	return holder
}

func NewPricingHolder() (*PricingHolder, error) {
	v := viper.New()

	v.SetConfigName("pricing")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/phage/config")
	v.AddConfigPath("/etc/phage")
	v.AddConfigPath(".")

	v.SetEnvPrefix("PHAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		return NewStaticPricingHolder(DefaultPricingConfig()), nil
	}

	cfg, err := decodePricing(v)
	if err != nil {
		return nil, err
	}

	holder := &PricingHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodePricing(v)
		if err != nil {
			log.Printf("[pricing-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[pricing-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *PricingHolder) Get() PricingConfig {
	return h.current.Load().(PricingConfig)
}

func decodePricing(v *viper.Viper) (PricingConfig, error) {
	var cfg PricingConfig
	if err := v.UnmarshalKey("pricing", &cfg); err != nil {
		return PricingConfig{}, err
	}
	cfg = normalizePricing(cfg)
	if err := validatePricing(cfg); err != nil {
		return PricingConfig{}, err
	}
	return cfg, nil
}

// normalizePricing fills gaps from the defaults and upper-cases map keys,
// viper lower-cases them on read.
func normalizePricing(cfg PricingConfig) PricingConfig {
	defaults := DefaultPricingConfig()
	if cfg.CreditsPerUSD == 0 {
		cfg.CreditsPerUSD = defaults.CreditsPerUSD
	}
	if len(cfg.Currencies) == 0 {
		cfg.Currencies = defaults.Currencies
	}
	if len(cfg.CountryCurrency) == 0 {
		cfg.CountryCurrency = defaults.CountryCurrency
	}
	if len(cfg.DefaultPaymentMethods) == 0 {
		cfg.DefaultPaymentMethods = defaults.DefaultPaymentMethods
	}
	if cfg.CountryPaymentMethods == nil {
		cfg.CountryPaymentMethods = defaults.CountryPaymentMethods
	}

	currencies := make([]Currency, 0, len(cfg.Currencies))
	for _, cur := range cfg.Currencies {
		cur.Code = strings.ToUpper(strings.TrimSpace(cur.Code))
		currencies = append(currencies, cur)
	}
	cfg.Currencies = currencies

	countryCurrency := make(map[string]string, len(cfg.CountryCurrency))
	for country, code := range cfg.CountryCurrency {
		countryCurrency[strings.ToUpper(strings.TrimSpace(country))] = strings.ToUpper(strings.TrimSpace(code))
	}
	cfg.CountryCurrency = countryCurrency

	countryMethods := make(map[string][]string, len(cfg.CountryPaymentMethods))
	for country, methods := range cfg.CountryPaymentMethods {
		countryMethods[strings.ToUpper(strings.TrimSpace(country))] = methods
	}
	cfg.CountryPaymentMethods = countryMethods
	return cfg
}

func validatePricing(cfg PricingConfig) error {
	if cfg.CreditsPerUSD <= 0 {
		return errors.New("pricing.credits_per_usd must be positive")
	}
	seen := map[string]struct{}{}
	for _, cur := range cfg.Currencies {
		if cur.Code == "" {
			return errors.New("pricing.currencies code cannot be empty")
		}
		if cur.Rate <= 0 {
			return fmt.Errorf("pricing.currencies %s rate must be positive", cur.Code)
		}
		seen[cur.Code] = struct{}{}
	}
	if _, ok := seen["USD"]; !ok {
		return errors.New("pricing.currencies must include USD")
	}
	return nil
}
