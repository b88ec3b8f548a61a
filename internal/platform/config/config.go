package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix = "HEARTHSIDE"

	defaultPort            = "8080"
	defaultReadTimeout     = 15 * time.Second
	defaultWriteTimeout    = 30 * time.Second
	defaultIdleTimeout     = 120 * time.Second
	defaultCurrency        = "USD"
	defaultFreeShipping    = int64(10000)
	defaultFlatRate        = int64(700)
	defaultOrderPrefix     = "HS"
	defaultPaymentTermDays = 14
	defaultAuditDBPath     = "hearthside-audit.db"
	defaultIdempotencyTTL  = 24 * time.Hour
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Firestore   FirestoreConfig   `mapstructure:"firestore"`
	Firebase    FirebaseConfig    `mapstructure:"firebase"`
	PubSub      PubSubConfig      `mapstructure:"pubsub"`
	Audit       AuditConfig       `mapstructure:"audit"`
	Pricing     PricingConfig     `mapstructure:"pricing"`
	Orders      OrdersConfig      `mapstructure:"orders"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency"`
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string `mapstructure:"project_id"`
	EmulatorHost string `mapstructure:"emulator_host"`
}

// FirebaseConfig stores Firebase Admin SDK settings for the admin surface.
type FirebaseConfig struct {
	ProjectID       string `mapstructure:"project_id"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

// PubSubConfig names the topic carrying order events. An empty topic
// disables publishing.
type PubSubConfig struct {
	ProjectID  string `mapstructure:"project_id"`
	OrderTopic string `mapstructure:"order_topic"`
}

// AuditConfig locates the local audit trail database.
type AuditConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// PricingConfig holds the shop-wide pricing knobs in minor units.
type PricingConfig struct {
	Currency              string `mapstructure:"currency"`
	FreeShippingThreshold int64  `mapstructure:"free_shipping_threshold"`
	FlatShippingRate      int64  `mapstructure:"flat_shipping_rate"`
}

// OrdersConfig controls order numbering and invoice terms.
type OrdersConfig struct {
	NumberPrefix    string `mapstructure:"number_prefix"`
	PaymentTermDays int    `mapstructure:"payment_term_days"`
}

// IdempotencyConfig controls the checkout idempotency middleware.
type IdempotencyConfig struct {
	Header string        `mapstructure:"header"`
	TTL    time.Duration `mapstructure:"ttl"`
}

// ValidationError is returned when required configuration fields are missing
// or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// Load reads configuration from the environment (HEARTHSIDE_ prefix, nested
// keys joined with underscores) and applies defaults.
func Load() (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindKeys(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}

	normalize(&cfg)
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", defaultPort)
	v.SetDefault("server.read_timeout", defaultReadTimeout)
	v.SetDefault("server.write_timeout", defaultWriteTimeout)
	v.SetDefault("server.idle_timeout", defaultIdleTimeout)
	v.SetDefault("audit.db_path", defaultAuditDBPath)
	v.SetDefault("pricing.currency", defaultCurrency)
	v.SetDefault("pricing.free_shipping_threshold", defaultFreeShipping)
	v.SetDefault("pricing.flat_shipping_rate", defaultFlatRate)
	v.SetDefault("orders.number_prefix", defaultOrderPrefix)
	v.SetDefault("orders.payment_term_days", defaultPaymentTermDays)
	v.SetDefault("idempotency.header", "Idempotency-Key")
	v.SetDefault("idempotency.ttl", defaultIdempotencyTTL)
}

// bindKeys registers every key explicitly so AutomaticEnv picks up variables
// that have no default.
func bindKeys(v *viper.Viper) {
	for _, key := range []string{
		"firestore.project_id",
		"firestore.emulator_host",
		"firebase.project_id",
		"firebase.credentials_file",
		"pubsub.project_id",
		"pubsub.order_topic",
	} {
		_ = v.BindEnv(key)
	}
}

func normalize(cfg *Config) {
	cfg.Server.Port = strings.TrimSpace(cfg.Server.Port)
	cfg.Firestore.ProjectID = strings.TrimSpace(cfg.Firestore.ProjectID)
	cfg.Firestore.EmulatorHost = strings.TrimSpace(cfg.Firestore.EmulatorHost)
	cfg.Firebase.ProjectID = strings.TrimSpace(cfg.Firebase.ProjectID)
	if cfg.Firebase.ProjectID == "" {
		cfg.Firebase.ProjectID = cfg.Firestore.ProjectID
	}
	cfg.PubSub.ProjectID = strings.TrimSpace(cfg.PubSub.ProjectID)
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}
	cfg.PubSub.OrderTopic = strings.TrimSpace(cfg.PubSub.OrderTopic)
	cfg.Pricing.Currency = strings.ToUpper(strings.TrimSpace(cfg.Pricing.Currency))
	cfg.Orders.NumberPrefix = strings.ToUpper(strings.TrimSpace(cfg.Orders.NumberPrefix))
}

func validate(cfg Config) error {
	var missing []string
	if cfg.Firestore.ProjectID == "" && cfg.Firestore.EmulatorHost == "" {
		missing = append(missing, "firestore.project_id")
	}
	if cfg.Pricing.Currency == "" || len(cfg.Pricing.Currency) != 3 {
		missing = append(missing, "pricing.currency")
	}
	if cfg.Pricing.FreeShippingThreshold < 0 {
		missing = append(missing, "pricing.free_shipping_threshold")
	}
	if cfg.Pricing.FlatShippingRate < 0 {
		missing = append(missing, "pricing.flat_shipping_rate")
	}
	if cfg.Orders.NumberPrefix == "" {
		missing = append(missing, "orders.number_prefix")
	}
	if cfg.Orders.PaymentTermDays <= 0 {
		missing = append(missing, "orders.payment_term_days")
	}
	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}
