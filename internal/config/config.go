package config // package config loads application configuration from environment variables

import (
    "log"     // log is used to report configuration errors and halt execution
    "os"      // os provides access to environment variables
    "strconv" // strconv converts strings to other types
    "time"    // time parses sweep interval durations
)

// Config holds all runtime configuration values.  Each field corresponds
// to an environment variable.  Required values halt startup when missing;
// operational knobs (sweep intervals, currency, request TTL) default to
// production-sensible values when unset.
type Config struct {
    Env            string // application environment (e.g. "dev", "prod")
    Port           string // HTTP port to listen on
    DBUser         string // database username
    DBPass         string // database password (optional)
    DBHost         string // database host address
    DBPort         string // database port number
    DBName         string // database name
    JWTSecret      string // secret used to sign JWTs
    AccessTTLMin   int    // access token time‑to‑live in minutes
    RefreshTTLDays int    // refresh token time‑to‑live in days
    BcryptCost     int    // bcrypt cost for password hashing

    CronSecret    string // shared secret authorizing the cron trigger endpoints
    WebhookSecret string // shared secret authorizing the payment webhook

    PaymentAPIURL string // payment processor base URL
    PaymentAPIKey string // payment processor API key
    Currency      string // ISO currency code used when opening deposit holds

    RequestTTL        time.Duration // how long a pending request stays approvable
    ExpireSweepEvery  time.Duration // interval between expiry sweeps
    ReleaseSweepEvery time.Duration // interval between release sweeps
    SweepEnabled      bool          // run the in-process sweeper ticker
}

// Load reads configuration values from environment variables and returns a
// Config.  Required variables are enforced by must() and missing values
// cause the program to exit with a fatal log message.
func Load() Config {
    return Config{
        Env:            must("APP_ENV"),
        Port:           must("APP_PORT"),
        DBUser:         must("DB_USER"),
        DBPass:         os.Getenv("DB_PASS"), // empty allowed
        DBHost:         must("DB_HOST"),
        DBPort:         must("DB_PORT"),
        DBName:         must("DB_NAME"),
        JWTSecret:      must("JWT_SECRET"),
        AccessTTLMin:   mustInt("ACCESS_TOKEN_TTL_MIN"),
        RefreshTTLDays: mustInt("REFRESH_TOKEN_TTL_DAYS"),
        BcryptCost:     mustInt("BCRYPT_COST"),

        CronSecret:    must("CRON_SECRET"),
        WebhookSecret: must("PAYMENT_WEBHOOK_SECRET"),

        PaymentAPIURL: must("PAYMENT_API_URL"),
        PaymentAPIKey: must("PAYMENT_API_KEY"),
        Currency:      envStr("DEPOSIT_CURRENCY", "usd"),

        RequestTTL:        envDur("REQUEST_TTL", 48*time.Hour),
        ExpireSweepEvery:  envDur("EXPIRE_SWEEP_INTERVAL", time.Hour),
        ReleaseSweepEvery: envDur("RELEASE_SWEEP_INTERVAL", 30*time.Minute),
        SweepEnabled:      envBool("SWEEP_ENABLED", true),
    }
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
    v, ok := os.LookupEnv(key)
    if !ok || v == "" {
        log.Fatalf("missing required env var: %s", key)
    }
    return v
}

// mustInt is like must() but converts the retrieved string into an integer.
// If conversion fails, the application logs a fatal error and exits.
func mustInt(key string) int {
    s := must(key)
    n, err := strconv.Atoi(s)
    if err != nil {
        log.Fatalf("invalid int for %s: %q", key, s)
    }
    return n
}
