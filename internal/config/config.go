package config // package config loads application configuration from environment variables

import (
    "log"
    "os"
    "strconv"
    "time"
)

// Config holds all runtime configuration values.  Each field maps to
// one environment variable; required ones are enforced by must() and a
// missing value halts startup with a fatal log line.
type Config struct {
    Env       string // application environment (dev/test/prod)
    Port      string // HTTP port to listen on
    DBUser    string // database username
    DBPass    string // database password (optional)
    DBHost    string // database host address
    DBPort    string // database port number
    DBName    string // database name
    JWTSecret string // secret used to verify customer access tokens
    BrokerURL string // AMQP broker URL for domain events (optional)

    GatewayBaseURL       string        // payment provider API base URL
    GatewayAPIKey        string        // payment provider API key
    GatewayCallbackToken string        // shared secret expected in webhook callbacks
    GatewayTimeout       time.Duration // per-call timeout for provider requests

    HoldWindow    time.Duration // how long a PENDING booking keeps its seats
    LockWait      time.Duration // bounded wait for the schedule lock
    LockHold      time.Duration // TTL on a held schedule lock
    SweepInterval time.Duration // how often the expiry sweeper runs
    SweepBatch    int           // bookings expired per sweep pass
}

// Load reads configuration from the environment.
func Load() Config {
    return Config{
        Env:       must("APP_ENV"),
        Port:      must("APP_PORT"),
        DBUser:    must("DB_USER"),
        DBPass:    os.Getenv("DB_PASS"),
        DBHost:    must("DB_HOST"),
        DBPort:    must("DB_PORT"),
        DBName:    must("DB_NAME"),
        JWTSecret: must("JWT_SECRET"),
        BrokerURL: os.Getenv("RABBITMQ_URL"),

        GatewayBaseURL:       must("GATEWAY_BASE_URL"),
        GatewayAPIKey:        must("GATEWAY_API_KEY"),
        GatewayCallbackToken: must("GATEWAY_CALLBACK_TOKEN"),
        GatewayTimeout:       envDur("GATEWAY_TIMEOUT", 10*time.Second),

        HoldWindow:    envDur("BOOKING_HOLD_WINDOW", time.Hour),
        LockWait:      envDur("SCHEDULE_LOCK_WAIT", 3*time.Second),
        LockHold:      envDur("SCHEDULE_LOCK_HOLD", 15*time.Second),
        SweepInterval: envDur("EXPIRY_SWEEP_INTERVAL", time.Minute),
        SweepBatch:    envInt("EXPIRY_SWEEP_BATCH", 100),
    }
}

// must retrieves a required environment variable or exits.
func must(key string) string {
    v, ok := os.LookupEnv(key)
    if !ok || v == "" {
        log.Fatalf("missing required env var: %s", key)
    }
    return v
}

func envInt(k string, d int) int {
    v := os.Getenv(k)
    if v == "" {
        return d
    }
    if n, err := strconv.Atoi(v); err == nil {
        return n
    }
    return d
}

func envDur(k string, d time.Duration) time.Duration {
    v := os.Getenv(k)
    if v == "" {
        return d
    }
    if dur, err := time.ParseDuration(v); err == nil {
        return dur
    }
    return d
}

func envStr(k, d string) string {
    if v := os.Getenv(k); v != "" {
        return v
    }
    return d
}

func envBool(k string, d bool) bool {
    switch os.Getenv(k) {
    case "1", "true", "TRUE", "True", "yes", "on":
        return true
    case "0", "false", "FALSE", "False", "no", "off":
        return false
    }
    return d
}
