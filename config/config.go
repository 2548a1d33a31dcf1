package config

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// AppConfig holds environment driven configuration values.
// Sensitive data should never have defaults inside code and must be provided via env files or the environment.
type AppConfig struct {
	AppPort            string
	JWTSecret          string
	JWTTTLHours        int
	RateLimitPerMinute int
	AllowedOrigins     []string
	// Database
	DBDriver    string
	DatabaseURI string
	DBHost      string
	DBPort      string
	DBUser      string
	DBPassword  string
	DBName      string
	// Gin framework configuration
	GinMode string
	GinPath string
	// Redis for caching and cross-instance push
	RedisHost     string
	RedisPort     int
	RedisDB       int
	RedisPassword string
	RedisChannel  string
	// Logging configuration
	LogLevel      string
	LogPath       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
	LogCompress   bool
	// Progression
	CatalogPath          string
	XPPerLevel           int
	LessonXP             int
	CourseXP             int
	DailyLoginXP         int
	StreakMilestones     []int
	RankThresholds       []int
	StreakBackfillPolicy string
	Timezone             string
	StoreTimeoutMS       int
	LeaderboardCacheSec  int
	// Scheduled jobs
	AuditEnabled               bool
	AuditIntervalMin           int
	LeaderboardWarmIntervalMin int
	// Admins
	AdminUsernames []string
}

var cfg AppConfig
var loaded bool

// Load loads the application configuration. It should be called once during boot.
func Load() AppConfig {
	if loaded {
		return cfg
	}

	// Precedence: config/config.json -> defaults -> environment variable overrides
	if err := loadJSONConfig(filepath.Join("config", "config.json"), &cfg); err != nil {
		log.Fatalf("invalid config/config.json: %v", err)
	}
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET must be set in environment variables")
	}

	loaded = true
	return cfg
}

// Get returns the cached configuration, loading it if necessary.
func Get() AppConfig {
	if !loaded {
		return Load()
	}
	return cfg
}

// Set replaces the cached configuration. Tests use it to avoid touching the environment.
func Set(c AppConfig) {
	applyDefaults(&c)
	cfg = c
	loaded = true
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// loadJSONConfig reads JSON file into cfg if present. Returns error only for invalid JSON.
func loadJSONConfig(path string, out *AppConfig) error {
	f, err := os.Open(path)
	if err != nil {
		return nil // silently ignore missing file
	}
	defer f.Close()

	var raw map[string]any
	if err := json.NewDecoder(f).Decode(&raw); err != nil {
		return err
	}
	applyJSON(raw, out)
	return nil
}

// applyJSON maps grouped sections onto out.
func applyJSON(raw map[string]any, out *AppConfig) {
	getString := func(m map[string]any, key string) string {
		if v, ok := m[key]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
		return ""
	}
	getInt := func(m map[string]any, key string) int {
		if v, ok := m[key]; ok {
			switch t := v.(type) {
			case float64:
				return int(t)
			case int:
				return t
			}
		}
		return 0
	}
	getBool := func(m map[string]any, key string) bool {
		if v, ok := m[key]; ok {
			if b, ok := v.(bool); ok {
				return b
			}
		}
		return false
	}
	getStringSlice := func(m map[string]any, key string) []string {
		arr, ok := m[key].([]any)
		if !ok {
			return nil
		}
		res := make([]string, 0, len(arr))
		for _, it := range arr {
			if s, ok := it.(string); ok {
				res = append(res, s)
			}
		}
		return res
	}
	getIntSlice := func(m map[string]any, key string) []int {
		arr, ok := m[key].([]any)
		if !ok {
			return nil
		}
		res := make([]int, 0, len(arr))
		for _, it := range arr {
			if f, ok := it.(float64); ok {
				res = append(res, int(f))
			}
		}
		return res
	}

	if app, ok := raw["app"].(map[string]any); ok {
		out.AppPort = getString(app, "AppPort")
		out.JWTSecret = getString(app, "JWTSecret")
		if v := getInt(app, "JWTTTLHours"); v != 0 {
			out.JWTTTLHours = v
		}
		if v := getInt(app, "RateLimitPerMinute"); v != 0 {
			out.RateLimitPerMinute = v
		}
		if list := getStringSlice(app, "AllowedOrigins"); len(list) > 0 {
			out.AllowedOrigins = list
		}
		if list := getStringSlice(app, "AdminUsernames"); len(list) > 0 {
			out.AdminUsernames = list
		}
	}

	if g, ok := raw["gin"].(map[string]any); ok {
		if v := getString(g, "Mode"); v != "" {
			out.GinMode = v
		}
		if v := getString(g, "LogPath"); v != "" {
			out.GinPath = v
		}
	}

	if dbs, ok := raw["database"].(map[string]any); ok {
		out.DBDriver = getString(dbs, "Driver")
		out.DatabaseURI = getString(dbs, "DatabaseURI")
		out.DBHost = getString(dbs, "DBHost")
		out.DBPort = getString(dbs, "DBPort")
		out.DBUser = getString(dbs, "DBUser")
		out.DBPassword = getString(dbs, "DBPassword")
		out.DBName = getString(dbs, "DBName")
	}

	if rds, ok := raw["redis"].(map[string]any); ok {
		out.RedisHost = getString(rds, "RedisHost")
		if v := getInt(rds, "RedisPort"); v != 0 {
			out.RedisPort = v
		}
		if v := getInt(rds, "RedisDB"); v != 0 {
			out.RedisDB = v
		}
		out.RedisPassword = getString(rds, "RedisPassword")
		out.RedisChannel = getString(rds, "Channel")
	}

	if lg, ok := raw["log"].(map[string]any); ok {
		if v := getString(lg, "Level"); v != "" {
			out.LogLevel = v
		}
		if v := getString(lg, "Path"); v != "" {
			out.LogPath = v
		}
		if v := getInt(lg, "MaxSizeMB"); v != 0 {
			out.LogMaxSizeMB = v
		}
		if v := getInt(lg, "MaxBackups"); v != 0 {
			out.LogMaxBackups = v
		}
		if v := getInt(lg, "MaxAgeDays"); v != 0 {
			out.LogMaxAgeDays = v
		}
		out.LogCompress = getBool(lg, "Compress")
	}

	if pg, ok := raw["progression"].(map[string]any); ok {
		out.CatalogPath = getString(pg, "CatalogPath")
		out.XPPerLevel = getInt(pg, "XPPerLevel")
		out.LessonXP = getInt(pg, "LessonXP")
		out.CourseXP = getInt(pg, "CourseXP")
		out.DailyLoginXP = getInt(pg, "DailyLoginXP")
		out.StreakMilestones = getIntSlice(pg, "StreakMilestones")
		out.RankThresholds = getIntSlice(pg, "RankThresholds")
		out.StreakBackfillPolicy = getString(pg, "StreakBackfillPolicy")
		out.Timezone = getString(pg, "Timezone")
		out.StoreTimeoutMS = getInt(pg, "StoreTimeoutMS")
		out.LeaderboardCacheSec = getInt(pg, "LeaderboardCacheSec")
	}

	if jb, ok := raw["jobs"].(map[string]any); ok {
		out.AuditEnabled = getBool(jb, "AuditEnabled")
		out.AuditIntervalMin = getInt(jb, "AuditIntervalMin")
		out.LeaderboardWarmIntervalMin = getInt(jb, "LeaderboardWarmIntervalMin")
	}

	if adm, ok := raw["admin"].(map[string]any); ok {
		if list := getStringSlice(adm, "Usernames"); len(list) > 0 {
			out.AdminUsernames = list
		}
	}
}

// applyDefaults sets sane defaults for zero-value fields.
func applyDefaults(c *AppConfig) {
	if c.AppPort == "" {
		c.AppPort = "8080"
	}
	if c.JWTTTLHours == 0 {
		c.JWTTTLHours = 72
	}
	if c.GinMode == "" {
		c.GinMode = "release"
	}
	if c.GinPath == "" {
		c.GinPath = "logs/go_gin.log"
	}
	if c.RateLimitPerMinute == 0 {
		c.RateLimitPerMinute = 120
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"*"}
	}
	if c.DBDriver == "" {
		c.DBDriver = "mysql"
	}
	if c.DBHost == "" {
		c.DBHost = "127.0.0.1"
	}
	if c.DBPort == "" {
		c.DBPort = "3306"
	}
	if c.DBUser == "" {
		c.DBUser = "root"
	}
	if c.DBName == "" {
		c.DBName = "learnquest"
	}
	if c.RedisHost == "" {
		c.RedisHost = "127.0.0.1"
	}
	if c.RedisPort == 0 {
		c.RedisPort = 6379
	}
	if c.RedisChannel == "" {
		c.RedisChannel = "learnquest:events"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogMaxSizeMB == 0 {
		c.LogMaxSizeMB = 100
	}
	if c.LogMaxBackups == 0 {
		c.LogMaxBackups = 3
	}
	if c.LogMaxAgeDays == 0 {
		c.LogMaxAgeDays = 7
	}
	if c.CatalogPath == "" {
		c.CatalogPath = "config/catalog.yaml"
	}
	if c.XPPerLevel == 0 {
		c.XPPerLevel = 1000
	}
	if c.LessonXP == 0 {
		c.LessonXP = 100
	}
	if c.CourseXP == 0 {
		c.CourseXP = 500
	}
	if c.DailyLoginXP == 0 {
		c.DailyLoginXP = 10
	}
	if len(c.StreakMilestones) == 0 {
		c.StreakMilestones = []int{7, 30, 100}
	}
	if len(c.RankThresholds) == 0 {
		c.RankThresholds = []int{3, 10}
	}
	if c.StreakBackfillPolicy == "" {
		c.StreakBackfillPolicy = "reset"
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	if c.StoreTimeoutMS == 0 {
		c.StoreTimeoutMS = 3000
	}
	if c.LeaderboardCacheSec == 0 {
		c.LeaderboardCacheSec = 30
	}
	if c.AuditIntervalMin == 0 {
		c.AuditIntervalMin = 60
	}
	if c.LeaderboardWarmIntervalMin == 0 {
		c.LeaderboardWarmIntervalMin = 5
	}
}

// applyEnvOverrides maps known environment variables onto config values when present.
func applyEnvOverrides(c *AppConfig) {
	if v := getEnv("APP_PORT", ""); v != "" {
		c.AppPort = v
	}
	if v := getEnv("JWT_SECRET", ""); v != "" {
		c.JWTSecret = v
	}
	if v := getEnv("JWT_TTL_HOURS", ""); v != "" {
		c.JWTTTLHours = mustParseInt(v)
	}
	if v := getEnv("GIN_MODE", ""); v != "" {
		c.GinMode = v
	}
	if v := getEnv("GIN_PATH", ""); v != "" {
		c.GinPath = v
	}
	if v := getEnv("RATE_LIMIT_PER_MINUTE", ""); v != "" {
		c.RateLimitPerMinute = mustParseInt(v)
	}
	if v := getEnv("CORS_ALLOWED_ORIGINS", ""); v != "" {
		c.AllowedOrigins = splitAndTrim(v)
	}
	if v := getEnv("ADMIN_USERNAMES", ""); v != "" {
		c.AdminUsernames = splitAndTrim(v)
	}
	if v := getEnv("DB_DRIVER", ""); v != "" {
		c.DBDriver = v
	}
	if v := getEnv("DATABASE_URI", ""); v != "" {
		c.DatabaseURI = v
	}
	if v := getEnv("DB_HOST", ""); v != "" {
		c.DBHost = v
	}
	if v := getEnv("DB_PORT", ""); v != "" {
		c.DBPort = v
	}
	if v := getEnv("DB_USER", ""); v != "" {
		c.DBUser = v
	}
	if v := getEnv("DB_PASSWORD", ""); v != "" {
		c.DBPassword = v
	}
	if v := getEnv("DB_NAME", ""); v != "" {
		c.DBName = v
	}
	if v := getEnv("REDIS_HOST", ""); v != "" {
		c.RedisHost = v
	}
	if v := getEnv("REDIS_PORT", ""); v != "" {
		c.RedisPort = mustParseInt(v)
	}
	if v := getEnv("REDIS_DB", ""); v != "" {
		c.RedisDB = mustParseInt(v)
	}
	if v := getEnv("REDIS_PASSWORD", ""); v != "" {
		c.RedisPassword = v
	}
	if v := getEnv("REDIS_CHANNEL", ""); v != "" {
		c.RedisChannel = v
	}
	if v := getEnv("LOG_LEVEL", ""); v != "" {
		c.LogLevel = v
	}
	if v := getEnv("LOG_PATH", ""); v != "" {
		c.LogPath = v
	}
	if v := getEnv("LOG_MAX_SIZE_MB", ""); v != "" {
		c.LogMaxSizeMB = mustParseInt(v)
	}
	if v := getEnv("LOG_MAX_BACKUPS", ""); v != "" {
		c.LogMaxBackups = mustParseInt(v)
	}
	if v := getEnv("LOG_MAX_AGE_DAYS", ""); v != "" {
		c.LogMaxAgeDays = mustParseInt(v)
	}
	if v := getEnv("LOG_COMPRESS", ""); v != "" {
		c.LogCompress = v == "true"
	}
	if v := getEnv("CATALOG_PATH", ""); v != "" {
		c.CatalogPath = v
	}
	if v := getEnv("XP_PER_LEVEL", ""); v != "" {
		c.XPPerLevel = mustParseInt(v)
	}
	if v := getEnv("LESSON_XP", ""); v != "" {
		c.LessonXP = mustParseInt(v)
	}
	if v := getEnv("COURSE_XP", ""); v != "" {
		c.CourseXP = mustParseInt(v)
	}
	if v := getEnv("DAILY_LOGIN_XP", ""); v != "" {
		c.DailyLoginXP = mustParseInt(v)
	}
	if v := getEnv("STREAK_MILESTONES", ""); v != "" {
		c.StreakMilestones = parseIntList(v)
	}
	if v := getEnv("RANK_THRESHOLDS", ""); v != "" {
		c.RankThresholds = parseIntList(v)
	}
	if v := getEnv("STREAK_BACKFILL_POLICY", ""); v != "" {
		c.StreakBackfillPolicy = v
	}
	if v := getEnv("TIMEZONE", ""); v != "" {
		c.Timezone = v
	}
	if v := getEnv("STORE_TIMEOUT_MS", ""); v != "" {
		c.StoreTimeoutMS = mustParseInt(v)
	}
	if v := getEnv("LEADERBOARD_CACHE_SEC", ""); v != "" {
		c.LeaderboardCacheSec = mustParseInt(v)
	}
	if v := getEnv("AUDIT_ENABLED", ""); v != "" {
		c.AuditEnabled = v == "true"
	}
	if v := getEnv("AUDIT_INTERVAL_MIN", ""); v != "" {
		c.AuditIntervalMin = mustParseInt(v)
	}
	if v := getEnv("LEADERBOARD_WARM_INTERVAL_MIN", ""); v != "" {
		c.LeaderboardWarmIntervalMin = mustParseInt(v)
	}
}

func mustParseInt(val string) int {
	i, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		log.Fatalf("invalid integer value %s: %v", val, err)
	}
	return i
}

func parseIntList(raw string) []int {
	items := splitAndTrim(raw)
	out := make([]int, 0, len(items))
	for _, it := range items {
		out = append(out, mustParseInt(it))
	}
	return out
}

func splitAndTrim(raw string) []string {
	items := []string{}
	for _, item := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}
