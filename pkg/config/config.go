package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database   DatabaseConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	SMTP       SMTPConfig
	Pipeline   PipelineConfig
	Features   FeaturesConfig
	Clustering ClusteringConfig
	Prediction PredictionConfig
	Optimizer  OptimizerConfig
	Decision   DecisionConfig
	Anomaly    AnomalyConfig
	Metrics    MetricsConfig
	API        APIConfig
	Log        LogConfig
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func (d DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers           []string
	TopicReadings     string
	TopicWeather      string
	TopicAlerts       string
	TopicActions      string
	NumPartitions     int
	ReplicationFactor int
	CreateTopics      bool
	BatchSize         int
	FlushInterval     time.Duration
}

// Topics returns every topic the services read or write
func (k KafkaConfig) Topics() []string {
	return []string{k.TopicReadings, k.TopicWeather, k.TopicAlerts, k.TopicActions}
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       string
}

// PipelineConfig drives the coordinator service.
type PipelineConfig struct {
	Name            string
	Interval        time.Duration
	Workers         int
	LockTTL         time.Duration
	MaxBatchDays    int
	RunAnomalies    bool
	BuildingRefresh time.Duration
}

// FeaturesConfig holds the local-time window boundaries (hours, 0-23).
// Morning is [NightEndHour, DaytimeStartHour), daytime [DaytimeStartHour,
// DaytimeEndHour), evening [DaytimeEndHour, NightStartHour) and night wraps
// from NightStartHour to NightEndHour.
type FeaturesConfig struct {
	NightEndHour      int
	DaytimeStartHour  int
	DaytimeEndHour    int
	NightStartHour    int
	MinTempPairs      int
	ActivityThreshold float64
}

type ClusteringConfig struct {
	HistoryDays    int
	MinHistoryDays int
	ClusterCount   int // 0 selects k by silhouette
	MaxClusters    int
	Restarts       int
	Seed           uint64
}

type PredictionConfig struct {
	Task         string
	LeadTime     time.Duration
	HalfLifeDays float64
	MaxAge       time.Duration
	ArtifactDir  string // relative artifact paths resolve against it
}

type OptimizerConfig struct {
	MinConfidence     float64
	OccupancyLow      float64
	OccupancyShift    float64
	PlanHours         int
	ShiftHorizonHours int
	SetbackReduction  float64
	HeatComfortTemp   float64
	HeatSetbackTemp   float64
	PreheatTemp       float64
	CoolComfortTemp   float64
	CoolSetbackTemp   float64
	PrecoolTemp       float64
	DefaultLowPrice   float64
	DefaultHighPrice  float64
	DefaultCurrency   string
}

type DecisionConfig struct {
	Mode          string
	MinConfidence float64
	VetoWindow    time.Duration
}

type AnomalyConfig struct {
	TrailingWindow  time.Duration
	MinSamples      int
	LowZ            float64
	MediumZ         float64
	HighZ           float64
	AlertCooldown   time.Duration
	EnergyLookback  time.Duration // history the unoccupied-use and cost rules compare against
	WeeklyBudgetKWh float64
}

type MetricsConfig struct {
	Addr string
}

type APIConfig struct {
	Addr string
}

type LogConfig struct {
	Mode string
}

// Default returns the configuration used when no environment overrides exist.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "energy_user",
			Password: "energy_pass",
			DBName:   "energy_db",
			SSLMode:  "disable",
		},
		Redis: RedisConfig{Addr: "localhost:6379"},
		Kafka: KafkaConfig{
			Brokers:           []string{"localhost:9092"},
			TopicReadings:     "energy.readings.raw",
			TopicWeather:      "energy.weather.raw",
			TopicAlerts:       "energy.alerts",
			TopicActions:      "energy.actions",
			NumPartitions:     10,
			ReplicationFactor: 1,
			BatchSize:         1000,
			FlushInterval:     5 * time.Second,
		},
		SMTP: SMTPConfig{
			Host: "smtp.gmail.com",
			Port: 587,
			From: "energy-pipeline@example.com",
			To:   "operators@example.com",
		},
		Pipeline: PipelineConfig{
			Name:            "daily_pipeline",
			Interval:        time.Hour,
			Workers:         4,
			LockTTL:         30 * time.Minute,
			MaxBatchDays:    7,
			RunAnomalies:    true,
			BuildingRefresh: 10 * time.Minute,
		},
		Features: FeaturesConfig{
			NightEndHour:      6,
			DaytimeStartHour:  8,
			DaytimeEndHour:    17,
			NightStartHour:    22,
			MinTempPairs:      6,
			ActivityThreshold: 0.5,
		},
		Clustering: ClusteringConfig{
			HistoryDays:    21,
			MinHistoryDays: 5,
			ClusterCount:   0,
			MaxClusters:    6,
			Restarts:       10,
			Seed:           42,
		},
		Prediction: PredictionConfig{
			Task:         "consumption_forecast",
			LeadTime:     time.Hour,
			HalfLifeDays: 7,
			MaxAge:       24 * time.Hour,
			ArtifactDir:  "models",
		},
		Optimizer: OptimizerConfig{
			MinConfidence:     0.5,
			OccupancyLow:      0.2,
			OccupancyShift:    0.5,
			PlanHours:         4,
			ShiftHorizonHours: 12,
			SetbackReduction:  0.2,
			HeatComfortTemp:   21,
			HeatSetbackTemp:   17,
			PreheatTemp:       22,
			CoolComfortTemp:   24,
			CoolSetbackTemp:   28,
			PrecoolTemp:       22,
			DefaultLowPrice:   0.08,
			DefaultHighPrice:  0.18,
			DefaultCurrency:   "BAM",
		},
		Decision: DecisionConfig{
			Mode:          "learning",
			MinConfidence: 0.6,
			VetoWindow:    24 * time.Hour,
		},
		Anomaly: AnomalyConfig{
			TrailingWindow:  7 * 24 * time.Hour,
			MinSamples:      24,
			LowZ:            3,
			MediumZ:         4,
			HighZ:           5,
			AlertCooldown:   6 * time.Hour,
			EnergyLookback:  24 * time.Hour,
			WeeklyBudgetKWh: 120,
		},
		Metrics: MetricsConfig{Addr: ":9102"},
		API:     APIConfig{Addr: ":8081"},
		Log:     LogConfig{Mode: "dev"},
	}
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	d := Default()
	config := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", d.Database.Host),
			Port:     getEnvAsInt("DB_PORT", d.Database.Port),
			User:     getEnv("DB_USER", d.Database.User),
			Password: getEnv("DB_PASSWORD", d.Database.Password),
			DBName:   getEnv("DB_NAME", d.Database.DBName),
			SSLMode:  getEnv("DB_SSLMODE", d.Database.SSLMode),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", d.Redis.Addr),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers:           strings.Split(getEnv("KAFKA_BROKERS", strings.Join(d.Kafka.Brokers, ",")), ","),
			TopicReadings:     getEnv("KAFKA_TOPIC_READINGS", d.Kafka.TopicReadings),
			TopicWeather:      getEnv("KAFKA_TOPIC_WEATHER", d.Kafka.TopicWeather),
			TopicAlerts:       getEnv("KAFKA_TOPIC_ALERTS", d.Kafka.TopicAlerts),
			TopicActions:      getEnv("KAFKA_TOPIC_ACTIONS", d.Kafka.TopicActions),
			NumPartitions:     getEnvAsInt("KAFKA_NUM_PARTITIONS", d.Kafka.NumPartitions),
			ReplicationFactor: getEnvAsInt("KAFKA_REPLICATION_FACTOR", d.Kafka.ReplicationFactor),
			CreateTopics:      getEnvAsBool("KAFKA_CREATE_TOPICS", d.Kafka.CreateTopics),
			BatchSize:         getEnvAsInt("KAFKA_BATCH_SIZE", d.Kafka.BatchSize),
			FlushInterval:     getEnvAsDuration("KAFKA_FLUSH_INTERVAL", d.Kafka.FlushInterval),
		},
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", d.SMTP.Host),
			Port:     getEnvAsInt("SMTP_PORT", d.SMTP.Port),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM", d.SMTP.From),
			To:       getEnv("SMTP_TO", d.SMTP.To),
		},
		Pipeline: PipelineConfig{
			Name:            getEnv("PIPELINE_NAME", d.Pipeline.Name),
			Interval:        getEnvAsDuration("PIPELINE_INTERVAL", d.Pipeline.Interval),
			Workers:         getEnvAsInt("PIPELINE_WORKERS", d.Pipeline.Workers),
			LockTTL:         getEnvAsDuration("PIPELINE_LOCK_TTL", d.Pipeline.LockTTL),
			MaxBatchDays:    getEnvAsInt("PIPELINE_MAX_BATCH_DAYS", d.Pipeline.MaxBatchDays),
			RunAnomalies:    getEnvAsBool("PIPELINE_RUN_ANOMALIES", d.Pipeline.RunAnomalies),
			BuildingRefresh: getEnvAsDuration("PIPELINE_BUILDING_REFRESH", d.Pipeline.BuildingRefresh),
		},
		Features: FeaturesConfig{
			NightEndHour:      getEnvAsInt("FEATURES_NIGHT_END_HOUR", d.Features.NightEndHour),
			DaytimeStartHour:  getEnvAsInt("FEATURES_DAYTIME_START_HOUR", d.Features.DaytimeStartHour),
			DaytimeEndHour:    getEnvAsInt("FEATURES_DAYTIME_END_HOUR", d.Features.DaytimeEndHour),
			NightStartHour:    getEnvAsInt("FEATURES_NIGHT_START_HOUR", d.Features.NightStartHour),
			MinTempPairs:      getEnvAsInt("FEATURES_MIN_TEMP_PAIRS", d.Features.MinTempPairs),
			ActivityThreshold: getEnvAsFloat("FEATURES_ACTIVITY_THRESHOLD", d.Features.ActivityThreshold),
		},
		Clustering: ClusteringConfig{
			HistoryDays:    getEnvAsInt("CLUSTERING_HISTORY_DAYS", d.Clustering.HistoryDays),
			MinHistoryDays: getEnvAsInt("CLUSTERING_MIN_HISTORY_DAYS", d.Clustering.MinHistoryDays),
			ClusterCount:   getEnvAsInt("CLUSTERING_CLUSTER_COUNT", d.Clustering.ClusterCount),
			MaxClusters:    getEnvAsInt("CLUSTERING_MAX_CLUSTERS", d.Clustering.MaxClusters),
			Restarts:       getEnvAsInt("CLUSTERING_RESTARTS", d.Clustering.Restarts),
			Seed:           uint64(getEnvAsInt("CLUSTERING_SEED", int(d.Clustering.Seed))),
		},
		Prediction: PredictionConfig{
			Task:         getEnv("PREDICTION_TASK", d.Prediction.Task),
			LeadTime:     getEnvAsDuration("PREDICTION_LEAD_TIME", d.Prediction.LeadTime),
			HalfLifeDays: getEnvAsFloat("PREDICTION_HALF_LIFE_DAYS", d.Prediction.HalfLifeDays),
			MaxAge:       getEnvAsDuration("PREDICTION_MAX_AGE", d.Prediction.MaxAge),
			ArtifactDir:  getEnv("MODEL_ARTIFACT_DIR", d.Prediction.ArtifactDir),
		},
		Optimizer: OptimizerConfig{
			MinConfidence:     getEnvAsFloat("OPTIMIZER_MIN_CONFIDENCE", d.Optimizer.MinConfidence),
			OccupancyLow:      getEnvAsFloat("OPTIMIZER_OCCUPANCY_LOW", d.Optimizer.OccupancyLow),
			OccupancyShift:    getEnvAsFloat("OPTIMIZER_OCCUPANCY_SHIFT", d.Optimizer.OccupancyShift),
			PlanHours:         getEnvAsInt("OPTIMIZER_PLAN_HOURS", d.Optimizer.PlanHours),
			ShiftHorizonHours: getEnvAsInt("OPTIMIZER_SHIFT_HORIZON_HOURS", d.Optimizer.ShiftHorizonHours),
			SetbackReduction:  getEnvAsFloat("OPTIMIZER_SETBACK_REDUCTION", d.Optimizer.SetbackReduction),
			HeatComfortTemp:   getEnvAsFloat("OPTIMIZER_HEAT_COMFORT_TEMP", d.Optimizer.HeatComfortTemp),
			HeatSetbackTemp:   getEnvAsFloat("OPTIMIZER_HEAT_SETBACK_TEMP", d.Optimizer.HeatSetbackTemp),
			PreheatTemp:       getEnvAsFloat("OPTIMIZER_PREHEAT_TEMP", d.Optimizer.PreheatTemp),
			CoolComfortTemp:   getEnvAsFloat("OPTIMIZER_COOL_COMFORT_TEMP", d.Optimizer.CoolComfortTemp),
			CoolSetbackTemp:   getEnvAsFloat("OPTIMIZER_COOL_SETBACK_TEMP", d.Optimizer.CoolSetbackTemp),
			PrecoolTemp:       getEnvAsFloat("OPTIMIZER_PRECOOL_TEMP", d.Optimizer.PrecoolTemp),
			DefaultLowPrice:   getEnvAsFloat("TARIFF_DEFAULT_LOW_PRICE", d.Optimizer.DefaultLowPrice),
			DefaultHighPrice:  getEnvAsFloat("TARIFF_DEFAULT_HIGH_PRICE", d.Optimizer.DefaultHighPrice),
			DefaultCurrency:   getEnv("TARIFF_DEFAULT_CURRENCY", d.Optimizer.DefaultCurrency),
		},
		Decision: DecisionConfig{
			Mode:          getEnv("DECISION_MODE", d.Decision.Mode),
			MinConfidence: getEnvAsFloat("DECISION_MIN_CONFIDENCE", d.Decision.MinConfidence),
			VetoWindow:    getEnvAsDuration("DECISION_VETO_WINDOW", d.Decision.VetoWindow),
		},
		Anomaly: AnomalyConfig{
			TrailingWindow:  getEnvAsDuration("ANOMALY_TRAILING_WINDOW", d.Anomaly.TrailingWindow),
			MinSamples:      getEnvAsInt("ANOMALY_MIN_SAMPLES", d.Anomaly.MinSamples),
			LowZ:            getEnvAsFloat("ANOMALY_LOW_Z", d.Anomaly.LowZ),
			MediumZ:         getEnvAsFloat("ANOMALY_MEDIUM_Z", d.Anomaly.MediumZ),
			HighZ:           getEnvAsFloat("ANOMALY_HIGH_Z", d.Anomaly.HighZ),
			AlertCooldown:   getEnvAsDuration("ANOMALY_ALERT_COOLDOWN", d.Anomaly.AlertCooldown),
			EnergyLookback:  getEnvAsDuration("ANOMALY_ENERGY_LOOKBACK", d.Anomaly.EnergyLookback),
			WeeklyBudgetKWh: getEnvAsFloat("ANOMALY_WEEKLY_BUDGET_KWH", d.Anomaly.WeeklyBudgetKWh),
		},
		Metrics: MetricsConfig{Addr: getEnv("METRICS_ADDR", d.Metrics.Addr)},
		API:     APIConfig{Addr: getEnv("API_ADDR", d.API.Addr)},
		Log:     LogConfig{Mode: getEnv("LOG_MODE", d.Log.Mode)},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate rejects window boundaries and thresholds that cannot work together.
func (c *Config) Validate() error {
	f := c.Features
	for _, h := range []int{f.NightEndHour, f.DaytimeStartHour, f.DaytimeEndHour, f.NightStartHour} {
		if h < 0 || h > 23 {
			return fmt.Errorf("feature window hour %d out of range 0-23", h)
		}
	}
	if !(f.NightEndHour < f.DaytimeStartHour && f.DaytimeStartHour < f.DaytimeEndHour && f.DaytimeEndHour < f.NightStartHour) {
		return fmt.Errorf("feature windows must be ordered: night end %d < daytime start %d < daytime end %d < night start %d",
			f.NightEndHour, f.DaytimeStartHour, f.DaytimeEndHour, f.NightStartHour)
	}
	if c.Clustering.HistoryDays < 1 || c.Clustering.MinHistoryDays > c.Clustering.HistoryDays {
		return fmt.Errorf("clustering history of %d days cannot hold %d required days",
			c.Clustering.HistoryDays, c.Clustering.MinHistoryDays)
	}
	if c.Clustering.ClusterCount == 1 || c.Clustering.ClusterCount < 0 {
		return fmt.Errorf("cluster count must be 0 (auto) or at least 2, got %d", c.Clustering.ClusterCount)
	}
	if c.Optimizer.MinConfidence < 0 || c.Optimizer.MinConfidence > 1 {
		return fmt.Errorf("optimizer min confidence %.2f outside [0,1]", c.Optimizer.MinConfidence)
	}
	if c.Optimizer.PlanHours < 1 {
		return fmt.Errorf("optimizer plan hours must be positive")
	}
	if c.Kafka.CreateTopics && (c.Kafka.NumPartitions < 1 || c.Kafka.ReplicationFactor < 1) {
		return fmt.Errorf("topic creation needs at least 1 partition and replica, got %d and %d",
			c.Kafka.NumPartitions, c.Kafka.ReplicationFactor)
	}
	switch c.Decision.Mode {
	case "learning", "enacting":
	default:
		return fmt.Errorf("unknown decision mode %q", c.Decision.Mode)
	}
	a := c.Anomaly
	if !(a.LowZ > 0 && a.LowZ <= a.MediumZ && a.MediumZ <= a.HighZ) {
		return fmt.Errorf("anomaly z thresholds must satisfy 0 < low <= medium <= high")
	}
	if c.Pipeline.Workers < 1 || c.Pipeline.MaxBatchDays < 1 {
		return fmt.Errorf("pipeline workers and max batch days must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
