package config

import (
	"os"
	"strconv"
	"time"
)

// WithdrawalConfig tunes the withdrawal coordinator's notification gate.
type WithdrawalConfig struct {
	NotifyTimeout      time.Duration
	CompensateAttempts int
	CompensateBackoff  time.Duration
}

func LoadWithdrawalConfig() *WithdrawalConfig {
	return &WithdrawalConfig{
		NotifyTimeout:      getEnvAsDuration("WITHDRAWAL_NOTIFY_TIMEOUT", 10*time.Second),
		CompensateAttempts: getEnvAsInt("WITHDRAWAL_COMPENSATE_ATTEMPTS", 3),
		CompensateBackoff:  getEnvAsDuration("WITHDRAWAL_COMPENSATE_BACKOFF", 500*time.Millisecond),
	}
}

// DisbursementConfig tunes the batch worker.
type DisbursementConfig struct {
	QueueName   string
	WorkerCount int
	PopTimeout  time.Duration
}

func LoadDisbursementConfig() *DisbursementConfig {
	return &DisbursementConfig{
		QueueName:   getEnv("DISBURSEMENT_QUEUE", "disbursement_queue"),
		WorkerCount: getEnvAsInt("DISBURSEMENT_WORKERS", 4),
		PopTimeout:  getEnvAsDuration("DISBURSEMENT_POP_TIMEOUT", 5*time.Second),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultVal
}
