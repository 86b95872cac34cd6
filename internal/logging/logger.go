package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// LogLevel represents the severity of a log entry
type LogLevel string

const (
	LevelDebug LogLevel = "DEBUG"
	LevelInfo  LogLevel = "INFO"
	LevelWarn  LogLevel = "WARN"
	LevelError LogLevel = "ERROR"
)

// LogEntry represents a structured log entry
type LogEntry struct {
	Timestamp  time.Time              `json:"timestamp"`
	Level      LogLevel               `json:"level"`
	Component  string                 `json:"component"`
	WorkflowID string                 `json:"workflow_id,omitempty"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
}

// AuditEntry records who did what to which resource
type AuditEntry struct {
	Timestamp  time.Time              `json:"timestamp"`
	UserID     string                 `json:"user_id"`
	Action     string                 `json:"action"`
	Resource   string                 `json:"resource"`
	ResourceID string                 `json:"resource_id"`
	Result     string                 `json:"result"`
	Details    map[string]interface{} `json:"details,omitempty"`
	IP         string                 `json:"ip,omitempty"`
	UserAgent  string                 `json:"user_agent,omitempty"`
}

// Logger writes structured entries to disk, optionally mirrors them to
// Redis for time-range queries, and echoes to the console.
type Logger struct {
	mu          sync.Mutex
	redisClient *redis.Client
	logFile     *os.File
	auditFile   *os.File
	console     bool
}

const redisRetention = 7 * 24 * time.Hour

// NewLogger creates a logger writing under logDir. redisClient may be
// nil for setups without Redis-backed log queries.
func NewLogger(redisClient *redis.Client, logDir string, console bool) (*Logger, error) {
	if logDir == "" {
		homeDir, _ := os.UserHomeDir()
		logDir = filepath.Join(homeDir, ".healthguard", "logs")
	}

	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	logFile, err := openLogFile(filepath.Join(logDir, "healthguard.log"))
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	auditFile, err := openLogFile(filepath.Join(logDir, "audit.log"))
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("failed to open audit file: %w", err)
	}

	return &Logger{
		redisClient: redisClient,
		logFile:     logFile,
		auditFile:   auditFile,
		console:     console,
	}, nil
}

// Close closes the logger's files
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.logFile != nil {
		l.logFile.Close()
	}
	if l.auditFile != nil {
		l.auditFile.Close()
	}
	return nil
}

// Log writes a log entry
func (l *Logger) Log(entry LogEntry) {
	entry.Timestamp = time.Now()
	l.writeToFile(l.logFile, entry)
	l.writeToRedis("logs", entry, entry.Timestamp)
	if l.console {
		l.writeToConsole(entry)
	}
}

// Audit writes an audit entry
func (l *Logger) Audit(entry AuditEntry) {
	entry.Timestamp = time.Now()
	l.writeToFile(l.auditFile, entry)
	l.writeToRedis("audit", entry, entry.Timestamp)
}

// Debug logs a debug message
func (l *Logger) Debug(component, message string, details map[string]interface{}) {
	l.Log(LogEntry{Level: LevelDebug, Component: component, Message: message, Details: details})
}

// Info logs an info message
func (l *Logger) Info(component, message string, details map[string]interface{}) {
	l.Log(LogEntry{Level: LevelInfo, Component: component, Message: message, Details: details})
}

// Warn logs a warning message
func (l *Logger) Warn(component, message string, details map[string]interface{}) {
	l.Log(LogEntry{Level: LevelWarn, Component: component, Message: message, Details: details})
}

// Error logs an error message
func (l *Logger) Error(component, message string, details map[string]interface{}) {
	l.Log(LogEntry{Level: LevelError, Component: component, Message: message, Details: details})
}

// LogFilter defines filters for log queries
type LogFilter struct {
	Duration   time.Duration
	Level      LogLevel
	Component  string
	WorkflowID string
	Limit      int
}

// GetLogs retrieves recent log entries from Redis
func (l *Logger) GetLogs(ctx context.Context, filter LogFilter) ([]LogEntry, error) {
	if l.redisClient == nil {
		return nil, fmt.Errorf("log queries require a Redis client")
	}

	endTime := time.Now()
	startTime := endTime.Add(-filter.Duration)

	results, err := l.redisClient.ZRangeByScore(ctx, "logs:entries", &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", startTime.Unix()),
		Max: fmt.Sprintf("%d", endTime.Unix()),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get logs: %w", err)
	}

	logs := make([]LogEntry, 0, len(results))
	for _, result := range results {
		var entry LogEntry
		if err := json.Unmarshal([]byte(result), &entry); err != nil {
			continue
		}
		if filter.Level != "" && entry.Level != filter.Level {
			continue
		}
		if filter.Component != "" && entry.Component != filter.Component {
			continue
		}
		if filter.WorkflowID != "" && entry.WorkflowID != filter.WorkflowID {
			continue
		}
		logs = append(logs, entry)
	}

	if filter.Limit > 0 && len(logs) > filter.Limit {
		logs = logs[len(logs)-filter.Limit:]
	}
	return logs, nil
}

func (l *Logger) writeToFile(file *os.File, entry interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	file.Write(data)
	file.Write([]byte("\n"))
}

func (l *Logger) writeToRedis(prefix string, entry interface{}, timestamp time.Time) {
	if l.redisClient == nil {
		return
	}
	ctx := context.Background()
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}

	key := fmt.Sprintf("%s:entries", prefix)
	l.redisClient.ZAdd(ctx, key, &redis.Z{
		Score:  float64(timestamp.Unix()),
		Member: string(data),
	})

	cutoff := time.Now().Add(-redisRetention).Unix()
	l.redisClient.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", cutoff))
}

func (l *Logger) writeToConsole(entry LogEntry) {
	colors := map[LogLevel]string{
		LevelDebug: "\033[36m",
		LevelInfo:  "\033[32m",
		LevelWarn:  "\033[33m",
		LevelError: "\033[31m",
	}
	reset := "\033[0m"

	fmt.Printf("%s[%s] [%s] [%s]%s %s\n",
		colors[entry.Level],
		entry.Timestamp.Format("15:04:05"),
		entry.Level,
		entry.Component,
		reset,
		entry.Message,
	)
}

func openLogFile(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
}

// Global logger instance
var globalLogger *Logger

// SetGlobalLogger sets the global logger instance
func SetGlobalLogger(logger *Logger) {
	globalLogger = logger
}

// Info logs an info message using the global logger
func Info(component, message string, details map[string]interface{}) {
	if globalLogger != nil {
		globalLogger.Info(component, message, details)
	}
}

// Warn logs a warning message using the global logger
func Warn(component, message string, details map[string]interface{}) {
	if globalLogger != nil {
		globalLogger.Warn(component, message, details)
	}
}

// Error logs an error message using the global logger
func Error(component, message string, details map[string]interface{}) {
	if globalLogger != nil {
		globalLogger.Error(component, message, details)
	}
}

// AuditLog logs an audit entry using the global logger
func AuditLog(entry AuditEntry) {
	if globalLogger != nil {
		globalLogger.Audit(entry)
	}
}
