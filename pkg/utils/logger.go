package utils

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var Logger = logrus.New()

func init() {
	// Logger settings
	Logger.SetOutput(os.Stdout)
	Logger.SetFormatter(&logrus.JSONFormatter{})
	Logger.SetLevel(logrus.InfoLevel)
}

// LogConfig controls level, format and optional rotated file output
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // json or text
	OutputFile string `yaml:"output_file"`
	MaxSize    int    `yaml:"max_size"` // megabytes
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"` // days
	Compress   bool   `yaml:"compress"`
}

// Configure applies cfg to the shared Logger
func Configure(cfg LogConfig) error {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	Logger.SetLevel(level)

	if cfg.Format == "text" {
		Logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		Logger.SetFormatter(&logrus.JSONFormatter{})
	}

	writers := []io.Writer{os.Stdout}
	if cfg.OutputFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.OutputFile), 0755); err != nil {
			return err
		}
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.OutputFile,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		})
	}
	Logger.SetOutput(io.MultiWriter(writers...))
	return nil
}

// LogOrderEvent logs a heap change of a pending order
func LogOrderEvent(event string, fields logrus.Fields) {
	Logger.WithFields(fields).Info("Order " + event)
}

// LogWarning logs a non-fatal scheduler condition
func LogWarning(clock int64, message string) {
	Logger.WithFields(logrus.Fields{
		"clock": clock,
	}).Warn(message)
}

// LogError logs errors
func LogError(err error) {
	Logger.WithFields(logrus.Fields{
		"error": err.Error(),
	}).Error("Error occurred")
}
