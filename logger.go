package main

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"drover/device"
)

// Logger is the process-wide structured logger.
var Logger zerolog.Logger

var persistentLogger *PersistentLogger

type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

// LogConfig controls log outputs, level and file rotation.
type LogConfig struct {
	Level      LogLevel
	Console    bool
	File       bool
	FilePath   string
	MaxSizeMB  int // rotate when the current file exceeds this
	MaxAgeDays int // drop rotated files older than this
	MaxBackups int // keep at most this many rotated files
	Compress   bool
}

// DefaultLogConfig returns console-only logging at info level.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:      LogLevelInfo,
		Console:    true,
		File:       false,
		MaxSizeMB:  10,
		MaxAgeDays: 7,
		MaxBackups: 5,
		Compress:   true,
	}
}

// PersistentLogConfig returns console+file logging rooted at dataDir.
func PersistentLogConfig(dataDir string) LogConfig {
	cfg := DefaultLogConfig()
	cfg.File = true
	cfg.FilePath = filepath.Join(dataDir, "logs", "drover.log")
	return cfg
}

// PersistentLogger is an io.Writer that rotates, compresses and expires log
// files under one directory.
type PersistentLogger struct {
	mu          sync.Mutex
	config      LogConfig
	currentFile *os.File
	currentSize int64
	logDir      string
}

func NewPersistentLogger(config LogConfig) (*PersistentLogger, error) {
	logDir := filepath.Dir(config.FilePath)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	pl := &PersistentLogger{
		config: config,
		logDir: logDir,
	}

	if err := pl.openFile(); err != nil {
		return nil, err
	}

	go pl.cleanupRoutine()

	return pl, nil
}

func (pl *PersistentLogger) Write(p []byte) (n int, err error) {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	if pl.config.MaxSizeMB > 0 && pl.currentSize+int64(len(p)) > int64(pl.config.MaxSizeMB)*1024*1024 {
		if err := pl.rotate(); err != nil {
			return 0, err
		}
	}

	n, err = pl.currentFile.Write(p)
	pl.currentSize += int64(n)
	return n, err
}

func (pl *PersistentLogger) openFile() error {
	file, err := os.OpenFile(pl.config.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}

	pl.currentFile = file
	pl.currentSize = info.Size()
	return nil
}

func (pl *PersistentLogger) rotate() error {
	if pl.currentFile != nil {
		pl.currentFile.Close()
	}

	timestamp := time.Now().Format("2006-01-02_15-04-05")
	rotatedPath := filepath.Join(pl.logDir, fmt.Sprintf("drover_%s.log", timestamp))

	if err := os.Rename(pl.config.FilePath, rotatedPath); err != nil {
		// rename failed, keep writing into a fresh file
		return pl.openFile()
	}

	if pl.config.Compress {
		go pl.compressFile(rotatedPath)
	}

	return pl.openFile()
}

func (pl *PersistentLogger) compressFile(filePath string) {
	src, err := os.Open(filePath)
	if err != nil {
		return
	}
	defer src.Close()

	dst, err := os.Create(filePath + ".gz")
	if err != nil {
		return
	}
	defer dst.Close()

	gz := gzip.NewWriter(dst)
	defer gz.Close()

	if _, err := io.Copy(gz, src); err != nil {
		os.Remove(filePath + ".gz")
		return
	}

	os.Remove(filePath)
}

func (pl *PersistentLogger) cleanupRoutine() {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	pl.cleanup()

	for range ticker.C {
		pl.cleanup()
	}
}

// cleanup drops rotated files past the age or backup-count limits.
func (pl *PersistentLogger) cleanup() {
	files, err := filepath.Glob(filepath.Join(pl.logDir, "drover_*.log*"))
	if err != nil {
		return
	}

	type fileInfo struct {
		path    string
		modTime time.Time
	}
	var fileInfos []fileInfo

	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil {
			continue
		}
		fileInfos = append(fileInfos, fileInfo{path: f, modTime: info.ModTime()})
	}

	sort.Slice(fileInfos, func(i, j int) bool {
		return fileInfos[i].modTime.After(fileInfos[j].modTime)
	})

	now := time.Now()
	for i, fi := range fileInfos {
		if pl.config.MaxAgeDays > 0 && now.Sub(fi.modTime) > time.Duration(pl.config.MaxAgeDays)*24*time.Hour {
			os.Remove(fi.path)
			continue
		}
		if pl.config.MaxBackups > 0 && i >= pl.config.MaxBackups {
			os.Remove(fi.path)
		}
	}
}

func (pl *PersistentLogger) Close() error {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	if pl.currentFile != nil {
		return pl.currentFile.Close()
	}
	return nil
}

// InitLogger wires the global Logger and hands the device package a child
// logger tagged with its module name.
func InitLogger(config LogConfig) error {
	var writers []io.Writer

	if config.Console {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		})
	}

	if config.File && config.FilePath != "" {
		pl, err := NewPersistentLogger(config)
		if err != nil {
			return err
		}
		persistentLogger = pl
		writers = append(writers, pl)
	}

	if len(writers) == 0 {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		})
	}

	multi := zerolog.MultiLevelWriter(writers...)

	var level zerolog.Level
	switch config.Level {
	case LogLevelDebug:
		level = zerolog.DebugLevel
	case LogLevelWarn:
		level = zerolog.WarnLevel
	case LogLevelError:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}

	Logger = zerolog.New(multi).
		Level(level).
		With().
		Timestamp().
		Logger()

	device.SetLogger(Logger)
	return nil
}

// CloseLogger flushes and closes the file sink, if any.
func CloseLogger() {
	if persistentLogger != nil {
		persistentLogger.Close()
	}
}

func LogDebug(module string) *zerolog.Event {
	return Logger.Debug().Str("module", module)
}

func LogInfo(module string) *zerolog.Event {
	return Logger.Info().Str("module", module)
}

func LogWarn(module string) *zerolog.Event {
	return Logger.Warn().Str("module", module)
}

func LogError(module string) *zerolog.Event {
	return Logger.Error().Str("module", module)
}
