package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Logger interface {
	Log(info *MetricsInfo)
}

// ZerologLogger emits every record as a raw json field of one log event.
type ZerologLogger struct {
	logger zerolog.Logger
}

func NewZerologLogger(logger zerolog.Logger) *ZerologLogger {
	return &ZerologLogger{logger: logger}
}

func (l *ZerologLogger) Log(info *MetricsInfo) {
	infoStr, err := info.ToJSON()
	if err != nil {
		l.logger.Error().Err(err).Msg("metrics record encoding failed")
		return
	}
	l.logger.Info().RawJSON("metrics", []byte(strings.TrimSpace(infoStr))).Msg("request")
}

const defaultQueueSize = 2000
const defaultLogWriters = 2
const defaultMaxLogFileSize = 1024 * 1024 * 1024
const defaultMaxLogFiles = 10

// FileLogger appends records to log<N> files under LogDir, one per writer
// goroutine, rotating each to log<N>.<i> once it reaches MaxLogFileSize.
// When MaxLogFiles rotations exist the oldest one is overwritten.
type FileLogger struct {
	MetricsQueue   chan *MetricsInfo
	LogDir         string
	MaxLogFileSize int64
	MaxLogFiles    int

	logger zerolog.Logger
	wg     sync.WaitGroup
	once   sync.Once
}

func NewFileLogger(logDir string, maxLogFileSize int64, maxLogFiles int, logger zerolog.Logger) *FileLogger {
	if maxLogFileSize <= 0 {
		maxLogFileSize = defaultMaxLogFileSize
	}
	if maxLogFiles <= 0 {
		maxLogFiles = defaultMaxLogFiles
	}
	l := &FileLogger{
		MetricsQueue:   make(chan *MetricsInfo, defaultQueueSize),
		LogDir:         logDir,
		MaxLogFileSize: maxLogFileSize,
		MaxLogFiles:    maxLogFiles,
		logger:         logger.With().Str("component", "metrics").Logger(),
	}

	for i := 0; i < defaultLogWriters; i++ {
		l.wg.Add(1)
		go l.startLogWriter(i)
	}
	return l
}

func (l *FileLogger) Log(info *MetricsInfo) {
	select {
	case l.MetricsQueue <- info:
	default:
		l.logger.Warn().Msg("metrics queue full, record dropped")
	}
}

// Close drains the queue and waits for the writers to finish.
func (l *FileLogger) Close() {
	l.once.Do(func() { close(l.MetricsQueue) })
	l.wg.Wait()
}

func (l *FileLogger) startLogWriter(idx int) {
	defer l.wg.Done()

	f, err := l.openLogFile(idx)
	if err != nil {
		l.logger.Error().Err(err).Int("writer", idx).Msg("log open failed")
	}
	defer func() {
		if f != nil {
			f.Close()
		}
	}()

	for info := range l.MetricsQueue {
		infoStr, err := info.ToJSON()
		if err != nil {
			l.logger.Error().Err(err).Int("writer", idx).Msg("metrics record encoding failed")
			continue
		}

		f, err = l.tryRotateLogFile(f, idx)
		if err != nil || f == nil {
			continue
		}

		if _, err := f.WriteString(infoStr); err != nil {
			l.logger.Error().Err(err).Int("writer", idx).Msg("write failed")
			continue
		}
		f.Sync()
	}
}

func (l *FileLogger) logFilePath(idx int) string {
	return filepath.Join(l.LogDir, fmt.Sprintf("log%d", idx))
}

func (l *FileLogger) openLogFile(idx int) (*os.File, error) {
	return os.OpenFile(l.logFilePath(idx), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
}

func (l *FileLogger) tryRotateLogFile(currFile *os.File, idx int) (*os.File, error) {
	if currFile == nil {
		return l.openLogFile(idx)
	}

	info, err := currFile.Stat()
	if err != nil || info.Size() < l.MaxLogFileSize {
		return currFile, nil
	}

	rotated, err := l.rotationTarget(idx)
	if err != nil {
		l.logger.Error().Err(err).Int("writer", idx).Msg("log rotation failed")
		return currFile, nil
	}

	currFile.Close()
	if err := os.Rename(l.logFilePath(idx), rotated); err != nil {
		l.logger.Error().Err(err).Int("writer", idx).Msg("log rotation failed")
	} else {
		l.logger.Debug().Str("file", rotated).Msg("log file rotated")
	}

	return l.openLogFile(idx)
}

// rotationTarget picks the first free log<N>.<i> slot, or the oldest one
// (removed first) when all slots are taken.
func (l *FileLogger) rotationTarget(idx int) (string, error) {
	for i := 0; i < l.MaxLogFiles; i++ {
		p := filepath.Join(l.LogDir, fmt.Sprintf("log%d.%d", idx, i))
		if _, err := os.Stat(p); os.IsNotExist(err) {
			return p, nil
		}
	}

	var oldest string
	oldestTime := time.Now()
	for i := 0; i < l.MaxLogFiles; i++ {
		p := filepath.Join(l.LogDir, fmt.Sprintf("log%d.%d", idx, i))
		st, err := os.Stat(p)
		if err != nil {
			continue
		}
		if st.ModTime().Before(oldestTime) {
			oldest = p
			oldestTime = st.ModTime()
		}
	}
	if len(oldest) == 0 {
		oldest = filepath.Join(l.LogDir, fmt.Sprintf("log%d.0", idx))
	}
	if err := os.Remove(oldest); err != nil && !os.IsNotExist(err) {
		return "", err
	}
	return oldest, nil
}
