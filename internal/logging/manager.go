package logging

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// LoggerManager выдаёт логгеры компонентов движка и хранит их уровни
type LoggerManager struct {
	mu      sync.RWMutex
	loggers map[string]*Logger
	levels  map[string]LogLevel
}

var (
	globalManager *LoggerManager
	managerOnce   sync.Once
)

// GetLoggerManager возвращает глобальный менеджер логгеров
func GetLoggerManager() *LoggerManager {
	managerOnce.Do(func() {
		globalManager = &LoggerManager{
			loggers: make(map[string]*Logger),
			levels:  make(map[string]LogLevel),
		}
	})
	return globalManager
}

// ParseLevel разбирает имя уровня (trace, debug, info, warn, error)
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return TRACE, nil
	case "debug":
		return DEBUG, nil
	case "", "info":
		return INFO, nil
	case "warn", "warning":
		return WARN, nil
	case "error":
		return ERROR, nil
	}
	return INFO, fmt.Errorf("неизвестный уровень логирования %q", s)
}

// Configure задаёт консольные уровни компонентов (durability: debug, ...).
// Уже созданные логгеры перенастраиваются сразу, остальные получат уровень при создании.
// Возвращает описания пропущенных записей.
func (lm *LoggerManager) Configure(levels map[string]string) []string {
	var skipped []string

	lm.mu.Lock()
	defer lm.mu.Unlock()

	for component, name := range levels {
		level, err := ParseLevel(name)
		if err != nil {
			skipped = append(skipped, fmt.Sprintf("%s: %v", component, err))
			continue
		}
		lm.levels[component] = level
		if logger, ok := lm.loggers[component]; ok {
			logger.setConsoleLevel(level)
		}
	}
	sort.Strings(skipped)
	return skipped
}

// GetLogger возвращает логгер компонента, создавая его при необходимости
func (lm *LoggerManager) GetLogger(component string) (*Logger, error) {
	lm.mu.RLock()
	if logger, exists := lm.loggers[component]; exists {
		lm.mu.RUnlock()
		return logger, nil
	}
	lm.mu.RUnlock()

	lm.mu.Lock()
	defer lm.mu.Unlock()

	if logger, exists := lm.loggers[component]; exists {
		return logger, nil
	}

	logger, err := NewLogger(component)
	if err != nil {
		return nil, fmt.Errorf("логгер %s: %w", component, err)
	}
	if level, ok := lm.levels[component]; ok {
		logger.minConsoleLevel = level
	}

	lm.loggers[component] = logger
	return logger, nil
}

// MustGetLogger возвращает логгер или консольный fallback, если файл не создался
func (lm *LoggerManager) MustGetLogger(component string) *Logger {
	logger, err := lm.GetLogger(component)
	if err == nil {
		return logger
	}

	lm.mu.RLock()
	level, ok := lm.levels[component]
	lm.mu.RUnlock()
	if !ok {
		level = INFO
	}
	return &Logger{
		component:       component,
		consoleLogger:   Default().consoleLogger,
		minConsoleLevel: level,
		minFileLevel:    ERROR,
	}
}

// CloseAll закрывает файлы всех логгеров компонентов
func (lm *LoggerManager) CloseAll() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	var lastErr error
	for component, logger := range lm.loggers {
		if err := logger.Close(); err != nil {
			lastErr = fmt.Errorf("закрытие логгера %s: %w", component, err)
		}
	}

	lm.loggers = make(map[string]*Logger)
	return lastErr
}

// Components возвращает отсортированный список созданных логгеров
func (lm *LoggerManager) Components() []string {
	lm.mu.RLock()
	defer lm.mu.RUnlock()

	components := make([]string, 0, len(lm.loggers))
	for component := range lm.loggers {
		components = append(components, component)
	}
	sort.Strings(components)
	return components
}

func GetComponentLogger(component string) *Logger {
	return GetLoggerManager().MustGetLogger(component)
}

func GetDurabilityLogger() *Logger { return GetComponentLogger("durability") }
func GetStorageLogger() *Logger    { return GetComponentLogger("storage") }
func GetServerLogger() *Logger     { return GetComponentLogger("server") }
func GetTransportLogger() *Logger  { return GetComponentLogger("transport") }
