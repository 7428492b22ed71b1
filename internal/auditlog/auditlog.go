// Package auditlog пишет журнал событий платёжной системы: по файлу на календарный день (UTC),
// одна JSON-запись на строку.
package auditlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const fileSuffix = "-webhooks.log"

// Entry описывает запись журнала.
type Entry struct {
	Timestamp time.Time       `json:"timestamp"`
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	Data      json.RawMessage `json:"data"`
}

// Writer дописывает записи в файл текущего дня и переключается на новый файл после полуночи UTC.
type Writer struct {
	mu   sync.Mutex
	dir  string
	now  func() time.Time
	day  string
	file *os.File

	// OnRotate вызывается с путём закрытого файла предыдущего дня.
	OnRotate func(path string)
}

// New создаёт журнал в каталоге dir, создавая каталог при необходимости.
func New(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audit log dir: %w", err)
	}
	return &Writer{dir: dir, now: time.Now}, nil
}

// Path возвращает путь файла журнала за день day в формате 2006-01-02.
func (w *Writer) Path(day string) string {
	return filepath.Join(w.dir, day+fileSuffix)
}

// Write дописывает запись. Пустая метка времени заменяется текущим временем.
func (w *Writer) Write(e Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now().UTC()
	if e.Timestamp.IsZero() {
		e.Timestamp = now
	}
	if len(e.Data) == 0 {
		e.Data = json.RawMessage("null")
	}

	if err := w.rotateLocked(now.Format("2006-01-02")); err != nil {
		return err
	}

	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode audit entry: %w", err)
	}
	line = append(line, '\n')

	if _, err := w.file.Write(line); err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}
	return nil
}

func (w *Writer) rotateLocked(day string) error {
	if w.file != nil && w.day == day {
		return nil
	}

	var rotated string
	if w.file != nil {
		rotated = w.file.Name()
		if err := w.file.Close(); err != nil {
			return fmt.Errorf("close audit log: %w", err)
		}
		w.file = nil
	}

	f, err := os.OpenFile(w.Path(day), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	w.file = f
	w.day = day

	if rotated != "" && w.OnRotate != nil {
		w.OnRotate(rotated)
	}
	return nil
}

// Close закрывает текущий файл журнала.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}
