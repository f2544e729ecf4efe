// Package jsonfile атомарная запись JSON-документов состояния и карантин поврежденных файлов.
package jsonfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// CorruptedSuffix суффикс, с которым поврежденный файл откладывается в сторону
const CorruptedSuffix = ".corrupted"

// Write сериализует v и атомарно заменяет файл: запись во временный файл и rename.
// Читатель никогда не увидит частично записанный документ.
func Write(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации %s: %w", path, err)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("ошибка создания каталога %s: %w", dir, err)
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("ошибка записи %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("ошибка замены %s: %w", path, err)
	}
	return nil
}

// Read читает файл целиком. Отсутствующий файл не ошибка: возвращается nil.
func Read(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения %s: %w", path, err)
	}
	return data, nil
}

// Quarantine переименовывает поврежденный файл в <path>.corrupted
func Quarantine(path string) (string, error) {
	dst := path + CorruptedSuffix
	if err := os.Rename(path, dst); err != nil {
		return "", fmt.Errorf("ошибка переноса поврежденного файла %s: %w", path, err)
	}
	return dst, nil
}
