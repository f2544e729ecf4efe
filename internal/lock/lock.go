// Package lock файловая блокировка одного экземпляра процесса
package lock

import (
	"errors"
	"fmt"

	"github.com/gofrs/flock"
)

// ErrLocked блокировка уже захвачена другим процессом
var ErrLocked = errors.New("уже запущен другой экземпляр")

// Instance захваченная блокировка
type Instance struct {
	fl *flock.Flock
}

// Acquire пытается захватить блокировку без ожидания
func Acquire(path string) (*Instance, error) {
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("ошибка блокировки %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrLocked)
	}
	return &Instance{fl: fl}, nil
}

// Path путь к файлу блокировки
func (i *Instance) Path() string {
	return i.fl.Path()
}

// Release снимает блокировку
func (i *Instance) Release() error {
	return i.fl.Unlock()
}
