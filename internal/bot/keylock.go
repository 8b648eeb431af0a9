package bot

import "sync"

// KeyedMutex - взаимное исключение по ключу позиции (symbol:side)
//
// Все операции над одной позицией (вход, реакция монитора на исполнение,
// ручное закрытие) выполняются под одним ключом, операции над разными
// позициями идут параллельно. Записи удаляются, когда ключ никто не держит
// и не ждёт.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedMutex создаёт пустой набор блокировок
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyLock)}
}

// Lock захватывает ключ и возвращает функцию освобождения
func (k *KeyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Unlock()

			k.mu.Lock()
			l.refs--
			if l.refs == 0 {
				delete(k.locks, key)
			}
			k.mu.Unlock()
		})
	}
}

// Len возвращает число ключей, которые сейчас удерживаются или ожидаются
func (k *KeyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
