package port

import "errors"

var ErrKeyNotFound = errors.New("key not found")

// LocalStore is synchronous device-local key/value storage.
type LocalStore interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Delete(key string) error
}
