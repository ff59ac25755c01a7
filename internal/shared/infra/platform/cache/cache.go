package cache

import (
	"context"
	"encoding/json"
	"time"
)

// Cache es una cache key-value de lectura (cache-aside). Los adapters guardan
// los valores como JSON para que memoria y Redis se comporten igual.
type Cache interface {
	// Get rellena dest (un puntero). (false, nil) es un miss; una entrada que
	// no se puede decodificar se borra y también cuenta como miss.
	Get(ctx context.Context, key string, dest interface{}) (bool, error)

	// ttl <= 0 usa el TTL por defecto del adapter.
	Set(ctx context.Context, key string, val interface{}, ttl time.Duration) error

	Delete(ctx context.Context, key string) error
}

func Encode(val interface{}) ([]byte, error) {
	return json.Marshal(val)
}

// Decode devuelve false si data no es un valor válido para dest.
func Decode(data []byte, dest interface{}) bool {
	return json.Unmarshal(data, dest) == nil
}
