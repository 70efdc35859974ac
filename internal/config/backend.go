package config

// store persists raw setting values. Values are strings on every platform;
// each setting parses its own.
type store interface {
	Get(key string) (val string, ok bool, err error)
	Set(key, val string) error
	Delete(key string) error
}
