package config

// ConfigBackend abstracts where persisted config values live. Keys are
// dotted paths such as "joplin.port".
type ConfigBackend interface {
	Location() string
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	GetStringList(key string) (val []string, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
}
