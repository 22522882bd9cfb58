package config

type Config struct {
	// пустая строка - хранилище в памяти
	DBDsn string `env:"DATABASE_URI"`
}
