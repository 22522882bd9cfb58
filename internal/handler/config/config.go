package config

type Config struct {
	ServerAddr string `env:"RUN_ADDRESS" envDefault:":8080"`
	JWTSecret  string `env:"JWT_SECRET,required,notEmpty"`
}
