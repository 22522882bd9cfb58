package config

type Config struct {
	// длина кодов выдачи, не меньше 4
	OTPDigits int `env:"OTP_DIGITS" envDefault:"4"`
}
