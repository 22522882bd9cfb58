package config

type Config struct {
	// log | kafka | nats | webhook | none
	Driver       string `env:"EVENTS_DRIVER" envDefault:"log"`
	KafkaBrokers string `env:"KAFKA_BROKERS" envDefault:"localhost:9092"`
	KafkaTopic   string `env:"KAFKA_TOPIC" envDefault:"foodmart.events"`
	NatsURL      string `env:"NATS_URL" envDefault:"nats://127.0.0.1:4222"`
	NatsSubject  string `env:"NATS_SUBJECT" envDefault:"foodmart.events"`
	WebhookURL   string `env:"WEBHOOK_URL"`
}
