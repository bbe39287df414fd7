package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

var (
	PORT       string
	DB_URL     string
	JWT_SECRET string

	// bcrypt hash of the operator panel password
	ADMIN_PASSWORD_HASH string

	BOT_TOKEN     string
	PAYMENT_TOKEN string

	ADMIN_ID              int64
	PRIVATE_GROUP_CHAT_ID int64

	STRIPE_SECRET_KEY     string
	STRIPE_WEBHOOK_SECRET string

	// origin of the operator panel, allowed through CORS
	ADMIN_URL string

	CHECK_INTERVAL_HOURS int
)

func LoadEnv() {
	err := godotenv.Load()
	if err != nil {
		log.Println("No .env file found. Using system environment variables.")
	}

	PORT = getEnv("PORT", "8080")
	DB_URL = mustEnv("DB_URL")
	JWT_SECRET = mustEnv("JWT_SECRET")
	ADMIN_PASSWORD_HASH = mustEnv("ADMIN_PASSWORD_HASH")

	BOT_TOKEN = mustEnv("BOT_TOKEN")
	PAYMENT_TOKEN = getEnv("PAYMENT_TOKEN", "")

	ADMIN_ID = mustEnvInt64("ADMIN_ID")
	PRIVATE_GROUP_CHAT_ID = mustEnvInt64("PRIVATE_GROUP_CHAT_ID")

	STRIPE_SECRET_KEY = getEnv("STRIPE_SECRET_KEY", "")
	STRIPE_WEBHOOK_SECRET = getEnv("STRIPE_WEBHOOK_SECRET", "")

	ADMIN_URL = getEnv("ADMIN_URL", "http://localhost:3000")

	CHECK_INTERVAL_HOURS = getEnvInt("CHECK_INTERVAL_HOURS", 6)
}

func mustEnv(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("Missing required environment variable: %s", key)
	}
	return v
}

func mustEnvInt64(key string) int64 {
	v := mustEnv(key)
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		log.Fatalf("Environment variable %s must be an integer, got %q", key, v)
	}
	return n
}

func getEnv(key string, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v, exists := os.LookupEnv(key)
	if !exists || v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("Environment variable %s must be an integer, got %q", key, v)
	}
	return n
}
