package database

import (
	"fmt"
	"log"
	"os"

	"subscription-bot/internal/domain/billing"
	"subscription-bot/internal/domain/consent"
	"subscription-bot/internal/domain/invites"
	"subscription-bot/internal/domain/users"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var DB *gorm.DB

func InitDB() {
	dsn := os.Getenv("DB_URL")
	if dsn == "" {
		log.Fatal("DB_URL not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	DB = db

	if err := Migrate(DB); err != nil {
		log.Fatal("AutoMigrate error:", err)
	}

	fmt.Println("Connected and migrated successfully")
}

// Migrate applies the schema for every domain model. Shared with tests,
// which run it against an in-memory database.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&users.User{},
		&invites.InviteLink{},
		&consent.Agreement{},
		&billing.PaymentRequest{},
	)
}
