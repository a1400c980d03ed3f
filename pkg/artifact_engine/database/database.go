package database

import (
	"fmt"

	"github.com/artifact-vault/artifact-engine/pkg/artifact_engine/models"
	_ "github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

func Connect(connStr string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(connStr), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{
			TablePrefix: "v1_",
		}})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&models.ArtifactVersion{}); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return db, nil
}
