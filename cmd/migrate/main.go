package main

import (
	"fmt"
	"log"
	"os"

	"fieldops/internal/config"
	"fieldops/internal/models"

	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func main() {
	viper.AddConfigPath(".")
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()

	cfg := config.Load()

	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		dsn = fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=UTC",
			cfg.Database.Host, cfg.Database.User, cfg.Database.Password, cfg.Database.Name, cfg.Database.Port)
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	log.Println("Starting database migration...")

	if err := db.AutoMigrate(models.AllModels()...); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	log.Println("Database migration completed successfully!")

	log.Println("Creating additional indexes...")

	// Composite indexes the engine's hot queries rely on.
	db.Exec("CREATE INDEX IF NOT EXISTS idx_flows_org_status ON automation_flows(organization_id, status)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_logs_flow_created ON automation_logs(flow_id, created_at)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_logs_scheduled ON automation_logs(status, execute_at) WHERE status = 'scheduled'")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_jobs_org_status ON jobs(organization_id, status)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_invoices_org_number ON invoices(organization_id, number)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_notifications_user_read ON notifications(user_id, read)")

	log.Println("Indexes created!")
}
