package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// Tables owned by the payments core. users and leases belong to other
// services and must already exist.
var ddl = []string{
	`CREATE TABLE IF NOT EXISTS payments (
	  id CHAR(36) NOT NULL,
	  payer_id CHAR(36) NOT NULL,
	  lease_id CHAR(36) NOT NULL,
	  amount DECIMAL(12,2) NOT NULL,
	  currency CHAR(3) NOT NULL,
	  kind VARCHAR(16) NOT NULL,
	  status VARCHAR(16) NOT NULL,
	  checkout_session_id VARCHAR(255) NULL,
	  payment_intent_id VARCHAR(255) NULL,
	  transfer_id VARCHAR(255) NULL,
	  platform_fee DECIMAL(12,2) NULL,
	  landlord_payout DECIMAL(12,2) NULL,
	  notes JSON NULL,
	  failure_reason VARCHAR(255) NULL,
	  claimed_at DATETIME(3) NULL,
	  paid_at DATETIME(3) NULL,
	  created_at DATETIME(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
	  updated_at DATETIME(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
	  PRIMARY KEY (id),
	  UNIQUE KEY ux_payments_checkout_session (checkout_session_id),
	  UNIQUE KEY ux_payments_payment_intent (payment_intent_id),
	  KEY ix_payments_payer_id (payer_id),
	  KEY ix_payments_lease_id (lease_id),
	  KEY ix_payments_status (status),
	  CONSTRAINT fk_payments_lease FOREIGN KEY (lease_id) REFERENCES leases(id) ON DELETE RESTRICT
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS connected_accounts (
	  id CHAR(36) NOT NULL,
	  landlord_id CHAR(36) NOT NULL,
	  provider VARCHAR(32) NOT NULL,
	  external_account_id VARCHAR(255) NOT NULL,
	  status VARCHAR(16) NOT NULL,
	  charges_enabled TINYINT(1) NOT NULL DEFAULT 0,
	  payouts_enabled TINYINT(1) NOT NULL DEFAULT 0,
	  created_at DATETIME(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
	  updated_at DATETIME(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
	  PRIMARY KEY (id),
	  UNIQUE KEY ux_connected_accounts_landlord (landlord_id),
	  UNIQUE KEY ux_connected_accounts_external (external_account_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS payment_customers (
	  id CHAR(36) NOT NULL,
	  user_id CHAR(36) NOT NULL,
	  provider VARCHAR(32) NOT NULL,
	  external_customer_id VARCHAR(255) NOT NULL,
	  created_at DATETIME(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
	  PRIMARY KEY (id),
	  UNIQUE KEY ux_payment_customers_user (user_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS provider_events (
	  id CHAR(36) NOT NULL,
	  provider VARCHAR(64) NOT NULL,
	  event_id VARCHAR(128) NOT NULL,
	  event_type VARCHAR(64) NOT NULL,
	  payload_json JSON NULL,
	  archive_key VARCHAR(512) NULL,
	  received_at DATETIME(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
	  processed_at DATETIME(3) NULL,
	  PRIMARY KEY (id),
	  UNIQUE KEY ux_provider_events_provider_event (provider, event_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS notifications (
	  id CHAR(36) NOT NULL,
	  user_id CHAR(36) NOT NULL,
	  type VARCHAR(64) NOT NULL,
	  message VARCHAR(512) NOT NULL,
	  data JSON NULL,
	  read_at DATETIME(3) NULL,
	  created_at DATETIME(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
	  PRIMARY KEY (id),
	  KEY ix_notifications_user_created (user_id, created_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

func main() {
	_ = godotenv.Load()

	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		log.Fatal("DB_DSN environment variable is required")
	}
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	for _, stmt := range ddl {
		if err := db.Exec(stmt).Error; err != nil {
			log.Fatalf("Failed to create tables: %v", err)
		}
	}
	log.Printf("Created %d tables (if missing)", len(ddl))
}
