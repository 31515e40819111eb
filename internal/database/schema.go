package database

import (
	"context"
	"database/sql"
	"fmt"
)

// schema creates the tables used by the reservation engine.  There is no
// unique constraint on reservations.seat_id: the seat's RESERVED status is
// what gates a second PENDING reservation.  sales.reservation_id is unique
// so a confirmation can never produce two sales.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		id          CHAR(36)     NOT NULL PRIMARY KEY,
		movie_title VARCHAR(255) NOT NULL,
		room        VARCHAR(64)  NOT NULL,
		starts_at   DATETIME     NOT NULL,
		price_cents INT UNSIGNED NOT NULL,
		created_at  DATETIME     NOT NULL DEFAULT CURRENT_TIMESTAMP
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS seats (
		id         CHAR(36)     NOT NULL PRIMARY KEY,
		session_id CHAR(36)     NOT NULL,
		number     INT UNSIGNED NOT NULL,
		status     ENUM('AVAILABLE','RESERVED','SOLD') NOT NULL DEFAULT 'AVAILABLE',
		UNIQUE KEY uq_seats_session_number (session_id, number),
		CONSTRAINT fk_seats_session FOREIGN KEY (session_id) REFERENCES sessions(id)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS reservations (
		id         CHAR(36) NOT NULL PRIMARY KEY,
		user_id    CHAR(36) NOT NULL,
		session_id CHAR(36) NOT NULL,
		seat_id    CHAR(36) NOT NULL,
		status     ENUM('PENDING','CONFIRMED','EXPIRED') NOT NULL DEFAULT 'PENDING',
		expires_at DATETIME(3) NOT NULL,
		created_at DATETIME(3) NOT NULL,
		KEY idx_reservations_status_expires (status, expires_at),
		KEY idx_reservations_seat (seat_id),
		CONSTRAINT fk_reservations_seat FOREIGN KEY (seat_id) REFERENCES seats(id)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS sales (
		id             CHAR(36) NOT NULL PRIMARY KEY,
		reservation_id CHAR(36) NOT NULL,
		user_id        CHAR(36) NOT NULL,
		session_id     CHAR(36) NOT NULL,
		seat_id        CHAR(36) NOT NULL,
		created_at     DATETIME(3) NOT NULL,
		UNIQUE KEY uq_sales_reservation (reservation_id),
		KEY idx_sales_user (user_id, created_at),
		CONSTRAINT fk_sales_reservation FOREIGN KEY (reservation_id) REFERENCES reservations(id)
	) ENGINE=InnoDB`,
}

// Migrate applies the schema.  Every statement is idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate step %d: %w", i+1, err)
		}
	}
	return nil
}
