package database

import (
	"chatcord-backend/internal/models"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

func setPragmaValues(db *sql.DB) error {
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return err
	}

	// these next 2 extremely speed up performance of sqlite
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return err
	}

	if _, err := db.Exec("PRAGMA synchronous = normal"); err != nil {
		return err
	}

	return nil
}

func readPragmaValues(db *sql.DB, sugar *zap.SugaredLogger) error {
	var foreignKeysValue bool
	err := db.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeysValue)
	if err != nil {
		return err
	}
	if !foreignKeysValue {
		return fmt.Errorf("sqlite refused to enable foreign keys")
	}
	sugar.Debugf("sqlite PRAGMA foreign_keys: %t", foreignKeysValue)

	var journalModeValue string
	err = db.QueryRow("PRAGMA journal_mode").Scan(&journalModeValue)
	if err != nil {
		return err
	}
	sugar.Debugf("sqlite PRAGMA journal_mode: %s", journalModeValue)

	var synchronousValue int
	err = db.QueryRow("PRAGMA synchronous").Scan(&synchronousValue)
	if err != nil {
		return err
	}

	var synchronousValueStr string
	switch synchronousValue {
	case 0:
		synchronousValueStr = "off"
	case 1:
		synchronousValueStr = "normal"
	case 2:
		synchronousValueStr = "full"
	case 3:
		synchronousValueStr = "extra"
	default:
		return fmt.Errorf("synchronous value is unsupported")
	}

	sugar.Debugf("sqlite PRAGMA synchronous: %s", synchronousValueStr)

	return nil
}

// Setup opens the database selected by cfg and creates missing tables.
// Self-contained mode uses sqlite at cfg.DbPath, otherwise mysql/mariadb.
func Setup(cfg *models.ConfigFile, sugar *zap.SugaredLogger) (*sql.DB, error) {
	var db *sql.DB
	var err error

	if cfg.SelfContained {
		sugar.Infof("Connecting to database sqlite at %s...", cfg.DbPath)

		db, err = sql.Open("sqlite", cfg.DbPath)
		if err != nil {
			return nil, err
		}

		// there can be sqlite busy errors if this is not set to 1,
		// it also keeps an in-memory database alive between queries
		db.SetMaxOpenConns(1)

		err = setPragmaValues(db)
		if err != nil {
			db.Close()
			return nil, err
		}

		err = readPragmaValues(db, sugar)
		if err != nil {
			db.Close()
			return nil, err
		}
	} else {
		sugar.Info("Connecting to database mysql/mariadb...")

		db, err = sql.Open("mysql", fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&clientFoundRows=true&timeout=10s", cfg.DbUser, cfg.DbPassword, cfg.DbAddress, cfg.DbPort, cfg.DbDatabase))
		if err != nil {
			return nil, err
		}

		db.SetMaxOpenConns(10)

		if err = db.Ping(); err != nil {
			db.Close()
			return nil, err
		}
	}

	err = setupTables(db, cfg.SelfContained)
	if err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

var tables = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id VARCHAR(64) PRIMARY KEY,
		username VARCHAR(64) NOT NULL,
		email VARCHAR(255) NOT NULL,
		avatar_url TEXT NOT NULL,
		status VARCHAR(16) NOT NULL,
		status_message VARCHAR(128) NOT NULL,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS servers (
		id BIGINT PRIMARY KEY,
		owner_id VARCHAR(64) NOT NULL,
		name VARCHAR(100) NOT NULL,
		description TEXT NOT NULL,
		icon_url TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		FOREIGN KEY (owner_id) REFERENCES users(id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS server_members (
		server_id BIGINT NOT NULL,
		user_id VARCHAR(64) NOT NULL,
		role VARCHAR(16) NOT NULL,
		joined_at BIGINT NOT NULL,
		PRIMARY KEY (server_id, user_id),
		FOREIGN KEY (server_id) REFERENCES servers(id) ON DELETE CASCADE,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS channels (
		id BIGINT PRIMARY KEY,
		server_id BIGINT NOT NULL,
		name VARCHAR(100) NOT NULL,
		description TEXT NOT NULL,
		kind VARCHAR(8) NOT NULL,
		is_private BOOLEAN NOT NULL,
		created_by VARCHAR(64) NOT NULL,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		FOREIGN KEY (server_id) REFERENCES servers(id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id BIGINT PRIMARY KEY,
		channel_id BIGINT NOT NULL,
		user_id VARCHAR(64) NOT NULL,
		content TEXT NOT NULL,
		edited_at BIGINT,
		deleted_at BIGINT,
		created_at BIGINT NOT NULL,
		FOREIGN KEY (channel_id) REFERENCES channels(id) ON DELETE CASCADE,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id BIGINT PRIMARY KEY,
		user_id VARCHAR(64) NOT NULL,
		kind VARCHAR(16) NOT NULL,
		related_user_id VARCHAR(64),
		related_message_id BIGINT,
		content TEXT NOT NULL,
		read_at BIGINT,
		created_at BIGINT NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS user_presence (
		user_id VARCHAR(64) PRIMARY KEY,
		channel_id BIGINT,
		last_seen BIGINT NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS voice_sessions (
		id BIGINT PRIMARY KEY,
		channel_id BIGINT NOT NULL,
		user_id VARCHAR(64) NOT NULL,
		session_token VARCHAR(64) NOT NULL,
		started_at BIGINT NOT NULL,
		ended_at BIGINT,
		FOREIGN KEY (channel_id) REFERENCES channels(id) ON DELETE CASCADE,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS video_sessions (
		id BIGINT PRIMARY KEY,
		channel_id BIGINT NOT NULL,
		initiator_id VARCHAR(64) NOT NULL,
		session_token VARCHAR(64) NOT NULL,
		started_at BIGINT NOT NULL,
		ended_at BIGINT,
		FOREIGN KEY (channel_id) REFERENCES channels(id) ON DELETE CASCADE,
		FOREIGN KEY (initiator_id) REFERENCES users(id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS video_participants (
		id BIGINT PRIMARY KEY,
		video_session_id BIGINT NOT NULL,
		user_id VARCHAR(64) NOT NULL,
		joined_at BIGINT NOT NULL,
		left_at BIGINT,
		FOREIGN KEY (video_session_id) REFERENCES video_sessions(id) ON DELETE CASCADE,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	)`,
}

// innodb indexes foreign key columns by itself, sqlite doesn't
var sqliteIndexes = []string{
	"CREATE INDEX IF NOT EXISTS idx_messages_channel ON messages (channel_id, id)",
	"CREATE INDEX IF NOT EXISTS idx_channels_server ON channels (server_id)",
	"CREATE INDEX IF NOT EXISTS idx_members_user ON server_members (user_id)",
	"CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications (user_id, id)",
	"CREATE INDEX IF NOT EXISTS idx_voice_channel ON voice_sessions (channel_id)",
	"CREATE INDEX IF NOT EXISTS idx_video_channel ON video_sessions (channel_id)",
	"CREATE INDEX IF NOT EXISTS idx_participants_session ON video_participants (video_session_id)",
}

func setupTables(db *sql.DB, selfContained bool) error {
	for _, query := range tables {
		if _, err := db.Exec(query); err != nil {
			return err
		}
	}

	if selfContained {
		for _, query := range sqliteIndexes {
			if _, err := db.Exec(query); err != nil {
				return err
			}
		}
	}

	return nil
}
