package db

import (
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Options describe the MySQL connection behind the gorm store.
type Options struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
	// RawDSN, when set, is used verbatim and database creation is skipped.
	RawDSN string

	MaxOpenConns int
	MaxIdleConns int
}

// OptionsFromEnv reads MYSQL_DSN or MYSQL_HOST, MYSQL_PORT, MYSQL_USER,
// MYSQL_PASS, MYSQL_DB and MYSQL_MAX_OPEN, loading ./.env first.
func OptionsFromEnv() Options {
	if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load(".env")
	}
	return Options{
		Host:         getenv("MYSQL_HOST", "127.0.0.1"),
		Port:         getenv("MYSQL_PORT", "3306"),
		User:         getenv("MYSQL_USER", "root"),
		Password:     os.Getenv("MYSQL_PASS"),
		Database:     getenv("MYSQL_DB", "walletsync"),
		RawDSN:       os.Getenv("MYSQL_DSN"),
		MaxOpenConns: atoi(os.Getenv("MYSQL_MAX_OPEN"), 20),
		MaxIdleConns: 5,
	}
}

// DSN formats a go-sql-driver/mysql connection string for the database.
func (o Options) DSN() string {
	if o.RawDSN != "" {
		return o.RawDSN
	}
	return o.server() + o.Database + "?charset=utf8mb4&parseTime=True&loc=Local"
}

func (o Options) server() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/", o.User, o.Password, o.Host, o.Port)
}

// Init opens MySQL using OptionsFromEnv.
func Init() (*gorm.DB, error) {
	return Open(OptionsFromEnv())
}

// Open connects and creates the database on first use. Migrations belong to
// store.NewGormStore.
func Open(o Options) (*gorm.DB, error) {
	cfg := &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	}
	db, err := gorm.Open(mysql.Open(o.DSN()), cfg)
	if err != nil && o.RawDSN == "" && strings.Contains(err.Error(), "Unknown database") {
		if cerr := o.createDatabase(); cerr != nil {
			return nil, fmt.Errorf("create database %s: %w", o.Database, cerr)
		}
		db, err = gorm.Open(mysql.Open(o.DSN()), cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetMaxIdleConns(o.MaxIdleConns)
	sqlDB.SetMaxOpenConns(o.MaxOpenConns)
	return db, nil
}

func (o Options) createDatabase() error {
	db, err := sql.Open("mysql", o.server())
	if err != nil {
		return err
	}
	defer db.Close()
	_, err = db.Exec("CREATE DATABASE IF NOT EXISTS `" + o.Database + "` DEFAULT CHARACTER SET utf8mb4")
	return err
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func atoi(v string, def int) int {
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return n
	}
	return def
}
