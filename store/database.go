package store

import (
	"fmt"
	"log"
	"net/url"
	"strconv"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// In order to connect to Postgresql you need to fill out all the fields.
//
// To connect to sqlite, you just need to specify "sqlite" driver.
// By default it will use in-memory database. You can provide OPENREQ_DATABASE_NAME to use the file.
type DatabaseConfig struct {
	URL      string `env:"OPENREQ_DATABASE_URL" env-default:""`
	Name     string `env:"OPENREQ_DATABASE_NAME" env-default:""`
	Schema   string `env:"OPENREQ_DATABASE_SCHEMA" env-default:""`
	Driver   string `env:"OPENREQ_DATABASE_DRIVER" env-default:"sqlite"`
	Username string `env:"OPENREQ_DATABASE_USERNAME"  env-default:"postgres"`
	Password string `env:"OPENREQ_DATABASE_PASSWORD" env-default:""`
	Host     string `env:"OPENREQ_DATABASE_HOST" env-default:"localhost"`
	Port     string `env:"OPENREQ_DATABASE_PORT" env-default:"5432"`
	Retries  int    `env:"OPENREQ_DATABASE_RETRIES" env-default:"5"`
}

// ParseConnectionString parses a PostgreSQL URI or a sqlite file URI and
// returns a DatabaseConfig
func ParseConnectionString(connStr string) (DatabaseConfig, error) {
	// SQLite detection: starts with "file:"
	if strings.HasPrefix(connStr, "file:") {
		// Separate path from query
		parts := strings.SplitN(connStr[5:], "?", 2)
		dbName := parts[0]
		return DatabaseConfig{
			Name:    dbName,
			Driver:  "sqlite",
			Retries: 1,
		}, nil
	}

	parsedURL, err := url.Parse(connStr)
	if err != nil {
		return DatabaseConfig{}, fmt.Errorf("invalid connection string: %w", err)
	}

	if parsedURL.Scheme != "postgres" && parsedURL.Scheme != "postgresql" {
		return DatabaseConfig{}, fmt.Errorf("unsupported scheme: %s", parsedURL.Scheme)
	}

	user := parsedURL.User
	username := ""
	password := ""
	if user != nil {
		username = user.Username()
		password, _ = user.Password()
	}

	host := parsedURL.Hostname()
	port := parsedURL.Port()
	if port == "" {
		port = "5432" // default PostgreSQL port
	}

	dbName := strings.TrimPrefix(parsedURL.Path, "/")

	// extract schema if present in query parameters
	dbSchema := ""
	retries := 5

	query := parsedURL.Query()
	if s := query.Get("search_path"); s != "" {
		dbSchema = s
	}
	if r := query.Get("retries"); r != "" {
		if retryVal, err := strconv.Atoi(r); err == nil {
			retries = retryVal
		}
	}

	return DatabaseConfig{
		Name:     dbName,
		Schema:   dbSchema,
		Driver:   "postgres",
		Username: username,
		Password: password,
		Host:     host,
		Port:     port,
		Retries:  retries,
	}, nil
}

// ConnectToDB opens a database handle and migrates the schema.
func ConnectToDB(cnf DatabaseConfig) (*gorm.DB, error) {
	if cnf.URL != "" {
		parsed, err := ParseConnectionString(cnf.URL)
		if err != nil {
			return nil, err
		}
		cnf = parsed
	}

	switch cnf.Driver {
	case "postgres":
		return connectToPostgresql(cnf)
	case "sqlite", "":
		return connectToSqlite(cnf)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cnf.Driver)
	}
}

func connectToPostgresql(cnf DatabaseConfig) (*gorm.DB, error) {
	log.Println("connecting to Postgresql")
	dsn := fmt.Sprintf(
		"user=%s password=%s host=%s port=%s dbname=%s sslmode=disable",
		cnf.Username, cnf.Password, cnf.Host, cnf.Port, cnf.Name,
	)
	if cnf.Schema != "" {
		dsn = fmt.Sprintf("%s search_path=%s", dsn, cnf.Schema)
	}

	db, err := gorm.Open(postgres.Open(dsn), gormConfig(cnf))
	if err != nil {
		return nil, err
	}

	if cnf.Schema != "" {
		if err := db.Exec(fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", cnf.Schema)).Error; err != nil {
			return nil, fmt.Errorf("error while creating schema: %w", err)
		}
	}

	if err := migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

func connectToSqlite(cnf DatabaseConfig) (*gorm.DB, error) {
	var dsn string
	if cnf.Name != "" {
		log.Println("connecting to sqlite")
		dsn = fmt.Sprintf("file:%s?cache=shared", cnf.Name)
	} else {
		log.Println("connecting to in-memory sqlite")
		dsn = "file::memory:?cache=shared"
	}

	db, err := gorm.Open(sqlite.Open(dsn), gormConfig(cnf))
	if err != nil {
		return nil, err
	}

	if err := migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

func gormConfig(cnf DatabaseConfig) *gorm.Config {
	conf := &gorm.Config{}
	if cnf.Schema != "" {
		conf.NamingStrategy = schema.NamingStrategy{
			TablePrefix: cnf.Schema + ".", // schema name
		}
	}
	return conf
}

func migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&StoredRequest{}, &DetectionRun{}, &DeclaredEvent{}); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}
