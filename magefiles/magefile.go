//go:build mage

package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"

	"github.com/joho/godotenv"
	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// Build compiles the API and the worker into ./bin.
func Build() error {
	mg.Deps(Tidy)
	fmt.Println(">> Building binaries...")
	if err := sh.Run("go", "build", "-o", "bin/aeat111", "./cmd/aeat111"); err != nil {
		return err
	}
	return sh.Run("go", "build", "-o", "bin/aeat111-worker", "./cmd/worker")
}

// Run builds then starts the API.
func Run() error {
	mg.Deps(Build)
	fmt.Println(">> Starting API...")
	return sh.RunV("./bin/aeat111")
}

// Worker builds then starts the queue worker.
func Worker() error {
	mg.Deps(Build)
	fmt.Println(">> Starting worker...")
	return sh.RunV("./bin/aeat111-worker")
}

// Migrate applies the SQL files in ./migrations in name order with psql.
func Migrate() error {
	if _, err := exec.LookPath("psql"); err != nil {
		fmt.Println(">> psql not found; install the PostgreSQL client")
		return err
	}
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		return fmt.Errorf("PG_DSN is not set")
	}
	files, err := filepath.Glob("migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(files)
	for _, f := range files {
		fmt.Println(">> psql", f)
		if err := sh.Run("psql", dsn, "-v", "ON_ERROR_STOP=1", "-f", f); err != nil {
			return err
		}
	}
	return nil
}

// Tidy runs go mod tidy.
func Tidy() error {
	fmt.Println(">> go mod tidy...")
	return sh.Run("go", "mod", "tidy")
}

// Test runs all unit tests in test mode.
func Test() error {
	fmt.Println(">> Running tests...")
	return sh.RunWith(map[string]string{"AEAT111_TEST_MODE": "1"}, "go", "test", "-race", "./...")
}

// Lint runs golangci-lint if available.
func Lint() error {
	if _, err := exec.LookPath("golangci-lint"); err != nil {
		fmt.Println(">> golangci-lint not found; skipping.")
		return nil
	}
	return sh.Run("golangci-lint", "run", "./...")
}

// Clean removes build artifacts.
func Clean() error {
	fmt.Println(">> Cleaning...")
	return os.RemoveAll("bin")
}

func init() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("error loading .env file", "err", err)
	}
}
