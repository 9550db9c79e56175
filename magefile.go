//go:build mage
// +build mage

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const (
	binaryDir = "bin"
	authPkg   = "./services/auth/cmd"
	goFlags   = "-v"
	ldFlags   = "-s -w"
)

// Default target when mage runs without arguments.
var Default = Build

// All lints, tests and builds.
func All() {
	mg.SerialDeps(Lint, Test, Build)
}

// ============================================================================
// Build targets
// ============================================================================

// Build builds the auth service binary.
func Build() error {
	fmt.Println("Building auth service...")
	if err := os.MkdirAll(binaryDir, 0o755); err != nil {
		return err
	}
	env := map[string]string{"CGO_ENABLED": "0"}
	return sh.RunWith(env, "go", "build", goFlags, "-ldflags", ldFlags,
		"-o", filepath.Join(binaryDir, "ghlogin-auth"), authPkg)
}

// Run runs the auth service locally. Set AUTH_CONFIG_FILE to use a
// specific config file.
func Run() error {
	return sh.RunV("go", "run", authPkg)
}

// ============================================================================
// Testing
// ============================================================================

// Test runs all tests.
func Test() error {
	return sh.RunV("go", "test", "-race", "-cover", "./...")
}

// TestShort runs tests that need no external services.
func TestShort() error {
	return sh.RunV("go", "test", "-race", "-short", "./...")
}

// TestCoverage generates test coverage report.
func TestCoverage() error {
	if err := sh.Run("go", "test", "-race", "-coverprofile=coverage.out", "./..."); err != nil {
		return err
	}
	if err := sh.Run("go", "tool", "cover", "-html=coverage.out", "-o", "coverage.html"); err != nil {
		return err
	}
	fmt.Println("Coverage report generated: coverage.html")
	return nil
}

// ============================================================================
// Code quality
// ============================================================================

// Lint runs the linter.
func Lint() error {
	return sh.RunV("golangci-lint", "run", "./...")
}

// Fmt formats code.
func Fmt() error {
	return sh.Run("gofmt", "-l", "-w", ".")
}

// Vet runs go vet.
func Vet() error {
	return sh.Run("go", "vet", "./...")
}

// Tidy tidies and verifies go modules.
func Tidy() error {
	if err := sh.Run("go", "mod", "tidy"); err != nil {
		return err
	}
	return sh.Run("go", "mod", "verify")
}

// SecurityScan runs security scanner.
func SecurityScan() error {
	return sh.Run("gosec", "./...")
}

// ============================================================================
// Cleanup
// ============================================================================

// Clean cleans build artifacts.
func Clean() error {
	if err := os.RemoveAll(binaryDir); err != nil {
		return err
	}
	_ = os.Remove("coverage.out")
	_ = os.Remove("coverage.html")
	return nil
}

// InstallTools installs development tools.
func InstallTools() error {
	fmt.Println("Installing development tools...")
	tools := []string{
		"github.com/golangci/golangci-lint/cmd/golangci-lint@latest",
		"github.com/securego/gosec/v2/cmd/gosec@latest",
	}
	for _, tool := range tools {
		if err := sh.Run("go", "install", tool); err != nil {
			return err
		}
	}
	return nil
}
