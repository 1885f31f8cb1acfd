// The application provides a custom Go static analysis tool that combines
// standard analyzers from the Go toolchain, third-party analyzers, and project-specific
// analyzers into a single `multichecker.Main` invocation.
//
// The staticcheck analyzers are filtered via a config file (config.json) placed next
// to the binary, which lists the names of the checks to enable. A missing file
// enables every SA check.
//
// This package is intended to be compiled into a standalone binary used to enforce
// coding rules and catch potential bugs across a Go project.
package main

import (
	// Standard analyzers from the Go toolchain.
	"golang.org/x/tools/go/analysis/passes/copylock"
	"golang.org/x/tools/go/analysis/passes/loopclosure"
	"golang.org/x/tools/go/analysis/passes/lostcancel"
	"golang.org/x/tools/go/analysis/passes/printf"
	"golang.org/x/tools/go/analysis/passes/structtag"
	"golang.org/x/tools/go/analysis/passes/unmarshal"
	"golang.org/x/tools/go/analysis/passes/unreachable"

	// Third-party analyzers.
	"github.com/gordonklaus/ineffassign/pkg/ineffassign"
	"github.com/gostaticanalysis/nilerr"

	// Custom analyzer.
	"github.com/patric-chuzhbe/tokenshrt/cmd/staticlint/sqlparams"

	"golang.org/x/tools/go/analysis"
	"golang.org/x/tools/go/analysis/multichecker"
	"honnef.co/go/tools/staticcheck"

	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Config is the name of the JSON configuration file that lists enabled staticcheck analyzers.
const Config = `config.json`

// ConfigData describes the structure of the configuration file.
// The Staticcheck field contains the names of enabled staticcheck analyzers, e.g., "SA1000", "SA4010".
type ConfigData struct {
	Staticcheck []string
}

// main is the entry point for the static analysis binary.
// It loads a configuration file, collects analyzers, and launches them using multichecker.Main.
//
// It includes:
//   - Standard Go analyzers for detecting common bugs.
//   - Third-party analyzers like ineffassign and nilerr.
//   - A custom analyzer that rejects SQL built with fmt.Sprint* or + in database gateway calls.
//   - A configurable set of staticcheck analyzers.
func main() {
	appfile, err := os.Executable()
	if err != nil {
		panic(err)
	}
	cfg, err := loadConfig(filepath.Join(filepath.Dir(appfile), Config))
	if err != nil {
		panic(err)
	}

	// Standard and custom analyzers that are always run.
	myChecks := []*analysis.Analyzer{
		copylock.Analyzer,    // Checks for copying of locks by value.
		loopclosure.Analyzer, // Detects references to loop variables inside closures.
		lostcancel.Analyzer,  // Finds contexts that are not canceled.
		printf.Analyzer,      // Verifies format strings.
		structtag.Analyzer,   // Checks for incorrect struct field tags.
		unmarshal.Analyzer,   // Detects unused fields in JSON unmarshal targets.
		unreachable.Analyzer, // Detects unreachable code.

		ineffassign.Analyzer, // Detects ineffective assignments.
		nilerr.Analyzer,      // Flags returning nil after an error was created.

		sqlparams.Analyzer, // Project-specific: forbids runtime-built SQL in gateway calls.
	}

	multichecker.Main(append(myChecks, selectStaticcheck(cfg)...)...)
}

func loadConfig(fileName string) (ConfigData, error) {
	var cfg ConfigData

	data, err := os.ReadFile(fileName)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err = json.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func selectStaticcheck(cfg ConfigData) []*analysis.Analyzer {
	checks := make(map[string]bool)
	for _, v := range cfg.Staticcheck {
		checks[v] = true
	}

	var selected []*analysis.Analyzer
	for _, v := range staticcheck.Analyzers {
		if checks[v.Analyzer.Name] || (len(checks) == 0 && strings.HasPrefix(v.Analyzer.Name, "SA")) {
			selected = append(selected, v.Analyzer)
		}
	}

	return selected
}
