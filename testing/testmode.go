// Package testing switches binaries into test mode when imported by tests.
package testing

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("LEDGER_TEST_MODE") == "" {
			_ = os.Setenv("LEDGER_TEST_MODE", "1")
		}
	})
}
