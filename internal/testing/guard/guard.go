// Package guard flips the process into test mode when imported by a test.
package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("FILINGDESK_TEST_MODE") == "" {
			_ = os.Setenv("FILINGDESK_TEST_MODE", "1")
		}
	})
}
