// Package guard switches the process into test mode on import so entrypoints
// exercised from tests never dial Postgres or Redis.
package guard

import (
	"os"
	"sync"
)

// Env mirrors app.TestModeEnv.
const Env = "AEAT111_TEST_MODE"

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv(Env) == "" {
			_ = os.Setenv(Env, "1")
		}
	})
}
