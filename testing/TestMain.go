package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

var once sync.Once

// ensureTestMode keeps binaries imported by tests from dialing Postgres, Redis or Kafka.
func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("COOPLEDGER_TEST_MODE", "1")
		if os.Getenv("KAFKA_BROKERS") != "" {
			_ = os.Unsetenv("KAFKA_BROKERS")
		}
	})
}

func init() {
	ensureTestMode()
}

func TestMain(m *stdtesting.M) {
	ensureTestMode()
	os.Exit(m.Run())
}
