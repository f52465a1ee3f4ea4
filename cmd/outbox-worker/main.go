package main

import (
	"os"

	"github.com/hivehq/hive/outboxworker"
)

func main() {
	if err := outboxworker.Run(); err != nil {
		os.Exit(1)
	}
}
