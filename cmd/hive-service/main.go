package main

import (
	"os"

	"github.com/hivehq/hive/hiveservice"
)

func main() {
	if err := hiveservice.Run(); err != nil {
		os.Exit(1)
	}
}
