package main

import (
	"os"

	"github.com/MoseikiApp/peasy-ai/internal/app"
)

func main() {
	runner := app.NewRunner()
	os.Exit(runner.Run(os.Args[1:]))
}
