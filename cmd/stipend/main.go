package main

import (
	"os"

	"horse.fit/stipend/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
