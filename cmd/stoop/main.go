package main

import (
	"github.com/joho/godotenv"

	"github.com/crisjonblvx/blvx-app-sub000/cmd/stoop/cmd"
)

func main() {
	// A .env file is a dev convenience; its absence is not an error.
	_ = godotenv.Load()
	cmd.Execute()
}
