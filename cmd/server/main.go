package main

import (
	"log"

	"github.com/joho/godotenv"

	"github.com/liebestraumm/react-native-app-backend/cmd/internal/app"
)

func main() {
	// .env is a dev convenience; absence is not an error.
	_ = godotenv.Load()

	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}
