package main

import (
	"bulletin/cmd/handlers"
	"bulletin/internal/logger"
)

func main() {
	logger.Init() // Initialize the logger
	handlers.Execute()
}
