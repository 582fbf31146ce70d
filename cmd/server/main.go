package main

import (
	"github.com/graphcrawl/backend/internal/server"
	"github.com/graphcrawl/backend/internal/util"
	"github.com/graphcrawl/backend/pkg/logger"
	"github.com/graphcrawl/backend/pkg/logger/console"

	_ "github.com/lib/pq"
)

func main() {
	util.LoadEnv()

	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  util.GetEnvBool("DEBUG", false),
		JSON:   util.GetEnvBool("LOG_JSON", false),
		Prefix: "server",
	})
	logger.Init(consoleLogger)

	server.Init()
}
