package main

import (
	"context"
	"log"

	"github.com/dmitrijs2005/gatewaykit/internal/config"
	"github.com/dmitrijs2005/gatewaykit/internal/devrelay"
)

func main() {

	ctx := context.Background()
	cfg := config.LoadConfig()
	app, err := devrelay.NewApp(cfg)

	if err != nil {
		log.Fatalf("%v", err)
		return
	}

	app.Run(ctx)

}
