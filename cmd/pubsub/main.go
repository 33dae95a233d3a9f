package main

import (
	"context"
	"log"
	"os"

	"github.com/dmitrijs2005/sfpubsub/internal/app"
	"github.com/dmitrijs2005/sfpubsub/internal/config"
)

func main() {

	ctx := context.Background()
	args := os.Args[1:]
	cfg := config.LoadConfig(args)

	a, err := app.NewApp(ctx, cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}

	if err := a.Run(ctx, args); err != nil {
		log.Fatalf("%v", err)
	}

}
