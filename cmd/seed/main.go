package main

import (
	"flag"

	"github.com/gofiber/fiber/v2/log"

	"github.com/hotspotpay/hotspot/app/repository"
	"github.com/hotspotpay/hotspot/internal/pkg/database"
	"github.com/hotspotpay/hotspot/internal/pkg/env"
	"github.com/hotspotpay/hotspot/internal/pkg/logging"
	"github.com/hotspotpay/hotspot/internal/pkg/seed"
)

func main() {
	file := flag.String("file", "seed.yaml", "YAML file with companies and plans")
	flag.Parse()

	env.SetupEnvFile()
	logging.Setup()

	f, err := seed.LoadFile(*file)
	if err != nil {
		log.Fatalf("[Seed] %v", err)
	}

	database.SetupDatabase()
	res, err := seed.Apply(repository.NewRepositories(database.GetDB()), f)
	if err != nil {
		log.Fatalf("[Seed] %v", err)
	}
	log.Infof("[Seed] companies created=%d updated=%d, plans created=%d updated=%d skipped=%d retired=%d",
		res.CompaniesCreated, res.CompaniesUpdated, res.PlansCreated, res.PlansUpdated, res.PlansSkipped, res.PlansRetired)
}
