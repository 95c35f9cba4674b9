package main

import (
	"context"
	"flag"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/kenjohansen/optin-manager-sub000/internal/core/domain"
	"github.com/kenjohansen/optin-manager-sub000/internal/infra/config"
	"github.com/kenjohansen/optin-manager-sub000/internal/infra/database"
	postgresrepo "github.com/kenjohansen/optin-manager-sub000/internal/repository/postgres"
	"github.com/kenjohansen/optin-manager-sub000/internal/usecase"
)

// seed loads the default program catalog into an empty database. Existing
// programs are left untouched, so the command is safe to re-run.
func main() {
	_ = godotenv.Load()

	var programsFlag string
	flag.StringVar(&programsFlag, "programs", "Newsletter:email,Product Updates:email,Service Alerts:sms", "comma separated name:type pairs to seed")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres, zap.NewNop())
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	repos := postgresrepo.NewRepositories(pool)
	catalog := usecase.NewCatalogService(repos.Programs)

	existing, err := catalog.List(ctx)
	if err != nil {
		log.Fatalf("failed to list programs: %v", err)
	}
	present := make(map[string]bool, len(existing))
	for _, program := range existing {
		present[strings.ToLower(program.Name)] = true
	}

	created := 0
	for _, pair := range strings.Split(programsFlag, ",") {
		name, typ, _ := strings.Cut(strings.TrimSpace(pair), ":")
		name = strings.TrimSpace(name)
		if name == "" || present[strings.ToLower(name)] {
			continue
		}

		program, err := catalog.Create(ctx, name, domain.ProgramType(strings.TrimSpace(typ)))
		if err != nil {
			log.Fatalf("failed to create program %q: %v", name, err)
		}
		log.Printf("created program %s (%s)", program.Name, program.ID)
		created++
	}

	log.Printf("seed complete: %d created, %d already present", created, len(existing))
}
