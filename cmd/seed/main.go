package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"golang.org/x/crypto/bcrypt"

	"farm-subscription-backend/internal/config"
	"farm-subscription-backend/internal/domain"
	"farm-subscription-backend/internal/domain/model"
	"farm-subscription-backend/internal/domain/ports/repository"
	pg "farm-subscription-backend/internal/infra/db/postgres"
)

// Applies the schema and seeds the plan catalog plus an admin account.
// Safe to run repeatedly.
func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	schemaPath := flag.String("schema", "migrations/schema.sql", "path to schema file")
	adminEmail := flag.String("admin-email", "", "admin account to create (skipped when empty)")
	adminPassword := flag.String("admin-password", "", "password for the admin account")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, false)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 4)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	// ---- Schema ----
	schema, err := os.ReadFile(*schemaPath)
	if err != nil {
		log.Fatalf("read schema: %v", err)
	}
	if _, err := pool.Exec(ctx, string(schema)); err != nil {
		log.Fatalf("apply schema: %v", err)
	}
	fmt.Println("schema applied")

	// ---- Plans ----
	planRepo := pg.NewPlanRepo(pool)
	existing, err := planRepo.ListAll(ctx, repository.NoTX)
	if err != nil {
		log.Fatalf("list plans: %v", err)
	}
	if len(existing) > 0 {
		fmt.Printf("%d plans already present. No changes.\n", len(existing))
	} else {
		seed := []struct {
			Name  string
			Title string
			Days  int
			Price int64
			Trial bool
		}{
			{"trial", "7-day trial", 7, 0, true},
			{"monthly", "Monthly", 30, 49_900, false},
			{"quarterly", "Quarterly", 90, 129_900, false},
			{"yearly", "Yearly", 365, 449_900, false},
		}
		for _, s := range seed {
			p, err := model.NewPlan(s.Name, s.Title, s.Days, s.Price, s.Trial)
			if err != nil {
				log.Fatalf("plan %q: %v", s.Name, err)
			}
			if err := planRepo.Save(ctx, repository.NoTX, p); err != nil {
				log.Fatalf("save plan %q: %v", s.Name, err)
			}
			fmt.Printf("seeded plan: %s (days=%d, price=%d)\n", p.Name, p.DurationDays, p.Price)
		}
	}

	// ---- Admin account ----
	if *adminEmail == "" {
		return
	}
	if *adminPassword == "" {
		log.Fatal("admin-password is required with admin-email")
	}
	userRepo := pg.NewUserRepo(pool)
	if _, err := userRepo.FindByEmail(ctx, repository.NoTX, *adminEmail); err == nil {
		fmt.Printf("admin %s already exists. No changes.\n", *adminEmail)
		return
	} else if err != domain.ErrNotFound {
		log.Fatalf("lookup admin: %v", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(*adminPassword), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}
	admin, err := model.NewUser(*adminEmail, string(hash), "")
	if err != nil {
		log.Fatalf("admin user: %v", err)
	}
	admin.Role = model.UserRoleAdmin
	if err := userRepo.Save(ctx, repository.NoTX, admin); err != nil {
		log.Fatalf("save admin: %v", err)
	}
	fmt.Printf("seeded admin: %s (id=%s)\n", admin.Email, admin.ID)
}
