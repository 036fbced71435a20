package seed

import (
	"context"
	"fmt"

	"github.com/Simplici0/ecominsight/internal/auth"
	"github.com/Simplici0/ecominsight/internal/store"
)

// Config contains the values required by startup seed.
type Config struct {
	AdminEmail    string
	AdminPassword string
}

// Stats contains seed operation counters.
type Stats struct {
	Inserts int
	Updates int
}

// Run executes the startup seed in an idempotent way.
func Run(ctx context.Context, st *store.Store, cfg Config) (Stats, error) {
	stats := Stats{}

	err := st.WithTx(ctx, func(tx *store.Store) error {
		return seedAdmin(ctx, tx, cfg.AdminEmail, cfg.AdminPassword, &stats)
	})
	if err != nil {
		return Stats{}, err
	}

	return stats, nil
}

func seedAdmin(ctx context.Context, tx *store.Store, email, password string, stats *Stats) error {
	if email == "" || password == "" {
		return nil
	}

	exists, err := tx.UserExists(ctx, email)
	if err != nil {
		return fmt.Errorf("check admin user existence: %w", err)
	}
	if exists {
		return nil
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	if _, err := tx.CreateUser(ctx, email, hash); err != nil {
		return fmt.Errorf("insert admin user: %w", err)
	}
	stats.Inserts++
	return nil
}
