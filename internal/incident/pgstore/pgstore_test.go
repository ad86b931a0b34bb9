package pgstore_test

import (
	"context"
	"os"
	"testing"

	"github.com/linnemanlabs/responder/internal/incident"
	"github.com/linnemanlabs/responder/internal/incident/pgstore"
	"github.com/linnemanlabs/responder/internal/incident/storetest"
)

func openStore(t *testing.T) *pgstore.Store {
	t.Helper()
	dsn := os.Getenv("RESPONDER_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("RESPONDER_TEST_DATABASE_URL not set, skipping integration test")
	}
	s, err := pgstore.New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("pgstore.New: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

// Each subtest generates fresh random ids, so a shared database is fine.
func TestStore_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) incident.Store { return openStore(t) })
}

func TestNew_BadURL(t *testing.T) {
	t.Parallel()

	if _, err := pgstore.New(context.Background(), "postgres://%zz"); err == nil {
		t.Fatal("New accepted an invalid url")
	}
}
