package auth

import (
	"context"
	"testing"

	"github.com/rs/zerolog/log"

	"github.com/peytondmurray/conda-store/internal/condastore/config"
	"github.com/peytondmurray/conda-store/internal/condastore/db"
)

func newDb() context.Context {
	config.TestInit()
	db.Init()
	ctx := log.Logger.WithContext(context.Background())
	ctx, err := db.ConnCtx(ctx)
	if err != nil {
		log.Ctx(ctx).Fatal().Err(err).Msg("unable to get db connection")
	}
	return ctx
}

func setupTest(t *testing.T) context.Context {
	ctx := newDb()
	t.Cleanup(func() {
		db.DB(ctx).Close(ctx)
	})
	return ctx
}
