package main

import (
	"context"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/sells-group/civil-registry/internal/model"
	"github.com/sells-group/civil-registry/internal/ocr"
	"github.com/sells-group/civil-registry/internal/store"
	"github.com/sells-group/civil-registry/internal/verify"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "registry.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// verifyEnv bundles the store and service a command works with.
type verifyEnv struct {
	Store   store.Store
	Service *verify.Service
}

func (e *verifyEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initVerify validates config for mode, opens and migrates the store and
// builds the verification service. Mode "scan" also builds the OCR
// extractor.
func initVerify(ctx context.Context, mode string) (*verifyEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate")
	}

	var opts verify.Options
	if mode == "scan" {
		ext, err := ocr.NewExtractor(cfg.OCR)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		opts.Extractor = ext
	}

	svc, err := verify.New(st, cfg, opts)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return &verifyEnv{Store: st, Service: svc}, nil
}

// parseKey turns "<type> <id>" arguments into a certificate key.
func parseKey(typeArg, idArg string) (model.CertificateKey, error) {
	t, err := model.ParseCertificateType(typeArg)
	if err != nil {
		return model.CertificateKey{}, err
	}
	id, err := strconv.ParseInt(idArg, 10, 64)
	if err != nil || id <= 0 {
		return model.CertificateKey{}, eris.Wrapf(model.ErrInvalidInput, "invalid certificate id %q", idArg)
	}
	return model.CertificateKey{Type: t, ID: id}, nil
}

func optionalType(s string) (model.CertificateType, error) {
	if s == "" {
		return "", nil
	}
	return model.ParseCertificateType(s)
}
