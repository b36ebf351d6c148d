package svc

import (
	"log"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver
	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"stablevault/internal/config"
	"stablevault/internal/record"
	"stablevault/pkg/ledger"
	_ "stablevault/pkg/ledger/jsonrpc" // register the jsonrpc ledger builder
	"stablevault/pkg/ledger/sim"
	"stablevault/pkg/oracle"
	"stablevault/pkg/vault"
	"stablevault/pkg/wallet"
)

type ServiceContext struct {
	Config config.Config

	Reader    ledger.Reader
	Submitter ledger.Submitter
	Cache     *vault.Cache
	// Orchestrator is nil in read-only mode, when no signing identity is
	// available.
	Orchestrator *vault.Orchestrator
	Prices       *oracle.Poller

	// Optional Postgres sink for operation records.
	DBConn     sqlx.SqlConn
	Operations record.OperationsModel
}

func NewServiceContext(c config.Config) *ServiceContext {
	svc := &ServiceContext{Config: c}

	ledgerCfg := c.Ledger.Value
	if ledgerCfg == nil {
		log.Fatal("ledger configuration is required")
	}
	reader, err := ledgerCfg.BuildClient()
	if err != nil {
		log.Fatalf("failed to build ledger client: %v", err)
	}
	svc.Reader = reader
	svc.Submitter = buildSubmitter(&c, reader, ledgerCfg)

	cache, err := vault.NewCache(reader, ledgerCfg.Deployment)
	if err != nil {
		log.Fatalf("failed to build state cache: %v", err)
	}
	svc.Cache = cache

	if svc.Submitter != nil {
		opts := []vault.OrchestratorOption{}
		if c.JournalDir != "" {
			opts = append(opts, vault.WithJournal(vault.NewJournal(c.JournalDir)))
		}
		orch, err := vault.NewOrchestrator(reader, svc.Submitter, cache, ledgerCfg.Deployment, opts...)
		if err != nil {
			log.Fatalf("failed to build orchestrator: %v", err)
		}
		svc.Orchestrator = orch
	}

	if c.Oracle.Value != nil {
		agg, err := c.Oracle.Value.Build(oracle.BuildDeps{
			Reader:             reader,
			CollateralConfigID: ledgerCfg.Deployment.CollateralConfigID,
		})
		if err != nil {
			log.Fatalf("failed to build price aggregator: %v", err)
		}
		svc.Prices = oracle.NewPoller(agg, c.Oracle.Value.PollInterval)
	}

	// Only inject the DB sink when a DSN is provided; the file journal keeps
	// working without it.
	if c.Postgres.DSN != "" {
		conn := sqlx.NewSqlConn("pgx", c.Postgres.DSN)
		svc.DBConn = conn
		svc.Operations = record.NewOperationsModel(conn)
	}
	return svc
}

// buildSubmitter picks the signing identity. The sim ledger brings its own
// auto-approving wallet; a real ledger needs a private key from the
// environment. No key means read-only mode.
func buildSubmitter(c *config.Config, reader ledger.Reader, ledgerCfg *ledger.Config) ledger.Submitter {
	if simLedger, ok := reader.(*sim.Ledger); ok {
		return sim.NewWallet(simLedger, c.Wallet.Address)
	}
	keyHex := os.Getenv(c.Wallet.PrivateKeyEnv)
	if keyHex == "" {
		return nil
	}
	signer, err := wallet.NewPrivateKeySigner(keyHex)
	if err != nil {
		log.Fatalf("failed to init signer: %v", err)
	}
	writer, ok := reader.(ledger.Writer)
	if !ok {
		log.Fatalf("ledger client %s cannot submit transactions", ledgerCfg.Type)
	}
	w, err := wallet.New(signer, writer)
	if err != nil {
		log.Fatalf("failed to init wallet: %v", err)
	}
	return w
}
