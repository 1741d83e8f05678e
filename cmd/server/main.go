// Command server wires the entitlement engine: persistent stores, the
// approval workflow, the conflict checker, the revocation scheduler and the
// HTTP API. Business logic lives in the internal service packages; main only
// selects implementations from configuration and manages lifecycle.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"entitle/internal/audit"
	audithandler "entitle/internal/audit/handler"
	auditmem "entitle/internal/audit/store/memory"
	auditpg "entitle/internal/audit/store/postgres"
	"entitle/internal/authcode"
	authcodehandler "entitle/internal/authcode/handler"
	authcodemem "entitle/internal/authcode/store/memory"
	authcoderedis "entitle/internal/authcode/store/redis"
	"entitle/internal/directory"
	"entitle/internal/jwttoken"
	"entitle/internal/notify"
	notifykafka "entitle/internal/notify/kafka"
	"entitle/internal/platform/config"
	"entitle/internal/platform/httpserver"
	"entitle/internal/platform/logger"
	"entitle/internal/platform/metrics"
	"entitle/internal/platform/postgres"
	"entitle/internal/platform/redis"
	"entitle/internal/request"
	"entitle/internal/request/chain"
	requesthandler "entitle/internal/request/handler"
	requestmetrics "entitle/internal/request/metrics"
	requestmem "entitle/internal/request/store/memory"
	requestpg "entitle/internal/request/store/postgres"
	"entitle/internal/revocation"
	revocationhandler "entitle/internal/revocation/handler"
	"entitle/internal/sod"
	sodhandler "entitle/internal/sod/handler"
	sodmem "entitle/internal/sod/store/memory"
	sodpg "entitle/internal/sod/store/postgres"
	httptransport "entitle/internal/transport/http"
	txcontext "entitle/pkg/platform/tx"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

// stores groups the persistence ports so run can swap backends wholesale.
type stores struct {
	requests request.RequestStore
	steps    request.StepStore
	sequence request.SequenceStore
	comments request.CommentStore
	chains   request.ChainConfigStore
	rules    sod.RuleStore
	audit    audit.Store
	runner   txcontext.Runner
}

func run(cfg config.Server, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	health := make(map[string]httptransport.HealthChecker)

	var st stores
	if cfg.PostgresURL != "" {
		db, err := postgres.Open(ctx, cfg.PostgresURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := postgres.Migrate(db); err != nil {
			return err
		}
		st = stores{
			requests: requestpg.NewRequests(db),
			steps:    requestpg.NewSteps(db),
			sequence: requestpg.NewSequence(db),
			comments: requestpg.NewComments(db),
			chains:   requestpg.NewChains(db),
			rules:    sodpg.New(db),
			audit:    auditpg.New(db),
			runner:   &txcontext.SQLRunner{DB: db},
		}
		health["postgres"] = db.PingContext
		log.Info("using postgres store")
	} else {
		mem := requestmem.New()
		st = stores{
			requests: mem.Requests(),
			steps:    mem.Steps(),
			sequence: mem,
			comments: mem.Comments(),
			chains:   mem.Chains(),
			rules:    sodmem.New(),
			audit:    auditmem.New(),
			runner:   txcontext.PassthroughRunner{},
		}
		log.Warn("no postgres url configured, state is in-memory and volatile")
	}

	dir, err := buildDirectory(cfg, log)
	if err != nil {
		return err
	}

	var notifier notify.Notifier = &notify.LogNotifier{Logger: log}
	if cfg.KafkaBrokers != "" {
		publisher, err := notifykafka.New(cfg.KafkaBrokers)
		if err != nil {
			return err
		}
		defer publisher.Close()
		notifier = publisher
		log.Info("publishing notifications to kafka", "brokers", cfg.KafkaBrokers)
	}

	auditor := audit.NewService(st.audit)

	checker, err := sod.NewService(st.rules, st.requests, dir,
		sod.WithAuditor(auditor),
		sod.WithLogger(log),
	)
	if err != nil {
		return err
	}

	policy := chain.NewResolver(chain.NewConfigured(st.chains), chain.NewFallback(dir))
	workflow, err := request.NewService(st.requests, st.steps, st.sequence, policy, st.runner,
		request.WithConflictChecker(checker),
		request.WithAuditor(auditor),
		request.WithNotifier(notifier),
		request.WithDirectory(dir),
		request.WithComments(st.comments),
		request.WithChainConfig(st.chains),
		request.WithMetrics(requestmetrics.New()),
		request.WithLogger(log),
		request.WithNumberPrefix(cfg.RequestNumberPrefix),
		request.WithMinJustification(cfg.MinJustificationLen),
	)
	if err != nil {
		return err
	}

	sweeper, err := revocation.NewService(st.requests, st.runner,
		revocation.WithAuditor(auditor),
		revocation.WithNotifier(notifier),
		revocation.WithMetrics(revocation.NewMetrics()),
		revocation.WithLogger(log),
	)
	if err != nil {
		return err
	}
	scheduler := revocation.NewScheduler(sweeper, cfg.RevocationCron, cfg.RevocationInterval, log)

	tokens := jwttoken.NewService(cfg.JWTSigningKey, "entitle", cfg.TokenTTL)

	var codeStore authcode.CodeStore = authcodemem.New()
	if cfg.RedisURL != "" {
		client, err := redis.New(cfg.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()
		codeStore = authcoderedis.New(client)
		health["redis"] = client.Health
		log.Info("storing login codes in redis")
	}
	codes, err := authcode.NewService(codeStore, tokens, dir, cfg.LoginCodeTTL, log)
	if err != nil {
		return err
	}
	codeHandler := authcodehandler.New(codes, log)

	router := httptransport.NewRouter(httptransport.RouterConfig{
		Logger:    log,
		Validator: tokens,
		Public:    codeHandler.RegisterPublic,
		Protected: []httptransport.Registrar{
			requesthandler.New(workflow, log),
			sodhandler.New(checker, log),
			revocationhandler.New(sweeper, log),
			audithandler.New(auditor, log),
			codeHandler,
		},
		Health:  health,
		Metrics: metrics.NewHTTP(),
	})
	srv := httpserver.New(cfg.Addr, router)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		if err := scheduler.Start(groupCtx); err != nil {
			return err
		}
		<-groupCtx.Done()
		scheduler.Stop()
		return nil
	})

	group.Go(func() error {
		log.Info("listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return group.Wait()
}

func buildDirectory(cfg config.Server, log *slog.Logger) (directory.Directory, error) {
	if cfg.DirectoryURL != "" {
		log.Info("using corporate directory", "url", cfg.DirectoryURL)
		return directory.NewHTTP(cfg.DirectoryURL, log), nil
	}
	if cfg.DirectorySeedPath != "" {
		log.Info("loading directory seed", "path", cfg.DirectorySeedPath)
		return directory.NewFromFile(cfg.DirectorySeedPath)
	}
	log.Warn("no directory configured, approval fallbacks will find no approvers")
	return directory.NewStatic(), nil
}
