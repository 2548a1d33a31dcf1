package main

import (
	"context"

	"github.com/cppla/learnquest/catalog"
	"github.com/cppla/learnquest/config"
	"github.com/cppla/learnquest/jobs"
	"github.com/cppla/learnquest/models"
	"github.com/cppla/learnquest/realtime"
	"github.com/cppla/learnquest/routes"
	"github.com/cppla/learnquest/services"
	"github.com/cppla/learnquest/utils"
)

func main() {
	cfg := config.Load()

	// Initialize logger early
	if err := utils.InitLogger(cfg); err != nil {
		panic(err)
	}
	defer func() { _ = utils.Logger.Sync() }()

	db := config.InitDatabase(models.Tables()...)

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		utils.Sugar.Fatalf("load catalog %s: %v", cfg.CatalogPath, err)
	}
	loc := config.Location()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := realtime.NewHub(utils.Sugar.Named("ws"))
	opts := services.OptionsFromConfig(cfg, loc)
	opts.Logger = utils.Sugar.Named("engine")
	opts.Publisher = hub
	opts.Cache = utils.NewMemoryCache()

	// With Redis every instance shares the leaderboard cache and sees every push message.
	rc := utils.GetRedis()
	var bus *realtime.RedisBus
	if rc != nil {
		opts.Cache = utils.NewRedisCache(rc)
		bus = realtime.NewRedisBus(rc, cfg.RedisChannel, utils.Sugar.Named("bus"))
		err := bus.StartForwarder(ctx, func(m services.Message) {
			_ = hub.Publish(ctx, m)
		})
		if err != nil {
			utils.Sugar.Warnw("redis bus unavailable, push stays local to this instance", "error", err)
			bus = nil
		} else {
			opts.Publisher = bus
		}
	}

	engine := services.NewEngine(db, cat, opts)

	scheduler := jobs.New(engine, loc, utils.Sugar.Named("jobs"))
	if n, err := scheduler.Register(cfg); err != nil {
		utils.Sugar.Fatalf("schedule jobs: %v", err)
	} else {
		utils.Sugar.Infof("scheduled %d maintenance jobs", n)
	}
	scheduler.Start()

	accessLog, err := utils.NewRollingFileLogger(cfg.GinPath, cfg.LogLevel, cfg.LogMaxSizeMB, cfg.LogMaxBackups, cfg.LogMaxAgeDays, cfg.LogCompress)
	if err != nil {
		utils.Sugar.Warnw("access log unavailable", "error", err)
		accessLog = nil
	}

	r := routes.SetupRouter(routes.Deps{
		Config:      cfg,
		DB:          db,
		Engine:      engine,
		Hub:         hub,
		LoginMarker: utils.NewOnceStore(rc, "login:ping:"),
		AccessLog:   accessLog,
	})

	utils.Sugar.Infof("Starting server on port %s (graceful), %d courses, %d badges",
		cfg.AppPort, len(cat.Courses()), len(cat.Badges()))
	err = utils.GraceServer(":"+cfg.AppPort, r,
		func(context.Context) { scheduler.Stop() },
		func(context.Context) {
			cancel()
			if bus != nil {
				_ = bus.Close()
			}
		},
	)
	if err != nil {
		utils.Sugar.Fatalf("server stopped with error: %v", err)
	}
}
