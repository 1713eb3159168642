package main

import (
	"context"
	"log"
	"os"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"

	"routechat/internal/api"
	"routechat/internal/config"
	"routechat/internal/media"
	"routechat/internal/redis"
	"routechat/internal/route"
	"routechat/internal/router"
	"routechat/internal/session"
	"routechat/internal/specialist"
	"routechat/internal/storage"
	"routechat/internal/worker"
)

func main() {
	cfgPath := os.Getenv("ROUTECHAT_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	dbType := os.Getenv("ROUTECHAT_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	log.Printf("dbType: %s\n", dbType)
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	if err := storage.Migrate(db, dbType); err != nil {
		log.Fatalf("migrate database: %v", err)
	}
	journal := storage.NewJournal(db, dbType)

	rdb, err := redis.NewClient(cfg)
	if err != nil {
		log.Fatalf("create redis client: %v", err)
	}
	defer rdb.Close()
	var cache session.Cache
	if rdb != nil {
		cache = redis.NewSnapshotCache(rdb, time.Duration(cfg.Redis.SnapshotTTL)*time.Minute)
	}
	store := session.NewStore(journal, cache)

	ctx := context.Background()

	providerName := cfg.BasicConfig.DefaultProvider
	provider := cfg.Providers[providerName]
	text, err := specialist.NewText(ctx, specialist.ProviderConfig{
		Provider: providerName,
		BaseURL:  provider.BaseURL,
		Model:    provider.Model,
		APIKey:   provider.APIKey,
	})
	if err != nil {
		log.Fatalf("init text specialist: %v", err)
	}

	registry := route.NewRegistry()
	registry.Register(route.TargetText, text)

	// The media specialist talks to Gemini directly; it needs a gemini
	// provider entry regardless of the default text provider.
	if gem, ok := cfg.Providers["gemini"]; ok {
		mediaModel := cfg.Media.Model
		if mediaModel == "" {
			mediaModel = gem.Model
		}
		mediaSpecialist, err := specialist.NewMedia(ctx, gem.APIKey, mediaModel)
		if err != nil {
			log.Fatalf("init media specialist: %v", err)
		}
		registry.Register(route.TargetMedia, mediaSpecialist)
	} else {
		log.Printf("gemini provider not configured, media requests will be unroutable")
	}

	mediaStore, err := newMediaStore(ctx, cfg)
	if err != nil {
		log.Fatalf("init media store: %v", err)
	}

	pool := worker.NewPool(cfg.BasicConfig.PoolSize, time.Duration(cfg.BasicConfig.PoolWaitSeconds)*time.Second)
	coordinator := router.NewCoordinator(store, registry, pool, router.Config{
		DefaultPreference: provider.Model,
		UpstreamRetries:   cfg.BasicConfig.UpstreamRetries,
	})

	handlers := api.NewHandler(coordinator, journal, mediaStore,
		time.Duration(cfg.BasicConfig.StreamTimeout)*time.Second)

	engine := gin.Default()
	handlers.RegisterRoutes(engine)

	addr := cfg.BasicConfig.ServerAddress
	if addr == "" {
		addr = ":8090"
	}

	if err := engine.Run(addr); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}

func newMediaStore(ctx context.Context, cfg *config.Config) (media.Store, error) {
	switch cfg.Media.Backend {
	case "s3":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Media.Region))
		if err != nil {
			return nil, err
		}
		return media.NewS3(s3.NewFromConfig(awsCfg), cfg.Media.Bucket, cfg.Media.Prefix), nil
	default:
		return media.NewLocal(cfg.Media.BaseDir), nil
	}
}
