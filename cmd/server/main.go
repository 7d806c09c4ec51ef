package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata" // 确保在精简镜像中也能识别时区

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/user/medialib/internal/config"
	"github.com/user/medialib/internal/handler"
	"github.com/user/medialib/internal/logging"
	"github.com/user/medialib/internal/middleware"
	"github.com/user/medialib/internal/model"
	"github.com/user/medialib/internal/repository"
	"github.com/user/medialib/internal/router"
	"github.com/user/medialib/internal/search"
	"github.com/user/medialib/internal/service"
	"github.com/user/medialib/internal/utils"
)

func main() {
	// 加载环境变量
	if err := godotenv.Load(); err != nil {
		logging.Info().Msg("未找到 .env 文件，使用系统环境变量")
	}

	cfg := config.Load()
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err := cfg.Validate(); err != nil {
		logging.Fatal().Err(err).Msg("[Config] 配置校验失败")
	}

	// 初始化数据库
	db, err := repository.InitDB(cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("[DB] 数据库连接失败")
	}
	sqlDB, _ := db.DB()
	defer sqlDB.Close()

	repos := repository.NewRepositories(db)

	// 检索索引
	var index *search.Index
	if cfg.IndexPath != "" {
		index, err = search.Open(cfg.IndexPath)
	} else {
		index, err = search.NewMemIndex()
	}
	if err != nil {
		logging.Fatal().Err(err).Msg("[Search] 打开索引失败")
	}
	defer index.Close()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	gateway := search.NewGateway(index)
	retry, err := search.NewRetryQueue(index, repos.Media, cfg.PropagationRetryMax)
	if err != nil {
		logging.Fatal().Err(err).Msg("[Search] 初始化重试队列失败")
	}
	defer retry.Close()
	gateway.SetRetryQueue(retry)
	go retry.Run(ctx)

	// 向量
	var embedder utils.Embedder
	if cfg.OllamaHost != "" {
		embedder = utils.NewOllamaEmbedder(cfg.OllamaHost, cfg.OllamaModel, cfg.EmbeddingDim)
	}
	embeddings := service.NewEmbeddingService(repos.Embedding, repos.Media, embedder)
	defer embeddings.Wait()

	media := service.NewMediaService(repos.Media, gateway, embeddings)
	similar := service.NewSimilarityService(repos, embeddings)

	enrich := newEnrichmentManager(cfg, repos, media)
	syncs := newSyncManager(ctx, cfg, repos, media)
	enrich.SetBaseContext(ctx)
	syncs.SetBaseContext(ctx)
	vault := service.NewVaultSynchronizer(repos.Note, cfg.VaultPath)

	scheduler := service.NewScheduler(syncs, vault, enrich, cfg.SyncInterval, cfg.EnrichInterval)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	// 初始化 Gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	h := handler.NewHandler(repos, cfg, handler.Services{
		Media:   media,
		Similar: similar,
		Enrich:  enrich,
		Syncs:   syncs,
		Vault:   vault,
		Index:   index,
	})
	router.RegisterRoutes(r, h)

	srv := &http.Server{
		Addr:           ":" + cfg.Port,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   5 * time.Minute, // ?wait=true 的管理接口可能较慢
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		logging.Info().Str("port", cfg.Port).Msg("[Server] 服务器启动")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal().Err(err).Msg("[Server] 服务器启动失败")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info().Msg("[Server] 正在关闭服务器...")

	// 先停后台任务并等待管理接口触发的批处理收尾，再关 HTTP，最后由 defer 依次关闭向量、队列、索引、数据库
	stop()
	scheduler.Stop()
	enrich.Wait()
	syncs.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("[Server] 服务器强制关闭")
	}
	logging.Info().Msg("[Server] 服务器已退出")
}

// newEnrichmentManager 注册各家族的富化任务，TMDB 需要 token
func newEnrichmentManager(cfg *config.Config, repos *repository.Repositories, media *service.MediaService) *service.EnrichmentManager {
	runnerCfg := service.RunnerConfig{
		BatchSize:   cfg.EnrichBatchSize,
		Delay:       cfg.EnrichDelay,
		MaxAttempts: cfg.EnrichMaxAttempts,
	}
	m := service.NewEnrichmentManager(repos.Media)
	register := func(family model.EnrichmentFamily, e service.Enricher) {
		m.Register(service.NewEnrichmentRunner(family, e, repos.Media, media, runnerCfg))
	}

	register(model.FamilyBooks, service.NewBookEnricher())
	register(model.FamilyPodcasts, service.NewPodcastEnricher())
	register(model.FamilyWebsites, service.NewWebsiteEnricher())
	if cfg.TMDBToken != "" {
		register(model.FamilyMovies, service.NewTMDBEnricher(cfg.TMDBToken, model.FamilyMovies))
		register(model.FamilyTVShows, service.NewTMDBEnricher(cfg.TMDBToken, model.FamilyTVShows))
	} else {
		logging.Warn().Msg("[Enrich] 未配置 TMDB_TOKEN，跳过电影/剧集富化")
	}
	return m
}

// newSyncManager 按配置注册同步来源
func newSyncManager(ctx context.Context, cfg *config.Config, repos *repository.Repositories, media *service.MediaService) *service.SyncManager {
	m := service.NewSyncManager(service.NewSynchronizer(media, repos, cfg.SyncPageDelay))

	if cfg.ReadwiseToken != "" {
		m.Register(service.NewReadwiseSource(cfg.ReadwiseToken))
	}
	if cfg.RaindropToken != "" {
		m.Register(service.NewRaindropSource(cfg.RaindropToken))
	}
	for _, feed := range cfg.PodcastFeeds {
		m.Register(service.NewPodcastFeedSource(feed))
	}
	if cfg.PaperlessURL != "" {
		m.Register(service.NewPaperlessSource(cfg.PaperlessURL, cfg.PaperlessToken))
	}
	if cfg.YouTubeAPIKey != "" {
		for _, playlist := range cfg.YouTubePlaylists {
			src, err := service.NewYouTubePlaylistSource(ctx, cfg.YouTubeAPIKey, playlist)
			if err != nil {
				logging.Error().Err(err).Str("playlist", playlist).Msg("[Sync] 初始化 YouTube 来源失败")
				continue
			}
			m.Register(src)
		}
	}
	logging.Info().Strs("sources", m.Sources()).Msg("[Sync] 同步来源已注册")
	return m
}
