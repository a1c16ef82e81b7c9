package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"remisslinker/config"
	"remisslinker/models"
	"remisslinker/services"
	"remisslinker/storage"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	autoLinkedCounter      prometheus.Counter
	queuedCounter          prometheus.Counter
	entitiesCreatedCounter prometheus.Counter
	unmatchedCounter       prometheus.Counter
)

func init() {
	autoLinkedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mentions_auto_linked_total",
		Help: "Total number of mentions linked automatically.",
	})
	queuedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mentions_queued_for_review_total",
		Help: "Total number of mentions queued for human review.",
	})
	entitiesCreatedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "entities_created_total",
		Help: "Total number of canonical entities created.",
	})
	unmatchedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mentions_unmatched_total",
		Help: "Total number of mentions left unmatched.",
	})
	prometheus.MustRegister(autoLinkedCounter, queuedCounter, entitiesCreatedCounter, unmatchedCounter)
}

func apiKeyAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.APISecretKey == "" {
			c.Next()
			return
		}
		apiKey := c.GetHeader("X-API-KEY")
		if apiKey != cfg.APISecretKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid API Key"})
			return
		}
		c.Next()
	}
}

func main() {
	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Config load error", zap.Error(err))
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		logging.Fatal("Failed to connect to database", zap.Error(err))
	}
	logging.Info("Successfully connected to registry database.")

	logging.Info("Running database auto-migration...")
	if err := db.AutoMigrate(
		&models.Mention{},
		&models.Entity{},
		&models.RuleEntry{},
		&models.RuleCandidate{},
		&models.ReviewDecision{},
	); err != nil {
		logging.Fatal("Auto-migration failed", zap.Error(err))
	}

	seedDefaultRules(db, logging)

	// Setup Services
	linkService := services.NewLinkService(cfg, db, logging)
	bootstrapService := services.NewBootstrapService(cfg, db, logging)
	reviewService := services.NewReviewService(cfg, db, logging)
	ruleService := services.NewRuleService(db, logging)
	registryService := services.NewRegistryService(db, logging)

	// Setup Router
	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(apiKeyAuthMiddleware(cfg))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "remisslinker"})
	})

	// Setup Routes
	setupMentionRoutes(router, db, reviewService, logging)
	setupEntityRoutes(router, db, registryService, logging)
	setupLinkRoutes(router, linkService, logging)
	setupBootstrapRoutes(router, bootstrapService, logging)
	setupReviewRoutes(router, reviewService, logging)
	setupRuleRoutes(router, db, ruleService, logging)
	setupExportRoutes(router, cfg, db, logging)

	// Setup Cron: nächtlicher Linking-Lauf über alle unaufgelösten Mentions
	if cfg.CronEnabled {
		cronScheduler := cron.New()
		cronScheduler.AddFunc(cfg.CronSchedule, func() {
			logging.Info("Running scheduled linking job...")
			summary, err := linkService.Run(context.Background(), services.RunOptions{})
			if err != nil {
				logging.Error("Cron linking job failed", zap.Error(err))
				return
			}
			recordRunMetrics(summary)
			logging.Info("Cron linking job completed",
				zap.Int("processed", summary.Processed),
				zap.Int("auto_linked", summary.AutoLinked),
				zap.Int("queued_for_review", summary.Queued))
		})
		cronScheduler.Start()
	}

	logging.Info("Starting server", zap.String("port", cfg.HTTPPort))
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		logging.Fatal("Failed to run server", zap.Error(err))
	}
}

func recordRunMetrics(summary *services.RunSummary) {
	if summary.DryRun {
		return
	}
	autoLinkedCounter.Add(float64(summary.AutoLinked))
	queuedCounter.Add(float64(summary.Queued))
	entitiesCreatedCounter.Add(float64(summary.EntitiesCreated))
	unmatchedCounter.Add(float64(summary.Unmatched))
}

// setupMentionRoutes konfiguriert Ingest und Abfrage von Mentions.
// Ingest ist der schmale Vertrag zum Scraper: Namen plus Quellenangabe.
func setupMentionRoutes(router *gin.Engine, db *gorm.DB, reviewService *services.ReviewService, log *zap.Logger) {
	rg := router.Group("/mentions")

	rg.POST("/", func(c *gin.Context) {
		var req struct {
			SourceReference string   `json:"source_reference" binding:"required"`
			DocumentURL     string   `json:"document_url"`
			Names           []string `json:"names" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. 'source_reference' and 'names' are required."})
			return
		}

		created := 0
		for _, name := range req.Names {
			if name == "" {
				continue
			}
			mention := models.Mention{
				RawText:         name,
				NormalizedText:  services.CleanName(name),
				SourceReference: req.SourceReference,
				DocumentURL:     req.DocumentURL,
				ResolutionState: models.StateUnresolved,
			}
			if err := db.Create(&mention).Error; err != nil {
				log.Error("Failed to create mention", zap.String("raw_text", name), zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "database error", "created": created})
				return
			}
			created++
		}
		c.JSON(http.StatusCreated, gin.H{"created": created})
	})

	rg.POST("/query", func(c *gin.Context) {
		type MentionQuery struct {
			SourceReference string `json:"source_reference"`
			ResolutionState string `json:"resolution_state"`
			ConfidenceTier  string `json:"confidence_tier"`
			EntityID        *uint  `json:"entity_id"`
			Limit           int    `json:"limit"`
		}

		var req MentionQuery
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		query := db.Model(&models.Mention{})
		if req.SourceReference != "" {
			query = query.Where("source_reference = ?", req.SourceReference)
		}
		if req.ResolutionState != "" {
			query = query.Where("resolution_state = ?", req.ResolutionState)
		}
		if req.ConfidenceTier != "" {
			query = query.Where("confidence_tier = ?", req.ConfidenceTier)
		}
		if req.EntityID != nil {
			query = query.Where("entity_id = ?", *req.EntityID)
		}
		if req.Limit > 0 {
			query = query.Limit(req.Limit)
		}

		var mentions []models.Mention
		if err := query.Order("id asc").Find(&mentions).Error; err != nil {
			log.Error("Database query for mentions failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, mentions)
	})

	// Expliziter Reprocess-Request: Reset auf unresolved, Link-Widerruf atomar
	rg.POST("/:id/reprocess", func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid mention id"})
			return
		}
		mention, err := reviewService.Reprocess(uint(id))
		if err != nil {
			if errors.Is(err, services.ErrMentionNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "mention not found"})
				return
			}
			log.Error("Failed to reprocess mention", zap.Uint64("id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, mention)
	})
}

func setupEntityRoutes(router *gin.Engine, db *gorm.DB, registry *services.RegistryService, log *zap.Logger) {
	rg := router.Group("/entities")

	rg.GET("/", func(c *gin.Context) {
		var entities []models.Entity
		if err := db.Order("id asc").Find(&entities).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, entities)
	})

	// Manuelles Anlegen; Eindeutigkeit über conflict-checked Insert
	rg.POST("/", func(c *gin.Context) {
		var req struct {
			CanonicalName string `json:"canonical_name" binding:"required"`
			EntityKind    string `json:"entity_kind"`
			Role          string `json:"role"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. 'canonical_name' is required."})
			return
		}
		entity, created, err := registry.Ensure(req.CanonicalName, req.EntityKind, models.ProvenanceManual)
		if err != nil {
			log.Error("Failed to create entity", zap.String("canonical_name", req.CanonicalName), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create entity"})
			return
		}
		if req.Role != "" && created {
			if err := db.Model(entity).Update("role", req.Role).Error; err != nil {
				log.Warn("Failed to set entity role", zap.Uint("entity_id", entity.ID), zap.Error(err))
			}
		}
		status := http.StatusOK
		if created {
			status = http.StatusCreated
			entitiesCreatedCounter.Inc()
		}
		c.JSON(status, entity)
	})

	rg.POST("/query", func(c *gin.Context) {
		type EntityQuery struct {
			NameContains string `json:"name_contains"`
			EntityKind   string `json:"entity_kind"`
			Provenance   string `json:"provenance"`
			Limit        int    `json:"limit"`
		}

		var req EntityQuery
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		query := db.Model(&models.Entity{})
		if req.NameContains != "" {
			query = query.Where("name_key LIKE ?", "%"+services.NameKey(req.NameContains)+"%")
		}
		if req.EntityKind != "" {
			query = query.Where("entity_kind = ?", req.EntityKind)
		}
		if req.Provenance != "" {
			query = query.Where("provenance = ?", req.Provenance)
		}
		if req.Limit > 0 {
			query = query.Limit(req.Limit)
		}

		var entities []models.Entity
		if err := query.Order("id asc").Find(&entities).Error; err != nil {
			log.Error("Database query for entities failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, entities)
	})
}

// setupLinkRoutes konfiguriert den Batch-Trigger für den Linking-Lauf.
// Synchron: die Summary ist die Antwort, auch im Dry-Run.
func setupLinkRoutes(router *gin.Engine, linkService *services.LinkService, log *zap.Logger) {
	rg := router.Group("/link")

	rg.POST("/run", func(c *gin.Context) {
		var opts services.RunOptions
		if err := c.ShouldBindJSON(&opts); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		summary, err := linkService.Run(c.Request.Context(), opts)
		if err != nil {
			log.Error("Linking run failed", zap.Error(err))
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		recordRunMetrics(summary)
		c.JSON(http.StatusOK, summary)
	})
}

func setupBootstrapRoutes(router *gin.Engine, bootstrapService *services.BootstrapService, log *zap.Logger) {
	rg := router.Group("/bootstrap")

	rg.POST("/run", func(c *gin.Context) {
		var opts services.BootstrapOptions
		if err := c.ShouldBindJSON(&opts); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		summary, err := bootstrapService.Run(c.Request.Context(), opts)
		if err != nil {
			log.Error("Bootstrap run failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if !summary.DryRun {
			entitiesCreatedCounter.Add(float64(summary.EntitiesCreated))
		}
		c.JSON(http.StatusOK, summary)
	})
}

// setupReviewRoutes konfiguriert die Review-Workbench-API.
func setupReviewRoutes(router *gin.Engine, reviewService *services.ReviewService, log *zap.Logger) {
	rg := router.Group("/review")

	// Paginierte Queue; DB-Fehler ist ein expliziter Reload-Failed-Zustand (500),
	// unterscheidbar von "nichts offen" (200 mit leerer Liste).
	rg.GET("/queue", func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
		tier := c.Query("tier")

		items, total, err := reviewService.Queue(tier, limit, offset)
		if err != nil {
			log.Error("Failed to load review queue", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load review queue"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"items":  items,
			"total":  total,
			"limit":  limit,
			"offset": offset,
		})
	})

	rg.POST("/decision", func(c *gin.Context) {
		var input services.DecisionInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. 'mention_id' and 'verdict' are required."})
			return
		}

		mention, err := reviewService.Decide(input)
		if err != nil {
			switch {
			case errors.Is(err, services.ErrMentionNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "mention not found"})
			case errors.Is(err, services.ErrNotReviewable):
				c.JSON(http.StatusConflict, gin.H{"error": "mention is not in a reviewable state"})
			default:
				log.Error("Review decision failed", zap.Uint("mention_id", input.MentionID), zap.Error(err))
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			}
			return
		}
		c.JSON(http.StatusOK, mention)
	})
}

func setupRuleRoutes(router *gin.Engine, db *gorm.DB, ruleService *services.RuleService, log *zap.Logger) {
	rg := router.Group("/rules")

	rg.GET("/", func(c *gin.Context) {
		var rules []models.RuleEntry
		if err := db.Order("id asc").Find(&rules).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, rules)
	})

	rg.POST("/", func(c *gin.Context) {
		var rule models.RuleEntry
		if err := c.ShouldBindJSON(&rule); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if err := ruleService.Create(&rule); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, rule)
	})

	rg.GET("/candidates", func(c *gin.Context) {
		query := db.Model(&models.RuleCandidate{})
		if c.DefaultQuery("include_promoted", "false") != "true" {
			query = query.Where("promoted = ?", false)
		}
		var candidates []models.RuleCandidate
		if err := query.Order("id asc").Find(&candidates).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, candidates)
	})

	rg.POST("/candidates/:id/promote", func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid candidate id"})
			return
		}
		rule, err := ruleService.Promote(uint(id))
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "candidate not found"})
				return
			}
			log.Error("Failed to promote rule candidate", zap.Uint64("id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to promote candidate"})
			return
		}
		c.JSON(http.StatusOK, rule)
	})
}

// setupExportRoutes konfiguriert den S3-Export der Review-Entscheidungen
// als Audit-Archiv. Nur aktiv, wenn der Export konfiguriert ist.
func setupExportRoutes(router *gin.Engine, cfg *config.Config, db *gorm.DB, log *zap.Logger) {
	rg := router.Group("/export")

	rg.POST("/decisions", func(c *gin.Context) {
		if !cfg.ExportEnabled() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "export is not configured"})
			return
		}

		s3Client, err := storage.NewS3Client(cfg)
		if err != nil {
			log.Error("S3 client creation failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create export client"})
			return
		}

		type decisionExport struct {
			models.ReviewDecision
			RawText         string `json:"raw_text"`
			NormalizedText  string `json:"normalized_text"`
			SourceReference string `json:"source_reference"`
		}

		var decisions []models.ReviewDecision
		if err := db.Order("id asc").Find(&decisions).Error; err != nil {
			log.Error("Failed to load review decisions", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}

		exports := make([]decisionExport, 0, len(decisions))
		for _, decision := range decisions {
			entry := decisionExport{ReviewDecision: decision}
			var mention models.Mention
			if err := db.First(&mention, decision.MentionID).Error; err == nil {
				entry.RawText = mention.RawText
				entry.NormalizedText = mention.NormalizedText
				entry.SourceReference = mention.SourceReference
			}
			exports = append(exports, entry)
		}

		data, err := json.MarshalIndent(exports, "", "  ")
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to encode export"})
			return
		}

		key := fmt.Sprintf("review-decisions-%s.json", time.Now().UTC().Format("2006-01-02T15-04-05Z"))
		link, err := storage.Upload(c.Request.Context(), s3Client, cfg.ExportS3Bucket, key, data)
		if err != nil {
			log.Error("Decision export upload failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to upload export"})
			return
		}

		log.Info("Review decisions exported", zap.Int("count", len(exports)), zap.String("link", link))
		c.JSON(http.StatusOK, gin.H{"exported": len(exports), "link": link})
	})
}

// seedDefaultRules legt die Grund-Blocklist an, wenn noch keine Regeln existieren.
// Die Muster sind wiederkehrende Nicht-Organisationen aus Remiss-Sändlistor.
func seedDefaultRules(db *gorm.DB, logger *zap.Logger) {
	var count int64
	db.Model(&models.RuleEntry{}).Count(&count)
	if count > 0 {
		return
	}
	rules := []models.RuleEntry{
		{Pattern: "remissvar", RuleKind: models.RuleBlocklist},
		{Pattern: "missiv", RuleKind: models.RuleBlocklist},
		{Pattern: "följebrev", RuleKind: models.RuleBlocklist},
		{Pattern: "sändlista", RuleKind: models.RuleBlocklist},
		{Pattern: "remissinstanser", RuleKind: models.RuleBlocklist},
	}
	if err := db.Create(&rules).Error; err != nil {
		logger.Warn("Failed to seed default rules", zap.Error(err))
	} else {
		logger.Info("Default rule entries seeded.")
	}
}
