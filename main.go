package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"petscan/config"
	"petscan/models"
	"petscan/providers"
	"petscan/providers/openfoodfacts"
	"petscan/providers/openpetfoodfacts"
	"petscan/services"
	"petscan/storage"
)

var (
	resolutionsCounter *prometheus.CounterVec
	missesCounter      prometheus.Counter
	catalogSizeGauge   prometheus.Gauge
	scans24hGauge      prometheus.Gauge
)

func init() {
	resolutionsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_resolutions_total",
			Help: "Successful barcode resolutions by source (store or provider name).",
		},
		[]string{"source"},
	)
	missesCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "catalog_misses_total",
			Help: "Barcode lookups that exhausted the provider chain.",
		},
	)
	catalogSizeGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalog_products",
			Help: "Number of products in the catalog.",
		},
	)
	scans24hGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalog_scans_24h",
			Help: "Scan ledger entries written in the last 24 hours.",
		},
	)
	prometheus.MustRegister(resolutionsCounter, missesCounter, catalogSizeGauge, scans24hGauge)
}

// requestIDMiddleware tags every request with an ID for log correlation.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// jwtAuthMiddleware verifies the bearer token issued by the auth service and
// stores the caller's user ID in the context. With required=false an absent
// or invalid token leaves the request anonymous instead of rejecting it.
func jwtAuthMiddleware(cfg *config.Config, required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		tokenString := strings.TrimPrefix(header, "Bearer ")
		if cfg.JWTSecret == "" || tokenString == "" || tokenString == header {
			if required {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
				return
			}
			c.Next()
			return
		}

		token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(cfg.JWTSecret), nil
		})
		if err != nil || !token.Valid {
			if required {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
				return
			}
			c.Next()
			return
		}

		if claims, ok := token.Claims.(jwt.MapClaims); ok {
			if sub, ok := claims["sub"].(float64); ok && sub > 0 {
				c.Set("user_id", uint(sub))
			}
		}
		c.Next()
	}
}

// userIDFrom returns the authenticated user ID, or 0 for anonymous callers.
func userIDFrom(c *gin.Context) uint {
	if v, ok := c.Get("user_id"); ok {
		if id, ok := v.(uint); ok {
			return id
		}
	}
	return 0
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
	logging.Info("Successfully connected to catalog database.")

	logging.Info("Running database auto-migration...")
	if err := db.AutoMigrate(&models.Product{}, &models.ScanHistory{}); err != nil {
		logging.Fatal("Auto-migration failed", zap.Error(err))
	}

	// Provider chain, in configured order. Pet-specific catalog first.
	enabledProviderNames := strings.Split(cfg.EnabledProviders, ",")
	var enabledProviders []providers.Provider
	for _, name := range enabledProviderNames {
		switch strings.TrimSpace(name) {
		case "openpetfoodfacts":
			enabledProviders = append(enabledProviders, openpetfoodfacts.NewFetcher(cfg, logging))
		case "openfoodfacts":
			enabledProviders = append(enabledProviders, openfoodfacts.NewFetcher(cfg, logging))
		default:
			logging.Warn("Unknown provider in config", zap.String("provider_name", name))
		}
	}
	if len(enabledProviders) == 0 {
		logging.Fatal("No valid providers enabled. Check ENABLED_PROVIDERS in .env")
	}
	logging.Info("Active providers loaded", zap.Strings("providers", enabledProviderNames))

	productStore := storage.NewCatalogStore(db, logging)
	ledgerStore := storage.NewLedgerStore(db, logging)

	var mirror services.ImageMirror
	if cfg.MirrorEnabled() {
		s3Client, err := storage.NewS3Client(cfg)
		if err != nil {
			logging.Fatal("S3 client creation failed", zap.Error(err))
		}
		mirror = storage.NewS3ImageMirror(s3Client, cfg, logging)
		logging.Info("Image mirroring enabled", zap.String("bucket", cfg.S3Bucket))
	}

	catalogService := services.NewCatalogService(cfg, productStore, ledgerStore, logging, enabledProviders, mirror)

	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "petscan-catalog"})
	})

	setupProductRoutes(router, cfg, catalogService, logging)
	setupScanRoutes(router, cfg, catalogService, logging)

	// Nightly stats refresh for the dashboards.
	cronScheduler := cron.New()
	cronScheduler.AddFunc(cfg.CronSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if count, err := productStore.Count(ctx); err == nil {
			catalogSizeGauge.Set(float64(count))
		} else {
			logging.Warn("Catalog count failed", zap.Error(err))
		}
		if count, err := ledgerStore.CountSince(ctx, time.Now().Add(-24*time.Hour)); err == nil {
			scans24hGauge.Set(float64(count))
		} else {
			logging.Warn("Ledger count failed", zap.Error(err))
		}
		logging.Info("Catalog stats refreshed")
	})
	cronScheduler.Start()

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

func setupProductRoutes(router *gin.Engine, cfg *config.Config, svc *services.CatalogService, log *zap.Logger) {
	rg := router.Group("/products")

	// Barcode resolution. Anonymous callers get the product without a
	// ledger entry.
	rg.GET("/:barcode", jwtAuthMiddleware(cfg, false), func(c *gin.Context) {
		barcode := c.Param("barcode")
		if barcode == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "barcode required"})
			return
		}

		product, source, err := svc.Resolve(c.Request.Context(), barcode, userIDFrom(c))
		if err != nil {
			if errors.Is(err, services.ErrProductNotFound) {
				missesCounter.Inc()
				c.JSON(http.StatusNotFound, gin.H{
					"kind":          "not_found",
					"error":         "product not found",
					"contributable": true,
				})
				return
			}
			log.Error("Barcode resolution failed", zap.String("barcode", barcode), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}

		resolutionsCounter.WithLabelValues(source).Inc()
		c.JSON(http.StatusOK, product)
	})

	// Community contribution. Requires an authenticated caller.
	rg.POST("/", jwtAuthMiddleware(cfg, true), func(c *gin.Context) {
		var input services.SubmitInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		product, err := svc.Submit(c.Request.Context(), input)
		if err != nil {
			var verr *services.ValidationError
			if errors.As(err, &verr) {
				c.JSON(http.StatusBadRequest, gin.H{
					"kind":   "validation",
					"error":  "invalid submission",
					"fields": verr.Fields,
				})
				return
			}
			log.Error("Product submission failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save product"})
			return
		}

		c.JSON(http.StatusCreated, product)
	})

	// Catalog search, ranked by nutrition score descending.
	rg.GET("/", func(c *gin.Context) {
		products, err := svc.Search(c.Request.Context(),
			c.Query("q"), c.Query("category"), c.Query("species"))
		if err != nil {
			log.Error("Catalog search failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, products)
	})
}

func setupScanRoutes(router *gin.Engine, cfg *config.Config, svc *services.CatalogService, log *zap.Logger) {
	rg := router.Group("/scans")

	rg.GET("/history", jwtAuthMiddleware(cfg, true), func(c *gin.Context) {
		userID := userIDFrom(c)
		if userID == 0 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		history, err := svc.History(c.Request.Context(), userID)
		if err != nil {
			log.Error("Scan history query failed", zap.Uint("user_id", userID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, history)
	})
}
