// Package server exposes the billing batch operations over HTTP.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	auditdomain "github.com/railzwaylabs/waterbilling/internal/audit/domain"
	batchdomain "github.com/railzwaylabs/waterbilling/internal/batch/domain"
	billingvolumedomain "github.com/railzwaylabs/waterbilling/internal/billingvolume/domain"
	"github.com/railzwaylabs/waterbilling/internal/config"
	invoicedomain "github.com/railzwaylabs/waterbilling/internal/invoice/domain"
	invoiceservice "github.com/railzwaylabs/waterbilling/internal/invoice/service"
	"github.com/railzwaylabs/waterbilling/internal/jobqueue"
	transactiondomain "github.com/railzwaylabs/waterbilling/internal/transaction/domain"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("server",
	fx.Provide(NewServer),
	fx.Invoke(registerLifecycle),
)

type ServerParam struct {
	fx.In

	Config         config.Config
	Log            *zap.Logger
	DB             *gorm.DB
	Redis          *redis.Client
	Queue          *jobqueue.Queue
	Batches        batchdomain.Service
	Invoices       invoicedomain.Service
	Explanations   *invoiceservice.ExplanationService
	Transactions   transactiondomain.Service
	BillingVolumes billingvolumedomain.Service
	AuditExport    auditdomain.ExportService
	Gatherer       prometheus.Gatherer `optional:"true"`
}

type Server struct {
	cfg            config.Config
	log            *zap.Logger
	db             *gorm.DB
	redis          *redis.Client
	queue          *jobqueue.Queue
	batches        batchdomain.Service
	invoices       invoicedomain.Service
	explanations   *invoiceservice.ExplanationService
	transactions   transactiondomain.Service
	billingVolumes billingvolumedomain.Service
	auditExportSvc auditdomain.ExportService
	gatherer       prometheus.Gatherer

	engine *gin.Engine
}

func NewServer(p ServerParam) *Server {
	s := &Server{
		cfg:            p.Config,
		log:            p.Log.Named("server"),
		db:             p.DB,
		redis:          p.Redis,
		queue:          p.Queue,
		batches:        p.Batches,
		invoices:       p.Invoices,
		explanations:   p.Explanations,
		transactions:   p.Transactions,
		billingVolumes: p.BillingVolumes,
		auditExportSvc: p.AuditExport,
		gatherer:       p.Gatherer,
	}
	if p.Config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.engine = gin.New()
	s.engine.Use(gin.Recovery(), s.RequestID(), s.AccessLog())
	s.RegisterRoutes(s.engine)
	return s
}

// Handler returns the router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/healthz", s.Liveness)
	r.GET("/readyz", s.Readiness)
	if s.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api/v1", s.WithUser())

	batches := api.Group("/batches")
	{
		batches.GET("", s.ListBatches)
		batches.POST("", s.RequireUser(), s.CreateBatch)
		batches.GET("/:batch_id", s.GetBatch)
		batches.DELETE("/:batch_id", s.RequireUser(), s.DeleteBatch)
		batches.POST("/:batch_id/approve", s.RequireUser(), s.ApproveBatch)
		batches.POST("/:batch_id/review/approve", s.RequireUser(), s.ApproveReview)
		batches.GET("/:batch_id/review", s.ListReviewRows)
		batches.GET("/:batch_id/licences/:licence_id/billing-volumes", s.ListLicenceBillingVolumes)

		batches.GET("/:batch_id/transactions", s.ListTransactionHistory)
		batches.PATCH("/:batch_id/transactions/:transaction_id", s.RequireUser(), s.UpdateTransactionVolume)

		batches.GET("/:batch_id/invoices", s.ListInvoices)
		batches.GET("/:batch_id/invoices/:invoice_id", s.GetInvoice)
		batches.DELETE("/:batch_id/invoices/:invoice_id", s.RequireUser(), s.DeleteInvoice)
	}

	api.GET("/invoices/:invoice_id/explanation", s.ExplainInvoice)
	api.PATCH("/billing-volumes/:volume_id", s.RequireUser(), s.UpdateBillingVolume)
	api.GET("/audit/export", s.ExportAuditLogs)
}

func registerLifecycle(lc fx.Lifecycle, s *Server) {
	srv := &http.Server{
		Addr:              s.cfg.Server.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			s.log.Info("http server listening", zap.String("addr", ln.Addr().String()))
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					s.log.Error("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			timeout := s.cfg.Server.ShutdownTimeout
			if timeout <= 0 {
				timeout = 10 * time.Second
			}
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return srv.Shutdown(ctx)
		},
	})
}

// enqueue hands job intents to the queue. The request has already changed
// state, so a queue failure is logged and reported but never rolls it back.
func (s *Server) enqueue(c *gin.Context, jobs []jobqueue.Job) error {
	if len(jobs) == 0 {
		return nil
	}
	if err := s.queue.Enqueue(c.Request.Context(), jobs...); err != nil {
		s.log.Error("enqueue job intents failed",
			zap.Int("jobs", len(jobs)),
			zap.String("first_job", jobs[0].Name),
			zap.Error(err),
		)
		return err
	}
	return nil
}
