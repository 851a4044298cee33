package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/railzwaylabs/waterbilling/internal/audit/domain"
	batchdomain "github.com/railzwaylabs/waterbilling/internal/batch/domain"
	"github.com/railzwaylabs/waterbilling/internal/batchlock"
	"github.com/railzwaylabs/waterbilling/internal/chargemodule"
	"github.com/railzwaylabs/waterbilling/internal/clock"
	ierr "github.com/railzwaylabs/waterbilling/internal/errors"
	invoicedomain "github.com/railzwaylabs/waterbilling/internal/invoice/domain"
	"github.com/railzwaylabs/waterbilling/internal/invoice/repository"
	licencedomain "github.com/railzwaylabs/waterbilling/internal/licence/domain"
	"github.com/samber/lo"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	ChargeModule chargemodule.Gateway
	Batches      batchdomain.Service
	Licences     licencedomain.Service
	AuditSvc     auditdomain.Service `optional:"true"`
	Locker       batchlock.Locker    `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	chargeModule chargemodule.Gateway
	batches      batchdomain.Service
	licences     licencedomain.Service
	auditSvc     auditdomain.Service
	locker       batchlock.Locker
	repo         invoicedomain.Repository
}

func NewService(p ServiceParam) invoicedomain.Service {
	locker := p.Locker
	if locker == nil {
		locker = batchlock.Noop{}
	}
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("invoice.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		chargeModule: p.ChargeModule,
		batches:      p.Batches,
		licences:     p.Licences,
		auditSvc:     p.AuditSvc,
		locker:       locker,
		repo:         repository.NewRepository(p.DB),
	}
}

func (s *Service) Create(ctx context.Context, inv *invoicedomain.Invoice) error {
	if inv.ID == 0 {
		inv.ID = s.genID.Generate()
	}
	if inv.RebillingState != nil && !inv.RebillingState.Valid() {
		return ierr.Validation("invalid rebilling state %q", *inv.RebillingState)
	}
	now := s.clock.Now(ctx)
	inv.CreatedAt = now
	inv.UpdatedAt = now
	return s.repo.Insert(ctx, inv)
}

func (s *Service) CreateLicence(ctx context.Context, il *invoicedomain.InvoiceLicence) error {
	if il.ID == 0 {
		il.ID = s.genID.Generate()
	}
	il.CreatedAt = s.clock.Now(ctx)
	return s.repo.InsertLicence(ctx, il)
}

func (s *Service) ListBatchInvoices(ctx context.Context, batchID snowflake.ID) ([]invoicedomain.Invoice, error) {
	return s.repo.FindByBatchID(ctx, batchID)
}

func (s *Service) GetInvoice(ctx context.Context, batchID, invoiceID snowflake.ID) (*invoicedomain.Invoice, error) {
	tree, err := s.repo.LoadTree(ctx, batchID)
	if err != nil {
		return nil, err
	}
	inv, ok := lo.Find(tree, func(i invoicedomain.Invoice) bool { return i.ID == invoiceID })
	if !ok {
		return nil, ierr.ErrInvoiceNotFound.New("Invoice %s not found in batch %s", invoiceID, batchID)
	}
	return &inv, nil
}
