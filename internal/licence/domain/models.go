// Package domain is the licence directory view used by billing.
package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Licence is an abstraction licence as far as billing needs to know it.
type Licence struct {
	ID                            snowflake.ID `gorm:"primaryKey"`
	LicenceRef                    string       `gorm:"type:text;not null;uniqueIndex"`
	RegionID                      snowflake.ID `gorm:"not null;index"`
	BillingContact                string       `gorm:"type:text"`
	IncludeInSupplementaryBilling bool         `gorm:"not null;default:false"`
	UpdatedAt                     time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (Licence) TableName() string { return "licences" }

type Repository interface {
	FindByID(ctx context.Context, id snowflake.ID) (*Licence, error)
	FindByIDs(ctx context.Context, ids []snowflake.ID) ([]Licence, error)
	SetIncludeInSupplementaryBilling(ctx context.Context, ids []snowflake.ID, include bool, at time.Time) error
}

type Service interface {
	FlagForSupplementaryBilling(ctx context.Context, licenceIDs ...snowflake.ID) error
	FindByIDs(ctx context.Context, ids []snowflake.ID) (map[snowflake.ID]Licence, error)
}
