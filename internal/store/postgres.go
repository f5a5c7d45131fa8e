package store

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// FrameRecord is one persisted frame.
type FrameRecord struct {
	BoardID   string `gorm:"type:varchar(64);primaryKey"`
	Sequence  int32  `gorm:"primaryKey;autoIncrement:false"`
	Data      []byte `gorm:"type:bytea;not null"`
	UpdatedAt time.Time
}

func (FrameRecord) TableName() string { return "frames" }

// BanRow is one persisted ban.
type BanRow struct {
	ID        uint   `gorm:"primaryKey"`
	BoardID   string `gorm:"type:varchar(64);index;not null"`
	UserID    int32
	By        int32
	Since     time.Time
	Until     time.Time
	Expires   time.Time
	CreatedAt time.Time
}

func (BanRow) TableName() string { return "bans" }

type Postgres struct {
	db *gorm.DB
}

func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	p := &Postgres{db: db}
	if err := db.WithContext(ctx).AutoMigrate(&FrameRecord{}, &BanRow{}); err != nil {
		return nil, multierr.Append(fmt.Errorf("migrate: %w", err), p.Close())
	}
	return p, nil
}

func (p *Postgres) Put(ctx context.Context, board string, seq uint16, data []byte) error {
	rec := FrameRecord{BoardID: board, Sequence: int32(seq), Data: data}
	return p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "board_id"}, {Name: "sequence"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
	}).Create(&rec).Error
}

func (p *Postgres) Scan(ctx context.Context, board string, fn func(seq uint16, data []byte) error) error {
	rows, err := p.db.WithContext(ctx).Model(&FrameRecord{}).
		Where("board_id = ?", board).
		Order("sequence").
		Rows()
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var rec FrameRecord
		if err := p.db.ScanRows(rows, &rec); err != nil {
			return err
		}
		if err := fn(uint16(rec.Sequence), rec.Data); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (p *Postgres) Boards(ctx context.Context) ([]string, error) {
	var out []string
	err := p.db.WithContext(ctx).Model(&FrameRecord{}).Distinct().Order("board_id").Pluck("board_id", &out).Error
	return out, err
}

func (p *Postgres) PutBan(ctx context.Context, board string, b BanRecord) error {
	row := BanRow{
		BoardID:   board,
		UserID:    int32(b.UserID),
		By:        int32(b.By),
		Since:     b.Since,
		Until:     b.Until,
		Expires:   b.Expires,
		CreatedAt: b.At,
	}
	return p.db.WithContext(ctx).Create(&row).Error
}

func (p *Postgres) Bans(ctx context.Context, board string) ([]BanRecord, error) {
	var rows []BanRow
	if err := p.db.WithContext(ctx).Where("board_id = ?", board).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]BanRecord, len(rows))
	for i, r := range rows {
		out[i] = BanRecord{
			UserID:  uint16(r.UserID),
			By:      uint16(r.By),
			Since:   r.Since.UTC(),
			Until:   r.Until.UTC(),
			Expires: r.Expires.UTC(),
			At:      r.CreatedAt.UTC(),
		}
	}
	return out, nil
}

func (p *Postgres) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
