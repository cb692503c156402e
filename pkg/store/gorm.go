package store

import (
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"walletsync/pkg/model"
)

// walletTypeRow stores one entry of a user's ordered wallet-type list.
type walletTypeRow struct {
	UserID   string `gorm:"primaryKey;size:128"`
	Position int    `gorm:"primaryKey"`
	TypeID   string `gorm:"size:64"`
	Name     string `gorm:"size:128"`
	ShortKey string `gorm:"size:64"`
}

func (walletTypeRow) TableName() string { return "wallet_types" }

// GormStore persists backend state through GORM (MySQL in production).
type GormStore struct {
	db *gorm.DB
}

// NewGormStore migrates the schema and returns the store.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&model.KeyRecord{}, &model.MacModalSettings{}, &walletTypeRow{}, &model.AuditEntry{}, &model.User{}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func (g *GormStore) SaveKey(k model.KeyRecord) error {
	return g.db.Create(&k).Error
}

func (g *GormStore) ListKeys(userID string, limit int) ([]model.KeyRecord, error) {
	var out []model.KeyRecord
	q := g.db.Where("user_id = ?", userID).Order("received_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	reverse(out)
	return out, nil
}

func (g *GormStore) GetSettings(userID string) (model.MacModalSettings, bool, error) {
	var s model.MacModalSettings
	err := g.db.Where("user_id = ?", userID).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.MacModalSettings{}, false, nil
	}
	if err != nil {
		return model.MacModalSettings{}, false, err
	}
	return s, true, nil
}

func (g *GormStore) SaveSettings(s model.MacModalSettings) error {
	return g.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&s).Error
}

func (g *GormStore) ListWalletTypes(userID string) ([]model.WalletType, error) {
	var rows []walletTypeRow
	if err := g.db.Where("user_id = ?", userID).Order("position").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.WalletType, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.WalletType{ID: r.TypeID, Name: r.Name, ShortKey: r.ShortKey})
	}
	return out, nil
}

func (g *GormStore) SetWalletTypes(userID string, types []model.WalletType) error {
	return g.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&walletTypeRow{}).Error; err != nil {
			return err
		}
		if len(types) == 0 {
			return nil
		}
		rows := make([]walletTypeRow, 0, len(types))
		for i, w := range types {
			rows = append(rows, walletTypeRow{UserID: userID, Position: i, TypeID: w.ID, Name: w.Name, ShortKey: w.ShortKey})
		}
		return tx.Create(&rows).Error
	})
}

func (g *GormStore) AppendAudit(e model.AuditEntry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	return g.db.Create(&e).Error
}

func (g *GormStore) ListAudit(limit int) ([]model.AuditEntry, error) {
	var out []model.AuditEntry
	q := g.db.Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	reverse(out)
	return out, nil
}

func (g *GormStore) CountAdmins() (int64, error) {
	var n int64
	err := g.db.Model(&model.User{}).Count(&n).Error
	return n, err
}

func (g *GormStore) CreateAdmin(u model.User) (model.User, error) {
	if err := g.db.Create(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "Duplicate") {
			return model.User{}, ErrExists
		}
		return model.User{}, err
	}
	return u, nil
}

// CreateFirstAdmin uses INSERT ... SELECT with a NOT EXISTS guard; MySQL
// serializes concurrent attempts on the table's gap lock.
func (g *GormStore) CreateFirstAdmin(u model.User) (model.User, error) {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	table := g.db.NamingStrategy.TableName("User")
	res := g.db.Exec("INSERT INTO "+table+" (username, password_hash, is_admin, created_at) "+
		"SELECT ?, ?, ?, ? FROM DUAL WHERE NOT EXISTS (SELECT 1 FROM "+table+")",
		u.Username, u.PasswordHash, u.IsAdmin, u.CreatedAt)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return model.User{}, ErrExists
		}
		return model.User{}, res.Error
	}
	if res.RowsAffected == 0 {
		return model.User{}, ErrExists
	}
	created, ok, err := g.GetAdmin(u.Username)
	if err != nil {
		return model.User{}, err
	}
	if !ok {
		return model.User{}, errors.New("first admin vanished after insert")
	}
	return created, nil
}

func (g *GormStore) GetAdmin(username string) (model.User, bool, error) {
	var u model.User
	err := g.db.Where("username = ?", username).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.User{}, false, nil
	}
	if err != nil {
		return model.User{}, false, err
	}
	return u, true, nil
}
