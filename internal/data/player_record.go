package data

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// PlayerRecord tracks each player the server has ever admitted, keyed by the
// trusted profile UUID.
type PlayerRecord struct {
	ID          uint64 `gorm:"primaryKey"`
	UUID        string `gorm:"unique; not null"`
	Username    string `gorm:"not null"`
	LastAddress string
	FirstLogin  time.Time
	LastLogin   time.Time
	Banned      bool `gorm:"default:false"`
}

// FindPlayerRecord searches for a record with the specified profile UUID,
// returning the *PlayerRecord instance if found or nil if there is no match.
func FindPlayerRecord(db *gorm.DB, uuid string) (*PlayerRecord, error) {
	var record PlayerRecord
	err := db.Where("uuid = ?", uuid).First(&record).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return &record, nil
}

// UpsertPlayerRecord records a successful login, creating the record on the
// player's first visit and refreshing the username, address, and last-login
// timestamp on subsequent ones.
func UpsertPlayerRecord(db *gorm.DB, uuid, username, address string) (*PlayerRecord, error) {
	now := time.Now()

	record, err := FindPlayerRecord(db, uuid)
	if err != nil {
		return nil, err
	}
	if record == nil {
		record = &PlayerRecord{
			UUID:        uuid,
			Username:    username,
			LastAddress: address,
			FirstLogin:  now,
			LastLogin:   now,
		}
		return record, db.Create(record).Error
	}

	record.Username = username
	record.LastAddress = address
	record.LastLogin = now
	return record, db.Save(record).Error
}

// SetPlayerBanned flips the ban flag on an existing record.
func SetPlayerBanned(db *gorm.DB, uuid string, banned bool) error {
	return db.Model(&PlayerRecord{}).Where("uuid = ?", uuid).Update("banned", banned).Error
}
