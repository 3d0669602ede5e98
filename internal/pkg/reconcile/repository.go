package reconcile

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-sql-driver/mysql"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/hotspotpay/hotspot/app/models"
	"github.com/hotspotpay/hotspot/internal/pkg/apperror"
	"github.com/hotspotpay/hotspot/internal/pkg/lifecycle"
)

// Repository is the storage contract of the reconciliation service. Every
// state write is a compare-and-swap on the current state so concurrent
// workers can never apply conflicting transitions.
type Repository interface {
	GetCompany(ctx context.Context, id uint) (*models.Company, error)
	GetPlan(ctx context.Context, companyID, planID uint) (*models.Plan, error)

	// CreateSessionWithPayment inserts the session, assigns a token from gen
	// and inserts the payment in one transaction, regenerating the token on
	// a unique-key collision up to maxAttempts times.
	CreateSessionWithPayment(ctx context.Context, session *models.AccessSession, payment *models.Payment, gen func() (string, error), maxAttempts int) error
	SetProviderTransactionID(ctx context.Context, paymentID uint, providerID string) error

	FindPaymentByReference(ctx context.Context, reference string) (*models.Payment, error)
	FindPaymentBySessionID(ctx context.Context, sessionID uint) (*models.Payment, error)
	ListPendingPayments(ctx context.Context, createdBefore time.Time, limit int) ([]models.Payment, error)

	// ClaimActivation takes the provisioning claim on a session awaiting
	// payment and returns the claim stamp it wrote. A claim older than ttl
	// is considered abandoned and can be taken over.
	ClaimActivation(ctx context.Context, sessionID uint, now time.Time, ttl time.Duration) (time.Time, bool, error)
	// ReleaseActivation drops the claim only while it still carries stamp.
	ReleaseActivation(ctx context.Context, sessionID uint, stamp time.Time) error
	MarkPaymentSucceeded(ctx context.Context, commit ActivationCommit) (bool, error)
	MarkPaymentFailed(ctx context.Context, paymentID uint, reason string, now time.Time, claimCutoff time.Time) (bool, error)

	GetSession(ctx context.Context, id uint) (*models.AccessSession, error)
	FindSessionByToken(ctx context.Context, companyID uint, token string) (*models.AccessSession, error)
	ListSessions(ctx context.Context, companyID uint, activeOnly bool, limit int) ([]models.AccessSession, error)
	ListExpiredSessionIDs(ctx context.Context, now time.Time, afterID uint, limit int) ([]uint, error)
	BindDevice(ctx context.Context, sessionID uint, ip, mac string) (bool, error)
	EndSession(ctx context.Context, sessionID uint, to string, now time.Time) (bool, error)

	RecordCallback(ctx context.Context, event *models.CallbackEvent) (bool, *models.CallbackEvent, error)
	MarkCallbackProcessed(ctx context.Context, id uint, processingError string, now time.Time) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a reconciliation repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

// IsDuplicateKey recognises unique-constraint violations from MySQL and SQLite.
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint failed") ||
		strings.Contains(msg, "duplicate entry") ||
		strings.Contains(msg, "constraint failed: unique")
}

func (r *gormRepository) GetCompany(ctx context.Context, id uint) (*models.Company, error) {
	var c models.Company
	if err := r.db.WithContext(ctx).First(&c, id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *gormRepository) GetPlan(ctx context.Context, companyID, planID uint) (*models.Plan, error) {
	var p models.Plan
	err := r.db.WithContext(ctx).Where("id = ? AND company_id = ?", planID, companyID).First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *gormRepository) CreateSessionWithPayment(ctx context.Context, session *models.AccessSession, payment *models.Payment, gen func() (string, error), maxAttempts int) error {
	if err := lifecycle.ValidateSessionTransition(models.SessionStateCreated, models.SessionStatePendingPayment); err != nil {
		return err
	}
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		tok, err := gen()
		if err != nil {
			return apperror.Inconsistency("token generator failed", err)
		}

		session.ID = 0
		session.Token = nil
		session.State = models.SessionStateCreated
		payment.ID = 0

		err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Create(session).Error; err != nil {
				return err
			}
			res := tx.Model(&models.AccessSession{}).
				Where("id = ? AND state = ?", session.ID, models.SessionStateCreated).
				Updates(map[string]interface{}{
					"token": tok,
					"state": models.SessionStatePendingPayment,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected != 1 {
				return apperror.Inconsistency("new session changed state before token assignment", nil)
			}
			session.Token = &tok
			session.State = models.SessionStatePendingPayment

			payment.SessionID = session.ID
			payment.Status = models.PaymentStatusPending
			return tx.Create(payment).Error
		})
		if err == nil {
			return nil
		}
		if !IsDuplicateKey(err) {
			return err
		}
		log.Warnf("[Reconcile] Token collision (attempt %d/%d), regenerating", attempt, maxAttempts)
	}
	session.ID = 0
	session.Token = nil
	return apperror.New(apperror.KindTokenGenerationExhausted, "", "could not allocate a unique access token")
}

func (r *gormRepository) SetProviderTransactionID(ctx context.Context, paymentID uint, providerID string) error {
	return r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ? AND (provider_transaction_id = '' OR provider_transaction_id IS NULL)", paymentID).
		Update("provider_transaction_id", providerID).Error
}

// findPayment loads a payment and its session from one snapshot so a
// commit landing between the two reads cannot show a mismatched pair.
func (r *gormRepository) findPayment(ctx context.Context, query string, arg interface{}) (*models.Payment, error) {
	var p models.Payment
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Preload("Session").Where(query, arg).First(&p).Error
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *gormRepository) FindPaymentByReference(ctx context.Context, reference string) (*models.Payment, error) {
	return r.findPayment(ctx, "reference = ?", reference)
}

func (r *gormRepository) FindPaymentBySessionID(ctx context.Context, sessionID uint) (*models.Payment, error) {
	return r.findPayment(ctx, "session_id = ?", sessionID)
}

func (r *gormRepository) ListPendingPayments(ctx context.Context, createdBefore time.Time, limit int) ([]models.Payment, error) {
	var out []models.Payment
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at <= ?", models.PaymentStatusPending, createdBefore).
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// claimStamp matches the DATETIME(3) column so the stamp read back
// compares equal to the one written.
func claimStamp(now time.Time) time.Time {
	return now.UTC().Truncate(time.Millisecond)
}

func (r *gormRepository) ClaimActivation(ctx context.Context, sessionID uint, now time.Time, ttl time.Duration) (time.Time, bool, error) {
	stamp := claimStamp(now)
	res := r.db.WithContext(ctx).Model(&models.AccessSession{}).
		Where("id = ? AND state = ? AND (activation_claimed_at IS NULL OR activation_claimed_at < ?)",
			sessionID, models.SessionStatePendingPayment, stamp.Add(-ttl)).
		Update("activation_claimed_at", stamp)
	if res.Error != nil {
		return time.Time{}, false, res.Error
	}
	if res.RowsAffected != 1 {
		return time.Time{}, false, nil
	}
	return stamp, true, nil
}

func (r *gormRepository) ReleaseActivation(ctx context.Context, sessionID uint, stamp time.Time) error {
	return r.db.WithContext(ctx).Model(&models.AccessSession{}).
		Where("id = ? AND state = ? AND activation_claimed_at = ?", sessionID, models.SessionStatePendingPayment, claimStamp(stamp)).
		Update("activation_claimed_at", nil).Error
}

// MarkPaymentSucceeded finalizes the payment under a row lock and activates
// the session in the same transaction. It reports false without writing
// when the payment already left pending.
func (r *gormRepository) MarkPaymentSucceeded(ctx context.Context, c ActivationCommit) (bool, error) {
	changed := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p models.Payment
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&p, c.PaymentID).Error; err != nil {
			return err
		}
		if !lifecycle.CanTransitionPayment(p.Status, models.PaymentStatusSucceeded) {
			return nil
		}

		updates := map[string]interface{}{
			"status":         models.PaymentStatusSucceeded,
			"finalized_at":   c.Start,
			"failure_reason": "",
		}
		if c.ProviderTransactionID != "" {
			updates["provider_transaction_id"] = c.ProviderTransactionID
		}
		res := tx.Model(&models.Payment{}).
			Where("id = ? AND status = ?", p.ID, models.PaymentStatusPending).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return apperror.Inconsistency("payment changed while locked", nil)
		}

		res = tx.Model(&models.AccessSession{}).
			Where("id = ? AND state = ?", c.SessionID, models.SessionStatePendingPayment).
			Updates(map[string]interface{}{
				"state":                 models.SessionStateActive,
				"is_active":             true,
				"start_time":            c.Start,
				"end_time":              c.End,
				"activation_claimed_at": nil,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return apperror.Inconsistency("payment is pending but its session is not awaiting payment", nil)
		}
		changed = true
		return nil
	})
	return changed, err
}

// MarkPaymentFailed finalizes the payment and its session as failed. A live
// provisioning claim (claimed after claimCutoff) blocks the write so a
// worker in the middle of granting access is never overtaken.
func (r *gormRepository) MarkPaymentFailed(ctx context.Context, paymentID uint, reason string, now time.Time, claimCutoff time.Time) (bool, error) {
	changed := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p models.Payment
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&p, paymentID).Error; err != nil {
			return err
		}
		if !lifecycle.CanTransitionPayment(p.Status, models.PaymentStatusFailed) {
			return nil
		}

		res := tx.Model(&models.AccessSession{}).
			Where("id = ? AND state IN ? AND (activation_claimed_at IS NULL OR activation_claimed_at < ?)",
				p.SessionID, []string{models.SessionStateCreated, models.SessionStatePendingPayment}, claimCutoff).
			Updates(map[string]interface{}{
				"state":          models.SessionStateFailed,
				"failure_reason": truncateReason(reason),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			// claimed by a provisioning worker; leave both rows for it
			return nil
		}

		res = tx.Model(&models.Payment{}).
			Where("id = ? AND status = ?", p.ID, models.PaymentStatusPending).
			Updates(map[string]interface{}{
				"status":         models.PaymentStatusFailed,
				"failure_reason": truncateReason(reason),
				"finalized_at":   now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return apperror.Inconsistency("payment changed while locked", nil)
		}
		changed = true
		return nil
	})
	return changed, err
}

func (r *gormRepository) GetSession(ctx context.Context, id uint) (*models.AccessSession, error) {
	var s models.AccessSession
	if err := r.db.WithContext(ctx).First(&s, id).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *gormRepository) FindSessionByToken(ctx context.Context, companyID uint, token string) (*models.AccessSession, error) {
	var s models.AccessSession
	err := r.db.WithContext(ctx).Where("company_id = ? AND token = ?", companyID, token).First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *gormRepository) ListSessions(ctx context.Context, companyID uint, activeOnly bool, limit int) ([]models.AccessSession, error) {
	var out []models.AccessSession
	q := r.db.WithContext(ctx).Preload("Plan").Where("company_id = ?", companyID)
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	err := q.Order("id DESC").Limit(limit).Find(&out).Error
	return out, err
}

func (r *gormRepository) ListExpiredSessionIDs(ctx context.Context, now time.Time, afterID uint, limit int) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&models.AccessSession{}).
		Where("is_active = ? AND end_time < ? AND id > ?", true, now, afterID).
		Order("id ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

func (r *gormRepository) BindDevice(ctx context.Context, sessionID uint, ip, mac string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.AccessSession{}).
		Where("id = ? AND state = ? AND (mac_address = '' OR mac_address IS NULL)", sessionID, models.SessionStateActive).
		Updates(map[string]interface{}{
			"mac_address": mac,
			"ip_address":  ip,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// EndSession moves an active session to expired or deactivated and clears
// is_active. It reports false when the session was no longer active.
func (r *gormRepository) EndSession(ctx context.Context, sessionID uint, to string, now time.Time) (bool, error) {
	if err := lifecycle.ValidateSessionTransition(models.SessionStateActive, to); err != nil {
		return false, err
	}
	res := r.db.WithContext(ctx).Model(&models.AccessSession{}).
		Where("id = ? AND state = ?", sessionID, models.SessionStateActive).
		Updates(map[string]interface{}{
			"state":          to,
			"is_active":      false,
			"deactivated_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *gormRepository) RecordCallback(ctx context.Context, event *models.CallbackEvent) (bool, *models.CallbackEvent, error) {
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "event_key"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.CallbackEvent
	if err := r.db.WithContext(ctx).Where("provider = ? AND event_key = ?", event.Provider, event.EventKey).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkCallbackProcessed(ctx context.Context, id uint, processingError string, now time.Time) error {
	updates := map[string]interface{}{
		"processed_at":     now,
		"processing_error": processingError,
	}
	return r.db.WithContext(ctx).Model(&models.CallbackEvent{}).Where("id = ?", id).Updates(updates).Error
}

// truncateReason caps s at 255 bytes without splitting a UTF-8 sequence.
func truncateReason(s string) string {
	if len(s) <= maxReasonBytes {
		return s
	}
	cut := maxReasonBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

const maxReasonBytes = 255
