package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cppla/learnquest/models"
)

// Dispatcher turns badge awards, rank crossings and streak milestones into notifications,
// at most one per (user, trigger, calendar day).
type Dispatcher struct {
	db  *gorm.DB
	pub Publisher
	loc *time.Location
	log *zap.SugaredLogger
}

func NewDispatcher(db *gorm.DB, pub Publisher, loc *time.Location, log *zap.SugaredLogger) *Dispatcher {
	if pub == nil {
		pub = nopPublisher{}
	}
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Dispatcher{db: db, pub: pub, loc: loc, log: log}
}

// Notify stores and pushes a notification unless the user already has one for trigger today.
// It never fails the caller: store and push errors are logged and reported as created=false.
func (d *Dispatcher) Notify(ctx context.Context, userID uint, trigger models.NotificationTrigger, payload interface{}, at time.Time) (created bool) {
	body, err := json.Marshal(payload)
	if err != nil {
		d.log.Warnw("notification payload not serializable", "user_id", userID, "trigger", trigger, "error", err)
		return false
	}
	n := d.newNotification(userID, trigger, body, at)
	res := d.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&n)
	if res.Error != nil {
		d.log.Warnw("notification dropped", "user_id", userID, "trigger", trigger, "error", res.Error)
		return false
	}
	if res.RowsAffected == 0 {
		d.log.Debugw("notification deduplicated", "user_id", userID, "trigger", trigger, "day", n.Day)
		return false
	}
	d.push(ctx, n, at)
	return true
}

// BadgeNote is one badge inside a badge_awarded notification.
type BadgeNote struct {
	BadgeID  string `json:"badge_id"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Rarity   string `json:"rarity"`
}

// BadgePayload is the payload of a badge_awarded notification.
type BadgePayload struct {
	Badges []BadgeNote `json:"badges"`
}

// merge appends notes not already listed and reports whether anything was added.
func (p *BadgePayload) merge(notes []BadgeNote) bool {
	seen := make(map[string]bool, len(p.Badges))
	for _, b := range p.Badges {
		seen[b.BadgeID] = true
	}
	added := false
	for _, b := range notes {
		if !seen[b.BadgeID] {
			seen[b.BadgeID] = true
			p.Badges = append(p.Badges, b)
			added = true
		}
	}
	return added
}

// NotifyBadges reports awarded badges in the user's single badge_awarded notification for the
// day. The first award of a day creates it; later awards are appended to its payload and mark
// it unread again. It reports whether a notification was created or changed.
func (d *Dispatcher) NotifyBadges(ctx context.Context, userID uint, badges []models.Badge, at time.Time) (changed bool) {
	if len(badges) == 0 {
		return false
	}
	notes := make([]BadgeNote, 0, len(badges))
	for _, b := range badges {
		notes = append(notes, BadgeNote{BadgeID: b.ID, Name: b.Name, Category: b.Category, Rarity: b.Rarity})
	}

	var n models.Notification
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var fresh BadgePayload
		fresh.merge(notes)
		body, err := json.Marshal(fresh)
		if err != nil {
			return err
		}
		n = d.newNotification(userID, models.TriggerBadgeAwarded, body, at)
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&n)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 1 {
			changed = true
			return nil
		}

		var existing models.Notification
		err = forUpdate(tx).
			Where("user_id = ? AND trigger_type = ? AND day = ?", userID, models.TriggerBadgeAwarded, n.Day).
			Take(&existing).Error
		if err != nil {
			return err
		}
		var stored BadgePayload
		if len(existing.Payload) > 0 {
			if err := json.Unmarshal(existing.Payload, &stored); err != nil {
				d.log.Warnw("stored badge notification unreadable, replacing", "id", existing.ID, "error", err)
				stored = BadgePayload{}
			}
		}
		if !stored.merge(notes) {
			return nil
		}
		body, err = json.Marshal(stored)
		if err != nil {
			return err
		}
		err = tx.Model(&models.Notification{}).Where("id = ?", existing.ID).
			UpdateColumns(map[string]interface{}{"payload": datatypes.JSON(body), "read_at": nil}).Error
		if err != nil {
			return err
		}
		existing.Payload, existing.ReadAt = datatypes.JSON(body), nil
		n, changed = existing, true
		return nil
	})
	if err != nil {
		d.log.Warnw("badge notification dropped", "user_id", userID, "error", err)
		return false
	}
	if changed {
		d.push(ctx, n, at)
	}
	return changed
}

func (d *Dispatcher) newNotification(userID uint, trigger models.NotificationTrigger, body []byte, at time.Time) models.Notification {
	return models.Notification{
		ID:        uuid.NewString(),
		UserID:    userID,
		Trigger:   trigger,
		Day:       at.In(d.loc).Format(models.DateLayout),
		Payload:   datatypes.JSON(body),
		CreatedAt: at,
	}
}

func (d *Dispatcher) push(ctx context.Context, n models.Notification, at time.Time) {
	msg := Message{Type: MessageNotification, UserID: n.UserID, Payload: n, At: at}
	if err := d.pub.Publish(ctx, msg); err != nil {
		d.log.Warnw("notification push failed", "user_id", n.UserID, "id", n.ID, "error", err)
	}
}

// List returns the user's notifications, newest first.
func (d *Dispatcher) List(ctx context.Context, userID uint, unreadOnly bool, limit int) ([]models.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	q := d.db.WithContext(ctx).Where("user_id = ?", userID)
	if unreadOnly {
		q = q.Where("read_at IS NULL")
	}
	var out []models.Notification
	if err := q.Order("created_at DESC").Order("id ASC").Limit(limit).Find(&out).Error; err != nil {
		return nil, storeErr("list notifications", err)
	}
	return out, nil
}

// MarkRead sets read_at once. Marking an already read notification is a no-op.
func (d *Dispatcher) MarkRead(ctx context.Context, userID uint, id string, at time.Time) error {
	tx := d.db.WithContext(ctx)
	res := tx.Model(&models.Notification{}).
		Where("id = ? AND user_id = ? AND read_at IS NULL", id, userID).
		UpdateColumn("read_at", at)
	if res.Error != nil {
		return storeErr("mark notification read", res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}
	var n models.Notification
	err := tx.Select("id").Where("id = ? AND user_id = ?", id, userID).Take(&n).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFoundf("notification %q", id)
	}
	return storeErr("load notification", err)
}
