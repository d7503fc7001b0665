package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/bradb345/t3test-sub001/internal/mailer"
)

var ErrNotFound = errors.New("notification not found")

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Service is the in-app notification feed with an optional email copy.
type Service struct {
	db     *gorm.DB
	mail   mailer.Service
	logger *slog.Logger
	now    func() time.Time
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db, logger: slog.Default(), now: time.Now}
}

func (s *Service) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// SetMailer enables email delivery alongside the feed entry.
func (s *Service) SetMailer(m mailer.Service) {
	s.mail = m
}

// Notify stores the notification and emails the user when a mailer is set.
// Email failures are logged; the feed entry is what callers rely on.
func (s *Service) Notify(ctx context.Context, userID, typ, message string, data map[string]any) error {
	var raw datatypes.JSON
	if len(data) > 0 {
		b, err := json.Marshal(data)
		if err != nil {
			return err
		}
		raw = datatypes.JSON(b)
	}

	n := Notification{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      typ,
		Message:   message,
		Data:      raw,
		CreatedAt: s.now(),
	}
	if err := s.db.WithContext(ctx).Create(&n).Error; err != nil {
		return err
	}

	if s.mail != nil {
		s.sendEmail(ctx, n)
	}
	return nil
}

type ListOptions struct {
	UnreadOnly bool
	Limit      int
	Before     *time.Time
}

func (s *Service) List(ctx context.Context, userID string, opt ListOptions) ([]Notification, error) {
	limit := opt.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	q := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if opt.UnreadOnly {
		q = q.Where("read_at IS NULL")
	}
	if opt.Before != nil {
		q = q.Where("created_at < ?", *opt.Before)
	}

	var out []Notification
	err := q.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&out).Error
	return out, err
}

func (s *Service) UnreadCount(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Notification{}).
		Where("user_id = ? AND read_at IS NULL", userID).
		Count(&n).Error
	return n, err
}

// MarkRead is idempotent; a notification owned by someone else is not found.
func (s *Service) MarkRead(ctx context.Context, userID, id string) error {
	res := s.db.WithContext(ctx).Model(&Notification{}).
		Where("id = ? AND user_id = ? AND read_at IS NULL", id, userID).
		Update("read_at", s.now())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&Notification{}).
		Where("id = ? AND user_id = ?", id, userID).
		Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Service) sendEmail(ctx context.Context, n Notification) {
	var u recipient
	err := s.db.WithContext(ctx).Select("id", "email", "first_name").First(&u, "id = ?", n.UserID).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.WarnContext(ctx, "notification email: user lookup failed", "user_id", n.UserID, "err", err)
		}
		return
	}
	if u.Email == "" {
		return
	}

	name := ""
	if u.FirstName != nil {
		name = *u.FirstName
	}
	e := renderEmail(n, name)
	e.To = []string{u.Email}
	if err := s.mail.Send(ctx, e); err != nil {
		s.logger.WarnContext(ctx, "notification email failed", "user_id", n.UserID, "type", n.Type, "err", err)
		return
	}
	s.logger.InfoContext(ctx, "notification email sent", "user_id", n.UserID, "type", n.Type)
}
