package notifications

import (
	"context"
	"errors"
	"time"

	"github.com/pglocator/pglocator/internal/app/domain/notification"
	"github.com/pglocator/pglocator/internal/app/storage"
	svcerrors "github.com/pglocator/pglocator/internal/errors"
	"github.com/pglocator/pglocator/internal/logging"
)

// DefaultLimit caps the number of notifications kept per user.
const DefaultLimit = 100

// Service manages user inboxes.
type Service struct {
	store storage.NotificationStore
	limit int
	log   *logging.Logger
	now   func() time.Time
}

// New constructs a notification service. A non-positive limit uses DefaultLimit.
func New(store storage.NotificationStore, limit int, log *logging.Logger) *Service {
	if log == nil {
		log = logging.NewDefault("notifications")
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Service{store: store, limit: limit, log: log, now: time.Now}
}

// Notify stores n as an unread notification at the top of the user's inbox.
func (s *Service) Notify(ctx context.Context, n notification.Notification) error {
	if n.UserID == "" {
		return svcerrors.BadRequest("notification has no recipient")
	}
	if n.ID == "" {
		n.ID = notification.NewID()
	}
	if n.Type == "" {
		n.Type = notification.TypeBooking
	}
	n.Read = false
	n.CreatedAt = s.now().UTC()
	if err := s.store.PushNotification(ctx, n, s.limit); err != nil {
		return err
	}
	s.log.WithContext(ctx).WithField("recipient", n.UserID).Debugf("notification %s queued", n.ID)
	return nil
}

// List returns the user's notifications, newest first.
func (s *Service) List(ctx context.Context, userID string) ([]notification.Notification, error) {
	return s.store.ListNotifications(ctx, userID)
}

// MarkRead flags one notification as read.
func (s *Service) MarkRead(ctx context.Context, userID, id string) (notification.Notification, error) {
	n, err := s.store.MarkNotificationRead(ctx, userID, id)
	if errors.Is(err, storage.ErrNotFound) {
		return notification.Notification{}, svcerrors.NotFound("Notification not found")
	}
	return n, err
}

// MarkAllRead flags every notification as read and reports how many changed.
func (s *Service) MarkAllRead(ctx context.Context, userID string) (int, error) {
	return s.store.MarkAllNotificationsRead(ctx, userID)
}
