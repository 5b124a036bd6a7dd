package kvstore

import (
	"context"

	"github.com/pglocator/pglocator/internal/app/domain/notification"
	"github.com/pglocator/pglocator/internal/app/storage"
)

func (s *Store) PushNotification(ctx context.Context, n notification.Notification, limit int) error {
	_, err := updateDoc(ctx, s.kv, prefixNotifications+n.UserID, false, func(list *[]notification.Notification) error {
		next := make([]notification.Notification, 0, len(*list)+1)
		next = append(next, n)
		next = append(next, *list...)
		if limit > 0 && len(next) > limit {
			next = next[:limit]
		}
		*list = next
		return nil
	})
	return err
}

func (s *Store) ListNotifications(ctx context.Context, userID string) ([]notification.Notification, error) {
	out, err := getDoc[[]notification.Notification](ctx, s.kv, prefixNotifications+userID)
	if isNotFound(err) || (err == nil && out == nil) {
		return []notification.Notification{}, nil
	}
	return out, err
}

func (s *Store) MarkNotificationRead(ctx context.Context, userID, id string) (notification.Notification, error) {
	var marked notification.Notification
	_, err := updateDoc(ctx, s.kv, prefixNotifications+userID, true, func(list *[]notification.Notification) error {
		for i := range *list {
			if (*list)[i].ID == id {
				(*list)[i].Read = true
				marked = (*list)[i]
				return nil
			}
		}
		return storage.ErrNotFound
	})
	return marked, err
}

func (s *Store) MarkAllNotificationsRead(ctx context.Context, userID string) (int, error) {
	count := 0
	_, err := updateDoc(ctx, s.kv, prefixNotifications+userID, false, func(list *[]notification.Notification) error {
		count = 0
		for i := range *list {
			if !(*list)[i].Read {
				(*list)[i].Read = true
				count++
			}
		}
		return nil
	})
	return count, err
}
