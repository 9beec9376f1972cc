package notifier

import (
	"time"

	"safetysec-engine/internal/models"
)

// BuildNotifications 每条已激活的报警（即每个监护人）生成一条通知
// 没有位置时经纬度为 0/0，没有录像时 VideoRef 为空字符串
func BuildNotifications(alerts []models.Alert, protectedName string, now time.Time, newID func() string) []models.Notification {
	out := make([]models.Notification, 0, len(alerts))
	for _, a := range alerts {
		n := models.Notification{
			ID:            newID(),
			Type:          models.NotificationTypeAlert,
			MonitorID:     a.MonitorID,
			AlertID:       a.ID,
			ProtectedID:   a.ProtectedID,
			ProtectedName: protectedName,
			AlertType:     a.Type,
			Timestamp:     now,
			Unread:        true,
		}
		if a.Location != nil {
			n.Latitude = a.Location.Latitude
			n.Longitude = a.Location.Longitude
		}
		if a.VideoRef != nil {
			n.VideoRef = *a.VideoRef
		}
		out = append(out, n)
	}
	return out
}
