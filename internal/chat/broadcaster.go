package chat

import (
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/alis2001/chat-service/internal/log"
	"github.com/alis2001/chat-service/internal/metrics"
	"github.com/alis2001/chat-service/internal/protocol"
	"github.com/alis2001/chat-service/internal/session"
)

// BroadcastResult counts the recipients of one broadcast.
type BroadcastResult struct {
	Eligible  int
	Delivered int
}

// Broadcaster fans a payload out to the sessions of a room.
type Broadcaster struct {
	registry *session.Registry
	logger   *zap.Logger
}

func NewBroadcaster(registry *session.Registry) *Broadcaster {
	return &Broadcaster{
		registry: registry,
		logger:   log.With(log.FieldComponent("broadcaster")),
	}
}

// Broadcast writes payload to every authenticated session in roomID whose
// user is not excludeUserID. A recipient whose write fails is closed and
// skipped; its own read loop tears it down.
func (b *Broadcaster) Broadcast(roomID string, payload []byte, excludeUserID string) BroadcastResult {
	recipients := lo.Filter(b.registry.SnapshotByRoom(roomID), func(s *session.Session, _ int) bool {
		return s.IsAuthenticated() && s.UserID() != excludeUserID
	})

	res := BroadcastResult{Eligible: len(recipients)}
	for _, s := range recipients {
		if err := s.Send(payload); err != nil {
			metrics.BroadcastDeliveries.WithLabelValues(metrics.ResultFailed).Inc()
			b.logger.Warn("broadcast write failed",
				log.FieldRoom(roomID),
				log.FieldSession(s.ID()),
				zap.Error(err))
			_ = s.Close()
			continue
		}
		metrics.BroadcastDeliveries.WithLabelValues(metrics.ResultDelivered).Inc()
		res.Delivered++
	}
	return res
}

// BroadcastEnvelope encodes v and broadcasts it.
func (b *Broadcaster) BroadcastEnvelope(roomID string, v any, excludeUserID string) BroadcastResult {
	payload, err := protocol.Encode(v)
	if err != nil {
		b.logger.Error("encode broadcast envelope", log.FieldRoom(roomID), zap.Error(err))
		return BroadcastResult{}
	}
	return b.Broadcast(roomID, payload, excludeUserID)
}
