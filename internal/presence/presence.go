package presence

import (
	"chatcord-backend/internal/hub"
	"chatcord-backend/internal/models"
	"chatcord-backend/internal/store"
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Publisher is the part of the hub presence needs.
type Publisher interface {
	Emit(ctx context.Context, eventType string, topic string, payload any) error
}

// Service writes user status and tells everyone who can see the user.
type Service struct {
	sugar *zap.SugaredLogger
	store *store.Store
	pub   Publisher
	ttl   time.Duration

	now    func() time.Time
	quartz *cron.Cron
}

// New returns a presence service. A zero ttl disables expiry of stale users.
func New(sugar *zap.SugaredLogger, st *store.Store, pub Publisher, ttl time.Duration) *Service {
	return &Service{
		sugar: sugar,
		store: st,
		pub:   pub,
		ttl:   ttl,
		now:   time.Now,
	}
}

// Update sets the status of userID. A nil statusMessage keeps the current one.
func (s *Service) Update(ctx context.Context, userID string, status models.UserStatus, channelID int64, statusMessage *string) (models.Presence, error) {
	p, err := s.store.UpdatePresence(ctx, userID, status, channelID, statusMessage)
	if err != nil {
		return p, err
	}

	s.broadcast(ctx, p)
	return p, nil
}

// Connected marks a user online when their first session opens, unless they
// already chose another status.
func (s *Service) Connected(userID string) {
	ctx := context.Background()

	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		s.sugar.Error(err)
		return
	}

	if u.Status != models.StatusOffline {
		if err := s.store.TouchPresence(ctx, userID); err != nil {
			s.sugar.Error(err)
		}
		return
	}

	if _, err := s.Update(ctx, userID, models.StatusOnline, 0, nil); err != nil {
		s.sugar.Error(err)
	}
}

// Disconnected marks a user offline once their last session closed.
func (s *Service) Disconnected(userID string) {
	if _, err := s.Update(context.Background(), userID, models.StatusOffline, 0, nil); err != nil {
		s.sugar.Error(err)
	}
}

func (s *Service) Heartbeat(userID string) {
	if err := s.store.TouchPresence(context.Background(), userID); err != nil {
		s.sugar.Error(err)
	}
}

// Sweep sets users not seen within the ttl offline.
func (s *Service) Sweep(ctx context.Context) ([]string, error) {
	cutoff := s.now().Add(-s.ttl)

	expired, err := s.store.ExpirePresence(ctx, cutoff)
	if err != nil {
		return nil, err
	}

	for _, userID := range expired {
		p, err := s.store.GetPresence(ctx, userID)
		if err != nil {
			s.sugar.Error(err)
			continue
		}
		s.broadcast(ctx, p)
	}

	if len(expired) > 0 {
		s.sugar.Infof("Presence of %d users expired", len(expired))
	}
	return expired, nil
}

// Start runs the sweep every minute when a ttl is set.
func (s *Service) Start() error {
	if s.ttl <= 0 {
		s.sugar.Debug("Presence expiry is disabled")
		return nil
	}

	s.quartz = cron.New(cron.WithLogger(cron.PrintfLogger(zap.NewStdLog(s.sugar.Desugar()))))
	_, err := s.quartz.AddFunc("@every 1m", func() {
		if _, err := s.Sweep(context.Background()); err != nil {
			s.sugar.Error(err)
		}
	})
	if err != nil {
		return err
	}

	s.quartz.Start()
	return nil
}

// Stop waits for a running sweep to finish.
func (s *Service) Stop() {
	if s.quartz == nil {
		return
	}
	<-s.quartz.Stop().Done()
}

func (s *Service) broadcast(ctx context.Context, p models.Presence) {
	if err := s.pub.Emit(ctx, hub.PresenceChanged, hub.Topic(hub.KindPresence, ""), p); err != nil {
		s.sugar.Error(err)
	}

	serverIDs, err := s.store.ServerIDsOf(ctx, p.UserID)
	if err != nil {
		s.sugar.Error(err)
		return
	}
	for _, serverID := range serverIDs {
		err := s.pub.Emit(ctx, hub.MemberStatus, hub.Topic(hub.KindServer, fmt.Sprint(serverID)), p)
		if err != nil {
			s.sugar.Error(err)
		}
	}
}
