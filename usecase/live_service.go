package usecase

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/satriahrh/sahayak/domain/entities"
)

// LiveController is the session lifecycle the service drives.
// *live.Manager satisfies it.
type LiveController interface {
	Start(ctx context.Context) error
	Stop()
	ToggleMute() (bool, error)
	SelectCredential(ctx context.Context, key string) error
	SetProfile(p entities.Profile) error
	Profile() entities.Profile
	Snapshot() entities.LiveSnapshot
}

// LiveService is the command facade used by the UI surfaces
type LiveService struct {
	controller LiveController
	logger     *zap.Logger
}

// NewLiveService creates a new live service
func NewLiveService(controller LiveController, logger *zap.Logger) *LiveService {
	return &LiveService{controller: controller, logger: logger}
}

// Start starts a session for userName. A non-empty name replaces the one in
// the current profile. The session outlives ctx; use Stop to cancel it.
func (s *LiveService) Start(ctx context.Context, userName string) (entities.LiveSnapshot, error) {
	if name := strings.TrimSpace(userName); name != "" {
		profile := s.controller.Profile()
		profile.UserName = name
		if err := s.controller.SetProfile(profile); err != nil {
			return s.controller.Snapshot(), err
		}
	}

	s.logger.Info("Starting live session", zap.String("userName", s.controller.Profile().UserName))
	err := s.controller.Start(context.WithoutCancel(ctx))
	return s.controller.Snapshot(), err
}

// Stop ends the current session, if any
func (s *LiveService) Stop() entities.LiveSnapshot {
	s.controller.Stop()
	s.logger.Info("Live session stopped")
	return s.controller.Snapshot()
}

// ToggleMute flips the microphone mute flag of the connected session
func (s *LiveService) ToggleMute() (bool, error) {
	return s.controller.ToggleMute()
}

// SelectCredential stores key as the override and restarts the session.
func (s *LiveService) SelectCredential(ctx context.Context, key string) (entities.LiveSnapshot, error) {
	err := s.controller.SelectCredential(context.WithoutCancel(ctx), key)
	return s.controller.Snapshot(), err
}

// SetVoice changes the voice used by the next session
func (s *LiveService) SetVoice(voice string) (entities.Profile, error) {
	profile := s.controller.Profile()
	profile.Voice = voice
	if err := s.controller.SetProfile(profile); err != nil {
		return s.controller.Profile(), err
	}
	return s.controller.Profile(), nil
}

// SetUserName records the name the persona addresses in the next session
func (s *LiveService) SetUserName(name string) (entities.Profile, error) {
	profile := s.controller.Profile()
	profile.UserName = name
	if err := s.controller.SetProfile(profile); err != nil {
		return s.controller.Profile(), err
	}
	return s.controller.Profile(), nil
}

// Profile returns the profile used for new sessions
func (s *LiveService) Profile() entities.Profile {
	return s.controller.Profile()
}

// Snapshot returns the current state
func (s *LiveService) Snapshot() entities.LiveSnapshot {
	return s.controller.Snapshot()
}
